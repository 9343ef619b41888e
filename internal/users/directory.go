// Package users adapts the user-profile collaborator the conversation
// service reads public profiles from and forwards profile updates to.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
)

// Directory resolves and updates user profiles.
type Directory interface {
	// FindUser returns the public profile of id, or a NOT_FOUND error.
	FindUser(ctx context.Context, id string) (*model.PublicProfile, error)

	// UpdateLocation stores the user's last known position.
	UpdateLocation(ctx context.Context, id string, longitude, latitude float64) error

	// SetAvailability toggles a sitter's availability. An empty message
	// leaves the previous availability message untouched.
	SetAvailability(ctx context.Context, id string, available bool, message string) error
}

// MemoryDirectory is an in-process Directory used by tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]model.PublicProfile
	state    map[string]*profileState
}

type profileState struct {
	location            *model.Location
	available           bool
	availabilityMessage string
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a directory holding the given profiles.
func NewMemoryDirectory(profiles ...model.PublicProfile) *MemoryDirectory {
	d := &MemoryDirectory{
		profiles: make(map[string]model.PublicProfile),
		state:    make(map[string]*profileState),
	}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

// LoadMemoryDirectory reads a JSON array of public profiles from path.
func LoadMemoryDirectory(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	var profiles []model.PublicProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	for _, p := range profiles {
		if !model.ValidUserID(p.ID) {
			return nil, fmt.Errorf("invalid user id %q in users file", p.ID)
		}
	}
	return NewMemoryDirectory(profiles...), nil
}

// Put adds or replaces a profile.
func (d *MemoryDirectory) Put(p model.PublicProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
	if _, ok := d.state[p.ID]; !ok {
		d.state[p.ID] = &profileState{}
	}
}

// Remove deletes a profile.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, id)
	delete(d.state, id)
}

func (d *MemoryDirectory) FindUser(_ context.Context, id string) (*model.PublicProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &p, nil
}

func (d *MemoryDirectory) UpdateLocation(_ context.Context, id string, longitude, latitude float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[id]
	if !ok {
		return apperr.NotFound("user")
	}
	st.location = &model.Location{Coordinates: [2]float64{longitude, latitude}}
	return nil
}

func (d *MemoryDirectory) SetAvailability(_ context.Context, id string, available bool, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.state[id]
	if !ok {
		return apperr.NotFound("user")
	}
	st.available = available
	if message != "" {
		st.availabilityMessage = message
	}
	return nil
}

// Location returns the last stored location of id.
func (d *MemoryDirectory) Location(id string) (model.Location, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.state[id]
	if !ok || st.location == nil {
		return model.Location{}, false
	}
	return *st.location, true
}

// Availability returns the stored availability of id.
func (d *MemoryDirectory) Availability(id string) (bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.state[id]
	if !ok {
		return false, ""
	}
	return st.available, st.availabilityMessage
}
