// Package presence tracks which users currently hold a live push connection.
package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/pawpal/conversation-service/pkg/metrics"
)

// Registry maps a user id to the handle of its current connection. The last
// connection registered for a user wins. State is process-local.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Register records handle as the current connection of userID and returns
// the handle it replaced, if any.
func (r *Registry) Register(userID, handle string) (string, bool) {
	r.mu.Lock()
	previous, existed := r.entries[userID]
	r.entries[userID] = handle
	count := len(r.entries)
	r.mu.Unlock()

	metrics.UsersOnline.Set(float64(count))
	return previous, existed
}

// Unregister removes userID only while handle is still its current
// connection. It reports whether the entry was removed.
func (r *Registry) Unregister(userID, handle string) bool {
	r.mu.Lock()
	current, ok := r.entries[userID]
	removed := ok && current == handle
	if removed {
		delete(r.entries, userID)
	}
	count := len(r.entries)
	r.mu.Unlock()

	metrics.UsersOnline.Set(float64(count))
	return removed
}

// Lookup returns the current connection handle of userID.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handle, ok := r.entries[userID]
	return handle, ok
}

// IsOnline reports whether userID has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// ListOnline returns the ids of all online users in ascending order.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	ids := lo.Keys(r.entries)
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
