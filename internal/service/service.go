// Package service implements the conversation operations shared by the push
// and pull delivery channels.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

var tracer = otel.Tracer("github.com/pawpal/conversation-service/internal/service")

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.PublicMessage(err))
	}
	span.End()
}

// observeStore records the latency of a store call started at start.
func observeStore(operation string, start time.Time, err error) {
	metrics.RecordStoreOperation(operation, err, time.Since(start).Seconds())
}

// profiles resolves public profiles once per id for the lifetime of one call.
type profiles struct {
	directory users.Directory
	logger    *logger.Logger
	cache     map[string]*model.PublicProfile
}

func newProfiles(directory users.Directory, log *logger.Logger) *profiles {
	return &profiles{
		directory: directory,
		logger:    log,
		cache:     make(map[string]*model.PublicProfile),
	}
}

// get returns the profile of id, or nil when the user no longer exists.
// Directory failures are returned as INTERNAL and not cached.
func (p *profiles) get(ctx context.Context, id string) (*model.PublicProfile, error) {
	if profile, ok := p.cache[id]; ok {
		return profile, nil
	}

	profile, err := p.directory.FindUser(ctx, id)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			p.logger.Warn("profile lookup failed", zap.String("user_id", id), zap.Error(err))
			return nil, apperr.Internal("failed to look up user", err)
		}
		profile = nil
	}
	p.cache[id] = profile
	return profile, nil
}

func (p *profiles) populate(ctx context.Context, msg model.Message) (model.PopulatedMessage, error) {
	sender, err := p.get(ctx, msg.SenderID)
	if err != nil {
		return model.PopulatedMessage{}, err
	}
	receiver, err := p.get(ctx, msg.ReceiverID)
	if err != nil {
		return model.PopulatedMessage{}, err
	}
	return model.PopulatedMessage{Message: msg, Sender: sender, Receiver: receiver}, nil
}
