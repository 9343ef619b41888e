// Package events carries conversation events from the service layer to
// every delivery channel, so both fan-outs start from one emission.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// Handler consumes one event. Handlers must not block for long.
type Handler func(ctx context.Context, evt *model.ConversationEvent)

// Bus publishes conversation events to subscribed handlers.
type Bus interface {
	Publish(ctx context.Context, evt *model.ConversationEvent) error
	Subscribe(name string, h Handler) (unsubscribe func(), err error)
}

// LocalBus dispatches events synchronously, in process, to every handler
// in subscription order. Best effort: a panicking handler is logged and
// does not stop delivery to the others.
type LocalBus struct {
	logger *logger.Logger

	mu       sync.RWMutex
	handlers []subscription
}

type subscription struct {
	id      string
	name    string
	handler Handler
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates an empty in-process bus.
func NewLocalBus(log *logger.Logger) *LocalBus {
	return &LocalBus{logger: log}
}

func (b *LocalBus) Publish(ctx context.Context, evt *model.ConversationEvent) error {
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.dispatch(ctx, s, evt)
	}
	metrics.BusEventsTotal.WithLabelValues(string(evt.Type), "ok").Inc()
	return nil
}

func (b *LocalBus) dispatch(ctx context.Context, s subscription, evt *model.ConversationEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("handler", s.name),
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(ctx, evt)
}

func (b *LocalBus) Subscribe(name string, h Handler) (func(), error) {
	id := uuid.NewString()

	b.mu.Lock()
	b.handlers = append(b.handlers, subscription{id: id, name: name, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}, nil
}
