// Package subscription fans conversation events out to pull-channel
// subscribers, each filtered server side.
package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// Filter selects the messages a subscriber receives. Exactly one field is set.
type Filter struct {
	// ReceiverID matches messages addressed to this user.
	ReceiverID string
	// ConversationID matches every new message of this conversation.
	ConversationID string
}

// ForReceiver returns the filter for "message received for me".
func ForReceiver(userID string) Filter {
	return Filter{ReceiverID: userID}
}

// ForConversation returns the filter for "new message in conversation X".
func ForConversation(conversationID string) Filter {
	return Filter{ConversationID: conversationID}
}

// Matches reports whether evt is addressed to this filter.
func (f Filter) Matches(evt *model.ConversationEvent) bool {
	if evt.Type != model.EventTypeMessageAppended || evt.Message == nil {
		return false
	}
	switch {
	case f.ReceiverID != "":
		return evt.Message.ReceiverID == f.ReceiverID
	case f.ConversationID != "":
		return evt.ConversationID == f.ConversationID
	default:
		return false
	}
}

// Subscription is one live subscriber.
type Subscription struct {
	id     string
	filter Filter
	events chan *model.PopulatedMessage

	dropped   chan struct{}
	closeOnce sync.Once
}

// Events delivers matching messages in publish order.
func (s *Subscription) Events() <-chan *model.PopulatedMessage {
	return s.events
}

// Dropped is closed when the subscriber fell too far behind and was cut off.
func (s *Subscription) Dropped() <-chan struct{} {
	return s.dropped
}

func (s *Subscription) drop() {
	s.closeOnce.Do(func() { close(s.dropped) })
}

// Broker routes bus events to subscriptions.
type Broker struct {
	bus    events.Bus
	buffer int
	logger *logger.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription

	unsubscribe func()
}

// NewBroker creates a broker whose subscribers buffer up to buffer messages.
func NewBroker(bus events.Bus, buffer int, log *logger.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		bus:    bus,
		buffer: buffer,
		logger: log.Named("subscription"),
		subs:   make(map[string]*Subscription),
	}
}

// Start subscribes the broker to the event bus.
func (b *Broker) Start() error {
	unsubscribe, err := b.bus.Subscribe("subscription", b.HandleEvent)
	if err != nil {
		return err
	}
	b.unsubscribe = unsubscribe
	return nil
}

// Close unsubscribes from the bus and drops every subscriber.
func (b *Broker) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}

	b.mu.Lock()
	subs := lo.Values(b.subs)
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.drop()
	}
}

// Subscribe registers a subscriber. The returned function removes it.
func (b *Broker) Subscribe(filter Filter) (*Subscription, func()) {
	s := &Subscription{
		id:      uuid.NewString(),
		filter:  filter,
		events:  make(chan *model.PopulatedMessage, b.buffer),
		dropped: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	return s, func() { b.remove(s) }
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
}

// HandleEvent delivers evt to every matching subscriber. A subscriber
// whose buffer is full is dropped rather than blocking the bus.
func (b *Broker) HandleEvent(_ context.Context, evt *model.ConversationEvent) {
	b.mu.RLock()
	matched := lo.Filter(lo.Values(b.subs), func(s *Subscription, _ int) bool {
		return s.filter.Matches(evt)
	})
	b.mu.RUnlock()

	for _, s := range matched {
		select {
		case s.events <- evt.Message:
		default:
			b.logger.Warn("subscriber lagging, dropping",
				zap.String("subscription_id", s.id),
				zap.String("conversation_id", evt.ConversationID),
			)
			b.remove(s)
			s.drop()
		}
	}
}

// Count returns the number of live subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
