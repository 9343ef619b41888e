package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

const (
	// StreamName is the JetStream stream recording every conversation event.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all conversation event subjects.
	SubjectPrefix = "chat"
)

// EventSubject returns the subject an event type is published on.
func EventSubject(eventType model.EventType) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, eventType)
}

// Bus publishes conversation events through JetStream and delivers them to
// every API instance over core NATS subscriptions, so rooms and SSE
// subscribers on any instance see events produced on any other.
type Bus struct {
	client *Client
}

var _ events.Bus = (*Bus)(nil)

// NewBus creates a bus on client.
func NewBus(client *Client) *Bus {
	return &Bus{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (b *Bus) EnsureStream(ctx context.Context) error {
	js := b.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation events (message appended, messages read)",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Publish records the event in the stream; the stream publish also reaches
// core subscribers on the same subject.
func (b *Bus) Publish(ctx context.Context, evt *model.ConversationEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = b.client.JetStream().Publish(ctx, EventSubject(evt.Type), data, jetstream.WithMsgID(evt.ID))
	if err != nil {
		metrics.BusEventsTotal.WithLabelValues(string(evt.Type), "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.BusEventsTotal.WithLabelValues(string(evt.Type), "ok").Inc()
	return nil
}

// Subscribe delivers every event published on any instance to h.
func (b *Bus) Subscribe(name string, h events.Handler) (func(), error) {
	log := b.client.logger.With(zap.String("subscriber", name))

	sub, err := b.client.Conn().Subscribe(fmt.Sprintf("%s.>", SubjectPrefix), func(msg *nats.Msg) {
		var evt model.ConversationEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		h(context.Background(), &evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug("unsubscribe failed", zap.Error(err))
		}
	}, nil
}
