package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// sendInput is a send request after trimming, ready for validation.
type sendInput struct {
	SenderID   string `validate:"required,excludes=_"`
	ReceiverID string `validate:"required,excludes=_,nefield=SenderID"`
	Content    string `validate:"required,max=2000"`
}

// MessageService handles message operations.
type MessageService struct {
	store     store.MessageStore
	directory users.Directory
	bus       events.Bus
	validate  *validator.Validate
	logger    *logger.Logger
	now       func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(
	messageStore store.MessageStore,
	directory users.Directory,
	bus events.Bus,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:     messageStore,
		directory: directory,
		bus:       bus,
		validate:  validator.New(),
		logger:    log.Named("messages"),
		now:       time.Now,
	}
}

// Send validates and persists a message from senderID, then announces it on
// the event bus. channel labels which delivery surface sent it.
func (s *MessageService) Send(ctx context.Context, senderID string, req *model.SendMessageRequest, channel string) (msg *model.PopulatedMessage, err error) {
	ctx, span := tracer.Start(ctx, "MessageService.Send")
	span.SetAttributes(
		attribute.String("sender_id", senderID),
		attribute.String("channel", channel),
	)
	defer func() { endSpan(span, err) }()

	input := sendInput{
		SenderID:   senderID,
		ReceiverID: strings.TrimSpace(req.ReceiverID),
		Content:    strings.TrimSpace(req.Content),
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, validationError(err)
	}

	// Both profiles are resolved before the write so a populated message
	// never needs a second lookup.
	resolver := newProfiles(s.directory, s.logger)
	receiver, err := resolver.get(ctx, input.ReceiverID)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, apperr.NotFound("receiver")
	}
	if _, err := resolver.get(ctx, input.SenderID); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	conversationID := model.ConversationIDFor(input.SenderID, input.ReceiverID)
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	stored, err := s.store.Append(ctx, store.NewMessage{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       input.SenderID,
		ReceiverID:     input.ReceiverID,
		Content:        input.Content,
		CreatedAt:      now,
	})
	observeStore("append", start, err)
	if err != nil {
		return nil, apperr.Internal("failed to save message", err)
	}

	metrics.MessagesTotal.WithLabelValues(channel).Inc()

	populated, err := resolver.populate(ctx, *stored)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           model.EventTypeMessageAppended,
		ConversationID: conversationID,
		ActorID:        input.SenderID,
		Message:        &populated,
		CreatedAt:      now,
	})

	s.logger.Debug("message sent",
		zap.String("message_id", stored.ID),
		zap.String("conversation_id", conversationID),
		zap.String("channel", channel),
	)

	return &populated, nil
}

// List returns one page of the conversation between callerID and
// counterpartID, oldest message first.
func (s *MessageService) List(ctx context.Context, callerID, counterpartID string, limit, offset int) (resp *model.ListMessagesResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessageService.List")
	defer func() { endSpan(span, err) }()

	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, apperr.Validation("userId is required")
	}
	if !model.ValidUserID(counterpartID) {
		return nil, apperr.Validation("userId is not a valid user id")
	}
	limit, offset = store.NormalizePage(limit, offset)
	conversationID := model.ConversationIDFor(callerID, counterpartID)
	span.SetAttributes(attribute.String("conversation_id", conversationID))

	start := time.Now()
	messages, err := s.store.ListByConversation(ctx, conversationID, limit, offset)
	observeStore("list_by_conversation", start, err)
	if err != nil {
		return nil, apperr.Internal("failed to list messages", err)
	}

	resolver := newProfiles(s.directory, s.logger)
	populated := make([]model.PopulatedMessage, 0, len(messages))
	for _, m := range messages {
		pm, err := resolver.populate(ctx, m)
		if err != nil {
			return nil, err
		}
		populated = append(populated, pm)
	}

	return &model.ListMessagesResponse{
		ConversationID: conversationID,
		Messages:       populated,
		Limit:          limit,
		Offset:         offset,
	}, nil
}

// UnreadCount counts the unread messages addressed to userID.
func (s *MessageService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	count, err := s.store.CountUnread(ctx, userID)
	observeStore("count_unread", start, err)
	if err != nil {
		return 0, apperr.Internal("failed to count unread messages", err)
	}
	return count, nil
}

// MarkRead marks every message of conversationID addressed to callerID as
// read and announces the change. Repeating the call is harmless.
func (s *MessageService) MarkRead(ctx context.Context, callerID, conversationID, channel string) (resp *model.MarkReadResponse, err error) {
	ctx, span := tracer.Start(ctx, "MessageService.MarkRead")
	span.SetAttributes(
		attribute.String("conversation_id", conversationID),
		attribute.String("channel", channel),
	)
	defer func() { endSpan(span, err) }()

	if err := AuthorizeConversation(conversationID, callerID); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)

	start := time.Now()
	updated, err := s.store.MarkConversationRead(ctx, conversationID, callerID, now)
	observeStore("mark_conversation_read", start, err)
	if err != nil {
		return nil, apperr.Internal("failed to mark conversation read", err)
	}

	if updated > 0 {
		metrics.MessagesReadTotal.WithLabelValues(channel).Add(float64(updated))
	}

	s.publish(ctx, &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           model.EventTypeMessagesRead,
		ConversationID: conversationID,
		ActorID:        callerID,
		Updated:        updated,
		CreatedAt:      now,
	})

	return &model.MarkReadResponse{ConversationID: conversationID, Updated: updated}, nil
}

// AuthorizeConversation checks conversationID is well formed and that
// userID takes part in it.
func AuthorizeConversation(conversationID, userID string) error {
	if _, _, ok := model.Participants(conversationID); !ok {
		return apperr.Validation("invalid conversation id %q", conversationID)
	}
	if !model.IsParticipant(conversationID, userID) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	return nil
}

// publish emits evt. The state change is already stored, so a bus failure
// only delays delivery until the next pull.
func (s *MessageService) publish(ctx context.Context, evt *model.ConversationEvent) {
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Error("failed to publish conversation event",
			zap.String("event_type", string(evt.Type)),
			zap.String("conversation_id", evt.ConversationID),
			zap.Error(err),
		)
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("invalid message")
	}

	fe := fieldErrs[0]
	switch fe.Field() {
	case "Content":
		if fe.Tag() == "max" {
			return apperr.Validation("content must be at most %d characters", model.MaxContentLength)
		}
		return apperr.Validation("content must not be empty")
	case "ReceiverID":
		switch fe.Tag() {
		case "nefield":
			return apperr.Validation("cannot send a message to yourself")
		case "excludes":
			return apperr.Validation("receiverId is not a valid user id")
		}
		return apperr.Validation("receiverId is required")
	case "SenderID":
		if fe.Tag() == "excludes" {
			return apperr.Validation("sender is not a valid user id")
		}
		return apperr.Unauthenticated("sender is required", nil)
	default:
		return apperr.Validation("invalid %s", fe.Field())
	}
}
