package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// ConversationService lists the conversations of a user.
type ConversationService struct {
	store     store.MessageStore
	directory users.Directory
	logger    *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(messageStore store.MessageStore, directory users.Directory, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:     messageStore,
		directory: directory,
		logger:    log.Named("conversations"),
	}
}

// List returns the conversations of userID, most recent first, each joined
// with the other participant's profile. Conversations whose other
// participant no longer exists are left out.
func (s *ConversationService) List(ctx context.Context, userID string) (resp *model.ListConversationsResponse, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.List")
	span.SetAttributes(attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	summaries, err := s.store.Conversations(ctx, userID)
	observeStore("conversations", start, err)
	if err != nil {
		return nil, apperr.Internal("failed to list conversations", err)
	}

	resolver := newProfiles(s.directory, s.logger)
	resp = &model.ListConversationsResponse{Conversations: make([]model.Conversation, 0, len(summaries))}
	for _, summary := range summaries {
		other, err := resolver.get(ctx, summary.OtherUserID)
		if err != nil {
			return nil, err
		}
		if other == nil {
			s.logger.Debug("skipping conversation with unknown user",
				zap.String("conversation_id", summary.ConversationID),
				zap.String("other_user_id", summary.OtherUserID),
			)
			continue
		}

		resp.Conversations = append(resp.Conversations, model.Conversation{
			ConversationID: summary.ConversationID,
			OtherUser:      other,
			LastMessage:    summary.LastMessage,
			UnreadCount:    summary.UnreadCount,
		})
		resp.TotalUnread += summary.UnreadCount
	}

	return resp, nil
}
