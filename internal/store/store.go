// Package store defines the message store used by both delivery channels.
package store

import (
	"context"
	"time"

	"github.com/pawpal/conversation-service/internal/model"
)

// Pagination defaults for ListByConversation.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// NewMessage is a validated message ready to be persisted.
type NewMessage struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	CreatedAt      time.Time
}

// MessageStore persists messages and answers the read-side queries of the
// conversation subsystem. Every method may block on I/O.
type MessageStore interface {
	// Append persists msg as unread and returns the stored row.
	Append(ctx context.Context, msg NewMessage) (*model.Message, error)

	// ListByConversation returns one page of a conversation, oldest first.
	// Pages are counted backward from the most recent message.
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)

	// CountUnread counts unread messages addressed to userID.
	CountUnread(ctx context.Context, userID string) (int64, error)

	// MarkConversationRead marks every unread message of the conversation
	// addressed to userID as read, atomically, and returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)

	// Conversations groups the messages involving userID by conversation,
	// most recent conversation first.
	Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// NormalizePage applies the pagination defaults and bounds.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
