// Package memory provides an in-process message store.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
)

// MessageStore keeps messages in memory. A single lock makes every
// operation, including multi-row read updates, atomic.
type MessageStore struct {
	mu             sync.RWMutex
	messages       []*model.Message
	byConversation map[string][]*model.Message
}

var _ store.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byConversation: make(map[string][]*model.Message),
	}
}

func (s *MessageStore) Append(_ context.Context, msg store.NewMessage) (*model.Message, error) {
	stored := &model.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		IsRead:         false,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.CreatedAt,
	}

	s.mu.Lock()
	s.messages = append(s.messages, stored)
	conv := append(s.byConversation[msg.ConversationID], stored)
	// keep each conversation sorted; appends are nearly always in order
	for i := len(conv) - 1; i > 0 && conv[i].Before(conv[i-1]); i-- {
		conv[i], conv[i-1] = conv[i-1], conv[i]
	}
	s.byConversation[msg.ConversationID] = conv
	s.mu.Unlock()

	out := *stored
	return &out, nil
}

func (s *MessageStore) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	limit, offset = store.NormalizePage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv := s.byConversation[conversationID]
	// newest-first window [offset, offset+limit), returned oldest first
	end := len(conv) - offset
	if end <= 0 {
		return []model.Message{}, nil
	}
	start := max(end-limit, 0)

	out := make([]model.Message, 0, end-start)
	for _, m := range conv[start:end] {
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *MessageStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.byConversation[conversationID] {
		if m.ReceiverID != userID || m.IsRead {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		m.UpdatedAt = at
		n++
	}
	return n, nil
}

func (s *MessageStore) Conversations(_ context.Context, userID string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make(map[string]*model.ConversationSummary)
	for _, m := range s.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		g, ok := groups[m.ConversationID]
		if !ok {
			g = &model.ConversationSummary{ConversationID: m.ConversationID, LastMessage: copyMessage(m)}
			groups[m.ConversationID] = g
		} else if g.LastMessage.Before(m) {
			g.LastMessage = copyMessage(m)
		}
		if m.ReceiverID == userID && !m.IsRead {
			g.UnreadCount++
		}
	}

	out := make([]model.ConversationSummary, 0, len(groups))
	for _, g := range groups {
		g.OtherUserID = g.LastMessage.SenderID
		if g.OtherUserID == userID {
			g.OtherUserID = g.LastMessage.ReceiverID
		}
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b model.ConversationSummary) int {
		switch {
		case b.LastMessage.Before(&a.LastMessage):
			return -1
		case a.LastMessage.Before(&b.LastMessage):
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (s *MessageStore) Ping(context.Context) error {
	return nil
}

func copyMessage(m *model.Message) model.Message {
	out := *m
	if m.ReadAt != nil {
		readAt := *m.ReadAt
		out.ReadAt = &readAt
	}
	return out
}
