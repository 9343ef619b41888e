// Package storetest holds behaviour tests shared by every MessageStore implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
)

// Factory returns an empty store for one test.
type Factory func(t *testing.T) store.MessageStore

// Run executes the shared suite against the stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("PaginationIsChronological", func(t *testing.T) { testPagination(t, newStore(t)) })
	t.Run("SameTimestampTieBreak", func(t *testing.T) { testTieBreak(t, newStore(t)) })
	t.Run("CountUnread", func(t *testing.T) { testCountUnread(t, newStore(t)) })
	t.Run("MarkReadIsIdempotent", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("Conversations", func(t *testing.T) { testConversations(t, newStore(t)) })
}

// Message builds a NewMessage from sender to receiver at the given time.
func Message(sender, receiver, content string, at time.Time) store.NewMessage {
	return store.NewMessage{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: model.ConversationIDFor(sender, receiver),
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		CreatedAt:      at.UTC().Truncate(time.Millisecond),
	}
}

func testRoundTrip(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()

	stored, err := s.Append(ctx, Message("alice", "bob", "hello", time.Now()))
	req.NoError(err)
	req.False(stored.IsRead)
	req.Nil(stored.ReadAt)

	msgs, err := s.ListByConversation(ctx, model.ConversationIDFor("bob", "alice"), 0, 0)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("hello", msgs[0].Content)
	req.False(msgs[0].IsRead)
	req.Equal(stored.ID, msgs[0].ID)
	req.Equal("alice_bob", msgs[0].ConversationID)
}

func testPagination(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Now()

	// Given five messages one millisecond apart, alternating direction
	for i := 0; i < 5; i++ {
		sender, receiver := "alice", "bob"
		if i%2 == 1 {
			sender, receiver = receiver, sender
		}
		_, err := s.Append(ctx, Message(sender, receiver, fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Millisecond)))
		req.NoError(err)
	}
	convID := model.ConversationIDFor("alice", "bob")

	windows := []struct {
		limit, offset int
		want          []string
	}{
		{0, 0, []string{"m0", "m1", "m2", "m3", "m4"}},
		{2, 0, []string{"m3", "m4"}},
		{2, 2, []string{"m1", "m2"}},
		{2, 4, []string{"m0"}},
		{3, 10, nil},
	}
	for _, w := range windows {
		msgs, err := s.ListByConversation(ctx, convID, w.limit, w.offset)
		req.NoError(err)

		got := make([]string, 0, len(msgs))
		for i, m := range msgs {
			got = append(got, m.Content)
			if i > 0 {
				req.True(msgs[i-1].CreatedAt.Before(m.CreatedAt), "window %d/%d not ascending", w.limit, w.offset)
			}
		}
		if w.want == nil {
			req.Empty(got)
			continue
		}
		req.Equal(w.want, got, "window %d/%d", w.limit, w.offset)
	}
}

func testTieBreak(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Now()

	first, err := s.Append(ctx, Message("alice", "bob", "first", at))
	req.NoError(err)
	second, err := s.Append(ctx, Message("bob", "alice", "second", at))
	req.NoError(err)

	msgs, err := s.ListByConversation(ctx, first.ConversationID, 10, 0)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(first.ID, msgs[0].ID)
	req.Equal(second.ID, msgs[1].ID)
}

func testCountUnread(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Now()

	// Given N messages addressed to carol from two senders
	const n = 4
	for i := 0; i < n; i++ {
		sender := "alice"
		if i%2 == 0 {
			sender = "bob"
		}
		_, err := s.Append(ctx, Message(sender, "carol", "ping", at.Add(time.Duration(i)*time.Millisecond)))
		req.NoError(err)
	}
	// And one message sent by carol
	_, err := s.Append(ctx, Message("carol", "alice", "pong", at))
	req.NoError(err)

	count, err := s.CountUnread(ctx, "carol")
	req.NoError(err)
	req.Equal(int64(n), count)

	count, err = s.CountUnread(ctx, "alice")
	req.NoError(err)
	req.Equal(int64(1), count)
}

func testMarkRead(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()
	at := time.Now()

	_, err := s.Append(ctx, Message("alice", "bob", "one", at))
	req.NoError(err)
	_, err = s.Append(ctx, Message("alice", "bob", "two", at.Add(time.Millisecond)))
	req.NoError(err)
	_, err = s.Append(ctx, Message("bob", "alice", "three", at.Add(2*time.Millisecond)))
	req.NoError(err)
	_, err = s.Append(ctx, Message("carol", "bob", "other", at))
	req.NoError(err)
	convID := model.ConversationIDFor("alice", "bob")
	readAt := at.Add(time.Second).UTC().Truncate(time.Millisecond)

	// When bob reads the conversation twice
	n, err := s.MarkConversationRead(ctx, convID, "bob", readAt)
	req.NoError(err)
	req.Equal(int64(2), n)

	n, err = s.MarkConversationRead(ctx, convID, "bob", readAt.Add(time.Minute))
	req.NoError(err)
	req.Zero(n)

	// Then only messages addressed to bob in that conversation are read
	msgs, err := s.ListByConversation(ctx, convID, 0, 0)
	req.NoError(err)
	req.Len(msgs, 3)
	for _, m := range msgs {
		if m.ReceiverID == "bob" {
			req.True(m.IsRead)
			req.NotNil(m.ReadAt)
			req.True(readAt.Equal(*m.ReadAt), "readAt must not move on the second call")
		} else {
			req.False(m.IsRead)
			req.Nil(m.ReadAt)
		}
	}

	count, err := s.CountUnread(ctx, "bob")
	req.NoError(err)
	req.Equal(int64(1), count)

	// And alice's unread count is unaffected
	count, err = s.CountUnread(ctx, "alice")
	req.NoError(err)
	req.Equal(int64(1), count)
}

func testConversations(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Truncate(time.Millisecond)
	t2 := t1.Add(time.Second)

	// Given A->B at t1 and B->A at t2, and an older conversation with C
	_, err := s.Append(ctx, Message("alice", "bob", "hi bob", t1))
	req.NoError(err)
	_, err = s.Append(ctx, Message("bob", "alice", "hi alice", t2))
	req.NoError(err)
	_, err = s.Append(ctx, Message("carol", "alice", "walk tomorrow?", t1.Add(-time.Hour)))
	req.NoError(err)
	_, err = s.Append(ctx, Message("carol", "alice", "at 9?", t1.Add(-time.Hour+time.Minute)))
	req.NoError(err)
	_, err = s.Append(ctx, Message("bob", "carol", "not alice's", t2.Add(time.Hour)))
	req.NoError(err)

	convs, err := s.Conversations(ctx, "alice")
	req.NoError(err)
	req.Len(convs, 2)

	req.Equal(model.ConversationIDFor("alice", "bob"), convs[0].ConversationID)
	req.True(t2.Equal(convs[0].LastMessage.CreatedAt))
	req.Equal("hi alice", convs[0].LastMessage.Content)
	req.Equal("bob", convs[0].OtherUserID)
	req.Equal(int64(1), convs[0].UnreadCount)

	req.Equal(model.ConversationIDFor("alice", "carol"), convs[1].ConversationID)
	req.Equal("carol", convs[1].OtherUserID)
	req.Equal(int64(2), convs[1].UnreadCount)

	// When alice reads the carol conversation
	_, err = s.MarkConversationRead(ctx, convs[1].ConversationID, "alice", t2)
	req.NoError(err)

	convs, err = s.Conversations(ctx, "alice")
	req.NoError(err)
	req.Zero(convs[1].UnreadCount)

	// And bob sees the same conversation with alice as the other user
	convs, err = s.Conversations(ctx, "bob")
	req.NoError(err)
	req.Len(convs, 2)
	req.Equal("carol", convs[0].OtherUserID)
	req.Zero(convs[0].UnreadCount)
	req.Equal("alice", convs[1].OtherUserID)
	req.Equal(int64(1), convs[1].UnreadCount)
}
