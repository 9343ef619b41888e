package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
	"github.com/pawpal/conversation-service/internal/store/storetest"
)

func TestMessageStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.MessageStore {
		return NewMessageStore()
	})
}

func TestMessageStore_OutOfOrderAppend(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore()
	at := time.Now()

	// A message stamped earlier but appended later still lands in place
	_, err := s.Append(ctx, storetest.Message("alice", "bob", "late", at.Add(time.Second)))
	req.NoError(err)
	_, err = s.Append(ctx, storetest.Message("alice", "bob", "early", at))
	req.NoError(err)

	msgs, err := s.ListByConversation(ctx, model.ConversationIDFor("alice", "bob"), 0, 0)
	req.NoError(err)
	req.Equal("early", msgs[0].Content)
	req.Equal("late", msgs[1].Content)
}

func TestMessageStore_ReturnsCopies(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore()

	stored, err := s.Append(ctx, storetest.Message("alice", "bob", "hello", time.Now()))
	req.NoError(err)
	stored.Content = "tampered"

	msgs, err := s.ListByConversation(ctx, stored.ConversationID, 0, 0)
	req.NoError(err)
	req.Equal("hello", msgs[0].Content)
}

func TestMessageStore_ConcurrentMarkRead(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore()
	at := time.Now()

	for i := 0; i < 50; i++ {
		_, err := s.Append(ctx, storetest.Message("alice", "bob", "hi", at.Add(time.Duration(i)*time.Millisecond)))
		req.NoError(err)
	}
	convID := model.ConversationIDFor("alice", "bob")

	// When many callers mark the same conversation read concurrently
	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.MarkConversationRead(ctx, convID, "bob", time.Now())
			if err == nil {
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Then every row transitioned exactly once
	req.Equal(int64(50), total)
	count, err := s.CountUnread(ctx, "bob")
	req.NoError(err)
	req.Zero(count)
}
