package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store/memory"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

type fixture struct {
	store         *memory.MessageStore
	directory     *users.MemoryDirectory
	bus           *events.LocalBus
	messages      *MessageService
	conversations *ConversationService

	mu     sync.Mutex
	events []*model.ConversationEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()

	f := &fixture{
		store: memory.NewMessageStore(),
		directory: users.NewMemoryDirectory(
			model.PublicProfile{ID: "alice", Name: "Alice", UserType: model.UserTypeOwner},
			model.PublicProfile{ID: "bob", Name: "Bob", UserType: model.UserTypeSitter},
			model.PublicProfile{ID: "carol", Name: "Carol", UserType: model.UserTypeSitter},
		),
		bus: events.NewLocalBus(log),
	}
	f.messages = NewMessageService(f.store, f.directory, f.bus, log)
	f.conversations = NewConversationService(f.store, f.directory, log)

	_, err := f.bus.Subscribe("recorder", func(_ context.Context, evt *model.ConversationEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, evt)
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) recorded() []*model.ConversationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.ConversationEvent(nil), f.events...)
}

// at pins the service clock.
func (f *fixture) at(ts time.Time) {
	f.messages.now = func() time.Time { return ts }
}

func send(t *testing.T, f *fixture, from, to, content string) *model.PopulatedMessage {
	t.Helper()
	msg, err := f.messages.Send(context.Background(), from, &model.SendMessageRequest{ReceiverID: to, Content: content}, metrics.ChannelPull)
	require.NoError(t, err)
	return msg
}

func TestMessageService_SendRoundTrip(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	msg := send(t, f, "alice", "bob", "  hello  ")

	req.Equal("hello", msg.Content)
	req.Equal("alice_bob", msg.ConversationID)
	req.False(msg.IsRead)
	req.Equal("Alice", msg.Sender.Name)
	req.Equal("Bob", msg.Receiver.Name)
	req.Equal(msg.CreatedAt, msg.CreatedAt.Truncate(time.Millisecond))

	page, err := f.messages.List(ctx, "bob", "alice", 0, 0)
	req.NoError(err)
	req.Equal("alice_bob", page.ConversationID)
	req.Len(page.Messages, 1)
	req.Equal("hello", page.Messages[0].Content)
	req.False(page.Messages[0].IsRead)
	req.Equal(50, page.Limit)
}

func TestMessageService_SendEitherDirectionSharesConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	first := send(t, f, "alice", "bob", "hi")
	second := send(t, f, "bob", "alice", "hey")

	req.Equal(first.ConversationID, second.ConversationID)
}

func TestMessageService_SendValidation(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		request  model.SendMessageRequest
		kind     apperr.Kind
		contains string
	}{
		{"whitespace content", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: "   "}, apperr.KindValidation, "empty"},
		{"too long", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: strings.Repeat("a", model.MaxContentLength+1)}, apperr.KindValidation, "2000"},
		{"missing receiver", "alice", model.SendMessageRequest{Content: "hi"}, apperr.KindValidation, "receiverId"},
		{"self message", "alice", model.SendMessageRequest{ReceiverID: "alice", Content: "hi"}, apperr.KindValidation, "yourself"},
		{"separator in receiver", "alice", model.SendMessageRequest{ReceiverID: "bob_x", Content: "hi"}, apperr.KindValidation, "receiverId"},
		{"separator in sender", "alice_x", model.SendMessageRequest{ReceiverID: "bob", Content: "hi"}, apperr.KindValidation, "sender"},
		{"unknown receiver", "alice", model.SendMessageRequest{ReceiverID: "zed", Content: "hi"}, apperr.KindNotFound, "receiver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.messages.Send(ctx, tt.sender, &tt.request, metrics.ChannelPush)
			req.Error(err)
			req.Equal(tt.kind, apperr.KindOf(err))
			req.Contains(apperr.PublicMessage(err), tt.contains)

			// No row and no event
			page, err := f.messages.List(ctx, "alice", "bob", 0, 0)
			req.NoError(err)
			req.Empty(page.Messages)
			req.Empty(f.recorded())
		})
	}
}

func TestMessageService_MaxLengthCountsCharacters(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	msg := send(t, f, "alice", "bob", strings.Repeat("é", model.MaxContentLength))
	req.Len([]rune(msg.Content), model.MaxContentLength)
}

func TestMessageService_SendPublishesOneEvent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	msg := send(t, f, "alice", "bob", "hello")

	recorded := f.recorded()
	req.Len(recorded, 1)
	req.Equal(model.EventTypeMessageAppended, recorded[0].Type)
	req.Equal("alice_bob", recorded[0].ConversationID)
	req.Equal("alice", recorded[0].ActorID)
	req.Equal("bob", recorded[0].RecipientID())
	req.Equal(msg.ID, recorded[0].Message.ID)
}

func TestMessageService_UnreadCountInvariant(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		send(t, f, "alice", "carol", "ping")
	}
	send(t, f, "bob", "carol", "hey")

	count, err := f.messages.UnreadCount(ctx, "carol")
	req.NoError(err)
	req.Equal(int64(6), count)

	count, err = f.messages.UnreadCount(ctx, "alice")
	req.NoError(err)
	req.Zero(count)
}

func TestMessageService_MarkReadIsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	send(t, f, "alice", "bob", "one")
	send(t, f, "alice", "bob", "two")
	send(t, f, "bob", "alice", "reply")

	resp, err := f.messages.MarkRead(ctx, "bob", "alice_bob", metrics.ChannelPull)
	req.NoError(err)
	req.Equal(int64(2), resp.Updated)

	count, err := f.messages.UnreadCount(ctx, "bob")
	req.NoError(err)
	req.Zero(count)

	resp, err = f.messages.MarkRead(ctx, "bob", "alice_bob", metrics.ChannelPull)
	req.NoError(err)
	req.Zero(resp.Updated)

	// The sender's own unread message is untouched
	count, err = f.messages.UnreadCount(ctx, "alice")
	req.NoError(err)
	req.Equal(int64(1), count)

	recorded := f.recorded()
	last := recorded[len(recorded)-1]
	req.Equal(model.EventTypeMessagesRead, last.Type)
	req.Equal("bob", last.ActorID)
	req.Zero(last.Updated)
}

func TestMessageService_MarkReadAuthorization(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.messages.MarkRead(ctx, "carol", "alice_bob", metrics.ChannelPull)
	req.Equal(apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.messages.MarkRead(ctx, "alice", "not-a-conversation", metrics.ChannelPull)
	req.Equal(apperr.KindValidation, apperr.KindOf(err))

	_, err = f.messages.MarkRead(ctx, "alice", "bob_alice", metrics.ChannelPull)
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
}

func TestMessageService_PaginationIsChronological(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given messages 1ms apart
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		f.at(base.Add(time.Duration(i) * time.Millisecond))
		send(t, f, "alice", "bob", string(rune('a'+i)))
	}

	windows := []struct{ limit, offset int }{{0, 0}, {2, 0}, {2, 2}, {3, 4}, {10, 5}}
	for _, w := range windows {
		page, err := f.messages.List(ctx, "alice", "bob", w.limit, w.offset)
		req.NoError(err)
		for i := 1; i < len(page.Messages); i++ {
			req.True(page.Messages[i-1].CreatedAt.Before(page.Messages[i].CreatedAt),
				"window %d/%d not ascending", w.limit, w.offset)
		}
	}

	// The first page is the most recent one
	page, err := f.messages.List(ctx, "alice", "bob", 2, 0)
	req.NoError(err)
	req.Equal("e", page.Messages[0].Content)
	req.Equal("f", page.Messages[1].Content)
}

func TestMessageService_ListRequiresCounterpart(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.messages.List(context.Background(), "alice", " ", 0, 0)
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
}

func TestMessageService_OfflineReceiverPullsLater(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// Given bob is offline while alice writes
	send(t, f, "alice", "bob", "are you free saturday?")

	// When bob pulls the conversation
	page, err := f.messages.List(ctx, "bob", "alice", 0, 0)
	req.NoError(err)
	req.Len(page.Messages, 1)
	req.False(page.Messages[0].IsRead)

	// And marks it read
	_, err = f.messages.MarkRead(ctx, "bob", page.ConversationID, metrics.ChannelPull)
	req.NoError(err)

	// Then alice, the sender, is unaffected
	count, err := f.messages.UnreadCount(ctx, "alice")
	req.NoError(err)
	req.Zero(count)

	page, err = f.messages.List(ctx, "alice", "bob", 0, 0)
	req.NoError(err)
	req.True(page.Messages[0].IsRead)
	req.NotNil(page.Messages[0].ReadAt)
}

func TestMessageService_DirectoryFailure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	directory := &flakyDirectory{Directory: f.directory}
	messages := NewMessageService(f.store, directory, f.bus, logger.NewNop())

	send(t, f, "alice", "bob", "hi")
	directory.down.Store(true)

	_, err := messages.List(ctx, "bob", "alice", 0, 0)
	req.Error(err)
	req.Equal(apperr.KindInternal, apperr.KindOf(err))

	// A send that cannot resolve profiles stores nothing
	_, err = messages.Send(ctx, "alice", &model.SendMessageRequest{ReceiverID: "bob", Content: "again"}, metrics.ChannelPull)
	req.Error(err)
	req.Equal(apperr.KindInternal, apperr.KindOf(err))

	page, err := f.messages.List(ctx, "bob", "alice", 0, 0)
	req.NoError(err)
	req.Len(page.Messages, 1)
	req.Len(f.recorded(), 1)
}

func TestMessageService_ListRejectsSeparatorInCounterpart(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.messages.List(context.Background(), "a", "b_c", 0, 0)
	req.Error(err)
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
}
