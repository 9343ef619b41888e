package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/auth"
	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/presence"
	"github.com/pawpal/conversation-service/internal/realtime"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/internal/store/memory"
	"github.com/pawpal/conversation-service/internal/subscription"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
)

const testSecret = "handler-test-secret"

type apiFixture struct {
	server  *httptest.Server
	busDown atomic.Bool
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.NewNop()

	directory := users.NewMemoryDirectory(
		model.PublicProfile{ID: "alice", Name: "Alice", UserType: model.UserTypeOwner},
		model.PublicProfile{ID: "bob", Name: "Bob", UserType: model.UserTypeSitter},
		model.PublicProfile{ID: "carol", Name: "Carol", UserType: model.UserTypeSitter},
	)
	messageStore := memory.NewMessageStore()
	bus := events.NewLocalBus(log)
	verifier := auth.NewJWTVerifier(testSecret, directory)

	messages := service.NewMessageService(messageStore, directory, bus, log)
	conversations := service.NewConversationService(messageStore, directory, log)

	broker := subscription.NewBroker(bus, 16, log)
	require.NoError(t, broker.Start())
	t.Cleanup(broker.Close)

	hub := realtime.NewHub(messages, directory, verifier, presence.NewRegistry(), bus, realtime.Options{}, log)
	require.NoError(t, hub.Start())
	t.Cleanup(hub.Close)

	f := &apiFixture{}
	router := NewRouter(RouterConfig{
		Logger:            log,
		Verifier:          verifier,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Health: NewHealthHandler(map[string]Check{
			"store": messageStore.Ping,
			"bus": func(context.Context) error {
				if f.busDown.Load() {
					return errors.New("nats disconnected")
				}
				return nil
			},
		}),
		Conversations: NewConversationHandler(conversations, log),
		Messages:      NewMessageHandler(messages, log),
		Streams:       NewStreamHandler(broker, time.Hour, log),
		WebSocket:     hub.ServeWS,
	})

	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, userID, model.UserTypeOwner, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func requireError(t *testing.T, resp *http.Response, status int, kind apperr.Kind) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[apperr.Body](t, resp)
	require.Equal(t, kind, body.Error.Kind)
	require.NotEmpty(t, body.Error.Message)
}

func TestHealthAndReady(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/ready", "", nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	f.busDown.Store(true)
	resp = f.do(t, http.MethodGet, "/ready", "", nil)
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	req.Equal("bus unavailable", decode[map[string]string](t, resp)["reason"])
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	f := newAPI(t)

	requireError(t, f.do(t, http.MethodGet, "/api/v1/conversations", "", nil), http.StatusUnauthorized, apperr.KindUnauthenticated)
	requireError(t, f.do(t, http.MethodGet, "/api/v1/messages/unread-count", "", nil), http.StatusUnauthorized, apperr.KindUnauthenticated)
	requireError(t, f.do(t, http.MethodGet, "/api/v1/subscriptions/messages", "", nil), http.StatusUnauthorized, apperr.KindUnauthenticated)

	// Unknown users are rejected even with a well signed token
	requireError(t, f.do(t, http.MethodGet, "/api/v1/conversations", "mallory", nil), http.StatusUnauthorized, apperr.KindUnauthenticated)
}

func TestAPI_OfflineDeliveryThenMarkRead(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	// Given alice sends to bob while bob is offline
	resp := f.do(t, http.MethodPost, "/api/v1/messages", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: "Can you walk Rex on Friday?"})
	req.Equal(http.StatusCreated, resp.StatusCode)
	sent := decode[model.PopulatedMessage](t, resp)
	req.Equal("alice_bob", sent.ConversationID)

	// When bob pulls the conversation
	resp = f.do(t, http.MethodGet, "/api/v1/users/alice/messages", "bob", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	page := decode[model.ListMessagesResponse](t, resp)
	req.Len(page.Messages, 1)
	req.Equal(sent.ID, page.Messages[0].ID)
	req.False(page.Messages[0].IsRead)

	resp = f.do(t, http.MethodGet, "/api/v1/messages/unread-count", "bob", nil)
	req.Equal(int64(1), decode[model.UnreadCountResponse](t, resp).Count)

	resp = f.do(t, http.MethodGet, "/api/v1/conversations", "bob", nil)
	convs := decode[model.ListConversationsResponse](t, resp)
	req.Len(convs.Conversations, 1)
	req.Equal("alice", convs.Conversations[0].OtherUser.ID)
	req.Equal(int64(1), convs.TotalUnread)

	// And marks it read, twice
	for _, want := range []int64{1, 0} {
		resp = f.do(t, http.MethodPost, "/api/v1/conversations/alice_bob/read", "bob", nil)
		req.Equal(http.StatusOK, resp.StatusCode)
		req.Equal(want, decode[model.MarkReadResponse](t, resp).Updated)
	}

	// Then nothing is unread for either side
	for _, user := range []string{"alice", "bob"} {
		resp = f.do(t, http.MethodGet, "/api/v1/messages/unread-count", user, nil)
		req.Zero(decode[model.UnreadCountResponse](t, resp).Count)
	}
}

func TestAPI_SendValidation(t *testing.T) {
	f := newAPI(t)

	requireError(t, f.do(t, http.MethodPost, "/api/v1/messages", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: "   "}), http.StatusBadRequest, apperr.KindValidation)
	requireError(t, f.do(t, http.MethodPost, "/api/v1/messages", "alice", "{not json"), http.StatusBadRequest, apperr.KindValidation)
	requireError(t, f.do(t, http.MethodPost, "/api/v1/messages", "alice", model.SendMessageRequest{ReceiverID: "zed", Content: "hi"}), http.StatusNotFound, apperr.KindNotFound)

	// Nothing was stored
	resp := f.do(t, http.MethodGet, "/api/v1/users/bob/messages", "alice", nil)
	require.Empty(t, decode[model.ListMessagesResponse](t, resp).Messages)
}

func TestAPI_MarkReadAuthorization(t *testing.T) {
	f := newAPI(t)

	requireError(t, f.do(t, http.MethodPost, "/api/v1/conversations/alice_bob/read", "carol", nil), http.StatusForbidden, apperr.KindForbidden)
	requireError(t, f.do(t, http.MethodPost, "/api/v1/conversations/garbage/read", "alice", nil), http.StatusBadRequest, apperr.KindValidation)
}

func TestAPI_Pagination(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	for i := 0; i < 5; i++ {
		resp := f.do(t, http.MethodPost, "/api/v1/messages", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: fmt.Sprintf("m%d", i)})
		req.Equal(http.StatusCreated, resp.StatusCode)
		time.Sleep(2 * time.Millisecond)
	}

	resp := f.do(t, http.MethodGet, "/api/v1/users/bob/messages?limit=2&offset=1", "alice", nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	page := decode[model.ListMessagesResponse](t, resp)
	req.Equal(2, page.Limit)
	req.Equal(1, page.Offset)
	req.Equal([]string{"m2", "m3"}, []string{page.Messages[0].Content, page.Messages[1].Content})

	requireError(t, f.do(t, http.MethodGet, "/api/v1/users/bob/messages?limit=-1", "alice", nil), http.StatusBadRequest, apperr.KindValidation)
	requireError(t, f.do(t, http.MethodGet, "/api/v1/users/bob/messages?offset=abc", "alice", nil), http.StatusBadRequest, apperr.KindValidation)
}

// sseStream reads server-sent events from an open subscription.
type sseStream struct {
	t      *testing.T
	reader *bufio.Reader
}

func (f *apiFixture) subscribe(t *testing.T, path, userID string) *sseStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+path+"?token="+token(t, userID), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &sseStream{t: t, reader: bufio.NewReader(resp.Body)}
	s.expect("connected")
	return s
}

// expect reads until the named event and returns its data.
func (s *sseStream) expect(event string) []byte {
	s.t.Helper()
	current := ""
	for {
		line, err := s.reader.ReadString('\n')
		require.NoError(s.t, err, "waiting for %s", event)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == event:
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestSubscriptions_InboxReceivesPullSend(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	inbox := f.subscribe(t, "/api/v1/subscriptions/messages", "bob")

	resp := f.do(t, http.MethodPost, "/api/v1/messages", "carol", model.SendMessageRequest{ReceiverID: "alice", Content: "not for bob"})
	req.Equal(http.StatusCreated, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/api/v1/messages", "alice", model.SendMessageRequest{ReceiverID: "bob", Content: "for bob"})
	req.Equal(http.StatusCreated, resp.StatusCode)

	var msg model.PopulatedMessage
	req.NoError(json.Unmarshal(inbox.expect("message"), &msg))
	req.Equal("for bob", msg.Content)
	req.Equal("Alice", msg.Sender.Name)
}

func TestSubscriptions_ConversationReceivesPushSend(t *testing.T) {
	req := require.New(t)
	f := newAPI(t)

	// Given bob only listens on the pull channel
	room := f.subscribe(t, "/api/v1/subscriptions/conversations/alice_bob", "bob")

	// When alice sends over the push channel
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "alice"))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.server.URL, "http")+"/ws", header)
	req.NoError(err)
	defer conn.Close()
	req.NoError(conn.WriteJSON(map[string]any{
		"event": realtime.EventMessageSend,
		"data":  map[string]string{"receiverId": "bob", "content": "sent over the socket"},
	}))

	// Then the pull subscription sees it too
	var msg model.PopulatedMessage
	req.NoError(json.Unmarshal(room.expect("message"), &msg))
	req.Equal("sent over the socket", msg.Content)
	req.Equal("alice_bob", msg.ConversationID)
}

func TestSubscriptions_ConversationRequiresParticipant(t *testing.T) {
	f := newAPI(t)

	resp := f.do(t, http.MethodGet, "/api/v1/subscriptions/conversations/alice_bob", "carol", nil)
	requireError(t, resp, http.StatusForbidden, apperr.KindForbidden)
}
