// Package realtime is the push delivery channel: authenticated WebSocket
// connections grouped into personal and conversation rooms.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/auth"
	"github.com/pawpal/conversation-service/internal/events"
	"github.com/pawpal/conversation-service/internal/middleware"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/presence"
	"github.com/pawpal/conversation-service/internal/users"
	"github.com/pawpal/conversation-service/pkg/logger"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// Messages is the subset of the message service the hub drives.
type Messages interface {
	Send(ctx context.Context, senderID string, req *model.SendMessageRequest, channel string) (*model.PopulatedMessage, error)
	MarkRead(ctx context.Context, callerID, conversationID, channel string) (*model.MarkReadResponse, error)
}

// Options tunes socket behavior.
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 * 1024
	}
	return o
}

// pongWait is how long a connection may stay silent before it is dropped.
func (o Options) pongWait() time.Duration {
	return o.PingInterval * 10 / 9
}

// Hub owns every socket connection of this process and their rooms.
type Hub struct {
	messages  Messages
	directory users.Directory
	verifier  auth.Verifier
	presence  *presence.Registry
	bus       events.Bus
	decoder   *decoder
	upgrader  websocket.Upgrader
	opts      Options
	logger    *logger.Logger

	allowOrigin func(origin string) bool

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	unsubscribe func()
}

// NewHub creates a hub. Call Start to receive conversation events.
func NewHub(
	messages Messages,
	directory users.Directory,
	verifier auth.Verifier,
	registry *presence.Registry,
	bus events.Bus,
	opts Options,
	log *logger.Logger,
) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		messages:    messages,
		directory:   directory,
		verifier:    verifier,
		presence:    registry,
		bus:         bus,
		decoder:     newDecoder(),
		opts:        opts,
		logger:      log.Named("realtime"),
		allowOrigin: middleware.OriginMatcher(opts.AllowedOrigins),
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start subscribes the hub to the event bus.
func (h *Hub) Start() error {
	unsubscribe, err := h.bus.Subscribe("realtime", h.HandleEvent)
	if err != nil {
		return err
	}
	h.unsubscribe = unsubscribe
	return nil
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}

	h.mu.RLock()
	clients := lo.Values(h.clients)
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func userRoom(userID string) string {
	return "user:" + userID
}

func conversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// ServeWS authenticates the request, upgrades it to a WebSocket and serves
// the connection until it closes. The credential comes from the
// Authorization header or the token query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	credential, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		credential = r.URL.Query().Get("token")
	}
	if credential == "" {
		rejectHandshake(w, apperr.Unauthenticated("authentication required", nil))
		return
	}

	identity, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		h.logger.Debug("socket authentication failed", zap.Error(err))
		rejectHandshake(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := newClient(h, uuid.NewString(), identity, conn)
	h.join(c)

	go c.writePump()
	c.readPump(ctx)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowOrigin(origin)
}

// rejectHandshake answers a failed authentication before any upgrade.
func rejectHandshake(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(apperr.KindOf(err)))
	_ = json.NewEncoder(w).Encode(apperr.ToBody(err))
}

// join registers an authenticated connection: personal room, presence, the
// online broadcast and the online list for the newcomer.
func (h *Hub) join(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.joinRoomLocked(c, userRoom(c.user.ID))
	h.mu.Unlock()

	metrics.WSConnectionsActive.Inc()
	h.presence.Register(c.user.ID, c.id)

	h.broadcast(EventUserOnline, UserPayload{UserID: c.user.ID, Name: c.user.DisplayName}, c)
	c.emit(EventUsersOnline, h.presence.ListOnline())

	c.logger.Info("client connected")
}

// leave removes a connection from the hub. The offline broadcast is only
// sent when this connection was still the user's current one.
func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for room := range c.rooms {
		h.leaveRoomLocked(c, room)
	}
	h.mu.Unlock()

	c.close()
	metrics.WSConnectionsActive.Dec()

	if h.presence.Unregister(c.user.ID, c.id) {
		h.broadcast(EventUserOffline, UserPayload{UserID: c.user.ID}, nil)
	}

	c.logger.Info("client disconnected")
}

func (h *Hub) joinRoomLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) joinRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.joinRoomLocked(c, room)
}

func (h *Hub) leaveRoom(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(c, room)
}

// roomMembers snapshots the members of room, minus those skip rejects.
func (h *Hub) roomMembers(room string, skip func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := lo.Values(h.rooms[room])
	if skip == nil {
		return members
	}
	return lo.Reject(members, func(c *Client, _ int) bool { return skip(c) })
}

// emitToRoom sends one event to every member of room that skip does not reject.
func (h *Hub) emitToRoom(room, event string, data any, skip func(*Client) bool) {
	members := h.roomMembers(room, skip)
	if len(members) == 0 {
		return
	}

	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range members {
		c.enqueue(msg)
	}
}

// broadcast sends one event to every connection except the given one.
func (h *Hub) broadcast(event string, data any, except *Client) {
	h.mu.RLock()
	clients := lo.Filter(lo.Values(h.clients), func(c *Client, _ int) bool { return c != except })
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range clients {
		c.enqueue(msg)
	}
}

// HandleEvent fans a conversation event out to the rooms it concerns.
func (h *Hub) HandleEvent(_ context.Context, evt *model.ConversationEvent) {
	switch evt.Type {
	case model.EventTypeMessageAppended:
		if evt.Message == nil {
			return
		}
		h.emitToRoom(conversationRoom(evt.ConversationID), EventMessageNew, evt.Message, nil)
		h.emitToRoom(userRoom(evt.Message.ReceiverID), EventMessageReceived, evt.Message, nil)

	case model.EventTypeMessagesRead:
		h.emitToRoom(conversationRoom(evt.ConversationID), EventMessagesMarkedRead,
			MarkedReadPayload{ConversationID: evt.ConversationID, UserID: evt.ActorID},
			func(c *Client) bool { return c.user.ID == evt.ActorID },
		)
	}
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// inRoom reports whether any connection of userID is a member of room.
func (h *Hub) inRoom(room, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.SomeBy(lo.Values(h.rooms[room]), func(c *Client) bool { return c.user.ID == userID })
}
