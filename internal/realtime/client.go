package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/pkg/logger"
)

// Client is one authenticated socket connection.
type Client struct {
	id   string
	user *model.UserIdentity
	hub  *Hub
	conn *websocket.Conn

	// send is drained by writePump. It is never closed; done signals shutdown.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	logger *logger.Logger
}

func newClient(h *Hub, id string, user *model.UserIdentity, conn *websocket.Conn) *Client {
	return &Client{
		id:     id,
		user:   user,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
		logger: h.logger.WithConnection(id, user.ID),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the id of the authenticated user.
func (c *Client) UserID() string {
	return c.user.ID
}

// emit queues an event for this connection.
func (c *Client) emit(event string, data any) {
	msg, err := encode(event, data)
	if err != nil {
		c.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(msg)
}

// emitError sends an error event to this connection only.
func (c *Client) emitError(message string) {
	c.emit(EventError, ErrorPayload{Message: message})
}

// enqueue hands msg to the write loop. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send buffer full, disconnecting slow client")
		c.close()
		return false
	}
}

// close stops the write loop, which closes the socket.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads frames from the socket and dispatches them one at a time,
// in arrival order.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	pongWait := c.hub.opts.pongWait()
	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("socket read failed", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.emitError("malformed envelope")
			continue
		}
		c.hub.dispatch(ctx, c, env)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("socket write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
