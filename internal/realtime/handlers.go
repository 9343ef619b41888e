package realtime

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/service"
	"github.com/pawpal/conversation-service/pkg/metrics"
)

// dispatch runs the handler of one inbound event. Handler failures are
// reported to the originating connection only; the connection stays open.
func (h *Hub) dispatch(ctx context.Context, c *Client, env Envelope) {
	var err error
	switch env.Event {
	case EventConversationJoin:
		err = h.handleConversationJoin(c, env)
	case EventConversationLeave:
		err = h.handleConversationLeave(c, env)
	case EventMessageSend:
		err = h.handleMessageSend(ctx, c, env)
	case EventTypingStart:
		err = h.handleTyping(c, env, EventTypingStarted)
	case EventTypingStop:
		err = h.handleTyping(c, env, EventTypingStopped)
	case EventMessagesRead:
		err = h.handleMessagesRead(ctx, c, env)
	case EventLocationUpdate:
		err = h.handleLocationUpdate(ctx, c, env)
	case EventAvailabilityToggle:
		err = h.handleAvailabilityToggle(ctx, c, env)
	default:
		err = apperr.Validation("unknown event %q", env.Event)
	}

	metrics.RecordWSEvent(env.Event, err)
	if err == nil {
		return
	}

	if apperr.KindOf(err) == apperr.KindInternal {
		c.logger.Error("event handler failed", zap.String("event", env.Event), zap.Error(err))
	} else {
		c.logger.Debug("event rejected", zap.String("event", env.Event), zap.Error(err))
	}
	c.emitError(apperr.PublicMessage(err))
}

// invalid turns a payload decoding failure into a VALIDATION error.
func invalid(err error) error {
	return apperr.Validation("%s", err.Error())
}

func (h *Hub) handleConversationJoin(c *Client, env Envelope) error {
	conversationID, err := h.decoder.conversationID(env.Data)
	if err != nil {
		return invalid(err)
	}
	if err := service.AuthorizeConversation(conversationID, c.user.ID); err != nil {
		return err
	}

	h.joinRoom(c, conversationRoom(conversationID))
	c.logger.Debug("joined conversation", zap.String("conversation_id", conversationID))
	return nil
}

func (h *Hub) handleConversationLeave(c *Client, env Envelope) error {
	conversationID, err := h.decoder.conversationID(env.Data)
	if err != nil {
		return invalid(err)
	}

	h.leaveRoom(c, conversationRoom(conversationID))
	c.logger.Debug("left conversation", zap.String("conversation_id", conversationID))
	return nil
}

// handleMessageSend persists the message. Room delivery happens when the
// resulting event comes back from the bus; the sender gets an ack here.
func (h *Hub) handleMessageSend(ctx context.Context, c *Client, env Envelope) error {
	var payload SendMessagePayload
	if err := h.decoder.payload(env.Data, &payload); err != nil {
		return invalid(err)
	}

	msg, err := h.messages.Send(ctx, c.user.ID, &model.SendMessageRequest{
		ReceiverID: payload.ReceiverID,
		Content:    payload.Content,
	}, metrics.ChannelPush)
	if err != nil {
		return err
	}

	c.emit(EventMessageSent, msg)
	return nil
}

func (h *Hub) handleTyping(c *Client, env Envelope, event string) error {
	var payload ConversationPayload
	if err := h.decoder.payload(env.Data, &payload); err != nil {
		return invalid(err)
	}

	conversationID := strings.TrimSpace(payload.ConversationID)
	if err := service.AuthorizeConversation(conversationID, c.user.ID); err != nil {
		return err
	}

	data := UserPayload{UserID: c.user.ID}
	if event == EventTypingStarted {
		data.Name = c.user.DisplayName
	}
	h.emitToRoom(conversationRoom(conversationID), event, data,
		func(member *Client) bool { return member == c },
	)
	return nil
}

func (h *Hub) handleMessagesRead(ctx context.Context, c *Client, env Envelope) error {
	var payload ConversationPayload
	if err := h.decoder.payload(env.Data, &payload); err != nil {
		return invalid(err)
	}

	_, err := h.messages.MarkRead(ctx, c.user.ID, strings.TrimSpace(payload.ConversationID), metrics.ChannelPush)
	return err
}

func (h *Hub) handleLocationUpdate(ctx context.Context, c *Client, env Envelope) error {
	var payload LocationPayload
	if err := h.decoder.payload(env.Data, &payload); err != nil {
		return invalid(err)
	}

	if err := h.directory.UpdateLocation(ctx, c.user.ID, *payload.Longitude, *payload.Latitude); err != nil {
		return profileUpdateError("failed to update location", err)
	}

	h.broadcast(EventLocationUpdated, LocationUpdatedPayload{
		UserID:   c.user.ID,
		Location: LocationCoords{Coordinates: [2]float64{*payload.Longitude, *payload.Latitude}},
	}, c)
	return nil
}

func (h *Hub) handleAvailabilityToggle(ctx context.Context, c *Client, env Envelope) error {
	var payload AvailabilityPayload
	if err := h.decoder.payload(env.Data, &payload); err != nil {
		return invalid(err)
	}

	if err := h.directory.SetAvailability(ctx, c.user.ID, *payload.IsAvailable, payload.Message); err != nil {
		return profileUpdateError("failed to update availability", err)
	}

	h.broadcast(EventAvailabilityChanged, AvailabilityChangedPayload{
		UserID:      c.user.ID,
		IsAvailable: *payload.IsAvailable,
		Message:     payload.Message,
	}, c)
	return nil
}

func profileUpdateError(message string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Internal(message, err)
}
