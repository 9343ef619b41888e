package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Client to server events.
const (
	EventConversationJoin   = "conversation:join"
	EventConversationLeave  = "conversation:leave"
	EventMessageSend        = "message:send"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventMessagesRead       = "messages:read"
	EventLocationUpdate     = "location:update"
	EventAvailabilityToggle = "availability:toggle"
)

// Server to client events.
const (
	EventMessageNew          = "message:new"
	EventMessageSent         = "message:sent"
	EventMessageReceived     = "message:received"
	EventTypingStarted       = "typing:started"
	EventTypingStopped       = "typing:stopped"
	EventMessagesMarkedRead  = "messages:marked-read"
	EventUserOnline          = "user:online"
	EventUserOffline         = "user:offline"
	EventUsersOnline         = "users:online"
	EventLocationUpdated     = "user:location-updated"
	EventAvailabilityChanged = "user:availability-changed"
	EventError               = "error"
)

// Envelope is the frame exchanged in both directions over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// encode builds an outbound frame.
func encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// SendMessagePayload is the data of message:send.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content"`
}

// ConversationPayload is the data of typing and read events.
type ConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

// LocationPayload is the data of location:update.
type LocationPayload struct {
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
}

// AvailabilityPayload is the data of availability:toggle.
type AvailabilityPayload struct {
	IsAvailable *bool  `json:"isAvailable" validate:"required"`
	Message     string `json:"message,omitempty" validate:"max=500"`
}

// UserPayload identifies a user in presence and typing events.
type UserPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// MarkedReadPayload is the data of messages:marked-read.
type MarkedReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// LocationUpdatedPayload is the data of user:location-updated.
type LocationUpdatedPayload struct {
	UserID   string         `json:"userId"`
	Location LocationCoords `json:"location"`
}

// LocationCoords is a GeoJSON coordinate pair, [longitude, latitude].
type LocationCoords struct {
	Coordinates [2]float64 `json:"coordinates"`
}

// AvailabilityChangedPayload is the data of user:availability-changed.
type AvailabilityChangedPayload struct {
	UserID      string `json:"userId"`
	IsAvailable bool   `json:"isAvailable"`
	Message     string `json:"message,omitempty"`
}

// ErrorPayload is the data of error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// decoder validates inbound payloads before they reach a handler.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &decoder{validate: v}
}

// conversationID decodes the bare string payload of conversation:join and
// conversation:leave.
func (d *decoder) conversationID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", errors.New("conversation id must be a string")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("conversation id is required")
	}
	return id, nil
}

// payload decodes data into v and validates it.
func (d *decoder) payload(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("malformed payload")
	}
	if err := d.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("invalid %s", fieldErrs[0].Field())
		}
		return errors.New("invalid payload")
	}
	return nil
}
