package model

import (
	"time"
)

// EventType represents the type of a conversation event on the internal bus.
type EventType string

const (
	EventTypeMessageAppended EventType = "message.appended"
	EventTypeMessagesRead    EventType = "messages.read"
)

// ConversationEvent is emitted once per state change of the message store and
// consumed by every delivery channel.
type ConversationEvent struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversationId"`
	ActorID        string            `json:"actorId"`
	Message        *PopulatedMessage `json:"message,omitempty"`
	Updated        int64             `json:"updated,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// RecipientID returns the user the event is addressed to, if any.
func (e *ConversationEvent) RecipientID() string {
	if e.Message != nil {
		return e.Message.ReceiverID
	}
	return ""
}
