// Package model defines data structures for the conversation service.
package model

import (
	"time"
)

// MaxContentLength is the maximum message length in characters.
const MaxContentLength = 2000

// Message is a single direct message between two users.
type Message struct {
	// Identity
	ID             string `json:"id" bson:"_id"`
	ConversationID string `json:"conversationId" bson:"conversationId"`

	// Participants
	SenderID   string `json:"senderId" bson:"senderId"`
	ReceiverID string `json:"receiverId" bson:"receiverId"`

	// Content
	Content string `json:"content" bson:"content"`

	// Read state, false -> true only
	IsRead bool       `json:"isRead" bson:"isRead"`
	ReadAt *time.Time `json:"readAt,omitempty" bson:"readAt,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Before reports whether m sorts before other in a transcript.
// Messages are ordered by creation time, ties broken by id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// PopulatedMessage is a message joined with its participants' public profiles.
type PopulatedMessage struct {
	Message
	Sender   *PublicProfile `json:"sender,omitempty"`
	Receiver *PublicProfile `json:"receiver,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	ConversationID string             `json:"conversationId"`
	Messages       []PopulatedMessage `json:"messages"`
	Limit          int                `json:"limit"`
	Offset         int                `json:"offset"`
}

// UnreadCountResponse is the response for the unread count query.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// MarkReadResponse is the response after marking a conversation read.
type MarkReadResponse struct {
	ConversationID string `json:"conversationId"`
	Updated        int64  `json:"updated"`
}

// ErrorEvent is the payload of an error pushed to a client.
type ErrorEvent struct {
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
