package model

import (
	"sort"
	"strings"
)

// conversationSeparator joins the two participant ids of a conversation id.
const conversationSeparator = "_"

// ValidUserID reports whether id can take part in a conversation id.
// The separator is reserved, otherwise ("a_b", "c") and ("a", "b_c") would
// share a conversation.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, conversationSeparator)
}

// ConversationIDFor returns the conversation id shared by every message
// exchanged between userA and userB, whichever of them is the sender.
//
// Ids are compared as their canonical string form, so the result is
// commutative for any id space that stringifies stably.
func ConversationIDFor(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return strings.Join(ids, conversationSeparator)
}

// Participants splits a conversation id into its two user ids.
func Participants(conversationID string) (string, string, bool) {
	a, b, ok := strings.Cut(conversationID, conversationSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, conversationSeparator) {
		return "", "", false
	}
	if ConversationIDFor(a, b) != conversationID {
		return "", "", false
	}
	return a, b, true
}

// IsParticipant reports whether userID is one of the two users of conversationID.
func IsParticipant(conversationID, userID string) bool {
	a, b, ok := Participants(conversationID)
	return ok && (a == userID || b == userID)
}

// ConversationSummary is the store-level view of one conversation for a user.
type ConversationSummary struct {
	ConversationID string
	OtherUserID    string
	LastMessage    Message
	UnreadCount    int64
}

// Conversation is a conversation as listed for a viewing user.
type Conversation struct {
	ConversationID string         `json:"conversationId"`
	OtherUser      *PublicProfile `json:"otherUser"`
	LastMessage    Message        `json:"lastMessage"`
	UnreadCount    int64          `json:"unreadCount"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	TotalUnread   int64          `json:"totalUnread"`
}
