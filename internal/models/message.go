package models

import (
	"sort"
	"time"
)

// MessageStatus tracks the delivery lifecycle of a chat message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

// ChatMessage is the canonical in-memory message. Inbound records in either
// field-name convention are normalized into this shape before they touch the
// session's ordered list.
type ChatMessage struct {
	// ID is the message identity once known to the system. It is locally
	// generated for optimistic sends and may be replaced by a server-assigned
	// value after persistence.
	ID string `json:"id"`
	// ClientMessageID is a stable correlation key generated at send time.
	// It survives ID replacement so the same user action can always be
	// re-found regardless of what the server later calls it.
	ClientMessageID string        `json:"clientMessageId"`
	ConversationID  string        `json:"conversationId"`
	SenderID        string        `json:"senderId"`
	ReceiverID      string        `json:"receiverId"`
	Content         string        `json:"content"`
	ImageURL        string        `json:"imageUrl,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	Status          MessageStatus `json:"status,omitempty"`
}

// ConversationID derives the stable key for a two-party chat from the
// lexicographically sorted pair of participant identities.
func ConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
