package models

import (
	"time"

	"gorm.io/gorm"
)

// ChatHistory represents a persisted chat message in the PostgreSQL database.
// The embedded gorm.Model provides ID, CreatedAt, UpdatedAt, and DeletedAt
// fields; the numeric primary key becomes the server-assigned message ID.
type ChatHistory struct {
	gorm.Model

	// ConversationID is the sorted-pair key of the two participants.
	ConversationID string `gorm:"type:text;not null;index:idx_conv_msg"`
	// ClientMessageID is the correlation key assigned by the sender at send
	// time. Stored so reconnecting clients can deduplicate history against
	// their optimistic sends.
	ClientMessageID string `gorm:"type:text;index"`
	// SenderID is the identity of the user who sent the message.
	SenderID string `gorm:"type:text;not null;index:idx_conv_msg"`
	// ReceiverID is the identity of the other participant.
	ReceiverID string `gorm:"type:text;not null"`
	// Content is the text body. May be empty when ImageURL is set.
	Content string `gorm:"type:text"`
	// ImageURL points at an attached image, if any.
	ImageURL string `gorm:"type:text"`
	// Status is the last known delivery status ("sent", "delivered", "read").
	Status string `gorm:"type:text"`
	// SentAt is the client-reported send instant, the ordering key.
	SentAt time.Time `gorm:"index"`
}
