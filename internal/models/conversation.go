package models

import (
	"time"

	"github.com/lib/pq" // needed for pq.StringArray
)

// Conversation represents a two-party chat between a member and a trainer.
type Conversation struct {
	// ID is the sorted-pair key of the participants.
	ID string `gorm:"primaryKey" json:"id"`
	// Participants holds both user identities.
	Participants pq.StringArray `gorm:"type:text[]"`
	// StartedAt is when the conversation row was first created.
	StartedAt time.Time
	// LastMessageAt is bumped on every persisted message.
	LastMessageAt time.Time
}
