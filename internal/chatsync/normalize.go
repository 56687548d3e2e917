package chatsync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fitclub/backend/internal/models"
)

// The backend and its older mobile clients spell the same logical field two
// ways ("senderId" vs "senderID"). Normalization resolves either spelling
// into one canonical ChatMessage.

// pickString returns the first non-empty string value among the given keys.
func pickString(record map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// pickBool returns the first boolean value among the given keys.
func pickBool(record map[string]interface{}, keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := record[k]; ok {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

// parseInstant accepts the ISO-8601 forms the backend emits.
func parseInstant(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize canonicalizes one loosely-shaped inbound record. It returns nil
// when neither spelling of the sender or of the receiver resolves; that is
// the only hard validation rule, and callers drop such records.
func Normalize(record map[string]interface{}) *models.ChatMessage {
	senderID := pickString(record, "senderId", "senderID", "sender_id")
	receiverID := pickString(record, "receiverId", "receiverID", "receiver_id")
	if senderID == "" || receiverID == "" {
		return nil
	}

	conversationID := pickString(record, "conversationId", "conversationID", "conversation_id")
	if conversationID == "" {
		conversationID = models.ConversationID(senderID, receiverID)
	}

	id := pickString(record, "id", "messageId", "messageID", "chatId", "chatID")
	if id == "" {
		id = uuid.New().String()
	}

	clientMessageID := pickString(record, "clientMessageId", "clientMessageID", "client_message_id")
	if clientMessageID == "" {
		clientMessageID = id
	}

	timestamp := time.Now()
	if raw := pickString(record, "timestamp", "createdAt", "created_at", "updatedAt", "updated_at"); raw != "" {
		if t, ok := parseInstant(raw); ok {
			timestamp = t
		}
	}

	status := models.MessageStatus(pickString(record, "status"))
	if viewed, ok := pickBool(record, "isViewed", "viewed"); ok {
		if viewed {
			status = models.StatusRead
		} else {
			status = models.StatusDelivered
		}
	}

	return &models.ChatMessage{
		ID:              id,
		ClientMessageID: clientMessageID,
		ConversationID:  conversationID,
		SenderID:        senderID,
		ReceiverID:      receiverID,
		Content:         pickString(record, "content", "message", "text"),
		ImageURL:        pickString(record, "imageUrl", "imageURL", "image_url"),
		Timestamp:       timestamp,
		Status:          status,
	}
}

// NormalizeRaw decodes a raw JSON payload and normalizes it.
func NormalizeRaw(data json.RawMessage) *models.ChatMessage {
	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return Normalize(record)
}

// NormalizeBatch normalizes a history payload (an array of records),
// silently dropping records that fail normalization.
func NormalizeBatch(data json.RawMessage) []models.ChatMessage {
	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	out := make([]models.ChatMessage, 0, len(records))
	for _, r := range records {
		if msg := Normalize(r); msg != nil {
			out = append(out, *msg)
		}
	}
	return out
}

// ResolveAckRef extracts the message reference and optional status from an
// acknowledge payload, accepting every alias the backends are known to send.
func ResolveAckRef(data json.RawMessage) (ref string, status models.MessageStatus) {
	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		return "", ""
	}
	ref = pickString(record, "messageId", "messageID", "chatId", "chatID", "id", "clientMessageId", "clientMessageID")
	status = models.MessageStatus(pickString(record, "status"))
	return ref, status
}

// WirePayload renders a canonical message for transmission, duplicating every
// aliased field in both naming conventions so heterogeneous backends can
// consume either.
func WirePayload(m models.ChatMessage) map[string]interface{} {
	p := map[string]interface{}{
		"id":              m.ID,
		"messageId":       m.ID,
		"messageID":       m.ID,
		"clientMessageId": m.ClientMessageID,
		"clientMessageID": m.ClientMessageID,
		"conversationId":  m.ConversationID,
		"conversationID":  m.ConversationID,
		"senderId":        m.SenderID,
		"senderID":        m.SenderID,
		"receiverId":      m.ReceiverID,
		"receiverID":      m.ReceiverID,
		"content":         m.Content,
		"timestamp":       m.Timestamp.Format(time.RFC3339Nano),
	}
	if m.ImageURL != "" {
		p["imageUrl"] = m.ImageURL
		p["imageURL"] = m.ImageURL
	}
	if m.Status != "" {
		p["status"] = string(m.Status)
	}
	return p
}
