package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fitclub/backend/internal/chathub"
	"fitclub/backend/internal/chatsync"
	"fitclub/backend/internal/models"
)

// GetHistory returns the stored messages of a conversation in send order,
// in the wire-record shape clients normalize.
func (h *Handler) GetHistory(c *gin.Context) {
	if _, ok := h.bearerUserID(c); !ok {
		return
	}

	conversationID := c.Param("conversationId")
	rows, err := h.Storage.GetConversationHistory(conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}

	c.JSON(http.StatusOK, chathub.HistoryPayload(rows))
}

// PostMessage is the durable-write endpoint clients call alongside the live
// channel. It answers with the stored record, server-assigned id included.
func (h *Handler) PostMessage(c *gin.Context) {
	userID, ok := h.bearerUserID(c)
	if !ok {
		return
	}

	var record map[string]interface{}
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message payload"})
		return
	}

	msg := chatsync.Normalize(record)
	if msg == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderId and receiverId are required"})
		return
	}
	msg.SenderID = userID

	row := models.ChatHistory{
		ConversationID:  msg.ConversationID,
		ClientMessageID: msg.ClientMessageID,
		SenderID:        msg.SenderID,
		ReceiverID:      msg.ReceiverID,
		Content:         msg.Content,
		ImageURL:        msg.ImageURL,
		Status:          string(models.StatusSent),
		SentAt:          msg.Timestamp,
	}
	if row.SentAt.IsZero() {
		row.SentAt = time.Now()
	}
	if err := h.Storage.SaveMessage(&row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}

	saved := chathub.HistoryPayload([]models.ChatHistory{row})
	c.JSON(http.StatusCreated, saved[0])
}
