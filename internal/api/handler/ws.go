package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fitclub/backend/internal/chathub"
	"fitclub/backend/internal/config"
	"fitclub/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Tighten for production!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the HTTP connection to a websocket and registers
// the client with the hub. The conversation and user identities come from
// the query string; the bearer token must agree with the claimed user.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID, ok := h.bearerUserID(c)
	if !ok {
		return
	}

	conversationID := c.Query("conversationId")
	claimedUser := c.Query("userId")
	if conversationID == "" || claimedUser == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversationId and userId are required"})
		return
	}
	if claimedUser != userID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not match userId"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	client := &chathub.WebSocketClient{
		Hub:            h.Hub,
		UserID:         userID,
		ConversationID: conversationID,
		Conn:           conn,
		Send:           make(chan models.Frame, config.SendChannelBuffer),
	}

	h.Hub.RegisterCh <- client
	client.Run()
}
