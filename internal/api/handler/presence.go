package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetPresence returns every user currently connected to a chat channel, so
// the member and trainer screens can show availability dots.
func (h *Handler) GetPresence(c *gin.Context) {
	if _, ok := h.bearerUserID(c); !ok {
		return
	}

	users, err := h.Storage.GetOnlineUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load presence"})
		return
	}
	if users == nil {
		users = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"online": users})
}
