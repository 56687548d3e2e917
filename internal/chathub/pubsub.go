package chathub

import (
	"encoding/json"
	"log"
	"strings"

	"fitclub/backend/internal/models"
	"fitclub/backend/internal/storage"
)

// StartPubSubListener subscribes to the Redis conversation channels and
// funnels frames published by other server instances into the hub loop.
// Only usable with the concrete storage service; tests run without it.
func (m *ManagerService) StartPubSubListener() {
	svc, ok := m.Storage.(*storage.Service)
	if !ok {
		return
	}

	go func() {
		pubsub := svc.SubscribeAllConversations()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for msg := range ch {
			var frame models.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Printf("Error unmarshalling Redis frame: %v", err)
				continue
			}

			conversationID := strings.TrimPrefix(msg.Channel, "chat:")
			m.fanoutCh <- fanout{ConversationID: conversationID, Frame: frame}
		}
	}()
}
