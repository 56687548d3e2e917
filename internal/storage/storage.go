package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"fitclub/backend/internal/models"
)

// Storage is what the chat hub and the HTTP handlers need from persistence.
type Storage interface {
	SaveMessage(msg *models.ChatHistory) error
	GetConversationHistory(conversationID string) ([]models.ChatHistory, error)
	EnsureConversation(conversationID string, participants []string) error

	PublishFrame(conversationID string, frame models.Frame) error

	SetOnline(userID string) error
	SetOffline(userID string) error
	GetOnlineUsers() ([]string, error)
}

// statusRank orders delivery statuses so a duplicate write never regresses
// a message that already advanced.
var statusRank = map[string]int{
	"pending":   0,
	"sent":      1,
	"delivered": 2,
	"read":      3,
}

// Service backs Storage with PostgreSQL (message history, conversations) and
// Redis (cross-instance fanout, presence).
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	Ctx   context.Context
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		Ctx:   context.Background(),
	}
}

// SaveMessage persists one message row. The gorm primary key assigned here
// becomes the server-side message ID clients reconcile against. A message
// can reach the backend twice, over the channel and through the REST write;
// the correlation key makes the second arrival an update, not a new row.
func (s *Service) SaveMessage(msg *models.ChatHistory) error {
	if msg.ClientMessageID != "" {
		var existing models.ChatHistory
		err := s.DB.Where("conversation_id = ? AND client_message_id = ?",
			msg.ConversationID, msg.ClientMessageID).First(&existing).Error
		if err == nil {
			msg.ID = existing.ID
			msg.CreatedAt = existing.CreatedAt
			if statusRank[existing.Status] > statusRank[msg.Status] {
				msg.Status = existing.Status
			}
			return s.DB.Save(msg).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	if err := s.DB.Create(msg).Error; err != nil {
		log.Printf("ERROR: Failed to save message for conversation %s: %v", msg.ConversationID, err)
		return err
	}

	// Bump the conversation's last-activity marker; best effort.
	s.DB.Model(&models.Conversation{}).
		Where("id = ?", msg.ConversationID).
		Update("last_message_at", time.Now())

	return nil
}

// GetConversationHistory returns the stored messages for a conversation in
// send order. A missing conversation yields an empty list, not an error.
func (s *Service) GetConversationHistory(conversationID string) ([]models.ChatHistory, error) {
	var history []models.ChatHistory
	err := s.DB.Where("conversation_id = ?", conversationID).
		Order("sent_at asc, id asc").
		Find(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return history, nil
		}
		log.Printf("ERROR: Failed to get history for conversation %s: %v", conversationID, err)
		return nil, err
	}
	return history, nil
}

// EnsureConversation creates the conversation row on first contact.
func (s *Service) EnsureConversation(conversationID string, participants []string) error {
	conv := models.Conversation{
		ID:           conversationID,
		Participants: participants,
		StartedAt:    time.Now(),
	}
	result := s.DB.Where("id = ?", conversationID).FirstOrCreate(&conv)
	if result.Error != nil {
		log.Printf("ERROR: Failed to ensure conversation %s: %v", conversationID, result.Error)
		return result.Error
	}
	return nil
}

// PublishFrame publishes a frame on the conversation's Redis channel so
// other server instances can deliver it to their local clients.
func (s *Service) PublishFrame(conversationID string, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.Redis.Publish(s.Ctx, "chat:"+conversationID, payload).Err()
}

// SubscribeAllConversations subscribes to every conversation channel.
func (s *Service) SubscribeAllConversations() *redis.PubSub {
	return s.Redis.PSubscribe(s.Ctx, "chat:*")
}

// SetOnline adds the user to the presence set.
func (s *Service) SetOnline(userID string) error {
	return s.Redis.SAdd(s.Ctx, "online_users", userID).Err()
}

// SetOffline removes the user from the presence set.
func (s *Service) SetOffline(userID string) error {
	return s.Redis.SRem(s.Ctx, "online_users", userID).Err()
}

// GetOnlineUsers returns every user currently marked online.
func (s *Service) GetOnlineUsers() ([]string, error) {
	return s.Redis.SMembers(s.Ctx, "online_users").Result()
}
