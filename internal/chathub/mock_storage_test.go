package chathub_test

import (
	"github.com/stretchr/testify/mock"

	"fitclub/backend/internal/models"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveMessage(msg *models.ChatHistory) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStorage) GetConversationHistory(conversationID string) ([]models.ChatHistory, error) {
	args := m.Called(conversationID)
	return args.Get(0).([]models.ChatHistory), args.Error(1)
}

func (m *MockStorage) EnsureConversation(conversationID string, participants []string) error {
	args := m.Called(conversationID, participants)
	return args.Error(0)
}

func (m *MockStorage) PublishFrame(conversationID string, frame models.Frame) error {
	args := m.Called(conversationID, frame)
	return args.Error(0)
}

func (m *MockStorage) SetOnline(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) SetOffline(userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockStorage) GetOnlineUsers() ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}
