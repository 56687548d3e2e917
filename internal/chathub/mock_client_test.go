package chathub_test

import (
	"fitclub/backend/internal/models"
)

type MockClient struct {
	userID         string
	conversationID string
	RecvChannel    chan models.Frame
	closed         bool
}

func newMockClient(userID, conversationID string) *MockClient {
	return &MockClient{
		userID:         userID,
		conversationID: conversationID,
		RecvChannel:    make(chan models.Frame, 10),
	}
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetConversationID() string {
	return c.conversationID
}

func (c *MockClient) GetSendChannel() chan<- models.Frame {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed = true
}
