package chathub

import "fitclub/backend/internal/models"

// Client is the interface for one connected chat participant. It abstracts
// the underlying connection so the hub can manage client types uniformly.
type Client interface {
	// GetUserID returns the unique identifier for the user associated with the client.
	GetUserID() string
	// GetConversationID returns the conversation the client joined.
	GetConversationID() string

	// GetSendChannel returns the channel to which the hub sends frames
	// intended for this specific client. It is a send-only channel.
	GetSendChannel() chan<- models.Frame

	// Run starts the client's read and write pumps.
	Run()
	// Close gracefully shuts down the client's connection and associated channels.
	Close()
}

// Inbound pairs a frame with the client it arrived from.
type Inbound struct {
	Client Client
	Frame  models.Frame
}
