package config

import "time"

const (
	// Reconnect
	ReconnectBaseDelay   = 1500 * time.Millisecond
	ReconnectMaxAttempts = 5

	// Reconciliation
	// MergeToleranceWindow is the timestamp slack allowed by the last-resort
	// same-sender/same-content dedupe scan.
	MergeToleranceWindow = 5 * time.Second

	// Channels
	SendChannelBuffer = 256
	MailboxBuffer     = 64
)
