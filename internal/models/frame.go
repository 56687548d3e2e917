package models

import (
	"bytes"
	"encoding/json"
)

// FrameType is the discriminator of a wire frame envelope.
type FrameType string

const (
	FrameMessage     FrameType = "message"
	FrameHistory     FrameType = "history"
	FrameAcknowledge FrameType = "acknowledge"
	FrameError       FrameType = "error"
	FrameInfo        FrameType = "info"
	FrameJoin        FrameType = "join"
)

// Frame is the envelope exchanged in both directions over the channel.
// Data is kept raw so each frame type can decode its own payload shape.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinData is the handshake payload sent once per successful open,
// announcing participant identities to the remote end.
type JoinData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	PeerID         string `json:"peerId"`
	PeerName       string `json:"peerName"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// DecodeFrames parses a wire payload into one or more frames. A batch may be
// delivered as a JSON array of envelopes instead of a single envelope; array
// order is preserved.
func DecodeFrames(payload []byte) ([]Frame, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var frames []Frame
		if err := json.Unmarshal(trimmed, &frames); err != nil {
			return nil, err
		}
		return frames, nil
	}

	var frame Frame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return nil, err
	}
	return []Frame{frame}, nil
}

// NewFrame builds an envelope around the given payload. Marshal errors are
// only possible for non-JSON-encodable payloads, which the callers never pass.
func NewFrame(t FrameType, data interface{}) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Data: raw}, nil
}
