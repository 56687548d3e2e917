package chatsync

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"fitclub/backend/internal/models"
)

// send turns user intent into a durable, deduplicatable message: optimistic
// list insert first, then fire-and-forget transmission and persistence.
// Runs on the event loop.
func (s *Session) send(content, imageURL string) {
	content = strings.TrimSpace(content)
	if content == "" && imageURL == "" {
		return
	}

	id := uuid.New().String()
	msg := models.ChatMessage{
		ID:              id,
		ClientMessageID: id,
		ConversationID:  s.cfg.ConversationID,
		SenderID:        s.cfg.UserID,
		ReceiverID:      s.cfg.PeerID,
		Content:         content,
		ImageURL:        imageURL,
		Timestamp:       time.Now(),
		Status:          models.StatusPending,
	}
	open := s.state == StateOpen && s.conn != nil
	if open {
		msg.Status = models.StatusSent
	}

	// Visible immediately; never waits for any network round-trip.
	s.messages = Upsert(s.messages, msg)

	if open {
		s.transmit(msg)
	} else {
		s.pending = append(s.pending, msg)
	}

	if s.cfg.Persist != nil {
		go func() {
			saved, err := s.cfg.Persist(s.ctx, s.cfg.ConversationID, s.cfg.UserID, s.cfg.PeerID, msg)
			s.post(func() { s.onPersistDone(id, saved, err) })
		}()
	}
	s.notify()
}

// onPersistDone folds a persistence result back into the list. A failure
// marks the one message, latches the first session error and leaves the
// send un-retried.
func (s *Session) onPersistDone(localID string, saved models.ChatMessage, err error) {
	if err != nil {
		log.Printf("chatsync: persist failed for %s: %v", localID, err)
		for i := range s.messages {
			if s.messages[i].ID == localID || s.messages[i].ClientMessageID == localID {
				s.messages[i].Status = models.StatusError
				break
			}
		}
		s.latchError("failed to save message: " + err.Error())
		s.notify()
		return
	}

	if saved.ClientMessageID == "" {
		saved.ClientMessageID = localID
	}
	if saved.Status == "" {
		saved.Status = models.StatusSent
	}
	s.messages = Upsert(s.messages, saved)
	s.notify()
}

// transmit writes one message frame to the open channel.
func (s *Session) transmit(msg models.ChatMessage) {
	frame, err := models.NewFrame(models.FrameMessage, WirePayload(msg))
	if err != nil {
		return
	}
	if err := s.writeFrame(frame); err != nil {
		log.Printf("chatsync: transmit failed for %s: %v", msg.ID, err)
	}
}

// flushPending transmits the queue built up while disconnected, in FIFO
// order. On a write failure the unsent tail is kept for the next open.
func (s *Session) flushPending() {
	if len(s.pending) == 0 {
		return
	}
	queue := s.pending
	s.pending = nil
	for i, msg := range queue {
		frame, err := models.NewFrame(models.FrameMessage, WirePayload(msg))
		if err != nil {
			continue
		}
		if err := s.writeFrame(frame); err != nil {
			log.Printf("chatsync: flush interrupted at %d/%d: %v", i, len(queue), err)
			s.pending = queue[i:]
			return
		}
	}
}
