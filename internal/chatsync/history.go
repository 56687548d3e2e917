package chatsync

import (
	"log"

	"fitclub/backend/internal/models"
)

// loadHistory seeds the list from the injected history collaborator. Without
// a loader or a complete identity triple, the load flags stay at their
// initial state. Runs on the event loop.
func (s *Session) loadHistory() {
	if s.cfg.LoadHistory == nil ||
		s.cfg.ConversationID == "" || s.cfg.UserID == "" || s.cfg.PeerID == "" {
		s.historyState = HistoryNotStarted
		return
	}
	s.historyState = HistoryLoading
	s.notify()

	go func() {
		msgs, err := s.cfg.LoadHistory(s.ctx, s.cfg.ConversationID, s.cfg.UserID, s.cfg.PeerID)
		s.post(func() { s.onHistoryDone(msgs, err) })
	}()
}

// onHistoryDone applies the load result. Errors leave the list as-is and the
// flags back at not-started; the error latch keeps the first failure only.
func (s *Session) onHistoryDone(msgs []models.ChatMessage, err error) {
	if err != nil {
		log.Printf("chatsync: history load failed for %s: %v", s.cfg.ConversationID, err)
		s.historyState = HistoryNotStarted
		s.latchError("failed to load history: " + err.Error())
		s.notify()
		return
	}

	if len(s.messages) == 0 {
		s.messages = ReplaceHistory(msgs)
	} else {
		// Live messages beat the loader here; merge instead of replace.
		s.messages = MergeAll(s.messages, msgs)
	}
	s.historyState = HistoryLoaded
	s.notify()
}
