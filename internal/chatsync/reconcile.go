package chatsync

import (
	"sort"

	"fitclub/backend/internal/config"
	"fitclub/backend/internal/models"
)

// The reconciler merges messages arriving from three sources (loaded history,
// the live channel, and the user's own optimistic sends) into one ordered
// list, keeping the invariant that no two entries share a ClientMessageID.

// matchIndex finds the existing entry that describes the same logical message
// as the incoming one. Rules are tried in priority order across the whole
// list; the first hit wins.
func matchIndex(list []models.ChatMessage, in models.ChatMessage) int {
	// 1. identical id
	if in.ID != "" {
		for i, e := range list {
			if e.ID == in.ID {
				return i
			}
		}
	}
	// 2. incoming correlation key equals an existing id or correlation key
	if in.ClientMessageID != "" {
		for i, e := range list {
			if e.ID == in.ClientMessageID || e.ClientMessageID == in.ClientMessageID {
				return i
			}
		}
	}
	// 3. existing correlation key equals the incoming id
	if in.ID != "" {
		for i, e := range list {
			if e.ClientMessageID == in.ID {
				return i
			}
		}
	}
	// 4. last-resort heuristic for backends that do not echo correlation
	// ids: same conversation, sender, content and image, timestamps within
	// the tolerance window. Two legitimately identical messages sent in
	// quick succession can false-positive here; accepted.
	for i, e := range list {
		if e.ConversationID == in.ConversationID &&
			e.SenderID == in.SenderID &&
			e.Content == in.Content &&
			e.ImageURL == in.ImageURL {
			delta := e.Timestamp.Sub(in.Timestamp)
			if delta < 0 {
				delta = -delta
			}
			if delta <= config.MergeToleranceWindow {
				return i
			}
		}
	}
	return -1
}

// mergeMessages overlays the incoming message on the existing one. Incoming
// fields win when set; zero-valued incoming fields leave the existing value
// alone, which lets a partial persistence result patch a local entry.
func mergeMessages(existing, in models.ChatMessage) models.ChatMessage {
	out := existing
	if in.ConversationID != "" {
		out.ConversationID = in.ConversationID
	}
	if in.SenderID != "" {
		out.SenderID = in.SenderID
	}
	if in.ReceiverID != "" {
		out.ReceiverID = in.ReceiverID
	}
	if in.Content != "" {
		out.Content = in.Content
	}
	if in.ImageURL != "" {
		out.ImageURL = in.ImageURL
	}
	if !in.Timestamp.IsZero() {
		out.Timestamp = in.Timestamp
	}
	if in.Status != "" {
		out.Status = in.Status
	}

	// The incoming id always wins, so a server-assigned id replaces a
	// locally generated one. The correlation key is preserved through the
	// replacement.
	if in.ID != "" {
		out.ID = in.ID
	}
	switch {
	case in.ClientMessageID != "":
		out.ClientMessageID = in.ClientMessageID
	case existing.ClientMessageID != "":
		out.ClientMessageID = existing.ClientMessageID
	default:
		out.ClientMessageID = existing.ID
	}
	return out
}

// sortMessages orders the list by timestamp ascending. The sort is stable so
// entries with identical timestamps keep their relative insertion order.
func sortMessages(list []models.ChatMessage) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
}

// Upsert inserts or merges one canonical message into the ordered list and
// returns the updated list, re-sorted.
func Upsert(list []models.ChatMessage, in models.ChatMessage) []models.ChatMessage {
	if i := matchIndex(list, in); i >= 0 {
		list[i] = mergeMessages(list[i], in)
	} else {
		list = append(list, in)
	}
	sortMessages(list)
	return list
}

// MergeAll runs every message through Upsert in order. Used for history
// frames arriving over the live channel, so messages that raced in before
// the history resolved survive the merge.
func MergeAll(list []models.ChatMessage, batch []models.ChatMessage) []models.ChatMessage {
	for _, m := range batch {
		list = Upsert(list, m)
	}
	return list
}

// ReplaceHistory discards the current list in favor of a freshly loaded one.
// Used when a session seeds from the history loader before any live traffic.
func ReplaceHistory(batch []models.ChatMessage) []models.ChatMessage {
	list := make([]models.ChatMessage, len(batch))
	copy(list, batch)
	sortMessages(list)
	return list
}

// Acknowledge patches the status of the entry matching ref, resolved through
// the same id/correlation-key chain used elsewhere. An unknown ref is a
// no-op; nothing but the status is touched.
func Acknowledge(list []models.ChatMessage, ref string, status models.MessageStatus) bool {
	if ref == "" || status == "" {
		return false
	}
	for i, e := range list {
		if e.ID == ref || e.ClientMessageID == ref {
			list[i].Status = status
			return true
		}
	}
	return false
}
