package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"fitclub/backend/internal/models"
)

// HTTP-backed collaborator implementations against the chat backend's REST
// surface, so callers can wire a complete client without custom glue.

// NewHTTPHistoryLoader returns a HistoryLoadFunc that fetches
// GET {baseURL}/history/{conversationId}.
func NewHTTPHistoryLoader(baseURL, token string, client *http.Client) HistoryLoadFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, conversationID, userID, peerID string) ([]models.ChatMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/history/"+conversationID, nil)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("history request failed: %s: %s", resp.Status, body)
		}

		var records []map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			return nil, err
		}
		msgs := make([]models.ChatMessage, 0, len(records))
		for _, r := range records {
			if m := Normalize(r); m != nil {
				msgs = append(msgs, *m)
			}
		}
		return msgs, nil
	}
}

// NewHTTPPersister returns a PersistFunc that writes the message via
// POST {baseURL}/messages and folds the stored record back.
func NewHTTPPersister(baseURL, token string, client *http.Client) PersistFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, conversationID, userID, peerID string, msg models.ChatMessage) (models.ChatMessage, error) {
		payload, err := json.Marshal(WirePayload(msg))
		if err != nil {
			return models.ChatMessage{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return models.ChatMessage{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return models.ChatMessage{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(resp.Body)
			return models.ChatMessage{}, fmt.Errorf("persist request failed: %s: %s", resp.Status, body)
		}

		var record map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return models.ChatMessage{}, err
		}
		saved := Normalize(record)
		if saved == nil {
			// Backend echoed a partial record; keep the local entry.
			return msg, nil
		}
		return *saved, nil
	}
}
