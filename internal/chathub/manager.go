package chathub

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"fitclub/backend/internal/chatsync"
	"fitclub/backend/internal/models"
	"fitclub/backend/internal/storage"
)

// ManagerService is the hub: it tracks connected clients per conversation,
// routes inbound frames, persists messages and acknowledges them back to
// their senders.
type ManagerService struct {
	// Clients maps conversationID -> userID -> client.
	Clients map[string]map[string]Client

	// Channels
	IncomingCh   chan Inbound
	RegisterCh   chan Client
	UnregisterCh chan Client

	Storage storage.Storage

	fanoutCh chan fanout
}

type fanout struct {
	ConversationID string
	Frame          models.Frame
}

// NewManagerService creates a hub bound to the given storage.
func NewManagerService(s storage.Storage) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]map[string]Client),
		IncomingCh:   make(chan Inbound, 64),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Storage:      s,
		fanoutCh:     make(chan fanout, 64),
	}
}

// Run is the hub's main loop. All client registry mutation happens here.
func (m *ManagerService) Run() {
	log.Println("Chat hub started.")

	for {
		select {
		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case in := <-m.IncomingCh:
			m.dispatch(in)

		case f := <-m.fanoutCh:
			// A frame published by another server instance. Local clients
			// deduplicate by message id, so redelivery is harmless.
			m.deliver(f.ConversationID, f.Frame, "")
		}
	}
}

func (m *ManagerService) register(client Client) {
	conv := client.GetConversationID()
	if m.Clients[conv] == nil {
		m.Clients[conv] = make(map[string]Client)
	}
	m.Clients[conv][client.GetUserID()] = client

	if err := m.Storage.SetOnline(client.GetUserID()); err != nil {
		log.Printf("Failed to mark %s online: %v", client.GetUserID(), err)
	}
	log.Printf("Client %s joined conversation %s", client.GetUserID(), conv)
}

func (m *ManagerService) unregister(client Client) {
	conv := client.GetConversationID()
	if peers, ok := m.Clients[conv]; ok {
		if existing, ok := peers[client.GetUserID()]; ok && existing == client {
			delete(peers, client.GetUserID())
			if len(peers) == 0 {
				delete(m.Clients, conv)
			}
			client.Close()
		}
	}
	if err := m.Storage.SetOffline(client.GetUserID()); err != nil {
		log.Printf("Failed to mark %s offline: %v", client.GetUserID(), err)
	}
}

func (m *ManagerService) dispatch(in Inbound) {
	switch in.Frame.Type {
	case models.FrameJoin:
		m.handleJoin(in)
	case models.FrameMessage:
		m.handleMessage(in)
	case models.FrameInfo:
		// nothing to route
	default:
		log.Printf("Ignoring frame of type %q from %s", in.Frame.Type, in.Client.GetUserID())
	}
}

// handleJoin records the conversation and seeds the joining client with the
// stored history.
func (m *ManagerService) handleJoin(in Inbound) {
	var join models.JoinData
	if err := json.Unmarshal(in.Frame.Data, &join); err != nil {
		log.Printf("Bad join frame from %s: %v", in.Client.GetUserID(), err)
		return
	}

	if err := m.Storage.EnsureConversation(join.ConversationID, []string{join.UserID, join.PeerID}); err != nil {
		log.Printf("Failed to ensure conversation %s: %v", join.ConversationID, err)
	}

	rows, err := m.Storage.GetConversationHistory(join.ConversationID)
	if err != nil {
		m.sendError(in.Client, "failed to load history")
		return
	}

	frame, err := models.NewFrame(models.FrameHistory, HistoryPayload(rows))
	if err != nil {
		return
	}
	m.send(in.Client, frame)
}

// handleMessage persists the message, acknowledges it to the sender and
// forwards it to the peer, locally and via Redis for other instances.
func (m *ManagerService) handleMessage(in Inbound) {
	msg := chatsync.NormalizeRaw(in.Frame.Data)
	if msg == nil {
		log.Printf("Dropping message with unresolvable participants from %s", in.Client.GetUserID())
		return
	}
	// The connection, not the payload, is authoritative about the sender.
	msg.SenderID = in.Client.GetUserID()

	row := models.ChatHistory{
		ConversationID:  msg.ConversationID,
		ClientMessageID: msg.ClientMessageID,
		SenderID:        msg.SenderID,
		ReceiverID:      msg.ReceiverID,
		Content:         msg.Content,
		ImageURL:        msg.ImageURL,
		Status:          string(models.StatusDelivered),
		SentAt:          msg.Timestamp,
	}
	if row.SentAt.IsZero() {
		row.SentAt = time.Now()
	}
	if err := m.Storage.SaveMessage(&row); err != nil {
		m.sendError(in.Client, "failed to save message")
		return
	}

	// Acknowledge to the sender with the server-assigned id so the client
	// can swap its locally generated one.
	ack, err := models.NewFrame(models.FrameAcknowledge, map[string]interface{}{
		"clientMessageId": msg.ClientMessageID,
		"messageId":       fmt.Sprint(row.ID),
		"status":          string(models.StatusDelivered),
	})
	if err == nil {
		m.send(in.Client, ack)
	}

	msg.ID = fmt.Sprint(row.ID)
	msg.Status = models.StatusDelivered
	forward, err := models.NewFrame(models.FrameMessage, chatsync.WirePayload(*msg))
	if err != nil {
		return
	}
	m.deliver(msg.ConversationID, forward, msg.SenderID)

	if err := m.Storage.PublishFrame(msg.ConversationID, forward); err != nil {
		log.Printf("Failed to publish message %s: %v", msg.ID, err)
	}
}

// deliver sends a frame to every local client of the conversation except the
// one identified by skipUserID.
func (m *ManagerService) deliver(conversationID string, frame models.Frame, skipUserID string) {
	for userID, client := range m.Clients[conversationID] {
		if userID == skipUserID {
			continue
		}
		select {
		case client.GetSendChannel() <- frame:
		default:
			// Slow client; drop it rather than stall the hub.
			m.unregister(client)
		}
	}
}

func (m *ManagerService) send(client Client, frame models.Frame) {
	select {
	case client.GetSendChannel() <- frame:
	default:
		m.unregister(client)
	}
}

func (m *ManagerService) sendError(client Client, message string) {
	frame, err := models.NewFrame(models.FrameError, models.ErrorData{Message: message})
	if err != nil {
		return
	}
	m.send(client, frame)
}

// HistoryPayload converts stored rows into the wire records a history frame
// carries, duplicating aliased fields for both naming conventions.
func HistoryPayload(rows []models.ChatHistory) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		msg := models.ChatMessage{
			ID:              fmt.Sprint(row.ID),
			ClientMessageID: row.ClientMessageID,
			ConversationID:  row.ConversationID,
			SenderID:        row.SenderID,
			ReceiverID:      row.ReceiverID,
			Content:         row.Content,
			ImageURL:        row.ImageURL,
			Timestamp:       row.SentAt,
			Status:          models.MessageStatus(row.Status),
		}
		out = append(out, chatsync.WirePayload(msg))
	}
	return out
}
