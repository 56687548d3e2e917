package chathub

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"fitclub/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// WebSocketClient implements the chathub.Client interface over a websocket
// connection.
type WebSocketClient struct {
	UserID         string
	ConversationID string
	Conn           *websocket.Conn
	Hub            *ManagerService
	Send           chan models.Frame
}

func (c *WebSocketClient) GetUserID() string                   { return c.UserID }
func (c *WebSocketClient) GetConversationID() string           { return c.ConversationID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Frame { return c.Send }

// Run starts the pumps for the connection.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the Send channel, which stops the write pump.
func (c *WebSocketClient) Close() {
	close(c.Send)
	// readPump stops itself once Conn.Close() runs in its defer.
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error reading from client %s: %v", c.UserID, err)
			}
			break
		}

		frames, err := models.DecodeFrames(payload)
		if err != nil {
			log.Printf("Error decoding frame from client %s: %v", c.UserID, err)
			continue // skip the bad payload
		}

		for _, frame := range frames {
			c.Hub.IncomingCh <- Inbound{Client: c, Frame: frame}
		}
	}
}

// writePump reads frames from the Send channel and writes them to the
// websocket, coalescing whatever else is queued.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by the hub; close the ws connection.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				log.Printf("Error encoding frame for client %s: %v", c.UserID, err)
				continue
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			// Ping to keep the connection alive.
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
