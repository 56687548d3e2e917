package chatsync

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"fitclub/backend/internal/models"
)

// endpointURL appends the conversation and user identities to the base URL.
func (s *Session) endpointURL() string {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return s.cfg.BaseURL
	}
	q := u.Query()
	q.Set("conversationId", s.cfg.ConversationID)
	q.Set("userId", s.cfg.UserID)
	u.RawQuery = q.Encode()
	return u.String()
}

// connect opens the channel. It is a no-op while a channel handle exists or
// a dial is already in flight.
func (s *Session) connect() {
	if s.conn != nil || s.dialing {
		return
	}
	s.dialing = true
	s.state = StateConnecting
	s.lastError = ""
	s.notify()

	gen := s.connGen
	endpoint := s.endpointURL()
	var header http.Header
	if s.cfg.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + s.cfg.Token}}
	}

	go func() {
		conn, resp, err := s.cfg.Dialer.Dial(endpoint, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		s.post(func() { s.onDialDone(gen, conn, err) })
	}()
}

func (s *Session) onDialDone(gen int, conn *websocket.Conn, err error) {
	if gen != s.connGen {
		// Torn down while the dial was in flight. A newer dial may already
		// be running, so the dialing flag is not ours to clear.
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.dialing = false

	if err != nil {
		log.Printf("chatsync: dial %s failed: %v", s.cfg.ConversationID, err)
		s.state = StateError
		s.latchError("connection failed: " + err.Error())
		s.scheduleReconnect()
		s.notify()
		return
	}

	s.conn = conn
	s.attempts = 0
	s.state = StateOpen
	s.sendJoin()
	s.flushPending()
	go s.readPump(gen, conn)
	s.notify()
}

// readPump reads frames off the channel and hands them to the event loop.
// Runs on its own goroutine; it owns nothing but the conn it was given.
func (s *Session) readPump(gen int, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			readErr := err
			s.post(func() { s.onConnClosed(gen, readErr) })
			return
		}
		data := payload
		s.post(func() { s.handleFrames(gen, data) })
	}
}

func (s *Session) onConnClosed(gen int, err error) {
	if gen != s.connGen {
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connGen++
	s.state = StateClosed
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("chatsync: connection closed unexpectedly: %v", err)
		s.latchError("connection closed: " + err.Error())
	}
	if s.autoReconnect {
		s.scheduleReconnect()
	}
	s.notify()
}

// scheduleReconnect arms the linear backoff timer: attempt × base delay.
// Exhausting the ceiling stops the cycle; nothing else does.
func (s *Session) scheduleReconnect() {
	if !s.autoReconnect || s.reconnectTimer != nil {
		return
	}
	if s.attempts >= s.cfg.MaxAttempts {
		log.Printf("chatsync: giving up on %s after %d reconnect attempts", s.cfg.ConversationID, s.attempts)
		s.latchError("reconnect attempts exhausted")
		return
	}
	s.attempts++
	delay := time.Duration(s.attempts) * s.cfg.BaseDelay
	log.Printf("chatsync: reconnect attempt %d/%d in %s", s.attempts, s.cfg.MaxAttempts, delay)
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.post(func() {
			s.reconnectTimer = nil
			s.connect()
		})
	})
}

func (s *Session) cancelReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// teardownConn closes the channel handle and invalidates every in-flight
// dial and read pump tied to it.
func (s *Session) teardownConn() {
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	s.connGen++
	// An in-flight dial now belongs to a dead generation; let a new connect
	// proceed instead of waiting for it.
	s.dialing = false
}

// sendJoin announces the participant identities, once per successful open.
func (s *Session) sendJoin() {
	frame, err := models.NewFrame(models.FrameJoin, models.JoinData{
		ConversationID: s.cfg.ConversationID,
		UserID:         s.cfg.UserID,
		UserName:       s.cfg.UserName,
		PeerID:         s.cfg.PeerID,
		PeerName:       s.cfg.PeerName,
	})
	if err != nil {
		return
	}
	if err := s.writeFrame(frame); err != nil {
		log.Printf("chatsync: join handshake failed: %v", err)
	}
}

func (s *Session) writeFrame(frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// handleFrames decodes one wire payload (a single envelope or a batch) and
// dispatches each frame in array order. A payload that fails to parse is
// logged and dropped; nothing else is affected.
func (s *Session) handleFrames(gen int, payload []byte) {
	if gen != s.connGen {
		return
	}
	frames, err := models.DecodeFrames(payload)
	if err != nil {
		log.Printf("chatsync: dropping unparseable frame: %v", err)
		return
	}

	for _, frame := range frames {
		switch frame.Type {
		case models.FrameMessage:
			msg := NormalizeRaw(frame.Data)
			if msg == nil {
				log.Printf("chatsync: dropping message frame with unresolvable participants")
				continue
			}
			s.messages = Upsert(s.messages, *msg)

		case models.FrameHistory:
			// Merged entry-by-entry rather than replaced, so live messages
			// that arrived before the history resolved survive.
			s.messages = MergeAll(s.messages, NormalizeBatch(frame.Data))

		case models.FrameAcknowledge:
			ref, status := ResolveAckRef(frame.Data)
			if status == "" {
				status = models.StatusDelivered
			}
			Acknowledge(s.messages, ref, status)

		case models.FrameError:
			var ed models.ErrorData
			if err := json.Unmarshal(frame.Data, &ed); err == nil && ed.Message != "" {
				s.latchError(ed.Message)
			}

		case models.FrameInfo:
			log.Printf("chatsync: info frame: %s", frame.Data)

		default:
			log.Printf("chatsync: dropping frame of unknown type %q", frame.Type)
		}
	}
	s.notify()
}
