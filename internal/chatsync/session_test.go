package chatsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitclub/backend/internal/chatsync"
	"fitclub/backend/internal/models"
)

// wsServer is a minimal websocket peer recording every frame it receives
// and able to push frames back.
type wsServer struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []models.Frame
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go func() {
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				frames, err := models.DecodeFrames(payload)
				if err != nil {
					continue
				}
				s.mu.Lock()
				s.frames = append(s.frames, frames...)
				s.mu.Unlock()
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) received() []models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *wsServer) receivedOfType(t models.FrameType) []models.Frame {
	var out []models.Frame
	for _, f := range s.received() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// push writes a frame to the most recent connection.
func (s *wsServer) push(frame interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns, "no client connected yet")
	conn := s.conns[len(s.conns)-1]
	data, err := json.Marshal(frame)
	require.NoError(s.t, err)
	require.NoError(s.t, conn.WriteMessage(websocket.TextMessage, data))
}

// testDialer wraps the default dialer, counting attempts and optionally
// refusing them.
type testDialer struct {
	mu      sync.Mutex
	dials   int
	failing bool
}

func (d *testDialer) Dial(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	d.dials++
	failing := d.failing
	d.mu.Unlock()
	if failing {
		return nil, nil, errors.New("dial refused")
	}
	return websocket.DefaultDialer.Dial(urlStr, header)
}

func (d *testDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *testDialer) setFailing(failing bool) {
	d.mu.Lock()
	d.failing = failing
	d.mu.Unlock()
}

func waitState(t *testing.T, s *chatsync.Session, want chatsync.ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == want
	}, 2*time.Second, 10*time.Millisecond, "session never reached state %s", want)
}

// TestConnectSendsJoinHandshake verifies the first frame after an open is
// the join announcement carrying the participant identities.
func TestConnectSendsJoinHandshake(t *testing.T) {
	server := newWSServer(t)

	session := chatsync.NewSession(chatsync.Config{
		BaseURL:  server.url(),
		UserID:   "member1",
		UserName: "Mia",
		PeerID:   "trainer1",
		PeerName: "Tom",
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateOpen)

	require.Eventually(t, func() bool {
		return len(server.received()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	first := server.received()[0]
	assert.Equal(t, models.FrameJoin, first.Type)

	var join models.JoinData
	require.NoError(t, json.Unmarshal(first.Data, &join))
	assert.Equal(t, "member1", join.UserID)
	assert.Equal(t, "trainer1", join.PeerID)
	assert.Equal(t, models.ConversationID("member1", "trainer1"), join.ConversationID)
}

// TestSendWhileDisconnectedQueuesPending: sends composed while the channel
// is down appear immediately with status pending and pile up in the queue.
func TestSendWhileDisconnectedQueuesPending(t *testing.T) {
	dialer := &testDialer{failing: true}
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           dialer,
		DisableReconnect: true,
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateError)

	session.Send("hi", "")
	session.Send("anyone there?", "")
	session.Send("   ", "") // empty after trim: no-op

	require.Eventually(t, func() bool {
		return session.Snapshot().PendingSends == 2
	}, 2*time.Second, 10*time.Millisecond)

	snap := session.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, models.StatusPending, snap.Messages[0].Status)
	assert.Equal(t, "hi", snap.Messages[0].Content)
}

// TestOfflineQueueFlushedInOrder: N sends while disconnected become exactly
// N transmitted frames, in send order, and the queue drains.
func TestOfflineQueueFlushedInOrder(t *testing.T) {
	server := newWSServer(t)
	dialer := &testDialer{failing: true}

	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          server.url(),
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           dialer,
		DisableReconnect: true,
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateError)

	session.Send("one", "")
	session.Send("two", "")
	session.Send("three", "")
	require.Eventually(t, func() bool {
		return session.Snapshot().PendingSends == 3
	}, 2*time.Second, 10*time.Millisecond)

	dialer.setFailing(false)
	session.Reconnect()
	waitState(t, session, chatsync.StateOpen)

	require.Eventually(t, func() bool {
		return len(server.receivedOfType(models.FrameMessage)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	var contents []string
	for _, f := range server.receivedOfType(models.FrameMessage) {
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(f.Data, &record))
		contents = append(contents, record["content"].(string))
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
	assert.Equal(t, 0, session.Snapshot().PendingSends)
}

// TestBackoffCeiling: five consecutive failed attempts exhaust the cycle;
// no sixth reconnect is ever scheduled.
func TestBackoffCeiling(t *testing.T) {
	dialer := &testDialer{failing: true}
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:   "ws://127.0.0.1:0/ws",
		UserID:    "member1",
		PeerID:    "trainer1",
		Dialer:    dialer,
		BaseDelay: time.Millisecond,
	})
	session.Run()
	defer session.Close()

	// Initial dial plus 5 backoff retries.
	require.Eventually(t, func() bool {
		return dialer.count() == 6
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 6, dialer.count(), "no attempt beyond the ceiling")
	assert.NotEmpty(t, session.Snapshot().LastError)
}

// TestOptimisticThenEchoCollapses: the server echoing a send under its own
// id merges into the optimistic entry instead of duplicating it.
func TestOptimisticThenEchoCollapses(t *testing.T) {
	server := newWSServer(t)
	session := chatsync.NewSession(chatsync.Config{
		BaseURL: server.url(),
		UserID:  "member1",
		PeerID:  "trainer1",
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateOpen)
	session.Send("see you at 6", "")

	require.Eventually(t, func() bool {
		return len(server.receivedOfType(models.FrameMessage)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := session.Snapshot()
	require.Len(t, snap.Messages, 1)
	clientID := snap.Messages[0].ClientMessageID

	server.push(map[string]interface{}{
		"type": "message",
		"data": map[string]interface{}{
			"id":              "srv-100",
			"clientMessageId": clientID,
			"senderId":        "member1",
			"receiverId":      "trainer1",
			"content":         "see you at 6",
			"timestamp":       snap.Messages[0].Timestamp.Format(time.RFC3339Nano),
			"status":          "delivered",
		},
	})

	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-100"
	}, 2*time.Second, 10*time.Millisecond)

	final := session.Snapshot().Messages[0]
	assert.Equal(t, clientID, final.ClientMessageID, "correlation key survives id replacement")
	assert.Equal(t, models.StatusDelivered, final.Status)
}

// TestPendingUntilAcknowledged: a send while down stays pending through
// the flush and only an ack moves it on.
func TestPendingUntilAcknowledged(t *testing.T) {
	server := newWSServer(t)
	dialer := &testDialer{failing: true}

	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          server.url(),
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           dialer,
		DisableReconnect: true,
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateError)
	session.Send("hi", "")

	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].Status == models.StatusPending
	}, 2*time.Second, 10*time.Millisecond)

	dialer.setFailing(false)
	session.Reconnect()
	waitState(t, session, chatsync.StateOpen)

	require.Eventually(t, func() bool {
		return len(server.receivedOfType(models.FrameMessage)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Transmitted but not acknowledged: still pending.
	snap := session.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.StatusPending, snap.Messages[0].Status)

	server.push(map[string]interface{}{
		"type": "acknowledge",
		"data": map[string]interface{}{
			"clientMessageId": snap.Messages[0].ClientMessageID,
			"status":          "delivered",
		},
	})

	require.Eventually(t, func() bool {
		return session.Snapshot().Messages[0].Status == models.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

// TestAckForUnknownKeyIsNoOp mirrors the inbound-batch scenario: a message
// frame appends normally and a dangling ack changes nothing.
func TestAckForUnknownKeyIsNoOp(t *testing.T) {
	server := newWSServer(t)
	session := chatsync.NewSession(chatsync.Config{
		BaseURL: server.url(),
		UserID:  "B",
		PeerID:  "A",
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateOpen)

	server.push([]map[string]interface{}{{
		"type": "message",
		"data": map[string]interface{}{
			"senderId":   "A",
			"receiverId": "B",
			"message":    "hey",
			"createdAt":  time.Now().UTC().Format(time.RFC3339),
		},
	}})
	server.push([]map[string]interface{}{{
		"type": "acknowledge",
		"data": map[string]interface{}{"clientMessageId": "X", "status": "read"},
	}})

	require.Eventually(t, func() bool {
		return len(session.Snapshot().Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	snap := session.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hey", snap.Messages[0].Content)
	assert.NotEqual(t, models.StatusRead, snap.Messages[0].Status)
}

// TestPersistResultMergesIntoEntry: the collaborator's stored record
// replaces the local id, keeps the correlation key and defaults the status
// to sent.
func TestPersistResultMergesIntoEntry(t *testing.T) {
	persisted := make(chan string, 1)
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           &testDialer{failing: true},
		DisableReconnect: true,
		Persist: func(ctx context.Context, conversationID, userID, peerID string, msg models.ChatMessage) (models.ChatMessage, error) {
			persisted <- msg.ID
			return models.ChatMessage{ID: "srv-7", ClientMessageID: msg.ClientMessageID}, nil
		},
	})
	session.Run()
	defer session.Close()

	session.Send("book me in", "")

	select {
	case <-persisted:
	case <-time.After(2 * time.Second):
		t.Fatal("persist collaborator never invoked")
	}

	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-7"
	}, 2*time.Second, 10*time.Millisecond)

	msg := session.Snapshot().Messages[0]
	assert.Equal(t, models.StatusSent, msg.Status, "status forced to sent when collaborator omits it")
	assert.Equal(t, "book me in", msg.Content)
}

// TestPersistFailureLatchesFirstError: a failed write marks the one message
// and only the first persistence error surfaces.
func TestPersistFailureLatchesFirstError(t *testing.T) {
	var calls int
	var mu sync.Mutex
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           &testDialer{failing: true},
		DisableReconnect: true,
		Persist: func(ctx context.Context, conversationID, userID, peerID string, msg models.ChatMessage) (models.ChatMessage, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			return models.ChatMessage{}, errors.New(map[int]string{1: "disk full", 2: "still broken"}[n])
		},
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateError)
	session.Clear() // reset the dial error latch so the persist error is visible

	session.Send("first", "")
	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].Status == models.StatusError
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "failed to save message: disk full", session.Snapshot().LastError)

	session.Send("second", "")
	require.Eventually(t, func() bool {
		s := session.Snapshot()
		return len(s.Messages) == 2 && s.Messages[1].Status == models.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "failed to save message: disk full", session.Snapshot().LastError,
		"first error wins; later ones do not overwrite the latch")
}

// TestHistoryLoaderSeedsList: the injected loader seeds the ordered list
// and flips the load flags.
func TestHistoryLoaderSeedsList(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           &testDialer{failing: true},
		DisableReconnect: true,
		LoadHistory: func(ctx context.Context, conversationID, userID, peerID string) ([]models.ChatMessage, error) {
			return []models.ChatMessage{
				msgAt("h-2", "h-2", "trainer1", "second", base.Add(time.Minute)),
				msgAt("h-1", "h-1", "member1", "first", base),
			}, nil
		},
	})
	session.Run()
	defer session.Close()

	require.Eventually(t, func() bool {
		return session.Snapshot().History == chatsync.HistoryLoaded
	}, 2*time.Second, 10*time.Millisecond)

	snap := session.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "h-1", snap.Messages[0].ID)
	assert.Equal(t, "h-2", snap.Messages[1].ID)
}

// TestHistoryLoaderFailureLeavesListAlone: a failed load surfaces through
// the error latch and clears the flags back to not-started.
func TestHistoryLoaderFailureLeavesListAlone(t *testing.T) {
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           &testDialer{failing: true},
		DisableReconnect: true,
		LoadHistory: func(ctx context.Context, conversationID, userID, peerID string) ([]models.ChatMessage, error) {
			return nil, errors.New("backend down")
		},
	})
	session.Run()
	defer session.Close()

	require.Eventually(t, func() bool {
		return session.Snapshot().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)

	snap := session.Snapshot()
	assert.Equal(t, chatsync.HistoryNotStarted, snap.History)
	assert.Empty(t, snap.Messages)
}

// TestDisconnectSkipReconnectStaysDown: a deliberate disconnect never races
// a reconnect back up.
func TestDisconnectSkipReconnectStaysDown(t *testing.T) {
	server := newWSServer(t)
	dialer := &testDialer{}
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:   server.url(),
		UserID:    "member1",
		PeerID:    "trainer1",
		Dialer:    dialer,
		BaseDelay: time.Millisecond,
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateOpen)
	before := dialer.count()

	session.Disconnect(true)
	waitState(t, session, chatsync.StateClosed)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, dialer.count(), "no dial after a deliberate disconnect")
}

// TestDisconnectWithoutSkipReconnects: a planned close is still a close, so
// the backoff cycle kicks in unless the caller opted out.
func TestDisconnectWithoutSkipReconnects(t *testing.T) {
	server := newWSServer(t)
	dialer := &testDialer{}
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:   server.url(),
		UserID:    "member1",
		PeerID:    "trainer1",
		Dialer:    dialer,
		BaseDelay: time.Millisecond,
	})
	session.Run()
	defer session.Close()

	waitState(t, session, chatsync.StateOpen)
	before := dialer.count()

	session.Disconnect(false)

	require.Eventually(t, func() bool {
		return dialer.count() > before
	}, time.Second, 5*time.Millisecond, "reconnect dial after a non-final disconnect")
	waitState(t, session, chatsync.StateOpen)
}

// TestCloseIgnoresLateCompletions: collaborator results resolving after
// teardown must not touch the session.
func TestCloseIgnoresLateCompletions(t *testing.T) {
	release := make(chan struct{})
	session := chatsync.NewSession(chatsync.Config{
		BaseURL:          "ws://127.0.0.1:0/ws",
		UserID:           "member1",
		PeerID:           "trainer1",
		Dialer:           &testDialer{failing: true},
		DisableReconnect: true,
		LoadHistory: func(ctx context.Context, conversationID, userID, peerID string) ([]models.ChatMessage, error) {
			<-release
			return []models.ChatMessage{msgAt("h-1", "h-1", "member1", "late", time.Now())}, nil
		},
	})
	session.Run()

	require.Eventually(t, func() bool {
		return session.Snapshot().History == chatsync.HistoryLoading
	}, 2*time.Second, 10*time.Millisecond)

	session.Close()
	close(release)

	time.Sleep(50 * time.Millisecond)
	snap := session.Snapshot()
	assert.Equal(t, chatsync.StateClosed, snap.State)
	assert.Empty(t, snap.Messages, "late history result ignored after teardown")
}
