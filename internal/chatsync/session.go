package chatsync

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fitclub/backend/internal/config"
	"fitclub/backend/internal/models"
)

// ConnState is the lifecycle state of the session's channel.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
	StateError      ConnState = "error"
)

// HistoryState tracks the initial history load.
type HistoryState string

const (
	HistoryNotStarted HistoryState = "not-started"
	HistoryLoading    HistoryState = "loading"
	HistoryLoaded     HistoryState = "loaded"
)

// HistoryLoadFunc fetches prior messages for a conversation. Injected, not
// implemented, by the engine.
type HistoryLoadFunc func(ctx context.Context, conversationID, userID, peerID string) ([]models.ChatMessage, error)

// PersistFunc writes one message to durable storage and returns the stored
// record, possibly partial (zero fields mean "unchanged").
type PersistFunc func(ctx context.Context, conversationID, userID, peerID string, msg models.ChatMessage) (models.ChatMessage, error)

// Dialer abstracts the websocket dial so tests can count or fail attempts.
// *websocket.Dialer satisfies it.
type Dialer interface {
	Dial(urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config parameterizes a Session.
type Config struct {
	// BaseURL is the websocket endpoint; conversationId and userId are
	// appended as query parameters.
	BaseURL string

	ConversationID string // derived from the sorted identity pair when empty
	UserID         string
	UserName       string
	PeerID         string
	PeerName       string

	// Token, when set, is sent as a bearer Authorization header on dial.
	// The engine treats it as opaque.
	Token string

	LoadHistory HistoryLoadFunc
	Persist     PersistFunc

	Dialer           Dialer        // defaults to websocket.DefaultDialer
	BaseDelay        time.Duration // linear backoff unit, defaults to config.ReconnectBaseDelay
	MaxAttempts      int           // reconnect ceiling, defaults to config.ReconnectMaxAttempts
	DisableReconnect bool

	// OnChange, when set, is invoked from the session goroutine after every
	// state mutation. It must not call back into the Session.
	OnChange func(Snapshot)
}

// Snapshot is a point-in-time copy of the session state for the UI.
type Snapshot struct {
	State        ConnState
	Messages     []models.ChatMessage
	PendingSends int
	LastError    string
	History      HistoryState
}

// Session owns one live chat conversation: the channel, the ordered message
// list and the pending-send queue. All mutation happens on a single event
// loop goroutine; the exported methods post commands to it, so the list and
// queue never observe a torn intermediate state.
type Session struct {
	cfg     Config
	mailbox chan func()
	done    chan struct{}
	once    sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the event loop.
	state          ConnState
	messages       []models.ChatMessage
	pending        []models.ChatMessage
	lastError      string
	historyState   HistoryState
	conn           *websocket.Conn
	connGen        int
	dialing        bool
	attempts       int
	autoReconnect  bool
	reconnectTimer *time.Timer
}

// NewSession builds a Session for the given identity triple. Call Run to
// start it and Close to tear it down; a changed triple means a new Session.
func NewSession(cfg Config) *Session {
	if cfg.ConversationID == "" {
		cfg.ConversationID = models.ConversationID(cfg.UserID, cfg.PeerID)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = config.ReconnectBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.ReconnectMaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:           cfg,
		mailbox:       make(chan func(), config.MailboxBuffer),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		state:         StateIdle,
		historyState:  HistoryNotStarted,
		autoReconnect: !cfg.DisableReconnect,
	}
}

// Run starts the event loop, kicks off the history load and connects.
func (s *Session) Run() {
	go s.loop()
	s.post(func() {
		s.loadHistory()
		s.connect()
	})
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.mailbox:
			fn()
		}
	}
}

// post hands a command to the event loop. Commands posted after Close are
// dropped, which is what keeps stale async completions from touching a
// torn-down session.
func (s *Session) post(fn func()) {
	select {
	case s.mailbox <- fn:
	case <-s.done:
	}
}

// Send composes and transmits a message. A send with empty trimmed content
// and no image is a no-op.
func (s *Session) Send(content, imageURL string) {
	s.post(func() { s.send(content, imageURL) })
}

// Reconnect cancels any pending backoff timer, resets the attempt counter,
// forces channel teardown and dials again immediately.
func (s *Session) Reconnect() {
	s.post(func() {
		s.cancelReconnectTimer()
		s.attempts = 0
		s.autoReconnect = !s.cfg.DisableReconnect
		s.teardownConn()
		s.connect()
	})
}

// Disconnect closes the channel. A planned close still schedules a
// reconnect like any other close; with skipReconnect set, automatic
// reconnection is disabled first so a deliberate session end never races a
// spurious reconnect.
func (s *Session) Disconnect(skipReconnect bool) {
	s.post(func() {
		if skipReconnect {
			s.autoReconnect = false
		}
		s.cancelReconnectTimer()
		s.state = StateClosing
		s.teardownConn()
		s.state = StateClosed
		if s.autoReconnect {
			s.scheduleReconnect()
		}
		s.notify()
	})
}

// Clear empties the message list and the latched error.
func (s *Session) Clear() {
	s.post(func() {
		s.messages = nil
		s.lastError = ""
		s.notify()
	})
}

// Close tears the session down: timers cancelled, channel closed, queue
// discarded. Async completions that resolve afterwards are ignored.
func (s *Session) Close() {
	s.once.Do(func() {
		select {
		case s.mailbox <- func() {
			s.autoReconnect = false
			s.cancelReconnectTimer()
			s.teardownConn()
			s.pending = nil
			s.state = StateClosed
			s.cancel()
			close(s.done)
		}:
		case <-s.done:
		}
	})
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case s.mailbox <- func() { reply <- s.snapshot() }:
		select {
		case snap := <-reply:
			return snap
		case <-s.done:
		}
	case <-s.done:
	}
	return Snapshot{State: StateClosed, History: HistoryNotStarted}
}

func (s *Session) snapshot() Snapshot {
	msgs := make([]models.ChatMessage, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		State:        s.state,
		Messages:     msgs,
		PendingSends: len(s.pending),
		LastError:    s.lastError,
		History:      s.historyState,
	}
}

func (s *Session) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(s.snapshot())
	}
}

// latchError records the first error only; later ones are kept out of the
// way until a successful reconnect or Clear resets the latch.
func (s *Session) latchError(msg string) {
	if s.lastError == "" {
		s.lastError = msg
	}
}
