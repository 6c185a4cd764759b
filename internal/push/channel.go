package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/birdtagapp/birdtag-go/internal/creds"
)

// Status is the connection state of the channel.
type Status string

// Channel statuses.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusClosing      Status = "closing"
)

// State is a snapshot of the channel's connection state, delivered to
// status subscribers on every transition.
type State struct {
	Status           Status
	ReconnectAttempt int
	LastCloseCode    int
}

// Defaults for channel options.
const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectBaseDelay   = 1 * time.Second
	defaultReconnectMaxDelay    = 30 * time.Second
	defaultDialTimeout          = 15 * time.Second
)

// Options configures a Channel.
type Options struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DialTimeout          time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = defaultReconnectBaseDelay
	}

	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = defaultReconnectMaxDelay
	}

	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}

	return o
}

// Conn is the subset of a websocket connection the channel uses. The
// default implementation wraps coder/websocket; tests substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens a websocket connection to the given URL.
type DialFunc func(ctx context.Context, wsURL string) (Conn, error)

// wsConn adapts *websocket.Conn to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

// defaultDial opens a real websocket connection, mapping handshake-level
// 401/403 responses to ErrAuthRejected so Connect can settle terminally
// instead of burning reconnect attempts on a bad credential.
func defaultDial(ctx context.Context, wsURL string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, wsURL, nil) //nolint:bodyclose // library owns the response body
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &ChannelError{Code: resp.StatusCode, Err: ErrAuthRejected}
		}

		return nil, err
	}

	return &wsConn{c: c}, nil
}

// Handler receives inbound events. One handler's panic never blocks
// delivery to the others.
type Handler func(Event)

// StatusHandler receives connection state snapshots.
type StatusHandler func(State)

// Channel owns a single persistent push connection. Exactly one instance
// exists per session; the session controller constructs it and passes it by
// reference to consumers.
type Channel struct {
	endpoint string
	opts     Options
	logger   *slog.Logger
	dial     DialFunc

	mu             sync.Mutex
	status         Status
	attempt        int
	lastCloseCode  int
	conn           Conn
	connURL        string
	intentional    bool
	retryTimer     *time.Timer
	handlers       map[int]Handler
	statusHandlers map[int]StatusHandler
	nextID         int
	readCancel     context.CancelFunc
	pendingStates  []State
	notifying      bool

	// timerFunc schedules the reconnect timer; tests override it to fire
	// deterministically.
	timerFunc func(d time.Duration, fn func()) *time.Timer
}

// NewChannel creates a channel for the given websocket endpoint, e.g.
// "wss://push.birdtag.example/prod". It starts disconnected.
func NewChannel(endpoint string, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}

	return &Channel{
		endpoint:       endpoint,
		opts:           opts.withDefaults(),
		logger:         logger,
		dial:           defaultDial,
		status:         StatusDisconnected,
		handlers:       make(map[int]Handler),
		statusHandlers: make(map[int]StatusHandler),
		timerFunc:      time.AfterFunc,
	}
}

// SetDialFunc replaces the dialer. For tests.
func (ch *Channel) SetDialFunc(dial DialFunc) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.dial = dial
}

// State returns a snapshot of the current connection state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.stateLocked()
}

func (ch *Channel) stateLocked() State {
	return State{Status: ch.status, ReconnectAttempt: ch.attempt, LastCloseCode: ch.lastCloseCode}
}

// Connect opens the channel using the given credential. Idempotent: a call
// while connecting or connected is a no-op, so two racing calls open
// exactly one underlying connection. The credential rides the connection
// URL as a query parameter; the server validates it at handshake time. An
// optional fileID filter narrows delivery to one resource.
func (ch *Channel) Connect(ctx context.Context, cred *creds.Credential, fileID string) error {
	ch.mu.Lock()

	if ch.status == StatusConnecting || ch.status == StatusConnected {
		ch.mu.Unlock()
		ch.logger.Debug("connect ignored, channel already active")

		return nil
	}

	// Disown any connection still winding down from a previous Disconnect;
	// its read loop must not act on the state this call builds.
	ch.conn = nil

	q := url.Values{}
	q.Set("token", cred.Bearer())

	if fileID != "" {
		q.Set("file_id", fileID)
	}

	ch.connURL = ch.endpoint + "?" + q.Encode()
	ch.intentional = false
	ch.attempt = 0
	ch.setStatusLocked(StatusConnecting)
	ch.mu.Unlock()

	return ch.dialAndServe(ctx)
}

// dialAndServe opens the connection and, on success, starts the read loop.
// On a terminal auth rejection the channel settles disconnected; any other
// dial failure feeds the reconnect policy.
func (ch *Channel) dialAndServe(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, ch.opts.DialTimeout)
	defer cancel()

	ch.mu.Lock()
	wsURL := ch.connURL
	dial := ch.dial
	ch.mu.Unlock()

	conn, err := dial(dctx, wsURL)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			ch.logger.Error("push handshake rejected credential")
			ch.settle()

			return err
		}

		ch.logger.Warn("push dial failed", slog.String("error", err.Error()))
		ch.scheduleReconnect()

		return fmt.Errorf("push: dialing channel: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	ch.mu.Lock()
	if ch.intentional {
		// Disconnect raced the dial. Drop the fresh connection.
		ch.mu.Unlock()
		readCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")

		return nil
	}

	ch.conn = conn
	ch.readCancel = readCancel
	ch.attempt = 0
	ch.setStatusLocked(StatusConnected)
	ch.mu.Unlock()

	ch.logger.Info("push channel connected")

	go ch.readLoop(readCtx, conn)

	return nil
}

// readLoop delivers inbound events until the connection dies, then routes
// the close through the reconnect policy.
func (ch *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			ch.onConnectionLost(conn, err)
			return
		}

		ev, perr := parseEvent(data)
		if perr != nil {
			// Malformed payloads are dropped; the connection stays up.
			ch.logger.Warn("dropping malformed push payload",
				slog.String("error", perr.Error()),
				slog.Int("bytes", len(data)),
			)

			continue
		}

		ch.deliver(ev)
	}
}

// deliver fans an event out to all subscribers in registration order. A
// panicking handler is logged and skipped so it cannot block the rest.
func (ch *Channel) deliver(ev Event) {
	ch.mu.Lock()
	handlers := make([]Handler, 0, len(ch.handlers))
	for id := range ch.nextID {
		if h, ok := ch.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	ch.mu.Unlock()

	for _, h := range handlers {
		ch.safeInvoke(h, ev)
	}
}

func (ch *Channel) safeInvoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ch.logger.Error("push handler panicked",
				slog.String("file_id", ev.FileID),
				slog.Any("panic", r),
			)
		}
	}()

	h(ev)
}

// onConnectionLost classifies the close and applies the reconnect policy:
// code 1000 (or an intentional Disconnect) settles the channel; anything
// else — including no close frame at all — schedules a delayed retry while
// attempts remain. Only the current connection's loss is acted on: a stale
// read loop winding down after a Connect already replaced the connection
// must not clobber the fresh connection's state.
func (ch *Channel) onConnectionLost(conn Conn, err error) {
	code := int(websocket.CloseStatus(err))

	ch.mu.Lock()

	if ch.conn != conn {
		ch.mu.Unlock()
		ch.logger.Debug("ignoring close of superseded connection", slog.Int("code", code))

		return
	}

	ch.lastCloseCode = code
	ch.conn = nil

	if ch.intentional || code == int(websocket.StatusNormalClosure) {
		ch.setStatusLocked(StatusDisconnected)
		ch.mu.Unlock()
		ch.logger.Info("push channel closed", slog.Int("code", code))

		return
	}

	ch.mu.Unlock()

	ch.logger.Warn("push channel lost",
		slog.Int("code", code),
		slog.String("error", err.Error()),
	)

	ch.scheduleReconnect()
}

// scheduleReconnect arms the retry timer with exponential backoff, or
// settles disconnected once attempts are exhausted. The timer handle is
// stored so Disconnect can cancel a pending retry deterministically.
func (ch *Channel) scheduleReconnect() {
	ch.mu.Lock()

	if ch.conn != nil {
		// A newer Connect already holds a live connection; this retry is
		// for a superseded one.
		ch.mu.Unlock()

		return
	}

	if ch.intentional {
		ch.mu.Unlock()
		ch.settle()

		return
	}

	if ch.attempt >= ch.opts.MaxReconnectAttempts {
		ch.logger.Error("push reconnect attempts exhausted",
			slog.Int("attempts", ch.attempt),
		)
		ch.mu.Unlock()
		ch.settle()

		return
	}

	delay := ch.backoffDelay(ch.attempt)
	ch.attempt++
	ch.setStatusLocked(StatusConnecting)

	ch.logger.Info("scheduling push reconnect",
		slog.Int("attempt", ch.attempt),
		slog.Duration("delay", delay),
	)

	ch.retryTimer = ch.timerFunc(delay, func() {
		ch.mu.Lock()
		ch.retryTimer = nil
		intentional := ch.intentional
		ch.mu.Unlock()

		if intentional {
			return
		}

		//nolint:errcheck // failures feed back into the reconnect policy
		_ = ch.dialAndServe(context.Background())
	})
	ch.mu.Unlock()
}

// backoffDelay grows exponentially with the attempt count, capped at the
// configured maximum.
func (ch *Channel) backoffDelay(attempt int) time.Duration {
	delay := ch.opts.ReconnectBaseDelay << attempt
	if delay > ch.opts.ReconnectMaxDelay || delay <= 0 {
		delay = ch.opts.ReconnectMaxDelay
	}

	return delay
}

// settle transitions to the terminal disconnected state.
func (ch *Channel) settle() {
	ch.mu.Lock()
	ch.setStatusLocked(StatusDisconnected)
	ch.mu.Unlock()
}

// Subscribe registers an event handler and returns its unsubscribe func.
func (ch *Channel) Subscribe(h Handler) func() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	id := ch.nextID
	ch.nextID++
	ch.handlers[id] = h

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.handlers, id)
	}
}

// SubscribeStatus registers a status handler and returns its unsubscribe
// func. The handler is immediately invoked with the current state so new
// subscribers never miss the transition that already happened.
func (ch *Channel) SubscribeStatus(h StatusHandler) func() {
	ch.mu.Lock()

	id := ch.nextID
	ch.nextID++
	ch.statusHandlers[id] = h
	current := ch.stateLocked()
	ch.mu.Unlock()

	h(current)

	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.statusHandlers, id)
	}
}

// setStatusLocked updates the status and queues a notification. Caller
// holds ch.mu; a single draining goroutine invokes the handlers so
// transitions are delivered in order and handler deadlocks are impossible.
func (ch *Channel) setStatusLocked(s Status) {
	if ch.status == s {
		return
	}

	ch.status = s
	ch.pendingStates = append(ch.pendingStates, ch.stateLocked())

	if !ch.notifying {
		ch.notifying = true

		go ch.drainStatus()
	}
}

// drainStatus delivers queued state snapshots to status subscribers until
// the queue is empty.
func (ch *Channel) drainStatus() {
	for {
		ch.mu.Lock()

		if len(ch.pendingStates) == 0 {
			ch.notifying = false
			ch.mu.Unlock()

			return
		}

		state := ch.pendingStates[0]
		ch.pendingStates = ch.pendingStates[1:]

		handlers := make([]StatusHandler, 0, len(ch.statusHandlers))
		for _, h := range ch.statusHandlers {
			handlers = append(handlers, h)
		}
		ch.mu.Unlock()

		for _, h := range handlers {
			h(state)
		}
	}
}

// Send writes a payload to the channel. Not connected is a logged no-op —
// payloads are never queued or buffered for later.
func (ch *Channel) Send(ctx context.Context, payload []byte) error {
	ch.mu.Lock()
	conn := ch.conn
	status := ch.status
	ch.mu.Unlock()

	if status != StatusConnected || conn == nil {
		ch.logger.Warn("send dropped, channel not connected",
			slog.String("status", string(status)),
		)

		return nil
	}

	if err := conn.Write(ctx, payload); err != nil {
		return fmt.Errorf("push: sending payload: %w", err)
	}

	return nil
}

// Disconnect tears the channel down intentionally: cancels any pending
// reconnect timer (so a stale callback cannot resurrect the connection),
// closes the connection with code 1000, and settles disconnected. Further
// reconnect attempts are suppressed until the next Connect.
func (ch *Channel) Disconnect() {
	ch.mu.Lock()

	ch.intentional = true

	if ch.retryTimer != nil {
		ch.retryTimer.Stop()
		ch.retryTimer = nil
	}

	conn := ch.conn
	readCancel := ch.readCancel
	ch.readCancel = nil

	if conn == nil {
		ch.setStatusLocked(StatusDisconnected)
		ch.mu.Unlock()

		return
	}

	ch.setStatusLocked(StatusClosing)
	ch.mu.Unlock()

	if readCancel != nil {
		readCancel()
	}

	//nolint:errcheck // best-effort close; the read loop settles the state
	_ = conn.Close(websocket.StatusNormalClosure, "client closing")
}
