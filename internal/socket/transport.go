// Package socket maintains the duplex event channel to the BotNexa
// connection service. It multiplexes inbound named events to local
// subscribers and sends best-effort commands; pairing sessions share one
// transport instance through a reference count.
package socket

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arosyihuddin/BotNexa/pkg/protocol"
)

const (
	// defaultRedialAttempts bounds automatic redials after a dropped or
	// failed connection before the transport gives up and leaves retry to
	// the caller.
	defaultRedialAttempts = 2
	defaultRedialDelay    = 2 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Handler receives inbound events. Handlers run on the transport's read
// goroutine and must not block.
type Handler func(protocol.Envelope)

type subscriber struct {
	id int
	fn Handler
}

// Transport is a reconnectable websocket client for the connection service.
// The zero value is not usable; construct with New and inject it where
// needed — there is deliberately no package-level instance.
type Transport struct {
	url    string
	log    *slog.Logger
	dialer *websocket.Dialer

	redialAttempts int
	redialDelay    time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	open      bool
	gen       int // bumped on every connect/disconnect so stale pumps exit
	refs      int
	nextID    int
	listeners map[string][]subscriber

	writeMu sync.Mutex
}

// New creates a transport for the given endpoint. Accepts http(s) URLs and
// rewrites them to ws(s), matching how the endpoint is usually configured.
func New(endpoint string, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		url:            normalizeEndpoint(endpoint),
		log:            log,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		redialAttempts: defaultRedialAttempts,
		redialDelay:    defaultRedialDelay,
		listeners:      make(map[string][]subscriber),
	}
}

func normalizeEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String()
}

// Connect establishes the channel. Calling it while already connected is a
// no-op. Dial failures are not returned: they surface as local error and
// disconnected events after the bounded redial budget is spent.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return
	}
	gen := t.gen + 1
	t.gen = gen
	t.mu.Unlock()

	conn, _, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		t.log.Warn("socket connect failed", "url", t.url, "error", err)
		go t.redial(gen, err)
		return
	}
	t.attach(gen, conn)
}

// attach installs a freshly dialed connection and starts its read pump.
func (t *Transport) attach(gen int, conn *websocket.Conn) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.open = true
	t.mu.Unlock()

	t.log.Info("socket connected", "url", t.url)
	t.dispatch(localEnvelope(protocol.KindReady, `{"connected":true}`))
	go t.readPump(gen, conn)
}

// redial retries the dial a bounded number of times. On success the new
// connection is attached; on exhaustion the failure is published locally and
// all subscriptions are dropped.
func (t *Transport) redial(gen int, cause error) {
	for attempt := 1; attempt <= t.redialAttempts; attempt++ {
		time.Sleep(t.redialDelay)

		t.mu.Lock()
		stale := t.gen != gen
		t.mu.Unlock()
		if stale {
			return
		}

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err == nil {
			t.attach(gen, conn)
			return
		}
		cause = err
		t.log.Warn("socket reconnect failed", "attempt", attempt, "error", err)
	}

	t.dispatch(localEnvelope(protocol.KindError, errorPayload(cause)))
	t.dispatch(localEnvelope(protocol.KindDisconnected, `null`))

	t.mu.Lock()
	if t.gen == gen {
		t.open = false
		t.conn = nil
		t.listeners = make(map[string][]subscriber)
	}
	t.mu.Unlock()
}

// readPump reads frames until the connection drops or is replaced.
func (t *Transport) readPump(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDrop(gen, conn, err)
			return
		}
		t.handleFrame(data)
	}
}

func (t *Transport) handleFrame(data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		t.log.Warn("socket: invalid frame", "error", err)
		return
	}
	if frameType != protocol.FrameTypeEvent {
		t.log.Warn("socket: unexpected frame type", "type", frameType)
		return
	}

	var frame protocol.EventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.log.Warn("socket: malformed event frame", "error", err)
		return
	}

	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		// Unknown names are dropped, not surfaced: the backend may push
		// events this client version does not know about.
		t.log.Debug("socket: dropping event", "event", frame.Event, "error", err)
		return
	}
	t.dispatch(env)
}

// handleDrop distinguishes a deliberate Disconnect from a lost connection.
// Lost connections go through the bounded redial budget.
func (t *Transport) handleDrop(gen int, conn *websocket.Conn, err error) {
	conn.Close()

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return // replaced or deliberately closed
	}
	t.open = false
	t.conn = nil
	nextGen := t.gen + 1
	t.gen = nextGen
	t.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		t.log.Warn("socket connection dropped", "error", err)
	}
	t.redial(nextGen, err)
}

// Disconnect tears down the channel and clears all registered subscribers.
// Subscriptions do not survive a disconnect/reconnect cycle.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.gen++
	conn := t.conn
	t.conn = nil
	t.open = false
	t.refs = 0
	t.listeners = make(map[string][]subscriber)
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
		t.log.Info("socket disconnected")
	}
}

// Acquire registers a holder of the shared transport, connecting on first
// use. Callers pair it with Release so one closing dialog cannot sever
// another's in-flight pairing.
func (t *Transport) Acquire() {
	t.mu.Lock()
	t.refs++
	t.mu.Unlock()
	t.Connect()
}

// Release drops a holder; the last one out closes the channel.
func (t *Transport) Release() {
	t.mu.Lock()
	if t.refs > 0 {
		t.refs--
	}
	last := t.refs == 0
	t.mu.Unlock()

	if last {
		t.Disconnect()
	}
}

// Subscribe registers a handler for an event kind scoped to a bot (the bot
// id is ignored for global and transport-local kinds). The returned function
// removes exactly this handler. Handlers for the same key run in
// registration order.
func (t *Transport) Subscribe(kind protocol.EventKind, botID int64, fn Handler) func() {
	key := protocol.EventName(kind, botID)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners[key] = append(t.listeners[key], subscriber{id: id, fn: fn})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.listeners[key]
		for i, s := range subs {
			if s.id == id {
				t.listeners[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(t.listeners[key]) == 0 {
			delete(t.listeners, key)
		}
	}
}

// Send emits an outbound command. It is fire-and-forget: false (with a log
// line) means the channel is not open or the write failed; there is no
// delivery guarantee either way.
func (t *Transport) Send(name string, payload any) bool {
	t.mu.Lock()
	conn, open := t.conn, t.open
	t.mu.Unlock()

	if !open || conn == nil {
		t.log.Warn("socket: send on closed channel", "command", name)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	frame := protocol.CommandFrame{Type: protocol.FrameTypeCommand, Event: name, Payload: payload}
	if err := conn.WriteJSON(frame); err != nil {
		t.log.Warn("socket: send failed", "command", name, "error", err)
		return false
	}
	return true
}

// IsOpen reports the current connectivity snapshot.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// dispatch fans an envelope out to the subscribers registered for its key.
// Handlers run outside the lock; a panicking handler is logged and must not
// starve the others.
func (t *Transport) dispatch(env protocol.Envelope) {
	key := protocol.EventName(env.Kind, env.BotID)

	t.mu.Lock()
	subs := make([]subscriber, len(t.listeners[key]))
	copy(subs, t.listeners[key])
	t.mu.Unlock()

	for _, s := range subs {
		t.invoke(key, s, env)
	}
}

func (t *Transport) invoke(key string, s subscriber, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("socket: listener panicked", "event", key, "panic", r)
		}
	}()
	s.fn(env)
}

func localEnvelope(kind protocol.EventKind, payload string) protocol.Envelope {
	return protocol.Envelope{Kind: kind, Payload: json.RawMessage(payload)}
}

func errorPayload(err error) string {
	msg := "connection failed"
	if err != nil {
		msg = err.Error()
	}
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
