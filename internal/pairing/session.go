// Package pairing drives the lifecycle of a single device-linking attempt
// for one bot: it sends begin-pairing commands over the shared socket
// transport, consumes the asynchronous code/timeout/connection events the
// backend pushes back, and exposes the resulting state to the UI layer.
package pairing

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arosyihuddin/BotNexa/internal/socket"
	"github.com/arosyihuddin/BotNexa/pkg/protocol"
)

// Mode selects which linking flow the backend runs.
type Mode string

const (
	// ModeQR requests a scannable code.
	ModeQR Mode = protocol.ModeQR
	// ModePairingCode requests a numeric pairing code.
	ModePairingCode Mode = protocol.ModePairing
)

// State is the linking attempt's position in its lifecycle. The session
// holds exactly one state at a time, so combinations like "connected and
// timed out" cannot be represented.
type State string

const (
	// StateIdle: no attempt in flight.
	StateIdle State = "idle"
	// StateConnecting: begin-pairing requested but the command could not be
	// confirmed sent (channel closed); the user is expected to retry.
	StateConnecting State = "connecting"
	// StateAwaitingCode: command sent, waiting for the backend to issue a code.
	StateAwaitingCode State = "awaiting_code"
	// StateCodeIssued: a code for the active mode has been delivered.
	StateCodeIssued State = "code_issued"
	// StateConnected: the device linked successfully. Terminal until reset.
	StateConnected State = "connected"
	// StateTimedOut: the attempt expired; codes are kept (stale) so the UI
	// can show them obscured behind a reconnect action.
	StateTimedOut State = "timed_out"
)

// Conn is the slice of the socket transport the session needs.
type Conn interface {
	Acquire()
	Release()
	Connect()
	Subscribe(kind protocol.EventKind, botID int64, fn socket.Handler) func()
	Send(name string, payload any) bool
}

// Snapshot is an immutable view of the session, safe to render from.
type Snapshot struct {
	State       State
	Mode        Mode
	QRCode      string // raw scannable payload, empty until issued
	PairingCode string // display form ("1234-5678"), empty until issued
}

// Connected reports whether the attempt reached the terminal linked state.
func (s Snapshot) Connected() bool { return s.State == StateConnected }

// TimedOut reports whether the attempt expired.
func (s Snapshot) TimedOut() bool { return s.State == StateTimedOut }

// Outstanding reports whether a begin-pairing command is in flight, from the
// moment it is sent until a terminal event or a mode switch.
func (s Snapshot) Outstanding() bool {
	switch s.State {
	case StateConnecting, StateAwaitingCode, StateCodeIssued:
		return true
	}
	return false
}

// Options configures a session.
type Options struct {
	// Notify is called after every state transition with a fresh snapshot.
	// It runs outside the session lock; it may call back into the session.
	Notify func(Snapshot)
	// OnNotice receives user-facing notices (connection errors, failed
	// sends). Optional.
	OnNotice func(string)
	// ClientTimeout bounds an attempt locally even if the backend never
	// emits a timeout event. Zero means DefaultClientTimeout.
	ClientTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultClientTimeout matches the backend's linking window closely enough
// that a silent backend cannot strand the dialog in a loading state.
const DefaultClientTimeout = 60 * time.Second

// Session is the controller for one bot's linking attempt. Create with New,
// drive with Begin/Reconnect, end with Cancel or Close.
type Session struct {
	botID   int64
	conn    Conn
	log     *slog.Logger
	timeout time.Duration

	notify   func(Snapshot)
	onNotice func(string)

	mu          sync.Mutex
	state       State
	mode        Mode
	qrCode      string
	pairingCode string
	requestID   string // fences stale client-side timers
	timer       *time.Timer
	unsubs      []func()
	subscribed  bool
	closed      bool
}

// New creates a session for botID and takes a reference on the shared
// transport. The caller must end the session with Cancel or Close.
func New(conn Conn, botID int64, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = DefaultClientTimeout
	}

	s := &Session{
		botID:    botID,
		conn:     conn,
		log:      opts.Logger.With("bot", botID),
		timeout:  opts.ClientTimeout,
		notify:   opts.Notify,
		onNotice: opts.OnNotice,
		state:    StateIdle,
	}
	conn.Acquire()
	return s
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:       s.state,
		Mode:        s.mode,
		QRCode:      s.qrCode,
		PairingCode: s.pairingCode,
	}
}

// Begin sends the begin-pairing command for the given mode. While a request
// for the same mode is outstanding it is a logged no-op, keeping the
// operation idempotent for the caller. Switching modes clears both codes and
// any timeout before re-requesting; the superseded backend attempt is not
// cancelled (no wire primitive exists) — late events from it are discarded
// by the stale-mode guard in apply.
func (s *Session) Begin(mode Mode) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.snapshotLocked().Outstanding() && mode == s.mode {
		s.log.Info("pairing request already outstanding", "mode", mode)
		s.mu.Unlock()
		return
	}
	if s.mode != "" && mode != s.mode {
		s.qrCode = ""
		s.pairingCode = ""
	}
	s.mode = mode
	notice := s.requestLocked()
	snap, notify := s.snapshotLocked(), s.notify
	s.mu.Unlock()

	if notice != "" && s.onNotice != nil {
		s.onNotice(notice)
	}
	if notify != nil {
		notify(snap)
	}
}

// Reconnect re-sends the begin-pairing command for the current mode,
// clearing a timeout. The stale code stays visible until replaced.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.closed || s.mode == "" || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	notice := s.requestLocked()
	snap, notify := s.snapshotLocked(), s.notify
	s.mu.Unlock()

	if notice != "" && s.onNotice != nil {
		s.onNotice(notice)
	}
	if notify != nil {
		notify(snap)
	}
}

// requestLocked re-establishes the channel if needed, subscribes (once),
// sends the connect command with a fresh request id and arms the client-side
// timeout. Returns a user-facing notice when the command could not be sent.
func (s *Session) requestLocked() string {
	// The transport may have given up after its redial budget; a user retry
	// is the one place the channel gets re-dialed. No-op while open.
	s.conn.Connect()
	s.ensureSubscribedLocked()
	s.requestID = uuid.NewString()

	req := protocol.ConnectRequest{
		BotID:     s.botID,
		Mode:      string(s.mode),
		RequestID: s.requestID,
	}
	if !s.conn.Send(protocol.CommandConnect, req) {
		s.state = StateConnecting
		return "Failed to reach the WhatsApp service. Check the connection and retry."
	}

	s.state = StateAwaitingCode
	s.armTimerLocked()
	return ""
}

// Cancel sends a best-effort disconnect command, releases the transport
// reference and resets the session to the idle baseline. The session is
// inert afterwards: events that were already in flight are dropped.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.teardownSubsLocked()

	if s.mode != "" {
		req := protocol.DisconnectRequest{BotID: s.botID, RequestID: s.requestID}
		s.conn.Send(protocol.CommandDisconnect, req)
	}

	s.state = StateIdle
	s.mode = ""
	s.qrCode = ""
	s.pairingCode = ""
	s.requestID = ""
	snap, notify := s.snapshotLocked(), s.notify
	s.mu.Unlock()

	s.conn.Release()
	if notify != nil {
		notify(snap)
	}
}

// Close releases the session without sending a disconnect command. Used
// after a successful link, where the backend connection should stay up.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.teardownSubsLocked()
	s.mu.Unlock()

	s.conn.Release()
}

func (s *Session) ensureSubscribedLocked() {
	if s.subscribed {
		return
	}
	s.unsubs = []func(){
		s.conn.Subscribe(protocol.KindCode, s.botID, s.apply),
		s.conn.Subscribe(protocol.KindPairing, s.botID, s.apply),
		s.conn.Subscribe(protocol.KindTimeout, s.botID, s.apply),
		s.conn.Subscribe(protocol.KindConnection, 0, s.apply),
		s.conn.Subscribe(protocol.KindError, 0, s.apply),
		s.conn.Subscribe(protocol.KindDisconnected, 0, s.apply),
	}
	s.subscribed = true
}

func (s *Session) teardownSubsLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.subscribed = false
}

// apply is the single reducer consuming transport envelopes. It runs on the
// transport's read goroutine; events arrive in the order the transport
// received them.
func (s *Session) apply(env protocol.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	changed := false
	var notice string

	switch env.Kind {
	case protocol.KindCode:
		changed = s.applyCodeLocked(env, ModeQR)

	case protocol.KindPairing:
		changed = s.applyCodeLocked(env, ModePairingCode)

	case protocol.KindTimeout:
		changed = s.applyTimeoutLocked(env)

	case protocol.KindConnection:
		changed, notice = s.applyConnectionLocked(env)

	case protocol.KindError, protocol.KindDisconnected:
		// The transport exhausted its reconnect budget and dropped all
		// subscriptions; a later Begin must re-subscribe.
		s.subscribed = false
		s.unsubs = nil
		notice = "Connection to the WhatsApp service was lost."

	default:
		s.log.Debug("pairing: ignoring event", "kind", env.Kind)
	}

	snap, notify := s.snapshotLocked(), s.notify
	s.mu.Unlock()

	if notice != "" && s.onNotice != nil {
		s.onNotice(notice)
	}
	if changed && notify != nil {
		notify(snap)
	}
}

// applyCodeLocked stores an issued code. Guards, in order: wrong bot, sticky
// connected state, stale mode (a late event from a superseded mode must not
// populate the other mode's field), timed-out attempt (the user has to
// reconnect explicitly).
func (s *Session) applyCodeLocked(env protocol.Envelope, want Mode) bool {
	if env.BotID != s.botID {
		return false
	}
	if s.state == StateConnected || s.state == StateTimedOut {
		return false
	}
	if s.mode != want {
		s.log.Debug("pairing: dropping code for inactive mode", "mode", want)
		return false
	}

	var p protocol.CodePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.log.Warn("pairing: bad code payload", "error", err)
		return false
	}

	if want == ModeQR {
		s.qrCode = p.Code
	} else {
		s.pairingCode = FormatCode(p.Code)
	}
	s.state = StateCodeIssued
	return true
}

func (s *Session) applyTimeoutLocked(env protocol.Envelope) bool {
	if env.BotID != s.botID || s.state == StateConnected || s.state == StateIdle {
		return false
	}

	var p protocol.TimeoutPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || !p.Timeout {
		return false
	}

	s.log.Info("pairing attempt timed out")
	s.stopTimerLocked()
	s.state = StateTimedOut // codes are deliberately kept
	return true
}

func (s *Session) applyConnectionLocked(env protocol.Envelope) (bool, string) {
	var p protocol.ConnectionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.log.Warn("pairing: bad connection payload", "error", err)
		return false, ""
	}
	if p.BotID != s.botID {
		return false, ""
	}
	if !p.Connected {
		// Informational unless a timeout event accompanies it.
		s.log.Info("connection update", "status", p.Status)
		return false, ""
	}
	if s.state == StateConnected {
		return false, ""
	}

	s.log.Info("whatsapp connected", "status", p.Status)
	s.stopTimerLocked()
	s.state = StateConnected
	return true, ""
}

// armTimerLocked starts the client-side timeout for the current request.
// The captured request id fences timers from superseded requests.
func (s *Session) armTimerLocked() {
	s.stopTimerLocked()
	req := s.requestID
	s.timer = time.AfterFunc(s.timeout, func() { s.expire(req) })
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) expire(requestID string) {
	s.mu.Lock()
	if s.closed || s.requestID != requestID ||
		s.state == StateConnected || s.state == StateTimedOut {
		s.mu.Unlock()
		return
	}
	s.log.Info("pairing attempt timed out locally", "after", s.timeout)
	s.state = StateTimedOut
	snap, notify := s.snapshotLocked(), s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

// FormatCode renders a raw numeric pairing code in its display form: the
// first four characters, a hyphen, then the remainder.
func FormatCode(raw string) string {
	if len(raw) < 5 {
		return raw
	}
	return raw[:4] + "-" + raw[4:]
}
