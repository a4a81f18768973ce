package socket

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arosyihuddin/BotNexa/pkg/protocol"
)

// wsServer is a minimal stand-in for the connection service: it accepts
// websocket clients, records inbound command frames and can push events.
type wsServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted int
	commands []protocol.CommandFrame
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{t: t}
	s.srv = httptest.NewServer(s.handler())
	t.Cleanup(s.srv.Close)
	return s
}

// newWSServerAt binds a fresh server to a specific address, standing in for
// a backend that went away and came back on the same endpoint.
func newWSServerAt(t *testing.T, addr string) *wsServer {
	t.Helper()
	s := &wsServer{t: t}

	var ln net.Listener
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for {
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rebind %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.srv = httptest.NewUnstartedServer(s.handler())
	s.srv.Listener.Close()
	s.srv.Listener = ln
	s.srv.Start()
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame protocol.CommandFrame
			if json.Unmarshal(data, &frame) == nil {
				s.mu.Lock()
				s.commands = append(s.commands, frame)
				s.mu.Unlock()
			}
		}
	}
}

// url returns the plain http URL; the transport rewrites the scheme itself.
func (s *wsServer) url() string { return s.srv.URL }

func (s *wsServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *wsServer) commandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

func (s *wsServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// closeAll severs every accepted client connection. The upgraded
// websockets are hijacked, so httptest's CloseClientConnections cannot
// reach them; they must be closed directly.
func (s *wsServer) closeAll() {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// push sends an event frame to the most recent client.
func (s *wsServer) push(event, payload string) {
	conn := s.lastConn()
	if conn == nil {
		s.t.Fatal("push: no connected client")
	}
	frame := protocol.EventFrame{
		Type:    protocol.FrameTypeEvent,
		Event:   event,
		Payload: json.RawMessage(payload),
	}
	if err := conn.WriteJSON(frame); err != nil {
		s.t.Fatalf("push: %v", err)
	}
}

func newTestTransport(t *testing.T, url string) *Transport {
	t.Helper()
	tr := New(url, slog.Default())
	tr.redialDelay = 10 * time.Millisecond
	t.Cleanup(tr.Disconnect)
	return tr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	got := make(chan protocol.Envelope, 4)
	tr.Subscribe(protocol.KindCode, 1, func(env protocol.Envelope) { got <- env })

	tr.Connect()
	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	if srv.acceptedCount() != 1 {
		t.Fatalf("server accepted %d connections, want 1", srv.acceptedCount())
	}

	srv.push("code-1", `{"code":"Q"}`)
	waitFor(t, "event delivery", func() bool { return len(got) >= 1 })

	// A duplicated read pump would deliver the event twice.
	time.Sleep(50 * time.Millisecond)
	if n := len(got); n != 1 {
		t.Errorf("event delivered %d times, want 1", n)
	}
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler {
		return func(protocol.Envelope) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}

	unsubA := tr.Subscribe(protocol.KindCode, 1, record("a"))
	tr.Subscribe(protocol.KindCode, 1, record("b"))
	tr.Subscribe(protocol.KindCode, 1, record("c"))

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	srv.push("code-1", `{"code":"Q"}`)
	waitFor(t, "first delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 3
	})

	mu.Lock()
	order := append([]string(nil), calls...)
	calls = nil
	mu.Unlock()
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("handlers ran out of registration order: %v", order)
	}

	// Removing one handler must not touch the others.
	unsubA()
	srv.push("code-1", `{"code":"Q2"}`)
	waitFor(t, "second delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})

	mu.Lock()
	order = append([]string(nil), calls...)
	mu.Unlock()
	if order[0] != "b" || order[1] != "c" {
		t.Errorf("after unsubscribe, got %v, want [b c]", order)
	}
}

func TestListenerPanicDoesNotStarveOthers(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	got := make(chan struct{}, 1)
	tr.Subscribe(protocol.KindCode, 1, func(protocol.Envelope) { panic("listener bug") })
	tr.Subscribe(protocol.KindCode, 1, func(protocol.Envelope) { got <- struct{}{} })

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	srv.push("code-1", `{"code":"Q"}`)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener never ran after first panicked")
	}
}

func TestSendWhileClosedReturnsFalse(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	if tr.Send(protocol.CommandConnect, protocol.ConnectRequest{BotID: 1, Mode: protocol.ModeQR}) {
		t.Error("send on closed channel should report false")
	}
	if tr.IsOpen() {
		t.Error("transport should not be open")
	}
}

func TestSendDeliversCommandFrame(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	ok := tr.Send(protocol.CommandConnect, protocol.ConnectRequest{
		BotID: 42, Mode: protocol.ModeQR, RequestID: "req-1",
	})
	if !ok {
		t.Fatal("send should succeed while open")
	}

	waitFor(t, "server receipt", func() bool { return srv.commandCount() == 1 })

	srv.mu.Lock()
	frame := srv.commands[0]
	srv.mu.Unlock()
	if frame.Type != protocol.FrameTypeCommand || frame.Event != protocol.CommandConnect {
		t.Errorf("unexpected frame: %+v", frame)
	}
}

func TestReadySignalOnConnect(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	ready := make(chan struct{}, 1)
	tr.Subscribe(protocol.KindReady, 0, func(protocol.Envelope) { ready <- struct{}{} })

	tr.Connect()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("ready event never delivered")
	}
}

func TestReferenceCountedRelease(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	tr.Acquire()
	tr.Acquire()
	waitFor(t, "connection", tr.IsOpen)

	tr.Release()
	if !tr.IsOpen() {
		t.Fatal("release with a remaining holder must not disconnect")
	}

	tr.Release()
	if tr.IsOpen() {
		t.Fatal("last release should disconnect")
	}
}

func TestAutoReconnectKeepsSubscriptions(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	got := make(chan string, 2)
	tr.Subscribe(protocol.KindCode, 1, func(env protocol.Envelope) {
		var p protocol.CodePayload
		json.Unmarshal(env.Payload, &p)
		got <- p.Code
	})

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	// Server drops the connection; the transport should redial within its
	// budget and keep delivering to existing subscribers.
	srv.lastConn().Close()
	waitFor(t, "reconnect", func() bool { return srv.acceptedCount() == 2 })
	waitFor(t, "reopen", tr.IsOpen)

	srv.push("code-1", `{"code":"AFTER"}`)
	select {
	case code := <-got:
		if code != "AFTER" {
			t.Errorf("got %q, want AFTER", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after reconnect")
	}
}

func TestRedialExhaustionSurfacesAsEvents(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	errCh := make(chan struct{}, 1)
	downCh := make(chan struct{}, 1)
	tr.Subscribe(protocol.KindError, 0, func(protocol.Envelope) { errCh <- struct{}{} })
	tr.Subscribe(protocol.KindDisconnected, 0, func(protocol.Envelope) { downCh <- struct{}{} })

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	// Kill the endpoint entirely so every redial fails.
	srv.srv.CloseClientConnections()
	srv.closeAll()
	srv.srv.Close()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("error event never delivered")
	}
	select {
	case <-downCh:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnected event never delivered")
	}
	if tr.IsOpen() {
		t.Error("transport should report closed after giving up")
	}
}

func TestConnectAfterRedialExhaustion(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	downCh := make(chan struct{}, 1)
	tr.Subscribe(protocol.KindDisconnected, 0, func(protocol.Envelope) { downCh <- struct{}{} })

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)

	addr := srv.srv.Listener.Addr().String()
	srv.srv.CloseClientConnections()
	srv.closeAll()
	srv.srv.Close()

	select {
	case <-downCh:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnected event never delivered")
	}

	// The backend comes back on the same endpoint; an explicit Connect must
	// re-establish the channel even though the redial budget was spent.
	srv2 := newWSServerAt(t, addr)
	tr.Connect()
	waitFor(t, "recovery", tr.IsOpen)

	got := make(chan string, 1)
	tr.Subscribe(protocol.KindCode, 1, func(env protocol.Envelope) {
		var p protocol.CodePayload
		json.Unmarshal(env.Payload, &p)
		got <- p.Code
	})

	if !tr.Send(protocol.CommandConnect, protocol.ConnectRequest{BotID: 1, Mode: protocol.ModeQR}) {
		t.Fatal("send should succeed after recovery")
	}
	waitFor(t, "server receipt", func() bool { return srv2.commandCount() == 1 })

	srv2.push("code-1", `{"code":"BACK"}`)
	select {
	case code := <-got:
		if code != "BACK" {
			t.Errorf("got %q, want BACK", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after recovery")
	}
}

func TestDisconnectClearsSubscribers(t *testing.T) {
	srv := newWSServer(t)
	tr := newTestTransport(t, srv.url())

	got := make(chan struct{}, 1)
	tr.Subscribe(protocol.KindCode, 1, func(protocol.Envelope) { got <- struct{}{} })

	tr.Connect()
	waitFor(t, "connection", tr.IsOpen)
	tr.Disconnect()

	// Reconnect; the old subscription must not have survived.
	tr.Connect()
	waitFor(t, "reconnection", tr.IsOpen)
	srv.push("code-1", `{"code":"Q"}`)

	select {
	case <-got:
		t.Error("subscription survived a disconnect cycle")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://localhost:3000", "ws://localhost:3000/ws"},
		{"https://api.example.com", "wss://api.example.com/ws"},
		{"ws://localhost:3000/socket", "ws://localhost:3000/socket"},
	}
	for _, c := range cases {
		if got := normalizeEndpoint(c.in); got != c.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
