package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"supportdesk/internal/config"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

// broker is a scripted STOMP server. After SUBSCRIBE it sends script, one WebSocket
// message per entry, and records every frame the client sends.
type broker struct {
	t      *testing.T
	script []string

	mu       sync.Mutex
	received []stomp.Frame
	auth     string
	gotAll   chan struct{}
	once     sync.Once
}

func newBroker(t *testing.T, script ...string) (*broker, *httptest.Server) {
	b := &broker{t: t, script: script, gotAll: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws-support" {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		b.auth = r.Header.Get("Authorization")
		b.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		b.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *broker) serve(conn *websocket.Conn) {
	dec := stomp.NewDecoder()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		dec.Write(data)
		for frame, err := range dec.Frames() {
			if err != nil {
				b.t.Errorf("client sent a malformed frame: %v", err)
				continue
			}
			b.mu.Lock()
			b.received = append(b.received, frame)
			b.mu.Unlock()

			switch frame.Command {
			case stomp.CmdConnect:
				reply := stomp.New(stomp.CmdConnected, stomp.HeaderVersion, "1.2")
				conn.WriteMessage(websocket.TextMessage, reply.Bytes())
			case stomp.CmdSubscribe:
				for _, chunk := range b.script {
					conn.WriteMessage(websocket.TextMessage, []byte(chunk))
				}
			case stomp.CmdDisconnect:
				b.once.Do(func() { close(b.gotAll) })
				return
			}
		}
	}
}

func (b *broker) commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.received))
	for i, f := range b.received {
		out[i] = f.Command
	}
	return out
}

func (b *broker) frame(command string) (stomp.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range b.received {
		if f.Command == command {
			return f, true
		}
	}
	return stomp.Frame{}, false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func testConfig() *config.RealtimeConfig {
	cfg := *config.DefaultConfig().Realtime
	cfg.AlertTTL = time.Minute
	return &cfg
}

// Functional Validation Tests - endpoint derivation

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8081", "ws://localhost:8081/ws-support", false},
		{"https://lms.example.com/", "wss://lms.example.com/ws-support", false},
		{"https://lms.example.com/backend", "wss://lms.example.com/backend/ws-support", false},
		{"ws://127.0.0.1:9000", "ws://127.0.0.1:9000/ws-support", false},
		{"ftp://example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "/ws-support")
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedScheme) {
					t.Errorf("Expected ErrUnsupportedScheme, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// Functional Validation Tests - alert text

func TestNewAlert_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		summary  types.ThreadSummary
		title    string
		subtitle string
	}{
		{"student and course", types.ThreadSummary{ID: 1, Student: &types.Participant{FullName: "An"}, CourseTitle: "IELTS", Topic: "lesson_issue"}, "An", "IELTS"},
		{"topic only", types.ThreadSummary{ID: 2, Student: &types.Participant{FullName: "Binh"}, Topic: "payment_issue"}, "Binh", "payment_issue"},
		{"nothing", types.ThreadSummary{ID: 3}, "New student", "New support request"},
		{"blank name", types.ThreadSummary{ID: 4, Student: &types.Participant{}}, "New student", "New support request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAlert(tt.summary)
			if a.Title != tt.title || a.Subtitle != tt.subtitle {
				t.Errorf("Expected %q/%q, got %q/%q", tt.title, tt.subtitle, a.Title, a.Subtitle)
			}
			if a.ThreadID != tt.summary.ID || a.Key == "" {
				t.Errorf("Unexpected alert %+v", a)
			}
		})
	}
}

func TestAlertQueue_ExpiresAfterTTL(t *testing.T) {
	var changes atomic.Int32
	q := NewAlertQueue(30*time.Millisecond, func([]Alert) { changes.Add(1) })
	defer q.Close()

	first := q.Push(types.ThreadSummary{ID: 1})
	second := q.Push(types.ThreadSummary{ID: 1})
	if first.Key == second.Key {
		t.Fatal("Alert keys must be unique")
	}
	if len(q.List()) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(q.List()))
	}

	waitFor(t, func() bool { return len(q.List()) == 0 })
	if changes.Load() != 4 {
		t.Errorf("Expected 2 pushes and 2 expiries, got %d changes", changes.Load())
	}
}

func TestAlertQueue_Dismiss(t *testing.T) {
	q := NewAlertQueue(time.Minute, nil)
	defer q.Close()

	a := q.Push(types.ThreadSummary{ID: 5})
	if !q.Dismiss(a.Key) {
		t.Error("Dismiss should report a visible alert")
	}
	if q.Dismiss(a.Key) {
		t.Error("Second dismiss should be a no-op")
	}
	if len(q.List()) != 0 {
		t.Error("Queue should be empty")
	}
}

func TestAlertQueue_CloseDropsAlerts(t *testing.T) {
	q := NewAlertQueue(time.Minute, nil)
	q.Push(types.ThreadSummary{ID: 1})
	q.Close()

	if len(q.List()) != 0 {
		t.Error("Close should drop alerts")
	}
	q.Push(types.ThreadSummary{ID: 2})
	if len(q.List()) != 0 {
		t.Error("Push after Close should be ignored")
	}
}

// Functional Validation Tests - alert channel

func TestNotifier_NewThreadAlertRefreshesOnce(t *testing.T) {
	message := stomp.New(stomp.CmdMessage,
		stomp.HeaderDestination, "/topic/support/manager-alerts",
		stomp.HeaderSubscription, "manager-alerts",
	)
	message.Body = `{"id":42,"student":{"fullName":"An"},"topic":"lesson_issue"}`
	wire := message.Encode()
	cut := len(wire) - 10

	_, srv := newBroker(t,
		"\n",       // heart-beat
		wire[:cut], // frame split inside the body
		wire[cut:],
	)

	var refreshes atomic.Int32
	n, err := New(srv.URL, testConfig(),
		WithLogger(logs.Discard()),
		WithRefresh(func(context.Context) error {
			refreshes.Add(1)
			return nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer n.Close()

	waitFor(t, func() bool { return len(n.Alerts().List()) == 1 })
	alert := n.Alerts().List()[0]
	if alert.Title != "An" || alert.Subtitle != "lesson_issue" || alert.ThreadID != 42 {
		t.Errorf("Unexpected alert %+v", alert)
	}

	waitFor(t, func() bool { return refreshes.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := refreshes.Load(); got != 1 {
		t.Errorf("Expected exactly one refresh, got %d", got)
	}
}

func TestNotifier_HandshakeFrames(t *testing.T) {
	b, srv := newBroker(t)

	n, err := New(srv.URL, testConfig(), WithLogger(logs.Discard()), WithToken("manager-token"))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { _, ok := b.frame(stomp.CmdSubscribe); return ok })

	connect, _ := b.frame(stomp.CmdConnect)
	if connect.Header(stomp.HeaderAcceptVersion) != "1.2,1.1,1.0" || connect.Header(stomp.HeaderHeartBeat) != "0,0" {
		t.Errorf("Unexpected CONNECT headers %+v", connect.Headers)
	}
	sub, _ := b.frame(stomp.CmdSubscribe)
	if sub.Header(stomp.HeaderID) != "manager-alerts" || sub.Header(stomp.HeaderDestination) != "/topic/support/manager-alerts" {
		t.Errorf("Unexpected SUBSCRIBE headers %+v", sub.Headers)
	}
	b.mu.Lock()
	auth := b.auth
	b.mu.Unlock()
	if auth != "Bearer manager-token" {
		t.Errorf("Expected bearer auth on upgrade, got %q", auth)
	}

	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-b.gotAll:
	case <-time.After(2 * time.Second):
		t.Fatal("broker never received DISCONNECT")
	}
	want := []string{stomp.CmdConnect, stomp.CmdSubscribe, stomp.CmdDisconnect}
	if got := b.commands(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNotifier_BadFramesDoNotStopLoop(t *testing.T) {
	errFrame := stomp.New(stomp.CmdError, stomp.HeaderMessage, "access denied")
	bad := stomp.New(stomp.CmdMessage)
	bad.Body = "{not json"
	empty := stomp.New(stomp.CmdMessage)
	good := stomp.New(stomp.CmdMessage)
	good.Body = `{"id":7,"courseTitle":"TOEIC"}`

	_, srv := newBroker(t,
		errFrame.Encode(),
		"MESSAGE\nbroken-header\n\nbody\x00",
		bad.Encode()+empty.Encode(),
		good.Encode(),
	)

	var refreshes atomic.Int32
	n, err := New(srv.URL, testConfig(),
		WithLogger(logs.Discard()),
		WithRefresh(func(context.Context) error {
			refreshes.Add(1)
			return errors.New("list unavailable")
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	waitFor(t, func() bool { return refreshes.Load() == 1 })
	alerts := n.Alerts().List()
	if len(alerts) != 1 || alerts[0].Title != "New student" || alerts[0].Subtitle != "TOEIC" {
		t.Errorf("Expected only the valid alert, got %+v", alerts)
	}
}

func TestNotifier_ReconnectAfterClose(t *testing.T) {
	message := stomp.New(stomp.CmdMessage)
	message.Body = `{"id":9,"student":{"fullName":"Binh"},"topic":"payment_issue"}`
	_, srv := newBroker(t, message.Encode())

	var refreshes atomic.Int32
	n, err := New(srv.URL, testConfig(),
		WithLogger(logs.Discard()),
		WithRefresh(func(context.Context) error {
			refreshes.Add(1)
			return nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return refreshes.Load() == 1 })
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if len(n.Alerts().List()) != 0 {
		t.Error("Close should clear the notifier's own alerts")
	}

	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	defer n.Close()
	waitFor(t, func() bool { return refreshes.Load() == 2 })
	waitFor(t, func() bool { return len(n.Alerts().List()) == 1 })
	if got := n.Alerts().List()[0].Title; got != "Binh" {
		t.Errorf("Expected alert from the second session, got %q", got)
	}
}

func TestNotifier_CloseLeavesSharedQueue(t *testing.T) {
	message := stomp.New(stomp.CmdMessage)
	message.Body = `{"id":3,"student":{"fullName":"An"}}`
	_, srv := newBroker(t, message.Encode())

	shared := NewAlertQueue(time.Minute, nil)
	defer shared.Close()
	n, err := New(srv.URL, testConfig(), WithLogger(logs.Discard()), WithAlertQueue(shared))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(shared.List()) == 1 })
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	if len(shared.List()) != 1 {
		t.Error("Close should not touch a queue the caller owns")
	}
	shared.Push(types.ThreadSummary{ID: 4})
	if len(shared.List()) != 2 {
		t.Error("Shared queue should still accept alerts after Close")
	}
}

func TestAlertQueue_ClearKeepsQueueUsable(t *testing.T) {
	q := NewAlertQueue(time.Minute, nil)
	defer q.Close()
	q.Push(types.ThreadSummary{ID: 1})
	q.Clear()
	if len(q.List()) != 0 {
		t.Error("Clear should drop alerts")
	}
	q.Push(types.ThreadSummary{ID: 2})
	if len(q.List()) != 1 {
		t.Error("Push after Clear should be kept")
	}
}

func TestNotifier_ConnectTwice(t *testing.T) {
	_, srv := newBroker(t)
	n, err := New(srv.URL, testConfig(), WithLogger(logs.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	if err := n.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

func TestNotifier_ContextCancelStopsLoop(t *testing.T) {
	_, srv := newBroker(t)
	n, err := New(srv.URL, testConfig(), WithLogger(logs.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on cancel")
	}
	if n.Err() != nil {
		t.Errorf("Cancellation is not a failure, got %v", n.Err())
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close after cancel should succeed, got %v", err)
	}
}

func TestNotifier_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	n, err := New(srv.URL, testConfig(), WithLogger(logs.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err == nil {
		n.Close()
		t.Fatal("Expected dial error against a plain HTTP endpoint")
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close on a never-connected notifier should be a no-op, got %v", err)
	}
}
