package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"supportdesk/internal/websocket"
	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

const alerts = "/topic/support/manager-alerts"

type fakeConn struct {
	id       int64
	mu       sync.Mutex
	frames   []stomp.Frame
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteFrame(frame stomp.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) GetUserID() int64                 { return f.id }
func (f *fakeConn) GetRole() string                  { return types.RoleManager }
func (f *fakeConn) IsAuthenticated() bool            { return true }
func (f *fakeConn) SetCredentials(types.Actor) error { return nil }

func (f *fakeConn) received() []stomp.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stomp.Frame(nil), f.frames...)
}

func newTestHub(t *testing.T) (*Hub, *websocket.Registry) {
	t.Helper()
	registry := websocket.NewRegistry()
	return NewHub(registry, alerts, logs.Discard()), registry
}

func subscribe(t *testing.T, registry *websocket.Registry, conn *fakeConn, id string) {
	t.Helper()
	if err := registry.RegisterConnection(conn); err != nil {
		t.Fatal(err)
	}
	if err := registry.Subscribe(conn, id, alerts); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Architectural Validation Tests

func TestHub_InterfaceCompliance(t *testing.T) {
	var _ interfaces.AlertPublisher = (*Hub)(nil)
}

// Functional Validation Tests - lifecycle

func TestHub_StartStop(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := hub.Start(ctx); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := hub.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	// Restart after a stop is allowed.
	if err := hub.Start(ctx); err != nil {
		t.Errorf("Restart failed: %v", err)
	}
	_ = hub.Stop()
}

func TestHub_PublishRequiresRunning(t *testing.T) {
	hub, _ := newTestHub(t)
	err := hub.PublishThreadCreated(context.Background(), types.ThreadSummary{ID: 1})
	if !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_PublishHonoursCancelledContext(t *testing.T) {
	hub, _ := newTestHub(t)
	_ = hub.Start(context.Background())
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hub.PublishThreadCreated(ctx, types.ThreadSummary{ID: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// Functional Validation Tests - fan-out

func TestHub_PublishThreadCreatedFansOut(t *testing.T) {
	hub, registry := newTestHub(t)
	c1 := &fakeConn{id: 100}
	c2 := &fakeConn{id: 101}
	subscribe(t, registry, c1, "manager-alerts")
	subscribe(t, registry, c2, "sub-7")

	if err := hub.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer hub.Stop()

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	summary := types.ThreadSummary{
		ID:        42,
		Student:   &types.Participant{ID: 1, FullName: "An"},
		Topic:     types.TopicLessonIssue,
		CreatedAt: &created,
	}
	if err := hub.PublishThreadCreated(context.Background(), summary); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(c1.received()) == 1 && len(c2.received()) == 1 })

	f1, f2 := c1.received()[0], c2.received()[0]
	if f1.Command != stomp.CmdMessage || f1.Header(stomp.HeaderDestination) != alerts {
		t.Errorf("Unexpected frame %+v", f1)
	}
	if f1.Header(stomp.HeaderSubscription) != "manager-alerts" || f2.Header(stomp.HeaderSubscription) != "sub-7" {
		t.Error("Each subscriber should see its own subscription id")
	}
	if id := f1.Header(stomp.HeaderMessageID); id == "" || id != f2.Header(stomp.HeaderMessageID) {
		t.Error("Subscribers should share one message id")
	}
	if f1.Header(stomp.HeaderContentType) != "application/json" {
		t.Errorf("Unexpected content type %q", f1.Header(stomp.HeaderContentType))
	}

	var got types.ThreadSummary
	if err := json.Unmarshal([]byte(f1.Body), &got); err != nil {
		t.Fatalf("Body is not a thread summary: %v", err)
	}
	if got.ID != 42 || got.Student.FullName != "An" || got.Topic != types.TopicLessonIssue {
		t.Errorf("Unexpected summary %+v", got)
	}
}

func TestHub_FailedSubscriberIsDropped(t *testing.T) {
	hub, registry := newTestHub(t)
	good := &fakeConn{id: 100}
	bad := &fakeConn{id: 101, writeErr: errors.New("broken pipe")}
	subscribe(t, registry, good, "a")
	subscribe(t, registry, bad, "b")

	_ = hub.Start(context.Background())
	defer hub.Stop()

	_ = hub.PublishThreadCreated(context.Background(), types.ThreadSummary{ID: 1})
	waitFor(t, func() bool { return len(good.received()) == 1 })
	waitFor(t, func() bool { return len(registry.Subscribers(alerts)) == 1 })

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	if !closed {
		t.Error("Failed subscriber should be closed")
	}
}

func TestHub_StopDeliversQueued(t *testing.T) {
	hub, registry := newTestHub(t)
	conn := &fakeConn{id: 100}
	subscribe(t, registry, conn, "a")

	_ = hub.Start(context.Background())
	for i := 0; i < 10; i++ {
		if err := hub.PublishThreadCreated(context.Background(), types.ThreadSummary{ID: int64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := hub.Stop(); err != nil {
		t.Fatal(err)
	}
	if n := len(conn.received()); n != 10 {
		t.Errorf("Expected all 10 queued alerts delivered before stop returned, got %d", n)
	}
}

func TestHub_ConcurrentStartStop(t *testing.T) {
	hub, _ := newTestHub(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Start(context.Background())
			_ = hub.PublishThreadCreated(context.Background(), types.ThreadSummary{ID: 1})
			_ = hub.Stop()
		}()
	}
	wg.Wait()
	_ = hub.Stop()
	if hub.IsRunning() {
		t.Error("Hub should be stopped")
	}
}
