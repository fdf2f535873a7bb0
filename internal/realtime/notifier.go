// Package realtime is the manager alert channel: a WebSocket carrying STOMP frames that
// only announces new threads. Thread data itself is always re-read over REST.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"supportdesk/internal/config"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

// WebSocketURL derives the alert endpoint from the REST base: http becomes ws, https becomes wss.
func WebSocketURL(apiBase, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return "", fmt.Errorf("realtime: parse API base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", ErrUnsupportedScheme
	}
	if path == "" {
		path = "/ws-support"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// RefreshFunc reloads the manager thread list after an alert.
type RefreshFunc func(ctx context.Context) error

// Notifier owns one alert connection.
// ARCHITECTURAL DISCOVERY: A single read goroutine decodes frames and reacts to them;
// writes from the reader (SUBSCRIBE) and from Close (DISCONNECT) share writeMu.
type Notifier struct {
	cfg     config.RealtimeConfig
	url     string
	token   string
	dialer  *websocket.Dialer
	logger  *slog.Logger
	alerts  *AlertQueue
	owned   bool
	refresh RefreshFunc
	onAlert func(Alert)

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool

	writeMu sync.Mutex
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithToken authenticates the upgrade request with a bearer token.
func WithToken(token string) Option {
	return func(n *Notifier) { n.token = token }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithDialer replaces the default gorilla dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(n *Notifier) { n.dialer = d }
}

// WithRefresh sets the callback run once per alert.
func WithRefresh(fn RefreshFunc) Option {
	return func(n *Notifier) { n.refresh = fn }
}

// WithAlertHandler observes every alert as it is pushed.
func WithAlertHandler(fn func(Alert)) Option {
	return func(n *Notifier) { n.onAlert = fn }
}

// WithAlertQueue shares an existing queue instead of creating one.
func WithAlertQueue(q *AlertQueue) Option {
	return func(n *Notifier) { n.alerts = q }
}

// New creates a disconnected notifier for apiBase.
func New(apiBase string, cfg *config.RealtimeConfig, opts ...Option) (*Notifier, error) {
	if cfg == nil {
		cfg = config.DefaultConfig().Realtime
	}
	endpoint, err := WebSocketURL(apiBase, cfg.Path)
	if err != nil {
		return nil, err
	}
	n := &Notifier{
		cfg: *cfg,
		url: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logs.OrDefault(n.logger)
	if n.alerts == nil {
		n.alerts = NewAlertQueue(cfg.AlertTTL, nil)
		n.owned = true
	}
	return n, nil
}

// URL returns the WebSocket endpoint.
func (n *Notifier) URL() string { return n.url }

// Alerts returns the queue alerts are pushed to.
func (n *Notifier) Alerts() *AlertQueue { return n.alerts }

// Connect dials the endpoint, sends CONNECT and starts the read loop. The loop lives
// until ctx is cancelled, the server drops the connection, or Close is called.
func (n *Notifier) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		select {
		case <-n.done:
			// The server dropped the previous connection.
			n.cancel()
			n.running = false
		default:
			return ErrAlreadyConnected
		}
	}

	header := http.Header{}
	if n.token != "" {
		header.Set("Authorization", "Bearer "+n.token)
	}
	conn, resp, err := n.dialer.DialContext(ctx, n.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial %s: %s: %w", n.url, resp.Status, err)
		}
		return fmt.Errorf("realtime: dial %s: %w", n.url, err)
	}

	if err := n.write(conn, stomp.ConnectFrame(hostOf(n.url))); err != nil {
		conn.Close()
		return fmt.Errorf("realtime: send CONNECT: %w", err)
	}
	n.conn = conn

	loopCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})
	n.err = nil
	n.running = true

	go n.readLoop(loopCtx, conn, n.done)

	// TECHNICAL DISCOVERY: ReadMessage does not observe contexts; closing the socket
	// is what unblocks it on cancellation.
	go func(done <-chan struct{}) {
		select {
		case <-loopCtx.Done():
			conn.Close()
		case <-done:
		}
	}(n.done)

	n.logger.Info("support alert channel connected", "url", n.url)
	return nil
}

// Done is closed when the read loop exits. It is nil before the first Connect.
func (n *Notifier) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Err returns why the read loop stopped; nil after a clean Close.
func (n *Notifier) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Close sends a best-effort DISCONNECT, closes the socket and waits for the loop.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	conn, cancel, done := n.conn, n.cancel, n.done
	n.mu.Unlock()

	if err := n.write(conn, stomp.DisconnectFrame()); err != nil {
		n.logger.Debug("support alert DISCONNECT not sent", "error", err)
	}
	cancel()
	conn.Close()
	<-done

	n.mu.Lock()
	n.conn = nil
	n.mu.Unlock()

	// A queue passed in with WithAlertQueue belongs to the caller.
	if n.owned {
		n.alerts.Clear()
	}
	n.logger.Info("support alert channel closed")
	return nil
}

func (n *Notifier) write(conn *websocket.Conn, f stomp.Frame) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if n.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(n.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, f.Bytes())
}

func (n *Notifier) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	dec := stomp.NewDecoder()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				n.logger.Warn("support alert channel lost", "error", err)
				n.mu.Lock()
				n.err = err
				n.mu.Unlock()
			}
			return
		}

		dec.Write(data)
		for frame, err := range dec.Frames() {
			if err != nil {
				n.logger.Warn("malformed support alert frame", "error", err)
				continue
			}
			n.handleFrame(ctx, conn, frame)
		}
	}
}

func (n *Notifier) handleFrame(ctx context.Context, conn *websocket.Conn, f stomp.Frame) {
	switch f.Command {
	case stomp.CmdConnected:
		if err := n.write(conn, stomp.SubscribeFrame(n.cfg.SubscriptionID, n.cfg.Destination)); err != nil {
			n.logger.Error("failed to subscribe to support alerts", "error", err)
			return
		}
		n.logger.Debug("subscribed to support alerts", "destination", n.cfg.Destination, "version", f.Header(stomp.HeaderVersion))

	case stomp.CmdMessage:
		if strings.TrimSpace(f.Body) == "" {
			return
		}
		var summary types.ThreadSummary
		if err := json.Unmarshal([]byte(f.Body), &summary); err != nil {
			n.logger.Warn("could not parse support alert", "error", err, "body", logs.Truncate(f.Body, 200))
			return
		}
		alert := n.alerts.Push(summary)
		n.logger.Info("new support thread", "thread_id", summary.ID, "title", alert.Title)
		if n.onAlert != nil {
			n.onAlert(alert)
		}
		if n.refresh != nil {
			if err := n.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Warn("thread list refresh after alert failed", "error", err)
			}
		}

	case stomp.CmdError:
		n.logger.Error("support alert channel error", "message", f.Header(stomp.HeaderMessage), "body", logs.Truncate(f.Body, 200))

	default:
		n.logger.Debug("ignored support alert frame", "command", f.Command)
	}
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
