package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

const (
	// FUNCTIONAL DISCOVERY: 100 buffered frames absorb an alert burst without blocking the hub
	writeBufferSize = 100

	defaultWriteTimeout = 5 * time.Second
)

// outbound is one queued write. A nil data with done set marks a flush point.
type outbound struct {
	data []byte
	done chan struct{}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan outbound
	writeTimeout  time.Duration
	actor         types.Actor
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection creates a new WebSocket connection wrapper. A zero writeTimeout uses five seconds.
func NewConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan outbound, writeBufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case out := <-c.writeCh:
			if out.done != nil {
				close(out.done)
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteFrame queues an encoded frame for the writer goroutine.
func (c *Connection) WriteFrame(frame stomp.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- outbound{data: frame.Bytes()}:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// flush waits until every frame queued before it has been written or the timeout passes.
// TECHNICAL DISCOVERY: RECEIPT and ERROR frames must reach the client before the close
func (c *Connection) flush(timeout time.Duration) {
	done := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.writeCh <- outbound{done: done}:
	case <-timer.C:
		return
	case <-c.ctx.Done():
		return
	}
	select {
	case <-done:
	case <-timer.C:
	case <-c.ctx.Done():
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials records the authenticated actor.
func (c *Connection) SetCredentials(actor types.Actor) error {
	if actor.ID <= 0 || (actor.Role != types.RoleStudent && actor.Role != types.RoleManager) {
		return ErrInvalidCredentials
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.actor = actor
	c.authenticated = true
	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actor.ID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actor.Role
}

// Actor returns the authenticated caller.
func (c *Connection) Actor() types.Actor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.actor
}
