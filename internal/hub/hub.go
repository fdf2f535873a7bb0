package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportdesk/internal/websocket"
	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

// publishBuffer bounds queued publications.
// TECHNICAL DISCOVERY: Thread creation is far rarer than chat traffic; 256 covers a
// burst from a class opening threads at once
const publishBuffer = 256

// SubscriberSource is the part of the websocket registry the hub reads.
type SubscriberSource interface {
	Subscribers(destination string) []websocket.Subscription
	UnregisterConnection(conn interfaces.Connection)
}

// Hub fans publications out to STOMP subscribers
// ARCHITECTURAL DISCOVERY: Central coordination point for all alert flow
// maintains clean separation between WebSocket handling and thread business rules
type Hub struct {
	publishChannel  chan *Publication
	shutdownChannel chan struct{}
	done            chan struct{}

	// ARCHITECTURAL DISCOVERY: Dependency injection enables clean testing with mocks
	registry    SubscriberSource
	destination string
	logger      *slog.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// Publication is one message queued for a destination
// FUNCTIONAL DISCOVERY: The message id is fixed at publish time so every subscriber
// sees the same id for the same alert
type Publication struct {
	Destination string
	MessageID   string
	ContentType string
	Body        string
	Timestamp   time.Time
}

// NewHub creates a new hub publishing thread alerts on destination.
func NewHub(registry SubscriberSource, destination string, logger *slog.Logger) *Hub {
	return &Hub{
		publishChannel: make(chan *Publication, publishBuffer),
		registry:       registry,
		destination:    destination,
		logger:         logs.OrDefault(logger),
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine keeps per-subscriber delivery ordered
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting alert hub", "destination", h.destination)
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the hub down after delivering what is already queued.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("alert hub stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// PublishThreadCreated implements interfaces.AlertPublisher.
func (h *Hub) PublishThreadCreated(ctx context.Context, summary types.ThreadSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode thread summary: %w", err)
	}
	return h.Publish(ctx, &Publication{
		Destination: h.destination,
		ContentType: "application/json",
		Body:        string(body),
	})
}

// Publish queues a publication without blocking the caller.
func (h *Hub) Publish(ctx context.Context, pub *Publication) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	if pub.MessageID == "" {
		pub.MessageID = uuid.NewString()
	}
	if pub.Timestamp.IsZero() {
		pub.Timestamp = time.Now()
	}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.publishChannel <- pub:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case pub := <-h.publishChannel:
			h.deliver(pub)

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			h.logger.Info("alert hub context cancelled")
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case pub := <-h.publishChannel:
			h.deliver(pub)
		default:
			return
		}
	}
}

// deliver writes the publication to every subscriber of its destination
// FUNCTIONAL DISCOVERY: A failed write drops that subscriber only; delivery to the
// others continues
func (h *Hub) deliver(pub *Publication) {
	subs := h.registry.Subscribers(pub.Destination)
	delivered := 0
	for _, sub := range subs {
		frame := stomp.New(stomp.CmdMessage,
			stomp.HeaderDestination, pub.Destination,
			stomp.HeaderSubscription, sub.ID,
			stomp.HeaderMessageID, pub.MessageID,
			stomp.HeaderContentType, pub.ContentType,
		)
		frame.Body = pub.Body

		if err := sub.Conn.WriteFrame(frame); err != nil {
			h.logger.Warn("dropping subscriber after failed write",
				"user_id", sub.Conn.GetUserID(), "subscription", sub.ID, "error", err)
			h.registry.UnregisterConnection(sub.Conn)
			_ = sub.Conn.Close()
			continue
		}
		delivered++
	}
	h.logger.Debug("publication delivered",
		"destination", pub.Destination, "message_id", pub.MessageID, "delivered", delivered, "subscribers", len(subs))
}
