package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"supportdesk/pkg/logs"
	"supportdesk/pkg/stomp"
	"supportdesk/pkg/types"
)

const (
	// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
	// keeps idle manager tabs alive through proxies
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second

	serverName = "supportdesk/1.0"
)

// Authenticator resolves a bearer token to the caller.
type Authenticator interface {
	Authenticate(token string) (types.Actor, bool)
}

// HandlerConfig carries the endpoint settings.
type HandlerConfig struct {
	// Destination is the only topic clients may subscribe to; managers only.
	Destination      string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Handler is the STOMP-over-WebSocket endpoint for manager alerts
// ARCHITECTURAL DISCOVERY: Authentication happens on the HTTP upgrade; STOMP CONNECT
// only opens the protocol session, so an anonymous socket never reaches the registry
type Handler struct {
	registry    *Registry
	auth        Authenticator
	destination string
	writeTTL    time.Duration
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, auth Authenticator, cfg HandlerConfig) *Handler {
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	return &Handler{
		registry:    registry,
		auth:        auth,
		destination: cfg.Destination,
		writeTTL:    cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: The LMS front end is served from another origin in development
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: handshake,
		},
		logger: logs.OrDefault(cfg.Logger),
	}
}

// BearerToken extracts the token from the Authorization header, falling back to the
// access_token query parameter browsers use for WebSocket upgrades.
func BearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(token), nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// ServeHTTP authenticates, upgrades and starts the connection's read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := BearerToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	actor, ok := h.auth.Authenticate(token)
	if !ok {
		http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}

	// FUNCTIONAL DISCOVERY: WebSocket upgrade after validation prevents resource waste
	// on invalid requests while providing proper HTTP error responses
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.writeTTL)
	if err := wsConn.SetCredentials(actor); err != nil {
		h.logger.Warn("failed to set credentials", "user_id", actor.ID, "error", err)
		_ = wsConn.Close()
		return
	}
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.Warn("failed to register connection", "user_id", actor.ID, "error", err)
		_ = wsConn.Close()
		return
	}

	h.logger.Info("websocket connected", "user_id", actor.ID, "role", actor.Role)
	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and dispatches STOMP frames
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles reading so the
// protocol state below needs no locking
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.logger.Debug("websocket closed", "user_id", conn.GetUserID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	go h.pingLoop(conn)

	session := &stompSession{}
	decoder := stomp.NewDecoder()
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "user_id", conn.GetUserID(), "error", err)
			}
			return
		}
		// Any inbound traffic counts as liveness.
		_ = conn.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		_, _ = decoder.Write(data)
		for frame, err := range decoder.Frames() {
			if err != nil {
				h.sendError(conn, "", fmt.Sprintf("malformed frame: %v", err))
				continue
			}
			if !h.handleFrame(conn, session, frame) {
				return
			}
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

type stompSession struct {
	connected bool
}

// handleFrame applies one client frame. It returns false when the connection should close.
func (h *Handler) handleFrame(conn *Connection, session *stompSession, frame stomp.Frame) bool {
	receipt := frame.Header(stomp.HeaderReceipt)

	if !session.connected && frame.Command != stomp.CmdConnect && frame.Command != "STOMP" {
		h.sendError(conn, receipt, ErrNotConnected.Error())
		conn.flush(time.Second)
		return false
	}

	switch frame.Command {
	case stomp.CmdConnect, "STOMP":
		session.connected = true
		h.write(conn, stomp.New(stomp.CmdConnected,
			stomp.HeaderVersion, "1.2",
			stomp.HeaderHeartBeat, "0,0",
			"server", serverName,
		))

	case stomp.CmdSubscribe:
		id := frame.Header(stomp.HeaderID)
		destination := frame.Header(stomp.HeaderDestination)
		if id == "" || destination == "" {
			h.sendError(conn, receipt, fmt.Sprintf("%v: id and destination", ErrMissingHeader))
			return true
		}
		if !h.allowed(conn.Actor(), destination) {
			h.logger.Warn("subscription denied", "user_id", conn.GetUserID(), "destination", destination)
			h.sendError(conn, receipt, fmt.Sprintf("%v: %s", ErrDestinationDenied, destination))
			return true
		}
		if err := h.registry.Subscribe(conn, id, destination); err != nil {
			h.sendError(conn, receipt, err.Error())
			return true
		}
		h.logger.Info("subscribed", "user_id", conn.GetUserID(), "destination", destination, "subscription", id)
		h.sendReceipt(conn, receipt)

	case stomp.CmdUnsubscribe:
		id := frame.Header(stomp.HeaderID)
		if _, err := h.registry.Unsubscribe(conn, id); err != nil {
			h.sendError(conn, receipt, err.Error())
			return true
		}
		h.sendReceipt(conn, receipt)

	case stomp.CmdDisconnect:
		h.sendReceipt(conn, receipt)
		conn.flush(time.Second)
		return false

	default:
		h.sendError(conn, receipt, fmt.Sprintf("%v: %s", ErrUnsupportedCommand, frame.Command))
	}
	return true
}

func (h *Handler) allowed(actor types.Actor, destination string) bool {
	return destination == h.destination && actor.IsManager()
}

func (h *Handler) sendReceipt(conn *Connection, receipt string) {
	if receipt == "" {
		return
	}
	h.write(conn, stomp.New(stomp.CmdReceipt, stomp.HeaderReceiptID, receipt))
}

func (h *Handler) sendError(conn *Connection, receipt, message string) {
	frame := stomp.New(stomp.CmdError, stomp.HeaderMessage, message)
	if receipt != "" {
		frame.Headers = append(frame.Headers, stomp.Header{Key: stomp.HeaderReceiptID, Value: receipt})
	}
	frame.Body = message
	h.write(conn, frame)
}

func (h *Handler) write(conn *Connection, frame stomp.Frame) {
	if err := conn.WriteFrame(frame); err != nil && !errors.Is(err, ErrConnectionClosed) {
		h.logger.Warn("failed to write frame", "command", frame.Command, "user_id", conn.GetUserID(), "error", err)
	}
}
