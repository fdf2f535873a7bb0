package websocket

import (
	"sync"

	"supportdesk/pkg/interfaces"
)

// Subscription is one STOMP subscription held by a connection.
type Subscription struct {
	ID          string
	Destination string
	Conn        interfaces.Connection
}

// Registry manages WebSocket connections and their STOMP subscriptions with thread-safe operations
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and alert fan-out
type Registry struct {
	mu            sync.RWMutex                                         // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out lookups
	connections   map[interfaces.Connection]map[string]string          // conn -> subscription id -> destination
	subscriptions map[string]map[interfaces.Connection]map[string]bool // destination -> conn -> subscription ids
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		connections:   make(map[interfaces.Connection]map[string]string),
		subscriptions: make(map[string]map[interfaces.Connection]map[string]bool),
	}
}

// RegisterConnection starts tracking an authenticated connection
// FUNCTIONAL DISCOVERY: A manager may keep several tabs open, so connections are keyed by
// instance rather than by user and never replace each other
func (r *Registry) RegisterConnection(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connections[conn]; !exists {
		r.connections[conn] = make(map[string]string)
	}
	return nil
}

// UnregisterConnection removes a connection and every subscription it holds
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
func (r *Registry) UnregisterConnection(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.connections[conn]
	if !exists {
		return
	}
	for id, destination := range subs {
		r.removeLocked(conn, id, destination)
	}
	delete(r.connections, conn)
}

// Subscribe records a subscription id for a destination on a registered connection.
func (r *Registry) Subscribe(conn interfaces.Connection, id, destination string) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.connections[conn]
	if !exists {
		return ErrConnectionNotRegistered
	}
	if _, taken := subs[id]; taken {
		return ErrDuplicateSubscription
	}
	subs[id] = destination

	byConn := r.subscriptions[destination]
	if byConn == nil {
		byConn = make(map[interfaces.Connection]map[string]bool)
		r.subscriptions[destination] = byConn
	}
	if byConn[conn] == nil {
		byConn[conn] = make(map[string]bool)
	}
	byConn[conn][id] = true
	return nil
}

// Unsubscribe drops one subscription and returns the destination it pointed at.
func (r *Registry) Unsubscribe(conn interfaces.Connection, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, exists := r.connections[conn]
	if !exists {
		return "", ErrConnectionNotRegistered
	}
	destination, ok := subs[id]
	if !ok {
		return "", ErrSubscriptionNotFound
	}
	delete(subs, id)
	r.removeLocked(conn, id, destination)
	return destination, nil
}

// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
func (r *Registry) removeLocked(conn interfaces.Connection, id, destination string) {
	byConn, exists := r.subscriptions[destination]
	if !exists {
		return
	}
	if ids := byConn[conn]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(byConn, conn)
		}
	}
	if len(byConn) == 0 {
		delete(r.subscriptions, destination)
	}
}

// Subscribers returns every subscription on a destination for fan-out.
func (r *Registry) Subscribers(destination string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []Subscription
	for conn, ids := range r.subscriptions[destination] {
		for id := range ids {
			subs = append(subs, Subscription{ID: id, Destination: destination, Conn: conn})
		}
	}
	return subs
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, byConn := range r.subscriptions {
		for _, ids := range byConn {
			total += len(ids)
		}
	}
	return map[string]int{
		"total_connections":   len(r.connections),
		"total_subscriptions": total,
		"destinations":        len(r.subscriptions),
	}
}

// CloseAll closes every registered connection. Read loops unregister them on exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
