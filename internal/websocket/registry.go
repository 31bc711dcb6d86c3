package websocket

import (
	"sync"

	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Registry tracks every live connection by id
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and room membership
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection
	logger      zerolog.Logger
}

// NewRegistry creates a new connection registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a connection
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	metrics.ConnectionsActive.Set(float64(len(r.connections)))
	return nil
}

// Unregister removes a connection
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
// RACE CONDITION FIX: Only removes the connection if it matches the one currently registered
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; exists && registered == conn {
		delete(r.connections, conn.ID())
		metrics.ConnectionsActive.Set(float64(len(r.connections)))
	}
}

// Get returns the connection with id
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Connections returns a snapshot of every registered connection
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	return conns
}

// Snapshot is Connections typed for consumers outside the transport layer
func (r *Registry) Snapshot() []interfaces.Connection {
	conns := r.Connections()
	out := make([]interfaces.Connection, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Heartbeat runs one probe round. A connection that has not answered the
// previous probe is terminated; the rest are pinged. Termination makes the
// read pump exit, which runs the normal teardown.
func (r *Registry) Heartbeat() (pinged, terminated int) {
	for _, c := range r.Connections() {
		if !c.probe() {
			r.logger.Info().Str("conn_id", c.ID()).Msg("terminating unresponsive connection")
			metrics.ConnectionsClosed.WithLabelValues("heartbeat").Inc()
			_ = c.Close()
			terminated++
			continue
		}
		if err := c.Ping(); err != nil {
			r.logger.Debug().Err(err).Str("conn_id", c.ID()).Msg("ping failed")
			continue
		}
		pinged++
	}
	return pinged, terminated
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	stats := map[string]int{
		"total_connections": 0,
		"hosts":             0,
		"students":          0,
		"unjoined":          0,
	}
	for _, c := range r.Connections() {
		stats["total_connections"]++
		switch _, role := c.Association(); role {
		case types.RoleHost:
			stats["hosts"]++
		case types.RoleStudent:
			stats["students"]++
		default:
			stats["unjoined"]++
		}
	}
	return stats
}
