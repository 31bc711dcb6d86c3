package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// ConnectionOptions tunes the writer side of a connection.
type ConnectionOptions struct {
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultConnectionOptions returns the classroom defaults.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{WriteTimeout: 5 * time.Second, BufferSize: 100}
}

// frame is one queued write. closeAfter ends the connection once the frame
// is on the wire.
type frame struct {
	data       []byte
	closeAfter bool
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan frame // FUNCTIONAL DISCOVERY: buffer absorbs broadcast bursts
	writeTimeout time.Duration
	langs        []string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closing   atomic.Bool // final frame queued; no more sends
	alive     atomic.Bool // set by pong, cleared by each heartbeat probe

	mu       sync.RWMutex // Protect association fields
	roomCode string
	role     types.Role
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, langs []string, opts ConnectionOptions) *Connection {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultConnectionOptions().BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan frame, opts.BufferSize),
		writeTimeout: opts.WriteTimeout,
		langs:        append([]string(nil), langs...),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.alive.Store(true)

	// FUNCTIONAL DISCOVERY: Any pong proves liveness until the next probe
	conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer func() { _ = c.Close() }()

	for {
		select {
		case f := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				return
			}
			if f.closeAfter {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.writeTimeout))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string { return c.id }

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Send queues msg for the writer goroutine
func (c *Connection) Send(msg types.Outbound) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	return c.enqueue(msg, false)
}

// SendAndClose queues a final message; the transport closes after it is
// written. Only the first call wins.
func (c *Connection) SendAndClose(msg types.Outbound) error {
	if !c.closing.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}
	if err := c.enqueue(msg, true); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Connection) enqueue(msg types.Outbound, closeAfter bool) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- frame{data: data, closeAfter: closeAfter}:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Ping sends a heartbeat probe. WriteControl may run concurrently with the
// writer goroutine.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// probe reports whether a pong arrived since the previous probe and clears
// the flag for the next round.
func (c *Connection) probe() bool {
	return c.alive.Swap(false)
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) Association() (string, types.Role) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomCode, c.role
}

// SetAssociation binds the connection to a room once; roles never switch
func (c *Connection) SetAssociation(roomCode string, role types.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != types.RoleNone {
		return ErrAlreadyAssociated
	}
	c.roomCode = roomCode
	c.role = role
	return nil
}

func (c *Connection) TargetLanguages() []string {
	return append([]string(nil), c.langs...)
}
