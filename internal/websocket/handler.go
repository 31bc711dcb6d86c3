package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/internal/room"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// FrameRouter receives every inbound frame of a connection, one at a time,
// and is told when the connection is gone.
type FrameRouter interface {
	Route(ctx context.Context, conn interfaces.Connection, binary bool, data []byte) error
	Release(connID string)
}

// HandlerConfig holds the per-connection limits.
type HandlerConfig struct {
	DefaultLanguage string
	JoinTimeout     time.Duration
	StoreTimeout    time.Duration
	MaxMessageSize  int64
	Connection      ConnectionOptions
}

// DefaultHandlerConfig mirrors the server defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		DefaultLanguage: "Spanish",
		JoinTimeout:     60 * time.Second,
		StoreTimeout:    5 * time.Second,
		MaxMessageSize:  10 << 20, // audio chunks
		Connection:      DefaultConnectionOptions(),
	}
}

// Handler upgrades requests and drives each connection's lifecycle
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic
// integrates with Registry for connection management and the Directory for rooms
type Handler struct {
	registry  *Registry
	directory *room.Directory
	router    FrameRouter
	config    HandlerConfig
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, directory *room.Directory, router FrameRouter, config HandlerConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		directory: directory,
		router:    router,
		config:    config,
		logger:    logger.With().Str("component", "ws_handler").Logger(),
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Browser clients connect from the static
			// frontend origin; CORS for HTTP routes is handled separately
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket accepts one client. Query parameters: roomCode (optional),
// isHost ("true" or anything else for student), targetLangs (comma list).
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomCode := query.Get("roomCode")
	role := types.ParseRole(query.Get("isHost"))
	langs := types.ParseTargetLanguages(query.Get("targetLangs"), h.config.DefaultLanguage)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	if h.config.MaxMessageSize > 0 {
		ws.SetReadLimit(h.config.MaxMessageSize)
	}

	conn := NewConnection(ws, langs, h.config.Connection)

	// FUNCTIONAL DISCOVERY: A student retrying a code already confirmed absent
	// is turned away before registration or any store work
	if roomCode != "" && role == types.RoleStudent && h.directory.ShouldReject(roomCode) {
		h.logger.Info().Str("room_code", roomCode).Msg("early reject of known-missing room")
		metrics.RoomJoinsRejected.Inc()
		_ = conn.SendAndClose(types.NewRoomError(roomMissingMessage(roomCode)))
		go h.drain(conn)
		return
	}

	if err := h.registry.Register(conn); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	log := h.logger.With().Str("conn_id", conn.ID()).Logger()
	log.Info().Str("room_code", roomCode).Str("role", string(role)).Strs("langs", langs).Msg("connection opened")

	// FUNCTIONAL DISCOVERY: Abandoned handshakes are reaped after the join window
	joinTimer := time.AfterFunc(h.config.JoinTimeout, func() {
		if code, _ := conn.Association(); code != "" {
			return
		}
		log.Info().Msg("closing connection that never joined a room")
		metrics.ConnectionsClosed.WithLabelValues("join_timeout").Inc()
		_ = conn.SendAndClose(types.NewError("Timed out waiting to join a room"))
	})

	if err := conn.Send(types.NewInfo("Connected to Polycast server")); err != nil {
		log.Debug().Err(err).Msg("failed to send info")
	}

	if roomCode != "" {
		h.join(conn, roomCode, role, log)
	}

	go h.readPump(conn, joinTimer, log)
}

// join resolves the requested room. Any failure ends the connection with a
// room_error.
func (h *Handler) join(conn *Connection, roomCode string, role types.Role, log zerolog.Logger) {
	if !types.IsValidRoomCode(roomCode) {
		_ = conn.SendAndClose(types.NewRoomError("Invalid room code format. Room codes are 5 digits."))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.StoreTimeout)
	defer cancel()

	_, err := h.directory.Join(ctx, conn, roomCode, role)
	switch {
	case err == nil:
		return
	case errors.Is(err, room.ErrRoomNotFound):
		log.Info().Str("room_code", roomCode).Msg("student join refused, room not found")
		_ = conn.SendAndClose(types.NewRoomError(roomMissingMessage(roomCode)))
	default:
		log.Warn().Err(err).Str("room_code", roomCode).Msg("join failed")
		_ = conn.SendAndClose(types.NewRoomError("Unable to join room"))
	}
}

// readPump feeds frames to the router one at a time until the transport
// fails, then tears the connection down.
// ARCHITECTURAL DISCOVERY: Sequential frame handling per connection keeps a
// host's submissions and their broadcasts in arrival order
func (h *Handler) readPump(conn *Connection, joinTimer *time.Timer, log zerolog.Logger) {
	defer h.teardown(conn, joinTimer, log)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		// Route never holds the connection's context: a client leaving
		// mid-call does not cancel the external call.
		if err := h.router.Route(context.Background(), conn, messageType == websocket.BinaryMessage, data); err != nil {
			log.Debug().Err(err).Msg("frame not routed")
		}
	}
}

func (h *Handler) teardown(conn *Connection, joinTimer *time.Timer, log zerolog.Logger) {
	joinTimer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.StoreTimeout)
	defer cancel()
	h.directory.Leave(ctx, conn)

	h.registry.Unregister(conn)
	h.router.Release(conn.ID())
	_ = conn.Close()
	log.Info().Msg("connection closed")
}

// drain reads until the peer acknowledges the close of a rejected connection.
func (h *Handler) drain(conn *Connection) {
	defer func() { _ = conn.Close() }()
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func roomMissingMessage(code string) string {
	return fmt.Sprintf("Room %s does not exist or has expired.", code)
}
