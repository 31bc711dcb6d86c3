package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"polycast/internal/admin"
	"polycast/internal/room"
	"polycast/pkg/types"
)

// ConnectionStats reports live connection counts for /health.
type ConnectionStats interface {
	GetStats() map[string]int
}

// HealthChecker is the store probe behind /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModeStore is the process-wide input mode flag.
type ModeStore interface {
	IsTextMode() bool
	SetTextMode(textMode bool) error
}

// SingleTranslator translates one text into one language.
type SingleTranslator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Config holds the HTTP surface options.
type Config struct {
	AllowedOrigins []string
	HealthTimeout  time.Duration
}

// Dependencies are the components the HTTP surface fronts.
type Dependencies struct {
	Directory   *room.Directory
	Admin       *admin.Admin
	Mode        ModeStore
	Translator  SingleTranslator
	Store       HealthChecker
	Connections ConnectionStats
	WebSocket   http.Handler
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No room logic lives here, only request decoding and status mapping
type Server struct {
	deps   Dependencies
	config Config
	logger zerolog.Logger
	router chi.Router
}

// NewServer builds the router with its middleware stack.
func NewServer(config Config, deps Dependencies, logger zerolog.Logger) *Server {
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 5 * time.Second
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		deps:   deps,
		config: config,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.router = s.routes()
	return s
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/mode", s.handleGetMode)
	r.Post("/mode", s.handleSetMode)

	r.Route("/api", func(r chi.Router) {
		r.Post("/create-room", s.handleCreateRoom)
		r.Get("/check-room/{roomCode}", s.handleCheckRoom)
		r.Get("/translate/{language}/{text}", s.handleTranslate)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/global-cleanup", s.handleGlobalCleanup)
			r.Post("/terminate-room/{roomCode}", s.handleTerminateRoom)
		})
	})

	return r
}

// Request/Response types for JSON serialization
type CreateRoomResponse struct {
	RoomCode string `json:"roomCode"`
}

type CheckRoomResponse struct {
	Exists  bool   `json:"exists"`
	Message string `json:"message,omitempty"`
}

type AdminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ModeResponse struct {
	IsTextMode bool `json:"isTextMode"`
}

type ModeRequest struct {
	IsTextMode *bool `json:"isTextMode"`
}

type TranslateResponse struct {
	Translation string `json:"translation"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Rooms       room.Stats     `json:"rooms"`
	TextMode    bool           `json:"textMode"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// FUNCTIONAL DISCOVERY: The root path doubles as the websocket endpoint for
// clients that connect to the bare host
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Polycast Backend Server is running."))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebSocket == nil {
		s.sendError(w, "WebSocket endpoint unavailable", http.StatusServiceUnavailable)
		return
	}
	s.deps.WebSocket.ServeHTTP(w, r)
}

// FUNCTIONAL DISCOVERY: POST /api/create-room - allocate a fresh room code
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := s.deps.Directory.Create(r.Context())
	if errors.Is(err, room.ErrExhaustedCodeSpace) {
		s.logger.Warn().Err(err).Msg("room code space exhausted")
		s.sendError(w, "No room codes available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create room")
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomCode: code})
}

// FUNCTIONAL DISCOVERY: GET /api/check-room/{roomCode} - a persisted room is
// made resident so the following websocket join finds it in memory
func (s *Server) handleCheckRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "roomCode")
	if !types.IsValidRoomCode(code) {
		s.writeJSON(w, http.StatusBadRequest, CheckRoomResponse{
			Exists:  false,
			Message: "Invalid room code format. Room codes are 5 digits.",
		})
		return
	}

	exists, err := s.deps.Directory.Restore(r.Context(), code)
	if err != nil {
		s.logger.Error().Err(err).Str("room_code", code).Msg("failed to check room")
		s.sendError(w, "Failed to check room", http.StatusInternalServerError)
		return
	}
	if !exists {
		s.writeJSON(w, http.StatusNotFound, CheckRoomResponse{Exists: false, Message: "Room not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, CheckRoomResponse{Exists: true})
}

// requireAdmin rejects requests without the shared admin key.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Admin.Authorize(r.Header.Get("X-Admin-Key")); err != nil {
			s.logger.Warn().Str("path", r.URL.Path).Msg("unauthorized admin request")
			s.sendError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGlobalCleanup(w http.ResponseWriter, r *http.Request) {
	result := s.deps.Admin.GlobalCleanup()
	s.writeJSON(w, http.StatusOK, AdminResponse{
		Success: true,
		Message: fmt.Sprintf("Global cleanup completed. Closed %d of %d connections. Cleared %d rejected room codes.",
			result.Closed, result.Total, result.RejectedCleared),
	})
}

func (s *Server) handleTerminateRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "roomCode")
	if !types.IsValidRoomCode(code) {
		s.writeJSON(w, http.StatusBadRequest, AdminResponse{
			Success: false,
			Message: "Invalid room code format. Room codes are 5 digits.",
		})
		return
	}

	result, err := s.deps.Admin.TerminateRoom(r.Context(), code)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		s.writeJSON(w, http.StatusNotFound, AdminResponse{
			Success: false,
			Message: fmt.Sprintf("Room %s not found", code),
		})
	case err != nil:
		s.logger.Error().Err(err).Str("room_code", code).Msg("failed to terminate room")
		s.sendError(w, "Failed to terminate room", http.StatusInternalServerError)
	case result.PersistedOnly:
		s.writeJSON(w, http.StatusOK, AdminResponse{
			Success: true,
			Message: fmt.Sprintf("Room %s deleted from persistent storage. No active connections.", code),
		})
	default:
		s.writeJSON(w, http.StatusOK, AdminResponse{
			Success: true,
			Message: fmt.Sprintf("Room %s terminated. %d active connections closed.", code, result.Closed),
		})
	}
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModeResponse{IsTextMode: s.deps.Mode.IsTextMode()})
}

// FUNCTIONAL DISCOVERY: A failed write of the mode file still switches the
// running process; the error is only logged
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsTextMode == nil {
		s.sendError(w, "Missing or invalid isTextMode", http.StatusBadRequest)
		return
	}

	if err := s.deps.Mode.SetTextMode(*req.IsTextMode); err != nil {
		s.logger.Error().Err(err).Bool("text_mode", *req.IsTextMode).Msg("failed to persist mode")
	}
	s.writeJSON(w, http.StatusOK, ModeResponse{IsTextMode: s.deps.Mode.IsTextMode()})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	language := pathParam(r, "language")
	text := pathParam(r, "text")
	if strings.TrimSpace(language) == "" || strings.TrimSpace(text) == "" {
		s.sendError(w, "Language and text are required", http.StatusBadRequest)
		return
	}

	translation, err := s.deps.Translator.Translate(r.Context(), text, language)
	if err != nil {
		s.logger.Warn().Err(err).Str("language", language).Msg("translation failed")
		s.sendError(w, "Translation failed", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, TranslateResponse{Translation: translation})
}

// FUNCTIONAL DISCOVERY: GET /health - store probe plus live counts, 503 when the store is down
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Rooms:     s.deps.Directory.Stats(),
		TextMode:  s.deps.Mode.IsTextMode(),
	}
	if s.deps.Connections != nil {
		response.Connections = s.deps.Connections.GetStats()
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// pathParam returns a decoded URL parameter. chi matches on the raw path
// when the request carries escapes, so parameters may still be encoded.
func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		return decoded
	}
	return value
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{Error: message})
}
