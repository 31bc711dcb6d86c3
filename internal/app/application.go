package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"polycast/internal/admin"
	"polycast/internal/api"
	"polycast/internal/config"
	"polycast/internal/database"
	"polycast/internal/hub"
	"polycast/internal/logging"
	"polycast/internal/mode"
	"polycast/internal/room"
	"polycast/internal/router"
	"polycast/internal/speech"
	"polycast/internal/websocket"
	pkgdatabase "polycast/pkg/database"
	"polycast/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      interfaces.RoomStore
	directory  *room.Directory
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	stopOnce sync.Once
}

// Option overrides a collaborator NewApplication would otherwise build.
type Option func(*options)

type options struct {
	logger      *zerolog.Logger
	store       interfaces.RoomStore
	transcriber interfaces.Transcriber
	translator  interfaces.Translator
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithStore supplies an already open room store.
func WithStore(store interfaces.RoomStore) Option {
	return func(o *options) { o.store = store }
}

// WithSpeech supplies the transcription and translation services.
func WithSpeech(transcriber interfaces.Transcriber, translator interfaces.Translator) Option {
	return func(o *options) {
		o.transcriber = transcriber
		o.translator = translator
	}
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Directory → Registry → Speech → Router → Hub → Admin → API → HTTP
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	if o.logger != nil {
		logger = *o.logger
	}

	// STEP 1: Persisted room store (foundation layer)
	store := o.store
	if store == nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		defer cancel()
		var err error
		if store, err = openStore(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
	}

	// STEP 2: Room directory and connection registry
	directory := room.NewDirectory(store, logger, room.Options{
		TranscriptLimit: cfg.Rooms.TranscriptLimit,
		MaxRoomAge:      cfg.Rooms.MaxAge,
	})
	registry := websocket.NewRegistry(logger)
	modeStore := mode.Open(cfg.Mode.Path, logger)

	// STEP 3: Speech services
	transcriber, translator := o.transcriber, o.translator
	if transcriber == nil || translator == nil {
		client, err := speech.NewClient(speech.Config{
			APIKey:             cfg.Speech.APIKey,
			BaseURL:            cfg.Speech.BaseURL,
			TranscriptionModel: cfg.Speech.TranscriptionModel,
			TranslationModel:   cfg.Speech.TranslationModel,
			Timeout:            cfg.Speech.Timeout,
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize speech client: %w", err)
		}
		if transcriber == nil {
			transcriber = client
		}
		if translator == nil {
			translator = client
		}
	}
	cached := speech.NewCachedTranslator(translator, cfg.Speech.CacheTTL, logger)

	// STEP 4: Message router
	messageRouter := router.NewRouter(directory, transcriber, cached, modeStore, router.Options{
		ExternalTimeout: cfg.Speech.Timeout,
		StoreTimeout:    cfg.Database.Timeout,
		RateLimit:       cfg.Rooms.RateLimit,
		StudentLanguage: cfg.Rooms.StudentLanguage,
		PivotLanguage:   cfg.Rooms.PivotLanguage,
	}, logger)

	// STEP 5: Background sweeps
	sweeps := hub.NewHub(registry, directory, messageRouter.Limiter(), hub.Config{
		HeartbeatInterval: cfg.WebSocket.PingInterval,
		ExpiryInterval:    cfg.Rooms.ExpiryInterval,
		CleanupInterval:   cfg.Rooms.CleanupInterval,
		SweepTimeout:      2 * cfg.Database.Timeout,
	}, logger)

	// STEP 6: WebSocket handler
	wsHandler := websocket.NewHandler(registry, directory, messageRouter, websocket.HandlerConfig{
		DefaultLanguage: cfg.Rooms.DefaultLanguage,
		JoinTimeout:     cfg.WebSocket.JoinTimeout,
		StoreTimeout:    cfg.Database.Timeout,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		Connection: websocket.ConnectionOptions{
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			BufferSize:   cfg.WebSocket.BufferSize,
		},
	}, logger)

	// STEP 7: HTTP surface
	apiServer := api.NewServer(api.Config{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		HealthTimeout:  cfg.Database.Timeout,
	}, api.Dependencies{
		Directory:   directory,
		Admin:       admin.New(cfg.Admin.Key, registry, directory, logger),
		Mode:        modeStore,
		Translator:  cached,
		Store:       store,
		Connections: registry,
		WebSocket:   http.HandlerFunc(wsHandler.HandleWebSocket),
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		// TECHNICAL DISCOVERY: ReadTimeout and WriteTimeout stop applying
		// once a websocket is hijacked, so they only bound plain requests
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With().Str("component", "app").Logger(),
		store:      store,
		directory:  directory,
		registry:   registry,
		router:     messageRouter,
		hub:        sweeps,
		apiServer:  apiServer,
		httpServer: httpServer,
		serveErr:   make(chan error, 1),
	}, nil
}

// openStore builds the configured room store. SQLite gets its schema
// migrated and validated before first use.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (interfaces.RoomStore, error) {
	switch cfg.Driver {
	case pkgdatabase.DriverRedis:
		store, err := database.NewRedisStore(ctx, cfg.RedisURL, cfg.RecordTTL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis store: %w", err)
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		manager, err := database.NewManager(&cfg.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if err := pkgdatabase.NewMigrationManager(manager.GetDB()).ApplyMigrations(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		if err := pkgdatabase.NewSchemaValidator(manager.GetDB()).Validate(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("database schema invalid: %w", err)
		}
		logger.Info().Str("path", cfg.DatabasePath).Msg("database migrations applied")
		return manager, nil
	}
}

// Handler returns the root HTTP handler, for serving from a test server.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Directory exposes the room directory.
func (app *Application) Directory() *room.Directory {
	return app.directory
}

// Registry exposes the connection registry.
func (app *Application) Registry() *websocket.Registry {
	return app.registry
}

// Start begins application execution
// Hub starts first so sweeps run from the first connection, then the HTTP
// server accepts connections. Start returns once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Info().Str("addr", listener.Addr().String()).Msg("polycast started")
	return nil
}

// Addr returns the bound listener address, or the configured one before Start.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → live connections → Hub → Store
// ARCHITECTURAL DISCOVERY: The directory drains first, so connections closed
// by the shutdown leave every room and transcript in the store for the next
// process to restore.
func (app *Application) Stop(ctx context.Context) error {
	var errs []error
	app.stopOnce.Do(func() {
		app.logger.Info().Msg("shutting down")
		app.directory.Shutdown()

		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}

		// Hijacked websockets are not tracked by the HTTP server.
		for _, conn := range app.registry.Connections() {
			_ = conn.Close()
		}
		if err := app.waitForConnections(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connection drain: %w", err))
		}

		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}

		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store shutdown: %w", err))
		}

		app.logger.Info().Msg("shutdown complete")
	})
	return errors.Join(errs...)
}

// waitForConnections blocks until every read pump has torn down.
func (app *Application) waitForConnections(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for app.registry.Count() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run starts the application and blocks until ctx is cancelled or the HTTP
// server fails, then shuts down within shutdownTimeout.
func (app *Application) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-app.serveErr:
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})
	return g.Wait()
}
