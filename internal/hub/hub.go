// Package hub runs the periodic sweeps that keep the live state honest:
// connection heartbeats, room expiry and rate-limiter cleanup.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Heartbeater probes every live connection once per call.
type Heartbeater interface {
	Heartbeat() (pinged, terminated int)
}

// RoomExpirer destroys rooms past their maximum age.
type RoomExpirer interface {
	ExpireRooms(ctx context.Context, now time.Time) int
}

// Cleaner drops stale per-connection state.
type Cleaner interface {
	Cleanup() int
}

// Config holds the sweep intervals.
type Config struct {
	HeartbeatInterval time.Duration
	ExpiryInterval    time.Duration
	CleanupInterval   time.Duration
	// SweepTimeout bounds the store work of one expiry sweep.
	SweepTimeout time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ExpiryInterval:    60 * time.Second,
		CleanupInterval:   5 * time.Minute,
		SweepTimeout:      10 * time.Second,
	}
}

// Hub coordinates the background sweeps
// ARCHITECTURAL DISCOVERY: Single goroutine drives every ticker, so two
// sweeps never run at the same time
type Hub struct {
	heartbeat Heartbeater
	expirer   RoomExpirer
	cleaner   Cleaner
	config    Config
	logger    zerolog.Logger
	now       func() time.Time

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewHub creates a new hub. Any collaborator may be nil, which disables its
// sweep.
func NewHub(heartbeat Heartbeater, expirer RoomExpirer, cleaner Cleaner, config Config, logger zerolog.Logger) *Hub {
	defaults := DefaultConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ExpiryInterval <= 0 {
		config.ExpiryInterval = defaults.ExpiryInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = defaults.SweepTimeout
	}
	return &Hub{
		heartbeat: heartbeat,
		expirer:   expirer,
		cleaner:   cleaner,
		config:    config,
		logger:    logger.With().Str("component", "hub").Logger(),
		now:       time.Now,
	}
}

// Start begins the sweeps until Stop or ctx cancellation
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info().
		Dur("heartbeat", h.config.HeartbeatInterval).
		Dur("expiry", h.config.ExpiryInterval).
		Dur("cleanup", h.config.CleanupInterval).
		Msg("starting hub")

	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop ends the sweeps and waits for the loop to exit
// TECHNICAL DISCOVERY: Waiting on done prevents goroutine leaks in tests and on shutdown
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("hub stopped")
	return nil
}

// Running reports whether the sweeps are active.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()
	expiry := time.NewTicker(h.config.ExpiryInterval)
	defer expiry.Stop()
	cleanup := time.NewTicker(h.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-heartbeat.C:
			h.sweepHeartbeat()
		case <-expiry.C:
			h.sweepExpired(ctx)
		case <-cleanup.C:
			h.sweepLimiter()
		case <-shutdown:
			return
		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) sweepHeartbeat() {
	if h.heartbeat == nil {
		return
	}
	pinged, terminated := h.heartbeat.Heartbeat()
	if terminated > 0 {
		h.logger.Info().Int("pinged", pinged).Int("terminated", terminated).Msg("heartbeat sweep")
		return
	}
	h.logger.Debug().Int("pinged", pinged).Msg("heartbeat sweep")
}

func (h *Hub) sweepExpired(ctx context.Context) {
	if h.expirer == nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(ctx, h.config.SweepTimeout)
	defer cancel()

	if expired := h.expirer.ExpireRooms(sweepCtx, h.now()); expired > 0 {
		h.logger.Info().Int("expired", expired).Msg("expiry sweep")
	}
}

func (h *Hub) sweepLimiter() {
	if h.cleaner == nil {
		return
	}
	if removed := h.cleaner.Cleanup(); removed > 0 {
		h.logger.Debug().Int("removed", removed).Msg("rate limiter cleanup")
	}
}
