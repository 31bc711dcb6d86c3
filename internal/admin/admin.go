// Package admin implements the operator actions: sweeping lingering
// connections and terminating rooms.
package admin

import (
	"context"
	"crypto/subtle"

	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/internal/room"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// ConnectionSource lists every live connection.
type ConnectionSource interface {
	Snapshot() []interfaces.Connection
}

// CleanupResult reports what a global cleanup did.
type CleanupResult struct {
	Closed          int `json:"closed"`
	Total           int `json:"total"`
	RejectedCleared int `json:"rejectedCleared"`
}

// TerminateResult reports what a room termination did.
type TerminateResult struct {
	RoomCode      string `json:"roomCode"`
	Closed        int    `json:"closed"`
	PersistedOnly bool   `json:"persistedOnly"`
}

// Admin carries out operator requests guarded by a shared secret.
type Admin struct {
	key         []byte
	connections ConnectionSource
	directory   *room.Directory
	logger      zerolog.Logger
}

func New(key string, connections ConnectionSource, directory *room.Directory, logger zerolog.Logger) *Admin {
	return &Admin{
		key:         []byte(key),
		connections: connections,
		directory:   directory,
		logger:      logger.With().Str("component", "admin").Logger(),
	}
}

// Authorize compares presented with the configured key in constant time.
// An unset key refuses everyone.
func (a *Admin) Authorize(presented string) error {
	if len(a.key) == 0 || presented == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(a.key, []byte(presented)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// GlobalCleanup closes every connection that never joined a room or is a
// student of a rejected code, then forgets every rejected code.
func (a *Admin) GlobalCleanup() CleanupResult {
	conns := a.connections.Snapshot()
	rejected := a.directory.Rejected()

	result := CleanupResult{Total: len(conns)}
	for _, conn := range conns {
		code, role := conn.Association()
		lingering := code == ""
		stuck := role == types.RoleStudent && rejected.Contains(code)
		if !lingering && !stuck {
			continue
		}
		if err := conn.SendAndClose(types.NewAdminTerminated()); err != nil {
			a.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("connection already closing")
			continue
		}
		metrics.ConnectionsClosed.WithLabelValues("admin").Inc()
		result.Closed++
	}
	result.RejectedCleared = rejected.Reset()

	a.logger.Info().
		Int("closed", result.Closed).
		Int("total", result.Total).
		Int("rejected_cleared", result.RejectedCleared).
		Msg("global cleanup completed")
	return result
}

// TerminateRoom destroys a room wherever it lives. A room known only to the
// store is deleted there and reports zero closed connections.
func (a *Admin) TerminateRoom(ctx context.Context, code string) (TerminateResult, error) {
	resident := a.directory.Get(code) != nil
	closed, err := a.directory.Terminate(ctx, code)
	if err != nil {
		return TerminateResult{}, err
	}

	result := TerminateResult{RoomCode: code, Closed: closed, PersistedOnly: !resident}
	a.logger.Info().Str("room_code", code).Int("closed", closed).Bool("persisted_only", result.PersistedOnly).Msg("room terminated")
	return result, nil
}
