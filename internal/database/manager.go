package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "polycast/pkg/database"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Manager is the SQLite implementation of interfaces.RoomStore
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	retryDelay time.Duration
}

var _ interfaces.RoomStore = (*Manager)(nil)

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Migrations
// are applied separately through GetDB.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	// ARCHITECTURAL DISCOVERY: SQLite connection string includes busy timeout and WAL
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "sqlite_store").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			m.logger.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

// runWrite runs one queued write.
// FUNCTIONAL DISCOVERY: A failed write is retried exactly once, unless its
// caller has already given up. The retry wait ends early on the caller's
// context or on shutdown so an abandoned write never holds the single writer.
func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}

	err := op.operation(m.db)
	if err == nil || !retryable(op.ctx, err) {
		return err
	}

	m.logger.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database write failed, retrying")
	timer := time.NewTimer(m.retryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-op.ctx.Done():
		return op.ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	if err = op.operation(m.db); err != nil {
		m.logger.Error().Err(err).Msg("database write failed after retry")
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	switch {
	case errors.Is(err, interfaces.ErrRoomNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return ctx.Err() == nil
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// SaveRoom inserts or replaces the full record
func (m *Manager) SaveRoom(ctx context.Context, record *types.RoomRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	// TECHNICAL DISCOVERY: JSON serialization keeps the transcript in one column
	transcriptJSON, err := marshalTranscript(record.Transcript)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO rooms (room_code, created_at, transcript, student_count, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(room_code) DO UPDATE SET
				created_at = excluded.created_at,
				transcript = excluded.transcript,
				student_count = excluded.student_count,
				updated_at = excluded.updated_at
		`
		_, err := db.ExecContext(ctx, query,
			record.RoomCode,
			record.CreatedAt.UTC(),
			transcriptJSON,
			record.StudentCount,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save room: %w", err)
		}
		return nil
	})
}

// GetRoom retrieves a room record by code
func (m *Manager) GetRoom(ctx context.Context, roomCode string) (*types.RoomRecord, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT room_code, created_at, transcript, student_count
		FROM rooms
		WHERE room_code = ?
	`

	var record types.RoomRecord
	var transcriptJSON string

	err := m.db.QueryRowContext(ctx, query, roomCode).Scan(
		&record.RoomCode,
		&record.CreatedAt,
		&transcriptJSON,
		&record.StudentCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}

	if err := json.Unmarshal([]byte(transcriptJSON), &record.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}

	return &record, nil
}

// RoomExists reports whether a record exists for roomCode
func (m *Manager) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, "SELECT 1 FROM rooms WHERE room_code = ?", roomCode).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return true, nil
}

// UpdateTranscript replaces only the transcript of an existing record
func (m *Manager) UpdateTranscript(ctx context.Context, roomCode string, transcript []types.TranscriptEntry) error {
	if len(transcript) > types.TranscriptLimit {
		return types.ErrTranscriptTooLong
	}

	transcriptJSON, err := marshalTranscript(transcript)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE rooms SET transcript = ?, updated_at = ? WHERE room_code = ?`,
			transcriptJSON, time.Now().UTC(), roomCode,
		)
		if err != nil {
			return fmt.Errorf("failed to update transcript: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return interfaces.ErrRoomNotFound
		}
		return nil
	})
}

// DeleteRoom removes the record. Missing records are not an error
func (m *Manager) DeleteRoom(ctx context.Context, roomCode string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM rooms WHERE room_code = ?`, roomCode); err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Writer goroutine must exit before the handle closes
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func marshalTranscript(transcript []types.TranscriptEntry) (string, error) {
	if transcript == nil {
		transcript = []types.TranscriptEntry{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return string(data), nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -16000",  // 16MB cache; rows are small
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000", // 5 second timeout for write coordination
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
