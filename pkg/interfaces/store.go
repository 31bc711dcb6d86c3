package interfaces

import (
	"context"

	"polycast/pkg/types"
)

// RoomStore is the durable record of room state. It survives process
// restarts and is the source of truth for rooms that are not resident in
// memory. Memory stays authoritative for live rooms.
type RoomStore interface {
	// SaveRoom inserts or replaces the full record.
	SaveRoom(ctx context.Context, record *types.RoomRecord) error

	// GetRoom returns ErrRoomNotFound when no record exists.
	GetRoom(ctx context.Context, roomCode string) (*types.RoomRecord, error)

	// RoomExists reports whether a record exists for roomCode.
	RoomExists(ctx context.Context, roomCode string) (bool, error)

	// UpdateTranscript replaces only the transcript of an existing record.
	UpdateTranscript(ctx context.Context, roomCode string, transcript []types.TranscriptEntry) error

	// DeleteRoom removes the record. Deleting a missing record is not an error.
	DeleteRoom(ctx context.Context, roomCode string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
