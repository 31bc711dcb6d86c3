package room

import (
	"sync"
	"time"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Room is one live session: a host pointer, an ordered student set and the
// capped transcript. All fields behind mu are mutated only while holding it;
// callers work on snapshots.
type Room struct {
	code      string
	createdAt time.Time
	limit     int

	mu         sync.Mutex
	host       interfaces.Connection
	students   []interfaces.Connection
	transcript []types.TranscriptEntry
	closed     bool
}

func newRoom(code string, createdAt time.Time, limit int) *Room {
	return &Room{code: code, createdAt: createdAt, limit: limit}
}

func restoreRoom(record *types.RoomRecord, limit int) *Room {
	r := newRoom(record.RoomCode, record.CreatedAt, limit)
	transcript := record.Transcript
	if len(transcript) > limit {
		transcript = transcript[len(transcript)-limit:]
	}
	r.transcript = append([]types.TranscriptEntry(nil), transcript...)
	return r
}

func (r *Room) Code() string         { return r.code }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Host returns the current host connection, which may be nil.
func (r *Room) Host() interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// Students returns a snapshot of the student set in join order.
func (r *Room) Students() []interfaces.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.Connection(nil), r.students...)
}

func (r *Room) StudentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.students)
}

// Transcript returns a copy of the buffer, oldest first.
func (r *Room) Transcript() []types.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TranscriptEntry(nil), r.transcript...)
}

// Closed reports whether the room has been destroyed.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// recordLocked builds the persisted form. Caller holds mu.
func (r *Room) recordLocked() *types.RoomRecord {
	return &types.RoomRecord{
		RoomCode:     r.code,
		CreatedAt:    r.createdAt,
		Transcript:   append([]types.TranscriptEntry(nil), r.transcript...),
		StudentCount: len(r.students),
	}
}

// hasStudentLocked reports membership. Caller holds mu.
func (r *Room) hasStudentLocked(conn interfaces.Connection) bool {
	for _, s := range r.students {
		if s == conn {
			return true
		}
	}
	return false
}

// removeStudentLocked drops conn and reports whether it was present.
func (r *Room) removeStudentLocked(conn interfaces.Connection) bool {
	for i, s := range r.students {
		if s == conn {
			r.students = append(r.students[:i:i], r.students[i+1:]...)
			return true
		}
	}
	return false
}

// closeLocked marks the room destroyed and hands back everyone who was in it.
// A second call returns nothing.
func (r *Room) closeLocked() (host interfaces.Connection, students []interfaces.Connection, ok bool) {
	if r.closed {
		return nil, nil, false
	}
	r.closed = true
	host, students = r.host, r.students
	r.host, r.students = nil, nil
	return host, students, true
}
