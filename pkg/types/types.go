package types

import (
	"time"
)

// Role is the part a connection plays inside a room.
type Role string

const (
	RoleNone    Role = ""
	RoleHost    Role = "host"
	RoleStudent Role = "student"
)

// Outbound message type tags. These are the exact strings the browser client
// switches on, so they must never change.
const (
	MessageTypeInfo              = "info"
	MessageTypeRoomJoined        = "room_joined"
	MessageTypeRoomError         = "room_error"
	MessageTypeError             = "error"
	MessageTypeTranscriptHistory = "transcript_history"
	MessageTypeRecognized        = "recognized"
	MessageTypeTranslation       = "translation"
	MessageTypeHostDisconnected  = "host_disconnected"
	MessageTypeRoomExpired       = "room_expired"
	MessageTypeRoomTerminated    = "room_terminated"
	MessageTypeAdminTerminated   = "admin_terminated"
)

// Inbound message type tags.
const (
	MessageTypeTextSubmit = "text_submit"
)

// TranscriptEntry is one recognized line kept for late joiners.
// Timestamp is Unix milliseconds, matching what the client renders.
type TranscriptEntry struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewTranscriptEntry stamps text with t in milliseconds.
func NewTranscriptEntry(text string, t time.Time) TranscriptEntry {
	return TranscriptEntry{Text: text, Timestamp: t.UnixMilli()}
}

// RoomRecord is the durable part of a room. The host connection is never
// persisted; it is re-established when the host reconnects.
type RoomRecord struct {
	RoomCode     string            `json:"roomCode" db:"room_code"`
	CreatedAt    time.Time         `json:"createdAt" db:"created_at"`
	Transcript   []TranscriptEntry `json:"transcript" db:"transcript"`
	StudentCount int               `json:"studentCount" db:"student_count"`
}
