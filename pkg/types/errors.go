package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrMalformedInput      = errors.New("malformed input")
	ErrInvalidRoomCode     = errors.New("room code must be exactly 5 digits")
	ErrTranscriptTooLong   = errors.New("transcript exceeds 50 entries")
	ErrInvalidStudentCount = errors.New("student count cannot be negative")
)
