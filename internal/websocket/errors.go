package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrWriteTimeout      = errors.New("write queue timeout")
	ErrInvalidJSON       = errors.New("invalid JSON data")
	ErrAlreadyAssociated = errors.New("connection already joined a room")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection id already registered")
)
