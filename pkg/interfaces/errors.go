package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrStoreClosed  = errors.New("room store is closed")
)
