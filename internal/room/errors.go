package room

import (
	"errors"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// Room directory error types. ErrRoomNotFound and ErrInvalidRoomCode are the
// same values the store and validation layers return, so errors.Is works
// across package boundaries.
var (
	ErrRoomNotFound       = interfaces.ErrRoomNotFound
	ErrInvalidRoomCode    = types.ErrInvalidRoomCode
	ErrExhaustedCodeSpace = errors.New("every room code is in use")
	ErrInvalidRole        = errors.New("invalid role: must be 'host' or 'student'")
	ErrNotCurrentHost     = errors.New("connection is no longer the room's host")
)
