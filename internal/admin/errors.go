package admin

import "errors"

var (
	// ErrUnauthorized means the presented admin key was missing or wrong,
	// or no admin key is configured at all.
	ErrUnauthorized = errors.New("unauthorized")
)
