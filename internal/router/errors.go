package router

import "errors"

// Router errors. Each one ends the handling of a single frame; the
// connection stays open.
var (
	ErrUnauthorizedRole   = errors.New("role not allowed to submit content")
	ErrModeMismatch       = errors.New("submission does not match the current mode")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrExternalService    = errors.New("external speech service failed")
	ErrEmptyTranscription = errors.New("transcription was empty")
)
