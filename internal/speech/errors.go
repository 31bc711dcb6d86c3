package speech

import "errors"

var (
	ErrMissingAPIKey = errors.New("speech API key is not configured")
	ErrUpstream      = errors.New("speech service returned an error")
	ErrEmptyResponse = errors.New("speech service returned no usable content")
	ErrNoTargetLangs = errors.New("no target languages requested")
	ErrEmptyAudio    = errors.New("audio payload is empty")
	ErrEmptyText     = errors.New("text to translate is empty")
)
