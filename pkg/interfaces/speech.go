package interfaces

import "context"

// Transcriber turns one audio payload into text. The engine behind it is an
// external collaborator; callers bound every call with a context deadline.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Translator translates text into several languages in one call. The result
// maps language name to translation; a language missing from the map failed
// on its own without failing the whole batch. sourceLang may be empty.
type Translator interface {
	TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error)
}
