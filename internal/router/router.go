// Package router handles content submitted over a connection: it gates by
// role, mode and rate, calls the speech services and fans the results out
// to the host and the room's students.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"polycast/internal/metrics"
	"polycast/internal/room"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// ModeSource reports the process-wide submission mode.
type ModeSource interface {
	IsTextMode() bool
}

// Options tunes a Router. Zero values fall back to defaults.
type Options struct {
	ExternalTimeout time.Duration
	StoreTimeout    time.Duration
	RateLimit       int
	RateWindow      time.Duration
	// StudentLanguage is the translation every student receives.
	StudentLanguage string
	// PivotLanguage is always translated for the host.
	PivotLanguage string
}

func (o Options) withDefaults() Options {
	if o.ExternalTimeout <= 0 {
		o.ExternalTimeout = 30 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 100
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Minute
	}
	if o.StudentLanguage == "" {
		o.StudentLanguage = "Spanish"
	}
	if o.PivotLanguage == "" {
		o.PivotLanguage = "English"
	}
	return o
}

// User-visible error texts.
const (
	msgStudentSubmit   = "Students cannot send audio or text for transcription"
	msgReplacedHost    = "Another host connection has taken over this room."
	msgTextInAudioMode = "Text submissions are only allowed in text mode."
	msgAudioInTextMode = "Audio submissions are only allowed in audio mode."
	msgRateLimited     = "Rate limit exceeded. Please slow down."
	msgTranscribeFail  = "Transcription failed. Please try again."
	msgTranslateFail   = "Translation failed. Please try again."
)

// Router implements the websocket FrameRouter
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling;
// room state lives in the Directory and delivery in each Connection
type Router struct {
	directory   *room.Directory
	transcriber interfaces.Transcriber
	translator  interfaces.Translator
	mode        ModeSource
	limiter     *RateLimiter
	opts        Options
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRouter creates a new message router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with fake collaborators
func NewRouter(directory *room.Directory, transcriber interfaces.Transcriber, translator interfaces.Translator, mode ModeSource, opts Options, logger zerolog.Logger) *Router {
	opts = opts.withDefaults()
	return &Router{
		directory:   directory,
		transcriber: transcriber,
		translator:  translator,
		mode:        mode,
		limiter:     NewRateLimiter(opts.RateLimit, opts.RateWindow),
		opts:        opts,
		logger:      logger.With().Str("component", "router").Logger(),
		now:         time.Now,
	}
}

// Limiter exposes the rate limiter for periodic cleanup.
func (r *Router) Limiter() *RateLimiter { return r.limiter }

// Release forgets per-connection state once a connection is gone.
func (r *Router) Release(connID string) {
	r.limiter.Forget(connID)
}

// content is one accepted submission ready for translation.
type content struct {
	text       string
	sourceLang string
}

// Route handles one inbound frame. Every returned error concerns this frame
// only; where the client should know, it has already been told.
func (r *Router) Route(ctx context.Context, conn interfaces.Connection, binary bool, data []byte) error {
	inbound, err := types.ParseInbound(binary, data)
	if err != nil {
		metrics.ContentEvents.WithLabelValues("unknown", "malformed").Inc()
		r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Int("bytes", len(data)).Msg("dropping malformed frame")
		return err
	}

	code, role := conn.Association()
	kind := kindOf(inbound)
	log := r.logger.With().Str("conn_id", conn.ID()).Str("room_code", code).Str("kind", kind).Logger()

	// ARCHITECTURAL DISCOVERY: Role-based validation enforced at routing layer
	if role == types.RoleStudent {
		metrics.ContentEvents.WithLabelValues(kind, "unauthorized").Inc()
		log.Info().Msg("rejected content from student")
		r.reply(conn, types.NewError(msgStudentSubmit))
		return ErrUnauthorizedRole
	}
	if r.directory.Replaced(conn) {
		return r.rejectReplacedHost(conn, kind, log)
	}

	textMode := r.mode.IsTextMode()
	switch inbound.(type) {
	case types.AudioChunk:
		if textMode {
			metrics.ContentEvents.WithLabelValues(kind, "mode_mismatch").Inc()
			r.reply(conn, types.NewError(msgAudioInTextMode))
			return ErrModeMismatch
		}
	case types.TextSubmit:
		if !textMode {
			metrics.ContentEvents.WithLabelValues(kind, "mode_mismatch").Inc()
			r.reply(conn, types.NewError(msgTextInAudioMode))
			return ErrModeMismatch
		}
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per connection before any external call
	if !r.limiter.Allow(conn.ID()) {
		metrics.ContentEvents.WithLabelValues(kind, "rate_limited").Inc()
		r.reply(conn, types.NewError(msgRateLimited))
		return ErrRateLimitExceeded
	}

	c, err := r.recognize(ctx, inbound)
	if errors.Is(err, ErrEmptyTranscription) {
		metrics.ContentEvents.WithLabelValues(kind, "empty").Inc()
		log.Debug().Msg("nothing recognized, dropping")
		return nil
	}
	if err != nil {
		metrics.ContentEvents.WithLabelValues(kind, "external_failure").Inc()
		log.Warn().Err(err).Msg("transcription failed")
		r.reply(conn, types.NewError(msgTranscribeFail))
		return err
	}

	langs := r.targetLanguages(conn.TargetLanguages(), code, role, c.sourceLang)
	translations, err := r.translate(ctx, c, langs)
	if err != nil {
		metrics.ContentEvents.WithLabelValues(kind, "external_failure").Inc()
		log.Warn().Err(err).Strs("langs", langs).Msg("translation failed")
		r.reply(conn, types.NewError(msgTranslateFail))
		return err
	}

	var students []interfaces.Connection
	if role == types.RoleHost {
		storeCtx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
		students, err = r.directory.AppendTranscript(storeCtx, conn, types.NewTranscriptEntry(c.text, r.now()))
		cancel()
		if errors.Is(err, room.ErrNotCurrentHost) {
			// Replaced while the external calls ran.
			return r.rejectReplacedHost(conn, kind, log)
		}
		if err != nil {
			// The room went away while the external calls ran; the sender
			// still gets its own results.
			log.Info().Err(err).Msg("room gone before broadcast")
		}
	}

	r.reply(conn, types.NewRecognized(c.sourceLang, c.text))
	for _, lang := range langs {
		if translated, ok := translations[lang]; ok {
			r.reply(conn, types.NewTranslation(lang, translated))
		}
	}

	if len(students) > 0 {
		r.broadcast(students, c, langs, translations, log)
	}

	metrics.ContentEvents.WithLabelValues(kind, "delivered").Inc()
	log.Debug().Int("students", len(students)).Int("translations", len(translations)).Msg("content delivered")
	return nil
}

// rejectReplacedHost refuses content from a host connection whose room has
// been taken over by a reconnect. Nothing is appended or broadcast.
func (r *Router) rejectReplacedHost(conn interfaces.Connection, kind string, log zerolog.Logger) error {
	metrics.ContentEvents.WithLabelValues(kind, "unauthorized").Inc()
	log.Info().Msg("rejected content from replaced host")
	r.reply(conn, types.NewError(msgReplacedHost))
	return ErrUnauthorizedRole
}

// recognize turns the inbound payload into source text.
func (r *Router) recognize(ctx context.Context, inbound types.Inbound) (content, error) {
	switch in := inbound.(type) {
	case types.AudioChunk:
		callCtx, cancel := context.WithTimeout(ctx, r.opts.ExternalTimeout)
		defer cancel()
		text, err := r.transcriber.Transcribe(callCtx, in.Data)
		if err != nil {
			return content{}, fmt.Errorf("%w: transcription: %v", ErrExternalService, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return content{}, ErrEmptyTranscription
		}
		return content{text: text}, nil

	case types.TextSubmit:
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return content{}, ErrEmptyTranscription
		}
		return content{text: text, sourceLang: strings.TrimSpace(in.Lang)}, nil

	default:
		return content{}, fmt.Errorf("%w: unsupported payload %T", types.ErrMalformedInput, inbound)
	}
}

// targetLanguages is declared, then the pivot language, then the student
// language when the room has students. Names compare case-insensitively and
// the first spelling wins. The source language of typed text is never
// translated into itself.
func (r *Router) targetLanguages(declared []string, code string, role types.Role, sourceLang string) []string {
	candidates := append([]string(nil), declared...)
	candidates = append(candidates, r.opts.PivotLanguage)
	if role == types.RoleHost && r.directory.StudentCount(code) > 0 {
		candidates = append(candidates, r.opts.StudentLanguage)
	}

	seen := make(map[string]bool, len(candidates))
	langs := make([]string, 0, len(candidates))
	for _, lang := range candidates {
		key := strings.ToLower(lang)
		if lang == "" || seen[key] || strings.EqualFold(lang, sourceLang) {
			continue
		}
		seen[key] = true
		langs = append(langs, lang)
	}
	return langs
}

// translate runs one batch call. An empty language list needs no call; an
// empty answer to a non-empty list is a failure.
func (r *Router) translate(ctx context.Context, c content, langs []string) (map[string]string, error) {
	if len(langs) == 0 {
		return map[string]string{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.ExternalTimeout)
	defer cancel()

	translations, err := r.translator.TranslateBatch(callCtx, c.text, c.sourceLang, langs)
	if err != nil {
		return nil, fmt.Errorf("%w: translation: %v", ErrExternalService, err)
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("%w: translation returned nothing", ErrExternalService)
	}
	return translations, nil
}

// studentTranslation picks what students see: the student language, the
// source text itself when it already is in that language, or else the
// first available translation.
func (r *Router) studentTranslation(c content, langs []string, translations map[string]string) (string, bool) {
	if strings.EqualFold(c.sourceLang, r.opts.StudentLanguage) {
		return c.text, true
	}
	if t, ok := translations[r.opts.StudentLanguage]; ok {
		return t, true
	}
	for _, lang := range langs {
		if t, ok := translations[lang]; ok {
			return t, true
		}
	}
	return "", false
}

// broadcast sends to each student independently. A failed send is logged
// and the loop moves on; the dead connection is reaped by the heartbeat.
func (r *Router) broadcast(students []interfaces.Connection, c content, langs []string, translations map[string]string, log zerolog.Logger) {
	recognized := types.NewRecognized(c.sourceLang, c.text)
	translated, hasTranslation := r.studentTranslation(c, langs, translations)
	translation := types.NewTranslation(r.opts.StudentLanguage, translated)

	for _, s := range students {
		if err := s.Send(recognized); err != nil {
			log.Debug().Err(err).Str("student", s.ID()).Msg("broadcast send failed")
			continue
		}
		if hasTranslation {
			if err := s.Send(translation); err != nil {
				log.Debug().Err(err).Str("student", s.ID()).Msg("broadcast send failed")
			}
		}
	}
}

func (r *Router) reply(conn interfaces.Connection, msg types.Outbound) {
	if err := conn.Send(msg); err != nil {
		r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Str("type", msg.MessageType()).Msg("reply not delivered")
	}
}

func kindOf(in types.Inbound) string {
	switch in.(type) {
	case types.AudioChunk:
		return "audio"
	case types.TextSubmit:
		return "text"
	default:
		return "unknown"
	}
}
