package speech

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"polycast/internal/metrics"
	"polycast/pkg/interfaces"
)

// defaultFlightTimeout bounds a shared upstream call once it no longer
// follows any single caller's context.
const defaultFlightTimeout = 30 * time.Second

// CachedTranslator remembers translations per (source, target, text) and
// coalesces identical concurrent batches into one upstream call.
// It uses go-cache for storage and singleflight against stampedes when many
// hosts translate the same phrase.
type CachedTranslator struct {
	next   interfaces.Translator
	cache  *cache.Cache
	group  singleflight.Group
	logger zerolog.Logger

	flightTimeout time.Duration
}

var _ interfaces.Translator = (*CachedTranslator)(nil)

// NewCachedTranslator wraps next. Entries live for ttl.
func NewCachedTranslator(next interfaces.Translator, ttl time.Duration, logger zerolog.Logger) *CachedTranslator {
	return &CachedTranslator{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger.With().Str("component", "translation_cache").Logger(),

		flightTimeout: defaultFlightTimeout,
	}
}

func cacheKey(sourceLang, targetLang, text string) string {
	return sourceLang + "\x00" + targetLang + "\x00" + text
}

// TranslateBatch serves cached languages directly and sends only the misses
// upstream. An upstream failure fails the batch only when nothing at all
// could be served.
func (c *CachedTranslator) TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	out := make(map[string]string, len(targetLangs))
	var misses []string
	for _, lang := range targetLangs {
		if v, ok := c.cache.Get(cacheKey(sourceLang, lang, text)); ok {
			out[lang] = v.(string)
			metrics.TranslationCacheHits.Inc()
			continue
		}
		misses = append(misses, lang)
	}
	if len(misses) == 0 {
		return out, nil
	}

	sorted := append([]string(nil), misses...)
	sort.Strings(sorted)
	flightKey := sourceLang + "\x00" + strings.Join(sorted, ",") + "\x00" + text

	// TECHNICAL DISCOVERY: The shared call is detached from the caller that
	// started it; each caller stops waiting on its own context instead.
	flight := c.group.DoChan(flightKey, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()
		fetched, err := c.next.TranslateBatch(flightCtx, text, sourceLang, misses)
		if err != nil {
			return nil, err
		}
		for lang, translated := range fetched {
			c.cache.SetDefault(cacheKey(sourceLang, lang, text), translated)
		}
		return fetched, nil
	})

	var (
		v      interface{}
		err    error
		shared bool
	)
	select {
	case res := <-flight:
		v, err, shared = res.Val, res.Err, res.Shared
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if len(out) > 0 {
			c.logger.Debug().Err(err).Int("cached", len(out)).Msg("upstream failed, serving cached languages only")
			return out, nil
		}
		return nil, err
	}
	if shared {
		c.logger.Debug().Msg("translation batch coalesced")
	}

	for lang, translated := range v.(map[string]string) {
		out[lang] = translated
	}
	return out, nil
}

// Translate translates text into one language through the cache.
func (c *CachedTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	out, err := c.TranslateBatch(ctx, text, "", []string{targetLang})
	if err != nil {
		return "", err
	}
	translated, ok := out[targetLang]
	if !ok {
		return "", ErrEmptyResponse
	}
	return translated, nil
}

// Len reports the number of cached translations.
func (c *CachedTranslator) Len() int {
	return c.cache.ItemCount()
}
