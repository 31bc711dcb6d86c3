package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"polycast/pkg/interfaces"
)

// ErrFakeSpeech is returned by the fake collaborators when told to fail.
var ErrFakeSpeech = errors.New("fake speech service failure")

// FakeTranscriber returns a fixed text for every audio payload.
type FakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
	calls int
}

var _ interfaces.Transcriber = (*FakeTranscriber)(nil)

func NewFakeTranscriber(text string) *FakeTranscriber {
	return &FakeTranscriber{text: text}
}

// SetResult changes what later calls return.
func (f *FakeTranscriber) SetResult(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

// SetDelay makes each call wait d or until the context ends.
func (f *FakeTranscriber) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	text, err, delay := f.text, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (f *FakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TranslateCall records one TranslateBatch invocation.
type TranslateCall struct {
	Text        string
	SourceLang  string
	TargetLangs []string
}

// FakeTranslator answers "<lang>:<text>" for every requested language except
// the ones marked missing.
type FakeTranslator struct {
	mu      sync.Mutex
	err     error
	missing map[string]bool
	calls   []TranslateCall
}

var _ interfaces.Translator = (*FakeTranslator)(nil)

func NewFakeTranslator() *FakeTranslator {
	return &FakeTranslator{missing: make(map[string]bool)}
}

// Fail makes every later call return err; nil restores success.
func (f *FakeTranslator) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Omit leaves lang out of every result.
func (f *FakeTranslator) Omit(lang string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[lang] = true
}

func (f *FakeTranslator) TranslateBatch(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, TranslateCall{
		Text:        text,
		SourceLang:  sourceLang,
		TargetLangs: append([]string(nil), targetLangs...),
	})
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(targetLangs))
	for _, lang := range targetLangs {
		if !f.missing[lang] {
			out[lang] = lang + ":" + text
		}
	}
	return out, nil
}

// Calls returns a copy of every recorded invocation.
func (f *FakeTranslator) Calls() []TranslateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TranslateCall(nil), f.calls...)
}
