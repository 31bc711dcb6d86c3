package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polycast/internal/room"
	"polycast/internal/testutil"
	"polycast/pkg/types"
)

type fixedMode bool

func (m fixedMode) IsTextMode() bool { return bool(m) }

type fixture struct {
	router      *Router
	directory   *room.Directory
	store       *testutil.MemoryStore
	transcriber *testutil.FakeTranscriber
	translator  *testutil.FakeTranslator
}

func newFixture(t *testing.T, textMode bool, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:       testutil.NewMemoryStore(),
		transcriber: testutil.NewFakeTranscriber("hello"),
		translator:  testutil.NewFakeTranslator(),
	}
	f.directory = room.NewDirectory(f.store, zerolog.Nop(), room.Options{})
	f.router = NewRouter(f.directory, f.transcriber, f.translator, fixedMode(textMode), opts, zerolog.Nop())
	return f
}

// join attaches conn to code and clears the join messages.
func (f *fixture) join(t *testing.T, conn *testutil.FakeConn, code string, role types.Role) {
	t.Helper()
	_, err := f.directory.Join(context.Background(), conn, code, role)
	require.NoError(t, err)
	conn.Reset()
}

func audio() []byte { return []byte{0x1a, 0x45, 0xdf, 0xa3} }

func textFrame(text, lang string) []byte {
	return []byte(`{"type":"text_submit","text":"` + text + `","lang":"` + lang + `"}`)
}

func translations(conn *testutil.FakeConn) []types.TranslationMessage {
	var out []types.TranslationMessage
	for _, m := range conn.OfType(types.MessageTypeTranslation) {
		out = append(out, m.(types.TranslationMessage))
	}
	return out
}

func errorText(t *testing.T, conn *testutil.FakeConn) string {
	t.Helper()
	errs := conn.OfType(types.MessageTypeError)
	require.Len(t, errs, 1)
	return errs[0].(types.ErrorMessage).Message
}

// Functional Validation Tests - audio fan-out

func TestRoute_AudioFansOutToHostAndStudents(t *testing.T) {
	f := newFixture(t, false, Options{})
	ctx := context.Background()

	host := testutil.NewFakeConn("host", "French", "German")
	s1 := testutil.NewFakeConn("s1")
	s2 := testutil.NewFakeConn("s2")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, s1, "12345", types.RoleStudent)
	f.join(t, s2, "12345", types.RoleStudent)

	require.NoError(t, f.router.Route(ctx, host, true, audio()))

	calls := f.translator.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"French", "German", "English", "Spanish"}, calls[0].TargetLangs)
	assert.Equal(t, "", calls[0].SourceLang)

	assert.Equal(t, []string{"recognized", "translation", "translation", "translation", "translation"}, host.Types())
	recognized := host.Messages()[0].(types.RecognizedMessage)
	assert.Equal(t, "hello", recognized.Data)
	assert.Empty(t, recognized.Lang)
	var hostLangs []string
	for _, tr := range translations(host) {
		hostLangs = append(hostLangs, tr.Lang)
	}
	assert.Equal(t, []string{"French", "German", "English", "Spanish"}, hostLangs)

	for _, s := range []*testutil.FakeConn{s1, s2} {
		assert.Equal(t, []string{"recognized", "translation"}, s.Types())
		assert.Equal(t, "hello", s.Messages()[0].(types.RecognizedMessage).Data)
		tr := translations(s)[0]
		assert.Equal(t, "Spanish", tr.Lang)
		assert.Equal(t, "Spanish:hello", tr.Data)
	}

	r := f.directory.Get("12345")
	require.Len(t, r.Transcript(), 1)
	assert.Equal(t, "hello", r.Transcript()[0].Text)

	rec, ok := f.store.Record("12345")
	require.True(t, ok)
	require.Len(t, rec.Transcript, 1)
	assert.Equal(t, "hello", rec.Transcript[0].Text)
}

func TestRoute_NoStudentsSkipsSpanish(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host", "French")
	f.join(t, host, "12345", types.RoleHost)

	require.NoError(t, f.router.Route(context.Background(), host, true, audio()))

	assert.Equal(t, []string{"French", "English"}, f.translator.Calls()[0].TargetLangs)
	assert.Len(t, f.directory.Get("12345").Transcript(), 1)
}

func TestRoute_StudentFallbackTranslation(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.translator.Omit("Spanish")

	host := testutil.NewFakeConn("host", "French")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	require.NoError(t, f.router.Route(context.Background(), host, true, audio()))

	tr := translations(student)
	require.Len(t, tr, 1)
	assert.Equal(t, "Spanish", tr[0].Lang)
	assert.Equal(t, "French:hello", tr[0].Data)

	// The host only sees languages that came back.
	for _, m := range translations(host) {
		assert.NotEqual(t, "Spanish", m.Lang)
	}
}

func TestRoute_LateJoinerGetsHistory(t *testing.T) {
	f := newFixture(t, false, Options{})
	ctx := context.Background()

	host := testutil.NewFakeConn("host")
	s1 := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)

	_, err := f.directory.Join(ctx, s1, "12345", types.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, s1.OfType(types.MessageTypeTranscriptHistory))

	require.NoError(t, f.router.Route(ctx, host, true, audio()))

	s2 := testutil.NewFakeConn("s2")
	_, err = f.directory.Join(ctx, s2, "12345", types.RoleStudent)
	require.NoError(t, err)

	history := s2.OfType(types.MessageTypeTranscriptHistory)
	require.Len(t, history, 1)
	entries := history[0].(types.TranscriptHistoryMessage).Data
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Text)
}

func TestRoute_BroadcastSurvivesDeadStudent(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host")
	dead := testutil.NewFakeConn("dead")
	alive := testutil.NewFakeConn("alive")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, dead, "12345", types.RoleStudent)
	f.join(t, alive, "12345", types.RoleStudent)

	dead.FailSends(errors.New("broken pipe"))

	require.NoError(t, f.router.Route(context.Background(), host, true, audio()))
	assert.Equal(t, []string{"recognized", "translation"}, alive.Types())
}

// Functional Validation Tests - text mode

func TestRoute_TextModeSkipsSourceLanguage(t *testing.T) {
	f := newFixture(t, true, Options{})
	host := testutil.NewFakeConn("host", "Spanish", "French")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	require.NoError(t, f.router.Route(context.Background(), host, false, textFrame("hola", "Spanish")))

	call := f.translator.Calls()[0]
	assert.Equal(t, "Spanish", call.SourceLang)
	assert.Equal(t, []string{"French", "English"}, call.TargetLangs)
	assert.Zero(t, f.transcriber.Calls())

	recognized := host.Messages()[0].(types.RecognizedMessage)
	assert.Equal(t, "Spanish", recognized.Lang)
	assert.Equal(t, "hola", recognized.Data)

	// Students read the Spanish source as their translation.
	tr := translations(student)
	require.Len(t, tr, 1)
	assert.Equal(t, "hola", tr[0].Data)
}

func TestRoute_TextSubmitInBinaryFrame(t *testing.T) {
	f := newFixture(t, true, Options{})
	host := testutil.NewFakeConn("host", "French")
	f.join(t, host, "12345", types.RoleHost)

	require.NoError(t, f.router.Route(context.Background(), host, true, textFrame("hello", "English")))
	assert.Zero(t, f.transcriber.Calls())
	assert.Equal(t, []string{"French"}, f.translator.Calls()[0].TargetLangs)
}

func TestRoute_NoTranslationNeeded(t *testing.T) {
	f := newFixture(t, true, Options{})
	host := testutil.NewFakeConn("host", "English")
	f.join(t, host, "12345", types.RoleHost)

	require.NoError(t, f.router.Route(context.Background(), host, false, textFrame("hello", "English")))
	assert.Empty(t, f.translator.Calls())
	assert.Equal(t, []string{"recognized"}, host.Types())
	assert.Len(t, f.directory.Get("12345").Transcript(), 1)
}

// Functional Validation Tests - gates

func TestRoute_StudentCannotSubmit(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	err := f.router.Route(context.Background(), student, true, audio())
	assert.ErrorIs(t, err, ErrUnauthorizedRole)
	assert.Equal(t, "Students cannot send audio or text for transcription", errorText(t, student))

	assert.Zero(t, f.transcriber.Calls())
	assert.Empty(t, host.Messages())
	assert.Empty(t, f.directory.Get("12345").Transcript())
	assert.False(t, student.Closed())
}

func TestRoute_ModeMismatch(t *testing.T) {
	t.Run("text in audio mode", func(t *testing.T) {
		f := newFixture(t, false, Options{})
		host := testutil.NewFakeConn("host")
		f.join(t, host, "12345", types.RoleHost)

		err := f.router.Route(context.Background(), host, false, textFrame("hi", "English"))
		assert.ErrorIs(t, err, ErrModeMismatch)
		assert.Equal(t, msgTextInAudioMode, errorText(t, host))
		assert.Empty(t, f.translator.Calls())
	})

	t.Run("audio in text mode", func(t *testing.T) {
		f := newFixture(t, true, Options{})
		host := testutil.NewFakeConn("host")
		f.join(t, host, "12345", types.RoleHost)

		err := f.router.Route(context.Background(), host, true, audio())
		assert.ErrorIs(t, err, ErrModeMismatch)
		assert.Equal(t, msgAudioInTextMode, errorText(t, host))
		assert.Zero(t, f.transcriber.Calls())
	})
}

func TestRoute_MalformedDroppedSilently(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host")
	f.join(t, host, "12345", types.RoleHost)

	for _, frame := range [][]byte{
		[]byte("not json"),
		[]byte(`{"type":"unknown"}`),
		[]byte(`{"type":"text_submit"}`),
	} {
		err := f.router.Route(context.Background(), host, false, frame)
		assert.ErrorIs(t, err, types.ErrMalformedInput, string(frame))
	}
	assert.Empty(t, host.Messages())
	assert.False(t, host.Closed())
}

func TestRoute_RateLimited(t *testing.T) {
	f := newFixture(t, false, Options{RateLimit: 2})
	host := testutil.NewFakeConn("host")
	f.join(t, host, "12345", types.RoleHost)
	ctx := context.Background()

	require.NoError(t, f.router.Route(ctx, host, true, audio()))
	require.NoError(t, f.router.Route(ctx, host, true, audio()))
	assert.ErrorIs(t, f.router.Route(ctx, host, true, audio()), ErrRateLimitExceeded)
	assert.Equal(t, 2, f.transcriber.Calls())

	f.router.Release(host.ID())
	assert.NoError(t, f.router.Route(ctx, host, true, audio()))
}

// Functional Validation Tests - external failures

func TestRoute_EmptyTranscriptionDropped(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.transcriber.SetResult("   ", nil)
	host := testutil.NewFakeConn("host")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	require.NoError(t, f.router.Route(context.Background(), host, true, audio()))
	assert.Empty(t, host.Messages())
	assert.Empty(t, student.Messages())
	assert.Empty(t, f.translator.Calls())
}

func TestRoute_TranscriptionFailure(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.transcriber.SetResult("", testutil.ErrFakeSpeech)
	host := testutil.NewFakeConn("host")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	err := f.router.Route(context.Background(), host, true, audio())
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, msgTranscribeFail, errorText(t, host))
	assert.Empty(t, student.Messages())
	assert.Empty(t, f.directory.Get("12345").Transcript())
}

func TestRoute_TranslationFailureSkipsBroadcast(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.translator.Fail(testutil.ErrFakeSpeech)
	host := testutil.NewFakeConn("host")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	err := f.router.Route(context.Background(), host, true, audio())
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Equal(t, []string{"error"}, host.Types())
	assert.Empty(t, student.Messages())
	assert.Empty(t, f.directory.Get("12345").Transcript())
}

func TestRoute_ExternalTimeout(t *testing.T) {
	f := newFixture(t, false, Options{ExternalTimeout: 20 * time.Millisecond})
	f.transcriber.SetDelay(time.Second)
	host := testutil.NewFakeConn("host")
	f.join(t, host, "12345", types.RoleHost)

	start := time.Now()
	err := f.router.Route(context.Background(), host, true, audio())
	assert.ErrorIs(t, err, ErrExternalService)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// Functional Validation Tests - senders outside a room

func TestRoute_UnjoinedSenderGetsOwnResults(t *testing.T) {
	f := newFixture(t, false, Options{})
	loner := testutil.NewFakeConn("loner", "French")

	require.NoError(t, f.router.Route(context.Background(), loner, true, audio()))

	assert.Equal(t, []string{"recognized", "translation", "translation"}, loner.Types())
	assert.Equal(t, []string{"French", "English"}, f.translator.Calls()[0].TargetLangs)
	assert.Zero(t, f.directory.Stats().Rooms)
}

func TestRoute_HostOfDestroyedRoom(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host")
	f.join(t, host, "12345", types.RoleHost)

	_, err := f.directory.Terminate(context.Background(), "12345")
	require.NoError(t, err)

	// The host connection is closed by termination; sends fail quietly.
	assert.NoError(t, f.router.Route(context.Background(), host, true, audio()))
	assert.Nil(t, f.directory.Get("12345"))
}

// Functional Validation Tests - host reconnect

func TestRoute_ReplacedHostCannotSubmit(t *testing.T) {
	f := newFixture(t, false, Options{})
	ctx := context.Background()

	h1 := testutil.NewFakeConn("h1")
	s1 := testutil.NewFakeConn("s1")
	h2 := testutil.NewFakeConn("h2")
	f.join(t, h1, "12345", types.RoleHost)
	f.join(t, s1, "12345", types.RoleStudent)
	f.join(t, h2, "12345", types.RoleHost)

	err := f.router.Route(ctx, h1, true, audio())
	assert.ErrorIs(t, err, ErrUnauthorizedRole)
	assert.Equal(t, msgReplacedHost, errorText(t, h1))
	assert.Zero(t, f.transcriber.Calls())
	assert.Empty(t, s1.Messages())
	assert.Empty(t, h2.Messages())
	assert.Empty(t, f.directory.Get("12345").Transcript())

	require.NoError(t, f.router.Route(ctx, h2, true, audio()))
	assert.Equal(t, []string{"recognized", "translation"}, s1.Types())
	assert.Len(t, f.directory.Get("12345").Transcript(), 1)
}

func TestRoute_HostReplacedDuringTranscription(t *testing.T) {
	f := newFixture(t, false, Options{})
	f.transcriber.SetDelay(200 * time.Millisecond)

	h1 := testutil.NewFakeConn("h1")
	s1 := testutil.NewFakeConn("s1")
	f.join(t, h1, "12345", types.RoleHost)
	f.join(t, s1, "12345", types.RoleStudent)

	done := make(chan error, 1)
	go func() { done <- f.router.Route(context.Background(), h1, true, audio()) }()

	require.Eventually(t, func() bool { return f.transcriber.Calls() == 1 }, time.Second, 5*time.Millisecond)
	f.join(t, testutil.NewFakeConn("h2"), "12345", types.RoleHost)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnauthorizedRole)
	case <-time.After(2 * time.Second):
		t.Fatal("route did not return")
	}
	assert.Equal(t, []string{"error"}, h1.Types())
	assert.Empty(t, s1.Messages())
	assert.Empty(t, f.directory.Get("12345").Transcript())
}

func TestRoute_TargetLanguagesIgnoreCase(t *testing.T) {
	f := newFixture(t, false, Options{})
	host := testutil.NewFakeConn("host", "spanish", "ENGLISH")
	student := testutil.NewFakeConn("s1")
	f.join(t, host, "12345", types.RoleHost)
	f.join(t, student, "12345", types.RoleStudent)

	require.NoError(t, f.router.Route(context.Background(), host, true, audio()))

	assert.Equal(t, []string{"spanish", "ENGLISH"}, f.translator.Calls()[0].TargetLangs)
	assert.Len(t, translations(host), 2)

	tr := translations(student)
	require.Len(t, tr, 1)
	assert.Equal(t, "Spanish", tr[0].Lang)
	assert.Equal(t, "spanish:hello", tr[0].Data)
}
