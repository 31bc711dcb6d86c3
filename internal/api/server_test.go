package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polycast/internal/admin"
	"polycast/internal/mode"
	"polycast/internal/room"
	"polycast/internal/speech"
	"polycast/internal/testutil"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

const testAdminKey = "s3cret"

type staticConnections []interfaces.Connection

func (s staticConnections) Snapshot() []interfaces.Connection { return s }

func (s staticConnections) GetStats() map[string]int {
	return map[string]int{"total_connections": len(s)}
}

type serverFixture struct {
	server     *Server
	directory  *room.Directory
	store      *testutil.MemoryStore
	translator *testutil.FakeTranslator
	mode       *mode.Store
	wsCalls    int
}

func newServerFixture(t *testing.T, conns ...interfaces.Connection) *serverFixture {
	t.Helper()
	f := &serverFixture{
		store:      testutil.NewMemoryStore(),
		translator: testutil.NewFakeTranslator(),
		mode:       mode.Open("", zerolog.Nop()),
	}
	f.directory = room.NewDirectory(f.store, zerolog.Nop(), room.Options{})

	source := staticConnections(conns)
	f.server = NewServer(Config{}, Dependencies{
		Directory:   f.directory,
		Admin:       admin.New(testAdminKey, source, f.directory, zerolog.Nop()),
		Mode:        f.mode,
		Translator:  speech.NewCachedTranslator(f.translator, time.Minute, zerolog.Nop()),
		Store:       f.store,
		Connections: source,
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.wsCalls++
			w.WriteHeader(http.StatusSwitchingProtocols)
		}),
	}, zerolog.Nop())
	return f
}

func (f *serverFixture) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": testAdminKey}
}

func TestServer_Root(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Polycast Backend Server is running.", rec.Body.String())
	assert.Zero(t, f.wsCalls)
}

func TestServer_WebSocketRoutes(t *testing.T) {
	f := newServerFixture(t)
	upgrade := map[string]string{"Connection": "Upgrade", "Upgrade": "websocket"}

	rec := f.do(t, http.MethodGet, "/", "", upgrade)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)

	rec = f.do(t, http.MethodGet, "/ws?roomCode=12345", "", upgrade)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, 2, f.wsCalls)
}

func TestServer_CreateRoom(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/create-room", "", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[CreateRoomResponse](t, rec)
	assert.True(t, types.IsValidRoomCode(resp.RoomCode))
	assert.NotNil(t, f.directory.Get(resp.RoomCode))

	record, ok := f.store.Record(resp.RoomCode)
	require.True(t, ok)
	assert.Empty(t, record.Transcript)
}

func TestServer_CheckRoom(t *testing.T) {
	f := newServerFixture(t)
	f.store.Put(types.RoomRecord{
		RoomCode:   "24680",
		CreatedAt:  time.Now(),
		Transcript: []types.TranscriptEntry{types.NewTranscriptEntry("hello", time.Now())},
	})

	t.Run("invalid format", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/check-room/12a45", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, decode[CheckRoomResponse](t, rec).Exists)
	})

	t.Run("missing", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/check-room/11111", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[CheckRoomResponse](t, rec)
		assert.False(t, resp.Exists)
		assert.Equal(t, "Room not found", resp.Message)
	})

	t.Run("persisted room becomes resident", func(t *testing.T) {
		require.Nil(t, f.directory.Get("24680"))

		rec := f.do(t, http.MethodGet, "/api/check-room/24680", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[CheckRoomResponse](t, rec).Exists)

		r := f.directory.Get("24680")
		require.NotNil(t, r)
		assert.Len(t, r.Transcript(), 1)
	})

	t.Run("store failure", func(t *testing.T) {
		f.store.SetFailing(true)
		defer f.store.SetFailing(false)

		rec := f.do(t, http.MethodGet, "/api/check-room/13579", "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestServer_AdminRequiresKey(t *testing.T) {
	f := newServerFixture(t)

	for _, headers := range []map[string]string{nil, {"X-Admin-Key": "wrong"}} {
		rec := f.do(t, http.MethodPost, "/api/admin/global-cleanup", "", headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", decode[ErrorResponse](t, rec).Error)

		rec = f.do(t, http.MethodPost, "/api/admin/terminate-room/12345", "", headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestServer_GlobalCleanup(t *testing.T) {
	idle := testutil.NewFakeConn("idle")
	host := testutil.NewFakeConn("host")
	f := newServerFixture(t, idle, host)

	_, err := f.directory.Join(context.Background(), host, "12345", types.RoleHost)
	require.NoError(t, err)
	f.directory.Rejected().Add("99999")

	rec := f.do(t, http.MethodPost, "/api/admin/global-cleanup", "", adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AdminResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Global cleanup completed. Closed 1 of 2 connections. Cleared 1 rejected room codes.", resp.Message)
	assert.True(t, idle.Closed())
	assert.False(t, host.Closed())
	assert.Zero(t, f.directory.Rejected().Size())
}

func TestServer_TerminateRoom(t *testing.T) {
	f := newServerFixture(t)

	t.Run("live room", func(t *testing.T) {
		host := testutil.NewFakeConn("host")
		student := testutil.NewFakeConn("student")
		_, err := f.directory.Join(context.Background(), host, "12345", types.RoleHost)
		require.NoError(t, err)
		_, err = f.directory.Join(context.Background(), student, "12345", types.RoleStudent)
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/api/admin/terminate-room/12345", "", adminHeaders())
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[AdminResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "Room 12345 terminated. 2 active connections closed.", resp.Message)
		assert.Nil(t, f.directory.Get("12345"))
		assert.Len(t, student.OfType(types.MessageTypeRoomTerminated), 1)
	})

	t.Run("persisted only", func(t *testing.T) {
		f.store.Put(types.RoomRecord{RoomCode: "22222", CreatedAt: time.Now()})

		rec := f.do(t, http.MethodPost, "/api/admin/terminate-room/22222", "", adminHeaders())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Room 22222 deleted from persistent storage. No active connections.", decode[AdminResponse](t, rec).Message)

		_, ok := f.store.Record("22222")
		assert.False(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/admin/terminate-room/33333", "", adminHeaders())
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[AdminResponse](t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "Room 33333 not found", resp.Message)
	})

	t.Run("bad code", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/admin/terminate-room/abc", "", adminHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Mode(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/mode", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ModeResponse](t, rec).IsTextMode)

	rec = f.do(t, http.MethodPost, "/mode", `{"isTextMode":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ModeResponse](t, rec).IsTextMode)
	assert.True(t, f.mode.IsTextMode())

	for _, body := range []string{`{}`, `{"isTextMode":"yes"}`, `not json`} {
		rec = f.do(t, http.MethodPost, "/mode", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Missing or invalid isTextMode", decode[ErrorResponse](t, rec).Error)
	}
	assert.True(t, f.mode.IsTextMode())
}

func TestServer_Translate(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/translate/French/hello%20world", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "French:hello world", decode[TranslateResponse](t, rec).Translation)

	rec = f.do(t, http.MethodGet, "/api/translate/French/either%2For", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "French:either/or", decode[TranslateResponse](t, rec).Translation)

	f.translator.Fail(testutil.ErrFakeSpeech)
	rec = f.do(t, http.MethodGet, "/api/translate/German/goodbye", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t, testutil.NewFakeConn("a"))
	host := testutil.NewFakeConn("host")
	_, err := f.directory.Join(context.Background(), host, "12345", types.RoleHost)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.Connections["total_connections"])
	assert.Equal(t, 1, resp.Rooms.Rooms)
	assert.Equal(t, 1, resp.Rooms.RoomsWithHost)

	f.store.SetFailing(true)
	rec = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode[HealthResponse](t, rec).Status)
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/create-room", "", map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	f := newServerFixture(t)
	f.do(t, http.MethodGet, "/api/check-room/11111", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "polycast_http_requests_total")
	assert.Contains(t, body, `path="/api/check-room/{roomCode}"`)
}
