package integration

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"polycast/pkg/types"
)

const waitTimeout = 3 * time.Second

// message is the union of every outbound field a test inspects.
type message struct {
	Type     string          `json:"type"`
	Message  string          `json:"message"`
	RoomCode string          `json:"roomCode"`
	IsHost   bool            `json:"isHost"`
	Lang     string          `json:"lang"`
	Data     json.RawMessage `json:"data"`
}

// Text decodes data as a string.
func (m message) Text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(m.Data, &s))
	return s
}

// History decodes data as transcript entries.
func (m message) History(t *testing.T) []types.TranscriptEntry {
	t.Helper()
	var entries []types.TranscriptEntry
	require.NoError(t, json.Unmarshal(m.Data, &entries))
	return entries
}

// testClient is a websocket peer that collects every frame it receives
// FUNCTIONAL DISCOVERY: Reading happens on its own goroutine so pings are
// answered while the test waits on something else
type testClient struct {
	conn     *websocket.Conn
	messages chan message
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

func dial(t *testing.T, baseURL string, query url.Values) *testClient {
	t.Helper()
	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	c := &testClient{
		conn:     conn,
		messages: make(chan message, 100),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.Close)
	return c
}

func host(t *testing.T, baseURL, code string, langs ...string) *testClient {
	t.Helper()
	q := url.Values{"roomCode": {code}, "isHost": {"true"}}
	if len(langs) > 0 {
		q.Set("targetLangs", strings.Join(langs, ","))
	}
	c := dial(t, baseURL, q)
	c.Expect(t, "info")
	joined := c.Expect(t, "room_joined")
	require.True(t, joined.IsHost)
	return c
}

func student(t *testing.T, baseURL, code string) *testClient {
	t.Helper()
	c := dial(t, baseURL, url.Values{"roomCode": {code}, "isHost": {"false"}})
	c.Expect(t, "info")
	joined := c.Expect(t, "room_joined")
	require.False(t, joined.IsHost)
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.messages <- msg
	}
}

// Next returns the next message or fails after waitTimeout.
func (c *testClient) Next(t *testing.T) message {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message")
		return message{}
	}
}

// Expect asserts the type of the next message.
func (c *testClient) Expect(t *testing.T, messageType string) message {
	t.Helper()
	msg := c.Next(t)
	require.Equal(t, messageType, msg.Type, "message: %+v", msg)
	return msg
}

// ExpectClosed waits for the server to end the connection and asserts
// nothing else was delivered first.
func (c *testClient) ExpectClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(waitTimeout):
		t.Fatal("connection was not closed by the server")
	}
	select {
	case msg := <-c.messages:
		t.Fatalf("unexpected message before close: %+v", msg)
	default:
	}
}

// ExpectQuiet asserts no message arrives within d.
func (c *testClient) ExpectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-c.messages:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(d):
	}
}

func (c *testClient) SendAudio(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, data))
}

func (c *testClient) SendText(t *testing.T, text, lang string) {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(map[string]string{
		"type": "text_submit",
		"text": text,
		"lang": lang,
	}))
}

// Close drops the connection from the client side.
func (c *testClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}
