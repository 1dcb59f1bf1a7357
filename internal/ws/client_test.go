package ws

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamFixture struct {
	server   *httptest.Server
	payloads chan []byte
	closed   chan struct{}
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()

	f := &streamFixture{
		payloads: make(chan []byte, 4),
		closed:   make(chan struct{}, 2),
	}
	lg := slog.New(slog.NewTextHandler(io.Discard, nil))

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(w, r, "whatsapp:89161234567:89990000001", f.payloads, func() error {
			f.closed <- struct{}{}
			return nil
		}, lg)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *streamFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	return conn
}

func (f *streamFixture) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("subscription was never torn down")
	}
}

func TestServeStreamsPayloads(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)
	defer conn.Close()

	published := []byte(`{"conversation_id":"whatsapp:89161234567:89990000001","text":"hello"}`)
	f.payloads <- published

	messageType, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Equal(t, published, frame, "the subscriber receives the published payload verbatim")

	// the payload sequence ends; the client gets a close frame and the
	// subscription is torn down
	close(f.payloads)
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "unexpected read error: %v", err)

	f.waitClosed(t)
}

func TestServeClientDisconnectTearsDownSubscription(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.Close())
	f.waitClosed(t)
}
