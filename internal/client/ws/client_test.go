package ws_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gobwas "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-socket-echo/internal/client/ws"
)

// newEchoServer answers every text frame with the same text and closes
// normally when it receives "bye".
func newEchoServer(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := gobwas.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			data, _, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			if string(data) == "bye" {
				body := gobwas.NewCloseFrameBody(gobwas.StatusNormalClosure, "")
				_ = wsutil.WriteServerMessage(conn, gobwas.OpClose, body)
				return
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, err := ws.NewDialer(url).Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.(*ws.Conn)
}

func TestDialer_RoundTrip(t *testing.T) {
	conn := dial(t, newEchoServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, "hello"))
	text, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestDialer_PeerCloseIsEOF(t *testing.T) {
	conn := dial(t, newEchoServer(t))

	require.NoError(t, conn.Write(context.Background(), "bye"))
	_, err := conn.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestDialer_CancelUnblocksRead(t *testing.T) {
	conn := dial(t, newEchoServer(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := conn.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialer_ReadDeadline(t *testing.T) {
	conn := dial(t, newEchoServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := conn.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialer_CloseIsIdempotent(t *testing.T) {
	conn := dial(t, newEchoServer(t))

	first := conn.Close()
	assert.NoError(t, first)
	assert.Equal(t, first, conn.Close())
}

func TestDialer_Failure(t *testing.T) {
	url := newEchoServer(t)

	t.Run("no server", func(t *testing.T) {
		_, err := ws.NewDialer("ws://127.0.0.1:1").Dial(context.Background())
		assert.Error(t, err)
	})

	t.Run("not a websocket endpoint", func(t *testing.T) {
		plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("WebSocket Server"))
		}))
		defer plain.Close()

		_, err := ws.NewDialer("ws" + strings.TrimPrefix(plain.URL, "http")).Dial(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 200")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ws.NewDialer(url).Dial(ctx)
		assert.Error(t, err)
	})
}

func TestDialer_URL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080", ws.NewDialer("ws://localhost:8080").URL())
}
