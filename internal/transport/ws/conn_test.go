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
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-socket-echo/internal/transport/ws"
)

func upgradeServer(t *testing.T, fn func(c *ws.Conn)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, rw, _, err := gobwas.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		c := ws.NewConnWithReader(conn, rw.Reader, r.RemoteAddr)
		defer c.Close()
		fn(c)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConn_Read(t *testing.T) {
	received := make(chan string, 1)
	server := upgradeServer(t, func(c *ws.Conn) {
		text, err := c.Read(context.Background())
		if err != nil {
			t.Errorf("Read() error = %v", err)
			return
		}
		received <- text
	})

	client := dial(t, server)
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("test message")))

	select {
	case text := <-received:
		assert.Equal(t, "test message", text)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestConn_Write(t *testing.T) {
	server := upgradeServer(t, func(c *ws.Conn) {
		if err := c.Write(context.Background(), "hello"); err != nil {
			t.Errorf("Write() error = %v", err)
		}
		_, _ = c.Read(context.Background())
	})

	client := dial(t, server)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))

	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "hello", string(data))
}

func TestConn_PeerCloseIsEOF(t *testing.T) {
	readErr := make(chan error, 1)
	server := upgradeServer(t, func(c *ws.Conn) {
		_, err := c.Read(context.Background())
		readErr <- err
	})

	client := dial(t, server)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
}

func TestConn_Close(t *testing.T) {
	server := upgradeServer(t, func(c *ws.Conn) {
		assert.NoError(t, c.Close())
		assert.NoError(t, c.Close())
	})

	client := dial(t, server)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))

	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestConn_RemoteAddr(t *testing.T) {
	addr := make(chan string, 1)
	server := upgradeServer(t, func(c *ws.Conn) {
		addr <- c.RemoteAddr()
	})

	dial(t, server)

	select {
	case got := <-addr:
		assert.NotEmpty(t, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}
}
