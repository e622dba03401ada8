// Package ws provides the WebSocket transport of the connection manager.
package ws

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/omochice/toy-socket-echo/internal/client"
)

const closeWriteTimeout = time.Second

// Dialer opens WebSocket connections to a fixed URL.
type Dialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewDialer returns a Dialer for url (ws:// or wss://).
func NewDialer(url string) *Dialer {
	return &Dialer{
		url:    url,
		header: http.Header{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// URL returns the dialed address.
func (d *Dialer) URL() string {
	return d.url
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context) (client.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s (status %d)", d.url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "failed to connect to %s", d.url)
	}
	return NewConn(conn), nil
}

// Conn adapts a gorilla connection to client.Conn.
type Conn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements client.Conn.
// A normal close from the peer is io.EOF; cancelling ctx unblocks the read
// but leaves the connection unusable.
func (c *Conn) Read(ctx context.Context) (string, error) {
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		return "", errors.Wrap(err, "failed to read frame")
	}
	return string(data), nil
}

// Write implements client.Conn.
func (c *Conn) Write(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close implements client.Conn.
// Sends a normal closure frame, then closes the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
