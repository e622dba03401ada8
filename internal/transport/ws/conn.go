// Package ws provides the WebSocket transport of the echo server.
package ws

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

const closeWriteTimeout = time.Second

// Conn adapts a hijacked server-side WebSocket connection to session.Conn.
type Conn struct {
	conn       net.Conn
	rw         io.ReadWriter
	remoteAddr string
	mu         sync.Mutex
	closeOnce  sync.Once
	closeErr   error
	// closeSent is set once a close frame went out, either as the reply
	// to the peer's close or from Close.
	closeSent atomic.Bool
}

// NewConn wraps conn with its own remote address.
func NewConn(conn net.Conn) *Conn {
	return NewConnWithReader(conn, nil, conn.RemoteAddr().String())
}

// NewConnWithReader wraps conn, reading through r first.
// The upgrade may have buffered bytes of the first frames in r.
func NewConnWithReader(conn net.Conn, r *bufio.Reader, addr string) *Conn {
	c := &Conn{conn: conn, remoteAddr: addr}
	var reader io.Reader = conn
	if r != nil && r.Buffered() > 0 {
		reader = r
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{reader, lockedWriter{c}}
	return c
}

// Read implements session.Conn.
// Control frames are answered in place; a close frame from the peer is io.EOF.
func (c *Conn) Read(ctx context.Context) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	}
	data, _, err := wsutil.ReadClientData(c.rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			// the control handler already answered the close frame
			c.closeSent.Store(true)
			return "", io.EOF
		}
		return "", err
	}
	return string(data), nil
}

// Write implements session.Conn.
// Writes a text message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteServerText(c.conn, []byte(text)); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close implements session.Conn.
// Sends a normal closure frame unless one was already sent, then closes
// the socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.closeSent.CompareAndSwap(false, true) {
			c.mu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
			c.mu.Unlock()
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements session.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// lockedWriter serialises control replies written while reading with
// ordinary writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
