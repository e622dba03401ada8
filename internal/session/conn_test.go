package session_test

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/omochice/toy-socket-echo/internal/session"
)

// mockConn is a mock implementation of session.Conn for testing.
type mockConn struct {
	readCh     chan string
	readErr    error
	readGate   chan struct{}
	writtenMu  sync.Mutex
	written    []string
	writeErr   error
	closeOnce  sync.Once
	closed     chan struct{}
	closeCalls int
	lateWrites int
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan string, 10),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) (string, error) {
	if m.readGate != nil {
		<-m.readGate
	}
	if m.readErr != nil {
		return "", m.readErr
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.closed:
		return "", net.ErrClosed
	case data, ok := <-m.readCh:
		if !ok {
			return "", io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, text string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	if m.IsClosed() {
		m.lateWrites++
	}
	m.written = append(m.written, text)
	return nil
}

// LateWrites counts writes that reached the connection after Close.
func (m *mockConn) LateWrites() int {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.lateWrites
}

func (m *mockConn) Close() error {
	m.writtenMu.Lock()
	m.closeCalls++
	m.writtenMu.Unlock()
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	out := make([]string, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConn) count(text string) int {
	n := 0
	for _, w := range m.GetWritten() {
		if w == text {
			n++
		}
	}
	return n
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Compile-time check that mockConn implements session.Conn
var _ session.Conn = (*mockConn)(nil)
