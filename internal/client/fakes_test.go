package client_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/omochice/toy-socket-echo/internal/client"
	"github.com/omochice/toy-socket-echo/pkg/protocol"
)

type fakeConn struct {
	readCh   chan string
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	written  []string
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh: make(chan string, 10),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (string, error) {
	select {
	case text, ok := <-c.readCh:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	case <-c.closed:
		return "", net.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, text)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued results; once the queue is empty every dial fails.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Push(conn *fakeConn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{conn: conn, err: err})
}

func (d *fakeDialer) Dial(context.Context) (client.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errRefused
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) client.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{clock: c, timer: t}
}

type fakeTimerHandle struct {
	clock *fakeClock
	timer *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	was := !h.timer.stopped
	h.timer.stopped = true
	return was
}

// Delays returns the delays of all timers armed so far.
func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

// FireLast runs the most recent timer unless it was stopped.
func (c *fakeClock) FireLast() bool {
	c.mu.Lock()
	if len(c.timers) == 0 {
		c.mu.Unlock()
		return false
	}
	t := c.timers[len(c.timers)-1]
	if t.stopped {
		c.mu.Unlock()
		return false
	}
	t.stopped = true
	c.mu.Unlock()

	t.fn()
	return true
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) record(ev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) StatusChanged(online bool) {
	s.record(fmt.Sprintf("status:%t", online))
}

func (s *recordingSink) MessageReceived(text string, origin protocol.Origin) {
	s.record(fmt.Sprintf("message:%s:%s", origin, text))
}

func (s *recordingSink) ErrorShown(kind client.ErrorKind) {
	s.record("error:" + kind.String())
}

func (s *recordingSink) ErrorCleared() {
	s.record("cleared")
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) Has(ev string) bool {
	for _, e := range s.Events() {
		if e == ev {
			return true
		}
	}
	return false
}
