package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/logging"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	eventQueueSize = 64
)

// ErrIdleTimeout is reported when nothing, not even a heartbeat, arrived
// within the idle timeout.
var ErrIdleTimeout = errors.New("client: connection idle")

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.log = logging.OrNop(l)
	}
}

// WithClock replaces the wall clock used for reconnect timers.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single send.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithIdleTimeout drops a connection that stays silent for d. Zero disables.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.idleTimeout = d
		}
	}
}

// dialed carries a freshly dialed connection back to the event loop.
type dialed struct {
	gen  uint64
	conn Conn
}

func (dialed) event() {}

// Manager runs a Machine against a real transport. All state changes happen
// on the goroutine executing Run; the public methods only post events.
type Manager struct {
	machine *Machine
	dialer  Dialer
	reach   Reachability
	sink    Sink
	clock   Clock
	log     *zap.Logger

	dialTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	events chan Event
	done   chan struct{}

	// owned by the Run goroutine
	ctx        context.Context
	conn       Conn
	connGen    uint64
	connCancel context.CancelFunc
	candidate  Conn
	timer      Timer

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewManager returns a Manager that is idle until Run and Start are called.
// A nil reach is treated as always online and a nil sink discards events.
func NewManager(backoff BackoffConfig, dialer Dialer, reach Reachability, sink Sink, opts ...Option) *Manager {
	if reach == nil {
		reach = NewStaticReachability(true)
	}
	if sink == nil {
		sink = NopSink{}
	}
	m := &Manager{
		machine:      NewMachine(backoff),
		dialer:       dialer,
		reach:        reach,
		sink:         sink,
		clock:        realClock{},
		log:          zap.NewNop(),
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		events:       make(chan Event, eventQueueSize),
		done:         make(chan struct{}),
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.snapshot = m.machine.Snapshot()
	return m
}

// Run processes events until ctx is cancelled, then closes the connection,
// cancels any pending reconnect and returns.
func (m *Manager) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			m.dispatch(Stop{})
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

// Start begins connecting, or waits for reachability when the host is offline.
func (m *Manager) Start() {
	m.post(Start{Online: m.reach.Online()})
}

// Send transmits text when connected. Otherwise the sink is told the
// message could not be sent. Blank input is ignored.
func (m *Manager) Send(text string) {
	m.post(SendRequested{Text: text})
}

// SetReachable feeds the host online/offline signal.
func (m *Manager) SetReachable(online bool) {
	m.post(ReachabilityChanged{Online: online})
}

// State returns the state after the last processed event.
func (m *Manager) State() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Done is closed when Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) dispatch(ev Event) {
	before := m.machine.Snapshot().State

	var effects []Effect
	if d, ok := ev.(dialed); ok {
		m.candidate = d.conn
		effects = m.machine.Handle(TransportOpened{Gen: d.gen})
	} else {
		effects = m.machine.Handle(ev)
	}

	for _, eff := range effects {
		m.apply(eff)
	}

	// a dial result nobody attached belongs to a superseded attempt
	if m.candidate != nil {
		_ = m.candidate.Close()
		m.candidate = nil
	}

	snap := m.machine.Snapshot()
	if snap.State != before {
		m.log.Debug("state changed",
			zap.Stringer("from", before),
			zap.Stringer("to", snap.State),
			zap.Uint64("generation", snap.Generation),
		)
	}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

func (m *Manager) apply(eff Effect) {
	switch e := eff.(type) {
	case Dial:
		m.dial(e.Gen)
	case Attach:
		m.attach(e.Gen)
	case CloseTransport:
		m.closeTransport()
	case Transmit:
		m.transmit(e)
	case ScheduleReconnect:
		m.log.Info("reconnect scheduled", zap.Int("attempt", e.Attempt), zap.Duration("delay", e.Delay))
		gen := e.Gen
		m.timer = m.clock.AfterFunc(e.Delay, func() {
			m.post(ReconnectDue{Gen: gen})
		})
	case CancelReconnect:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
	case StatusChanged:
		m.sink.StatusChanged(e.Online)
	case MessageShown:
		m.sink.MessageReceived(e.Text, e.Origin)
	case ErrorShown:
		m.sink.ErrorShown(e.Kind)
	case ErrorCleared:
		m.sink.ErrorCleared()
	}
}

func (m *Manager) dial(gen uint64) {
	m.log.Debug("dialing", zap.Uint64("generation", gen))
	ctx := m.ctx
	go func() {
		dctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()

		conn, err := m.dialer.Dial(dctx)
		if err != nil {
			m.log.Warn("dial failed", zap.Uint64("generation", gen), zap.Error(err))
			m.post(TransportFailed{Gen: gen, Err: err})
			return
		}
		if !m.post(dialed{gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) attach(gen uint64) {
	conn := m.candidate
	m.candidate = nil
	if conn == nil {
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.conn = conn
	m.connGen = gen
	m.connCancel = cancel
	m.log.Info("connected", zap.Uint64("generation", gen))

	go m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		text, err := m.read(ctx, conn)
		if err != nil {
			m.post(TransportClosed{Gen: gen, Err: err})
			return
		}
		if !m.post(MessageReceived{Gen: gen, Text: text}) {
			return
		}
	}
}

func (m *Manager) read(ctx context.Context, conn Conn) (string, error) {
	if m.idleTimeout <= 0 {
		return conn.Read(ctx)
	}
	rctx, cancel := context.WithTimeout(ctx, m.idleTimeout)
	defer cancel()

	text, err := conn.Read(rctx)
	if err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return "", errors.Wrapf(ErrIdleTimeout, "no frame for %s", m.idleTimeout)
	}
	return text, err
}

func (m *Manager) transmit(t Transmit) {
	if m.conn == nil || m.connGen != t.Gen {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.writeTimeout)
	defer cancel()

	if err := m.conn.Write(ctx, t.Text); err != nil {
		// the read loop observes the close and reports the loss
		m.log.Warn("send failed", zap.Error(err))
		_ = m.conn.Close()
	}
}

func (m *Manager) closeTransport() {
	if m.conn == nil {
		return
	}
	m.connCancel()
	if err := m.conn.Close(); err != nil {
		m.log.Debug("close failed", zap.Error(err))
	}
	m.conn = nil
	m.connCancel = nil
	m.log.Info("disconnected", zap.Uint64("generation", m.connGen))
}
