package session

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/logging"
	"github.com/omochice/toy-socket-echo/internal/observability"
	"github.com/omochice/toy-socket-echo/pkg/protocol"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultQueueSize         = 16

	tracerName = "github.com/omochice/toy-socket-echo/internal/session"
)

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeatInterval sets the period between heartbeat frames.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithQueueSize sets how many outgoing frames a session buffers.
func WithQueueSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithLogger sets the logger sessions derive theirs from.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.log = logging.OrNop(l)
	}
}

// WithMetrics records session counters into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTracer replaces the tracer of the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// Handler turns accepted connections into sessions: it registers them,
// emits heartbeats, echoes application messages and reaps them on close.
type Handler struct {
	registry     *Registry
	interval     time.Duration
	writeTimeout time.Duration
	queueSize    int
	log          *zap.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
}

// NewHandler creates a Handler backed by registry.
func NewHandler(registry *Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:     registry,
		interval:     DefaultHeartbeatInterval,
		writeTimeout: DefaultWriteTimeout,
		queueSize:    DefaultQueueSize,
		log:          zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry sessions are tracked in.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Metrics returns the collectors sessions record into, or nil.
func (h *Handler) Metrics() *observability.Metrics {
	return h.metrics
}

// Session is one accepted connection and its heartbeat.
type Session struct {
	ID       string
	OpenedAt time.Time

	conn     Conn
	handler  *Handler
	log      *zap.Logger
	span     trace.Span
	outgoing chan string

	ctx    context.Context
	cancel context.CancelFunc
	open   atomic.Bool
	once   sync.Once
	done   chan struct{}

	// writeMu orders frame writes against terminate closing the connection.
	writeMu sync.Mutex
}

// Accept registers conn as a new session and starts its heartbeat and writer.
// The session lives until Close, a read or write failure, or ctx ends.
func (h *Handler) Accept(ctx context.Context, conn Conn) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	ctx, span := h.tracer.Start(ctx, "session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("net.peer.addr", conn.RemoteAddr()),
		),
	)

	s := &Session{
		ID:       id,
		OpenedAt: time.Now(),
		conn:     conn,
		handler:  h,
		log:      h.log.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr())),
		span:     span,
		outgoing: make(chan string, h.queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.open.Store(true)

	h.registry.Register(s)
	h.metrics.SessionOpened()
	s.log.Info("session opened", zap.Int("sessions", h.registry.Len()))

	go s.heartbeatLoop()
	go s.writeLoop()
	go func() {
		<-ctx.Done()
		s.terminate(observability.ReasonShutdown, nil)
	}()

	return s
}

// Serve accepts conn and reads from it until the session ends.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	s := h.Accept(ctx, conn)
	s.readLoop()
}

// Open reports whether the session has not been terminated yet.
func (s *Session) Open() bool {
	return s.open.Load()
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close terminates the session. Safe to call any number of times.
func (s *Session) Close() {
	s.terminate(observability.ReasonShutdown, nil)
}

func (s *Session) readLoop() {
	for {
		text, err := s.conn.Read(s.ctx)
		if err != nil {
			if isClosed(err) {
				s.terminate(observability.ReasonClosed, nil)
			} else {
				s.terminate(observability.ReasonReadError, err)
			}
			return
		}

		if protocol.IsHeartbeat(text) {
			continue
		}

		s.handler.metrics.MessageReceived()
		s.log.Debug("message received", zap.String("payload", text))
		s.enqueue(protocol.Echo(text))
	}
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.handler.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.open.Load() {
				s.enqueue(protocol.Heartbeat)
			}
		}
	}
}

// writeLoop is the only writer of the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.outgoing:
			written, err := s.write(text)
			if err != nil {
				s.terminate(observability.ReasonWriteError, err)
				return
			}
			if !written {
				return
			}
			if protocol.IsHeartbeat(text) {
				s.handler.metrics.HeartbeatSent()
			} else {
				s.handler.metrics.EchoSent()
			}
		}
	}
}

// write sends text unless the session has been terminated.
func (s *Session) write(text string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.open.Load() {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.handler.writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, text); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) enqueue(text string) bool {
	if !s.open.Load() {
		return false
	}
	select {
	case s.outgoing <- text:
		return true
	case <-s.ctx.Done():
		return false
	default:
		s.handler.metrics.FrameDropped()
		s.log.Warn("outgoing queue full, dropping frame")
		return false
	}
}

// terminate cancels the heartbeat, unregisters and closes the connection.
// Close and error paths may both reach it; only the first call acts.
func (s *Session) terminate(reason string, cause error) {
	s.once.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		s.open.Store(false)
		s.writeMu.Unlock()

		removed := s.handler.registry.Unregister(s.ID)
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close failed", zap.Error(err))
		}
		if removed {
			s.handler.metrics.SessionClosed(reason)
		}

		if cause != nil {
			s.span.RecordError(cause)
			s.span.SetStatus(codes.Error, reason)
			s.log.Warn("session terminated",
				zap.String("reason", reason),
				zap.Duration("lifetime", time.Since(s.OpenedAt)),
				zap.Error(cause),
			)
		} else {
			s.log.Info("session closed",
				zap.String("reason", reason),
				zap.Duration("lifetime", time.Since(s.OpenedAt)),
			)
		}
		s.span.SetAttributes(attribute.String("session.close_reason", reason))
		s.span.End()

		close(s.done)
	})
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
