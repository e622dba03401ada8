package ws

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/ws"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/logging"
	"github.com/omochice/toy-socket-echo/internal/observability"
	"github.com/omochice/toy-socket-echo/internal/session"
)

// Banner is the plain-text body served to non-upgrade requests.
const Banner = "WebSocket Server"

const (
	shutdownTimeout       = 5 * time.Second
	processSampleInterval = 2 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = logging.OrNop(l)
	}
}

// Server handles WebSocket connections and delegates them to a session.Handler.
type Server struct {
	address  string
	listener net.Listener
	handler  *session.Handler
	metrics  *observability.Metrics
	server   *http.Server
	log      *zap.Logger
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a WebSocket server that uses the provided Handler.
// When the handler records metrics, the same collectors are served on
// /metrics and process usage is sampled into them.
func New(address string, handler *session.Handler, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address: address,
		handler: handler,
		metrics: handler.Metrics(),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP routes of the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start starts accepting connections. It blocks until Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.address)
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	if s.metrics != nil {
		go s.metrics.WatchProcess(s.ctx, processSampleInterval, s.log)
	}

	s.log.Info("WebSocket server started", zap.String("addr", listener.Addr().String()))

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server stopped unexpectedly")
	}
	return nil
}

// Stop terminates every session and stops the HTTP server.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("shutdown incomplete", zap.Error(err))
		}
	}
	s.handler.Registry().CloseAll()
	s.wg.Wait()
	s.log.Info("WebSocket server stopped")
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !isUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, Banner)
		return
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("failed to accept WebSocket connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	// The request context ends when this handler returns, so sessions
	// hang off the server context instead.
	s.handler.Serve(s.ctx, NewConnWithReader(conn, rw.Reader, r.RemoteAddr))
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
