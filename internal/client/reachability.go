package client

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/logging"
)

// Reachability reports whether the host believes it is online.
type Reachability interface {
	Online() bool
}

// StaticReachability is a flag set by its owner.
type StaticReachability struct {
	online atomic.Bool
}

// NewStaticReachability returns a StaticReachability set to online.
func NewStaticReachability(online bool) *StaticReachability {
	r := &StaticReachability{}
	r.online.Store(online)
	return r
}

// Online returns the flag.
func (r *StaticReachability) Online() bool {
	return r.online.Load()
}

// Set updates the flag.
func (r *StaticReachability) Set(online bool) {
	r.online.Store(online)
}

// CheckFunc decides whether the network is reachable.
type CheckFunc func(ctx context.Context) bool

// Prober periodically runs a check and reports transitions.
type Prober struct {
	check    CheckFunc
	interval time.Duration
	log      *zap.Logger
	online   atomic.Bool
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProberLogger sets the logger reachability changes are reported to.
func WithProberLogger(l *zap.Logger) ProberOption {
	return func(p *Prober) {
		p.log = logging.OrNop(l)
	}
}

// WithCheck replaces the TCP dial with check.
func WithCheck(check CheckFunc) ProberOption {
	return func(p *Prober) {
		if check != nil {
			p.check = check
		}
	}
}

// NewProber probes serverURL's host with a TCP dial every interval.
// The prober starts out online.
func NewProber(serverURL string, interval time.Duration, opts ...ProberOption) (*Prober, error) {
	addr, err := hostPort(serverURL)
	if err != nil {
		return nil, err
	}
	p := &Prober{
		check:    TCPCheck(addr, interval),
		interval: interval,
		log:      zap.NewNop(),
	}
	p.online.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Online returns the result of the last probe.
func (p *Prober) Online() bool {
	return p.online.Load()
}

// Probe runs the check once and reports whether the result changed.
func (p *Prober) Probe(ctx context.Context) (online, changed bool) {
	online = p.check(ctx)
	changed = p.online.Swap(online) != online
	return online, changed
}

// Run probes until ctx ends, calling onChange on every transition.
func (p *Prober) Run(ctx context.Context, onChange func(online bool)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online, changed := p.Probe(ctx)
			if !changed {
				continue
			}
			p.log.Info("reachability changed", zap.Bool("online", online))
			onChange(online)
		}
	}
}

// TCPCheck reports whether a TCP connection to addr can be opened.
// A refused connection still proves the network path works.
func TCPCheck(addr string, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return true
		}
		return errors.Is(err, syscall.ECONNREFUSED)
	}
}

func hostPort(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid server url %q", serverURL)
	}
	if u.Host == "" {
		return "", errors.Errorf("server url %q has no host", serverURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "wss" || u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
