// Package observability holds the Prometheus collectors of the echo server.
package observability

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

const namespace = "echo"

// Close reasons used as label values.
const (
	ReasonClosed     = "closed"
	ReasonReadError  = "read_error"
	ReasonWriteError = "write_error"
	ReasonShutdown   = "shutdown"
)

// Metrics groups the server collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionsClosed *prometheus.CounterVec
	heartbeatsSent prometheus.Counter
	messagesIn     prometheus.Counter
	echoesSent     prometheus.Counter
	droppedFrames  prometheus.Counter
	cpuUsage       prometheus.Gauge
	ramUsage       prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live WebSocket sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of accepted sessions",
		}),
		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of terminated sessions by reason",
		}, []string{"reason"}),
		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Total number of heartbeat frames written",
		}),
		messagesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of application messages received",
		}),
		echoesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_sent_total",
			Help:      "Total number of echo replies written",
		}),
		droppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a session queue was full",
		}),
		cpuUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_usage_percent",
			Help:      "CPU usage percentage of the server process",
		}),
		ramUsage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_ram_usage_mb",
			Help:      "Resident memory of the server process in MB",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionOpened counts an accepted session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

// SessionClosed counts a terminated session under reason.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

// HeartbeatSent counts a written heartbeat frame.
func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

// MessageReceived counts an inbound application message.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.messagesIn.Inc()
}

// EchoSent counts a written echo reply.
func (m *Metrics) EchoSent() {
	if m == nil {
		return
	}
	m.echoesSent.Inc()
}

// FrameDropped counts a frame lost to a full queue.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}

// WatchProcess samples CPU and RSS of the current process until ctx is done.
func (m *Metrics) WatchProcess(ctx context.Context, every time.Duration, log *zap.Logger) {
	if m == nil {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process metrics unavailable", zap.Error(err))
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cpu, err := proc.CPUPercent(); err == nil {
				m.cpuUsage.Set(cpu)
			}
			if mem, err := proc.MemoryInfo(); err == nil {
				m.ramUsage.Set(float64(mem.RSS) / 1024 / 1024)
			}
		}
	}
}
