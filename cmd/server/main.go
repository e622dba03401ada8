package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/config"
	"github.com/omochice/toy-socket-echo/internal/logging"
	"github.com/omochice/toy-socket-echo/internal/observability"
	"github.com/omochice/toy-socket-echo/internal/session"
	"github.com/omochice/toy-socket-echo/internal/transport/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "WebSocket echo server with heartbeats",
		Long: `Accepts WebSocket connections on / and answers every message with
"Server received: <message>". Each connection gets a heartbeat frame
every interval. Plain HTTP requests on / get a short banner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			for _, name := range []string{"port", "heartbeat-interval", "write-timeout", "queue-size", "metrics", "trace", "log-level"} {
				if err := v.BindPFlag(flagKey(name), cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}

			cfg, err := config.LoadServer(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	cmd.Flags().Int("port", 8080, "Port to listen on (env PORT)")
	cmd.Flags().Duration("heartbeat-interval", session.DefaultHeartbeatInterval, "Interval between heartbeat frames")
	cmd.Flags().Duration("write-timeout", session.DefaultWriteTimeout, "Timeout for a single frame write")
	cmd.Flags().Int("queue-size", session.DefaultQueueSize, "Outgoing frames buffered per session")
	cmd.Flags().Bool("metrics", true, "Serve Prometheus metrics on /metrics")
	cmd.Flags().Bool("trace", false, "Write one OpenTelemetry span per session to stderr")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error, off)")

	return cmd
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func run(ctx context.Context, cfg config.Server) error {
	log, err := logging.New(logging.ProfileRuntime, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting", zap.Stringer("config", cfg))

	if cfg.Trace {
		shutdown, err := observability.InstallTracing(os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Warn("failed to flush spans", zap.Error(err))
			}
		}()
	}

	var metrics *observability.Metrics
	if cfg.Metrics {
		metrics = observability.NewMetrics()
	}

	handler := session.NewHandler(session.NewRegistry(),
		session.WithHeartbeatInterval(cfg.HeartbeatInterval),
		session.WithWriteTimeout(cfg.WriteTimeout),
		session.WithQueueSize(cfg.QueueSize),
		session.WithLogger(log.Named("session")),
		session.WithMetrics(metrics),
	)
	srv := ws.New(cfg.Address(), handler, ws.WithLogger(log))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		srv.Stop()
		return <-errCh
	}
}
