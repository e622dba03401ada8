package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/toy-socket-echo/internal/client"
	"github.com/omochice/toy-socket-echo/internal/client/ws"
	"github.com/omochice/toy-socket-echo/internal/config"
	"github.com/omochice/toy-socket-echo/internal/logging"
)

var clientFlags = []string{
	"server-url",
	"initial-delay",
	"max-delay",
	"max-attempts",
	"dial-timeout",
	"write-timeout",
	"probe-interval",
	"idle-timeout",
	"assume-online",
	"log-level",
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interactive client for the WebSocket echo server",
		Long: `Connects to the echo server and keeps the connection alive,
reconnecting with exponential backoff when it drops. Every line read
from stdin is sent as one message; replies are printed as they arrive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			for _, name := range clientFlags {
				if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}

			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	backoff := client.DefaultBackoff()
	cmd.Flags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	cmd.Flags().String("server-url", "ws://localhost:8080", "Server URL (env SERVER_URL)")
	cmd.Flags().Duration("initial-delay", backoff.InitialDelay, "First reconnect delay")
	cmd.Flags().Duration("max-delay", backoff.MaxDelay, "Upper bound of the reconnect delay")
	cmd.Flags().Int("max-attempts", backoff.MaxAttempts, "Reconnect attempts before waiting for the network")
	cmd.Flags().Duration("dial-timeout", client.DefaultDialTimeout, "Timeout of a single connection attempt")
	cmd.Flags().Duration("write-timeout", client.DefaultWriteTimeout, "Timeout of a single send")
	cmd.Flags().Duration("probe-interval", 5*time.Second, "Interval of the network reachability probe")
	cmd.Flags().Duration("idle-timeout", 75*time.Second, "Drop a connection silent for this long, 0 disables")
	cmd.Flags().Bool("assume-online", false, "Skip the reachability probe")
	cmd.Flags().String("log-level", "warn", "Log level (debug, info, warn, error, off)")

	return cmd
}

func run(ctx context.Context, cfg config.Client, in io.Reader, out io.Writer) error {
	log, err := logging.New(logging.ProfileRuntime, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Debug("starting", zap.Stringer("config", cfg))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reach client.Reachability
	var prober *client.Prober
	if cfg.AssumeOnline {
		reach = client.NewStaticReachability(true)
	} else {
		prober, err = client.NewProber(cfg.ServerURL, cfg.ProbeInterval, client.WithProberLogger(log.Named("probe")))
		if err != nil {
			return err
		}
		prober.Probe(ctx)
		reach = prober
	}

	dialer := ws.NewDialer(cfg.ServerURL)
	manager := client.NewManager(
		client.BackoffConfig{
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			MaxAttempts:  cfg.MaxAttempts,
		},
		dialer,
		reach,
		newTerminalSink(out),
		client.WithLogger(log.Named("manager")),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithWriteTimeout(cfg.WriteTimeout),
		client.WithIdleTimeout(cfg.IdleTimeout),
	)

	go func() {
		_ = manager.Run(ctx)
	}()
	if prober != nil {
		go prober.Run(ctx, manager.SetReachable)
	}

	fmt.Fprintf(out, "Connecting to %s (Ctrl-D to quit)\n", dialer.URL())
	manager.Start()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-manager.Done()
			return nil
		case line, ok := <-lines:
			if !ok {
				stop()
				<-manager.Done()
				return nil
			}
			manager.Send(line)
		}
	}
}
