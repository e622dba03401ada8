// Package config loads server and client settings from an optional config
// file, a .env file, environment variables and bound command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	KeyPort              = "port"
	KeyHeartbeatInterval = "heartbeat_interval"
	KeyWriteTimeout      = "write_timeout"
	KeyQueueSize         = "queue_size"
	KeyMetrics           = "metrics"
	KeyLogLevel          = "log_level"
	KeyTrace             = "trace"

	KeyServerURL     = "server_url"
	KeyInitialDelay  = "initial_delay"
	KeyMaxDelay      = "max_delay"
	KeyMaxAttempts   = "max_attempts"
	KeyDialTimeout   = "dial_timeout"
	KeyProbeInterval = "probe_interval"
	KeyAssumeOnline  = "assume_online"
	KeyIdleTimeout   = "idle_timeout"
)

var ErrInvalidConfig = errors.New("config: invalid value")

// Server holds the echo server settings.
type Server struct {
	Port              int
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	QueueSize         int
	Metrics           bool
	Trace             bool
	LogLevel          string
}

// Address returns the listen address for Port.
func (c Server) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Server) String() string {
	return fmt.Sprintf(
		"[CONFIG: Port: %d | Heartbeat: %s | WriteTimeout: %s | QueueSize: %d | Metrics: %t | Trace: %t | LogLevel: %s]",
		c.Port,
		c.HeartbeatInterval,
		c.WriteTimeout,
		c.QueueSize,
		c.Metrics,
		c.Trace,
		c.LogLevel,
	)
}

// Client holds the connection manager settings.
type Client struct {
	ServerURL     string
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	ProbeInterval time.Duration
	IdleTimeout   time.Duration
	AssumeOnline  bool
	LogLevel      string
}

func (c Client) String() string {
	return fmt.Sprintf(
		"[CONFIG: ServerURL: %s | Backoff: %s..%s x%d | DialTimeout: %s | Probe: %s | Idle: %s | LogLevel: %s]",
		c.ServerURL,
		c.InitialDelay,
		c.MaxDelay,
		c.MaxAttempts,
		c.DialTimeout,
		c.ProbeInterval,
		c.IdleTimeout,
		c.LogLevel,
	)
}

// New returns a viper instance reading environment variables and, when
// configFile is set, that file. A missing .env file is not an error.
func New(configFile string) (*viper.Viper, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}
	return v, nil
}

// SetServerDefaults registers the server defaults on v.
func SetServerDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyHeartbeatInterval, 30*time.Second)
	v.SetDefault(KeyWriteTimeout, 10*time.Second)
	v.SetDefault(KeyQueueSize, 16)
	v.SetDefault(KeyMetrics, true)
	v.SetDefault(KeyTrace, false)
	v.SetDefault(KeyLogLevel, "info")
}

// SetClientDefaults registers the client defaults on v.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, "ws://localhost:8080")
	v.SetDefault(KeyInitialDelay, time.Second)
	v.SetDefault(KeyMaxDelay, 30*time.Second)
	v.SetDefault(KeyMaxAttempts, 5)
	v.SetDefault(KeyDialTimeout, 5*time.Second)
	v.SetDefault(KeyWriteTimeout, 10*time.Second)
	v.SetDefault(KeyProbeInterval, 5*time.Second)
	v.SetDefault(KeyIdleTimeout, 75*time.Second)
	v.SetDefault(KeyAssumeOnline, false)
	v.SetDefault(KeyLogLevel, "warn")
}

// LoadServer reads and validates the server settings.
func LoadServer(v *viper.Viper) (Server, error) {
	SetServerDefaults(v)
	cfg := Server{
		Port:              v.GetInt(KeyPort),
		HeartbeatInterval: v.GetDuration(KeyHeartbeatInterval),
		WriteTimeout:      v.GetDuration(KeyWriteTimeout),
		QueueSize:         v.GetInt(KeyQueueSize),
		Metrics:           v.GetBool(KeyMetrics),
		Trace:             v.GetBool(KeyTrace),
		LogLevel:          v.GetString(KeyLogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks ranges. Port 0 asks the OS for a free port.
func (c Server) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Wrapf(ErrInvalidConfig, "port %d out of range", c.Port)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "heartbeat_interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.WriteTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "write_timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.QueueSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "queue_size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// LoadClient reads and validates the client settings.
func LoadClient(v *viper.Viper) (Client, error) {
	SetClientDefaults(v)
	cfg := Client{
		ServerURL:     v.GetString(KeyServerURL),
		InitialDelay:  v.GetDuration(KeyInitialDelay),
		MaxDelay:      v.GetDuration(KeyMaxDelay),
		MaxAttempts:   v.GetInt(KeyMaxAttempts),
		DialTimeout:   v.GetDuration(KeyDialTimeout),
		WriteTimeout:  v.GetDuration(KeyWriteTimeout),
		ProbeInterval: v.GetDuration(KeyProbeInterval),
		IdleTimeout:   v.GetDuration(KeyIdleTimeout),
		AssumeOnline:  v.GetBool(KeyAssumeOnline),
		LogLevel:      v.GetString(KeyLogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Client) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return errors.Wrapf(ErrInvalidConfig, "server_url %q must use ws:// or wss://", c.ServerURL)
	}
	if c.InitialDelay <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "initial_delay must be positive, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return errors.Wrapf(ErrInvalidConfig, "max_delay %s is below initial_delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.MaxAttempts < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_attempts must not be negative, got %d", c.MaxAttempts)
	}
	if c.DialTimeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "dial_timeout must be positive, got %s", c.DialTimeout)
	}
	if c.ProbeInterval <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "probe_interval must be positive, got %s", c.ProbeInterval)
	}
	if c.IdleTimeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}
