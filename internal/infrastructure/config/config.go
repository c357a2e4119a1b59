package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Relay     RelayConfig
	Client    ClientConfig
	Bridge    BridgeConfig
	Executor  ExecutorConfig
	Watcher   WatcherConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// RelayConfig holds relay server configuration.
//
// BasePort is the port conventionally used by the build tooling's dev
// server; the relay listens on BasePort+PortOffset. PORT is the single
// variable handed to spawned processes so they can derive the relay port.
type RelayConfig struct {
	BasePort        int           `envconfig:"PORT" default:"3000"`
	PortOffset      int           `envconfig:"RELAY_PORT_OFFSET" default:"1"`
	Host            string        `envconfig:"HOST" default:"127.0.0.1"`
	PingInterval    time.Duration `envconfig:"RELAY_PING_INTERVAL" default:"10s"`
	Rooms           []string      `envconfig:"RELAY_ROOMS" default:"sandbox,harness,build-watcher,observer"`
	MaxMessageBytes int64         `envconfig:"RELAY_MAX_MESSAGE_BYTES" default:"4194304"`
	SendQueue       int           `envconfig:"RELAY_SEND_QUEUE" default:"256"`
}

// Port returns the port the relay listens on.
func (r RelayConfig) Port() int {
	return r.BasePort + r.PortOffset
}

// Addr returns the relay listen address.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port())
}

// URL returns the relay WebSocket endpoint.
func (r RelayConfig) URL() string {
	return fmt.Sprintf("ws://%s/relay", r.Addr())
}

// HTTPURL returns the base URL of the relay's HTTP surface.
func (r RelayConfig) HTTPURL() string {
	return fmt.Sprintf("http://%s", r.Addr())
}

// ClientConfig holds relay client reconnect and emit settings.
type ClientConfig struct {
	BaseDelay        time.Duration `envconfig:"CLIENT_BASE_DELAY" default:"1s"`
	MaxDelay         time.Duration `envconfig:"CLIENT_MAX_DELAY" default:"30s"`
	EmitAttempts     int           `envconfig:"CLIENT_EMIT_ATTEMPTS" default:"10"`
	EmitPollInterval time.Duration `envconfig:"CLIENT_EMIT_POLL" default:"200ms"`
}

// BridgeConfig holds correlation bridge settings.
type BridgeConfig struct {
	Timeout      time.Duration `envconfig:"BRIDGE_TIMEOUT" default:"30s"`
	TargetRoom   string        `envconfig:"BRIDGE_TARGET_ROOM" default:"sandbox"`
	ReadyTimeout time.Duration `envconfig:"BRIDGE_READY_TIMEOUT" default:"30s"`
}

// ExecutorConfig holds remote executor settings.
type ExecutorConfig struct {
	PoolSize int           `envconfig:"EXECUTOR_POOL_SIZE" default:"4"`
	Timeout  time.Duration `envconfig:"EXECUTOR_TIMEOUT" default:"30s"`
}

// WatcherConfig holds build watcher settings.
type WatcherConfig struct {
	Dir      string        `envconfig:"WATCH_DIR" default:"dist"`
	Patterns []string      `envconfig:"WATCH_PATTERNS" default:"**/*.js,**/*.html,manifest.json"`
	Debounce time.Duration `envconfig:"WATCH_DEBOUNCE" default:"100ms"`
	Enabled  bool          `envconfig:"WATCH_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds handshake rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port.
	if c.Relay.Port() < 0 || c.Relay.Port() > 65535 {
		return fmt.Errorf("relay port %d out of range", c.Relay.Port())
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay ping interval must be positive")
	}
	if len(c.Relay.Rooms) == 0 {
		return fmt.Errorf("relay needs at least one room")
	}
	if c.Client.BaseDelay <= 0 || c.Client.MaxDelay < c.Client.BaseDelay {
		return fmt.Errorf("client backoff %s..%s is invalid", c.Client.BaseDelay, c.Client.MaxDelay)
	}
	if c.Client.EmitAttempts <= 0 {
		return fmt.Errorf("client emit attempts must be positive")
	}
	if c.Bridge.Timeout <= 0 {
		return fmt.Errorf("bridge timeout must be positive")
	}
	if c.Executor.PoolSize <= 0 {
		return fmt.Errorf("executor pool size must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			BasePort:        3000,
			PortOffset:      1,
			Host:            "127.0.0.1",
			PingInterval:    10 * time.Second,
			Rooms:           []string{"sandbox", "harness", "build-watcher", "observer"},
			MaxMessageBytes: 4 << 20,
			SendQueue:       256,
		},
		Client: ClientConfig{
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			EmitAttempts:     10,
			EmitPollInterval: 200 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			Timeout:      30 * time.Second,
			TargetRoom:   "sandbox",
			ReadyTimeout: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			PoolSize: 4,
			Timeout:  30 * time.Second,
		},
		Watcher: WatcherConfig{
			Dir:      "dist",
			Patterns: []string{"**/*.js", "**/*.html", "manifest.json"},
			Debounce: 100 * time.Millisecond,
			Enabled:  true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
