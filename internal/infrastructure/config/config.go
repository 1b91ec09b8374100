package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/shared/paths"
)

// Config holds all presence client configuration.
type Config struct {
	Presence PresenceConfig
	Stream   StreamConfig
	Auth     AuthConfig
	Logging  LogConfig
	Sandbox  SandboxConfig
}

// PresenceConfig holds session heartbeat configuration.
type PresenceConfig struct {
	APIURL            string        `envconfig:"PRESENCE_API_URL" default:"http://localhost:8000"`
	HeartbeatInterval time.Duration `envconfig:"PRESENCE_HEARTBEAT_INTERVAL" default:"30s"`
	RequestTimeout    time.Duration `envconfig:"PRESENCE_REQUEST_TIMEOUT" default:"10s"`
	RateLimitRPS      float64       `envconfig:"PRESENCE_RATE_LIMIT_RPS" default:"0"`
	ProfileDir        string        `envconfig:"PRESENCE_PROFILE_DIR"`
	Store             string        `envconfig:"PRESENCE_STORE" default:"file"`
	BroadcastPoll     time.Duration `envconfig:"PRESENCE_BROADCAST_POLL" default:"250ms"`
}

// Durable store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// StreamConfig holds message stream configuration.
type StreamConfig struct {
	URL                  string        `envconfig:"STREAM_URL" default:"ws://localhost:8000/ws"`
	AutoReconnect        bool          `envconfig:"STREAM_AUTO_RECONNECT" default:"true"`
	ReconnectDelay       time.Duration `envconfig:"STREAM_RECONNECT_DELAY" default:"3s"`
	MaxReconnectAttempts int           `envconfig:"STREAM_MAX_RECONNECT_ATTEMPTS" default:"5"`
	HandshakeTimeout     time.Duration `envconfig:"STREAM_HANDSHAKE_TIMEOUT" default:"10s"`
}

// AuthConfig holds the access token handed over by the login flow.
type AuthConfig struct {
	AccessToken string `envconfig:"ACCESS_TOKEN"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// SandboxConfig holds configuration for the local stand-in server.
type SandboxConfig struct {
	Port       string        `envconfig:"SANDBOX_PORT" default:"8000"`
	Host       string        `envconfig:"SANDBOX_HOST" default:"127.0.0.1"`
	SessionTTL time.Duration `envconfig:"SANDBOX_SESSION_TTL" default:"90s"`

	// RateLimitRPS caps requests per client; 0 disables limiting.
	RateLimitRPS   int `envconfig:"SANDBOX_RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int `envconfig:"SANDBOX_RATE_LIMIT_BURST" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.applyDerived()
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

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Presence: PresenceConfig{
			APIURL:            "http://localhost:8000",
			HeartbeatInterval: 30 * time.Second,
			RequestTimeout:    10 * time.Second,
			Store:             StoreFile,
			BroadcastPoll:     250 * time.Millisecond,
		},
		Stream: StreamConfig{
			URL:                  "ws://localhost:8000/ws",
			AutoReconnect:        true,
			ReconnectDelay:       3 * time.Second,
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Sandbox: SandboxConfig{
			Port:       "8000",
			Host:       "127.0.0.1",
			SessionTTL: 90 * time.Second,
		},
	}
	cfg.applyDerived()
	return cfg
}

// Validate rejects settings the managers cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Presence.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.Presence.APIURL == "" {
		errs = append(errs, errors.New("presence api url is required"))
	}
	if c.Presence.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limit cannot be negative"))
	}
	if c.Presence.Store != StoreFile && c.Presence.Store != StoreSQLite {
		errs = append(errs, fmt.Errorf("unknown store %q (want %q or %q)", c.Presence.Store, StoreFile, StoreSQLite))
	}
	if c.Stream.URL == "" {
		errs = append(errs, errors.New("stream url is required"))
	}
	if c.Stream.ReconnectDelay < 0 {
		errs = append(errs, errors.New("reconnect delay cannot be negative"))
	}
	if c.Sandbox.RateLimitRPS < 0 || c.Sandbox.RateLimitBurst < 0 {
		errs = append(errs, errors.New("sandbox rate limit cannot be negative"))
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max reconnect attempts cannot be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyDerived() {
	if c.Presence.ProfileDir == "" {
		c.Presence.ProfileDir = paths.DefaultProfileDir()
	}
}
