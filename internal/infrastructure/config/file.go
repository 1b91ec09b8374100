package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config with optional fields so only keys present in
// the file override the environment.
type fileConfig struct {
	Presence struct {
		APIURL            *string  `yaml:"api_url" toml:"api_url"`
		HeartbeatInterval *string  `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
		RequestTimeout    *string  `yaml:"request_timeout" toml:"request_timeout"`
		RateLimitRPS      *float64 `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
		ProfileDir        *string  `yaml:"profile_dir" toml:"profile_dir"`
		Store             *string  `yaml:"store" toml:"store"`
		BroadcastPoll     *string  `yaml:"broadcast_poll" toml:"broadcast_poll"`
	} `yaml:"presence" toml:"presence"`
	Stream struct {
		URL                  *string `yaml:"url" toml:"url"`
		AutoReconnect        *bool   `yaml:"auto_reconnect" toml:"auto_reconnect"`
		ReconnectDelay       *string `yaml:"reconnect_delay" toml:"reconnect_delay"`
		MaxReconnectAttempts *int    `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
		HandshakeTimeout     *string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	} `yaml:"stream" toml:"stream"`
	Logging struct {
		Level       *string `yaml:"level" toml:"level"`
		Development *bool   `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`
}

// LoadFile loads environment configuration and overlays the YAML or TOML
// file at path. Keys present in the file take precedence.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	p := fc.Presence
	setString(&cfg.Presence.APIURL, p.APIURL)
	setString(&cfg.Presence.ProfileDir, p.ProfileDir)
	setString(&cfg.Presence.Store, p.Store)
	if p.RateLimitRPS != nil {
		cfg.Presence.RateLimitRPS = *p.RateLimitRPS
	}

	s := fc.Stream
	setString(&cfg.Stream.URL, s.URL)
	if s.AutoReconnect != nil {
		cfg.Stream.AutoReconnect = *s.AutoReconnect
	}
	if s.MaxReconnectAttempts != nil {
		cfg.Stream.MaxReconnectAttempts = *s.MaxReconnectAttempts
	}

	setString(&cfg.Logging.Level, fc.Logging.Level)
	if fc.Logging.Development != nil {
		cfg.Logging.Development = *fc.Logging.Development
	}

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"presence.heartbeat_interval", &cfg.Presence.HeartbeatInterval, p.HeartbeatInterval},
		{"presence.request_timeout", &cfg.Presence.RequestTimeout, p.RequestTimeout},
		{"presence.broadcast_poll", &cfg.Presence.BroadcastPoll, p.BroadcastPoll},
		{"stream.reconnect_delay", &cfg.Stream.ReconnectDelay, s.ReconnectDelay},
		{"stream.handshake_timeout", &cfg.Stream.HandshakeTimeout, s.HandshakeTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
