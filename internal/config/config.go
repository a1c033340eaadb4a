package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/homecare/internal/backoff"
)

// Config represents the global ~/.homecare/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Realtime       Realtime `toml:"realtime"`
	Sync           Sync     `toml:"sync"`
}

// Realtime configures the socket connection.
type Realtime struct {
	Endpoint          string         `toml:"endpoint"`
	ConnectTimeout    time.Duration  `toml:"connect_timeout"`
	HeartbeatInterval time.Duration  `toml:"heartbeat_interval"`
	StaleAfter        time.Duration  `toml:"stale_after"`
	WriteTimeout      time.Duration  `toml:"write_timeout"`
	SendRate          float64        `toml:"send_rate"` // envelopes per second
	SendBurst         int            `toml:"send_burst"`
	DedupeCapacity    int            `toml:"dedupe_capacity"`
	Backoff           backoff.Policy `toml:"backoff"`
}

// Sync configures the conversation store.
type Sync struct {
	ThrottleWindow time.Duration `toml:"throttle_window"`
	// SelfID overrides the user id otherwise read from the credential.
	SelfID string `toml:"self_id"`
}

// Default returns the configuration used for any field left unset.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Realtime: Realtime{
			Endpoint:          "ws://localhost:5000/ws",
			ConnectTimeout:    10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			StaleAfter:        45 * time.Second,
			WriteTimeout:      5 * time.Second,
			SendRate:          20,
			SendBurst:         40,
			DedupeCapacity:    1000,
			Backoff:           backoff.Default(),
		},
		Sync: Sync{
			ThrottleWindow: 5 * time.Second,
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the environment value.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Load reads config from the given path on top of Default. Returns an error if
// the file is missing, malformed or invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if _, err := toml.Decode(expandEnvVars(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the realtime and sync settings for usable values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Realtime.Endpoint)
	if err != nil {
		return fmt.Errorf("realtime.endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("realtime.endpoint: unsupported scheme %q", u.Scheme)
	}
	if c.Realtime.ConnectTimeout <= 0 {
		return fmt.Errorf("realtime.connect_timeout must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive")
	}
	if c.Realtime.StaleAfter != 0 && c.Realtime.StaleAfter < c.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime.stale_after must be at least heartbeat_interval")
	}
	if c.Realtime.SendRate < 0 || c.Realtime.SendBurst < 0 {
		return fmt.Errorf("realtime.send_rate and send_burst must not be negative")
	}
	b := c.Realtime.Backoff
	if b.Base <= 0 || b.Cap < b.Base {
		return fmt.Errorf("realtime.backoff: need 0 < base <= cap")
	}
	if b.Factor < 1 {
		return fmt.Errorf("realtime.backoff.factor must be >= 1")
	}
	if b.MaxAttempts < 0 {
		return fmt.Errorf("realtime.backoff.max_attempts must not be negative")
	}
	if c.Sync.ThrottleWindow < 0 {
		return fmt.Errorf("sync.throttle_window must not be negative")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
