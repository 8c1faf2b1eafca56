// Package config reads and writes the global ~/.rtlink/config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/rtlink/internal/link"
	"github.com/matheus3301/rtlink/internal/transport"
	"go.uber.org/zap/zapcore"
)

// DefaultTokenEnv is the environment variable read for the bearer token
// when link.token_env is not set.
const DefaultTokenEnv = "RTLINK_TOKEN"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the global ~/.rtlink/config.toml.
type Config struct {
	DefaultProfile string        `toml:"default_profile"`
	Link           LinkConfig    `toml:"link"`
	Metrics        MetricsConfig `toml:"metrics"`
	Log            LogConfig     `toml:"log"`
}

// LinkConfig holds the connection settings.
type LinkConfig struct {
	URL      string `toml:"url"`
	Token    string `toml:"token,omitempty"`
	TokenEnv string `toml:"token_env"`
	UserID   string `toml:"user_id"`
	Driver   string `toml:"driver"`

	ConnectTimeout Duration `toml:"connect_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	ReadLimit      int64    `toml:"read_limit"`

	HeartbeatInterval   Duration `toml:"heartbeat_interval"`
	MaxMissedHeartbeats int      `toml:"max_missed_heartbeats"`

	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`

	BatchInterval Duration `toml:"batch_interval"`
	BatchSize     int      `toml:"batch_size"`

	TypingTimeout Duration `toml:"typing_timeout"`
	TypingTTL     Duration `toml:"typing_ttl"`

	OfflineBufferLimit int      `toml:"offline_buffer_limit"`
	SpoolInterval      Duration `toml:"spool_interval"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			TokenEnv:            DefaultTokenEnv,
			Driver:              transport.DriverGorilla,
			ConnectTimeout:      Duration(5 * time.Second),
			WriteTimeout:        Duration(10 * time.Second),
			ReadLimit:           1 << 20,
			HeartbeatInterval:   Duration(30 * time.Second),
			MaxMissedHeartbeats: 2,
			ReconnectBaseDelay:  Duration(time.Second),
			ReconnectMaxDelay:   Duration(30 * time.Second),
			BatchInterval:       Duration(100 * time.Millisecond),
			BatchSize:           10,
			TypingTimeout:       Duration(3 * time.Second),
			TypingTTL:           Duration(5 * time.Second),
			OfflineBufferLimit:  1000,
			SpoolInterval:       Duration(2 * time.Second),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path. Keys missing from the file keep
// their Default values. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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

// Validate reports the first setting the daemon cannot run with.
func (c *Config) Validate() error {
	l := c.Link
	if l.URL == "" {
		return errors.New("link.url is required")
	}
	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("link.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("link.url: scheme %q, want ws or wss", u.Scheme)
	}
	if l.Driver != "" && !slices.Contains(transport.Drivers(), l.Driver) {
		return fmt.Errorf("link.driver: unknown driver %q (want one of %v)", l.Driver, transport.Drivers())
	}
	for name, v := range map[string]int64{
		"link.batch_size":             int64(l.BatchSize),
		"link.max_missed_heartbeats":  int64(l.MaxMissedHeartbeats),
		"link.max_reconnect_attempts": int64(l.MaxReconnectAttempts),
		"link.offline_buffer_limit":   int64(l.OfflineBufferLimit),
		"link.read_limit":             l.ReadLimit,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if l.ReconnectMaxDelay > 0 && l.ReconnectMaxDelay < l.ReconnectBaseDelay {
		return errors.New("link.reconnect_max_delay is shorter than link.reconnect_base_delay")
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}

// ResolveToken returns the configured token, falling back to the
// environment variable named by TokenEnv.
func (l LinkConfig) ResolveToken() string {
	if l.Token != "" {
		return l.Token
	}
	env := l.TokenEnv
	if env == "" {
		env = DefaultTokenEnv
	}
	return os.Getenv(env)
}

// LinkOptions converts the settings for link.New. Clock is left for the
// caller.
func (l LinkConfig) LinkOptions() link.Options {
	return link.Options{
		URL:                  l.URL,
		Token:                l.ResolveToken(),
		UserID:               l.UserID,
		ConnectTimeout:       time.Duration(l.ConnectTimeout),
		WriteTimeout:         time.Duration(l.WriteTimeout),
		HeartbeatInterval:    time.Duration(l.HeartbeatInterval),
		MaxMissedHeartbeats:  l.MaxMissedHeartbeats,
		ReconnectBaseDelay:   time.Duration(l.ReconnectBaseDelay),
		ReconnectMaxDelay:    time.Duration(l.ReconnectMaxDelay),
		MaxReconnectAttempts: l.MaxReconnectAttempts,
		BatchInterval:        time.Duration(l.BatchInterval),
		BatchSize:            l.BatchSize,
		TypingTimeout:        time.Duration(l.TypingTimeout),
		TypingTTL:            time.Duration(l.TypingTTL),
		OfflineBufferLimit:   l.OfflineBufferLimit,
	}
}

// TransportOptions converts the settings for transport.New.
func (l LinkConfig) TransportOptions() transport.Options {
	return transport.Options{
		HandshakeTimeout: time.Duration(l.ConnectTimeout),
		ReadLimit:        l.ReadLimit,
	}
}
