// Package config loads the bus configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Logging LoggingConfig  `yaml:"logging"`
	Channel ChannelConfig  `yaml:"channel"`
	Sources []SourceConfig `yaml:"sources"`
	GRPC    GRPCConfig     `yaml:"grpc"`
	WS      WSConfig       `yaml:"websocket"`
	TCP     TCPConfig      `yaml:"tcp"`
	HTTP    HTTPConfig     `yaml:"http"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// ChannelConfig sizes the fan-out rings.
type ChannelConfig struct {
	// MaxMessages is the ring capacity; rounded up to a power of two.
	MaxMessages int `yaml:"max_messages"`
	// MaxBytes is the payload byte budget per ring.
	MaxBytes int `yaml:"max_bytes"`
	// Confirmed / Finalized enable the commitment re-publication rings.
	Confirmed bool `yaml:"confirmed"`
	Finalized bool `yaml:"finalized"`
}

// SourceConfig describes one upstream feed. With more than one source the
// bus runs in multi-feed mode and deduplicates across them.
type SourceConfig struct {
	// Transport is "websocket" or "tcp".
	Transport string `yaml:"transport"`
	Endpoint  string `yaml:"endpoint"`
	// ReconnectIntervalSec is the delay between reconnect attempts.
	ReconnectIntervalSec int `yaml:"reconnect_interval_sec"`
	// MaxFrameSize bounds a single upstream frame; 0 means the default.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// ReconnectInterval returns the configured backoff, defaulting to 1s.
func (s SourceConfig) ReconnectInterval() time.Duration {
	if s.ReconnectIntervalSec <= 0 {
		return time.Second
	}
	return time.Duration(s.ReconnectIntervalSec) * time.Second
}

type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// PingIntervalSec is the idle keepalive cadence on subscriber streams.
	PingIntervalSec int `yaml:"ping_interval_sec"`
}

type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// SendQueue is the per-connection outbound buffer; overflow lags the
	// subscriber out.
	SendQueue       int      `yaml:"send_queue"`
	PingIntervalSec int      `yaml:"ping_interval_sec"`
	MaxConnsPerIP   int      `yaml:"max_conns_per_ip"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type TCPConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	MaxConnsPerIP int    `yaml:"max_conns_per_ip"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Channel: ChannelConfig{
			MaxMessages: 2_097_152,
			MaxBytes:    16 * 1024 * 1024 * 1024,
			Confirmed:   true,
			Finalized:   true,
		},
		GRPC: GRPCConfig{Enabled: true, Addr: ":10000", PingIntervalSec: 15},
		WS:   WSConfig{Addr: ":10001", SendQueue: 16_384, PingIntervalSec: 15},
		TCP:  TCPConfig{Addr: ":10002"},
		HTTP: HTTPConfig{Enabled: true, Addr: ":10123"},
	}
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path yields the defaults with overrides
// applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Logging.Level = getEnv("BUS_LOG_LEVEL", c.Logging.Level)
	c.Logging.JSON = getEnvBool("BUS_LOG_JSON", c.Logging.JSON)

	if v := getEnvInt("BUS_CHANNEL_MAX_MESSAGES", 0); v > 0 {
		c.Channel.MaxMessages = v
	}
	if v := getEnvInt("BUS_CHANNEL_MAX_BYTES", 0); v > 0 {
		c.Channel.MaxBytes = v
	}
	c.Channel.Confirmed = getEnvBool("BUS_CHANNEL_CONFIRMED", c.Channel.Confirmed)
	c.Channel.Finalized = getEnvBool("BUS_CHANNEL_FINALIZED", c.Channel.Finalized)

	c.GRPC.Addr = getEnv("BUS_GRPC_ADDR", c.GRPC.Addr)
	c.WS.Addr = getEnv("BUS_WS_ADDR", c.WS.Addr)
	c.TCP.Addr = getEnv("BUS_TCP_ADDR", c.TCP.Addr)
	c.HTTP.Addr = getEnv("BUS_HTTP_ADDR", c.HTTP.Addr)

	if origins := getEnv("BUS_WS_ALLOWED_ORIGINS", ""); origins != "" {
		c.WS.AllowedOrigins = splitCSV(origins)
	}
}

func (c *Config) Validate() error {
	if c.Channel.MaxMessages <= 0 {
		return fmt.Errorf("config: channel.max_messages must be positive")
	}
	if c.Channel.MaxBytes <= 0 {
		return fmt.Errorf("config: channel.max_bytes must be positive")
	}
	for i, src := range c.Sources {
		switch src.Transport {
		case "websocket", "tcp":
		default:
			return fmt.Errorf("config: sources[%d].transport %q is not websocket or tcp", i, src.Transport)
		}
		if src.Endpoint == "" {
			return fmt.Errorf("config: sources[%d].endpoint is empty", i)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is unknown", c.Logging.Level)
	}
	return nil
}

// MultiFeed reports whether the bus deduplicates across redundant feeds.
func (c *Config) MultiFeed() bool { return len(c.Sources) > 1 }

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
