package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReceiveInitial is the initial receive queue capacity (4 MiB).
	DefaultReceiveInitial = 4 * 1024 * 1024
	// DefaultReceiveMax is the receive queue growth ceiling (40 MiB).
	DefaultReceiveMax = 40 * 1024 * 1024
	// DefaultSendCapacity is the fixed send buffer capacity (10 KiB).
	DefaultSendCapacity = 10 * 1024
)

// Config represents the complete configuration
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Session SessionConfig `yaml:"session"`
	Dial    DialConfig    `yaml:"dial"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Capture CaptureConfig `yaml:"capture"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "text"
}

// SessionConfig sizes the transport session buffers
type SessionConfig struct {
	ReceiveInitialBytes int `yaml:"receive_initial_bytes"` // Initial receive queue capacity
	ReceiveMaxBytes     int `yaml:"receive_max_bytes"`     // Receive queue ceiling; exceeding it is fatal to the session
	SendBytes           int `yaml:"send_bytes"`            // Fixed send buffer capacity
}

// DialConfig contains websocket client settings
type DialConfig struct {
	HandshakeTimeoutSecs int      `yaml:"handshake_timeout_secs"` // WebSocket opening handshake timeout (default: 10)
	Subprotocols         []string `yaml:"subprotocols"`           // Offered Sec-WebSocket-Protocol values
	ReadLimitBytes       int64    `yaml:"read_limit_bytes"`       // Max inbound frame size (0 = receive ceiling)
	RetryAttempts        int      `yaml:"retry_attempts"`         // Dial retries after the first attempt
	RetryBaseDelayMs     int      `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs      int      `yaml:"retry_max_delay_ms"`
}

// HandshakeTimeout returns the handshake timeout as a duration
func (d DialConfig) HandshakeTimeout() time.Duration {
	return time.Duration(d.HandshakeTimeoutSecs) * time.Second
}

// ProxyConfig contains websocket relay settings
type ProxyConfig struct {
	ListenAddr      string            `yaml:"listen_addr"`      // e.g. ":8080"
	WSRoute         string            `yaml:"ws_route"`         // Relay route (default: /cloud_vnc)
	IDQueryName     string            `yaml:"id_query_name"`    // Query parameter carrying the VNC id
	BackendTemplate string            `yaml:"backend_template"` // e.g. "ws://{id}:6080/websockify"
	Backends        map[string]string `yaml:"backends"`         // Static id -> backend URL, checked before the template
	MetricsRoute    string            `yaml:"metrics_route"`    // Empty disables /metrics

	// Rate limiting of upgrade requests per client IP
	RateLimitPerMinute int  `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int  `yaml:"rate_limit_burst"`
	TrustProxy         bool `yaml:"trust_proxy"` // Honour X-Forwarded-For / X-Real-IP

	BackendHandshakeTimeoutSecs int `yaml:"backend_handshake_timeout_secs"`
}

// CaptureConfig enables protocol frame capture
type CaptureConfig struct {
	Path string `yaml:"path"` // CBOR capture file; empty disables capture
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Session: SessionConfig{
			ReceiveInitialBytes: DefaultReceiveInitial,
			ReceiveMaxBytes:     DefaultReceiveMax,
			SendBytes:           DefaultSendCapacity,
		},
		Dial: DialConfig{
			HandshakeTimeoutSecs: 10,
			Subprotocols:         []string{"binary"},
			RetryAttempts:        2,
			RetryBaseDelayMs:     250,
			RetryMaxDelayMs:      5000,
		},
		Proxy: ProxyConfig{
			ListenAddr:                  ":8080",
			WSRoute:                     "/cloud_vnc",
			IDQueryName:                 "vnc_id",
			MetricsRoute:                "/metrics",
			Backends:                    map[string]string{},
			RateLimitPerMinute:          120,
			RateLimitBurst:              20,
			BackendHandshakeTimeoutSecs: 10,
		},
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Capture.Path = ExpandPath(cfg.Capture.Path)
	if cfg.Proxy.Backends == nil {
		cfg.Proxy.Backends = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = ExpandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	// Session buffers
	s := c.Session
	if s.ReceiveInitialBytes < 1 {
		return fmt.Errorf("receive_initial_bytes must be positive, got %d", s.ReceiveInitialBytes)
	}
	if s.ReceiveMaxBytes < s.ReceiveInitialBytes {
		return fmt.Errorf("receive_max_bytes (%d) must be at least receive_initial_bytes (%d)",
			s.ReceiveMaxBytes, s.ReceiveInitialBytes)
	}
	if s.SendBytes < 1 {
		return fmt.Errorf("send_bytes must be positive, got %d", s.SendBytes)
	}

	// Dialing
	if c.Dial.HandshakeTimeoutSecs < 1 {
		return fmt.Errorf("handshake_timeout_secs must be at least 1")
	}
	if c.Dial.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative")
	}
	if c.Dial.ReadLimitBytes < 0 {
		return fmt.Errorf("read_limit_bytes must not be negative")
	}

	// Proxy
	p := c.Proxy
	if !strings.HasPrefix(p.WSRoute, "/") {
		return fmt.Errorf("ws_route must start with '/', got %q", p.WSRoute)
	}
	if p.MetricsRoute != "" && !strings.HasPrefix(p.MetricsRoute, "/") {
		return fmt.Errorf("metrics_route must start with '/', got %q", p.MetricsRoute)
	}
	if p.IDQueryName == "" {
		return fmt.Errorf("id_query_name is required")
	}
	if p.RateLimitPerMinute < 0 || p.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if p.BackendTemplate != "" {
		if err := validateWSURL("backend_template", p.BackendTemplate); err != nil {
			return err
		}
	}
	for id, backend := range p.Backends {
		if err := validateWSURL("backend "+id, backend); err != nil {
			return err
		}
	}

	return nil
}

// validateWSURL checks that a backend is a ws:// or wss:// URL.
func validateWSURL(name, u string) error {
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return fmt.Errorf("%s must be a ws:// or wss:// URL, got %q", name, u)
	}
	return nil
}

// ExpandPath expands a leading ~/ to the home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".novnc4svc", "config.yaml")
}
