package model

import (
	"fmt"
	"strings"
	"time"
)

// --- Configuration Structures ---

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8765
	DefaultMaxUploadBytes = 50 * 1024 * 1024
	DefaultRateLimit      = 60
	DefaultUploadTimeout  = 30 * time.Second
	DefaultSpoolerTimeout = 30 * time.Second
)

// BridgeConfig is the snapshot the bridge reads at startup and on reload.
type BridgeConfig struct {
	Host              string   `toml:"host" yaml:"host" json:"host"`
	Port              int      `toml:"port" yaml:"port" json:"port"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes" yaml:"max_upload_bytes" json:"max_upload_bytes"`
	RateLimit         int      `toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	AllowedOrigins    []string `toml:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	AllowedExtensions []string `toml:"allowed_file_types" yaml:"allowed_file_types" json:"allowed_file_types"`
	DefaultPrinter    string   `toml:"default_printer" yaml:"default_printer" json:"default_printer"`
	APIToken          string   `toml:"api_token" yaml:"api_token" json:"api_token"`

	// Durations are strings in the file ("30s", "2m").
	UploadTimeout  Duration `toml:"upload_timeout" yaml:"upload_timeout" json:"upload_timeout"`
	SpoolerTimeout Duration `toml:"spooler_timeout" yaml:"spooler_timeout" json:"spooler_timeout"`

	Log LogConfig `toml:"log" yaml:"log" json:"log"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level  string `toml:"level" yaml:"level" json:"level"`
	// Format is text or json.
	Format string `toml:"format" yaml:"format" json:"format"`
	Dir    string `toml:"dir,omitempty" yaml:"dir,omitempty" json:"dir,omitempty"`
}

// DefaultBridgeConfig returns the configuration written on first run.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Host:              DefaultHost,
		Port:              DefaultPort,
		MaxUploadBytes:    DefaultMaxUploadBytes,
		RateLimit:         DefaultRateLimit,
		AllowedOrigins:    []string{"*"},
		AllowedExtensions: []string{"pdf", "txt", "html", "htm", "png", "jpg", "jpeg"},
		UploadTimeout:     Duration(DefaultUploadTimeout),
		SpoolerTimeout:    Duration(DefaultSpoolerTimeout),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyDefaults fills zero-valued optional fields. Required numeric fields are
// left alone so Validate can report them.
func (c *BridgeConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = Duration(DefaultUploadTimeout)
	}
	if c.SpoolerTimeout == 0 {
		c.SpoolerTimeout = Duration(DefaultSpoolerTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the invariants the bridge relies on.
func (c BridgeConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("must be in [1, 65535], got %d", c.Port)}
	}
	if c.MaxUploadBytes <= 0 {
		return &ConfigError{Field: "max_upload_bytes", Reason: "must be positive"}
	}
	if c.RateLimit <= 0 {
		return &ConfigError{Field: "rate_limit_per_minute", Reason: "must be positive"}
	}
	if c.UploadTimeout <= 0 {
		return &ConfigError{Field: "upload_timeout", Reason: "must be positive"}
	}
	if c.SpoolerTimeout <= 0 {
		return &ConfigError{Field: "spooler_timeout", Reason: "must be positive"}
	}
	if len(c.AllowedExtensions) == 0 {
		return &ConfigError{Field: "allowed_file_types", Reason: "must not be empty"}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return &ConfigError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// Addr returns the host:port listen address.
func (c BridgeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler, used by the TOML, YAML and JSON codecs.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}
