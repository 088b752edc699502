// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigEnvVar overrides the config file location.
const ConfigEnvVar = "COVEN_CHAT_CONFIG"

// Transport names for the message stream.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Defaults applied when a field is left empty.
const (
	DefaultBackendURL        = "http://localhost:8000"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultStreamIdleTimeout = 2 * time.Minute
	DefaultTitleMaxLength    = 50
)

// Config represents the complete coven-chat configuration
type Config struct {
	Backend      BackendConfig      `yaml:"backend" toml:"backend"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Trace        TraceConfig        `yaml:"trace" toml:"trace"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// BackendConfig describes how to reach the assistant backend
type BackendConfig struct {
	URL       string `yaml:"url" toml:"url"`
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
	Transport string `yaml:"transport" toml:"transport"` // sse, websocket
	Model     string `yaml:"model" toml:"model"`         // default model hint, may be empty

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	StreamIdleTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw    string `yaml:"request_timeout" toml:"request_timeout"`
	StreamIdleTimeoutRaw string `yaml:"stream_idle_timeout" toml:"stream_idle_timeout"`
}

// ConversationConfig holds conversation view settings
type ConversationConfig struct {
	// ID resumes an existing conversation; empty starts without one.
	ID             string `yaml:"id" toml:"id"`
	TitleMaxLength int    `yaml:"title_max_length" toml:"title_max_length"`
}

// TraceConfig controls the diagnostic trace archive
type TraceConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	ArchivePath string `yaml:"archive_path" toml:"archive_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Path returns the config file location.
// Priority: COVEN_CHAT_CONFIG > XDG_CONFIG_HOME/coven/chat.yaml > ~/.config/coven/chat.yaml
func Path() string {
	if envPath := os.Getenv(ConfigEnvVar); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "chat.yaml")
}

// LoadOrDefault loads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = DefaultBackendURL
	}
	if c.Backend.Transport == "" {
		c.Backend.Transport = TransportSSE
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Backend.StreamIdleTimeout == 0 {
		c.Backend.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if c.Conversation.TitleMaxLength == 0 {
		c.Conversation.TitleMaxLength = DefaultTitleMaxLength
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("backend.url must include a host")
	}

	switch c.Backend.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("backend.transport must be %q or %q, got %q", TransportSSE, TransportWebSocket, c.Backend.Transport)
	}

	if c.Backend.RequestTimeout < 0 || c.Backend.StreamIdleTimeout < 0 {
		return fmt.Errorf("backend timeouts must not be negative")
	}

	if c.Conversation.TitleMaxLength < 4 {
		return fmt.Errorf("conversation.title_max_length must be at least 4")
	}

	if c.Trace.Enabled && c.Trace.ArchivePath == "" {
		return fmt.Errorf("trace.archive_path is required when trace is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.RequestTimeoutRaw != "" {
		cfg.Backend.RequestTimeout, err = time.ParseDuration(cfg.Backend.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Backend.RequestTimeoutRaw, err)
		}
	}

	if cfg.Backend.StreamIdleTimeoutRaw != "" {
		cfg.Backend.StreamIdleTimeout, err = time.ParseDuration(cfg.Backend.StreamIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_idle_timeout %q: %w", cfg.Backend.StreamIdleTimeoutRaw, err)
		}
	}

	return nil
}
