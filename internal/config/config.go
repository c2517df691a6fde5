// Package config loads the service configuration from a TOML file, an
// optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/yegors/co-call/internal/reply"
	"github.com/yegors/co-call/internal/script"
	"github.com/yegors/co-call/internal/telephony"
	"github.com/yegors/co-call/pkg/logger"
)

// Config is the complete service configuration
type Config struct {
	Server  ServerConfig     `toml:"server"`
	Logging LoggingConfig    `toml:"logging"`
	Twilio  telephony.Config `toml:"twilio"`
	OpenAI  reply.Config     `toml:"openai"`
	Script  script.Config    `toml:"script"`
	Stream  StreamConfig     `toml:"stream"`
	Storage StorageConfig    `toml:"storage"`
}

// ServerConfig is the [server] section
type ServerConfig struct {
	Address                string   `toml:"address"`
	PublicBaseURL          string   `toml:"public_base_url"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
	MaxConnections         int      `toml:"max_connections"`
	ReadTimeoutSeconds     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	ListenerBufferSize     int      `toml:"listener_buffer_size"`
}

// LoggingConfig is the [logging] section
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StreamConfig is the [stream] section
type StreamConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// StorageConfig is the [storage] section
type StorageConfig struct {
	DSN       string `toml:"dsn"`
	QueueSize int    `toml:"queue_size"`
}

// Environment variables that override the file
const (
	EnvTwilioAccountSID  = "TWILIO_ACCOUNT_SID"
	EnvTwilioAuthToken   = "TWILIO_AUTH_TOKEN"
	EnvTwilioPhoneNumber = "TWILIO_PHONE_NUMBER"
	EnvOpenAIKey         = "OPENAI_KEY"
	EnvPublicBaseURL     = "PUBLIC_BASE_URL"
	EnvListenAddress     = "LISTEN_ADDRESS"
)

// Default returns the configuration used for every field the file leaves unset
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:                ":5000",
			CORSAllowedOrigins:     []string{"*"},
			MaxConnections:         256,
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    30,
			ShutdownTimeoutSeconds: 10,
			ListenerBufferSize:     64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Twilio: telephony.Config{
			Language:     "en-US",
			PauseSeconds: 1,
		},
		OpenAI: reply.Config{
			Model:          "gpt-3.5-turbo",
			MaxTokens:      100,
			TimeoutSeconds: 15,
		},
		Script: script.Config{
			Topics: append([]string(nil), script.DefaultTopics...),
		},
		Stream: StreamConfig{
			Path: "/media-stream",
		},
		Storage: StorageConfig{
			QueueSize: 256,
		},
	}
}

// Load reads the TOML file at path (skipped when empty) over the defaults,
// then applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, key := range undecoded {
				keys[i] = key.String()
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads KEY=VALUE pairs into the environment. Missing files are
// skipped and variables already set are kept.
func LoadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from the environment
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Twilio.AccountSID, EnvTwilioAccountSID)
	set(&c.Twilio.AuthToken, EnvTwilioAuthToken)
	set(&c.Twilio.PhoneNumber, EnvTwilioPhoneNumber)
	set(&c.OpenAI.APIKey, EnvOpenAIKey)
	set(&c.Server.PublicBaseURL, EnvPublicBaseURL)
	set(&c.Server.Address, EnvListenAddress)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format)
	}

	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must not be negative")
	}
	if c.Server.ReadTimeoutSeconds < 0 || c.Server.WriteTimeoutSeconds < 0 || c.Server.ShutdownTimeoutSeconds < 0 {
		return errors.New("server timeouts must not be negative")
	}
	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_base_url must be an absolute http(s) URL, got %q", c.Server.PublicBaseURL)
		}
	}

	if c.OpenAI.Model == "" {
		return errors.New("openai.model is required")
	}
	if c.OpenAI.TimeoutSeconds < 0 {
		return errors.New("openai.timeout_seconds must not be negative")
	}
	if c.Twilio.PauseSeconds < 0 {
		return errors.New("twilio.pause_seconds must not be negative")
	}

	if _, err := script.New(c.Script); err != nil {
		return fmt.Errorf("script: %w", err)
	}

	if c.Stream.Enabled && !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("stream.path must start with '/', got %q", c.Stream.Path)
	}
	if c.Storage.QueueSize < 0 {
		return errors.New("storage.queue_size must not be negative")
	}

	return nil
}

// TwilioConfigured reports whether outbound calls can be placed
func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}
