// Package config loads swiss application settings.
//
// Settings come from, in increasing priority: built-in defaults, the
// project file .swiss/swiss.yaml (or the file named by SWISS_CONFIG_PATH),
// and SWISS_* environment variables (SWISS_OPENAI_MODEL, SWISS_EDITOR_PORT,
// ...). Provider API keys also honour their conventional variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/dshills/swiss/internal/logger"
)

// EnvConfigPath names an explicit config file.
const EnvConfigPath = "SWISS_CONFIG_PATH"

// Providers understood by the CLI.
const (
	ProviderCodex     = "codex"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds all configuration sections.
type Config struct {
	Provider  string               `mapstructure:"provider"`
	Anthropic AnthropicConfig      `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig         `mapstructure:"openai"`
	Google    GoogleConfig         `mapstructure:"google"`
	Codex     CodexConfig          `mapstructure:"codex"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
	Editor    EditorConfig         `mapstructure:"editor"`
	History   HistoryConfig        `mapstructure:"history"`
	Telemetry TelemetryConfig      `mapstructure:"telemetry"`
	Events    EventsConfig         `mapstructure:"events"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// AnthropicConfig configures the Anthropic Messages API adapter.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// OpenAIConfig configures the OpenAI chat completions adapter.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// CodexConfig configures the codex CLI adapter.
type CodexConfig struct {
	Binary string `mapstructure:"binary"`
}

// EditorConfig configures the `swiss config` web editor.
type EditorConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	OpenBrowser bool   `mapstructure:"open_browser"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite, mysql, pgx
	DSN     string `mapstructure:"dsn"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// EventsConfig configures progress event sinks.
type EventsConfig struct {
	// Format of progress lines on stderr: text, json or none.
	Format string `mapstructure:"format"`

	// NATSURL enables publishing events to NATS when set.
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderCodex)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.max_tokens", 8192)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")

	v.SetDefault("google.api_key", "")

	v.SetDefault("codex.binary", "codex")

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stderr")

	v.SetDefault("editor.host", "127.0.0.1")
	v.SetDefault("editor.port", 3000)
	v.SetDefault("editor.open_browser", true)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", filepath.Join(".swiss", "history.db"))

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", "swiss")

	v.SetDefault("events.format", "text")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "swiss.review")
}

// DefaultConfig returns the built-in settings without reading any file or
// environment variable.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads the configuration for the project rooted at baseDir.
func Load(baseDir string) (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = filepath.Join(baseDir, ".swiss", "swiss.yaml")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SWISS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("anthropic.api_key", "SWISS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai.api_key", "SWISS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("google.api_key", "SWISS_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")

	file := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		err := v.ReadInConfig()
		switch {
		case err == nil:
			file = v.ConfigFileUsed()
		case errors.Is(err, os.ErrNotExist):
		default:
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.File = file

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch cfg.Provider {
	case ProviderCodex, ProviderOpenAI, ProviderAnthropic, ProviderGoogle:
	default:
		errs = append(errs, fmt.Sprintf("provider must be one of: codex, openai, anthropic, google (got %q)", cfg.Provider))
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: console, json")
	}

	if cfg.Editor.Port < 0 || cfg.Editor.Port > 65535 {
		errs = append(errs, "editor.port must be between 0 and 65535")
	}

	if cfg.History.Enabled {
		switch cfg.History.Driver {
		case "sqlite", "mysql", "pgx":
		default:
			errs = append(errs, "history.driver must be one of: sqlite, mysql, pgx")
		}
		if cfg.History.DSN == "" {
			errs = append(errs, "history.dsn is required when history is enabled")
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry is enabled")
	}

	switch cfg.Events.Format {
	case "text", "json", "none":
	default:
		errs = append(errs, "events.format must be one of: text, json, none")
	}

	if cfg.Anthropic.MaxTokens < 0 {
		errs = append(errs, "anthropic.max_tokens must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// APIKey returns the key configured for the selected provider.
func (c *Config) APIKey() string {
	switch c.Provider {
	case ProviderAnthropic:
		return c.Anthropic.APIKey
	case ProviderOpenAI:
		return c.OpenAI.APIKey
	case ProviderGoogle:
		return c.Google.APIKey
	}
	return ""
}
