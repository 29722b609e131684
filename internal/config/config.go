// Package config loads parley settings from YAML, profiles, .env files and
// PARLEY_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-parley/pkg/audioio"
	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/confirm"
	"github.com/teslashibe/go-parley/pkg/router"
	"github.com/teslashibe/go-parley/pkg/safety"
	"github.com/teslashibe/go-parley/pkg/stt"
	"github.com/teslashibe/go-parley/pkg/tokens"
	"github.com/teslashibe/go-parley/pkg/tts"
	"github.com/teslashibe/go-parley/pkg/vad"
	"github.com/teslashibe/go-parley/pkg/web"
)

// EnvPrefix prefixes environment overrides, e.g. PARLEY_PROVIDERS_PRIMARY.
const EnvPrefix = "PARLEY"

// Backend names accepted in providers.primary and providers.local.
const (
	BackendGeminiCLI = "gemini_cli"
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendMock      = "mock"
)

// Config is the complete parley configuration.
type Config struct {
	// Profile names the preset merged over the defaults.
	Profile string `mapstructure:"profile" yaml:"profile"`

	Audio        audioio.Config  `mapstructure:"audio" yaml:"audio"`
	Capture      capture.Config  `mapstructure:"capture" yaml:"capture"`
	VAD          vad.Config      `mapstructure:"vad" yaml:"vad"`
	STT          stt.Config      `mapstructure:"stt" yaml:"stt"`
	TTS          tts.Config      `mapstructure:"tts" yaml:"tts"`
	Router       router.Config   `mapstructure:"router" yaml:"router"`
	Refiner      RefinerConfig   `mapstructure:"refiner" yaml:"refiner"`
	Providers    ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Safety       safety.Config   `mapstructure:"safety" yaml:"safety"`
	Tokens       tokens.Budget   `mapstructure:"token_economy" yaml:"token_economy"`
	Confirmation confirm.Config  `mapstructure:"confirmation" yaml:"confirmation"`
	Output       OutputConfig    `mapstructure:"output" yaml:"output"`
	API          web.Config      `mapstructure:"api" yaml:"api"`
	Runs         RunsConfig      `mapstructure:"runs" yaml:"runs"`
	Events       EventsConfig    `mapstructure:"events" yaml:"events"`
	Log          LogConfig       `mapstructure:"log" yaml:"log"`
}

// RefinerConfig configures the local rewriting model.
type RefinerConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProvidersConfig configures the provider gateway and its backends.
type ProvidersConfig struct {
	Primary string        `mapstructure:"primary" yaml:"primary"`
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff" yaml:"backoff"`
	RetryStep  time.Duration `mapstructure:"retry_step" yaml:"retry_step"`

	FallbackModel        string        `mapstructure:"fallback_model" yaml:"fallback_model"`
	FallbackTimeoutExtra time.Duration `mapstructure:"fallback_timeout_extra" yaml:"fallback_timeout_extra"`

	// Local is tried last. Empty disables it.
	Local        string        `mapstructure:"local" yaml:"local"`
	LocalTimeout time.Duration `mapstructure:"local_timeout" yaml:"local_timeout"`

	OllamaURL   string `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel string `mapstructure:"ollama_model" yaml:"ollama_model"`

	HistoryMessages int `mapstructure:"history_messages" yaml:"history_messages"`

	OpenAI OpenAIConfig `mapstructure:"openai" yaml:"openai"`
}

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// OutputConfig selects how final responses reach the desktop.
type OutputConfig struct {
	// Mode is none, clipboard, type or both.
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// RunsConfig configures run persistence.
type RunsConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir"`
	Max           int    `mapstructure:"max" yaml:"max"`
	PruneSchedule string `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History      int    `mapstructure:"history" yaml:"history"`
	RedisURL     string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	ttsCfg := tts.DefaultConfig()
	ttsCfg.Voice = "de"

	return &Config{
		Audio:   audioio.DefaultConfig(),
		Capture: capture.DefaultConfig(),
		VAD:     vad.DefaultConfig(),
		STT:     stt.DefaultConfig(),
		TTS:     ttsCfg,
		Router:  router.DefaultConfig(),
		Refiner: RefinerConfig{
			Enabled: true,
			URL:     "http://localhost:11434",
			Model:   "qwen3:8b",
			Timeout: 30 * time.Second,
		},
		Providers: ProvidersConfig{
			Primary:              BackendGeminiCLI,
			Binary:               "gemini",
			Model:                "flash",
			Timeout:              90 * time.Second,
			MaxRetries:           2,
			Backoff:              time.Second,
			RetryStep:            30 * time.Second,
			FallbackModel:        "pro",
			FallbackTimeoutExtra: 60 * time.Second,
			Local:                BackendOllama,
			LocalTimeout:         120 * time.Second,
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen3:8b",
			HistoryMessages:      24,
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
		Safety:       safety.DefaultConfig(),
		Tokens:       tokens.DefaultBudget(),
		Confirmation: confirm.DefaultConfig(),
		Output:       OutputConfig{Mode: "none"},
		API:          web.DefaultConfig(),
		Runs: RunsConfig{
			Dir:           "~/.parley/runs",
			Max:           50,
			PruneSchedule: "@every 1h",
		},
		Events: EventsConfig{
			History:      100,
			RedisChannel: "parley.events",
		},
		Log: LogConfig{Level: "info", Format: "pretty"},
	}
}

// Options controls Load.
type Options struct {
	// Path is an explicit config file. Empty searches SearchPaths.
	Path string

	// Profile overrides the profile named by PARLEY_PROFILE or the file.
	Profile string

	// EnvFile is loaded into the environment first when it exists.
	// Empty means ".env".
	EnvFile string
}

// SearchPaths lists the config files tried in order when no path is given.
func SearchPaths() []string {
	return []string{"./parley.yaml", "~/.parley/config.yaml"}
}

// Load builds the configuration. Precedence from lowest to highest:
// defaults, profile, config file, environment.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(ExpandPath(envFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	path, err := findConfig(opts.Path)
	if err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == "" {
		profile = os.Getenv(EnvPrefix + "_PROFILE")
	}
	if profile == "" && path != "" {
		peek := viper.New()
		peek.SetConfigFile(path)
		peek.SetConfigType("yaml")
		if err := peek.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		profile = peek.GetString("profile")
	}

	base := Default()
	if err := base.ApplyProfile(profile); err != nil {
		return nil, err
	}
	baseYAML, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(baseYAML)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Profile = profile
	cfg.Runs.Dir = ExpandPath(cfg.Runs.Dir)
	cfg.STT.Model = ExpandPath(cfg.STT.Model)
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &cfg, nil
}

func findConfig(explicit string) (string, error) {
	if explicit != "" {
		p := ExpandPath(explicit)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return p, nil
	}
	for _, p := range SearchPaths() {
		p = ExpandPath(p)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
