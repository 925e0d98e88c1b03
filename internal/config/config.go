package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredential is returned by Validate when a provider that needs a key has none.
var ErrMissingCredential = errors.New("missing credential")

type Config struct {
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Embedding       EmbeddingConfig           `yaml:"embedding" mapstructure:"embedding"`
	Memory          MemoryConfig              `yaml:"memory" mapstructure:"memory"`
	History         HistoryConfig             `yaml:"history" mapstructure:"history"`
	Prompt          PromptConfig              `yaml:"prompt" mapstructure:"prompt"`
	SettingsPath    string                    `yaml:"settings_path" mapstructure:"settings_path"`
	Vision          VisionConfig              `yaml:"vision" mapstructure:"vision"`
	Audio           AudioConfig               `yaml:"audio" mapstructure:"audio"`
	Research        ResearchConfig            `yaml:"research" mapstructure:"research"`
	Server          ServerConfig              `yaml:"server" mapstructure:"server"`
	Commentator     CommentatorConfig         `yaml:"commentator" mapstructure:"commentator"`
	Log             LogConfig                 `yaml:"log" mapstructure:"log"`
}

type ProviderConfig struct {
	Type       string        `yaml:"type" mapstructure:"type"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Model      string        `yaml:"model" mapstructure:"model"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	// Type is "openai" for any OpenAI-compatible /embeddings endpoint or "hash" for the offline embedder.
	Type       string `yaml:"type" mapstructure:"type"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
	CacheSize  int64  `yaml:"cache_size" mapstructure:"cache_size"`
	CachePath  string `yaml:"cache_path" mapstructure:"cache_path"`
}

type MemoryConfig struct {
	Path   string `yaml:"path" mapstructure:"path"`
	Metric string `yaml:"metric" mapstructure:"metric"`
	TopK   int    `yaml:"top_k" mapstructure:"top_k"`
}

type HistoryConfig struct {
	MaxTurns int `yaml:"max_turns" mapstructure:"max_turns"`
}

type PromptConfig struct {
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
}

type VisionConfig struct {
	// Provider names an entry in Providers used for captioning; empty means the default provider.
	Provider             string `yaml:"provider" mapstructure:"provider"`
	Model                string `yaml:"model" mapstructure:"model"`
	TesseractPath        string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	TesseractPSM         int    `yaml:"tesseract_psm" mapstructure:"tesseract_psm"`
	ReverseSearchEnabled bool   `yaml:"reverse_search_enabled" mapstructure:"reverse_search_enabled"`
	ImgurClientID        string `yaml:"imgur_client_id" mapstructure:"imgur_client_id"`
	ScreenshotPath       string `yaml:"screenshot_path" mapstructure:"screenshot_path"`
}

type AudioConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	SynthCommand string `yaml:"synth_command" mapstructure:"synth_command"`
	PlayCommand  string `yaml:"play_command" mapstructure:"play_command"`
}

type ResearchConfig struct {
	RoundPause    time.Duration `yaml:"round_pause" mapstructure:"round_pause"`
	SearchResults int           `yaml:"search_results" mapstructure:"search_results"`
	ThinkAloud    bool          `yaml:"think_aloud" mapstructure:"think_aloud"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	AuthToken   string   `yaml:"auth_token" mapstructure:"auth_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

type CommentatorConfig struct {
	Interval       time.Duration `yaml:"interval" mapstructure:"interval"`
	CaptureCommand string        `yaml:"capture_command" mapstructure:"capture_command"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File receives logs instead of stderr. The TUI always logs to a file.
	File string `yaml:"file" mapstructure:"file"`
}

var envVarRe = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)

func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "lmstudio",
		Providers: map[string]ProviderConfig{
			"lmstudio": {Type: "openai", BaseURL: "http://localhost:1234/v1", Model: "gemma-3-12b-it", MaxRetries: 3, Timeout: 2 * time.Minute},
			"ollama":   {Type: "openai", BaseURL: "http://localhost:11434/v1", Model: "gemma3:12b", MaxRetries: 3, Timeout: 2 * time.Minute},
		},
		Embedding: EmbeddingConfig{
			Type:       "openai",
			BaseURL:    "http://localhost:1234/v1",
			Model:      "text-embedding-all-minilm-l6-v2",
			Dimensions: 384,
			CacheSize:  10000,
		},
		Memory:       MemoryConfig{Path: "rag_histories.json", Metric: "l2", TopK: 3},
		History:      HistoryConfig{MaxTurns: 6},
		Prompt:       PromptConfig{MaxTokens: 6000},
		SettingsPath: "settings.json",
		Vision: VisionConfig{
			TesseractPath:  "tesseract",
			TesseractPSM:   6,
			ScreenshotPath: "gui_screenshot.png",
		},
		Research: ResearchConfig{RoundPause: time.Second, SearchResults: 5},
		Server:   ServerConfig{Addr: "127.0.0.1:8080"},
		Commentator: CommentatorConfig{
			Interval:       10 * time.Second,
			CaptureCommand: "scrot -o {path}",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "danzar")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "danzar")
}

// Load reads config.yaml from file (when non-empty) or the usual search paths,
// overlays DANZAR_* environment variables and validates the result.
func Load(file string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix("DANZAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		p.BaseURL = expandEnv(p.BaseURL)
		cfg.Providers[name] = p
	}
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	cfg.Embedding.BaseURL = expandEnv(cfg.Embedding.BaseURL)
	cfg.Vision.ImgurClientID = expandEnv(cfg.Vision.ImgurClientID)
	cfg.Server.AuthToken = expandEnv(cfg.Server.AuthToken)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers the scalar keys so AutomaticEnv can see them during Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"default_provider", "settings_path",
		"embedding.type", "embedding.base_url", "embedding.api_key", "embedding.model",
		"memory.path", "memory.metric", "memory.top_k",
		"history.max_turns", "prompt.max_tokens",
		"vision.imgur_client_id", "vision.tesseract_path",
		"audio.enabled", "research.think_aloud",
		"server.addr", "server.auth_token",
		"log.level", "log.format", "log.file",
	} {
		_ = v.BindEnv(key)
	}
}

func (c *Config) ProviderFor(name string) (ProviderConfig, bool) {
	if name == "" {
		name = c.DefaultProvider
	}
	p, ok := c.Providers[name]
	return p, ok
}

// Validate checks the configuration for errors and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.DefaultProvider == "" {
		return fmt.Errorf("config: default_provider is required")
	}
	if _, ok := c.Providers[c.DefaultProvider]; !ok {
		return fmt.Errorf("config: default_provider %q not found in providers", c.DefaultProvider)
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "openai":
			if p.BaseURL == "" {
				return fmt.Errorf("config: provider %q (type openai) requires base_url", name)
			}
		case "anthropic":
			if p.APIKey == "" {
				return fmt.Errorf("config: provider %q (type anthropic) requires api_key: %w", name, ErrMissingCredential)
			}
		default:
			return fmt.Errorf("config: provider %q has invalid type %q (must be openai or anthropic)", name, p.Type)
		}
	}
	if c.Vision.Provider != "" {
		if _, ok := c.Providers[c.Vision.Provider]; !ok {
			return fmt.Errorf("config: vision.provider %q not found in providers", c.Vision.Provider)
		}
	}
	switch c.Embedding.Type {
	case "openai":
		if c.Embedding.BaseURL == "" {
			return fmt.Errorf("config: embedding (type openai) requires base_url")
		}
	case "hash":
	default:
		return fmt.Errorf("config: embedding has invalid type %q (must be openai or hash)", c.Embedding.Type)
	}
	switch c.Memory.Metric {
	case "l2", "cosine":
	case "":
		c.Memory.Metric = "l2"
	default:
		return fmt.Errorf("config: memory.metric %q must be l2 or cosine", c.Memory.Metric)
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "rag_histories.json"
	}
	if c.Memory.TopK < 1 {
		c.Memory.TopK = 3
	}
	if c.History.MaxTurns < 1 {
		c.History.MaxTurns = 6
	}
	if c.Embedding.Dimensions < 1 {
		c.Embedding.Dimensions = 384
	}
	if c.Prompt.MaxTokens < 1 {
		c.Prompt.MaxTokens = 6000
	}
	if c.Vision.TesseractPSM < 1 {
		c.Vision.TesseractPSM = 6
	}
	if c.Research.SearchResults < 1 {
		c.Research.SearchResults = 5
	}
	if c.Commentator.Interval <= 0 {
		c.Commentator.Interval = 10 * time.Second
	}
	return nil
}
