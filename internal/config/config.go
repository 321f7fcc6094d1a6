// Package config loads the service configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Factotum.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
	Agent    AgentConfig    `yaml:"agent"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Storage  StorageConfig  `yaml:"storage"`
	Tools    ToolsConfig    `yaml:"tools"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type AgentConfig struct {
	MaxLoops       int               `yaml:"max_loops"`
	ReasonTimeout  time.Duration     `yaml:"reason_timeout"`
	ToolTimeout    time.Duration     `yaml:"tool_timeout"`
	HistoryDepth   int               `yaml:"history_depth"`
	DefaultPersona string            `yaml:"default_persona"`
	Personas       map[string]string `yaml:"personas"`
}

type DeliveryConfig struct {
	MaxChunkLength int           `yaml:"max_chunk_length"`
	MaxChunks      int           `yaml:"max_chunks"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	BotName        string        `yaml:"bot_name"`
}

type StorageConfig struct {
	// Driver selects the transcript backend: "sqlite" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"websearch"`
	History   HistoryConfig   `yaml:"history"`
	Voice     VoiceConfig     `yaml:"voice"`
	Browser   BrowserConfig   `yaml:"browser"`
}

type WebSearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	MaxResults int           `yaml:"max_results"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	Quota      int           `yaml:"quota"`
}

type HistoryConfig struct {
	Quota int `yaml:"quota"`
}

type VoiceConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
}

type BrowserConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Headless bool          `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.Agent.MaxLoops == 0 {
		cfg.Agent.MaxLoops = 8
	}
	if cfg.Agent.ReasonTimeout == 0 {
		cfg.Agent.ReasonTimeout = 90 * time.Second
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 60 * time.Second
	}
	if cfg.Agent.HistoryDepth == 0 {
		cfg.Agent.HistoryDepth = 20
	}
	if cfg.Delivery.MaxChunkLength == 0 {
		cfg.Delivery.MaxChunkLength = 4000
	}
	if cfg.Delivery.MaxChunks == 0 {
		cfg.Delivery.MaxChunks = 5
	}
	if cfg.Delivery.BaseDelay == 0 {
		cfg.Delivery.BaseDelay = 800 * time.Millisecond
	}
	if cfg.Delivery.MaxDelay == 0 {
		cfg.Delivery.MaxDelay = 3 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.Path = "factotum.db"
	}
	if cfg.Tools.WebSearch.Provider == "" {
		cfg.Tools.WebSearch.Provider = "duckduckgo"
	}
	if cfg.Tools.WebSearch.MaxResults == 0 {
		cfg.Tools.WebSearch.MaxResults = 5
	}
	if cfg.Tools.WebSearch.CacheTTL == 0 {
		cfg.Tools.WebSearch.CacheTTL = 15 * time.Minute
	}
	if cfg.Tools.WebSearch.Quota == 0 {
		cfg.Tools.WebSearch.Quota = 3
	}
	if cfg.Tools.History.Quota == 0 {
		cfg.Tools.History.Quota = 3
	}
	if cfg.Tools.Voice.Model == "" {
		cfg.Tools.Voice.Model = "tts-1"
	}
	if cfg.Tools.Voice.Voice == "" {
		cfg.Tools.Voice.Voice = "alloy"
	}
	if cfg.Tools.Browser.Timeout == 0 {
		cfg.Tools.Browser.Timeout = 30 * time.Second
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider)
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}
	return nil
}
