// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// OverlapPolicy decides what happens when a task is started while another
// one is still running on the same agent.
type OverlapPolicy string

const (
	// OverlapSupersede cancels the running task and starts the new one once
	// the old loop has drained.
	OverlapSupersede OverlapPolicy = "supersede"
	// OverlapReject refuses the new task while one is running.
	OverlapReject OverlapPolicy = "reject"
)

// AgentConfig configures the step loop.
type AgentConfig struct {
	MaxSteps      int           `mapstructure:"max_steps" yaml:"max_steps"`
	Language      string        `mapstructure:"language" yaml:"language"`
	StepDelay     time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	OverlapPolicy OverlapPolicy `mapstructure:"overlap_policy" yaml:"overlap_policy"`
	// DisabledTools removes built-in tools by name before the decision
	// schema is composed.
	DisabledTools   []string `mapstructure:"disabled_tools" yaml:"disabled_tools"`
	Instructions    string   `mapstructure:"instructions" yaml:"instructions"`
	EventBufferSize int      `mapstructure:"event_buffer_size" yaml:"event_buffer_size"`
}

// LLMProvider defines the supported model backends.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	// ProviderOpenAI covers any endpoint speaking the OpenAI chat completions API.
	ProviderOpenAI LLMProvider = "openai"
)

// LLMConfig holds the settings for the model client.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// MaxRetryElapsed bounds the total time spent retrying transient failures.
	MaxRetryElapsed   time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// BrowserConfig configures the Chrome instance driven by the agent.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ContentLimit truncates the flattened page content sent to the model.
	ContentLimit int `mapstructure:"content_limit" yaml:"content_limit"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	URL          string `mapstructure:"url" yaml:"url"`
	EnsureSchema bool   `mapstructure:"ensure_schema" yaml:"ensure_schema"`
}

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default with the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "page-agent")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Agent --
	v.SetDefault("agent.max_steps", 40)
	v.SetDefault("agent.language", "en-US")
	v.SetDefault("agent.step_delay", "400ms")
	v.SetDefault("agent.overlap_policy", string(OverlapSupersede))
	v.SetDefault("agent.disabled_tools", []string{})
	v.SetDefault("agent.instructions", "")
	v.SetDefault("agent.event_buffer_size", 64)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retry_elapsed", "2m")
	v.SetDefault("llm.requests_per_second", 1.0)
	v.SetDefault("llm.burst", 2)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.content_limit", 40000)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")
	v.SetDefault("store.ensure_schema", true)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly exported under the provider's own variable names.
	_ = v.BindEnv("llm.api_key", "PAGE_AGENT_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("store.url", "PAGE_AGENT_STORE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive integers")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true (PAGE_AGENT_STORE_URL)")
	}
	return nil
}

// Validate checks the agent settings.
func (a AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.StepDelay < 0 {
		return fmt.Errorf("step_delay must not be negative")
	}
	switch a.OverlapPolicy {
	case OverlapSupersede, OverlapReject, "":
	default:
		return fmt.Errorf("unknown overlap_policy %q (supported: %s, %s)", a.OverlapPolicy, OverlapSupersede, OverlapReject)
	}
	for _, name := range a.DisabledTools {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("disabled_tools must not contain empty names")
		}
	}
	return nil
}

// Validate checks the model client settings.
func (l LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q (supported: %s, %s)", l.Provider, ProviderGemini, ProviderOpenAI)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}
