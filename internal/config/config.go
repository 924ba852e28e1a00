// Package config loads zoning-cli settings from config.yaml and ZONING_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/zoning-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Thesaurus ThesaurusConfig `yaml:"thesaurus" mapstructure:"thesaurus"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the cache and results backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SearchConfig configures the Elasticsearch page index.
type SearchConfig struct {
	URLs          []string      `yaml:"urls" mapstructure:"urls"`
	Username      string        `yaml:"username" mapstructure:"username"`
	Password      string        `yaml:"password" mapstructure:"password"`
	K             int           `yaml:"k" mapstructure:"k"`
	DistrictFuzzy bool          `yaml:"district_fuzzy" mapstructure:"district_fuzzy"`
	TermFuzzy     bool          `yaml:"term_fuzzy" mapstructure:"term_fuzzy"`
	Label         string        `yaml:"label" mapstructure:"label"`
	TextField     string        `yaml:"text_field" mapstructure:"text_field"`
	PageField     string        `yaml:"page_field" mapstructure:"page_field"`
	Circuit       CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig configures a circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LLMConfig configures the prompt client.
type LLMConfig struct {
	Model             string      `yaml:"model" mapstructure:"model"`
	MaxTokens         int         `yaml:"max_tokens" mapstructure:"max_tokens"`
	ContextTokens     int         `yaml:"context_tokens" mapstructure:"context_tokens"`
	PromptReserve     int         `yaml:"prompt_reserve" mapstructure:"prompt_reserve"`
	TopLogprobs       int         `yaml:"top_logprobs" mapstructure:"top_logprobs"`
	JSONResponse      bool        `yaml:"json_response" mapstructure:"json_response"`
	MaxConcurrency    int         `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RequestsPerMinute int         `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
	// Models registers extra model names beyond the built-in set.
	Models []ModelConfig `yaml:"models" mapstructure:"models"`
}

// ModelConfig declares a model and how it is called.
type ModelConfig struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Variant  string `yaml:"variant" mapstructure:"variant"`
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// RetryConfig configures retries of transient model errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ExtractConfig configures the extraction run.
type ExtractConfig struct {
	Method     string   `yaml:"method" mapstructure:"method"`
	TopKPages  int      `yaml:"top_k_pages" mapstructure:"top_k_pages"`
	MapWorkers int      `yaml:"map_workers" mapstructure:"map_workers"`
	Terms      []string `yaml:"terms" mapstructure:"terms"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	Organization string `yaml:"organization" mapstructure:"organization"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ThesaurusConfig points at an optional thesaurus override file.
type ThesaurusConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ZONING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "zoning.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("search.urls", []string{"http://localhost:9200"})
	v.SetDefault("search.k", 10)
	v.SetDefault("search.district_fuzzy", false)
	v.SetDefault("search.term_fuzzy", false)
	v.SetDefault("search.text_field", "Text")
	v.SetDefault("search.page_field", "Page")
	v.SetDefault("search.circuit.failure_threshold", 5)
	v.SetDefault("search.circuit.reset_timeout_secs", 30)
	v.SetDefault("llm.model", "gpt-4-1106-preview")
	v.SetDefault("llm.max_tokens", 256)
	v.SetDefault("llm.context_tokens", 2047)
	v.SetDefault("llm.prompt_reserve", 256)
	v.SetDefault("llm.top_logprobs", 1)
	v.SetDefault("llm.json_response", true)
	v.SetDefault("llm.max_concurrency", 100)
	v.SetDefault("llm.requests_per_minute", 0)
	v.SetDefault("llm.retry.max_attempts", 0)
	v.SetDefault("llm.retry.initial_backoff_ms", 1000)
	v.SetDefault("llm.retry.max_backoff_ms", 60000)
	v.SetDefault("extract.method", "map")
	v.SetDefault("extract.top_k_pages", 6)
	v.SetDefault("extract.map_workers", 20)
	v.SetDefault("extract.terms", []string{"min lot size", "min unit size"})
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Modes: "extract", "search",
// "eval" and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	needsSearch := func() {
		if len(c.Search.URLs) == 0 {
			errs = append(errs, "search.urls is required")
		}
		if c.Search.K <= 0 {
			errs = append(errs, "search.k must be > 0")
		}
	}
	needsLLM := func() {
		if c.LLM.Model == "" {
			errs = append(errs, "llm.model is required")
		}
		if c.LLM.MaxConcurrency < 1 {
			errs = append(errs, "llm.max_concurrency must be >= 1")
		}
		if c.LLM.PromptReserve >= c.LLM.ContextTokens {
			errs = append(errs, "llm.prompt_reserve must be < llm.context_tokens")
		}
		if c.OpenAI.Key == "" && c.Anthropic.Key == "" {
			errs = append(errs, "openai.key or anthropic.key is required")
		}
		if c.Extract.TopKPages < 1 {
			errs = append(errs, "extract.top_k_pages must be >= 1")
		}
		if c.Extract.MapWorkers < 1 || c.Extract.MapWorkers > 100 {
			errs = append(errs, "extract.map_workers must be between 1 and 100")
		}
	}
	needsStore := func() {
		switch c.Store.Driver {
		case "memory":
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or memory", c.Store.Driver))
		}
	}

	switch mode {
	case "extract":
		needsSearch()
		needsLLM()
		needsStore()
		if len(c.Extract.Terms) == 0 {
			errs = append(errs, "extract.terms is required")
		}
	case "search":
		needsSearch()
	case "eval":
	case "serve":
		needsSearch()
		needsLLM()
		needsStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
