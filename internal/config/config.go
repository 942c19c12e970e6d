package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity  PerplexityConfig  `yaml:"perplexity" mapstructure:"perplexity"`
	UPCItemDB   UPCItemDBConfig   `yaml:"upcitemdb" mapstructure:"upcitemdb"`
	Getimg      GetimgConfig      `yaml:"getimg" mapstructure:"getimg"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface" mapstructure:"huggingface"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Redis       RedisConfig       `yaml:"redis" mapstructure:"redis"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Jobs        JobsConfig        `yaml:"jobs" mapstructure:"jobs"`
	Resilience  ResilienceConfig  `yaml:"resilience" mapstructure:"resilience"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OpenAIConfig holds OpenAI chat settings used by every LLM stage.
type OpenAIConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds the optional JSON repair model. Repair is disabled
// when Key is empty.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// UPCItemDBConfig configures the external product database. An empty key
// selects the free trial endpoint.
type UPCItemDBConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GetimgConfig configures image upscaling. Skipped when Key is empty.
type GetimgConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Scale   int    `yaml:"scale" mapstructure:"scale"`
}

// HuggingFaceConfig configures background removal. Skipped when Key is empty.
type HuggingFaceConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	ModelURL string `yaml:"model_url" mapstructure:"model_url"`
}

// StorageConfig selects the object storage backend for product images.
type StorageConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	SupabaseURL string `yaml:"supabase_url" mapstructure:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key" mapstructure:"supabase_key"`
	PublicURL   string `yaml:"public_url" mapstructure:"public_url"`
}

// RedisConfig configures the optional external lookup cache.
type RedisConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// PipelineConfig configures the search orchestrator.
type PipelineConfig struct {
	MaxFanout         int `yaml:"max_fanout" mapstructure:"max_fanout"`
	SearchTimeoutSecs int `yaml:"search_timeout_secs" mapstructure:"search_timeout_secs"`
	ImageTimeoutSecs  int `yaml:"image_timeout_secs" mapstructure:"image_timeout_secs"`
	MaxImageBytes     int `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
	MaxImageDimension int `yaml:"max_image_dimension" mapstructure:"max_image_dimension"`

	// PromptsFile overrides the embedded prompt catalog when set.
	PromptsFile string `yaml:"prompts_file" mapstructure:"prompts_file"`
}

// JobsConfig configures background population jobs.
type JobsConfig struct {
	TimeoutSecs    int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// ResilienceConfig configures retries and circuit breakers for collaborator calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MigrateOnStart bool     `yaml:"migrate_on_start" mapstructure:"migrate_on_start"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and DUPES_* variables.
// Real environment variables win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DUPES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o")
	v.SetDefault("openai.timeout_secs", 60)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("upcitemdb.key", "")
	v.SetDefault("upcitemdb.base_url", "")
	v.SetDefault("upcitemdb.requests_per_sec", 1.0)
	v.SetDefault("upcitemdb.timeout_secs", 15)
	v.SetDefault("getimg.key", "")
	v.SetDefault("getimg.base_url", "https://api.getimg.ai/v1")
	v.SetDefault("getimg.scale", 2)
	v.SetDefault("huggingface.key", "")
	v.SetDefault("huggingface.model_url", "https://api-inference.huggingface.co/models/briaai/RMBG-1.4")
	v.SetDefault("storage.backend", "supabase")
	v.SetDefault("storage.bucket", "product-images")
	v.SetDefault("storage.supabase_url", "")
	v.SetDefault("storage.supabase_key", "")
	v.SetDefault("storage.public_url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl_hours", 24)
	v.SetDefault("pipeline.max_fanout", 5)
	v.SetDefault("pipeline.search_timeout_secs", 120)
	v.SetDefault("pipeline.image_timeout_secs", 30)
	v.SetDefault("pipeline.max_image_bytes", 10<<20)
	v.SetDefault("pipeline.max_image_dimension", 2048)
	v.SetDefault("pipeline.prompts_file", "")
	v.SetDefault("jobs.timeout_secs", 300)
	v.SetDefault("jobs.max_concurrency", 4)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.migrate_on_start", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings required by mode are present. Modes:
// "serve", "search", "jobs" and "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string
	need := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	need(c.Store.DatabaseURL != "", "store.database_url is required")

	switch mode {
	case "migrate":
	case "serve", "search", "jobs":
		need(c.OpenAI.Key != "", "openai.key is required")
		if mode != "search" {
			need(c.Perplexity.Key != "", "perplexity.key is required")
		}
		if mode == "serve" {
			need(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be > 0 and < 65536")
		}
		need(c.Pipeline.MaxFanout >= 1 && c.Pipeline.MaxFanout <= 20, "pipeline.max_fanout must be between 1 and 20")
		need(c.Jobs.MaxConcurrency >= 1, "jobs.max_concurrency must be >= 1")
		switch c.Storage.Backend {
		case "supabase":
			need(c.Storage.SupabaseURL != "" && c.Storage.SupabaseKey != "",
				"storage.supabase_url and storage.supabase_key are required for the supabase backend")
		case "gcs":
			need(c.Storage.Bucket != "", "storage.bucket is required for the gcs backend")
		case "none":
		default:
			problems = append(problems, fmt.Sprintf("storage.backend %q must be supabase, gcs or none", c.Storage.Backend))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
