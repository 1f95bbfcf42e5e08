package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Ranker     RankerConfig     `yaml:"ranker" mapstructure:"ranker"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the canonical entity database.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the model-response cache.
type CacheConfig struct {
	// Driver selects the cache backend: "postgres" (shared with the entity
	// store) or "sqlite" (local file, offline/dev runs).
	Driver     string `yaml:"driver" mapstructure:"driver"`
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	TTLDays    int    `yaml:"ttl_days" mapstructure:"ttl_days"`
	// MaxEntries bounds the cache during LRU eviction: rows beyond the
	// newest MaxEntries by last_used_at are deleted.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	// RatePerSecond / Burst size the global token bucket. Per-session buckets
	// use SessionRatePerSecond / SessionBurst.
	RatePerSecond        float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst                int     `yaml:"burst" mapstructure:"burst"`
	SessionRatePerSecond float64 `yaml:"session_rate_per_second" mapstructure:"session_rate_per_second"`
	SessionBurst         int     `yaml:"session_burst" mapstructure:"session_burst"`
	FailureThreshold     int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs  int     `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	PromptVersion        string  `yaml:"prompt_version" mapstructure:"prompt_version"`
}

// ExtractionConfig configures the two-tier extraction policy.
type ExtractionConfig struct {
	// RuleConfidenceThreshold is the minimum rule-extraction confidence that
	// skips the AI fallback.
	RuleConfidenceThreshold float64 `yaml:"rule_confidence_threshold" mapstructure:"rule_confidence_threshold"`
	// PromptCharBudget caps prompt size. Roughly 4 chars per token.
	PromptCharBudget int     `yaml:"prompt_char_budget" mapstructure:"prompt_char_budget"`
	SchemaVersion    string  `yaml:"schema_version" mapstructure:"schema_version"`
	StrictValidation bool    `yaml:"strict_validation" mapstructure:"strict_validation"`
	MinAIConfidence  float64 `yaml:"min_ai_confidence" mapstructure:"min_ai_confidence"`
}

// RankerConfig holds source-ranking weights. The relative ordering matters;
// the exact values are tunable.
type RankerConfig struct {
	PageTypeWeights map[string]float64 `yaml:"page_type_weights" mapstructure:"page_type_weights"`
	RulesBonus      float64            `yaml:"rules_bonus" mapstructure:"rules_bonus"`
	PathBonus       float64            `yaml:"path_bonus" mapstructure:"path_bonus"`
	DepthPenalty    float64            `yaml:"depth_penalty" mapstructure:"depth_penalty"`
	MinRank         float64            `yaml:"min_rank" mapstructure:"min_rank"`
	// DisagreementWindow is the rank gap under which two top sources are
	// considered in genuine disagreement on descriptive fields.
	DisagreementWindow float64 `yaml:"disagreement_window" mapstructure:"disagreement_window"`
	DisagreementFactor float64 `yaml:"disagreement_factor" mapstructure:"disagreement_factor"`
}

// LockConfig configures advisory lock acquisition.
type LockConfig struct {
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalMsec int `yaml:"poll_interval_msec" mapstructure:"poll_interval_msec"`
}

// Timeout returns the lock acquisition timeout as a duration.
func (c LockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (c LockConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMsec) * time.Millisecond
}

// SessionConfig configures extraction sessions.
type SessionConfig struct {
	MaxConcurrentPages int `yaml:"max_concurrent_pages" mapstructure:"max_concurrent_pages"`
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
	v.SetEnvPrefix("COMPINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.driver", "postgres")
	v.SetDefault("cache.sqlite_path", "compintel-cache.db")
	v.SetDefault("cache.ttl_days", 30)
	v.SetDefault("cache.max_entries", 50000)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rate_per_second", 5.0)
	v.SetDefault("anthropic.burst", 10)
	v.SetDefault("anthropic.session_rate_per_second", 2.0)
	v.SetDefault("anthropic.session_burst", 4)
	v.SetDefault("anthropic.failure_threshold", 5)
	v.SetDefault("anthropic.recovery_timeout_secs", 60)
	v.SetDefault("anthropic.prompt_version", "v3")
	v.SetDefault("extraction.rule_confidence_threshold", 0.6)
	v.SetDefault("extraction.prompt_char_budget", 32000)
	v.SetDefault("extraction.schema_version", "1")
	v.SetDefault("extraction.strict_validation", false)
	v.SetDefault("extraction.min_ai_confidence", 0.3)
	v.SetDefault("ranker.page_type_weights", map[string]float64{
		"product":       1.0,
		"pricing":       0.95,
		"documentation": 0.8,
		"release_notes": 0.8,
		"homepage":      0.7,
		"blog":          0.5,
		"news":          0.5,
		"about":         0.4,
		"legal":         0.3,
	})
	v.SetDefault("ranker.rules_bonus", 0.05)
	v.SetDefault("ranker.path_bonus", 0.05)
	v.SetDefault("ranker.depth_penalty", 0.02)
	v.SetDefault("ranker.min_rank", 0.1)
	v.SetDefault("ranker.disagreement_window", 0.2)
	v.SetDefault("ranker.disagreement_factor", 0.8)
	v.SetDefault("lock.timeout_secs", 30)
	v.SetDefault("lock.poll_interval_msec", 100)
	v.SetDefault("session.max_concurrent_pages", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
