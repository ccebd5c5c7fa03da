package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	// Audit archive export (optional). Records of REDACTED/BLOCKED verdicts
	// are shipped to this bucket for retention.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"confidant-audit"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Embedding gateway
	EmbedBatchMaxSize   int     `envconfig:"EMBED_BATCH_MAX_SIZE" default:"64"`
	EmbedBatchWindowMS  int     `envconfig:"EMBED_BATCH_WINDOW_MS" default:"25"`
	EmbedCacheSize      int     `envconfig:"EMBED_CACHE_SIZE" default:"4096"`
	EmbedMaxAttempts    int     `envconfig:"EMBED_MAX_ATTEMPTS" default:"3"`
	EmbedCostPerKTokens float64 `envconfig:"EMBED_COST_PER_K_TOKENS_USD" default:"0.0001"`

	// Vector index
	IndexBackend       string `envconfig:"INDEX_BACKEND" default:"pgvector"`
	RetrievalK         int    `envconfig:"RETRIEVAL_K" default:"8"`
	RetrievalCacheTTL  int    `envconfig:"RETRIEVAL_CACHE_TTL_MS" default:"30000"`
	HNSWProbeCandidates int   `envconfig:"HNSW_PROBE_CANDIDATES" default:"40"`

	// Context assembly. The citable/private budget split is deliberately
	// configuration, not a constant.
	ContextTokenBudget int     `envconfig:"CONTEXT_TOKEN_BUDGET" default:"3000"`
	CitableBudgetRatio float64 `envconfig:"CITABLE_BUDGET_RATIO" default:"0.7"`

	// Generation
	PromptCostPerKTokens     float64 `envconfig:"PROMPT_COST_PER_K_TOKENS_USD" default:"0.0025"`
	CompletionCostPerKTokens float64 `envconfig:"COMPLETION_COST_PER_K_TOKENS_USD" default:"0.01"`
	DailyBudgetUSD           float64 `envconfig:"DAILY_BUDGET_USD" default:"10.0"`
	BreakerFailureThreshold  int     `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerCooldownMS        int     `envconfig:"BREAKER_COOLDOWN_MS" default:"30000"`
	ProviderTimeoutMS        int     `envconfig:"PROVIDER_TIMEOUT_MS" default:"20000"`
	StreamWindowChars        int     `envconfig:"STREAM_WINDOW_CHARS" default:"400"`

	// Privacy sentinel. The violating overlap span length is deliberately
	// configuration, not a constant.
	OverlapSpanTokens int `envconfig:"OVERLAP_SPAN_TOKENS" default:"12"`

	// Pipeline budgets
	StageSoftBudgetMS int `envconfig:"STAGE_SOFT_BUDGET_MS" default:"2000"`
	QueryDeadlineMS   int `envconfig:"QUERY_DEADLINE_MS" default:"30000"`

	// Bootstrap: create initial organization and API key on startup
	InitOrgName string `envconfig:"INIT_ORG_NAME"`
	InitAPIKey  string `envconfig:"INIT_API_KEY"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CONFIDANT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.CitableBudgetRatio <= 0 || cfg.CitableBudgetRatio > 1 {
		return nil, fmt.Errorf("CITABLE_BUDGET_RATIO must be in (0, 1], got %v", cfg.CitableBudgetRatio)
	}
	if cfg.OverlapSpanTokens < 3 {
		return nil, fmt.Errorf("OVERLAP_SPAN_TOKENS must be at least 3, got %d", cfg.OverlapSpanTokens)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) RetrievalCacheTTLDuration() time.Duration {
	return time.Duration(c.RetrievalCacheTTL) * time.Millisecond
}

func (c *Config) EmbedBatchWindow() time.Duration {
	return time.Duration(c.EmbedBatchWindowMS) * time.Millisecond
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

func (c *Config) StageSoftBudget() time.Duration {
	return time.Duration(c.StageSoftBudgetMS) * time.Millisecond
}

func (c *Config) QueryDeadline() time.Duration {
	return time.Duration(c.QueryDeadlineMS) * time.Millisecond
}
