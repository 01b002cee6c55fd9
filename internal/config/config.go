package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the recall service and job worker.
// Environment variables are parsed from the CHRONOLOGUE_ prefix.
type Config struct {
	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Postgres holds segments, chunks, messages, embedding records and jobs.
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Store driver: postgres or memory (memory is for tests and local runs).
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`

	// Lexical index (SQLite FTS5 file). ":memory:" keeps it in-process.
	LexicalIndexPath string `envconfig:"LEXICAL_INDEX_PATH" default:"chronologue-lex.db"`

	// Vector index: weaviate or memory.
	VectorStore string `envconfig:"VECTOR_STORE" default:"weaviate"`
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"weaviate:8080"`

	// Embedding / summarization providers. Provider "none" disables vectors;
	// search degrades to lexical-only.
	EmbedProvider  string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel     string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedDimension int    `envconfig:"EMBED_DIMENSION" default:"1024"`
	SummaryModel   string `envconfig:"SUMMARY_MODEL" default:"llama3.1"`
	OllamaURL      string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	// Ranking
	SearchTopK     int     `envconfig:"SEARCH_TOP_K" default:"50"`
	PageLimit      int     `envconfig:"PAGE_LIMIT" default:"20"`
	SemanticWeight float64 `envconfig:"SEMANTIC_WEIGHT" default:"0.7"`
	LexicalWeight  float64 `envconfig:"LEXICAL_WEIGHT" default:"0.3"`
	CoveredPenalty float64 `envconfig:"COVERED_PENALTY" default:"0.85"`

	// Chunking / context assembly
	ChunkTargetTokens  int `envconfig:"CHUNK_TARGET_TOKENS" default:"600"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"100"`
	ContextTokenBudget int `envconfig:"CONTEXT_TOKEN_BUDGET" default:"4000"`

	// Coordinator triggers
	SummarizeEveryMessages int    `envconfig:"SUMMARIZE_EVERY_MESSAGES" default:"10"`
	NightlySweepSpec       string `envconfig:"NIGHTLY_SWEEP_SPEC" default:"@hourly"`

	// Worker
	JobBatchSize    int `envconfig:"JOB_BATCH_SIZE" default:"50"`
	JobPollSeconds  int `envconfig:"JOB_POLL_SECONDS" default:"2"`
	ExternalTimeout int `envconfig:"EXTERNAL_TIMEOUT_SECONDS" default:"120"`
}

// ResolveDefaults validates driver selections and normalizes ranking weights.
func (c *Config) ResolveDefaults() error {
	allowedStore := map[string]bool{"postgres": true, "memory": true}
	if !allowedStore[c.StoreDriver] {
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	allowedVector := map[string]bool{"weaviate": true, "memory": true}
	if !allowedVector[c.VectorStore] {
		return fmt.Errorf("unsupported VECTOR_STORE: %s", c.VectorStore)
	}
	allowedEmbed := map[string]bool{"ollama": true, "none": true}
	if !allowedEmbed[c.EmbedProvider] {
		return fmt.Errorf("unsupported EMBED_PROVIDER: %s", c.EmbedProvider)
	}
	if c.StoreDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
	}
	if c.SemanticWeight+c.LexicalWeight <= 0 {
		return fmt.Errorf("ranking weights must sum to a positive value")
	}
	if c.PageLimit > 20 {
		c.PageLimit = 20 // hard cap, independent of top-K
	}
	if c.CoveredPenalty <= 0 || c.CoveredPenalty > 1 {
		return fmt.Errorf("COVERED_PENALTY must be in (0,1]")
	}
	return nil
}

// New creates a Config by parsing CHRONOLOGUE_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CHRONOLOGUE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("store_driver", cfg.StoreDriver).
		Str("vector_store", cfg.VectorStore).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Int("embed_dimension", cfg.EmbedDimension).
		Int("http_port", cfg.HTTPPort).
		Str("lexical_index_path", cfg.LexicalIndexPath).
		Str("weaviate_url", cfg.WeaviateURL).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns a config wired to in-process backends.
func NewForTesting() *Config {
	cfg := &Config{
		HTTPPort:               8080,
		StoreDriver:            "memory",
		LexicalIndexPath:       ":memory:",
		VectorStore:            "memory",
		EmbedProvider:          "none",
		EmbedModel:             "test-embed",
		EmbedDimension:         8,
		SummaryModel:           "none",
		SearchTopK:             50,
		PageLimit:              20,
		SemanticWeight:         0.7,
		LexicalWeight:          0.3,
		CoveredPenalty:         0.85,
		ChunkTargetTokens:      600,
		ChunkOverlapTokens:     100,
		ContextTokenBudget:     4000,
		SummarizeEveryMessages: 10,
		NightlySweepSpec:       "@hourly",
		JobBatchSize:           50,
		JobPollSeconds:         2,
		ExternalTimeout:        120,
	}
	return cfg
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
