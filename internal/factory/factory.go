// Package factory builds concrete backends from configuration.
package factory

import (
	"context"
	"fmt"

	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/embeddings"
	"github.com/chronologue/chronologue/internal/embeddings/ollama"
	"github.com/chronologue/chronologue/internal/lexindex"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/store/memstore"
	"github.com/chronologue/chronologue/internal/store/postgres"
	"github.com/chronologue/chronologue/internal/summarizer"
	"github.com/chronologue/chronologue/internal/vecindex"
)

// NewStore opens the configured persistence driver. The postgres driver also
// applies the schema, which is idempotent.
func NewStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memstore.New(), nil
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgres.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewLexIndex opens the SQLite FTS index at the configured path.
func NewLexIndex(cfg *config.Config) (lexindex.Index, error) {
	return lexindex.OpenSQLite(cfg.LexicalIndexPath)
}

// NewVecIndex builds the vector backend. Weaviate gets its class bootstrap
// here so workers and the service can both start against an empty instance.
func NewVecIndex(ctx context.Context, cfg *config.Config) (vecindex.Index, error) {
	switch cfg.VectorStore {
	case "memory":
		return vecindex.NewMemIndex(), nil
	case "weaviate":
		if err := vecindex.BootstrapWeaviate(ctx, cfg.WeaviateURL); err != nil {
			return nil, fmt.Errorf("bootstrap weaviate: %w", err)
		}
		return vecindex.NewWeaviateIndex(cfg.WeaviateURL)
	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
	}
}

// NewEmbeddingRegistry resolves per-owner embedding providers. Owners with
// provider "none" (or empty) get a nil provider, which disables embedding
// for them without erroring.
func NewEmbeddingRegistry(cfg *config.Config) embeddings.Registry {
	return func(provider, mdl string) (embeddings.Provider, error) {
		switch provider {
		case "", "none":
			return nil, nil
		case "ollama":
			return ollama.New(cfg.OllamaURL, mdl), nil
		default:
			return nil, fmt.Errorf("unknown embedding provider %q", provider)
		}
	}
}

// NewSummarizer picks the generation backend, falling back to the
// deterministic extractive summarizer when no model is configured.
func NewSummarizer(cfg *config.Config) summarizer.Summarizer {
	if cfg.SummaryModel != "" && cfg.SummaryModel != "none" {
		return summarizer.NewOllama(cfg.OllamaURL, cfg.SummaryModel)
	}
	return summarizer.Extractive{}
}
