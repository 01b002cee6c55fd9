package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/assembler"
	"github.com/chronologue/chronologue/internal/chunker"
	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/coordinator"
	"github.com/chronologue/chronologue/internal/embeddings"
	"github.com/chronologue/chronologue/internal/health"
	"github.com/chronologue/chronologue/internal/lexindex"
	"github.com/chronologue/chronologue/internal/ranker"
	"github.com/chronologue/chronologue/internal/segmenter"
	"github.com/chronologue/chronologue/internal/services"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/vecindex"
)

// Engine bundles every wired component. Both the HTTP service and the job
// worker build the same engine so their behavior cannot drift.
type Engine struct {
	Store       store.Store
	Lex         lexindex.Index
	Vec         vecindex.Index
	Pipeline    *embeddings.Pipeline
	Coordinator *coordinator.Coordinator
	Ranker      *ranker.Ranker
	Assembler   *assembler.Assembler
	Owners      *services.OwnerService
	Recall      *services.RecallService
	Health      *health.Checker
}

func NewEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Engine, error) {
	st, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	lex, err := NewLexIndex(cfg)
	if err != nil {
		return nil, err
	}
	vec, err := NewVecIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.ExternalTimeout) * time.Second
	registry := NewEmbeddingRegistry(cfg)
	pipe := embeddings.NewPipeline(st, vec, registry, timeout, log)

	seg := segmenter.New(st)
	ch := chunker.New(st, chunker.Config{
		TargetTokens:  cfg.ChunkTargetTokens,
		OverlapTokens: cfg.ChunkOverlapTokens,
	})
	coord := coordinator.New(st, seg, ch, lex, pipe, NewSummarizer(cfg), coordinator.Config{
		SummarizeEvery:  cfg.SummarizeEveryMessages,
		TokenBudget:     cfg.ContextTokenBudget,
		ExternalTimeout: timeout,
	}, log)

	rank := ranker.New(st, lex, vec, pipe, ranker.Weights{
		Semantic:       cfg.SemanticWeight,
		Lexical:        cfg.LexicalWeight,
		CoveredPenalty: cfg.CoveredPenalty,
		TopK:           cfg.SearchTopK,
		PageLimit:      cfg.PageLimit,
	}, log)
	asm := assembler.New(st, cfg.ContextTokenBudget, log)

	checker := health.NewChecker(3 * time.Second)
	if p, ok := st.(health.Pinger); ok {
		checker.Register("store", p)
	}
	if p, ok := vec.(health.Pinger); ok {
		checker.Register("vector-index", p)
	}

	return &Engine{
		Store:       st,
		Lex:         lex,
		Vec:         vec,
		Pipeline:    pipe,
		Coordinator: coord,
		Ranker:      rank,
		Assembler:   asm,
		Owners: services.NewOwnerService(st, services.EmbedDefaults{
			Provider:  cfg.EmbedProvider,
			Model:     cfg.EmbedModel,
			Dimension: cfg.EmbedDimension,
		}),
		Recall: services.NewRecallService(st, coord, rank, asm),
		Health: checker,
	}, nil
}

// Close releases engine resources that hold open handles.
func (e *Engine) Close() error {
	return e.Lex.Close()
}
