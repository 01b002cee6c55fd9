package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronologue/chronologue/internal/model"
	"github.com/chronologue/chronologue/internal/store"
	"github.com/chronologue/chronologue/internal/vecindex"
)

// Queue kinds owned by the pipeline.
const (
	// JobKindEmbedTarget embeds one chunk or summary.
	JobKindEmbedTarget = "embed_target"
	// JobKindRebuild switches an owner's provider and re-embeds everything.
	JobKindRebuild = "rebuild_embeddings"
)

// Pipeline manages embedding-record state: pending on enqueue, ready or error
// after compute, bulk-pending on provider change.
type Pipeline struct {
	store    store.Store
	vec      vecindex.Index
	registry Registry
	timeout  time.Duration
	log      zerolog.Logger
}

func NewPipeline(s store.Store, vec vecindex.Index, reg Registry, timeout time.Duration, log zerolog.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Pipeline{store: s, vec: vec, registry: reg, timeout: timeout, log: log}
}

// Enqueue creates (or resets) the pending record for the target and schedules
// compute work. A no-op when the owner has embeddings disabled.
func (p *Pipeline) Enqueue(ctx context.Context, ownerID, kind, targetID string) error {
	owner, err := p.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner.EmbedProvider == "" || owner.EmbedProvider == "none" {
		return nil
	}
	rec := &model.EmbeddingRecord{
		OwnerID:    ownerID,
		TargetKind: kind,
		TargetID:   targetID,
		Provider:   owner.EmbedProvider,
		Model:      owner.EmbedModel,
		Dimension:  owner.EmbedDimension,
		Status:     model.EmbeddingPending,
	}
	if err := p.store.Embeddings().Put(ctx, rec); err != nil {
		return err
	}
	return p.store.Jobs().Enqueue(ctx, JobKindEmbedTarget, ownerID+"/"+kind+"/"+targetID, map[string]interface{}{
		"ownerId":  ownerID,
		"kind":     kind,
		"targetId": targetID,
	})
}

// Compute loads the target's text, calls the embedding provider, and stores
// the outcome. Provider failures return a retryable error after recording the
// error state; dimension violations are permanent and must not be retried.
func (p *Pipeline) Compute(ctx context.Context, ownerID, kind, targetID string) error {
	owner, err := p.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return err
	}
	provider, err := p.registry(owner.EmbedProvider, owner.EmbedModel)
	if err != nil {
		return err
	}
	if provider == nil {
		return nil // embeddings disabled since enqueue
	}

	text, payload, err := p.loadTarget(ctx, ownerID, kind, targetID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Target deleted since enqueue; drop the orphaned record.
			return p.store.Embeddings().Delete(ctx, ownerID, kind, targetID)
		}
		return err
	}
	if text == "" {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	vec, err := provider.Embed(cctx, text)
	if err != nil {
		if merr := p.store.Embeddings().MarkError(ctx, ownerID, kind, targetID, err.Error()); merr != nil {
			p.log.Error().Err(merr).Str("targetId", targetID).Msg("mark embedding error")
		}
		return fmt.Errorf("embed %s/%s: %v: %w", kind, targetID, err, model.ErrExternalCall)
	}

	norm, err := NormalizeDimension(vec, owner.EmbedDimension)
	if err != nil {
		if merr := p.store.Embeddings().MarkError(ctx, ownerID, kind, targetID, err.Error()); merr != nil {
			p.log.Error().Err(merr).Str("targetId", targetID).Msg("mark embedding error")
		}
		return err
	}

	if err := p.store.Embeddings().MarkReady(ctx, ownerID, kind, targetID, norm, owner.EmbedDimension); err != nil {
		return err
	}
	if err := p.vec.Upsert(ctx, ownerID, kind, targetID, norm, payload); err != nil {
		return fmt.Errorf("index vector %s/%s: %v: %w", kind, targetID, err, model.ErrExternalCall)
	}
	return nil
}

// Rebuild switches the owner to a new provider/model and requeues every
// embedding record, summaries first. Exactly one rebuild runs per owner; a
// concurrent attempt returns ErrConflict. Old-generation vectors are purged
// so the candidate set never mixes generations.
func (p *Pipeline) Rebuild(ctx context.Context, ownerID, provider, mdl string, dim int) error {
	release, ok, err := p.store.Locks().TryAcquire(ctx, "embed-rebuild/"+ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("embedding rebuild already running for owner: %w", model.ErrConflict)
	}
	defer release()

	owner, err := p.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return err
	}
	owner.EmbedProvider = provider
	owner.EmbedModel = mdl
	owner.EmbedDimension = dim
	if _, err := p.store.Owners().Put(ctx, owner); err != nil {
		return err
	}

	if err := p.vec.Purge(ctx, ownerID); err != nil {
		p.log.Warn().Err(err).Str("ownerId", ownerID).Msg("purge vector index")
	}

	recs, err := p.store.Embeddings().ResetAllPending(ctx, ownerID, provider, mdl, dim)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := p.store.Jobs().Enqueue(ctx, JobKindEmbedTarget, ownerID+"/"+r.TargetKind+"/"+r.TargetID, map[string]interface{}{
			"ownerId":  ownerID,
			"kind":     r.TargetKind,
			"targetId": r.TargetID,
		}); err != nil {
			return err
		}
	}
	p.log.Info().Str("ownerId", ownerID).Str("provider", provider).Str("model", mdl).
		Int("dimension", dim).Int("targets", len(recs)).Msg("embedding rebuild enqueued")
	return nil
}

// Deindex removes a deleted target from both the record store and the
// vector index.
func (p *Pipeline) Deindex(ctx context.Context, ownerID, kind, targetID string) error {
	if err := p.store.Embeddings().Delete(ctx, ownerID, kind, targetID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return p.vec.Delete(ctx, ownerID, kind, targetID)
}

// EmbedQuery embeds ad-hoc query text with the owner's current provider.
// Returns nil when embeddings are disabled for the owner.
func (p *Pipeline) EmbedQuery(ctx context.Context, ownerID, text string) ([]float32, error) {
	owner, err := p.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	provider, err := p.registry(owner.EmbedProvider, owner.EmbedModel)
	if err != nil || provider == nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	vec, err := provider.Embed(cctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %v: %w", err, model.ErrExternalCall)
	}
	return NormalizeDimension(vec, owner.EmbedDimension)
}

func (p *Pipeline) loadTarget(ctx context.Context, ownerID, kind, targetID string) (string, map[string]interface{}, error) {
	switch kind {
	case model.KindChunk:
		ch, err := p.store.Chunks().Get(ctx, ownerID, targetID)
		if err != nil {
			return "", nil, err
		}
		seg, err := p.store.Segments().Get(ctx, ownerID, ch.SegmentID)
		if err != nil {
			return "", nil, err
		}
		return ch.Text, map[string]interface{}{"streamId": ch.StreamID, "day": seg.Day}, nil
	case model.KindSummary:
		seg, err := p.store.Segments().Get(ctx, ownerID, targetID)
		if err != nil {
			return "", nil, err
		}
		return seg.Summary, map[string]interface{}{"streamId": seg.StreamID, "day": seg.Day}, nil
	default:
		return "", nil, fmt.Errorf("unknown embed target kind: %s", kind)
	}
}
