package embeddings

import (
	"context"
	"fmt"

	"github.com/chronologue/chronologue/internal/model"
)

// Provider produces vector representations for text. Implementations do not
// retry; the job runner owns the retry policy.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Registry resolves a provider name + model to a Provider. Dispatch is a
// closed set of variants, not dynamic loading; "none" resolves to nil, which
// disables vectors for the owner and degrades search to lexical-only.
type Registry func(provider, mdl string) (Provider, error)

// NormalizeDimension fits a vector to the configured fixed dimension.
// Shorter vectors are zero-padded on the right. Longer vectors are rejected:
// truncation silently discards signal and must not happen.
func NormalizeDimension(vec []float32, dim int) ([]float32, error) {
	if len(vec) > dim {
		return nil, fmt.Errorf("vector has %d dimensions, store is fixed at %d: %w",
			len(vec), dim, model.ErrDimensionExceeded)
	}
	if len(vec) == dim {
		return vec, nil
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out, nil
}
