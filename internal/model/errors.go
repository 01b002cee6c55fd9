package model

import "errors"

var (
	// ErrNotFound covers unknown owner/stream/target lookups. It never leaks
	// whether the target exists under another owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange marks a chunk or segment boundary that violates an
	// invariant. Rejected at construction, never clamped.
	ErrInvalidRange = errors.New("invalid range")

	// ErrDimensionExceeded is returned for vectors larger than the configured
	// dimension. Truncation would silently discard signal, so it is an error.
	ErrDimensionExceeded = errors.New("embedding dimension exceeded")

	// ErrExternalCall wraps embedding/summarization failures and timeouts.
	// Retryable by the job runner.
	ErrExternalCall = errors.New("external call failed")

	// ErrStaleUpdate means a re-acquired lock found the segment marker no
	// longer matching. The computed result is discarded, not an API error.
	ErrStaleUpdate = errors.New("stale update")

	// ErrConflict marks unique-constraint violations surfaced to callers.
	ErrConflict = errors.New("conflict")
)
