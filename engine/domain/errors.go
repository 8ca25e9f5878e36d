package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the retrieval engine.
var (
	// ErrDimensionMismatch is returned by a vector store when an upsert
	// carries a vector whose length differs from the collection's bound
	// dimension. The write is rejected, never coerced.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrBackendUnavailable is returned when the remote vector store stays
	// unreachable after the retry budget is exhausted.
	ErrBackendUnavailable = errors.New("vector store backend unavailable")

	// ErrModelLoadFailure is returned when an embedding or rerank model
	// failed to initialize. The failure is sticky for the process.
	ErrModelLoadFailure = errors.New("model failed to load")

	ErrInvalidChunk  = errors.New("invalid chunk")
	ErrInvalidVideo  = errors.New("invalid video")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrVideoNotFound = errors.New("video not found")
)

// DimensionError wraps ErrDimensionMismatch with the offending sizes.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionError creates a DimensionError.
func NewDimensionError(want, got int) *DimensionError {
	return &DimensionError{Want: want, Got: got}
}
