// Package search implements the retrieval funnel: query embedding,
// over-fetching retrieval, optional cross-encoder reranking, adaptive
// confidence filtering, and the orchestrator that composes them into one
// request/response cycle.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// EmbedOracle is the opaque embedding capability, hosted out of process.
// Embed is deterministic: the same text yields the same vector.
type EmbedOracle interface {
	LoadModel(ctx context.Context, model string) (int, error)
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// QueryEmbedder maps query text into the embedding space of the stored
// chunks. The underlying model is a process-wide resource: loaded at most
// once on first use, shared by all concurrent requests afterwards. A load
// failure is sticky and surfaces as domain.ErrModelLoadFailure until the
// process is restarted.
type QueryEmbedder struct {
	oracle  EmbedOracle
	modelID string

	once sync.Once
	dim  int

	mu      sync.Mutex // guards loadErr against health probes during the first load
	loadErr error
}

// NewQueryEmbedder creates an embedder for the given model. The model is
// not loaded until the first Embed or Dimension call.
func NewQueryEmbedder(oracle EmbedOracle, modelID string) *QueryEmbedder {
	return &QueryEmbedder{oracle: oracle, modelID: modelID}
}

// ModelID returns the configured embedding model identifier.
func (e *QueryEmbedder) ModelID() string { return e.modelID }

func (e *QueryEmbedder) load(ctx context.Context) error {
	e.once.Do(func() {
		dim, err := e.oracle.LoadModel(ctx, e.modelID)
		if err != nil {
			e.mu.Lock()
			e.loadErr = errors.Join(domain.ErrModelLoadFailure, err)
			e.mu.Unlock()
			return
		}
		e.dim = dim
	})
	return e.LoadState()
}

// Dimension reports the model's output dimension, loading it if needed.
func (e *QueryEmbedder) Dimension(ctx context.Context) (int, error) {
	if err := e.load(ctx); err != nil {
		return 0, fmt.Errorf("search: embedder %s: %w", e.modelID, err)
	}
	return e.dim, nil
}

// Embed maps text to a vector of the model's dimension.
func (e *QueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.load(ctx); err != nil {
		return nil, fmt.Errorf("search: embedder %s: %w", e.modelID, err)
	}
	vec, err := e.oracle.Embed(ctx, e.modelID, text)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("search: embed query: %w", domain.NewDimensionError(e.dim, len(vec)))
	}
	return vec, nil
}

// LoadState reports the sticky load error, if the model has been tried.
// It never triggers a load itself, so health checks stay cheap and may run
// concurrently with the first load.
func (e *QueryEmbedder) LoadState() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}
