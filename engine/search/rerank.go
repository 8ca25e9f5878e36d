package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/pkg/fn"
)

// RerankOracle is the opaque cross-encoder capability: a pairwise,
// query-aware relevance score per candidate text.
type RerankOracle interface {
	LoadModel(ctx context.Context, model string) (int, error)
	Rerank(ctx context.Context, model, query string, texts []string) ([]float64, error)
}

// Reranker re-scores a candidate pool with a cross-encoder and re-sorts it
// by the new relevance score, replacing the similarity score entirely.
// Like the embedder, the model handle is a lazily-loaded process-wide
// singleton with a sticky load failure: if reranking was requested but the
// model cannot load, searches fail loudly instead of silently falling back
// to unreranked scores.
type Reranker struct {
	oracle  RerankOracle
	modelID string

	once sync.Once

	mu      sync.Mutex // guards loadErr against health probes during the first load
	loadErr error
}

// NewReranker creates a reranker for the given cross-encoder model.
func NewReranker(oracle RerankOracle, modelID string) *Reranker {
	return &Reranker{oracle: oracle, modelID: modelID}
}

// ModelID returns the configured rerank model identifier.
func (r *Reranker) ModelID() string { return r.modelID }

func (r *Reranker) load(ctx context.Context) error {
	r.once.Do(func() {
		if _, err := r.oracle.LoadModel(ctx, r.modelID); err != nil {
			r.mu.Lock()
			r.loadErr = errors.Join(domain.ErrModelLoadFailure, err)
			r.mu.Unlock()
		}
	})
	return r.LoadState()
}

// LoadState reports the sticky load error without triggering a load. Safe
// to call concurrently with the first load.
func (r *Reranker) LoadState() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadErr
}

// Rerank returns a new slice scored by cross-encoder relevance, descending.
// Ties keep the incoming (similarity) rank order.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []domain.Candidate) ([]domain.Candidate, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	if err := r.load(ctx); err != nil {
		return nil, fmt.Errorf("search: reranker %s: %w", r.modelID, err)
	}

	texts := fn.Map(cands, func(c domain.Candidate) string { return c.Text() })
	scores, err := r.oracle.Rerank(ctx, r.modelID, query, texts)
	if err != nil {
		return nil, fmt.Errorf("search: rerank: %w", err)
	}

	out := make([]domain.Candidate, len(cands))
	for i, c := range cands {
		c.Score = scores[i]
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
