package search

import (
	"context"
	"fmt"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// Searcher abstracts the vector store's search capability.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, videoID string) ([]domain.Candidate, error)
}

// Retriever over-fetches a ranked candidate pool from the vector store.
// Vector similarity is a recall mechanism, not a precision one: the pool
// is deliberately wider than the hit count callers want, so the reranker
// and adaptive filter have room to find the true best matches. A small
// video returning fewer than retrieveK candidates is normal, not an error.
type Retriever struct {
	store     Searcher
	retrieveK int
}

// NewRetriever creates a Retriever. retrieveK values below 1 fall back to
// the default over-fetch width.
func NewRetriever(store Searcher, retrieveK int) *Retriever {
	if retrieveK < 1 {
		retrieveK = DefaultRetrieveK
	}
	return &Retriever{store: store, retrieveK: retrieveK}
}

// Retrieve returns up to retrieveK candidates for the video, descending by
// similarity.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, videoID string) ([]domain.Candidate, error) {
	out, err := r.store.Search(ctx, vector, r.retrieveK, videoID)
	if err != nil {
		return nil, fmt.Errorf("search: retrieve: %w", err)
	}
	return out, nil
}
