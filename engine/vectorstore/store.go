// Package vectorstore persists and retrieves chunk embeddings. Two
// interchangeable backends implement Store: a Qdrant-backed remote store
// and a local in-process index. The backend is selected once at startup,
// never per request.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/google/uuid"
)

// Store is the capability set shared by both backends.
//
// Upsert rejects chunks whose embedding dimension differs from the
// collection's bound dimension and assigns stable ids derived from
// (video_id, chunk index), so re-ingesting a video overwrites rather than
// duplicates. Search returns candidates in strictly descending similarity
// order, scoped to one video; a video with no indexed chunks yields an
// empty list, not an error.
type Store interface {
	Upsert(ctx context.Context, chunks []domain.Chunk) ([]string, error)
	Search(ctx context.Context, vector []float32, topK int, videoID string) ([]domain.Candidate, error)
	Health(ctx context.Context) (Status, error)
	Close() error
}

// Status reports backend reachability and the active collection identity.
type Status struct {
	Backend    string `json:"backend"`
	OK         bool   `json:"ok"`
	Collection string `json:"collection"`
	ModelID    string `json:"model_id"`
	Dimension  int    `json:"dimension"`
	Detail     string `json:"detail,omitempty"`
}

// CollectionName derives the collection for an (embedding model, dimension)
// pair. It is a pure function of its inputs: restarts reattach to the same
// collection, and a model or dimension change lands in a fresh namespace
// instead of corrupting an existing one.
func CollectionName(base, modelID string, dim int) string {
	return fmt.Sprintf("%s_%s_d%d", base, slug(modelID), dim)
}

// slug lowercases a model id and folds everything outside [a-z0-9] to '_'.
func slug(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}

// PointID returns the deterministic id for a chunk: a UUIDv5 of
// video_id:index. Repeated ingests of the same video produce the same ids.
func PointID(videoID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "visionvault:%s:%d", videoID, index)).String()
}

// checkDims verifies every chunk embedding against the bound dimension.
func checkDims(chunks []domain.Chunk, dim int) error {
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %d: %w", i, domain.NewDimensionError(dim, len(c.Embedding)))
		}
	}
	return nil
}
