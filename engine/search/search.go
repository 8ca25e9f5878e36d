package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// Defaults for the retrieval funnel configuration surface.
const (
	DefaultRetrieveK     = 80
	DefaultRelativeMin   = 0.92
	DefaultDropoffGap    = 0.06
	DefaultMinHitScore   = 0
	DefaultMinReturnHits = 1
	DefaultTopK          = 5
)

// Embedder is the query-embedding capability the orchestrator consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CandidateReranker re-scores and re-sorts a candidate pool.
type CandidateReranker interface {
	Rerank(ctx context.Context, query string, cands []domain.Candidate) ([]domain.Candidate, error)
}

// Options configures the search pipeline.
type Options struct {
	RetrieveK     int
	RelativeMin   float64
	DropoffGap    float64
	MinHitScore   float64
	MinReturnHits int
	TopK          int
	// ThumbnailBase is the URL prefix thumbnails resolve under, e.g.
	// "/api/videos". Empty leaves thumbnail paths unresolved.
	ThumbnailBase string
}

// DefaultOptions returns the default funnel configuration.
func DefaultOptions() Options {
	return Options{
		RetrieveK:     DefaultRetrieveK,
		RelativeMin:   DefaultRelativeMin,
		DropoffGap:    DefaultDropoffGap,
		MinHitScore:   DefaultMinHitScore,
		MinReturnHits: DefaultMinReturnHits,
		TopK:          DefaultTopK,
	}
}

// Service composes embed, retrieve, rerank, and filter into one
// request/response cycle. Each call is independent and read-only against
// the store; the only shared state is the singleton model handles.
type Service struct {
	embed     Embedder
	retriever *Retriever
	reranker  CandidateReranker // nil when reranking is disabled
	opts      Options
	logger    *slog.Logger
}

// New creates the search orchestrator. Pass a nil reranker to rank by
// vector similarity alone.
func New(embed Embedder, store Searcher, reranker CandidateReranker, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embed:     embed,
		retriever: NewRetriever(store, opts.RetrieveK),
		reranker:  reranker,
		opts:      opts,
		logger:    logger,
	}
}

// Search returns the confidence-filtered, ranked moments of one video
// matching the query. topK values below 1 use the configured default. A
// video with no indexed chunks returns an empty list and no error.
func (s *Service) Search(ctx context.Context, videoID, query string, topK int) ([]domain.SearchHit, error) {
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if topK < 1 {
		topK = s.opts.TopK
	}

	vector, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	cands, err := s.retriever.Retrieve(ctx, vector, videoID)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("retrieved candidate pool", "video_id", videoID, "candidates", len(cands))

	// Score semantics (similarity vs. relevance) are internal to this one
	// invocation; the filter below sees only one kind.
	if s.reranker != nil {
		cands, err = s.reranker.Rerank(ctx, query, cands)
		if err != nil {
			return nil, err
		}
	}

	policy := FilterPolicy{
		RelativeMin:   s.opts.RelativeMin,
		DropoffGap:    s.opts.DropoffGap,
		MinHitScore:   s.opts.MinHitScore,
		MinReturnHits: s.opts.MinReturnHits,
		TopK:          topK,
	}
	kept := policy.Apply(cands)
	s.logger.Info("search complete", "video_id", videoID, "pool", len(cands), "hits", len(kept))

	hits := make([]domain.SearchHit, len(kept))
	for i, c := range kept {
		hits[i] = s.toHit(c)
	}
	return hits, nil
}

func (s *Service) toHit(c domain.Candidate) domain.SearchHit {
	hit := domain.SearchHit{
		VideoID:    c.VideoID,
		Start:      c.Start,
		End:        c.End,
		Score:      c.Score,
		Transcript: c.Transcript,
		Caption:    c.Caption,
	}
	if c.ThumbnailFile != "" {
		if s.opts.ThumbnailBase != "" {
			hit.ThumbnailPath = fmt.Sprintf("%s/%s/frames/%s", s.opts.ThumbnailBase, c.VideoID, c.ThumbnailFile)
		} else {
			hit.ThumbnailPath = c.ThumbnailFile
		}
	}
	return hit
}
