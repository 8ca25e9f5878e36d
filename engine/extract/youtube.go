// Package extract turns video transcripts into timestamped chunk batches
// ready for the ingest pipeline. Transcripts come from YouTube caption
// tracks; frame captioning happens elsewhere and joins the chunks through
// the caption field at ingest time.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// YouTubeExtractor fetches transcripts and produces chunk batches. A video
// already extracted in this process is skipped.
type YouTubeExtractor struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    ChunkOpts
	fetch   func(ctx context.Context, client *http.Client, videoID string) ([]Segment, error)
	seen    sync.Map
}

// NewYouTubeExtractor creates an extractor with the given chunking options.
func NewYouTubeExtractor(opts ChunkOpts) *YouTubeExtractor {
	return &YouTubeExtractor{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		opts:    opts,
		fetch:   FetchSegments,
	}
}

// ExtractVideo fetches one video's transcript and windows it into a batch.
// Chunks carry no embeddings; the ingest pipeline fills those in.
func (e *YouTubeExtractor) ExtractVideo(ctx context.Context, videoID, title string) (domain.ChunkBatch, error) {
	if _, loaded := e.seen.LoadOrStore(videoID, true); loaded {
		return domain.ChunkBatch{}, fmt.Errorf("extract: duplicate video %s", videoID)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.ChunkBatch{}, err
	}

	segs, err := e.fetch(ctx, e.client, videoID)
	if err != nil {
		return domain.ChunkBatch{}, err
	}

	batch := domain.ChunkBatch{
		Video: domain.Video{
			VideoID:    videoID,
			SourceType: domain.SourceYouTube,
			Source:     "https://www.youtube.com/watch?v=" + videoID,
			Title:      title,
		},
		Chunks: ChunkSegments(videoID, segs, e.opts),
	}
	if err := domain.ValidateBatch(batch); err != nil {
		return domain.ChunkBatch{}, fmt.Errorf("extract: %s: %w", videoID, err)
	}
	return batch, nil
}

// ExtractVideoIDs extracts the given videos, sending each finished batch on
// the returned channel so the caller can publish while extraction is still
// rate-limited upstream. Videos that fail to extract are logged and skipped.
func (e *YouTubeExtractor) ExtractVideoIDs(ctx context.Context, ids []string) <-chan domain.ChunkBatch {
	ch := make(chan domain.ChunkBatch, len(ids))
	go func() {
		defer close(ch)
		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			batch, err := e.ExtractVideo(ctx, id, "")
			if err != nil {
				slog.Warn("extract: skipping video", "video_id", id, "error", err)
				continue
			}
			ch <- batch
		}
	}()
	return ch
}
