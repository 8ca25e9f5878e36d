// Package domain defines the core types, constants, and validation for the
// VisionVault retrieval engine. It acts as the validation gate at pipeline
// entry points.
package domain

import "strings"

// SourceType identifies where a video was ingested from.
type SourceType string

const (
	SourceYouTube SourceType = "youtube"
	SourceLocal   SourceType = "local"
)

// ValidSourceTypes is the set of recognised video sources.
var ValidSourceTypes = map[SourceType]bool{
	SourceYouTube: true,
	SourceLocal:   true,
}

// Video is the ingest-time record for one video. Created once, read-only
// for search purposes.
type Video struct {
	VideoID    string     `json:"video_id"`
	SourceType SourceType `json:"source_type"`
	Source     string     `json:"source"`
	Title      string     `json:"title,omitempty"`
}

// Chunk is one timestamped moment of a video: a transcript segment aligned
// with the frame captions that overlap it. Immutable once written.
type Chunk struct {
	VideoID       string    `json:"video_id"`
	Index         int       `json:"index"`
	Start         float64   `json:"start"`
	End           float64   `json:"end"`
	Transcript    string    `json:"transcript"`
	Caption       string    `json:"caption,omitempty"`
	ThumbnailFile string    `json:"thumbnail_file,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// Text is the embeddable/rerankable content of the chunk: the transcript,
// with the caption appended when one exists.
func (c Chunk) Text() string {
	if c.Caption == "" {
		return c.Transcript
	}
	return strings.TrimSpace(c.Transcript + " " + c.Caption)
}

// Candidate is a Chunk plus the score assigned by retrieval (vector
// similarity) or reranking (cross-encoder relevance). The score scale
// differs by source; callers must not compare scores across a rerank
// enable/disable toggle.
type Candidate struct {
	Chunk
	Score float64 `json:"score"`
}

// SearchHit is the externally visible projection of a Candidate.
type SearchHit struct {
	VideoID       string  `json:"video_id"`
	Start         float64 `json:"start"`
	End           float64 `json:"end"`
	Score         float64 `json:"score"`
	Transcript    string  `json:"transcript"`
	Caption       string  `json:"caption"`
	ThumbnailPath string  `json:"thumbnail_path,omitempty"`
}

// ChunkBatch is the unit of ingestion: the full chunk set for one video,
// delivered once per ingest at the upsert boundary. Embeddings may be
// absent; the ingest worker fills them in before storage.
type ChunkBatch struct {
	Video  Video   `json:"video"`
	Chunks []Chunk `json:"chunks"`
}
