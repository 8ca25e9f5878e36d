package extract

import (
	"strings"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// Chunking defaults, in seconds. Windows wide enough to carry a full
// thought, with overlap so a moment straddling a boundary is findable
// from either side.
const (
	DefaultWindow  = 30.0
	DefaultOverlap = 5.0
)

// ChunkOpts configures transcript windowing.
type ChunkOpts struct {
	Window  float64
	Overlap float64
}

// DefaultChunkOpts returns the default windowing configuration.
func DefaultChunkOpts() ChunkOpts {
	return ChunkOpts{Window: DefaultWindow, Overlap: DefaultOverlap}
}

// ChunkSegments merges timed segments into fixed-width transcript chunks.
// Segment boundaries are respected: a segment is never split, so a chunk
// may run slightly past the window. Consecutive chunks share the segments
// from the previous chunk's last Overlap seconds.
func ChunkSegments(videoID string, segs []Segment, opts ChunkOpts) []domain.Chunk {
	if len(segs) == 0 {
		return nil
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.Window {
		opts.Overlap = DefaultOverlap
	}

	var chunks []domain.Chunk
	i := 0
	for i < len(segs) {
		start := segs[i].Start
		end := segs[i].End
		var texts []string

		j := i
		for j < len(segs) && segs[j].Start < start+opts.Window {
			texts = append(texts, segs[j].Text)
			if segs[j].End > end {
				end = segs[j].End
			}
			j++
		}

		chunks = append(chunks, domain.Chunk{
			VideoID:    videoID,
			Index:      len(chunks),
			Start:      start,
			End:        end,
			Transcript: strings.Join(texts, " "),
		})
		if j >= len(segs) {
			break
		}

		// Back up to the first segment inside the overlap tail.
		next := j
		for next > i+1 && segs[next-1].Start >= end-opts.Overlap {
			next--
		}
		i = next
	}
	return chunks
}
