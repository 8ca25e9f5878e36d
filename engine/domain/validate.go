package domain

import "fmt"

// ValidateVideo checks a Video record before ingestion.
func ValidateVideo(v Video) error {
	if v.VideoID == "" {
		return fmt.Errorf("%w: video_id is empty", ErrInvalidVideo)
	}
	if !ValidSourceTypes[v.SourceType] {
		return fmt.Errorf("%w: unknown source_type %q", ErrInvalidVideo, v.SourceType)
	}
	if v.Source == "" {
		return fmt.Errorf("%w: source is empty", ErrInvalidVideo)
	}
	return nil
}

// ValidateChunk checks a Chunk before it is embedded or stored.
func ValidateChunk(c Chunk) error {
	if c.VideoID == "" {
		return fmt.Errorf("%w: video_id is empty", ErrInvalidChunk)
	}
	if c.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidChunk, c.Index)
	}
	if c.Start >= c.End {
		return fmt.Errorf("%w: start %.3f must precede end %.3f", ErrInvalidChunk, c.Start, c.End)
	}
	if c.Transcript == "" && c.Caption == "" {
		return fmt.Errorf("%w: no transcript or caption", ErrInvalidChunk)
	}
	return nil
}

// ValidateBatch checks a full ingest batch. Chunks must all belong to the
// batch's video.
func ValidateBatch(b ChunkBatch) error {
	if err := ValidateVideo(b.Video); err != nil {
		return err
	}
	for i, c := range b.Chunks {
		if err := ValidateChunk(c); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if c.VideoID != b.Video.VideoID {
			return fmt.Errorf("%w: chunk %d belongs to %q, batch is %q", ErrInvalidChunk, i, c.VideoID, b.Video.VideoID)
		}
	}
	return nil
}
