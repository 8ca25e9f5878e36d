// Package catalog persists the video registry: which videos have been
// ingested, where they came from, and how many chunks each carries. The
// vector store holds the searchable chunks; the catalog is the durable
// answer to "what is video X".
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    video_id    TEXT PRIMARY KEY,
    source_type TEXT NOT NULL,
    source      TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    chunk_count INTEGER NOT NULL DEFAULT 0,
    ingested_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_videos_source_type ON videos(source_type);
`

// Catalog is a SQLite-backed video registry. Safe for concurrent use.
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog database at path and applies the
// schema. Use ":memory:" for an ephemeral catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	// WAL lets readers proceed during ingest writes; a single writer
	// connection avoids SQLITE_BUSY churn.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: enable WAL: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Save records a video and its chunk count. Re-ingesting the same video
// replaces the previous record, matching the store's overwrite semantics.
func (c *Catalog) Save(ctx context.Context, v domain.Video, chunkCount int) error {
	if err := domain.ValidateVideo(v); err != nil {
		return fmt.Errorf("catalog: save: %w", err)
	}
	query := `
		INSERT INTO videos (video_id, source_type, source, title, chunk_count, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			source_type = excluded.source_type,
			source      = excluded.source,
			title       = excluded.title,
			chunk_count = excluded.chunk_count,
			ingested_at = excluded.ingested_at
	`
	_, err := c.db.ExecContext(ctx, query,
		v.VideoID, string(v.SourceType), v.Source, v.Title, chunkCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: save %s: %w", v.VideoID, err)
	}
	return nil
}

// Entry is one catalog record.
type Entry struct {
	Video      domain.Video `json:"video"`
	ChunkCount int          `json:"chunk_count"`
	IngestedAt time.Time    `json:"ingested_at"`
}

// Get returns the catalog entry for a video, or domain.ErrVideoNotFound.
func (c *Catalog) Get(ctx context.Context, videoID string) (Entry, error) {
	query := `
		SELECT video_id, source_type, source, title, chunk_count, ingested_at
		FROM videos WHERE video_id = ?
	`
	var (
		e          Entry
		sourceType string
	)
	err := c.db.QueryRowContext(ctx, query, videoID).Scan(
		&e.Video.VideoID, &sourceType, &e.Video.Source, &e.Video.Title,
		&e.ChunkCount, &e.IngestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("catalog: %s: %w", videoID, domain.ErrVideoNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: get %s: %w", videoID, err)
	}
	e.Video.SourceType = domain.SourceType(sourceType)
	return e, nil
}

// List returns all catalog entries, newest ingest first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT video_id, source_type, source, title, chunk_count, ingested_at
		FROM videos ORDER BY ingested_at DESC, video_id
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			sourceType string
		)
		if err := rows.Scan(&e.Video.VideoID, &sourceType, &e.Video.Source,
			&e.Video.Title, &e.ChunkCount, &e.IngestedAt); err != nil {
			return nil, fmt.Errorf("catalog: list scan: %w", err)
		}
		e.Video.SourceType = domain.SourceType(sourceType)
		out = append(out, e)
	}
	return out, rows.Err()
}
