// Command backfill re-embeds an existing local index into a new embedding
// model's collection. It exports every chunk from the source collection,
// drops the stale vectors, and runs the batches back through the ingest
// pipeline against the target model and backend.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/VisionVault/visionvault-mvp/engine/catalog"
	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/engine/ingest"
	"github.com/VisionVault/visionvault-mvp/engine/vectorstore"
	"github.com/VisionVault/visionvault-mvp/pkg/mlworker"
)

func main() {
	var (
		dataDir     = flag.String("dir", "./data", "data root holding the local index")
		sourceModel = flag.String("source-model", "", "embedding model of the existing collection")
		targetModel = flag.String("target-model", "", "embedding model to re-embed with")
		backend     = flag.String("backend", "local", "target backend: local or qdrant")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		qdrantKey   = flag.String("qdrant-api-key", "", "Qdrant API key")
		collection  = flag.String("collection", "visionvault_chunks", "target collection namespace prefix")
		mlURL       = flag.String("ml-worker", "http://localhost:8500", "ML worker base URL")
		dbPath      = flag.String("db", "./data/catalog.db", "catalog database path")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if *sourceModel == "" || *targetModel == "" {
		log.Error("both -source-model and -target-model are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ml := mlworker.New(*mlURL)
	sourceDim, err := ml.LoadModel(ctx, *sourceModel)
	if err != nil {
		log.Error("source model load failed", "error", err)
		os.Exit(1)
	}
	targetDim, err := ml.LoadModel(ctx, *targetModel)
	if err != nil {
		log.Error("target model load failed", "error", err)
		os.Exit(1)
	}

	indexDir := filepath.Join(*dataDir, "index")
	source := vectorstore.NewLocal(indexDir, *sourceModel, sourceDim)
	chunks, err := source.Export(ctx)
	if err != nil {
		log.Error("export failed", "collection", source.Collection(), "error", err)
		os.Exit(1)
	}
	if len(chunks) == 0 {
		log.Info("source collection is empty, nothing to do", "collection", source.Collection())
		return
	}
	log.Info("exported source collection", "collection", source.Collection(), "chunks", len(chunks))

	var target vectorstore.Store
	switch *backend {
	case "qdrant":
		qs, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Addr:           *qdrantAddr,
			APIKey:         *qdrantKey,
			CollectionBase: *collection,
		}, *targetModel, targetDim)
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		if err := qs.EnsureCollection(ctx); err != nil {
			log.Error("qdrant ensure collection failed", "error", err)
			os.Exit(1)
		}
		target = qs
	case "local":
		target = vectorstore.NewLocal(indexDir, *targetModel, targetDim)
	default:
		log.Error("unknown backend", "backend", *backend)
		os.Exit(1)
	}
	defer target.Close()

	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Error("catalog open failed", "error", err)
		os.Exit(1)
	}
	defer cat.Close()

	pipeline := ingest.NewPipeline(ingest.Deps{
		Embedder:   ml,
		EmbedModel: *targetModel,
		Store:      target,
		Catalog:    cat,
		Logger:     log,
	})

	// Re-ingest per video so batch validation and catalog counts line up.
	byVideo := make(map[string][]domain.Chunk)
	var order []string
	for _, c := range chunks {
		if _, ok := byVideo[c.VideoID]; !ok {
			order = append(order, c.VideoID)
		}
		byVideo[c.VideoID] = append(byVideo[c.VideoID], c)
	}

	var done, failed int
	for _, videoID := range order {
		if ctx.Err() != nil {
			break
		}
		video, err := lookupVideo(ctx, cat, videoID)
		if err != nil {
			log.Warn("video not in catalog, synthesizing record", "video_id", videoID)
		}

		result := pipeline(ctx, domain.ChunkBatch{Video: video, Chunks: byVideo[videoID]})
		if ev, err := result.Unwrap(); err != nil {
			log.Error("re-embed failed", "video_id", videoID, "error", err)
			failed++
		} else {
			log.Info("re-embedded", "video_id", ev.VideoID, "chunks", ev.Chunks)
			done++
		}
	}

	log.Info("backfill complete",
		"videos", done,
		"failed", failed,
		"source", source.Collection(),
		"target_model", *targetModel,
	)
}

// lookupVideo fetches the catalog record, falling back to a synthetic local
// record so orphaned chunks still migrate.
func lookupVideo(ctx context.Context, cat *catalog.Catalog, videoID string) (domain.Video, error) {
	entry, err := cat.Get(ctx, videoID)
	if err == nil {
		return entry.Video, nil
	}
	return domain.Video{
		VideoID:    videoID,
		SourceType: domain.SourceLocal,
		Source:     "backfill:" + videoID,
	}, err
}
