// Command extract-youtube fetches YouTube transcripts, windows them into
// timestamped chunk batches, and hands them to the ingest worker: over NATS
// when a server is configured, otherwise as JSON files in the ingest
// worker's watch directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/engine/extract"
	"github.com/VisionVault/visionvault-mvp/engine/ingest"
	"github.com/VisionVault/visionvault-mvp/pkg/natsutil"
)

func main() {
	var (
		videoIDs = flag.String("video-ids", "", "comma-separated YouTube video IDs")
		natsURL  = flag.String("nats", "", "NATS URL to publish batches to")
		outDir   = flag.String("out", "", "directory to write batch JSON files to")
		window   = flag.Float64("window", extract.DefaultWindow, "chunk window in seconds")
		overlap  = flag.Float64("overlap", extract.DefaultOverlap, "chunk overlap in seconds")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if *videoIDs == "" {
		fmt.Fprintln(os.Stderr, "error: -video-ids is required")
		os.Exit(1)
	}
	if *natsURL == "" && *outDir == "" {
		fmt.Fprintln(os.Stderr, "error: set -nats or -out")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var publish func(context.Context, domain.ChunkBatch) error
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("visionvault-extract"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		publish = func(ctx context.Context, b domain.ChunkBatch) error {
			return natsutil.Publish(ctx, nc, ingest.ChunksSubject, b)
		}

		// Surface ingest confirmations that arrive while we're still running.
		sub, err := natsutil.Subscribe(nc, ingest.DoneSubject, func(_ context.Context, ev ingest.DoneEvent) {
			log.Info("indexed", "video_id", ev.VideoID, "chunks", ev.Chunks)
		})
		if err != nil {
			log.Warn("done subscribe failed", "error", err)
		} else {
			defer sub.Unsubscribe()
		}
	} else {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Error("out dir", "error", err)
			os.Exit(1)
		}
		publish = func(_ context.Context, b domain.ChunkBatch) error {
			data, err := json.Marshal(b)
			if err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(*outDir, b.Video.VideoID+".json"), data, 0o644)
		}
	}

	var ids []string
	for _, id := range strings.Split(*videoIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	extractor := extract.NewYouTubeExtractor(extract.ChunkOpts{Window: *window, Overlap: *overlap})

	count := 0
	for batch := range extractor.ExtractVideoIDs(ctx, ids) {
		if err := publish(ctx, batch); err != nil {
			log.Error("publish failed", "video_id", batch.Video.VideoID, "error", err)
			continue
		}
		log.Info("batch published", "video_id", batch.Video.VideoID, "chunks", len(batch.Chunks))
		count++
	}
	log.Info("done", "videos", count)
}
