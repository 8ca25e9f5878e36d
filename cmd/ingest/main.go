// Command ingest consumes chunk batches and indexes them into the vector
// store and catalog. Batches arrive over NATS from the extraction pipeline,
// or from JSON files dropped into a watched directory for offline runs.
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
	"time"

	"github.com/nats-io/nats.go"

	"github.com/VisionVault/visionvault-mvp/engine/catalog"
	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/engine/ingest"
	"github.com/VisionVault/visionvault-mvp/engine/vectorstore"
	"github.com/VisionVault/visionvault-mvp/pkg/fn"
	"github.com/VisionVault/visionvault-mvp/pkg/metrics"
	"github.com/VisionVault/visionvault-mvp/pkg/mlworker"
)

var met = metrics.New()

var (
	mBatchesTotal = met.Counter("visionvault_ingest_batches_total", "Chunk batches ingested")
	mChunksTotal  = met.Counter("visionvault_ingest_chunks_total", "Chunks indexed")
	mErrorsTotal  = func(stage string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("visionvault_ingest_errors_total", "stage", stage), "Ingestion errors")
	}
	mFilesProcessed = met.Counter("visionvault_ingest_files_processed_total", "Batch files processed")
	mQueueDepth     = met.Gauge("visionvault_ingest_queue_depth", "Batches waiting to process")
	mLastScan       = met.Gauge("visionvault_ingest_last_scan_timestamp", "Epoch of last directory scan")
	mPipelineDur    = met.Histogram("visionvault_ingest_pipeline_duration_seconds", "Per-batch pipeline time", nil)
)

func main() {
	var (
		dataDir     = flag.String("dir", "./data", "data root (index, frames, batch drop-in)")
		watchDir    = flag.String("watch", "", "directory to scan for chunk batch JSON files (empty disables)")
		natsURL     = flag.String("nats", "", "NATS URL to consume chunk batches from (empty disables)")
		mlURL       = flag.String("ml-worker", "http://localhost:8500", "ML worker base URL")
		embedModel  = flag.String("model", "BAAI/bge-base-en-v1.5", "embedding model")
		backend     = flag.String("backend", "local", "vector backend: local or qdrant")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		qdrantKey   = flag.String("qdrant-api-key", "", "Qdrant API key")
		collection  = flag.String("collection", "visionvault_chunks", "collection namespace prefix")
		dbPath      = flag.String("db", "./data/catalog.db", "catalog database path")
		interval    = flag.Duration("interval", 30*time.Second, "scan interval")
		stateFile   = flag.String("state", "", "processed files state (default <watch>/.ingest-state.json)")
		metricsPort = flag.Int("metrics-port", 9091, "metrics listen port")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The embed model's dimension pins the collection identity.
	ml := mlworker.New(*mlURL)
	dim, err := ml.LoadModel(ctx, *embedModel)
	if err != nil {
		log.Error("embed model load failed", "error", err)
		os.Exit(1)
	}
	log.Info("embed model ready", "model", *embedModel, "dimension", dim)

	var store vectorstore.Store
	switch *backend {
	case "qdrant":
		qs, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Addr:           *qdrantAddr,
			APIKey:         *qdrantKey,
			CollectionBase: *collection,
		}, *embedModel, dim)
		if err != nil {
			log.Error("qdrant connect failed", "error", err)
			os.Exit(1)
		}
		if err := qs.EnsureCollection(ctx); err != nil {
			log.Error("qdrant ensure collection failed", "error", err)
			os.Exit(1)
		}
		store = qs
	case "local":
		store = vectorstore.NewLocal(filepath.Join(*dataDir, "index"), *embedModel, dim)
	default:
		log.Error("unknown backend", "backend", *backend)
		os.Exit(1)
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		log.Error("data dir", "error", err)
		os.Exit(1)
	}
	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Error("catalog open failed", "error", err)
		os.Exit(1)
	}
	defer cat.Close()

	deps := ingest.Deps{
		Embedder:   ml,
		EmbedModel: *embedModel,
		Store:      store,
		Catalog:    cat,
		Logger:     log,
	}
	pipeline := ingest.NewPipeline(deps)

	// NATS consumer.
	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL, nats.Name("visionvault-ingest"))
		if err != nil {
			log.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()

		sub, err := ingest.StartConsumer(nc, deps)
		if err != nil {
			log.Error("nats subscribe failed", "error", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()

		mon, err := ingest.StartDLQMonitor(nc, log, func(string) { mErrorsTotal("dlq").Inc() })
		if err != nil {
			log.Error("dlq subscribe failed", "error", err)
			os.Exit(1)
		}
		defer mon.Unsubscribe()
		log.Info("consuming chunk batches", "subject", ingest.ChunksSubject)
	}

	if *watchDir == "" {
		if *natsURL == "" {
			log.Error("nothing to do: set -nats or -watch")
			os.Exit(1)
		}
		<-ctx.Done()
		log.Info("shutting down")
		return
	}

	// Directory watcher for offline batch files.
	if *stateFile == "" {
		*stateFile = filepath.Join(*watchDir, ".ingest-state.json")
	}
	processed := loadState(*stateFile)
	_ = os.MkdirAll(*watchDir, 0o755)
	log.Info("watching for batch files", "dir", *watchDir, "interval", *interval)

	scan := func() {
		mLastScan.Set(time.Now().Unix())
		entries, err := os.ReadDir(*watchDir)
		if err != nil {
			mErrorsTotal("scan").Inc()
			log.Error("readdir failed", "error", err)
			return
		}

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name()[0] == '.' {
				continue
			}
			info, _ := e.Info()
			key := e.Name()
			if info != nil {
				key = fmt.Sprintf("%s:%d", e.Name(), info.Size())
			}
			if processed[key] {
				continue
			}

			path := filepath.Join(*watchDir, e.Name())
			mQueueDepth.Inc()
			ok := processFile(ctx, path, pipeline, log)
			mQueueDepth.Dec()
			mFilesProcessed.Inc()

			// Failed files stay unmarked so the next scan retries them.
			if ok {
				processed[key] = true
				saveState(*stateFile, processed)
			} else {
				log.Warn("batch file failed, will retry on next scan", "file", e.Name())
			}
		}
	}

	scan()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-ticker.C:
			scan()
		}
	}
}

// processFile ingests one chunk-batch JSON file.
func processFile(ctx context.Context, path string, pipeline fn.Stage[domain.ChunkBatch, ingest.DoneEvent], log *slog.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		mErrorsTotal("read").Inc()
		log.Error("read failed", "file", path, "error", err)
		return false
	}

	var batch domain.ChunkBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		mErrorsTotal("decode").Inc()
		log.Error("decode failed", "file", path, "error", err)
		return false
	}

	start := time.Now()
	result := pipeline(ctx, batch)
	mPipelineDur.Since(start)

	done, err := result.Unwrap()
	if err != nil {
		mErrorsTotal("pipeline").Inc()
		log.Error("pipeline error", "video_id", batch.Video.VideoID, "error", err)
		return false
	}

	mBatchesTotal.Inc()
	mChunksTotal.Add(int64(done.Chunks))
	log.Info("batch ingested", "video_id", done.VideoID, "chunks", done.Chunks)
	return true
}

func loadState(path string) map[string]bool {
	m := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return m
	}
	_ = json.Unmarshal(data, &m)
	return m
}

func saveState(path string, m map[string]bool) {
	data, _ := json.Marshal(m)
	_ = os.WriteFile(path, data, 0o644)
}
