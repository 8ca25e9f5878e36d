// Package main implements the VisionVault search API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/catalog"
	"github.com/VisionVault/visionvault-mvp/engine/search"
	"github.com/VisionVault/visionvault-mvp/engine/vectorstore"
	"github.com/VisionVault/visionvault-mvp/pkg/metrics"
	"github.com/VisionVault/visionvault-mvp/pkg/mid"
	"github.com/VisionVault/visionvault-mvp/pkg/mlworker"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	Backend        string // "local" or "qdrant"
	DataDir        string
	DBPath         string
	QdrantURL      string
	QdrantAPIKey   string
	CollectionBase string
	MLWorkerURL    string
	EmbedModel     string
	RerankEnable   bool
	RerankModel    string
	RetrieveK      int
	RelativeMin    float64
	DropoffGap     float64
	MinHitScore    float64
	MinReturnHits  int
	CORSOrigin     string
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		Backend:        envOr("VECTOR_BACKEND", "local"),
		DataDir:        envOr("DATA_DIR", "./data"),
		DBPath:         envOr("DB_PATH", "./data/catalog.db"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:   envOr("QDRANT_API_KEY", ""),
		CollectionBase: envOr("QDRANT_COLLECTION", "visionvault_chunks"),
		MLWorkerURL:    envOr("ML_WORKER_URL", "http://localhost:8500"),
		EmbedModel:     envOr("EMBED_MODEL", "BAAI/bge-base-en-v1.5"),
		RerankEnable:   envBool("RERANK_ENABLE", false),
		RerankModel:    envOr("RERANK_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
		RetrieveK:      envInt("RETRIEVE_K", search.DefaultRetrieveK),
		RelativeMin:    envFloat("RELATIVE_MIN", search.DefaultRelativeMin),
		DropoffGap:     envFloat("DROPOFF_GAP", search.DefaultDropoffGap),
		MinHitScore:    envFloat("MIN_HIT_SCORE", search.DefaultMinHitScore),
		MinReturnHits:  envInt("MIN_RETURN_HITS", search.DefaultMinReturnHits),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
	}
}

// validate rejects configurations that would misbehave quietly at runtime.
func (c Config) validate() error {
	if c.Backend != "local" && c.Backend != "qdrant" {
		return fmt.Errorf("VECTOR_BACKEND must be local or qdrant, got %q", c.Backend)
	}
	if c.RelativeMin < 0 || c.RelativeMin > 1 {
		return fmt.Errorf("RELATIVE_MIN must be in [0,1], got %g", c.RelativeMin)
	}
	if c.DropoffGap < 0 {
		return fmt.Errorf("DROPOFF_GAP must be non-negative, got %g", c.DropoffGap)
	}
	if c.RetrieveK < 1 {
		return fmt.Errorf("RETRIEVE_K must be at least 1, got %d", c.RetrieveK)
	}
	if c.MinReturnHits < 0 {
		return fmt.Errorf("MIN_RETURN_HITS must be non-negative, got %d", c.MinReturnHits)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- ML worker and embedding model ---
	// The model dimension pins the collection identity, so the embed model
	// is loaded eagerly even though query embedding is lazy.
	ml := mlworker.New(cfg.MLWorkerURL)
	dim, err := ml.LoadModel(ctx, cfg.EmbedModel)
	if err != nil {
		return fmt.Errorf("load embed model: %w", err)
	}
	logger.Info("embed model ready", "model", cfg.EmbedModel, "dimension", dim)

	// --- Vector store ---
	var store vectorstore.Store
	switch cfg.Backend {
	case "qdrant":
		qs, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Addr:           cfg.QdrantURL,
			APIKey:         cfg.QdrantAPIKey,
			CollectionBase: cfg.CollectionBase,
		}, cfg.EmbedModel, dim)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		if err := qs.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant collection: %w", err)
		}
		store = qs
	case "local":
		store = vectorstore.NewLocal(filepath.Join(cfg.DataDir, "index"), cfg.EmbedModel, dim)
	}
	defer store.Close()

	// --- Catalog ---
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	cat, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer cat.Close()

	// --- Search service ---
	embedder := search.NewQueryEmbedder(ml, cfg.EmbedModel)
	var reranker *search.Reranker
	if cfg.RerankEnable {
		reranker = search.NewReranker(ml, cfg.RerankModel)
	}
	opts := search.Options{
		RetrieveK:     cfg.RetrieveK,
		RelativeMin:   cfg.RelativeMin,
		DropoffGap:    cfg.DropoffGap,
		MinHitScore:   cfg.MinHitScore,
		MinReturnHits: cfg.MinReturnHits,
		TopK:          search.DefaultTopK,
		ThumbnailBase: "/api/videos",
	}
	var candidateReranker search.CandidateReranker
	if reranker != nil {
		candidateReranker = reranker
	}
	searchSvc := search.New(embedder, store, candidateReranker, opts, logger)

	srv := &server{
		search:    searchSvc,
		store:     store,
		embedder:  embedder,
		reranker:  reranker,
		catalog:   cat,
		framesDir: filepath.Join(cfg.DataDir, "frames"),
		registry:  metrics.New(),
		logger:    logger,
	}

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("visionvault-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "backend", cfg.Backend)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
