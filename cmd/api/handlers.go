package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/catalog"
	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/engine/search"
	"github.com/VisionVault/visionvault-mvp/engine/vectorstore"
	"github.com/VisionVault/visionvault-mvp/pkg/metrics"
)

type server struct {
	search    *search.Service
	store     vectorstore.Store
	embedder  *search.QueryEmbedder
	reranker  *search.Reranker // nil when reranking is disabled
	catalog   *catalog.Catalog
	framesDir string
	registry  *metrics.Registry
	logger    *slog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/videos", s.handleListVideos)
	mux.HandleFunc("GET /api/videos/{id}", s.handleGetVideo)
	mux.HandleFunc("GET /api/videos/{id}/frames/{file}", s.handleFrame)
	mux.Handle("GET /metrics", s.registry.Handler())
	return mux
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	VideoID string `json:"video_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k,omitempty"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	VideoID string             `json:"video_id"`
	Query   string             `json:"query"`
	Hits    []domain.SearchHit `json:"hits"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoID == "" {
		writeError(w, http.StatusBadRequest, "video_id is required")
		return
	}

	start := time.Now()
	s.registry.Counter("visionvault_searches_total", "Search requests received.").Inc()

	hits, err := s.search.Search(r.Context(), req.VideoID, req.Query, req.TopK)
	s.registry.Histogram("visionvault_search_duration_seconds", "Search latency.", nil).Since(start)
	if err != nil {
		status, msg := searchErrorStatus(err)
		s.registry.Counter(metrics.WithLabels("visionvault_search_errors_total", "status", http.StatusText(status)), "Failed searches.").Inc()
		if status >= http.StatusInternalServerError {
			s.logger.Error("search failed", "err", err, "video_id", req.VideoID)
		}
		writeError(w, status, msg)
		return
	}

	if hits == nil {
		hits = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{VideoID: req.VideoID, Query: req.Query, Hits: hits})
}

// searchErrorStatus maps pipeline errors to HTTP statuses. Infrastructure
// faults are 503 so callers can distinguish "try later" from "bad request".
func searchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery):
		return http.StatusBadRequest, "query is required"
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusBadRequest, "embedding dimension mismatch"
	case errors.Is(err, domain.ErrModelLoadFailure):
		return http.StatusServiceUnavailable, "model unavailable"
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "vector store unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// HealthResponse reports the store and model readiness.
type HealthResponse struct {
	Status string             `json:"status"`
	Store  vectorstore.Status `json:"store"`
	Models []ModelStatus      `json:"models"`
}

// ModelStatus is the readiness of one lazily-loaded model.
type ModelStatus struct {
	Role  string `json:"role"`
	Model string `json:"model"`
	Error string `json:"error,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, storeErr := s.store.Health(r.Context())

	resp := HealthResponse{Status: "ok", Store: st}
	embed := ModelStatus{Role: "embed", Model: s.embedder.ModelID()}
	if err := s.embedder.LoadState(); err != nil {
		embed.Error = err.Error()
		resp.Status = "degraded"
	}
	resp.Models = append(resp.Models, embed)

	if s.reranker != nil {
		rr := ModelStatus{Role: "rerank", Model: s.reranker.ModelID()}
		if err := s.reranker.LoadState(); err != nil {
			rr.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Models = append(resp.Models, rr)
	}

	code := http.StatusOK
	if storeErr != nil {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.List(r.Context())
	if err != nil {
		s.logger.Error("catalog list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string][]catalog.Entry{"videos": entries})
}

func (s *server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	entry, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrVideoNotFound) {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	if err != nil {
		s.logger.Error("catalog get failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleFrame serves a thumbnail frame. File names follow the extraction
// pipeline's frame_<n>.jpg convention; anything else is rejected before
// touching the filesystem.
func (s *server) handleFrame(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	file := r.PathValue("file")

	if !validFrameName(file) || strings.ContainsAny(videoID, `/\`) || videoID == ".." {
		writeError(w, http.StatusBadRequest, "invalid frame path")
		return
	}

	dir := filepath.Join(s.framesDir, videoID)
	path := filepath.Join(dir, file)
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid frame path")
		return
	}
	http.ServeFile(w, r, path)
}

func validFrameName(file string) bool {
	if !strings.HasPrefix(file, "frame_") {
		return false
	}
	if strings.ContainsAny(file, `/\`) || strings.Contains(file, "..") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".jpg" || ext == ".jpeg"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
