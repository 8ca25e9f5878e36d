package vectorstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

// On-disk layout of a local collection directory:
//
//	manifest.json  collection identity and vector count
//	chunks.jsonl   one chunk payload per line, embedding omitted
//	vectors.f32    little-endian float32 rows, dim per row
const (
	manifestFile = "manifest.json"
	chunksFile   = "chunks.jsonl"
	vectorsFile  = "vectors.f32"
)

type manifest struct {
	ModelID   string `json:"model_id"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
	UpdatedAt string `json:"updated_at"`
}

type localEntry struct {
	ID    string       `json:"id"`
	Chunk domain.Chunk `json:"chunk"`
}

// LocalStore is the in-process backend: an exact cosine index over all
// chunks, persisted under one directory per collection. Single process,
// no network.
type LocalStore struct {
	mu         sync.RWMutex
	dir        string
	collection string
	modelID    string
	dim        int
	loaded     bool
	entries    []localEntry
	vectors    [][]float32
	byID       map[string]int
}

// NewLocal creates a local store rooted at baseDir. Each (modelID, dim)
// pair gets its own collection subdirectory, so a model switch lands in a
// fresh namespace.
func NewLocal(baseDir, modelID string, dim int) *LocalStore {
	collection := CollectionName("visionvault_chunks", modelID, dim)
	return &LocalStore{
		dir:        filepath.Join(baseDir, collection),
		collection: collection,
		modelID:    modelID,
		dim:        dim,
		byID:       make(map[string]int),
	}
}

// Close is a no-op for the local backend.
func (s *LocalStore) Close() error { return nil }

// Collection returns the bound collection name.
func (s *LocalStore) Collection() string { return s.collection }

// load reads the on-disk index once. Missing files mean an empty index.
// Must hold mu for writing.
func (s *LocalStore) load() error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	mb, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("vectorstore: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return fmt.Errorf("vectorstore: parse manifest: %w", err)
	}
	if m.Dimension != s.dim {
		// A stale directory from another model/dim layout; collection
		// naming should prevent this, so refuse rather than misread.
		return fmt.Errorf("vectorstore: manifest in %s: %w", s.dir, domain.NewDimensionError(s.dim, m.Dimension))
	}

	cf, err := os.Open(filepath.Join(s.dir, chunksFile))
	if err != nil {
		return fmt.Errorf("vectorstore: open chunks: %w", err)
	}
	defer cf.Close()
	sc := bufio.NewScanner(cf)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		var e localEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("vectorstore: parse chunk line %d: %w", len(s.entries), err)
		}
		s.byID[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("vectorstore: scan chunks: %w", err)
	}

	vf, err := os.Open(filepath.Join(s.dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("vectorstore: open vectors: %w", err)
	}
	defer vf.Close()
	br := bufio.NewReader(vf)
	s.vectors = make([][]float32, len(s.entries))
	for i := range s.vectors {
		row := make([]float32, s.dim)
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return fmt.Errorf("vectorstore: read vector row %d: %w", i, err)
		}
		s.vectors[i] = row
	}
	return nil
}

// persist writes the whole index back to disk. Must hold mu.
func (s *LocalStore) persist() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("vectorstore: create dir %s: %w", s.dir, err)
	}

	cf, err := os.Create(filepath.Join(s.dir, chunksFile))
	if err != nil {
		return fmt.Errorf("vectorstore: create chunks file: %w", err)
	}
	bw := bufio.NewWriter(cf)
	for _, e := range s.entries {
		line, err := json.Marshal(e)
		if err != nil {
			_ = cf.Close()
			return err
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		_ = cf.Close()
		return err
	}
	if err := cf.Close(); err != nil {
		return err
	}

	vf, err := os.Create(filepath.Join(s.dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("vectorstore: create vectors file: %w", err)
	}
	vw := bufio.NewWriter(vf)
	for _, v := range s.vectors {
		if err := binary.Write(vw, binary.LittleEndian, v); err != nil {
			_ = vf.Close()
			return err
		}
	}
	if err := vw.Flush(); err != nil {
		_ = vf.Close()
		return err
	}
	if err := vf.Close(); err != nil {
		return err
	}

	m := manifest{
		ModelID:   s.modelID,
		Dimension: s.dim,
		Count:     len(s.entries),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("vectorstore: write manifest: %w", err)
	}
	return nil
}

// Upsert adds or overwrites chunks by their deterministic ids.
func (s *LocalStore) Upsert(_ context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := checkDims(chunks, s.dim); err != nil {
		return nil, fmt.Errorf("vectorstore: upsert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		id := PointID(c.VideoID, c.Index)
		ids[i] = id

		vec := make([]float32, s.dim)
		copy(vec, c.Embedding)
		stored := c
		stored.Embedding = nil // vectors live in their own file

		if at, ok := s.byID[id]; ok {
			s.entries[at] = localEntry{ID: id, Chunk: stored}
			s.vectors[at] = vec
			continue
		}
		s.byID[id] = len(s.entries)
		s.entries = append(s.entries, localEntry{ID: id, Chunk: stored})
		s.vectors = append(s.vectors, vec)
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search scans the index for the given video and returns the topK most
// similar chunks, descending by cosine similarity.
func (s *LocalStore) Search(_ context.Context, vector []float32, topK int, videoID string) ([]domain.Candidate, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("vectorstore: search: %w", domain.NewDimensionError(s.dim, len(vector)))
	}

	s.mu.Lock()
	if err := s.load(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Candidate
	for i, e := range s.entries {
		if e.Chunk.VideoID != videoID {
			continue
		}
		out = append(out, domain.Candidate{Chunk: e.Chunk, Score: cosine(vector, s.vectors[i])})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Export returns every stored chunk, without embeddings, grouped in
// insertion order. Used by reindexing tools that re-embed into another
// collection.
func (s *LocalStore) Export(_ context.Context) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Chunk
	}
	return out, nil
}

// Health reports the collection identity; the local backend is always
// reachable.
func (s *LocalStore) Health(_ context.Context) (Status, error) {
	return Status{
		Backend:    "local",
		OK:         true,
		Collection: s.collection,
		ModelID:    s.modelID,
		Dimension:  s.dim,
	}, nil
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	den := math.Sqrt(na) * math.Sqrt(nb)
	if den == 0 {
		return 0
	}
	return dot / den
}
