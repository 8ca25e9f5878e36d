package vectorstore

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

func testChunks(videoID string) []domain.Chunk {
	return []domain.Chunk{
		{VideoID: videoID, Index: 0, Start: 0, End: 5, Transcript: "intro music", Embedding: []float32{1, 0, 0}},
		{VideoID: videoID, Index: 1, Start: 5, End: 12, Transcript: "removing the door panel", Caption: "hands on a car door", ThumbnailFile: "frame_000005.jpg", Embedding: []float32{0, 1, 0}},
		{VideoID: videoID, Index: 2, Start: 12, End: 20, Transcript: "reconnecting the wiring", Embedding: []float32{0.7, 0.7, 0}},
	}
}

func TestLocalStore_UpsertAndSearch(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()

	ids, err := s.Upsert(ctx, testChunks("vid1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids", len(ids))
	}

	got, err := s.Search(ctx, []float32{0, 1, 0}, 10, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates", len(got))
	}
	if got[0].Index != 1 {
		t.Fatalf("best match index = %d, want 1", got[0].Index)
	}
	if math.Abs(got[0].Score-1.0) > 1e-6 {
		t.Fatalf("best score = %f, want 1.0", got[0].Score)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatal("results not in descending score order")
		}
	}
}

func TestLocalStore_ExportReturnsAllChunks(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, testChunks("vid2")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Export(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 6 {
		t.Fatalf("exported %d chunks, want 6", len(got))
	}
	for i, c := range got {
		if len(c.Embedding) != 0 {
			t.Fatalf("chunk %d carries an embedding", i)
		}
		if c.Transcript == "" {
			t.Fatalf("chunk %d lost its payload", i)
		}
	}
}

func TestLocalStore_DimensionMismatchDoesNotMutate(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}

	bad := []domain.Chunk{{VideoID: "vid1", Index: 9, Start: 0, End: 1, Transcript: "x", Embedding: []float32{1, 2, 3, 4}}}
	if _, err := s.Upsert(ctx, bad); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}

	got, err := s.Search(ctx, []float32{1, 0, 0}, 10, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("rejected upsert mutated the collection: %d chunks", len(got))
	}
}

func TestLocalStore_ReingestOverwrites(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}
	// Same video again, one transcript changed.
	again := testChunks("vid1")
	again[0].Transcript = "intro music, updated cut"
	if _, err := s.Upsert(ctx, again); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, []float32{1, 0, 0}, 10, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("re-ingest duplicated chunks: got %d", len(got))
	}
	if got[0].Transcript != "intro music, updated cut" {
		t.Fatalf("overwrite not applied: %q", got[0].Transcript)
	}
}

func TestLocalStore_UnknownVideoIsEmptyNotError(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, []float32{1, 0, 0}, 10, "no-such-video")
	if err != nil {
		t.Fatalf("empty index must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d candidates for unknown video", len(got))
	}
}

func TestLocalStore_ReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1 := NewLocal(dir, "test-model", 3)
	if _, err := s1.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}

	// Fresh store over the same directory must see the persisted index.
	s2 := NewLocal(dir, "test-model", 3)
	got, err := s2.Search(ctx, []float32{0, 1, 0}, 2, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("reloaded search returned %d candidates", len(got))
	}
	if got[0].Transcript != "removing the door panel" || got[0].ThumbnailFile != "frame_000005.jpg" {
		t.Fatalf("payload lost across reload: %+v", got[0])
	}
}

func TestLocalStore_TopKTruncation(t *testing.T) {
	s := NewLocal(t.TempDir(), "test-model", 3)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, testChunks("vid1")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, []float32{1, 1, 0}, 1, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("topK=1 returned %d", len(got))
	}
}

func TestLocalStore_Health(t *testing.T) {
	s := NewLocal(t.TempDir(), "bge-base", 768)
	st, err := s.Health(context.Background())
	if err != nil || !st.OK {
		t.Fatalf("health = %+v, %v", st, err)
	}
	if st.Backend != "local" || st.ModelID != "bge-base" || st.Dimension != 768 {
		t.Fatalf("status = %+v", st)
	}
}
