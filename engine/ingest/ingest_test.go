package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

func testBatch(n int) domain.ChunkBatch {
	b := domain.ChunkBatch{
		Video: domain.Video{
			VideoID:    "vid1",
			SourceType: domain.SourceLocal,
			Source:     "/videos/vid1.mp4",
			Title:      "Workbench teardown",
		},
	}
	for i := 0; i < n; i++ {
		b.Chunks = append(b.Chunks, domain.Chunk{
			VideoID:    "vid1",
			Index:      i,
			Start:      float64(i * 10),
			End:        float64(i*10 + 10),
			Transcript: fmt.Sprintf("segment %d", i),
		})
	}
	return b
}

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

type fakeUpserter struct {
	got []domain.Chunk
	err error
}

func (f *fakeUpserter) Upsert(_ context.Context, chunks []domain.Chunk) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = chunks
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	return ids, nil
}

type fakeRecorder struct {
	video domain.Video
	count int
	err   error
}

func (f *fakeRecorder) Save(_ context.Context, v domain.Video, chunkCount int) error {
	if f.err != nil {
		return f.err
	}
	f.video = v
	f.count = chunkCount
	return nil
}

func TestValidate_RejectsCrossVideoChunks(t *testing.T) {
	b := testBatch(2)
	b.Chunks[1].VideoID = "other"
	result := Validate(context.Background(), b)
	if _, err := result.Unwrap(); !errors.Is(err, domain.ErrInvalidChunk) {
		t.Fatalf("want ErrInvalidChunk, got %v", err)
	}
}

func TestEmbed_FillsOnlyMissingVectors(t *testing.T) {
	emb := &fakeEmbedder{}
	b := testBatch(3)
	b.Chunks[1].Embedding = []float32{9, 9, 9} // already embedded upstream

	result := NewEmbed(emb, "bge-base")(context.Background(), b)
	got, err := result.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range got.Chunks {
		if len(c.Embedding) == 0 {
			t.Fatalf("chunk %d left unembedded", i)
		}
	}
	if got.Chunks[1].Embedding[0] != 9 {
		t.Fatal("pre-embedded chunk was re-embedded")
	}
	if len(emb.calls) != 1 || len(emb.calls[0]) != 2 {
		t.Fatalf("embedder called with %v", emb.calls)
	}
}

func TestEmbed_BatchesLargeVideos(t *testing.T) {
	emb := &fakeEmbedder{}
	b := testBatch(EmbedBatchSize + 25)

	result := NewEmbed(emb, "bge-base")(context.Background(), b)
	if _, err := result.Unwrap(); err != nil {
		t.Fatal(err)
	}
	if len(emb.calls) != 2 {
		t.Fatalf("embedder called %d times, want 2", len(emb.calls))
	}
	if len(emb.calls[0]) != EmbedBatchSize || len(emb.calls[1]) != 25 {
		t.Fatalf("batch sizes %d, %d", len(emb.calls[0]), len(emb.calls[1]))
	}
}

func TestStore_WritesAndRecords(t *testing.T) {
	store := &fakeUpserter{}
	cat := &fakeRecorder{}
	b := testBatch(4)

	result := NewStore(store, cat)(context.Background(), b)
	done, err := result.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if done.VideoID != "vid1" || done.Chunks != 4 {
		t.Fatalf("done = %+v", done)
	}
	if cat.video.VideoID != "vid1" || cat.count != 4 {
		t.Fatalf("catalog saw %s/%d", cat.video.VideoID, cat.count)
	}
}

func TestStore_NilCatalogIsOptional(t *testing.T) {
	result := NewStore(&fakeUpserter{}, nil)(context.Background(), testBatch(1))
	if _, err := result.Unwrap(); err != nil {
		t.Fatal(err)
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	store := &fakeUpserter{}
	cat := &fakeRecorder{}
	pipeline := NewPipeline(Deps{
		Embedder:   &fakeEmbedder{},
		EmbedModel: "bge-base",
		Store:      store,
		Catalog:    cat,
	})

	done, err := pipeline(context.Background(), testBatch(5)).Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if done.Chunks != 5 || cat.count != 5 {
		t.Fatalf("done=%+v catalog=%d", done, cat.count)
	}
	for i, c := range store.got {
		if len(c.Embedding) == 0 {
			t.Fatalf("chunk %d stored without embedding", i)
		}
	}
}

func TestPipeline_EmbedFailureSkipsStore(t *testing.T) {
	store := &fakeUpserter{}
	pipeline := NewPipeline(Deps{
		Embedder:   &fakeEmbedder{err: errors.New("worker down")},
		EmbedModel: "bge-base",
		Store:      store,
	})

	if _, err := pipeline(context.Background(), testBatch(2)).Unwrap(); err == nil {
		t.Fatal("want error")
	}
	if store.got != nil {
		t.Fatal("store reached after embed failure")
	}
}

func TestRecordDead_NotifiesOncePerBatch(t *testing.T) {
	m := dlqMessage{Batch: testBatch(2), Error: "embed batch vid1: worker down", Retries: MaxRetries}

	var got []string
	recordDead(slog.Default(), func(id string) { got = append(got, id) }, m)
	if len(got) != 1 || got[0] != "vid1" {
		t.Fatalf("callback saw %v", got)
	}

	// A nil callback only logs.
	recordDead(slog.Default(), nil, m)
}

func TestPipeline_InvalidBatchFailsFast(t *testing.T) {
	emb := &fakeEmbedder{}
	pipeline := NewPipeline(Deps{Embedder: emb, EmbedModel: "m", Store: &fakeUpserter{}})

	b := testBatch(1)
	b.Chunks[0].End = b.Chunks[0].Start // zero-length span
	if _, err := pipeline(context.Background(), b).Unwrap(); !errors.Is(err, domain.ErrInvalidChunk) {
		t.Fatalf("want ErrInvalidChunk, got %v", err)
	}
	if len(emb.calls) != 0 {
		t.Fatal("embedder called for invalid batch")
	}
}
