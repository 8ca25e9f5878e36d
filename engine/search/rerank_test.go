package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

func TestReranker_ReplacesScoresAndResorts(t *testing.T) {
	oracle := &fakeOracle{
		dim: 4,
		// Reverse the incoming order: last text becomes most relevant.
		rerankFn: func(_ string, texts []string) []float64 {
			out := make([]float64, len(texts))
			for i := range texts {
				out[i] = float64(i) / float64(len(texts))
			}
			return out
		},
	}
	r := NewReranker(oracle, "bge-reranker-base")

	cands := candsWithScores(0.9, 0.8, 0.7)
	got, err := r.Rerank(context.Background(), "query", cands)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates", len(got))
	}
	if got[0].Index != 2 || got[2].Index != 0 {
		t.Fatalf("rerank order = %d,%d,%d", got[0].Index, got[1].Index, got[2].Index)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Fatal("not descending after rerank")
		}
	}
	// The original similarity-ordered slice is untouched.
	if cands[0].Index != 0 || cands[0].Score != 0.9 {
		t.Fatal("input slice mutated")
	}
}

func TestReranker_StableOnTies(t *testing.T) {
	oracle := &fakeOracle{
		dim:      4,
		rerankFn: func(_ string, texts []string) []float64 { return make([]float64, len(texts)) },
	}
	r := NewReranker(oracle, "bge-reranker-base")

	got, err := r.Rerank(context.Background(), "q", candsWithScores(0.9, 0.8, 0.7))
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range got {
		if c.Index != i {
			t.Fatalf("tie order broken at %d: index %d", i, c.Index)
		}
	}
}

func TestReranker_LoadFailureIsLoud(t *testing.T) {
	oracle := &fakeOracle{dim: 4, loadErr: errors.New("no cross-encoder")}
	r := NewReranker(oracle, "broken")

	_, err := r.Rerank(context.Background(), "q", candsWithScores(0.9))
	if !errors.Is(err, domain.ErrModelLoadFailure) {
		t.Fatalf("want ErrModelLoadFailure, got %v", err)
	}
}

func TestReranker_LoadStateDuringFirstLoad(t *testing.T) {
	gate := make(chan struct{})
	oracle := &fakeOracle{dim: 4, loadErr: errors.New("no cross-encoder"), loadGate: gate}
	r := NewReranker(oracle, "broken")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Rerank(context.Background(), "q", candsWithScores(0.9))
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if err := r.LoadState(); err != nil && !errors.Is(err, domain.ErrModelLoadFailure) {
					t.Errorf("LoadState = %v", err)
					return
				}
			}
		}()
	}
	close(gate)
	wg.Wait()

	if !errors.Is(r.LoadState(), domain.ErrModelLoadFailure) {
		t.Fatal("sticky failure not visible after load")
	}
}

func TestReranker_EmptyPool(t *testing.T) {
	oracle := &fakeOracle{dim: 4, loadErr: errors.New("must not load")}
	r := NewReranker(oracle, "any")

	got, err := r.Rerank(context.Background(), "q", nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty pool: %v, %v", got, err)
	}
}
