// Package ingest provides the pipeline that takes extracted chunk batches
// through validation, embedding, and storage, plus the NATS consumer that
// feeds it.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/pkg/fn"
	"github.com/VisionVault/visionvault-mvp/pkg/natsutil"
)

// BatchEmbedder embeds texts in bulk, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Upserter is the write half of the vector store.
type Upserter interface {
	Upsert(ctx context.Context, chunks []domain.Chunk) ([]string, error)
}

// Recorder registers an ingested video in the catalog.
type Recorder interface {
	Save(ctx context.Context, v domain.Video, chunkCount int) error
}

// Deps holds the external dependencies of the ingest pipeline.
type Deps struct {
	Embedder   BatchEmbedder
	EmbedModel string
	Store      Upserter
	Catalog    Recorder // optional
	Logger     *slog.Logger
}

// Validate gates a batch on domain validation before any model or network
// work happens.
var Validate fn.Stage[domain.ChunkBatch, domain.ChunkBatch] = func(_ context.Context, b domain.ChunkBatch) fn.Result[domain.ChunkBatch] {
	if err := domain.ValidateBatch(b); err != nil {
		return fn.Err[domain.ChunkBatch](err)
	}
	return fn.Ok(b)
}

// NewEmbed creates a stage that fills in missing chunk embeddings via the
// ML worker. Chunks that already carry a vector are left untouched, so a
// re-published batch does not re-embed.
func NewEmbed(embedder BatchEmbedder, model string) fn.Stage[domain.ChunkBatch, domain.ChunkBatch] {
	return func(ctx context.Context, b domain.ChunkBatch) fn.Result[domain.ChunkBatch] {
		var missing []int
		for i, c := range b.Chunks {
			if len(c.Embedding) == 0 {
				missing = append(missing, i)
			}
		}

		for lo := 0; lo < len(missing); lo += EmbedBatchSize {
			hi := lo + EmbedBatchSize
			if hi > len(missing) {
				hi = len(missing)
			}
			texts := make([]string, hi-lo)
			for j, idx := range missing[lo:hi] {
				texts[j] = b.Chunks[idx].Text()
			}

			vecs, err := embedder.EmbedBatch(ctx, model, texts)
			if err != nil {
				return fn.Err[domain.ChunkBatch](fmt.Errorf("embed batch %s: %w", b.Video.VideoID, err))
			}
			for j, idx := range missing[lo:hi] {
				b.Chunks[idx].Embedding = vecs[j]
			}
		}
		return fn.Ok(b)
	}
}

// NewStore creates a stage that upserts the batch into the vector store and
// records the video in the catalog. Upsert is atomic per batch: a failed
// write leaves the previous index intact.
func NewStore(store Upserter, cat Recorder) fn.Stage[domain.ChunkBatch, DoneEvent] {
	return func(ctx context.Context, b domain.ChunkBatch) fn.Result[DoneEvent] {
		ids, err := store.Upsert(ctx, b.Chunks)
		if err != nil {
			return fn.Err[DoneEvent](fmt.Errorf("store %s: %w", b.Video.VideoID, err))
		}
		if cat != nil {
			if err := cat.Save(ctx, b.Video, len(ids)); err != nil {
				return fn.Err[DoneEvent](fmt.Errorf("catalog %s: %w", b.Video.VideoID, err))
			}
		}
		return fn.Ok(DoneEvent{VideoID: b.Video.VideoID, Chunks: len(ids)})
	}
}

// NewPipeline composes validate, embed, and store into one traced stage.
func NewPipeline(deps Deps) fn.Stage[domain.ChunkBatch, DoneEvent] {
	validated := fn.TracedStage("ingest.validate", Validate)
	embedded := fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder, deps.EmbedModel))
	stored := fn.TracedStage("ingest.store", NewStore(deps.Store, deps.Catalog))
	return fn.Then(fn.Then(validated, embedded), stored)
}

// StartConsumer subscribes to the chunk-batch subject in a queue group, so
// each batch lands on exactly one worker. Failed batches are re-published
// with a retry header; after MaxRetries they are parked on the DLQ.
// Successful ingests announce themselves on DoneSubject.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.QueueSubscribe(ChunksSubject, "visionvault-ingest", func(msg *nats.Msg) {
		var batch domain.ChunkBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				retries, _ = strconv.Atoi(v)
			}
		}

		ctx := context.Background()
		result := pipeline(ctx, batch)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"video_id", batch.Video.VideoID,
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Batch: batch, Error: pipeErr.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
				return
			}
			retryMsg := nats.NewMsg(ChunksSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header.Set(retryHeader, strconv.Itoa(retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("ingest: retry publish failed", "error", err)
			}
			return
		}

		done, _ := result.Unwrap()
		log.Info("ingest: success", "video_id", done.VideoID, "chunks", done.Chunks)
		if err := natsutil.Publish(ctx, nc, DoneSubject, done); err != nil {
			log.Warn("ingest: done publish failed", "error", err)
		}
	})
}

// StartDLQMonitor watches the dead-letter subject in its own queue group
// and records each parked batch, so dead ingests are visible without a
// broker console. onDead, when set, is called once per parked batch.
func StartDLQMonitor(nc *nats.Conn, log *slog.Logger, onDead func(videoID string)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return natsutil.QueueSubscribe(nc, DLQSubject, "visionvault-dlq-monitor", func(_ context.Context, m dlqMessage) {
		recordDead(log, onDead, m)
	})
}

func recordDead(log *slog.Logger, onDead func(string), m dlqMessage) {
	log.Error("ingest: batch dead-lettered",
		"video_id", m.Batch.Video.VideoID,
		"retries", m.Retries,
		"error", m.Error,
	)
	if onDead != nil {
		onDead(m.Batch.Video.VideoID)
	}
}
