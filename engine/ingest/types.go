package ingest

import "github.com/VisionVault/visionvault-mvp/engine/domain"

// NATS subjects for the ingest flow.
const (
	// ChunksSubject carries domain.ChunkBatch payloads from the extraction
	// pipeline, one message per video.
	ChunksSubject = "visionvault.ingest.chunks"
	// DoneSubject carries DoneEvent notifications after a batch lands in
	// the vector store and catalog.
	DoneSubject = "visionvault.ingest.done"
	// DLQSubject receives batches that exhausted their retry budget.
	DLQSubject = "visionvault.ingest.dlq"
)

const (
	// MaxRetries before a failed batch is parked on the DLQ.
	MaxRetries = 3
	// EmbedBatchSize caps the texts per embedding request.
	EmbedBatchSize = 100
	// retryHeader carries the redelivery count across re-publishes.
	retryHeader = "X-Retry-Count"
)

// DoneEvent announces a completed ingest.
type DoneEvent struct {
	VideoID string `json:"video_id"`
	Chunks  int    `json:"chunks"`
}

// dlqMessage parks a failed batch with its terminal error.
type dlqMessage struct {
	Batch   domain.ChunkBatch `json:"batch"`
	Error   string            `json:"error"`
	Retries int               `json:"retries"`
}
