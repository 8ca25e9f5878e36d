// Package mlworker provides an HTTP client for the ML worker that hosts the
// embedding and cross-encoder models. The engine treats both models as
// opaque numeric oracles; inference never happens in-process.
package mlworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the ML worker HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates an ML worker client. Embedding calls are rate limited so a
// large ingest batch cannot starve concurrent query embeds.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Every(20*time.Millisecond), 10),
	}
}

type loadReq struct {
	Model string `json:"model"`
}

type loadResp struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// LoadModel asks the worker to load a model and reports its output
// dimension. Idempotent on the worker side.
func (c *Client) LoadModel(ctx context.Context, model string) (int, error) {
	var out loadResp
	if err := c.post(ctx, "/load", loadReq{Model: model}, &out); err != nil {
		return 0, fmt.Errorf("mlworker: load %s: %w", model, err)
	}
	if out.Dimension <= 0 {
		return 0, fmt.Errorf("mlworker: load %s: worker reported dimension %d", model, out.Dimension)
	}
	return out.Dimension, nil
}

type embedReq struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type embedResp struct {
	Embedding []float32 `json:"embedding"`
}

// Embed maps text to a vector in the model's embedding space. The worker
// guarantees determinism: the same text yields the same vector.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out embedResp
	if err := c.post(ctx, "/embed", embedReq{Model: model, Text: text}, &out); err != nil {
		return nil, fmt.Errorf("mlworker: embed: %w", err)
	}
	return out.Embedding, nil
}

type embedBatchReq struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedBatchResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedBatch embeds a batch of texts, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out embedBatchResp
	if err := c.post(ctx, "/embed_batch", embedBatchReq{Model: model, Texts: texts}, &out); err != nil {
		return nil, fmt.Errorf("mlworker: embed batch: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("mlworker: embed batch: got %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

type rerankReq struct {
	Model string   `json:"model"`
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResp struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores each text against the query with a cross-encoder,
// returning one relevance score per text, in input order.
func (c *Client) Rerank(ctx context.Context, model, query string, texts []string) ([]float64, error) {
	var out rerankResp
	if err := c.post(ctx, "/rerank", rerankReq{Model: model, Query: query, Texts: texts}, &out); err != nil {
		return nil, fmt.Errorf("mlworker: rerank: %w", err)
	}
	if len(out.Scores) != len(texts) {
		return nil, fmt.Errorf("mlworker: rerank: got %d scores for %d texts", len(out.Scores), len(texts))
	}
	return out.Scores, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
