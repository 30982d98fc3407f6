// Package ollama provides an Ollama-backed modelloader.Embedder.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// EmbedClient implements modelloader.Embedder using Ollama's HTTP API.
type EmbedClient struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client. dim is the model's
// declared vector width (768 for nomic-embed-text).
func NewEmbedClient(baseURL, model string, dim int) *EmbedClient {
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{},
	}
}

// Dimension implements modelloader.Embedder.
func (c *EmbedClient) Dimension() int { return c.dim }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *EmbedClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// GenerateEmbeddings implements modelloader.Embedder, embedding each
// chunk in turn and preserving order.
func (c *EmbedClient) GenerateEmbeddings(ctx context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	for i, text := range chunks {
		vals, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}
