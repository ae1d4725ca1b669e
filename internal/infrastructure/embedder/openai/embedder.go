// Package openai provides an Embedder backed by an OpenAI-compatible
// embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
	llm "github.com/ersonp/storyforge/internal/infrastructure/llm/openai"
)

// ServiceName tags errors raised by this adapter.
const ServiceName = "embedder"

// DefaultModel is used when no model is configured.
const DefaultModel = "nomic-embed-text:latest"

// Embedder implements the Embedder interface using the embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
}

// NewEmbedder creates a new embedder.
func NewEmbedder(cfg config.EmbedderConfig) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("embedder base URL is required")
	}

	model := openai.EmbeddingModel(DefaultModel)
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(llm.ClientConfig(cfg.BaseURL, cfg.APIKey)),
		model:      model,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
	}, nil
}

// Dimensions returns the configured vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed generates a vector embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, errs.Generation(ServiceName, "no embeddings returned", nil)
	}

	return embeddings[0], nil
}

// EmbedBatch generates vector embeddings for multiple texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, llm.Classify(ServiceName, string(e.model), e.timeout, fmt.Errorf("creating embeddings: %w", err))
	}

	if len(resp.Data) != len(texts) {
		return nil, errs.Generation(ServiceName, fmt.Sprintf("got %d embeddings for %d texts", len(resp.Data), len(texts)), nil)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, errs.Generation(ServiceName, fmt.Sprintf("embedding index %d out of range", data.Index), nil)
		}
		if e.dimensions > 0 && len(data.Embedding) != e.dimensions {
			return nil, errs.Generation(ServiceName, fmt.Sprintf("embedding has %d dimensions, want %d", len(data.Embedding), e.dimensions), nil)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, nil
}
