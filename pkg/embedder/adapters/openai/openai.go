// Package openai implements the embedding backend using the OpenAI API.
package openai

import (
	"context"
	"errors"
	"math"

	"github.com/sashabaranov/go-openai"

	"github.com/ccforever/forever/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// DefaultModel is used when no embedding model is configured.
const DefaultModel = "text-embedding-3-small"

// Config holds the configuration for the OpenAI backend.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string
	// BaseURL is the base URL for the OpenAI API (for testing).
	BaseURL string
}

// OpenAIBackend implements the embedder.Backend interface using the
// OpenAI embeddings API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// New creates a new OpenAI embedding backend.
func New(config Config) (*OpenAIBackend, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Load is a no-op; the OpenAI API needs no local model artifacts.
func (b *OpenAIBackend) Load(ctx context.Context) error {
	return nil
}

// Embed generates an embedding for the given text using the OpenAI API.
// The result is normalized to a unit vector so that dot-product distance
// conversion downstream holds regardless of model.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	request := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(b.model),
	}

	response, err := b.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.Error("failed to generate embedding", "model", b.model, "error", err)
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, errors.New("embeddings API returned no data")
	}

	embedding := response.Data[0].Embedding
	log.Debug("generated embedding", "model", b.model, "dimension", len(embedding))

	return normalize(embedding), nil
}

// Model returns the configured model identifier.
func (b *OpenAIBackend) Model() string {
	return b.model
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
