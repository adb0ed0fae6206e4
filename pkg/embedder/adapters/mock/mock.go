// Package mock provides a deterministic embedding backend for tests and
// local experimentation. Vectors are derived from a hash of the input text,
// so identical texts always embed identically.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
	"time"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// MockBackend implements the embedder.Backend interface with deterministic
// hash-derived embeddings and an observable load lifecycle.
type MockBackend struct {
	dimensions int
	loadDelay  time.Duration
	loadErr    error
	loadCount  atomic.Int64
}

// Option is a function that configures a MockBackend.
type Option func(*MockBackend)

// WithDimensions sets the embedding vector size.
func WithDimensions(n int) Option {
	return func(m *MockBackend) {
		m.dimensions = n
	}
}

// WithLoadDelay makes Load sleep, simulating a slow model download.
func WithLoadDelay(d time.Duration) Option {
	return func(m *MockBackend) {
		m.loadDelay = d
	}
}

// WithLoadError makes Load fail with the given error.
func WithLoadError(err error) Option {
	return func(m *MockBackend) {
		m.loadErr = err
	}
}

// New creates a new mock backend with the given options.
func New(opts ...Option) *MockBackend {
	m := &MockBackend{
		dimensions: DefaultDimensions,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load simulates model loading. Each invocation increments the load counter
// so tests can assert the exactly-once initialization contract.
func (m *MockBackend) Load(ctx context.Context) error {
	m.loadCount.Add(1)
	if m.loadDelay > 0 {
		select {
		case <-time.After(m.loadDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.loadErr
}

// LoadCount returns how many times Load has been invoked.
func (m *MockBackend) LoadCount() int {
	return int(m.loadCount.Load())
}

// SetLoadError changes the load outcome for subsequent attempts.
func (m *MockBackend) SetLoadError(err error) {
	m.loadErr = err
}

// Embed creates a deterministic unit vector from the text hash.
func (m *MockBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Linear congruential step per component.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Model returns the mock model identifier.
func (m *MockBackend) Model() string {
	return "mock-embedder"
}

// normalize converts an embedding to a unit vector.
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
