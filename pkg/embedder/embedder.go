// Package embedder wraps an embedding backend with lazy, exactly-once
// initialization. Backends convert text into fixed-length unit vectors and
// may take a long time to become ready on first use (model download/load).
package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/log"
)

// Backend is the embedding backend capability. Implementations:
// onnx (local model), openai (remote API), mock (testing).
type Backend interface {
	// Load prepares the backend for inference. It is called at most once
	// per successful lifecycle; a failed Load may be called again.
	Load(ctx context.Context) error

	// Embed converts non-empty text to a unit-normalized vector.
	// Vector length is constant for the lifetime of the backend.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the model identifier.
	Model() string
}

// Embedder guards a Backend with a process-wide readiness lifecycle:
//
//	unset -> initializing (shared in-flight handle) -> ready
//	                                               \-> failed (retry eligible)
//
// Concurrent callers during initialization await the same in-flight load
// rather than starting duplicates. A failed load clears the in-flight
// marker so the next call retries.
type Embedder struct {
	backend Backend

	mu       sync.Mutex
	ready    bool
	inflight chan struct{} // non-nil while a load is in flight
	loadErr  error         // outcome of the most recent finished load
}

// New wraps a backend. No loading happens until EnsureReady or Embed.
func New(backend Backend) *Embedder {
	return &Embedder{backend: backend}
}

// Model returns the wrapped backend's model identifier.
func (e *Embedder) Model() string {
	return e.backend.Model()
}

// EnsureReady is the only path into the ready state. It loads the backend
// on first call, shares the in-flight load with concurrent callers, and
// surfaces load failures as ErrEmbedder.
func (e *Embedder) EnsureReady(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.ready {
			e.mu.Unlock()
			return nil
		}

		if ch := e.inflight; ch != nil {
			e.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			e.mu.Lock()
			if e.ready {
				e.mu.Unlock()
				return nil
			}
			err := e.loadErr
			e.mu.Unlock()
			if err != nil {
				return err
			}
			// A newer attempt superseded the one we awaited.
			continue
		}

		ch := make(chan struct{})
		e.inflight = ch
		e.loadErr = nil
		e.mu.Unlock()

		log.Debug("initializing embedding backend", "model", e.backend.Model())
		err := e.backend.Load(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %s", errors.ErrEmbedder, err)
		}

		e.mu.Lock()
		e.ready = err == nil
		e.loadErr = err
		e.inflight = nil
		close(ch)
		e.mu.Unlock()

		if err != nil {
			log.Warn("embedding backend initialization failed", "model", e.backend.Model(), "error", err)
		} else {
			log.Info("embedding backend ready", "model", e.backend.Model())
		}
		return err
	}
}

// Embed converts text to a vector, initializing the backend on first use.
// Empty input is rejected rather than embedded as a zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.Wrap(errors.ErrEmptyInput, "cannot embed")
	}

	if err := e.EnsureReady(ctx); err != nil {
		return nil, err
	}

	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrEmbedder, err)
	}
	return vec, nil
}
