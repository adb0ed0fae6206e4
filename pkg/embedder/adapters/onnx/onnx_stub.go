//go:build !onnx

package onnx

import (
	"context"
	"fmt"
)

// Config configures the ONNX backend. Mirrors the onnx build so callers
// compile either way.
type Config struct {
	Model       string
	CacheDir    string
	LibraryPath string
	Dimensions  int
}

// ONNXBackend is unavailable without the "onnx" build tag.
type ONNXBackend struct {
	model string
}

// New reports that the binary was built without ONNX support.
func New(config Config) (*ONNXBackend, error) {
	return nil, fmt.Errorf("onnx embedding backend requires building with -tags onnx")
}

// Load satisfies embedder.Backend.
func (b *ONNXBackend) Load(ctx context.Context) error {
	return fmt.Errorf("onnx embedding backend requires building with -tags onnx")
}

// Embed satisfies embedder.Backend.
func (b *ONNXBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("onnx embedding backend requires building with -tags onnx")
}

// Model returns the configured model identifier.
func (b *ONNXBackend) Model() string {
	return b.model
}

// Close satisfies the closer convention of the onnx build.
func (b *ONNXBackend) Close() error {
	return nil
}
