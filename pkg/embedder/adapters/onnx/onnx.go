//go:build onnx

// Package onnx implements the embedding backend with a local ONNX model.
// Model artifacts (model.onnx, tokenizer.json) live in a cache directory
// derived from the configured data directory and are reused across process
// restarts. Built only with the "onnx" tag; requires the onnxruntime
// shared library at runtime.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ccforever/forever/pkg/log"
)

// Artifact file names expected in the model cache directory.
const (
	modelFile     = "model.onnx"
	tokenizerFile = "tokenizer.json"
)

// maxSequenceLength is the input window for MiniLM-class models.
const maxSequenceLength = 128

// Config configures the ONNX backend.
type Config struct {
	// Model is the model identifier, reported by stats.
	Model string

	// CacheDir is the directory holding model.onnx and tokenizer.json.
	CacheDir string

	// LibraryPath is the onnxruntime shared library. Falls back to the
	// ONNX_RUNTIME_LIB environment variable.
	LibraryPath string

	// Dimensions is the embedding vector size (default 384).
	Dimensions int
}

// ONNXBackend implements the embedder.Backend interface using ONNX Runtime.
type ONNXBackend struct {
	config     Config
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPieceTokenizer
	dimensions int
}

// New creates an ONNX backend. No model loading happens here; the wrapper's
// lazy initialization calls Load on first use.
func New(config Config) (*ONNXBackend, error) {
	if config.CacheDir == "" {
		return nil, fmt.Errorf("CacheDir is required")
	}
	if config.LibraryPath == "" {
		config.LibraryPath = os.Getenv("ONNX_RUNTIME_LIB")
	}
	if config.Dimensions == 0 {
		config.Dimensions = 384
	}
	return &ONNXBackend{config: config, dimensions: config.Dimensions}, nil
}

// Load initializes the runtime, the tokenizer, and the inference session
// from the cached artifacts.
func (b *ONNXBackend) Load(ctx context.Context) error {
	modelPath := filepath.Join(b.config.CacheDir, modelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model artifact missing at %s (place %s and %s in the cache directory): %w",
			modelPath, modelFile, tokenizerFile, err)
	}

	if b.config.LibraryPath != "" {
		ort.SetSharedLibraryPath(b.config.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	tokenizer, err := loadTokenizer(filepath.Join(b.config.CacheDir, tokenizerFile))
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	b.session = session
	b.tokenizer = tokenizer
	log.Debug("loaded ONNX model", "path", modelPath, "dimensions", b.dimensions)
	return nil
}

// Embed runs inference and returns a mean-pooled, unit-normalized vector.
func (b *ONNXBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := b.tokenizer.tokenize(text)

	inputIDs := make([]int64, maxSequenceLength)
	attentionMask := make([]int64, maxSequenceLength)
	tokenTypeIDs := make([]int64, maxSequenceLength)

	inputIDs[0] = int64(b.tokenizer.clsToken)
	attentionMask[0] = 1

	tokenLen := len(tokens)
	if tokenLen > maxSequenceLength-2 {
		tokenLen = maxSequenceLength - 2
	}
	for i := 0; i < tokenLen; i++ {
		inputIDs[i+1] = tokens[i]
		attentionMask[i+1] = 1
	}
	inputIDs[tokenLen+1] = int64(b.tokenizer.sepToken)
	attentionMask[tokenLen+1] = 1

	shape := ort.NewShape(1, int64(maxSequenceLength))
	inputTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := b.session.Run([]ort.Value{inputTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("ONNX inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	embedding, err := b.pool(outputTensor.GetData(), outputTensor.GetShape(), attentionMask)
	if err != nil {
		return nil, err
	}
	return normalize(embedding), nil
}

// pool reduces the model output to a single fixed-length vector. Pooled
// outputs ([1, dims]) pass through; sequence outputs ([1, seq, dims]) are
// mean-pooled over attended tokens.
func (b *ONNXBackend) pool(data []float32, shape []int64, attentionMask []int64) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < b.dimensions {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", len(data), b.dimensions)
		}
		embedding := make([]float32, b.dimensions)
		copy(embedding, data[:b.dimensions])
		return embedding, nil
	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if shape[0] != 1 {
			return nil, fmt.Errorf("expected batch size 1, got %d", shape[0])
		}
		if hidden != b.dimensions {
			return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", hidden, b.dimensions)
		}

		embedding := make([]float32, b.dimensions)
		var attended float32
		for i := 0; i < seqLen; i++ {
			if attentionMask[i] == 0 {
				continue
			}
			attended++
			offset := i * hidden
			for j := 0; j < hidden; j++ {
				embedding[j] += data[offset+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("no attended tokens in output")
		}
		for j := range embedding {
			embedding[j] /= attended
		}
		return embedding, nil
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", shape)
	}
}

// Model returns the configured model identifier.
func (b *ONNXBackend) Model() string {
	return b.config.Model
}

// Close releases the inference session.
func (b *ONNXBackend) Close() error {
	if b.session != nil {
		return b.session.Destroy()
	}
	return nil
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

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer backed by the
// vocabulary in tokenizer.json.
type wordPieceTokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return &wordPieceTokenizer{
		vocab:    parsed.Model.Vocab,
		clsToken: 101, // [CLS]
		sepToken: 102, // [SEP]
		unkToken: 100, // [UNK]
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, sub := range t.split(word) {
			if id, ok := t.vocab[sub]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, int64(t.unkToken))
			}
		}
	}
	return tokens
}

// split performs longest-prefix-first WordPiece segmentation.
func (t *wordPieceTokenizer) split(word string) []string {
	var subwords []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := t.vocab[sub]; ok {
				subwords = append(subwords, sub)
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			subwords = append(subwords, "[UNK]")
			start++
		}
	}
	return subwords
}
