package memory

import (
	"context"
	"path/filepath"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/embedder"
	embmock "github.com/ccforever/forever/pkg/embedder/adapters/mock"
	"github.com/ccforever/forever/pkg/embedder/adapters/onnx"
	embopenai "github.com/ccforever/forever/pkg/embedder/adapters/openai"
	"github.com/ccforever/forever/pkg/errors"
	"github.com/ccforever/forever/pkg/log"
	"github.com/ccforever/forever/pkg/store"
	"github.com/ccforever/forever/pkg/store/adapters/chromem"
	"github.com/ccforever/forever/pkg/store/adapters/pgvector"
)

// NewServiceFromConfig builds a fully wired memory service: the embedding
// backend and vector store named by the configuration, with the store
// initialized and ready for use.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config) (*Service, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	st, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(ctx); err != nil {
		return nil, err
	}

	log.Debug("Memory service wired",
		"provider", cfg.Embeddings.Provider,
		"model", cfg.Embeddings.Model,
		"store", cfg.Store.Type)

	return NewService(embedder.New(backend), st, cfg)
}

func buildBackend(cfg *config.Config) (embedder.Backend, error) {
	switch cfg.Embeddings.Provider {
	case "mock":
		return embmock.New(), nil
	case "openai":
		return embopenai.New(embopenai.Config{
			APIKey:  cfg.Embeddings.OpenAI.APIKey,
			Model:   cfg.Embeddings.Model,
			BaseURL: cfg.Embeddings.OpenAI.BaseURL,
		})
	case "onnx":
		cacheDir, err := cfg.ModelCacheDir(cfg.Embeddings.Model)
		if err != nil {
			return nil, err
		}
		return onnx.New(onnx.Config{
			Model:    cfg.Embeddings.Model,
			CacheDir: cacheDir,
		})
	default:
		return nil, errors.Wrap(errors.ErrValidation, "unsupported embeddings provider: %s", cfg.Embeddings.Provider)
	}
}

func buildStore(cfg *config.Config) (store.VectorStore, error) {
	switch cfg.Store.Type {
	case "chromem":
		dataDir, err := cfg.ResolvedDataDir()
		if err != nil {
			return nil, err
		}
		return chromem.New(filepath.Join(dataDir, "index")), nil
	case "pgvector":
		return pgvector.New(pgvector.Config{
			ConnectionString: cfg.Store.PgVector.ConnectionString,
			TableName:        cfg.Store.PgVector.TableName,
		})
	default:
		return nil, errors.Wrap(errors.ErrValidation, "unsupported store type: %s", cfg.Store.Type)
	}
}
