package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceDefault is the Source value when no config file was found.
const SourceDefault = "default"

// Load resolves and loads the configuration with the following priority:
//  1. Project-level: ./.forever/config.yml (current working directory)
//  2. User-level: $FOREVER_CONFIG (or ~/.forever/config.yml)
//  3. Built-in defaults
func Load() (*Config, error) {
	if path := filepath.Join(".forever", "config.yml"); fileExists(path) {
		return LoadFromFile(path)
	}

	userPath := os.Getenv("FOREVER_CONFIG")
	if userPath == "" {
		userPath = filepath.Join(DefaultDataDir, "config.yml")
	}
	userPath = ExpandPath(userPath)
	if fileExists(userPath) {
		return LoadFromFile(userPath)
	}

	cfg := &Config{Source: SourceDefault}
	applyEnvironmentOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Source = SourceDefault
	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(cfg *Config) {
	if dir := os.Getenv("FOREVER_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.Embeddings.OpenAI.APIKey = apiKey
	}
	if connStr := os.Getenv("PGVECTOR_URL"); connStr != "" {
		cfg.Store.PgVector.ConnectionString = connStr
	}
}

// applyDefaults fills unset fields with the built-in defaults.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = DefaultProvider
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = DefaultModel
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStoreType
	}
	if cfg.Store.PgVector.TableName == "" {
		cfg.Store.PgVector.TableName = DefaultTableName
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// validate checks the configuration for unsupported values.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "onnx", "openai", "mock":
	default:
		return fmt.Errorf("unsupported embeddings provider: %s", cfg.Embeddings.Provider)
	}

	switch strings.ToLower(cfg.Store.Type) {
	case "chromem":
	case "pgvector":
		if cfg.Store.PgVector.ConnectionString == "" {
			return fmt.Errorf("connection string is required for pgvector store type")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", cfg.Store.Type)
	}

	return nil
}

// ResolvedDataDir returns the data directory with a leading ~ expanded,
// creating it if necessary.
func (c *Config) ResolvedDataDir() (string, error) {
	dir := ExpandPath(c.DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// ModelCacheDir returns the directory holding embedding model artifacts,
// content-addressed by model identifier so restarts reuse downloads.
func (c *Config) ModelCacheDir(model string) (string, error) {
	base, err := c.ResolvedDataDir()
	if err != nil {
		return "", err
	}
	// Model ids may contain path separators ("org/name"); flatten them.
	safe := strings.ReplaceAll(model, "/", "_")
	dir := filepath.Join(base, "models", safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model cache directory: %w", err)
	}
	return dir, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
