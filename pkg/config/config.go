package config

// Config represents the top-level configuration for the forever memory system.
type Config struct {
	// DataDir is the base directory for the vector index and model cache
	DataDir string `yaml:"data_dir"`

	// AutoIndex enables unattended indexing of the last exchange on the
	// session-lifecycle hook. Off by default.
	AutoIndex bool `yaml:"auto_index"`

	// Embeddings configures the embedding backend
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Store configures the vector store backend
	Store StoreConfig `yaml:"store"`

	// Logging configures logging behavior
	Logging LoggingConfig `yaml:"logging"`

	// Source records which config file was loaded ("default" when none)
	Source string `yaml:"-"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider selects the backend ("onnx", "openai", "mock")
	Provider string `yaml:"provider"`

	// Model is the embedding model identifier. Changing it requires a
	// fresh data directory; stored vectors are not migrated.
	Model string `yaml:"model"`

	// OpenAI configures the OpenAI embedding backend
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures OpenAI integration.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (env OPENAI_API_KEY overrides)
	APIKey string `yaml:"api_key"`

	// BaseURL is the base URL for the OpenAI API (for testing)
	BaseURL string `yaml:"base_url"`
}

// StoreConfig configures the vector store backend.
type StoreConfig struct {
	// Type specifies the store backend ("chromem", "pgvector")
	Type string `yaml:"type"`

	// PgVector configures PostgreSQL pgvector storage
	PgVector PgVectorConfig `yaml:"pgvector"`
}

// PgVectorConfig configures PostgreSQL with the pgvector extension.
type PgVectorConfig struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string `yaml:"connection_string"`

	// TableName is the name of the table to use
	TableName string `yaml:"table_name"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("text", "json")
	Format string `yaml:"format"`
}

// Default values applied when no config file is found or fields are unset.
const (
	DefaultDataDir   = "~/.forever"
	DefaultProvider  = "onnx"
	DefaultModel     = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultStoreType = "chromem"
	DefaultTableName = "memories"
)

// DefaultConfig returns a configuration with every field at its built-in
// default, as if no config file existed.
func DefaultConfig() *Config {
	cfg := &Config{Source: SourceDefault}
	applyDefaults(cfg)
	return cfg
}
