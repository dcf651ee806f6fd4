// Package config loads the immutable configuration threaded through every
// pipeline component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultFile is the configuration file looked up when none is given
const DefaultFile = "project.yaml"

// EnvPrefix prefixes environment overrides, e.g. CODERAG_CHUNKING_SIZE
const EnvPrefix = "CODERAG"

// Config is the process-wide configuration. It is passed by value into
// component constructors and never mutated after Load.
type Config struct {
	Ollama    OllamaConfig    `json:"ollama" mapstructure:"ollama"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
	LLM       LLMConfig       `json:"llm" mapstructure:"llm"`
	Chunking  ChunkingConfig  `json:"chunking" mapstructure:"chunking"`
	Analysis  AnalysisConfig  `json:"analysis" mapstructure:"analysis"`
	Indexing  IndexingConfig  `json:"indexing" mapstructure:"indexing"`
	Retrieval RetrievalConfig `json:"retrieval" mapstructure:"retrieval"`
	Context   ContextConfig   `json:"context" mapstructure:"context"`
	Store     StoreConfig     `json:"store" mapstructure:"store"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Output    OutputConfig    `json:"output" mapstructure:"output"`
}

// OllamaConfig addresses the local inference service
type OllamaConfig struct {
	BaseURL string        `json:"baseUrl" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// EmbeddingConfig selects the embedding capability
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // ollama, openai, local
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"` // 0 = provider default
	CacheSize int    `json:"cacheSize" mapstructure:"cache_size"`
	APIKey    string `json:"-" mapstructure:"api_key"`
	BaseURL   string `json:"baseUrl" mapstructure:"base_url"`
}

// LLMConfig selects the inference capability
type LLMConfig struct {
	Provider      string        `json:"provider" mapstructure:"provider"` // ollama, openai
	Model         string        `json:"model" mapstructure:"model"`
	Temperature   float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int           `json:"maxTokens" mapstructure:"max_tokens"`
	ContextWindow int           `json:"contextWindow" mapstructure:"context_window"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	APIKey        string        `json:"-" mapstructure:"api_key"`
	BaseURL       string        `json:"baseUrl" mapstructure:"base_url"`
}

// ChunkingConfig fixes window size and overlap for an indexing run
type ChunkingConfig struct {
	Size    int `json:"size" mapstructure:"size"`
	Overlap int `json:"overlap" mapstructure:"overlap"`
}

// AnalysisConfig controls repository traversal
type AnalysisConfig struct {
	EntryPoints []string `json:"entryPoints" mapstructure:"entry_points"`
	Ignore      []string `json:"ignore" mapstructure:"ignore"`
	MaxSize     string   `json:"maxSize" mapstructure:"max_size"`
	SampleRate  float64  `json:"sampleRate" mapstructure:"sample_rate"`
	Workers     int      `json:"workers" mapstructure:"workers"`

	maxSizeBytes int64
}

// MaxSizeBytes returns the parsed max_size
func (a AnalysisConfig) MaxSizeBytes() int64 {
	return a.maxSizeBytes
}

// IndexingConfig bounds embedding and store traffic
type IndexingConfig struct {
	BatchSize   int           `json:"batchSize" mapstructure:"batch_size"`
	MaxInFlight int           `json:"maxInFlight" mapstructure:"max_in_flight"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `json:"maxAttempts" mapstructure:"max_attempts"`
}

// RetrievalConfig tunes fetch size and re-ranking weights
type RetrievalConfig struct {
	K               int           `json:"k" mapstructure:"k"`
	FetchMultiplier int           `json:"fetchMultiplier" mapstructure:"fetch_multiplier"`
	ProximityHops   int           `json:"proximityHops" mapstructure:"proximity_hops"`
	SeedCount       int           `json:"seedCount" mapstructure:"seed_count"`
	Weights         WeightsConfig `json:"weights" mapstructure:"weights"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
}

// WeightsConfig weights the components of the re-ranking score
type WeightsConfig struct {
	Similarity float64 `json:"similarity" mapstructure:"similarity"`
	Structural float64 `json:"structural" mapstructure:"structural"`
	Proximity  float64 `json:"proximity" mapstructure:"proximity"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
}

// ContextConfig sizes the assembled context
type ContextConfig struct {
	Budget    int     `json:"budget" mapstructure:"budget"` // 0 = derived from the LLM window
	EdgeShare float64 `json:"edgeShare" mapstructure:"edge_share"`
}

// StoreConfig selects the vector store backend
type StoreConfig struct {
	Backend    string        `json:"backend" mapstructure:"backend"` // sqlite, qdrant
	Path       string        `json:"path" mapstructure:"path"`
	QdrantHost string        `json:"qdrantHost" mapstructure:"qdrant_host"`
	QdrantPort int           `json:"qdrantPort" mapstructure:"qdrant_port"`
	Collection string        `json:"collection" mapstructure:"collection"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig configures the slog handler
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"` // text, json
}

// OutputConfig controls report artifacts
type OutputConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	DependencyGraph bool   `json:"dependencyGraph" mapstructure:"dependency_graph"`
}

// systemPromptReserve is kept free in the window for the system prompt and question
const systemPromptReserve = 512

// ContextBudget returns the token budget available to assembled context
func (c Config) ContextBudget() int {
	if c.Context.Budget > 0 {
		return c.Context.Budget
	}
	budget := c.LLM.ContextWindow - c.LLM.MaxTokens - systemPromptReserve
	if budget < 256 {
		budget = 256
	}
	return budget
}

// Default returns the built-in configuration
func Default() Config {
	cfg := Config{
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Timeout: 2 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			CacheSize: 10000,
		},
		LLM: LLMConfig{
			Provider:      "ollama",
			Model:         "phi4",
			Temperature:   0.3,
			MaxTokens:     1024,
			ContextWindow: 4096,
			Timeout:       5 * time.Minute,
		},
		Chunking: ChunkingConfig{
			Size:    1024,
			Overlap: 128,
		},
		Analysis: AnalysisConfig{
			EntryPoints: []string{
				"package.json", "requirements.txt", "pom.xml", "go.mod", "Cargo.toml",
				"pyproject.toml", "setup.py", "pubspec.yaml", "build.gradle", "build.gradle.kts",
			},
			Ignore:     []string{"node_modules", ".git", "venv"},
			MaxSize:    "1MB",
			SampleRate: 1.0,
			Workers:    4,
		},
		Indexing: IndexingConfig{
			BatchSize:   32,
			MaxInFlight: 4,
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Retrieval: RetrievalConfig{
			K:               8,
			FetchMultiplier: 3,
			ProximityHops:   2,
			SeedCount:       3,
			Weights: WeightsConfig{
				Similarity: 1.0,
				Structural: 0.10,
				Proximity:  0.15,
				Recency:    0.05,
			},
			Timeout: 30 * time.Second,
		},
		Context: ContextConfig{
			EdgeShare: 0.10,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			Path:       filepath.Join("output", "coderag.db"),
			QdrantHost: "localhost",
			QdrantPort: 6334,
			Collection: "code_embeddings",
			Timeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Dir:             "output",
			DependencyGraph: true,
		},
	}
	cfg.Analysis.maxSizeBytes = 1000000
	return cfg
}

// Load reads configuration from path (YAML, TOML or JSON by extension),
// applies CODERAG_* environment overrides and validates the result. A
// missing file yields the defaults. A .env file next to the config is loaded
// into the environment first.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultFile
	}
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Conventional provider keys apply when the config leaves them empty
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("ollama.base_url", d.Ollama.BaseURL)
	v.SetDefault("ollama.timeout", d.Ollama.Timeout)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.context_window", d.LLM.ContextWindow)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("chunking.size", d.Chunking.Size)
	v.SetDefault("chunking.overlap", d.Chunking.Overlap)
	v.SetDefault("analysis.entry_points", d.Analysis.EntryPoints)
	v.SetDefault("analysis.ignore", d.Analysis.Ignore)
	v.SetDefault("analysis.max_size", d.Analysis.MaxSize)
	v.SetDefault("analysis.sample_rate", d.Analysis.SampleRate)
	v.SetDefault("analysis.workers", d.Analysis.Workers)
	v.SetDefault("indexing.batch_size", d.Indexing.BatchSize)
	v.SetDefault("indexing.max_in_flight", d.Indexing.MaxInFlight)
	v.SetDefault("indexing.timeout", d.Indexing.Timeout)
	v.SetDefault("indexing.max_attempts", d.Indexing.MaxAttempts)
	v.SetDefault("retrieval.k", d.Retrieval.K)
	v.SetDefault("retrieval.fetch_multiplier", d.Retrieval.FetchMultiplier)
	v.SetDefault("retrieval.proximity_hops", d.Retrieval.ProximityHops)
	v.SetDefault("retrieval.seed_count", d.Retrieval.SeedCount)
	v.SetDefault("retrieval.weights.similarity", d.Retrieval.Weights.Similarity)
	v.SetDefault("retrieval.weights.structural", d.Retrieval.Weights.Structural)
	v.SetDefault("retrieval.weights.proximity", d.Retrieval.Weights.Proximity)
	v.SetDefault("retrieval.weights.recency", d.Retrieval.Weights.Recency)
	v.SetDefault("retrieval.timeout", d.Retrieval.Timeout)
	v.SetDefault("context.budget", d.Context.Budget)
	v.SetDefault("context.edge_share", d.Context.EdgeShare)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.qdrant_host", d.Store.QdrantHost)
	v.SetDefault("store.qdrant_port", d.Store.QdrantPort)
	v.SetDefault("store.collection", d.Store.Collection)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.dependency_graph", d.Output.DependencyGraph)
}

// Validate checks the configuration and resolves derived values
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return &ConfigError{Field: "chunking.size", Message: "must be positive"}
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return &ConfigError{Field: "chunking.overlap", Message: "must satisfy 0 <= overlap < size"}
	}
	if c.Analysis.SampleRate <= 0 || c.Analysis.SampleRate > 1 {
		return &ConfigError{Field: "analysis.sample_rate", Message: "must be in (0, 1]"}
	}
	size, err := humanize.ParseBytes(c.Analysis.MaxSize)
	if err != nil || size == 0 {
		return &ConfigError{Field: "analysis.max_size", Message: fmt.Sprintf("invalid size %q", c.Analysis.MaxSize)}
	}
	c.Analysis.maxSizeBytes = int64(size)
	if c.Analysis.Workers <= 0 {
		return &ConfigError{Field: "analysis.workers", Message: "must be positive"}
	}
	if c.Indexing.BatchSize <= 0 {
		return &ConfigError{Field: "indexing.batch_size", Message: "must be positive"}
	}
	if c.Indexing.MaxInFlight <= 0 {
		return &ConfigError{Field: "indexing.max_in_flight", Message: "must be positive"}
	}
	if c.Indexing.MaxAttempts <= 0 {
		return &ConfigError{Field: "indexing.max_attempts", Message: "must be positive"}
	}
	if c.Retrieval.K <= 0 || c.Retrieval.FetchMultiplier <= 0 {
		return &ConfigError{Field: "retrieval", Message: "k and fetch_multiplier must be positive"}
	}
	if c.Context.EdgeShare < 0 || c.Context.EdgeShare >= 1 {
		return &ConfigError{Field: "context.edge_share", Message: "must be in [0, 1)"}
	}
	if c.LLM.MaxTokens <= 0 || c.LLM.ContextWindow <= c.LLM.MaxTokens {
		return &ConfigError{Field: "llm", Message: "context_window must exceed max_tokens"}
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "local":
	default:
		return &ConfigError{Field: "embedding.provider", Message: fmt.Sprintf("unknown provider %q", c.Embedding.Provider)}
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return &ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	switch c.Store.Backend {
	case "sqlite", "qdrant":
	default:
		return &ConfigError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
