package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is the root of every configuration validation failure.
var ErrInvalidConfig = goerr.New("invalid configuration")

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GeminiConfig holds Vertex AI settings shared by the Gemini embedder and generator.
type GeminiConfig struct {
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string           `yaml:"type"`
	Collection string           `yaml:"collection"`
	SQLite     *SQLiteConfig    `yaml:"sqlite,omitempty"`
	Qdrant     *QdrantConfig    `yaml:"qdrant,omitempty"`
	Firestore  *FirestoreConfig `yaml:"firestore,omitempty"`
}

// SQLiteConfig points at the on-disk index database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key" masq:"secret"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// FirestoreConfig contains the Firestore project hosting the index collection.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	DatabaseID string `yaml:"database_id"`
}

// LibraryConfig locates the general library on disk.
type LibraryConfig struct {
	StoryDir    string `yaml:"story_dir"`
	SongDir     string `yaml:"song_dir"`
	ActivityDir string `yaml:"activity_dir"`
	BatchSize   int    `yaml:"batch_size"`
	Recursive   bool   `yaml:"recursive"`
}

// RetrievalConfig controls per-request retrieval budgets.
type RetrievalConfig struct {
	NTotal                int  `yaml:"n_total"`
	UserK                 int  `yaml:"user_k"`
	RedistributeRemainder bool `yaml:"redistribute_remainder"`
}

// ContextConfig bounds the context block injected into the generation prompt.
type ContextConfig struct {
	MaxPerCategory  int `yaml:"max_per_category"`
	StoryPreview    int `yaml:"story_preview"`
	SongPreview     int `yaml:"song_preview"`
	ActivityPreview int `yaml:"activity_preview"`
}

// LevelsConfig holds the lower bounds of each qualitative similarity level.
type LevelsConfig struct {
	VeryHigh  float64 `yaml:"very_high"`
	High      float64 `yaml:"high"`
	Medium    float64 `yaml:"medium"`
	MediumLow float64 `yaml:"medium_low"`
}

// AnalyzerConfig configures the impact analyzer.
type AnalyzerConfig struct {
	UsageThreshold float64      `yaml:"usage_threshold"`
	HighConfidence float64      `yaml:"high_confidence"`
	Levels         LevelsConfig `yaml:"levels"`
}

// GeneratorConfig selects the plan generator and its retry policy.
type GeneratorConfig struct {
	Type        string `yaml:"type"`
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelayMs int    `yaml:"base_delay_ms"`
	MaxDelayMs  int    `yaml:"max_delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// BlobConfig selects where plans and metrics sessions are persisted.
type BlobConfig struct {
	Type   string `yaml:"type"`
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// SummarizerConfig configures the extractive previews used in reports.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         LogConfig         `yaml:"log"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Library     LibraryConfig     `yaml:"library"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Context     ContextConfig     `yaml:"context"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Blob        BlobConfig        `yaml:"blob"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./edurag.yaml first, then ~/.config/edurag/config.yaml.
// If neither exists, it writes defaults to ~/.config/edurag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "edurag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create config directory", goerr.V("path", path))
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write config", goerr.V("path", path))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", goerr.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".config", "edurag", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Log:      LogConfig{Level: "info", Format: "console"},
		Chunker:  ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Embedder: EmbedderConfig{Type: "local", Dimension: 384},
		Gemini:   GeminiConfig{Location: "us-central1"},
		VectorStore: VectorStoreConfig{
			Type:       "sqlite",
			Collection: "profego_documents",
			SQLite:     &SQLiteConfig{Path: filepath.Join("data", "index.db")},
		},
		Library: LibraryConfig{
			StoryDir:    filepath.Join("library", "stories"),
			SongDir:     filepath.Join("library", "songs"),
			ActivityDir: filepath.Join("library", "activities"),
			BatchSize:   3,
			Recursive:   true,
		},
		Retrieval: RetrievalConfig{NTotal: 15, UserK: 5},
		Context:   ContextConfig{MaxPerCategory: 5, StoryPreview: 500, SongPreview: 500, ActivityPreview: 800},
		Analyzer: AnalyzerConfig{
			UsageThreshold: 0.48,
			HighConfidence: 0.60,
			Levels:         LevelsConfig{VeryHigh: 0.75, High: 0.60, Medium: 0.48, MediumLow: 0.30},
		},
		Generator:  GeneratorConfig{Type: "gemini", MaxAttempts: 3, BaseDelayMs: 2000, MaxDelayMs: 10000, TimeoutSecs: 120},
		Blob:       BlobConfig{Type: "fs", Dir: "data"},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 2},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Gemini.Location == "" {
		cfg.Gemini.Location = def.Gemini.Location
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = def.VectorStore.Collection
	}
	if cfg.VectorStore.Type == "sqlite" && (cfg.VectorStore.SQLite == nil || cfg.VectorStore.SQLite.Path == "") {
		cfg.VectorStore.SQLite = def.VectorStore.SQLite
	}
	if cfg.Library.BatchSize == 0 {
		cfg.Library.BatchSize = def.Library.BatchSize
	}
	if cfg.Retrieval.NTotal == 0 {
		cfg.Retrieval.NTotal = def.Retrieval.NTotal
	}
	if cfg.Retrieval.UserK == 0 {
		cfg.Retrieval.UserK = def.Retrieval.UserK
	}
	if cfg.Context.MaxPerCategory == 0 {
		cfg.Context.MaxPerCategory = def.Context.MaxPerCategory
	}
	if cfg.Context.StoryPreview == 0 {
		cfg.Context.StoryPreview = def.Context.StoryPreview
	}
	if cfg.Context.SongPreview == 0 {
		cfg.Context.SongPreview = def.Context.SongPreview
	}
	if cfg.Context.ActivityPreview == 0 {
		cfg.Context.ActivityPreview = def.Context.ActivityPreview
	}
	if cfg.Analyzer.UsageThreshold == 0 {
		cfg.Analyzer.UsageThreshold = def.Analyzer.UsageThreshold
	}
	if cfg.Analyzer.HighConfidence == 0 {
		cfg.Analyzer.HighConfidence = def.Analyzer.HighConfidence
	}
	if cfg.Analyzer.Levels == (LevelsConfig{}) {
		cfg.Analyzer.Levels = def.Analyzer.Levels
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = def.Generator.Type
	}
	if cfg.Generator.MaxAttempts == 0 {
		cfg.Generator.MaxAttempts = def.Generator.MaxAttempts
	}
	if cfg.Generator.BaseDelayMs == 0 {
		cfg.Generator.BaseDelayMs = def.Generator.BaseDelayMs
	}
	if cfg.Generator.MaxDelayMs == 0 {
		cfg.Generator.MaxDelayMs = def.Generator.MaxDelayMs
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = def.Generator.TimeoutSecs
	}
	if cfg.Blob.Type == "" {
		cfg.Blob.Type = def.Blob.Type
	}
	if cfg.Blob.Type == "fs" && cfg.Blob.Dir == "" {
		cfg.Blob.Dir = def.Blob.Dir
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = def.Summarizer.Type
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = def.Summarizer.MaxSentences
	}
}

// Validate checks cross-field constraints. Every failure wraps ErrInvalidConfig.
func (c *AppConfig) Validate() error {
	invalid := func(msg string, kv ...any) error {
		opts := make([]goerr.Option, 0, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			opts = append(opts, goerr.V(kv[i].(string), kv[i+1]))
		}
		return goerr.Wrap(ErrInvalidConfig, msg, opts...)
	}

	if c.Chunker.ChunkSize <= 0 {
		return invalid("chunk_size must be positive", "chunk_size", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return invalid("chunk_overlap must be in [0, chunk_size)",
			"chunk_size", c.Chunker.ChunkSize, "chunk_overlap", c.Chunker.ChunkOverlap)
	}
	if c.Embedder.Dimension <= 0 {
		return invalid("embedder dimension must be positive", "dimension", c.Embedder.Dimension)
	}
	if !oneOf(c.Embedder.Type, "local", "openai", "gemini") {
		return invalid("unknown embedder", "type", c.Embedder.Type)
	}
	if c.Embedder.Type == "gemini" && c.Gemini.ProjectID == "" {
		return invalid("gemini embedder requires gemini.project_id")
	}
	switch c.VectorStore.Type {
	case "memory":
	case "sqlite":
		if c.VectorStore.SQLite == nil || c.VectorStore.SQLite.Path == "" {
			return invalid("sqlite vector store requires a path")
		}
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return invalid("qdrant vector store requires a url")
		}
	case "firestore":
		if c.VectorStore.Firestore == nil || c.VectorStore.Firestore.ProjectID == "" {
			return invalid("firestore vector store requires a project_id")
		}
	default:
		return invalid("unknown vector store", "type", c.VectorStore.Type)
	}
	if strings.TrimSpace(c.VectorStore.Collection) == "" {
		return invalid("collection name is required")
	}
	if c.Library.BatchSize <= 0 {
		return invalid("library batch_size must be positive", "batch_size", c.Library.BatchSize)
	}
	if c.Retrieval.NTotal < 0 || c.Retrieval.UserK < 0 {
		return invalid("retrieval budgets must not be negative",
			"n_total", c.Retrieval.NTotal, "user_k", c.Retrieval.UserK)
	}
	if !inUnit(c.Analyzer.UsageThreshold) || !inUnit(c.Analyzer.HighConfidence) {
		return invalid("analyzer thresholds must be in [0, 1]",
			"usage_threshold", c.Analyzer.UsageThreshold, "high_confidence", c.Analyzer.HighConfidence)
	}
	l := c.Analyzer.Levels
	if !(l.VeryHigh >= l.High && l.High >= l.Medium && l.Medium >= l.MediumLow && l.MediumLow >= 0) {
		return invalid("similarity levels must be descending", "levels", l)
	}
	if !oneOf(c.Generator.Type, "gemini", "none") {
		return invalid("unknown generator", "type", c.Generator.Type)
	}
	if c.Generator.MaxAttempts <= 0 {
		return invalid("generator max_attempts must be positive", "max_attempts", c.Generator.MaxAttempts)
	}
	switch c.Blob.Type {
	case "fs":
		if c.Blob.Dir == "" {
			return invalid("fs blob store requires a dir")
		}
	case "gcs":
		if c.Blob.Bucket == "" {
			return invalid("gcs blob store requires a bucket")
		}
	default:
		return invalid("unknown blob store", "type", c.Blob.Type)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }
