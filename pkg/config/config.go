// Package config loads the application configuration from a YAML file,
// a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/barekit/ragchat/pkg/memory"
)

// Vector store backends.
const (
	StoreChromem  = "chromem"
	StoreMemory   = "memory"
	StoreQdrant   = "qdrant"
	StorePostgres = "postgres"
)

// OpenAIConfig configures the completion provider.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	Model         string        `yaml:"model"`
	Dimension     int           `yaml:"dimension"`
	BatchSize     int           `yaml:"batch_size"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	CacheSize     int           `yaml:"cache_size"`
	RateLimit     float64       `yaml:"rate_limit"`
	// StorePath enables the persistent badger tier when set.
	StorePath string `yaml:"store_path"`
}

// ChunkingConfig configures the chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinSize int `yaml:"min_size"`
}

// CacheConfig configures the document cache.
type CacheConfig struct {
	MaxSize         int           `yaml:"max_size"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	Type        string       `yaml:"type"`
	Path        string       `yaml:"path"`
	Collection  string       `yaml:"collection"`
	MaxDistance float64      `yaml:"max_distance"`
	Qdrant      QdrantConfig `yaml:"qdrant"`
	PostgresDSN string       `yaml:"postgres_dsn"`
}

// ChatConfig configures sessions and the chat orchestrator.
type ChatConfig struct {
	SystemPrompt       string            `yaml:"system_prompt"`
	Template           string            `yaml:"template"`
	Templates          map[string]string `yaml:"templates,omitempty"`
	MaxContextLength   int               `yaml:"max_context_length"`
	MaxContextMessages int               `yaml:"max_context_messages"`
	AutoRetrieve       bool              `yaml:"auto_retrieve"`
	RetrieveLimit      int               `yaml:"retrieve_limit"`
}

// UploadConfig configures ingestion.
type UploadConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Concurrency       int      `yaml:"concurrency"`
}

// LogConfig configures the default slog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration.
type Config struct {
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Chat        ChatConfig        `yaml:"chat"`
	Memory      memory.Config     `yaml:"memory"`
	Upload      UploadConfig      `yaml:"upload"`
	Log         LogConfig         `yaml:"log"`
	Debug       bool              `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Chat.AutoRetrieve = true
	return cfg
}

// Load reads the YAML file at path, fills unset fields with defaults and
// applies environment overrides. A missing file yields the defaults. A .env
// file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func applyDefaults(cfg *Config) {
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o"
	}
	if cfg.OpenAI.Temperature == 0 {
		cfg.OpenAI.Temperature = 0.7
	}

	e := &cfg.Embedding
	if e.Model == "" {
		e.Model = "text-embedding-ada-002"
	}
	if e.Dimension == 0 {
		e.Dimension = 1536
	}
	if e.BatchSize == 0 {
		e.BatchSize = 100
	}
	if e.RetryAttempts == 0 {
		e.RetryAttempts = 3
	}
	if e.RetryDelay == 0 {
		e.RetryDelay = time.Second
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}

	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 200
	}
	if cfg.Chunking.MinSize == 0 {
		cfg.Chunking.MinSize = 100
	}

	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 1000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = 5 * time.Minute
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = StoreChromem
	}
	if vs.Path == "" {
		vs.Path = filepath.Join("data", "vectors")
	}
	if vs.Collection == "" {
		vs.Collection = "documents"
	}
	if vs.Qdrant.Host == "" {
		vs.Qdrant.Host = "localhost"
	}
	if vs.Qdrant.Port == 0 {
		vs.Qdrant.Port = 6334
	}

	c := &cfg.Chat
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful vehicle expert assistant."
	}
	if c.Template == "" {
		c.Template = "default"
	}
	if c.MaxContextLength == 0 {
		c.MaxContextLength = 2048
	}
	if c.MaxContextMessages == 0 {
		c.MaxContextMessages = 10
	}
	if c.RetrieveLimit == 0 {
		c.RetrieveLimit = 3
	}

	if cfg.Memory.Type == "" {
		cfg.Memory.Type = memory.TypeInMemory
	}

	if cfg.Upload.MaxFileSize == 0 {
		cfg.Upload.MaxFileSize = 10 << 20
	}
	if len(cfg.Upload.AllowedExtensions) == 0 {
		cfg.Upload.AllowedExtensions = []string{".pdf", ".txt"}
	}
	if cfg.Upload.Concurrency == 0 {
		cfg.Upload.Concurrency = 4
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"OPENAI_API_KEY":       &cfg.OpenAI.APIKey,
		"OPENAI_BASE_URL":      &cfg.OpenAI.BaseURL,
		"RAGCHAT_VECTOR_STORE": &cfg.VectorStore.Type,
		"QDRANT_HOST":          &cfg.VectorStore.Qdrant.Host,
		"QDRANT_API_KEY":       &cfg.VectorStore.Qdrant.APIKey,
		"POSTGRES_DSN":         &cfg.VectorStore.PostgresDSN,
		"RAGCHAT_MEMORY_DSN":   &cfg.Memory.ConnectionString,
		"RAGCHAT_LOG_LEVEL":    &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("RAGCHAT_MEMORY"); ok && v != "" {
		cfg.Memory.Type = memory.Type(v)
	}
	if v, ok := lookup("QDRANT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_PORT %q: %w", v, err)
		}
		cfg.VectorStore.Qdrant.Port = port
	}
	return nil
}

// SetupLogger installs the default slog logger described by cfg.
func SetupLogger(cfg LogConfig, w io.Writer) {
	slog.SetDefault(slog.New(NewHandler(cfg, w)))
}

// NewHandler builds a text or json handler at the configured level.
func NewHandler(cfg LogConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
