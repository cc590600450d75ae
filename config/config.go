package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	PG        PGConfig        `mapstructure:"pg"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Embedder  string          `mapstructure:"embedder"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunk     ChunkConfig     `mapstructure:"chunk"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"otel"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type VectorConfig struct {
	Backend string `mapstructure:"backend"`
}

type CatalogConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type PGConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	User   string `mapstructure:"user"`
	Pass   string `mapstructure:"pass"`
	DBName string `mapstructure:"db_name"`
	Table  string `mapstructure:"table"`
}

// DSN builds the connection string the way pgxpool expects it.
func (c PGConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", c.Host, c.Port, c.User, c.Pass, c.DBName)
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type OllamaConfig struct {
	EmbeddingURL   string `mapstructure:"embedding_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

type LLMConfig struct {
	URL        string        `mapstructure:"url"`
	ChatURL    string        `mapstructure:"chat_url"`
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type RAGConfig struct {
	TopK            int           `mapstructure:"top_k"`
	ScoreThreshold  float64       `mapstructure:"score_threshold"`
	MaxPromptTokens int           `mapstructure:"max_prompt_tokens"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	MaxSessions     int           `mapstructure:"max_sessions"`
}

type LoaderConfig struct {
	SourceDir      string        `mapstructure:"source_dir"`
	ArchiveDir     string        `mapstructure:"archive_dir"`
	BadDir         string        `mapstructure:"bad_dir"`
	MonitoringTime time.Duration `mapstructure:"monitoring_time"`
}

type UploadConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Endpoint string `mapstructure:"exporter_otlp_endpoint"`
}

var defaults = map[string]any{
	"server.addr":                 ":3000",
	"server.request_timeout":      "120s",
	"vector.backend":              "memory",
	"catalog.backend":             "sqlite",
	"catalog.path":                "data/catalog.db",
	"pg.host":                     "localhost",
	"pg.port":                     5432,
	"pg.user":                     "postgres",
	"pg.pass":                     "postgres",
	"pg.db_name":                  "rag",
	"pg.table":                    "resume_vectors",
	"qdrant.host":                 "localhost",
	"qdrant.port":                 6334,
	"qdrant.collection":           "resume-chatbot",
	"embedder":                    "ollama",
	"ollama.embedding_url":        "http://localhost:11434/api/embed",
	"ollama.embedding_model":      "all-minilm",
	"llm.url":                     "http://localhost:11434/api/generate",
	"llm.chat_url":                "http://localhost:11434/api/chat",
	"llm.model":                   "llama3.1",
	"llm.max_retries":             3,
	"llm.timeout":                 "90s",
	"chunk.size":                  500,
	"chunk.overlap":               50,
	"rag.top_k":                   5,
	"rag.score_threshold":         0.1,
	"rag.max_prompt_tokens":       0,
	"rag.session_ttl":             "30m",
	"rag.max_sessions":            10000,
	"loader.source_dir":           "data/source",
	"loader.archive_dir":          "data/archive",
	"loader.bad_dir":              "data/bad",
	"loader.monitoring_time":      "5s",
	"upload.dir":                  "data/uploads",
	"log.level":                   "info",
	"log.format":                  "text",
	"otel.exporter_otlp_endpoint": "",
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[CONFIG] .env not loaded: %v", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if err := v.BindEnv("catalog.path", "CATALOG_PATH", "SQLITE_PATH"); err != nil {
		return nil, fmt.Errorf("binding env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Chunk.Size <= 0:
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.Chunk.Size)
	case c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size:
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.Chunk.Size, c.Chunk.Overlap)
	case c.RAG.TopK <= 0:
		return fmt.Errorf("RAG_TOP_K must be positive, got %d", c.RAG.TopK)
	}
	switch c.Vector.Backend {
	case "memory", "pgvector", "qdrant":
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.Vector.Backend)
	}
	switch c.Catalog.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown CATALOG_BACKEND %q", c.Catalog.Backend)
	}
	switch c.Embedder {
	case "ollama", "hash":
	default:
		return fmt.Errorf("unknown EMBEDDER %q", c.Embedder)
	}
	return nil
}

// SetupLogger installs the default slog logger described by c.
func (c LogConfig) SetupLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
