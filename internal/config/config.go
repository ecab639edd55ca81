// Package config provides configuration management for twinrag.
//
// Settings are resolved in three layers: built-in defaults, an optional YAML
// file named by TWINRAG_CONFIG_FILE, then TWINRAG_-prefixed environment
// variables. A .env file in the working directory is loaded into the
// environment first; variables already set are not overridden.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the twinrag server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 6464
	Host            string        `yaml:"host"`             // default: 127.0.0.1
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// StorageConfig selects the relational, vector and graph backends.
type StorageConfig struct {
	DataPath string `yaml:"data_path"` // default: ./data

	// VectorBackend is sqlite, postgres or qdrant (default: sqlite).
	VectorBackend string `yaml:"vector_backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	QdrantHost    string `yaml:"qdrant_host"`
	QdrantPort    int    `yaml:"qdrant_port"` // default: 6334
	QdrantAPIKey  string `yaml:"qdrant_api_key"`
	QdrantTLS     bool   `yaml:"qdrant_tls"`

	// GraphBackend is sqlite or neo4j (default: sqlite).
	GraphBackend  string `yaml:"graph_backend"`
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`
	Neo4jDatabase string `yaml:"neo4j_database"`
}

// LLMConfig configures the text and embedding providers.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // ollama, openai, anthropic, none (default: none)
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"` // default: 60s

	EmbeddingProvider  string `yaml:"embedding_provider"` // ollama, openai, hash (default: hash)
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingBaseURL   string `yaml:"embedding_base_url"`
	EmbeddingAPIKey    string `yaml:"embedding_api_key"`
	EmbeddingDimension int    `yaml:"embedding_dimension"` // hash embedder only (default: 384)
}

// IngestConfig sizes chunks and bounds extraction and indexing.
type IngestConfig struct {
	ChunkMaxSize     int           `yaml:"chunk_max_size"`     // default: 1200
	ChunkOverlap     int           `yaml:"chunk_overlap"`      // default: 200
	ChunkMinSize     int           `yaml:"chunk_min_size"`     // default: 80
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`      // default: 15s
	MaxFetchBytes    int64         `yaml:"max_fetch_bytes"`    // default: 20 MiB
	EmbedTimeout     time.Duration `yaml:"embed_timeout"`      // default: 30s
	IndexMaxAttempts int           `yaml:"index_max_attempts"` // default: 3
	QueryTimeout     time.Duration `yaml:"query_timeout"`      // default: 30s

	// WatchDir is imported into WatchTwin at startup and watched for changes.
	// Empty disables the watcher.
	WatchDir  string `yaml:"watch_dir"`
	WatchTwin string `yaml:"watch_twin"`
}

// JobsConfig configures the training job queue and its scheduler.
type JobsConfig struct {
	Workers          int           `yaml:"workers"`           // default: 4
	BatchSize        int           `yaml:"batch_size"`        // default: 20
	MaxRetries       int           `yaml:"max_retries"`       // default: 3
	BaseBackoff      time.Duration `yaml:"base_backoff"`      // default: 5s
	JobTimeout       time.Duration `yaml:"job_timeout"`       // default: 5m
	StuckAfter       time.Duration `yaml:"stuck_after"`       // default: 30m
	TickInterval     time.Duration `yaml:"tick_interval"`     // default: 30s
	SchedulerEnabled bool          `yaml:"scheduler_enabled"` // default: true
}

// SecurityConfig contains authentication and public rate limit settings.
type SecurityConfig struct {
	// APIToken guards every owner route. Empty disables auth (development only).
	APIToken string `yaml:"api_token"`

	PublicRatePerSecond float64 `yaml:"public_rate_per_second"` // default: 2
	PublicBurst         int     `yaml:"public_burst"`           // default: 10
}

// LoadConfig loads .env, the optional YAML file and the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Defaults()
	if path := os.Getenv("TWINRAG_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            6464,
			Host:            "127.0.0.1",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataPath:      "./data",
			VectorBackend: "sqlite",
			QdrantPort:    6334,
			GraphBackend:  "sqlite",
			Neo4jDatabase: "neo4j",
		},
		LLM: LLMConfig{
			Provider:           "none",
			Timeout:            60 * time.Second,
			EmbeddingProvider:  "hash",
			EmbeddingDimension: 384,
		},
		Ingest: IngestConfig{
			ChunkMaxSize:     1200,
			ChunkOverlap:     200,
			ChunkMinSize:     80,
			FetchTimeout:     15 * time.Second,
			MaxFetchBytes:    20 << 20,
			EmbedTimeout:     30 * time.Second,
			IndexMaxAttempts: 3,
			QueryTimeout:     30 * time.Second,
		},
		Jobs: JobsConfig{
			Workers:          4,
			BatchSize:        20,
			MaxRetries:       3,
			BaseBackoff:      5 * time.Second,
			JobTimeout:       5 * time.Minute,
			StuckAfter:       30 * time.Minute,
			TickInterval:     30 * time.Second,
			SchedulerEnabled: true,
		},
		Security: SecurityConfig{
			PublicRatePerSecond: 2,
			PublicBurst:         10,
		},
	}
}

// loadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("TWINRAG_PORT", c.Server.Port)
	c.Server.Host = getEnv("TWINRAG_HOST", c.Server.Host)
	c.Server.ShutdownTimeout = getEnvDuration("TWINRAG_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.DataPath = getEnv("TWINRAG_DATA_PATH", c.Storage.DataPath)
	c.Storage.VectorBackend = getEnv("TWINRAG_VECTOR_BACKEND", c.Storage.VectorBackend)
	c.Storage.PostgresDSN = getEnv("TWINRAG_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.QdrantHost = getEnv("TWINRAG_QDRANT_HOST", c.Storage.QdrantHost)
	c.Storage.QdrantPort = getEnvInt("TWINRAG_QDRANT_PORT", c.Storage.QdrantPort)
	c.Storage.QdrantAPIKey = getEnv("TWINRAG_QDRANT_API_KEY", c.Storage.QdrantAPIKey)
	c.Storage.QdrantTLS = getEnvBool("TWINRAG_QDRANT_TLS", c.Storage.QdrantTLS)
	c.Storage.GraphBackend = getEnv("TWINRAG_GRAPH_BACKEND", c.Storage.GraphBackend)
	c.Storage.Neo4jURI = getEnv("TWINRAG_NEO4J_URI", c.Storage.Neo4jURI)
	c.Storage.Neo4jUser = getEnv("TWINRAG_NEO4J_USER", c.Storage.Neo4jUser)
	c.Storage.Neo4jPassword = getEnv("TWINRAG_NEO4J_PASSWORD", c.Storage.Neo4jPassword)
	c.Storage.Neo4jDatabase = getEnv("TWINRAG_NEO4J_DATABASE", c.Storage.Neo4jDatabase)

	c.LLM.Provider = getEnv("TWINRAG_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("TWINRAG_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("TWINRAG_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("TWINRAG_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Timeout = getEnvDuration("TWINRAG_LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.EmbeddingProvider = getEnv("TWINRAG_EMBEDDING_PROVIDER", c.LLM.EmbeddingProvider)
	c.LLM.EmbeddingModel = getEnv("TWINRAG_EMBEDDING_MODEL", c.LLM.EmbeddingModel)
	c.LLM.EmbeddingBaseURL = getEnv("TWINRAG_EMBEDDING_BASE_URL", c.LLM.EmbeddingBaseURL)
	c.LLM.EmbeddingAPIKey = getEnv("TWINRAG_EMBEDDING_API_KEY", c.LLM.EmbeddingAPIKey)
	c.LLM.EmbeddingDimension = getEnvInt("TWINRAG_EMBEDDING_DIMENSION", c.LLM.EmbeddingDimension)

	c.Ingest.ChunkMaxSize = getEnvInt("TWINRAG_CHUNK_MAX_SIZE", c.Ingest.ChunkMaxSize)
	c.Ingest.ChunkOverlap = getEnvInt("TWINRAG_CHUNK_OVERLAP", c.Ingest.ChunkOverlap)
	c.Ingest.ChunkMinSize = getEnvInt("TWINRAG_CHUNK_MIN_SIZE", c.Ingest.ChunkMinSize)
	c.Ingest.FetchTimeout = getEnvDuration("TWINRAG_FETCH_TIMEOUT", c.Ingest.FetchTimeout)
	c.Ingest.MaxFetchBytes = int64(getEnvInt("TWINRAG_MAX_FETCH_BYTES", int(c.Ingest.MaxFetchBytes)))
	c.Ingest.EmbedTimeout = getEnvDuration("TWINRAG_EMBED_TIMEOUT", c.Ingest.EmbedTimeout)
	c.Ingest.IndexMaxAttempts = getEnvInt("TWINRAG_INDEX_MAX_ATTEMPTS", c.Ingest.IndexMaxAttempts)
	c.Ingest.QueryTimeout = getEnvDuration("TWINRAG_QUERY_TIMEOUT", c.Ingest.QueryTimeout)
	c.Ingest.WatchDir = getEnv("TWINRAG_WATCH_DIR", c.Ingest.WatchDir)
	c.Ingest.WatchTwin = getEnv("TWINRAG_WATCH_TWIN", c.Ingest.WatchTwin)

	c.Jobs.Workers = getEnvInt("TWINRAG_JOB_WORKERS", c.Jobs.Workers)
	c.Jobs.BatchSize = getEnvInt("TWINRAG_JOB_BATCH_SIZE", c.Jobs.BatchSize)
	c.Jobs.MaxRetries = getEnvInt("TWINRAG_JOB_MAX_RETRIES", c.Jobs.MaxRetries)
	c.Jobs.BaseBackoff = getEnvDuration("TWINRAG_JOB_BASE_BACKOFF", c.Jobs.BaseBackoff)
	c.Jobs.JobTimeout = getEnvDuration("TWINRAG_JOB_TIMEOUT", c.Jobs.JobTimeout)
	c.Jobs.StuckAfter = getEnvDuration("TWINRAG_JOB_STUCK_AFTER", c.Jobs.StuckAfter)
	c.Jobs.TickInterval = getEnvDuration("TWINRAG_SCHEDULER_INTERVAL", c.Jobs.TickInterval)
	c.Jobs.SchedulerEnabled = getEnvBool("TWINRAG_SCHEDULER_ENABLED", c.Jobs.SchedulerEnabled)

	c.Security.APIToken = getEnv("TWINRAG_API_TOKEN", c.Security.APIToken)
	c.Security.PublicRatePerSecond = getEnvFloat("TWINRAG_PUBLIC_RATE", c.Security.PublicRatePerSecond)
	c.Security.PublicBurst = getEnvInt("TWINRAG_PUBLIC_BURST", c.Security.PublicBurst)
}

// Validate checks backend selections and the settings they require.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Server.Port))
	}
	switch c.Storage.VectorBackend {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres vector backend requires TWINRAG_POSTGRES_DSN"))
		}
	case "qdrant":
		if c.Storage.QdrantHost == "" {
			errs = append(errs, errors.New("qdrant vector backend requires TWINRAG_QDRANT_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Storage.VectorBackend))
	}
	switch c.Storage.GraphBackend {
	case "sqlite":
	case "neo4j":
		if c.Storage.Neo4jURI == "" {
			errs = append(errs, errors.New("neo4j graph backend requires TWINRAG_NEO4J_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown graph backend %q", c.Storage.GraphBackend))
	}
	if c.Ingest.ChunkMinSize >= c.Ingest.ChunkMaxSize {
		errs = append(errs, fmt.Errorf("chunk min size (%d) must be below max size (%d)",
			c.Ingest.ChunkMinSize, c.Ingest.ChunkMaxSize))
	}
	if c.Ingest.WatchDir != "" && c.Ingest.WatchTwin == "" {
		errs = append(errs, errors.New("TWINRAG_WATCH_DIR requires TWINRAG_WATCH_TWIN"))
	}
	if c.Security.PublicRatePerSecond <= 0 || c.Security.PublicBurst < 1 {
		errs = append(errs, errors.New("public rate limit must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration parses values such as "30s" or "5m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
