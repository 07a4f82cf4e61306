package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3010"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database   DatabaseConfig
	Embeddings EmbeddingsConfig
	LLM        LLMConfig
	Otel       OtelConfig
	Storage    StorageConfig
	Snapshots  SnapshotConfig
	Scheduler  SchedulerConfig
	Graph      GraphConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"entitygraph"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"entitygraph"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// EmbeddingsConfig holds embedding provider configuration
type EmbeddingsConfig struct {
	// GCP Project ID for the Vertex AI backend
	GCPProjectID string `env:"GCP_PROJECT_ID" envDefault:""`

	// Vertex AI location (e.g., "us-central1")
	VertexAILocation string `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`

	// Embedding model name
	Model string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Embedding dimension, must match the vector column
	Dimension int `env:"EMBEDDING_DIMENSION" envDefault:"768"`

	// Google API Key for the Gemini API backend
	GoogleAPIKey string `env:"GOOGLE_API_KEY" envDefault:""`

	// Disable embeddings network calls (for testing)
	NetworkDisabled bool `env:"EMBEDDINGS_NETWORK_DISABLED" envDefault:"false"`

	// BatchConcurrency bounds parallel entities during batch generation
	BatchConcurrency int `env:"EMBEDDING_BATCH_CONCURRENCY" envDefault:"4"`

	// RequestsPerSecond throttles calls to the metered provider (0 = unlimited)
	RequestsPerSecond float64 `env:"EMBEDDING_REQUESTS_PER_SECOND" envDefault:"10"`
}

// IsEnabled returns true if embeddings are configured
func (e *EmbeddingsConfig) IsEnabled() bool {
	if e.NetworkDisabled {
		return false
	}
	return e.UseVertexAI() || e.GoogleAPIKey != ""
}

// UseVertexAI returns true if Vertex AI should be used
func (e *EmbeddingsConfig) UseVertexAI() bool {
	return e.GCPProjectID != "" && e.VertexAILocation != ""
}

// LLMConfig holds the text-generation collaborator used for path explanations
type LLMConfig struct {
	GCPProjectID     string        `env:"GCP_PROJECT_ID" envDefault:""`
	VertexAILocation string        `env:"VERTEX_AI_LOCATION" envDefault:"us-central1"`
	Model            string        `env:"VERTEX_AI_MODEL" envDefault:"gemini-2.5-flash"`
	MaxOutputTokens  int           `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"2048"`
	Temperature      float64       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	Timeout          time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	NetworkDisabled  bool          `env:"LLM_NETWORK_DISABLED" envDefault:"false"`
}

// IsEnabled returns true if LLM is configured
func (l *LLMConfig) IsEnabled() bool {
	if l.NetworkDisabled {
		return false
	}
	return l.GCPProjectID != "" && l.VertexAILocation != ""
}

// OtelConfig holds OpenTelemetry configuration.
// Tracing is disabled when ExporterEndpoint is empty.
type OtelConfig struct {
	ExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ServiceName      string  `env:"OTEL_SERVICE_NAME"            envDefault:"entitygraph"`
	SamplingRate     float64 `env:"OTEL_SAMPLING_RATE"           envDefault:"1.0"`
}

// Enabled returns true when an OTLP endpoint is configured.
func (c OtelConfig) Enabled() bool {
	return c.ExporterEndpoint != ""
}

// StorageConfig holds S3-compatible object storage settings for snapshot archives
type StorageConfig struct {
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET_SNAPSHOTS" envDefault:"graph-snapshots"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// SnapshotConfig controls the background snapshot generator
type SnapshotConfig struct {
	WorkerEnabled         bool          `env:"SNAPSHOT_WORKER_ENABLED" envDefault:"true"`
	WorkerInterval        time.Duration `env:"SNAPSHOT_WORKER_INTERVAL" envDefault:"2s"`
	WorkerBatchSize       int           `env:"SNAPSHOT_WORKER_BATCH_SIZE" envDefault:"2"`
	MaxAttempts           int           `env:"SNAPSHOT_JOB_MAX_ATTEMPTS" envDefault:"3"`
	StaleThresholdMinutes int           `env:"SNAPSHOT_STALE_THRESHOLD_MINUTES" envDefault:"15"`
	ArchiveEnabled        bool          `env:"SNAPSHOT_ARCHIVE_ENABLED" envDefault:"false"`
}

// SchedulerConfig controls periodic maintenance tasks
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// Tenants that receive periodic snapshots and metrics recomputation
	Tenants []string `env:"SCHEDULED_TENANTS" envSeparator:","`

	// Cron expression with seconds field; empty disables scheduled snapshots
	SnapshotSchedule string `env:"SCHEDULED_SNAPSHOT_CRON" envDefault:""`

	MetricsInterval  time.Duration `env:"METRICS_RECOMPUTE_INTERVAL" envDefault:"1h"`
	StaleJobInterval time.Duration `env:"STALE_JOB_RECOVERY_INTERVAL" envDefault:"10m"`
}

// GraphConfig bounds list and traversal work
type GraphConfig struct {
	DefaultListLimit int `env:"GRAPH_DEFAULT_LIST_LIMIT" envDefault:"50"`
	MaxListLimit     int `env:"GRAPH_MAX_LIST_LIMIT" envDefault:"500"`
	MaxDepth         int `env:"GRAPH_MAX_TRAVERSAL_DEPTH" envDefault:"10"`
	MaxVisited       int `env:"GRAPH_MAX_TRAVERSAL_NODES" envDefault:"1000"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Bool("embeddings_enabled", cfg.Embeddings.IsEnabled()),
		slog.Bool("llm_enabled", cfg.LLM.IsEnabled()),
	)

	return cfg, nil
}
