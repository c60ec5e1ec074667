// Package config provides configuration management for the paper aggregation service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Storage backend constants.
const (
	// StorageBackendMemory keeps PDFs in process memory (tests and local development).
	StorageBackendMemory = "memory"
	// StorageBackendS3 stores PDFs in an S3-compatible object store.
	StorageBackendS3 = "s3"
)

// Config holds all configuration for the paper aggregation service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains Kafka consumer/producer settings for async job intake.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Storage contains durable PDF storage settings.
	Storage StorageConfig `mapstructure:"storage"`
	// Search contains search orchestration settings.
	Search SearchConfig `mapstructure:"search"`
	// Jobs contains job lifecycle settings.
	Jobs JobsConfig `mapstructure:"jobs"`
	// Enrichment contains metadata enrichment settings.
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	// PDF contains PDF download and resolution settings.
	PDF PDFConfig `mapstructure:"pdf"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// KafkaConfig holds Kafka settings for async job intake and result publishing.
type KafkaConfig struct {
	// Enabled controls whether the Kafka listener and emitter are active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// RequestTopic is the topic to consume aggregation requests from.
	RequestTopic string `mapstructure:"request_topic"`
	// ResultTopic is the topic to publish job completion events to.
	ResultTopic string `mapstructure:"result_topic"`
	// GroupID is the consumer group ID.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// StorageConfig holds durable PDF storage settings.
type StorageConfig struct {
	// Backend selects the storage implementation (s3, memory).
	Backend string `mapstructure:"backend"`
	// Bucket is the S3 bucket name.
	Bucket string `mapstructure:"bucket"`
	// Region is the AWS region.
	Region string `mapstructure:"region"`
	// Endpoint overrides the S3 endpoint (for MinIO and other S3-compatible stores).
	Endpoint string `mapstructure:"endpoint"`
	// UsePathStyle forces path-style addressing (required by most S3-compatible stores).
	UsePathStyle bool `mapstructure:"use_path_style"`
	// PublicBaseURL is the base URL for publicly reachable object links.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// SearchConfig holds search orchestration settings.
type SearchConfig struct {
	// MaxRounds is the maximum number of search rounds per request.
	MaxRounds int `mapstructure:"max_rounds"`
	// AdapterTimeout is the per-round timeout for source fan-out.
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"`
	// DefaultTargetSize is the target result count when a request does not set one.
	DefaultTargetSize int `mapstructure:"default_target_size"`
	// SourcePriority orders sources for result folding and tie-breaking.
	SourcePriority []string `mapstructure:"source_priority"`
}

// JobsConfig holds job lifecycle settings.
type JobsConfig struct {
	// MaxConcurrent is the maximum number of jobs running at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// QueueSize is the capacity of the pending job queue.
	QueueSize int `mapstructure:"queue_size"`
	// RecoveryPolicy controls what happens to jobs found running at startup
	// (fail, resume).
	RecoveryPolicy string `mapstructure:"recovery_policy"`
}

// EnrichmentConfig holds metadata enrichment settings.
type EnrichmentConfig struct {
	// Enabled controls whether enrichment runs during aggregation.
	Enabled bool `mapstructure:"enabled"`
	// Concurrency is the number of papers enriched in parallel.
	Concurrency int `mapstructure:"concurrency"`
	// MaxRetries is the maximum lookup attempts per paper.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between lookup retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// PDFConfig holds PDF download and resolution settings.
type PDFConfig struct {
	// Concurrency is the number of papers resolved in parallel.
	Concurrency int `mapstructure:"concurrency"`
	// MaxSizeBytes is the maximum accepted PDF size.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	// DownloadTimeout is the per-download timeout.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// MaxRetries is the maximum download attempts per candidate URL.
	MaxRetries int `mapstructure:"max_retries"`
}

// PaperSourcesConfig holds configuration for all paper source APIs.
type PaperSourcesConfig struct {
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// OpenAlex contains OpenAlex API settings.
	OpenAlex PaperSourceConfig `mapstructure:"openalex"`
	// Crossref contains Crossref API settings.
	Crossref PaperSourceConfig `mapstructure:"crossref"`
	// PubMed contains PubMed API settings.
	PubMed PaperSourceConfig `mapstructure:"pubmed"`
	// ArXiv contains arXiv API settings.
	ArXiv PaperSourceConfig `mapstructure:"arxiv"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. AGGREGATOR_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// Email is the contact email for polite pools (OpenAlex, Crossref).
	Email string `mapstructure:"email"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxResults is the maximum results per query.
	MaxResults int `mapstructure:"max_results"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("AGGREGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-aggregation-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv("AGGREGATOR_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.PaperSources.OpenAlex.APIKey = os.Getenv("AGGREGATOR_PAPER_SOURCES_OPENALEX_API_KEY")
	cfg.PaperSources.Crossref.APIKey = os.Getenv("AGGREGATOR_PAPER_SOURCES_CROSSREF_API_KEY")
	cfg.PaperSources.PubMed.APIKey = os.Getenv("AGGREGATOR_PAPER_SOURCES_PUBMED_API_KEY")
	cfg.PaperSources.ArXiv.APIKey = os.Getenv("AGGREGATOR_PAPER_SOURCES_ARXIV_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "aggregator")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "paper_aggregation_service")
	// Default to "require" for production security. Use AGGREGATOR_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.request_topic", "papers.aggregation.requests")
	v.SetDefault("kafka.result_topic", "papers.aggregation.results")
	v.SetDefault("kafka.group_id", "paper-aggregation-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Storage defaults
	v.SetDefault("storage.backend", StorageBackendS3)
	v.SetDefault("storage.bucket", "paper-pdfs")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.public_base_url", "")

	// Search defaults
	v.SetDefault("search.max_rounds", 3)
	v.SetDefault("search.adapter_timeout", "30s")
	v.SetDefault("search.default_target_size", 25)
	v.SetDefault("search.source_priority", []string{"arxiv", "semantic_scholar", "openalex", "crossref", "pubmed"})

	// Jobs defaults
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.queue_size", 256)
	v.SetDefault("jobs.recovery_policy", "fail")

	// Enrichment defaults
	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.concurrency", 5)
	v.SetDefault("enrichment.max_retries", 2)
	v.SetDefault("enrichment.retry_delay", "500ms")

	// PDF defaults
	v.SetDefault("pdf.concurrency", 5)
	v.SetDefault("pdf.max_size_bytes", 100*1024*1024)
	v.SetDefault("pdf.download_timeout", "60s")
	v.SetDefault("pdf.max_retries", 2)

	// Paper sources defaults - Semantic Scholar
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 10.0)
	v.SetDefault("paper_sources.semantic_scholar.max_results", 100)

	// Paper sources defaults - OpenAlex
	v.SetDefault("paper_sources.openalex.enabled", true)
	v.SetDefault("paper_sources.openalex.base_url", "https://api.openalex.org")
	v.SetDefault("paper_sources.openalex.email", "")
	v.SetDefault("paper_sources.openalex.timeout", "30s")
	v.SetDefault("paper_sources.openalex.rate_limit", 10.0)
	v.SetDefault("paper_sources.openalex.max_results", 200)

	// Paper sources defaults - Crossref
	v.SetDefault("paper_sources.crossref.enabled", true)
	v.SetDefault("paper_sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("paper_sources.crossref.email", "")
	v.SetDefault("paper_sources.crossref.timeout", "30s")
	v.SetDefault("paper_sources.crossref.rate_limit", 10.0)
	v.SetDefault("paper_sources.crossref.max_results", 25)

	// Paper sources defaults - PubMed
	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "30s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("paper_sources.pubmed.max_results", 100)

	// Paper sources defaults - arXiv
	v.SetDefault("paper_sources.arxiv.enabled", true)
	v.SetDefault("paper_sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("paper_sources.arxiv.timeout", "30s")
	v.SetDefault("paper_sources.arxiv.rate_limit", 3.0) // arXiv recommends max 3 req/sec
	v.SetDefault("paper_sources.arxiv.max_results", 100)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate storage config
	switch c.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	// Validate search config
	if c.Search.MaxRounds <= 0 {
		return fmt.Errorf("search max_rounds must be positive")
	}
	if c.Search.DefaultTargetSize <= 0 {
		return fmt.Errorf("search default_target_size must be positive")
	}

	// Validate jobs config
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs max_concurrent must be positive")
	}
	switch c.Jobs.RecoveryPolicy {
	case "fail", "resume":
	default:
		return fmt.Errorf("invalid jobs recovery_policy: %s", c.Jobs.RecoveryPolicy)
	}

	// Validate Kafka config
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.RequestTopic == "" {
			return fmt.Errorf("kafka request_topic is required when kafka is enabled")
		}
	}

	return nil
}
