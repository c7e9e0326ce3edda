package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the context engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL semantic index and discovery audit store)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional classification cache)
	Redis RedisConfig `yaml:"redis"`

	// LLM providers used for intent classification
	LLM LLMConfig `yaml:"llm"`

	// Context discovery pipeline tuning
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Filter state merge thresholds
	FilterMerge FilterMergeConfig `yaml:"filter_merge"`

	// Optional customer SQL Server used as a fallback relationship source
	CustomerSQLServer SQLServerConfig `yaml:"customer_sqlserver"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"context_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// LLMConfig holds the classifier's provider settings.
// The OpenAI-compatible endpoint is the default; Anthropic is used when a
// request names a Claude model.
type LLMConfig struct {
	BaseURL         string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model           string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey          string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	AnthropicModel  string  `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-3-5-haiku-latest"`
	AnthropicAPIKey string  `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	Temperature     float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	// CircuitThreshold is the number of consecutive provider failures before the breaker opens.
	CircuitThreshold int `yaml:"circuit_threshold" env:"LLM_CIRCUIT_THRESHOLD" env-default:"5"`
	// CircuitResetSeconds is how long an open breaker waits before a trial request.
	CircuitResetSeconds int `yaml:"circuit_reset_seconds" env:"LLM_CIRCUIT_RESET_SECONDS" env-default:"30"`
}

// AnthropicAvailable returns true if the Anthropic provider is configured.
func (c *LLMConfig) AnthropicAvailable() bool {
	return c.AnthropicAPIKey != ""
}

// DiscoveryConfig tunes the context discovery pipeline.
type DiscoveryConfig struct {
	// ParallelTimeoutMs bounds the concurrent semantic search + terminology step.
	ParallelTimeoutMs int `yaml:"parallel_timeout_ms" env:"DISCOVERY_PARALLEL_TIMEOUT_MS" env-default:"15000"`
	// AuditTimeoutMs bounds the best-effort audit write.
	AuditTimeoutMs int `yaml:"audit_timeout_ms" env:"DISCOVERY_AUDIT_TIMEOUT_MS" env-default:"2000"`

	SearchMinConfidence float64 `yaml:"search_min_confidence" env:"DISCOVERY_SEARCH_MIN_CONFIDENCE" env-default:"0.5"`
	SearchLimit         int     `yaml:"search_limit" env:"DISCOVERY_SEARCH_LIMIT" env-default:"50"`
	IncludeNonForm      bool    `yaml:"include_non_form" env:"DISCOVERY_INCLUDE_NON_FORM" env-default:"true"`

	TerminologyMinConfidence float64 `yaml:"terminology_min_confidence" env:"DISCOVERY_TERMINOLOGY_MIN_CONFIDENCE" env-default:"0.7"`
	TerminologyMaxCandidates int     `yaml:"terminology_max_candidates" env:"DISCOVERY_TERMINOLOGY_MAX_CANDIDATES" env-default:"200"`

	MaxJoinDepth      int    `yaml:"max_join_depth" env:"DISCOVERY_MAX_JOIN_DEPTH" env-default:"6"`
	MaxJoinCandidates int    `yaml:"max_join_candidates" env:"DISCOVERY_MAX_JOIN_CANDIDATES" env-default:"50"`
	PreferDirectJoins bool   `yaml:"prefer_direct_joins" env:"DISCOVERY_PREFER_DIRECT_JOINS" env-default:"true"`
	DetectCycles      bool   `yaml:"detect_cycles" env:"DISCOVERY_DETECT_CYCLES" env-default:"true"`
	DefaultSeedTable  string `yaml:"default_seed_table" env:"DISCOVERY_DEFAULT_SEED_TABLE" env-default:""`

	TerminologyCacheTTLSeconds    int `yaml:"terminology_cache_ttl_seconds" env:"DISCOVERY_TERMINOLOGY_CACHE_TTL_SECONDS" env-default:"300"`
	RelationshipCacheTTLSeconds   int `yaml:"relationship_cache_ttl_seconds" env:"DISCOVERY_RELATIONSHIP_CACHE_TTL_SECONDS" env-default:"600"`
	ClassificationCacheTTLSeconds int `yaml:"classification_cache_ttl_seconds" env:"DISCOVERY_CLASSIFICATION_CACHE_TTL_SECONDS" env-default:"3600"`
	CacheSweepIntervalSeconds     int `yaml:"cache_sweep_interval_seconds" env:"DISCOVERY_CACHE_SWEEP_INTERVAL_SECONDS" env-default:"600"`
}

// ParallelTimeout returns the shared deadline for the concurrent step.
func (c *DiscoveryConfig) ParallelTimeout() time.Duration {
	return time.Duration(c.ParallelTimeoutMs) * time.Millisecond
}

// AuditTimeout returns the deadline for the audit write.
func (c *DiscoveryConfig) AuditTimeout() time.Duration {
	return time.Duration(c.AuditTimeoutMs) * time.Millisecond
}

// TerminologyCacheTTL returns the terminology mapping cache TTL.
func (c *DiscoveryConfig) TerminologyCacheTTL() time.Duration {
	return time.Duration(c.TerminologyCacheTTLSeconds) * time.Second
}

// RelationshipCacheTTL returns the relationship rows cache TTL.
func (c *DiscoveryConfig) RelationshipCacheTTL() time.Duration {
	return time.Duration(c.RelationshipCacheTTLSeconds) * time.Second
}

// ClassificationCacheTTL returns the classifier response cache TTL.
func (c *DiscoveryConfig) ClassificationCacheTTL() time.Duration {
	return time.Duration(c.ClassificationCacheTTLSeconds) * time.Second
}

// CacheSweepInterval returns the interval between eviction sweeps.
func (c *DiscoveryConfig) CacheSweepInterval() time.Duration {
	return time.Duration(c.CacheSweepIntervalSeconds) * time.Second
}

// FilterMergeConfig holds the thresholds used when merging filter signals.
type FilterMergeConfig struct {
	ConfidenceThreshold     float64 `yaml:"confidence_threshold" env:"FILTER_MERGE_CONFIDENCE_THRESHOLD" env-default:"0.7"`
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold" env:"FILTER_MERGE_HIGH_CONFIDENCE_THRESHOLD" env-default:"0.85"`
	ConflictThreshold       float64 `yaml:"conflict_threshold" env:"FILTER_MERGE_CONFLICT_THRESHOLD" env-default:"0.1"`
}

// SQLServerConfig points at a customer SQL Server whose FK catalog can seed the join graph.
// An empty host disables the source.
type SQLServerConfig struct {
	Host     string `yaml:"host" env:"CUSTOMER_SQLSERVER_HOST" env-default:""`
	Port     int    `yaml:"port" env:"CUSTOMER_SQLSERVER_PORT" env-default:"1433"`
	User     string `yaml:"user" env:"CUSTOMER_SQLSERVER_USER" env-default:""`
	Password string `yaml:"-" env:"CUSTOMER_SQLSERVER_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"CUSTOMER_SQLSERVER_DATABASE" env-default:""`
	Encrypt  bool   `yaml:"encrypt" env:"CUSTOMER_SQLSERVER_ENCRYPT" env-default:"true"`
}

// IsAvailable returns true if a customer SQL Server is configured.
func (c *SQLServerConfig) IsAvailable() bool {
	return c.Host != "" && c.Database != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Local services started on the host are reached through the Docker gateway
	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	d := c.Discovery
	if d.ParallelTimeoutMs <= 0 {
		return fmt.Errorf("discovery.parallel_timeout_ms must be positive")
	}
	if err := checkUnit("discovery.search_min_confidence", d.SearchMinConfidence); err != nil {
		return err
	}
	if err := checkUnit("discovery.terminology_min_confidence", d.TerminologyMinConfidence); err != nil {
		return err
	}
	if d.MaxJoinDepth < 1 {
		return fmt.Errorf("discovery.max_join_depth must be at least 1")
	}

	f := c.FilterMerge
	if err := checkUnit("filter_merge.confidence_threshold", f.ConfidenceThreshold); err != nil {
		return err
	}
	if err := checkUnit("filter_merge.high_confidence_threshold", f.HighConfidenceThreshold); err != nil {
		return err
	}
	if err := checkUnit("filter_merge.conflict_threshold", f.ConflictThreshold); err != nil {
		return err
	}
	if f.HighConfidenceThreshold < f.ConfidenceThreshold {
		return fmt.Errorf("filter_merge.high_confidence_threshold (%.2f) must be >= confidence_threshold (%.2f)",
			f.HighConfidenceThreshold, f.ConfidenceThreshold)
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns a PostgreSQL URL, as required by golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if /.dockerenv exists. Cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal when running in a container.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
