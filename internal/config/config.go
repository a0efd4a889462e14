package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
)

// Store drivers.
const (
	DriverRedis    = "redis"
	DriverValkey   = "valkey"
	DriverPgvector = "pgvector"
	DriverLocal    = "local"
)

// Embedding providers.
const (
	ProviderOpenAI    = "openai"
	ProviderLangchain = "langchain"
)

// DefaultMinScore drops weakly related results unless a query overrides it.
const DefaultMinScore = 0.70

// Config holds the semsearch configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Response  ResponseConfig  `yaml:"response"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// EmbeddingConfig holds the embedding provider and model settings.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // openai (default), langchain
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	// Dimensions is the expected vector length; the store index must agree.
	Dimensions int `yaml:"dimensions"`
	// SendDimensions passes Dimensions to the API (only for models that support truncation).
	SendDimensions bool   `yaml:"send_dimensions"`
	QueryPrefix    string `yaml:"query_prefix"` // e.g. "query: " for E5 models
	MaxConcurrency int    `yaml:"max_concurrency"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	BatchSize      int    `yaml:"batch_size"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Driver     string           `yaml:"driver"` // redis (default), valkey, pgvector, local
	Metric     string           `yaml:"metric"` // cosine (default), ip, l2
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Local      LocalConfig      `yaml:"local"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// RedisConfig holds Redis/Valkey connection and index settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	IndexName        string   `yaml:"index_name"`
	Algorithm        string   `yaml:"algorithm"` // hnsw (default), flat
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	TagFields        []string `yaml:"tag_fields"`
	NumericFields    []string `yaml:"numeric_fields"`
	CreateIndex      bool     `yaml:"create_index"`
}

// PostgresConfig holds pgvector settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	Table          string `yaml:"table"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	ConnMaxLifeSec int    `yaml:"conn_max_lifetime_sec"`
	CreateSchema   bool   `yaml:"create_schema"`
}

// LocalConfig holds the embedded store settings.
type LocalConfig struct {
	Path string `yaml:"path"`
}

// ResilienceConfig holds the client-side pool, retry and breaker settings.
type ResilienceConfig struct {
	PoolSize              int    `yaml:"pool_size"`
	AcquireTimeoutMs      int    `yaml:"acquire_timeout_ms"`
	TimeoutMs             int    `yaml:"timeout_ms"`
	MaxRetries            int    `yaml:"max_retries"` // -1 disables retries
	InitialBackoffMs      int    `yaml:"initial_backoff_ms"`
	MaxBackoffMs          int    `yaml:"max_backoff_ms"`
	BreakerFailures       uint32 `yaml:"breaker_failures"`
	BreakerOpenTimeoutSec int    `yaml:"breaker_open_timeout_sec"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	LRUSize int `yaml:"lru_size"` // 0 disables the in-process tier
	// Shared enables the Redis tier; requires store.redis.addrs.
	Shared   bool `yaml:"shared"`
	TTLHours int  `yaml:"ttl_hours"`
}

// PipelineConfig holds query pipeline settings.
type PipelineConfig struct {
	TimeoutMs int      `yaml:"timeout_ms"`
	DefaultK  int      `yaml:"default_k"`
	MinScore  *float64 `yaml:"min_score"`
	Workers   int      `yaml:"workers"`
}

// ResponseConfig selects the response fields.
type ResponseConfig struct {
	MetadataFields []string `yaml:"metadata_fields"`
	IncludeContent bool     `yaml:"include_content"`
	IncludeContext bool     `yaml:"include_context"`
	SourceKey      string   `yaml:"source_key"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 15
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	vc := domain.DefaultVectorConfig()

	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = ProviderOpenAI
	}
	if e.Model == "" {
		e.Model = vc.Model
	}
	if e.Dimensions <= 0 {
		e.Dimensions = vc.Dimensions
	}
	if e.MaxConcurrency <= 0 {
		e.MaxConcurrency = 4
	}
	if e.TimeoutMs <= 0 {
		e.TimeoutMs = 5000
	}

	s := &c.Store
	if s.Driver == "" {
		s.Driver = DriverRedis
	}
	if s.Metric == "" {
		s.Metric = vc.DistanceMetric
	}
	if s.Redis.ReadinessTimeout <= 0 {
		s.Redis.ReadinessTimeout = 10
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = "semsearch:kb:"
	}
	if s.Redis.Algorithm == "" {
		s.Redis.Algorithm = vc.Algorithm
	}
	if s.Redis.HNSWM <= 0 {
		s.Redis.HNSWM = 16
	}
	if s.Redis.HNSWEFConstruct <= 0 {
		s.Redis.HNSWEFConstruct = 200
	}
	if s.Postgres.MaxOpenConns <= 0 {
		s.Postgres.MaxOpenConns = 16
	}
	if s.Local.Path == "" {
		s.Local.Path = "semsearch.db"
	}

	r := &s.Resilience
	if r.PoolSize <= 0 {
		r.PoolSize = 16
	}
	if r.AcquireTimeoutMs <= 0 {
		r.AcquireTimeoutMs = 500
	}
	if r.TimeoutMs <= 0 {
		r.TimeoutMs = 2000
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	} else if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.InitialBackoffMs <= 0 {
		r.InitialBackoffMs = 50
	}
	if r.MaxBackoffMs <= 0 {
		r.MaxBackoffMs = 1000
	}
	if r.BreakerFailures == 0 {
		r.BreakerFailures = 5
	}
	if r.BreakerOpenTimeoutSec <= 0 {
		r.BreakerOpenTimeoutSec = 30
	}

	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = 24 * 7
	}

	p := &c.Pipeline
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = 10000
	}
	if p.DefaultK <= 0 {
		p.DefaultK = query.DefaultK
	}
	if p.MinScore == nil {
		v := DefaultMinScore
		p.MinScore = &v
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI, ProviderLangchain:
	default:
		return fmt.Errorf("embedding.provider must be %q or %q, got %q",
			ProviderOpenAI, ProviderLangchain, c.Embedding.Provider)
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == ProviderLangchain {
		return errors.New("embedding.base_url is required for the langchain provider")
	}

	if _, err := score.ParseMetric(c.Store.Metric); err != nil {
		return fmt.Errorf("store.metric: %w", err)
	}
	switch c.Store.Driver {
	case DriverRedis, DriverValkey:
		if len(c.Store.Redis.Addrs) == 0 {
			return errors.New("store.redis.addrs is required")
		}
		if a := c.Store.Redis.Algorithm; a != "hnsw" && a != "flat" {
			return fmt.Errorf("store.redis.algorithm must be \"hnsw\" or \"flat\", got %q", a)
		}
	case DriverPgvector:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	case DriverLocal:
	default:
		return fmt.Errorf("store.driver must be one of redis, valkey, pgvector, local, got %q", c.Store.Driver)
	}

	if c.Cache.Shared && len(c.Store.Redis.Addrs) == 0 {
		return errors.New("cache.shared requires store.redis.addrs")
	}

	if c.Pipeline.DefaultK > query.MaxK {
		return fmt.Errorf("pipeline.default_k must be at most %d, got %d", query.MaxK, c.Pipeline.DefaultK)
	}
	if ms := c.Pipeline.MinScore; ms != nil && (*ms < 0 || *ms > 1) {
		return fmt.Errorf("pipeline.min_score must be between 0 and 1, got %v", *ms)
	}
	return nil
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// QueryDefaults returns the pipeline defaults applied to queries that leave K or MinScore unset.
func (c *Config) QueryDefaults() query.Defaults {
	return query.Defaults{K: c.Pipeline.DefaultK, MinScore: c.Pipeline.MinScore}
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
