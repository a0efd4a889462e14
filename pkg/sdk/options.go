package semsearch

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/config"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	cfg      config.Config
	embedder Embedder

	logger     *slog.Logger
	zapLogger  *zap.Logger
	metricsReg prometheus.Registerer
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{cfg: config.Config{
		// The HTTP section is unused in-process; the port only satisfies validation.
		HTTP: config.HTTPConfig{Port: 8080},
	}}
}

// WithRedis stores vectors in a Redis instance with the search module.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Driver = config.DriverRedis
		c.cfg.Store.Redis.Addrs = []string{addr}
		c.cfg.Store.Redis.Password = password
	})
}

// WithValkey stores vectors in a Valkey instance with valkey-search.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Driver = config.DriverValkey
		c.cfg.Store.Redis.Addrs = []string{addr}
		c.cfg.Store.Redis.Password = password
	})
}

// WithPostgres stores vectors in a pgvector table. Empty table uses the default name.
func WithPostgres(dsn, table string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Driver = config.DriverPgvector
		c.cfg.Store.Postgres.DSN = dsn
		c.cfg.Store.Postgres.Table = table
	})
}

// WithLocalStore stores vectors in an embedded bbolt file. Searches are exact.
func WithLocalStore(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Driver = config.DriverLocal
		c.cfg.Store.Local.Path = path
	})
}

// WithCreateIndex creates the Redis index or the Postgres table when missing.
func WithCreateIndex() Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Redis.CreateIndex = true
		c.cfg.Store.Postgres.CreateSchema = true
	})
}

// WithMetric sets the similarity metric: "cosine" (default), "ip" or "l2".
func WithMetric(metric string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Store.Metric = metric
	})
}

// WithEmbedder sets a custom text embedding provider.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithOpenAI embeds queries through the OpenAI embeddings API.
// Empty baseURL uses api.openai.com.
func WithOpenAI(apiKey, baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.Provider = config.ProviderOpenAI
		c.cfg.Embedding.APIKey = apiKey
		c.cfg.Embedding.BaseURL = baseURL
		c.cfg.Embedding.Model = model
	})
}

// WithLocalModel embeds queries through an OpenAI-compatible server
// (llama.cpp, text-embeddings-inference, LocalAI) hosting model.
func WithLocalModel(baseURL, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.Provider = config.ProviderLangchain
		c.cfg.Embedding.BaseURL = baseURL
		c.cfg.Embedding.Model = model
	})
}

// WithDimensions sets the expected embedding dimensionality.
// Defaults to 384 (all-MiniLM-L6-v2).
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.Dimensions = dim
	})
}

// WithQueryPrefix prepends an instruction to every query before embedding,
// as instruction-tuned models (e5, bge) expect.
func WithQueryPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Embedding.QueryPrefix = prefix
	})
}

// WithDefaults sets K and the minimum score used when a search leaves them unset.
// Defaults: K=3, minScore=0.70.
func WithDefaults(k int, minScore float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Pipeline.DefaultK = k
		c.cfg.Pipeline.MinScore = &minScore
	})
}

// WithTimeout bounds a whole search, embedding included. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Pipeline.TimeoutMs = int(d / time.Millisecond)
	})
}

// WithCacheSize sets the in-process query embedding cache size. Zero disables it.
func WithCacheSize(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Cache.LRUSize = n
	})
}

// WithResponse selects the result fields: the metadata keys to copy (all when empty),
// the document text and the combined context with its sources.
func WithResponse(metadataFields []string, content, combinedContext bool) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Response.MetadataFields = metadataFields
		c.cfg.Response.IncludeContent = content
		c.cfg.Response.IncludeContext = combinedContext
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithZapLogger sets the logger of the pipeline components. Default: no-op.
func WithZapLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.zapLogger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
