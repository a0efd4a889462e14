// Package app is the composition root: it turns a Config into a ready query pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/config"
	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	"github.com/kailas-cloud/semsearch/internal/domain/search/score"
	dbRedis "github.com/kailas-cloud/semsearch/internal/db/redis"
	"github.com/kailas-cloud/semsearch/internal/metrics"
	"github.com/kailas-cloud/semsearch/internal/repository/embcache"
	"github.com/kailas-cloud/semsearch/internal/repository/localvec"
	"github.com/kailas-cloud/semsearch/internal/repository/pgvector"
	"github.com/kailas-cloud/semsearch/internal/repository/redisvec"
	langchainEmb "github.com/kailas-cloud/semsearch/internal/transport/langchain"
	openaiEmb "github.com/kailas-cloud/semsearch/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/semsearch/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/semsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/semsearch/internal/usecase/search"
	"github.com/kailas-cloud/semsearch/internal/vectorstore"
)

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Pipeline *searchuc.Pipeline
	Health   *healthuc.Service
	Store    *vectorstore.Client
	Embedder *embeddinguc.Service

	closers []func()
}

// Build wires the configured provider, caches, store backend and pipeline.
// The embedding model is probed and the store dimensionality checked before returning;
// either failure is ErrModelUnavailable and the caller must not serve.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return BuildWith(ctx, cfg, nil, nil, logger)
}

// BuildWith is Build with an injected embedding provider and/or store backend;
// nil values are created from cfg.
func BuildWith(
	ctx context.Context,
	cfg config.Config,
	provider domain.Embedder,
	backend vectorstore.Backend,
	logger *zap.Logger,
) (_ *App, err error) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterStoreMetrics()
	metrics.RegisterPipelineMetrics()

	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var kv *dbRedis.Store
	if needsRedis(cfg, backend) {
		kv, err = connectRedis(ctx, cfg.Store.Redis, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
	}

	if provider == nil {
		provider, err = newProvider(cfg.Embedding, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
		}
	}
	chain, err := buildEmbedder(provider, cfg, kv, logger)
	if err != nil {
		return nil, err
	}

	a.Embedder, err = embeddinguc.Load(ctx, chain, embeddinguc.Config{
		Provider:       cfg.Embedding.Provider,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		Timeout:        config.Duration(cfg.Embedding.TimeoutMs),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("load embedding model: %w", err)
	}

	if backend == nil {
		backend, err = newBackend(ctx, cfg, kv, logger)
		if err != nil {
			return nil, err
		}
	}

	r := cfg.Store.Resilience
	a.Store = vectorstore.New(backend, vectorstore.Config{
		PoolSize:           r.PoolSize,
		AcquireTimeout:     config.Duration(r.AcquireTimeoutMs),
		Timeout:            config.Duration(r.TimeoutMs),
		MaxRetries:         r.MaxRetries,
		InitialBackoff:     config.Duration(r.InitialBackoffMs),
		MaxBackoff:         config.Duration(r.MaxBackoffMs),
		BreakerFailures:    r.BreakerFailures,
		BreakerOpenTimeout: time.Duration(r.BreakerOpenTimeoutSec) * time.Second,
	}, logger)
	a.closers = append(a.closers, func() {
		if err := a.Store.Close(); err != nil {
			logger.Warn("Failed to close vector store", zap.Error(err))
		}
	})

	if got, want := a.Store.Dimensions(), a.Embedder.Dimensions(); got != want {
		return nil, fmt.Errorf("%w: %w: store %s has %d dimensions, model %s produces %d",
			domain.ErrModelUnavailable, domain.ErrVectorDimMismatch,
			a.Store.Backend(), got, cfg.Embedding.Model, want)
	}

	formatter := response.NewFormatter(response.Config{
		MetadataFields: cfg.Response.MetadataFields,
		IncludeContent: cfg.Response.IncludeContent,
		IncludeContext: cfg.Response.IncludeContext,
		SourceKey:      cfg.Response.SourceKey,
	})
	a.Pipeline, err = searchuc.New(a.Embedder, a.Store, formatter, searchuc.Config{
		Timeout:  config.Duration(cfg.Pipeline.TimeoutMs),
		Defaults: cfg.QueryDefaults(),
		Workers:  cfg.Pipeline.Workers,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Pipeline.Close)

	a.Health = healthuc.New(a.Store, a.Embedder, logger)

	logger.Info("Query pipeline ready",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.String("store", a.Store.Backend()),
		zap.Int("dimensions", a.Store.Dimensions()),
	)
	return a, nil
}

// Close releases all components. Safe to call on a partially built App.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func needsRedis(cfg config.Config, backend vectorstore.Backend) bool {
	if cfg.Cache.Shared {
		return true
	}
	if backend != nil {
		return false
	}
	return cfg.Store.Driver == config.DriverRedis || cfg.Store.Driver == config.DriverValkey
}

func connectRedis(ctx context.Context, rc config.RedisConfig, logger *zap.Logger) (*dbRedis.Store, error) {
	s, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    rc.Addrs,
		Username: rc.Username,
		Password: rc.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: redis: %w", domain.ErrStoreUnavailable, err)
	}
	if err := s.WaitForReady(ctx, time.Duration(rc.ReadinessTimeout)*time.Second); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: redis not ready: %w", domain.ErrStoreUnavailable, err)
	}
	logger.Info("Connected to redis", zap.Strings("addrs", rc.Addrs))
	return s, nil
}

// borrowed lends the shared Redis connection to the vector backend; App closes it.
type borrowed struct{ *dbRedis.Store }

func (borrowed) Close() {}

func newProvider(ec config.EmbeddingConfig, logger *zap.Logger) (domain.Embedder, error) {
	switch ec.Provider {
	case config.ProviderLangchain:
		return langchainEmb.NewEmbedder(langchainEmb.Config{
			BaseURL:   ec.BaseURL,
			Token:     ec.APIKey,
			Model:     ec.Model,
			BatchSize: ec.BatchSize,
			Provider:  ec.Provider,
			Logger:    logger,
		})
	case config.ProviderOpenAI:
		dims := 0
		if ec.SendDimensions {
			dims = ec.Dimensions
		}
		return openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: dims,
			Provider:   ec.Provider,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}
}

// buildEmbedder assembles the decorator chain: provider -> cache -> instrumented -> query prefix.
// The prefix is outermost so the cache key includes it.
func buildEmbedder(provider domain.Embedder, cfg config.Config, kv *dbRedis.Store, logger *zap.Logger) (domain.Embedder, error) {
	var tiers embcache.Tiered
	if cfg.Cache.LRUSize > 0 {
		lru, err := embcache.NewLRU(cfg.Cache.LRUSize)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, lru)
	}
	if cfg.Cache.Shared && kv != nil {
		tiers = append(tiers, embcache.NewKV(kv, time.Duration(cfg.Cache.TTLHours)*time.Hour, logger))
	}

	embedder := provider
	if len(tiers) > 0 {
		embedder = embcache.New(provider, tiers, cfg.Embedding.Model, metrics.EmbeddingCacheTotal, logger)
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Embedding.Provider, cfg.Embedding.Model, logger)
	return domain.NewQueryPrefixEmbedder(embedder, cfg.Embedding.QueryPrefix), nil
}

func newBackend(ctx context.Context, cfg config.Config, kv *dbRedis.Store, logger *zap.Logger) (vectorstore.Backend, error) {
	metric, err := score.ParseMetric(cfg.Store.Metric)
	if err != nil {
		return nil, err
	}
	dims := cfg.Embedding.Dimensions

	switch cfg.Store.Driver {
	case config.DriverRedis, config.DriverValkey:
		if kv == nil {
			return nil, errors.New("redis connection is not initialized")
		}
		rc := cfg.Store.Redis
		repo, err := redisvec.New(borrowed{kv}, redisvec.Config{
			Driver:        cfg.Store.Driver,
			Prefix:        rc.KeyPrefix,
			IndexName:     rc.IndexName,
			Dimensions:    dims,
			Metric:        metric,
			Algorithm:     rc.Algorithm,
			TagFields:     rc.TagFields,
			NumericFields: rc.NumericFields,
			HNSWM:         rc.HNSWM,
			HNSWEFConstr:  rc.HNSWEFConstruct,
		}, logger)
		if err != nil {
			return nil, err
		}
		if rc.CreateIndex {
			if err := repo.EnsureIndex(ctx); err != nil {
				return nil, fmt.Errorf("ensure index: %w", err)
			}
		}
		return repo, nil

	case config.DriverPgvector:
		pc := cfg.Store.Postgres
		repo, err := pgvector.Open(pgvector.Config{
			DSN:             pc.DSN,
			Table:           pc.Table,
			Dimensions:      dims,
			Metric:          metric,
			MaxOpenConns:    pc.MaxOpenConns,
			MaxIdleConns:    pc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pc.ConnMaxLifeSec) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		if pc.CreateSchema {
			if err := repo.EnsureSchema(ctx); err != nil {
				_ = repo.Close()
				return nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		if err := repo.LoadDimensions(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
		}
		return repo, nil

	case config.DriverLocal:
		store, err := localvec.Open(cfg.Store.Local.Path, dims, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
