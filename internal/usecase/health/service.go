package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in checks.
const (
	ComponentStore     = "vector_store"
	ComponentEmbedding = "embedding"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	// Kinds holds the error kind of every failing check.
	Kinds map[string]domain.Kind
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	embedding EmbeddingChecker
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Service. embedding can be nil.
func New(store StorePinger, embedding EmbeddingChecker, logger *zap.Logger) *Service {
	return &Service{store: store, embedding: embedding, timeout: DefaultCheckTimeout, logger: logger}
}

// Check runs all component checks concurrently, each bounded by the check timeout.
func (s *Service) Check(ctx context.Context) Report {
	checks := map[string]func(context.Context) error{ComponentStore: s.store.Ping}
	if s.embedding != nil {
		checks[ComponentEmbedding] = s.embedding.HealthCheck
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = Report{Checks: make(map[string]CheckResult), Kinds: make(map[string]domain.Kind)}
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			err := domain.DeadlineError(cctx, check(cctx))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
				report.Checks[name] = CheckError
				report.Kinds[name] = domain.KindOf(err)
				return
			}
			report.Checks[name] = CheckOK
		}()
	}
	wg.Wait()

	failed := len(report.Kinds)
	switch {
	case failed == 0:
		report.Status = Healthy
	case failed == len(report.Checks):
		report.Status = Unhealthy
	default:
		report.Status = Degraded
	}
	return report
}
