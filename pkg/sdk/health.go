package semsearch

import (
	"context"

	healthuc "github.com/kailas-cloud/semsearch/internal/usecase/health"
)

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
	Errors map[string]string // component → error kind, failing components only
}

// Health checks the vector store and the embedding model.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	var kinds map[string]string
	if len(report.Kinds) > 0 {
		kinds = make(map[string]string, len(report.Kinds))
		for k, v := range report.Kinds {
			kinds[k] = string(v)
		}
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
		Errors: kinds,
	}
}

// healthUseCase is the internal interface for health checks.
type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}
