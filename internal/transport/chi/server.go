package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	"github.com/kailas-cloud/semsearch/internal/logger"
	"github.com/kailas-cloud/semsearch/internal/metrics"
	healthuc "github.com/kailas-cloud/semsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/semsearch/internal/usecase/search"
	"github.com/kailas-cloud/semsearch/internal/version"
)

// maxBodyBytes bounds request bodies; a batch of MaxBatchSize long queries fits comfortably.
const maxBodyBytes = 1 << 20

// Searcher runs queries through the pipeline.
type Searcher interface {
	Run(ctx context.Context, q query.Query) (response.Payload, error)
	RunBatch(ctx context.Context, queries []query.Query) []searchuc.BatchResult
}

// HealthReporter aggregates component checks.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// Server holds the HTTP handlers.
type Server struct {
	search Searcher
	health HealthReporter
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(search Searcher, health HealthReporter, logger *zap.Logger) *Server {
	return &Server{search: search, health: health, logger: logger}
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}

	q, err := queryFromRequest(req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	payload, err := s.search.Run(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// BatchSearch handles POST /search/batch. Items fail independently; the response is 200
// whenever the batch itself is well-formed.
func (s *Server) BatchSearch(w http.ResponseWriter, r *http.Request) {
	var req BatchSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Queries) == 0 {
		s.handleDomainError(w, r, domain.Invalidf("queries must not be empty"))
		return
	}
	if len(req.Queries) > searchuc.MaxBatchSize {
		s.handleDomainError(w, r, domain.Invalidf("too many queries (max %d)", searchuc.MaxBatchSize))
		return
	}

	items := make([]BatchItem, len(req.Queries))
	// Only valid queries reach the pipeline; positions map pipeline results back to items.
	queries := make([]query.Query, 0, len(req.Queries))
	positions := make([]int, 0, len(req.Queries))
	for i, qr := range req.Queries {
		q, err := queryFromRequest(qr)
		if err != nil {
			items[i] = BatchItem{Error: errorBody(err)}
			continue
		}
		queries = append(queries, q)
		positions = append(positions, i)
	}

	if len(queries) > 0 {
		for j, res := range s.search.RunBatch(r.Context(), queries) {
			i := positions[j]
			if res.Err != nil {
				items[i] = BatchItem{Error: errorBody(res.Err)}
				continue
			}
			payload := res.Payload
			items[i] = BatchItem{Payload: &payload}
		}
	}

	writeJSON(w, http.StatusOK, BatchSearchResponse{Items: items})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
		Errors: report.Kinds,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Root handles GET / with a service status line.
func (s *Server) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "semsearch",
		"version": version.Version,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		metrics.SetErrorKind(r.Context(), string(domain.KindInvalidInput))
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code domain.Kind, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	l := logger.FromContext(r.Context())
	kind := domain.KindOf(err)
	status := statusFor(kind)
	metrics.SetErrorKind(r.Context(), string(kind))
	if status >= http.StatusInternalServerError {
		l.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	} else {
		l.Warn("Request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, errorBody(err))
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindStoreUnavailable, domain.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindEmbeddingFailure, domain.KindStoreQuery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the client error without exposing internals: input errors carry their
// detail, everything else only the sentinel message.
func errorBody(err error) *ErrorResponse {
	kind := domain.KindOf(err)
	msg := "internal error"
	switch {
	case kind == domain.KindInvalidInput:
		msg = invalidDetail(err)
	case domain.Sentinel(err) != nil:
		msg = domain.Sentinel(err).Error()
	}
	return &ErrorResponse{Code: kind, Message: msg}
}

// invalidDetail strips wrapping context so only the validation message is returned.
func invalidDetail(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.HasPrefix(e.Error(), domain.ErrInvalidInput.Error()) {
			return e.Error()
		}
	}
	return err.Error()
}
