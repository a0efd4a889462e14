package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/semsearch/internal/domain"
	"github.com/kailas-cloud/semsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/semsearch/internal/domain/search/query"
	"github.com/kailas-cloud/semsearch/internal/domain/search/response"
	healthuc "github.com/kailas-cloud/semsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/semsearch/internal/usecase/search"
)

// --- Mocks ---

type mockSearcher struct {
	mu      sync.Mutex
	payload response.Payload
	err     error
	panics  bool
	got     []query.Query
}

func (m *mockSearcher) Run(_ context.Context, q query.Query) (response.Payload, error) {
	m.mu.Lock()
	m.got = append(m.got, q)
	m.mu.Unlock()
	if m.panics {
		panic("boom")
	}
	return m.payload, m.err
}

func (m *mockSearcher) RunBatch(ctx context.Context, queries []query.Query) []searchuc.BatchResult {
	out := make([]searchuc.BatchResult, len(queries))
	for i, q := range queries {
		if q.Text() == "fail" {
			out[i] = searchuc.BatchResult{Err: fmt.Errorf("search: %w", domain.ErrStoreUnavailable)}
			continue
		}
		p, err := m.Run(ctx, q)
		out[i] = searchuc.BatchResult{Payload: p, Err: err}
	}
	return out
}

func (m *mockSearcher) calls() []query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]query.Query(nil), m.got...)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

func newTestRouter(s Searcher, h HealthReporter) http.Handler {
	if h == nil {
		h = &mockHealth{report: healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{}}}
	}
	return NewRouter(NewServer(s, h, zap.NewNop()))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

func samplePayload() response.Payload {
	return response.Payload{
		Results: []response.Record{
			{"id": "C", "score": 0.91, "source": "who.int"},
			{"id": "A", "score": 0.82, "source": "nih.gov"},
		},
	}
}

// --- Tests ---

func TestSearch_OK(t *testing.T) {
	s := &mockSearcher{payload: samplePayload()}
	rr := do(t, newTestRouter(s, nil), "POST", "/search", `{"query":"blood sugar control","k":2}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var body struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 2 || body.Results[0]["id"] != "C" || body.Results[1]["id"] != "A" {
		t.Fatalf("unexpected results %v", body.Results)
	}

	calls := s.calls()
	if len(calls) != 1 || calls[0].Text() != "blood sugar control" || calls[0].K() != 2 {
		t.Fatalf("unexpected pipeline call %+v", calls)
	}
}

func TestSearch_EmptyResultIsSuccess(t *testing.T) {
	s := &mockSearcher{payload: response.Payload{Results: []response.Record{}}}
	rr := do(t, newTestRouter(s, nil), "POST", "/search", `{"query":"q","min_score":0.9}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"results":[]`) {
		t.Errorf("expected empty results array, got %s", rr.Body.String())
	}
}

func TestSearch_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query":`},
		{"empty query", `{"query":"   "}`},
		{"zero k", `{"query":"q","k":0}`},
		{"min score out of range", `{"query":"q","min_score":1.5}`},
		{"condition without operator", `{"query":"q","filter":{"must":[{"key":"source"}]}}`},
		{"condition with two operators", `{"query":"q","filter":{"must":[{"key":"source","match":"a","in":["b"]}]}}`},
		{"empty range", `{"query":"q","filter":{"must":[{"key":"year","range":{}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &mockSearcher{}
			rr := do(t, newTestRouter(s, nil), "POST", "/search", tt.body)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if e := decodeError(t, rr); e.Code != domain.KindInvalidInput {
				t.Errorf("expected code %s, got %s", domain.KindInvalidInput, e.Code)
			}
			if len(s.calls()) != 0 {
				t.Error("pipeline must not be called for invalid input")
			}
		})
	}
}

func TestSearch_FilterIsPassedThrough(t *testing.T) {
	s := &mockSearcher{payload: samplePayload()}
	body := `{"query":"q","filter":{
		"must":[{"key":"source","match":"who.int"},{"key":"category","in":["diet","sleep"]}],
		"must_not":[{"key":"year","range":{"lt":2020}}]}}`
	rr := do(t, newTestRouter(s, nil), "POST", "/search", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	f := s.calls()[0].Filter()
	if len(f.Must()) != 2 || len(f.MustNot()) != 1 {
		t.Fatalf("unexpected filter groups: must=%d must_not=%d", len(f.Must()), len(f.MustNot()))
	}
	if f.Must()[1].Kind() != filter.KindIn {
		t.Errorf("expected In condition, got %v", f.Must()[1].Kind())
	}
	if f.Matches(map[string]string{"source": "who.int", "category": "diet", "year": "2018"}) {
		t.Error("must_not range should exclude year 2018")
	}
	if !f.Matches(map[string]string{"source": "who.int", "category": "sleep", "year": "2021"}) {
		t.Error("expected match for year 2021")
	}
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   domain.Kind
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest, domain.KindInvalidInput},
		{domain.ErrTimeout, http.StatusGatewayTimeout, domain.KindTimeout},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, domain.KindStoreUnavailable},
		{domain.ErrModelUnavailable, http.StatusServiceUnavailable, domain.KindModelUnavailable},
		{domain.ErrEmbeddingFailure, http.StatusBadGateway, domain.KindEmbeddingFailure},
		{domain.ErrStoreQuery, http.StatusBadGateway, domain.KindStoreQuery},
		{errors.New("boom"), http.StatusInternalServerError, domain.KindInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			s := &mockSearcher{err: fmt.Errorf("search store: %w", tt.err)}
			rr := do(t, newTestRouter(s, nil), "POST", "/search", `{"query":"q"}`)

			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			e := decodeError(t, rr)
			if e.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, e.Code)
			}
			if strings.Contains(e.Message, "search store") {
				t.Errorf("internal context leaked: %q", e.Message)
			}
		})
	}
}

func TestSearch_PanicReturnsJSON(t *testing.T) {
	rr := do(t, newTestRouter(&mockSearcher{panics: true}, nil), "POST", "/search", `{"query":"q"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != domain.KindInternal {
		t.Errorf("expected internal_error, got %s", e.Code)
	}
}

func TestBatchSearch_IndependentItems(t *testing.T) {
	s := &mockSearcher{payload: samplePayload()}
	body := `{"queries":[{"query":"blood sugar"},{"query":""},{"query":"fail"}]}`
	rr := do(t, newTestRouter(s, nil), "POST", "/search/batch", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Items []struct {
			Results []map[string]any `json:"results"`
			Error   *ErrorResponse   `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(resp.Items))
	}
	if resp.Items[0].Error != nil || len(resp.Items[0].Results) != 2 {
		t.Errorf("unexpected first item %+v", resp.Items[0])
	}
	if resp.Items[1].Error == nil || resp.Items[1].Error.Code != domain.KindInvalidInput {
		t.Errorf("expected invalid_input for empty query, got %+v", resp.Items[1].Error)
	}
	if resp.Items[2].Error == nil || resp.Items[2].Error.Code != domain.KindStoreUnavailable {
		t.Errorf("expected store_unavailable, got %+v", resp.Items[2].Error)
	}
}

func TestBatchSearch_Limits(t *testing.T) {
	h := newTestRouter(&mockSearcher{}, nil)

	rr := do(t, h, "POST", "/search/batch", `{"queries":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", rr.Code)
	}

	qs := make([]string, searchuc.MaxBatchSize+1)
	for i := range qs {
		qs[i] = `{"query":"q"}`
	}
	rr = do(t, h, "POST", "/search/batch", `{"queries":[`+strings.Join(qs, ",")+`]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: expected 400, got %d", rr.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		report healthuc.Report
		status int
	}{
		{
			name: "healthy",
			report: healthuc.Report{
				Status: healthuc.Healthy,
				Checks: map[string]healthuc.CheckResult{healthuc.ComponentStore: healthuc.CheckOK},
			},
			status: http.StatusOK,
		},
		{
			name: "degraded",
			report: healthuc.Report{
				Status: healthuc.Degraded,
				Checks: map[string]healthuc.CheckResult{
					healthuc.ComponentStore:     healthuc.CheckError,
					healthuc.ComponentEmbedding: healthuc.CheckOK,
				},
				Kinds: map[string]domain.Kind{healthuc.ComponentStore: domain.KindStoreUnavailable},
			},
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, newTestRouter(&mockSearcher{}, &mockHealth{report: tt.report}), "GET", "/health", "")
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			var body HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != string(tt.report.Status) {
				t.Errorf("expected status %s, got %s", tt.report.Status, body.Status)
			}
			for k, v := range tt.report.Kinds {
				if body.Errors[k] != v {
					t.Errorf("expected error kind %s for %s, got %s", v, k, body.Errors[k])
				}
			}
		})
	}
}

func TestRootAndMetrics(t *testing.T) {
	h := newTestRouter(&mockSearcher{}, nil)

	rr := do(t, h, "GET", "/", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"service":"semsearch"`) {
		t.Errorf("unexpected root response %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, "GET", "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", rr.Code)
	}

	rr = do(t, h, "GET", "/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
