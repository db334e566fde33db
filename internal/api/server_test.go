package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velmora/news-aggregator/internal/aggregator"
	"github.com/velmora/news-aggregator/internal/cache/memory"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/scheduler"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
)

type stubSource struct {
	id string
}

func (s *stubSource) ID() string                                                     { return s.id }
func (s *stubSource) Name() string                                                   { return strings.ToUpper(s.id) }
func (s *stubSource) Mode() string                                                   { return "rss" }
func (s *stubSource) Category() models.Category                                      { return models.CategoryGeneral }
func (s *stubSource) Fetch(ctx context.Context, limit int) ([]models.Article, error) { return nil, nil }
func (s *stubSource) HealthCheck(ctx context.Context) error                          { return nil }

type stubAggregator struct {
	result *models.AggregationResult
	err    error

	lastReq models.AggregationRequest
}

func (a *stubAggregator) Aggregate(ctx context.Context, req models.AggregationRequest) (*models.AggregationResult, error) {
	a.lastReq = req
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return a.result, a.err
}

func (a *stubAggregator) Search(ctx context.Context, req aggregator.SearchRequest) (*models.AggregationResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty search query", models.ErrInvalidRequest)
	}
	return a.result, a.err
}

type stubJobs struct {
	scheduleErr error
	stopErr     error
	views       []scheduler.JobView
}

func (j *stubJobs) Schedule(ctx context.Context, name, cronExpr string, req models.AggregationRequest) (*models.ScheduledJob, error) {
	if j.scheduleErr != nil {
		return nil, j.scheduleErr
	}
	return &models.ScheduledJob{ID: 1, Name: name, CronExpr: cronExpr, Active: true}, nil
}

func (j *stubJobs) Stop(ctx context.Context, id uint) error { return j.stopErr }

func (j *stubJobs) Jobs(ctx context.Context) ([]scheduler.JobView, error) { return j.views, nil }

func okResult() *models.AggregationResult {
	return &models.AggregationResult{
		Articles: []models.Article{{
			Title:  "hello",
			URL:    "https://example.com/hello",
			Source: models.SourceRef{ID: "bbc", Name: "BBC News"},
		}},
		Sources: map[string]models.SourceStatus{
			"bbc": {SourceID: "bbc", Articles: 1},
		},
		ServedFrom: models.ServedFresh,
		FetchedAt:  time.Now(),
	}
}

func newTestServer(agg Aggregator, jobs JobAdmin) *gin.Engine {
	gin.SetMode(gin.TestMode)

	registry := source.NewRegistry()
	registry.Register(&stubSource{id: "bbc"})
	registry.Register(&stubSource{id: "cnn"})

	srv := NewServer(agg, registry, memory.New(), jobs, logger.Nop())
	r := gin.New()
	srv.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
		}
	}
	return w, decoded
}

func TestGetNewsCarriesProvenance(t *testing.T) {
	agg := &stubAggregator{result: okResult()}
	r := newTestServer(agg, &stubJobs{})

	w, body := do(t, r, http.MethodGet, "/api/v1/news?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["served_from"] != "fresh" {
		t.Fatalf("response must carry served_from, got %v", body["served_from"])
	}
	if _, ok := body["sources"].(map[string]any); !ok {
		t.Fatalf("response must carry the per-source status map, got %v", body["sources"])
	}
	if body["total"].(float64) != 1 {
		t.Fatalf("expected total=1, got %v", body["total"])
	}
}

func TestGetNewsDefaultsToAllSources(t *testing.T) {
	agg := &stubAggregator{result: okResult()}
	r := newTestServer(agg, &stubJobs{})

	do(t, r, http.MethodGet, "/api/v1/news", "")
	if len(agg.lastReq.Sources) != 2 {
		t.Fatalf("empty sources param must expand to the whole registry, got %v", agg.lastReq.Sources)
	}
	if !agg.lastReq.CacheAllowed || agg.lastReq.Fresh {
		t.Fatalf("defaults must allow cache and not force fresh, got %+v", agg.lastReq)
	}
}

func TestGetNewsInvalidLimit(t *testing.T) {
	agg := &stubAggregator{result: okResult()}
	r := newTestServer(agg, &stubJobs{})

	w, _ := do(t, r, http.MethodGet, "/api/v1/news?limit=-3", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", w.Code)
	}
}

func TestGetNewsTotalFailure(t *testing.T) {
	agg := &stubAggregator{err: fmt.Errorf("%w: nothing left", models.ErrAggregationFailed)}
	r := newTestServer(agg, &stubJobs{})

	w, _ := do(t, r, http.MethodGet, "/api/v1/news", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for total failure, got %d", w.Code)
	}
}

func TestGetSources(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, body := do(t, r, http.MethodGet, "/api/v1/news/sources", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["total"].(float64) != 2 {
		t.Fatalf("expected both registered sources, got %v", body)
	}
}

func TestGetCategories(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, body := do(t, r, http.MethodGet, "/api/v1/news/categories", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cats, ok := body["categories"].([]any)
	if !ok || len(cats) != len(models.Categories) {
		t.Fatalf("expected the full category list, got %v", body["categories"])
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, _ := do(t, r, http.MethodGet, "/api/v1/news/search", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodGet, "/api/v1/news/search?q=golang", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with q, got %d", w.Code)
	}
}

func TestSearchRejectsBadDates(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, _ := do(t, r, http.MethodGet, "/api/v1/news/search?q=golang&from=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unparseable date, got %d", w.Code)
	}
}

func TestTrending(t *testing.T) {
	res := okResult()
	res.Articles = []models.Article{
		{Title: "quantum leap forward", URL: "https://a"},
		{Title: "quantum computing rise", URL: "https://b"},
	}
	r := newTestServer(&stubAggregator{result: res}, &stubJobs{})

	w, body := do(t, r, http.MethodGet, "/api/v1/news/trending?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	topics := body["topics"].([]any)
	if len(topics) != 1 {
		t.Fatalf("expected 1 topic, got %v", topics)
	}
	top := topics[0].(map[string]any)
	if top["keyword"] != "quantum" || top["count"].(float64) != 2 {
		t.Fatalf("expected quantum x2 on top, got %v", top)
	}
}

func TestClearCache(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, _ := do(t, r, http.MethodDelete, "/api/v1/news/cache", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodDelete, "/api/v1/news/cache?older_than=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad duration, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodDelete, "/api/v1/news/cache?category=nonsense", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown category, got %d", w.Code)
	}
}

func TestCreateJob(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, body := do(t, r, http.MethodPost, "/api/v1/scheduler/jobs",
		`{"name":"nightly","cron":"0 3 * * *","sources":["bbc"],"limit":10}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	job := body["job"].(map[string]any)
	if job["name"] != "nightly" {
		t.Fatalf("unexpected job payload: %v", job)
	}
}

func TestCreateJobInvalidCron(t *testing.T) {
	jobs := &stubJobs{scheduleErr: fmt.Errorf("%w: junk", models.ErrInvalidCronExpression)}
	r := newTestServer(&stubAggregator{result: okResult()}, jobs)

	w, _ := do(t, r, http.MethodPost, "/api/v1/scheduler/jobs",
		`{"name":"bad","cron":"junk","sources":["bbc"],"limit":10}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid cron expression, got %d", w.Code)
	}
}

func TestDeleteJobValidatesID(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, _ := do(t, r, http.MethodDelete, "/api/v1/scheduler/jobs/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodDelete, "/api/v1/scheduler/jobs/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSchedulerDisabled(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, nil)

	w, _ := do(t, r, http.MethodGet, "/api/v1/scheduler/jobs", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no scheduler, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newTestServer(&stubAggregator{result: okResult()}, &stubJobs{})

	w, body := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health check failed: %d %v", w.Code, body)
	}
}
