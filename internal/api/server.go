// Package api exposes the aggregation pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/velmora/news-aggregator/internal/aggregator"
	"github.com/velmora/news-aggregator/internal/cache"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/scheduler"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/internal/trending"
	"github.com/velmora/news-aggregator/pkg/logger"
)

const defaultLimit = 20

// Aggregator is the slice of the pipeline the API consumes
type Aggregator interface {
	Aggregate(ctx context.Context, req models.AggregationRequest) (*models.AggregationResult, error)
	Search(ctx context.Context, req aggregator.SearchRequest) (*models.AggregationResult, error)
}

// JobAdmin is the scheduler surface behind the admin routes
type JobAdmin interface {
	Schedule(ctx context.Context, name, cronExpr string, req models.AggregationRequest) (*models.ScheduledJob, error)
	Stop(ctx context.Context, id uint) error
	Jobs(ctx context.Context) ([]scheduler.JobView, error)
}

// Server wires the HTTP routes to the pipeline. The scheduler is
// optional: without it the admin routes answer 503.
type Server struct {
	agg      Aggregator
	registry *source.Registry
	store    cache.Store
	jobs     JobAdmin
	log      *logger.Logger
}

func NewServer(agg Aggregator, registry *source.Registry, store cache.Store, jobs JobAdmin, log *logger.Logger) *Server {
	return &Server{
		agg:      agg,
		registry: registry,
		store:    store,
		jobs:     jobs,
		log:      log.WithComponent("api"),
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		news := v1.Group("/news")
		{
			news.GET("", s.getNews)
			news.GET("/sources", s.getSources)
			news.GET("/categories", s.getCategories)
			news.GET("/search", s.search)
			news.GET("/trending", s.getTrending)
			news.DELETE("/cache", s.clearCache)
		}

		sched := v1.Group("/scheduler")
		{
			sched.GET("/jobs", s.listJobs)
			sched.POST("/jobs", s.createJob)
			sched.DELETE("/jobs/:id", s.deleteJob)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

// getNews is the main aggregation endpoint
func (s *Server) getNews(c *gin.Context) {
	req := models.AggregationRequest{
		Sources:      splitList(c.Query("sources")),
		Category:     models.Category(c.Query("category")),
		Keywords:     c.Query("keywords"),
		Limit:        intQuery(c, "limit", defaultLimit),
		Fresh:        boolQuery(c, "fresh", false),
		CacheAllowed: boolQuery(c, "cached", true),
	}
	if len(req.Sources) == 0 {
		req.Sources = s.registry.IDs()
	}

	res, err := s.agg.Aggregate(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, res)
}

func (s *Server) getSources(c *gin.Context) {
	type sourceInfo struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Mode     string          `json:"mode"`
		Category models.Category `json:"category"`
	}

	all := s.registry.All()
	out := make([]sourceInfo, 0, len(all))
	for _, src := range all {
		out = append(out, sourceInfo{
			ID:       src.ID(),
			Name:     src.Name(),
			Mode:     src.Mode(),
			Category: src.Category(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out, "total": len(out)})
}

func (s *Server) getCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": models.Categories})
}

func (s *Server) search(c *gin.Context) {
	req := aggregator.SearchRequest{
		Query:    c.Query("q"),
		Category: models.Category(c.Query("category")),
		SortBy:   c.DefaultQuery("sort_by", "publishedAt"),
		Domains:  splitList(c.Query("domains")),
		Limit:    intQuery(c, "limit", defaultLimit),
	}

	var ok bool
	if req.From, ok = timeQuery(c, "from"); !ok {
		return
	}
	if req.To, ok = timeQuery(c, "to"); !ok {
		return
	}

	res, err := s.agg.Search(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	s.renderResult(c, res)
}

// getTrending aggregates across every source and reduces the titles to
// keyword counts.
func (s *Server) getTrending(c *gin.Context) {
	category := models.Category(c.Query("category"))
	limit := intQuery(c, "limit", 10)

	res, err := s.agg.Aggregate(c.Request.Context(), models.AggregationRequest{
		Sources:      s.registry.IDs(),
		Category:     category,
		Limit:        100,
		CacheAllowed: true,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}

	topics := trending.Topics(res.Articles, category, limit)
	c.JSON(http.StatusOK, gin.H{
		"topics":      topics,
		"total":       len(topics),
		"served_from": res.ServedFrom,
	})
}

// clearCache removes cached entries: ?category= scopes the clear,
// ?older_than= (duration) switches to an age-based purge.
func (s *Server) clearCache(c *gin.Context) {
	ctx := c.Request.Context()

	if raw := c.Query("older_than"); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil || age < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		removed, err := s.store.PurgeOlderThan(ctx, time.Now().Add(-age))
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
		return
	}

	category := models.Category(c.Query("category"))
	if category != "" && !models.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	removed, err := s.store.Clear(ctx, category)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) listJobs(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler disabled"})
		return
	}
	jobs, err := s.jobs.Jobs(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

type createJobRequest struct {
	Name     string          `json:"name"`
	Cron     string          `json:"cron"`
	Sources  []string        `json:"sources"`
	Category models.Category `json:"category"`
	Keywords string          `json:"keywords"`
	Limit    int             `json:"limit"`
}

func (s *Server) createJob(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler disabled"})
		return
	}

	var body createJobRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job payload"})
		return
	}
	if len(body.Sources) == 0 {
		body.Sources = s.registry.IDs()
	}
	if body.Limit <= 0 {
		body.Limit = defaultLimit
	}

	job, err := s.jobs.Schedule(c.Request.Context(), body.Name, body.Cron, models.AggregationRequest{
		Sources:      body.Sources,
		Category:     body.Category,
		Keywords:     body.Keywords,
		Limit:        body.Limit,
		Fresh:        true,
		CacheAllowed: true,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

func (s *Server) deleteJob(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler disabled"})
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job id must be numeric"})
		return
	}
	if err := s.jobs.Stop(c.Request.Context(), uint(id)); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": id})
}

// renderResult always exposes provenance and per-source status so
// callers can see partial degradation.
func (s *Server) renderResult(c *gin.Context, res *models.AggregationResult) {
	c.JSON(http.StatusOK, gin.H{
		"articles":    res.Articles,
		"total":       len(res.Articles),
		"sources":     res.Sources,
		"served_from": res.ServedFrom,
		"fetched_at":  res.FetchedAt,
	})
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrInvalidCronExpression):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrAggregationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func boolQuery(c *gin.Context, key string, fallback bool) bool {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

// timeQuery parses an optional RFC3339 or date-only parameter; a bad
// value answers 400 and reports false.
func timeQuery(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be RFC3339 or YYYY-MM-DD"})
	return time.Time{}, false
}
