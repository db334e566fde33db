// Package aggregator implements the fan-out/merge pipeline: fetch from
// every requested source concurrently, dedupe, filter, sort, truncate,
// write through to the cache, and fall back to stale cache data when
// every live fetch fails.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/velmora/news-aggregator/internal/cache"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/normalize"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
)

// Searcher is the optional keyword-search backend (NewsAPI). When it is
// absent or failing, Search degrades to scraping the configured sources.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, category models.Category) ([]models.Article, error)
	Enabled() bool
}

// Options bound the aggregation pipeline
type Options struct {
	FreshnessWindow time.Duration // cache age served without refetching
	FallbackWindow  time.Duration // cache age served when all fetches fail
	SourceTimeout   time.Duration // per-source fetch budget
	MaxConcurrent   int           // fan-out bound
}

// SearchRequest describes one keyword search call
type SearchRequest struct {
	Query    string
	Category models.Category
	SortBy   string // relevancy | popularity | publishedAt
	From     time.Time
	To       time.Time
	Domains  []string
	Limit    int
}

// Aggregator orchestrates sources, the cache store and the optional
// search backend. Safe for concurrent use.
type Aggregator struct {
	registry *source.Registry
	store    cache.Store
	searcher Searcher
	opts     Options
	log      *logger.Logger
}

func New(registry *source.Registry, store cache.Store, searcher Searcher, opts Options, log *logger.Logger) *Aggregator {
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = 30 * time.Minute
	}
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = 24 * time.Hour
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	return &Aggregator{
		registry: registry,
		store:    store,
		searcher: searcher,
		opts:     opts,
		log:      log.WithComponent("aggregator"),
	}
}

// Aggregate runs one aggregation call end to end. Per-source failures
// are recorded in the result's status map and never abort the call; the
// only error paths are request validation and total exhaustion of both
// live sources and fallback cache.
func (a *Aggregator) Aggregate(ctx context.Context, req models.AggregationRequest) (*models.AggregationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	category := cacheCategory(req.Category)

	// cache-first path
	if req.CacheAllowed && !req.Fresh {
		cached, err := a.store.GetSince(ctx, category, a.opts.FreshnessWindow)
		if err != nil {
			a.log.Warn().Err(err).Str("category", string(category)).Msg("cache read failed, fetching live")
		} else if len(cached) > 0 {
			articles := finalize(cached, req)
			return &models.AggregationResult{
				Articles:   articles,
				Sources:    map[string]models.SourceStatus{},
				ServedFrom: models.ServedCache,
				FetchedAt:  time.Now(),
			}, nil
		}
	}

	sources, unknown := a.registry.Resolve(req.Sources)
	statuses := make(map[string]models.SourceStatus, len(req.Sources))
	for _, id := range unknown {
		statuses[id] = models.SourceStatus{SourceID: id, Error: "unknown source"}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no known sources in %v", models.ErrInvalidRequest, req.Sources)
	}

	fetched, fetchStatuses := a.fanOut(ctx, sources, perSourceBudget(req.Limit, len(sources)))
	for id, st := range fetchStatuses {
		statuses[id] = st
	}

	if len(fetched) == 0 {
		return a.fallback(ctx, req, category, statuses)
	}

	articles := finalize(fetched, req)

	if len(articles) > 0 {
		if err := a.store.Put(ctx, category, articles, time.Now()); err != nil {
			a.log.Warn().Err(err).Str("category", string(category)).Msg("cache write-through failed")
		}
	}

	return &models.AggregationResult{
		Articles:   articles,
		Sources:    statuses,
		ServedFrom: models.ServedFresh,
		FetchedAt:  time.Now(),
	}, nil
}

// fanOut fetches from every source concurrently with error isolation:
// a failing or timed-out source contributes zero articles and a status
// entry, never a cancelled sibling.
func (a *Aggregator) fanOut(ctx context.Context, sources []source.Source, budget int) ([]models.Article, map[string]models.SourceStatus) {
	type outcome struct {
		id       string
		articles []models.Article
		err      error
	}

	sem := make(chan struct{}, a.opts.MaxConcurrent)
	results := make(chan outcome, len(sources))

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src source.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fetchCtx, cancel := context.WithTimeout(ctx, a.opts.SourceTimeout)
			defer cancel()

			articles, err := src.Fetch(fetchCtx, budget)
			results <- outcome{id: src.ID(), articles: articles, err: err}
		}(src)
	}
	wg.Wait()
	close(results)

	var merged []models.Article
	statuses := make(map[string]models.SourceStatus, len(sources))
	for out := range results {
		st := models.SourceStatus{SourceID: out.id, Articles: len(out.articles)}
		if out.err != nil {
			st.Articles = 0
			st.Error = out.err.Error()
			a.log.Warn().Err(out.err).Str("source", out.id).Msg("source fetch failed")
		} else {
			merged = append(merged, out.articles...)
		}
		statuses[out.id] = st
	}

	// deterministic merge order regardless of completion order
	index := make(map[string]int, len(sources))
	for i, src := range sources {
		index[src.ID()] = i
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return index[merged[i].Source.ID] < index[merged[j].Source.ID]
	})

	return merged, statuses
}

// fallback serves stale cache entries after a total outage, or reports
// AggregationFailed when nothing at all is left to serve.
func (a *Aggregator) fallback(ctx context.Context, req models.AggregationRequest, category models.Category, statuses map[string]models.SourceStatus) (*models.AggregationResult, error) {
	if req.CacheAllowed {
		stale, err := a.store.GetSince(ctx, category, a.opts.FallbackWindow)
		if err != nil {
			a.log.Warn().Err(err).Str("category", string(category)).Msg("fallback cache read failed")
		}
		if len(stale) > 0 {
			a.log.Info().Str("category", string(category)).Int("articles", len(stale)).
				Msg("all sources failed, serving stale cache")
			return &models.AggregationResult{
				Articles:   finalize(stale, req),
				Sources:    statuses,
				ServedFrom: models.ServedStaleFallback,
				FetchedAt:  time.Now(),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: all %d sources failed and no cached data available",
		models.ErrAggregationFailed, len(statuses))
}

// Search answers a keyword query, preferring the search API and
// degrading to a scrape across all registered sources when the API is
// unconfigured or failing.
func (a *Aggregator) Search(ctx context.Context, req SearchRequest) (*models.AggregationResult, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, fmt.Errorf("%w: empty search query", models.ErrInvalidRequest)
	}
	if len(q) > models.MaxKeywordLength {
		return nil, fmt.Errorf("%w: query exceeds %d characters", models.ErrInvalidRequest, models.MaxKeywordLength)
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if a.searcher != nil && a.searcher.Enabled() {
		articles, err := a.searcher.Search(ctx, q, req.Limit, req.Category)
		if err == nil {
			articles = normalize.Normalize(articles)
			articles = filterSearch(articles, req)
			sortSearch(articles, req.SortBy)
			if len(articles) > req.Limit {
				articles = articles[:req.Limit]
			}
			return &models.AggregationResult{
				Articles:   articles,
				Sources:    map[string]models.SourceStatus{},
				ServedFrom: models.ServedFresh,
				FetchedAt:  time.Now(),
			}, nil
		}
		a.log.Warn().Err(err).Str("query", q).Msg("search API failed, scraping sources instead")
	}

	return a.Aggregate(ctx, models.AggregationRequest{
		Sources:      a.registry.IDs(),
		Category:     req.Category,
		Keywords:     q,
		Limit:        req.Limit,
		Fresh:        true,
		CacheAllowed: true,
	})
}

func perSourceBudget(limit, sources int) int {
	return (limit + sources - 1) / sources
}

func cacheCategory(c models.Category) models.Category {
	if c == "" {
		return models.CategoryGeneral
	}
	return c
}

// finalize is the synchronous tail of the pipeline: dedupe, category
// and keyword filters, recency sort, limit truncation.
func finalize(articles []models.Article, req models.AggregationRequest) []models.Article {
	articles = normalize.Normalize(articles)

	if req.Category != "" && req.Category != models.CategoryGeneral {
		kept := articles[:0]
		for _, a := range articles {
			if a.Category == req.Category {
				kept = append(kept, a)
			}
		}
		articles = kept
	}

	if req.Keywords != "" {
		needle := strings.ToLower(req.Keywords)
		kept := articles[:0]
		for _, a := range articles {
			haystack := strings.ToLower(a.Title + " " + a.Description)
			if strings.Contains(haystack, needle) {
				kept = append(kept, a)
			}
		}
		articles = kept
	}

	sortByRecency(articles)

	if len(articles) > req.Limit {
		articles = articles[:req.Limit]
	}
	return articles
}

// sortByRecency orders newest first with unknown publish times last;
// ties keep input order.
func sortByRecency(articles []models.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		pi, pj := articles[i].HasPublished(), articles[j].HasPublished()
		switch {
		case pi && !pj:
			return true
		case !pi:
			return false
		default:
			return articles[i].PublishedAt.After(articles[j].PublishedAt)
		}
	})
}

func filterSearch(articles []models.Article, req SearchRequest) []models.Article {
	kept := articles[:0]
	for _, a := range articles {
		if !req.From.IsZero() && a.HasPublished() && a.PublishedAt.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && a.HasPublished() && a.PublishedAt.After(req.To) {
			continue
		}
		if len(req.Domains) > 0 && !matchesDomain(a.URL, req.Domains) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func matchesDomain(rawURL string, domains []string) bool {
	for _, d := range domains {
		if d != "" && strings.Contains(rawURL, d) {
			return true
		}
	}
	return false
}

func sortSearch(articles []models.Article, sortBy string) {
	switch sortBy {
	case "popularity":
		sort.SliceStable(articles, func(i, j int) bool {
			return articles[i].Score > articles[j].Score
		})
	case "relevancy":
		// the search backend already ranks by relevance
	default: // publishedAt
		sortByRecency(articles)
	}
}
