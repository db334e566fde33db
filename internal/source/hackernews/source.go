package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

const (
	defaultBaseURL   = "https://hacker-news.firebaseio.com/v0"
	maxResponseBytes = 1 << 20 // 1MB
	itemConcurrency  = 10
)

// Source implements source.Source against the Hacker News Firebase API
type Source struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.MultiLimiter
	log     *logger.Logger
}

// New creates the Hacker News API source
func New(cfg config.HackerNewsConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Source{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
		log:     log.WithSource("api", "hackernews"),
	}
}

// ID returns "hackernews"
func (s *Source) ID() string {
	return "hackernews"
}

// Name returns the display name
func (s *Source) Name() string {
	return "Hacker News"
}

// Mode returns "api"
func (s *Source) Mode() string {
	return "api"
}

// Category returns technology; every HN story carries it
func (s *Source) Category() models.Category {
	return models.CategoryTechnology
}

type hnItem struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Type        string `json:"type"`
}

// Fetch retrieves the current top stories. Individual story failures
// drop that story only; the result keeps front-page rank order.
func (s *Source) Fetch(ctx context.Context, limit int) ([]models.Article, error) {
	if err := s.limiter.Wait(ctx, ratelimit.LimiterHN); err != nil {
		return nil, models.NewSourceError(s.ID(), fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err))
	}

	ids, err := s.topStories(ctx)
	if err != nil {
		return nil, models.NewSourceError(s.ID(), err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	type ranked struct {
		rank int
		item hnItem
	}

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, itemConcurrency)
		items = make([]ranked, 0, len(ids))
	)

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(rank, id int) {
			defer wg.Done()
			defer func() { <-sem }()

			it, err := s.fetchItem(ctx, id)
			if err != nil {
				s.log.Warn().Err(err).Int("item_id", id).Msg("Failed to fetch story")
				return
			}
			if it.Title == "" || it.Type != "story" {
				return
			}

			mu.Lock()
			items = append(items, ranked{rank: rank, item: it})
			mu.Unlock()
		}(i, id)
	}
	wg.Wait()

	sort.Slice(items, func(i, j int) bool { return items[i].rank < items[j].rank })

	articles := make([]models.Article, 0, len(items))
	for _, r := range items {
		it := r.item
		itemURL := it.URL
		if itemURL == "" {
			itemURL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", it.ID)
		}
		articles = append(articles, models.Article{
			Title:       it.Title,
			Description: it.Text,
			URL:         itemURL,
			PublishedAt: time.Unix(it.Time, 0).UTC(),
			Source:      models.SourceRef{ID: s.ID(), Name: s.Name()},
			Category:    models.CategoryTechnology,
			Author:      it.By,
			Content:     it.Text,
			Score:       it.Score,
		})
	}

	s.log.Info().Int("count", len(articles)).Msg("Fetched top stories")
	return articles, nil
}

// HealthCheck verifies the top-stories endpoint responds
func (s *Source) HealthCheck(ctx context.Context) error {
	_, err := s.topStories(ctx)
	return err
}

func (s *Source) topStories(ctx context.Context) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/topstories.json", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: top stories", models.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}
	return ids, nil
}

func (s *Source) fetchItem(ctx context.Context, id int) (hnItem, error) {
	url := fmt.Sprintf("%s/item/%d.json", s.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return hnItem{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return hnItem{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hnItem{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var it hnItem
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&it); err != nil {
		return hnItem{}, err
	}
	return it, nil
}

// Ensure Source implements source.Source
var _ source.Source = (*Source)(nil)
