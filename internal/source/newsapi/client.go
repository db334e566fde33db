package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

const (
	defaultBaseURL   = "https://newsapi.org/v2"
	maxResponseBytes = 4 << 20 // 4MB
)

// Client wraps the keyword-search API. It is optional: without an API
// key the aggregator falls back to scraping for searches.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	client   *http.Client
	limiter  *ratelimit.MultiLimiter
	log      *logger.Logger
}

// New creates a search client from config
func New(cfg config.NewsAPIConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	return &Client{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		language: language,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
		log:      log.WithComponent("newsapi"),
	}
}

// response is the documented envelope; a non-"ok" status is a
// recoverable failure and the body is not parsed further.
type response struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
		Author      string `json:"author"`
		Source      struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Search queries the everything endpoint for articles matching query,
// newest first. HTTP 429 maps to RateLimited so callers can back off.
func (c *Client) Search(ctx context.Context, query string, limit int, category models.Category) ([]models.Article, error) {
	if err := c.limiter.Wait(ctx, ratelimit.LimiterNewsAPI); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", c.language)
	params.Set("sortBy", "publishedAt")
	if limit > 0 {
		params.Set("pageSize", strconv.Itoa(limit))
	}

	endpoint := c.baseURL + "/everything?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: search %q", models.ErrRateLimited, query)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("%w: api status %q (%s)", models.ErrSourceUnavailable, parsed.Status, parsed.Code)
	}

	articles := make([]models.Article, 0, len(parsed.Articles))
	for _, raw := range parsed.Articles {
		if raw.Title == "" || raw.URL == "" {
			continue
		}
		a := models.Article{
			Title:       raw.Title,
			Description: raw.Description,
			Content:     raw.Content,
			URL:         raw.URL,
			ImageURL:    raw.URLToImage,
			Author:      raw.Author,
			Category:    category,
			Source: models.SourceRef{
				ID:   sourceID(raw.Source.ID, raw.Source.Name),
				Name: raw.Source.Name,
			},
		}
		if t, err := time.Parse(time.RFC3339, raw.PublishedAt); err == nil {
			a.PublishedAt = t
		}
		articles = append(articles, a)
	}

	c.log.Info().Str("query", query).Int("count", len(articles)).Msg("Search completed")
	return articles, nil
}

// Enabled reports whether the client has a usable API key
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

func sourceID(id, name string) string {
	if id != "" {
		return id
	}
	return slugify(name)
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}
