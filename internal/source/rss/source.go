package rss

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

// Source implements source.Source for RSS feeds
type Source struct {
	id       string
	name     string
	category models.Category
	url      string
	parser   *gofeed.Parser
	limiter  *ratelimit.MultiLimiter
	log      *logger.Logger
}

// New creates a new RSS source for a single feed
func New(feed config.FeedSource, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Source {
	return &Source{
		id:       feed.ID,
		name:     feed.Name,
		category: models.Category(feed.Category),
		url:      feed.RSS,
		parser:   gofeed.NewParser(),
		limiter:  limiter,
		log:      log.WithSource("rss", feed.ID),
	}
}

// ID returns the source key
func (s *Source) ID() string {
	return s.id
}

// Name returns the display name
func (s *Source) Name() string {
	return s.name
}

// Mode returns "rss"
func (s *Source) Mode() string {
	return "rss"
}

// Category returns the configured category
func (s *Source) Category() models.Category {
	return s.category
}

// Fetch retrieves articles from the RSS feed. A feed shorter than limit
// is returned as-is; missing publish dates leave the timestamp zero.
func (s *Source) Fetch(ctx context.Context, limit int) ([]models.Article, error) {
	if err := s.limiter.Wait(ctx, ratelimit.LimiterRSS); err != nil {
		return nil, models.NewSourceError(s.id, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err))
	}

	s.log.Debug().Str("url", s.url).Msg("Fetching RSS feed")

	feed, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, models.NewSourceError(s.id, classify(err))
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	articles := make([]models.Article, 0, len(items))
	for _, item := range items {
		a := models.Article{
			Title:       cleanText(item.Title),
			Description: cleanText(item.Description),
			URL:         item.Link,
			Source:      models.SourceRef{ID: s.id, Name: s.name},
			Category:    s.category,
			Content:     cleanText(item.Content),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			a.PublishedAt = *item.UpdatedParsed
		}
		if item.Image != nil {
			a.ImageURL = item.Image.URL
		} else if enc := firstEnclosure(item); enc != "" {
			a.ImageURL = enc
		}
		if item.Author != nil {
			a.Author = item.Author.Name
		}
		articles = append(articles, a)
	}

	s.log.Info().
		Int("count", len(articles)).
		Msg("Fetched RSS articles")

	return articles, nil
}

// HealthCheck verifies the RSS feed is accessible
func (s *Source) HealthCheck(ctx context.Context) error {
	_, err := s.parser.ParseURLWithContext(s.url, ctx)
	return err
}

// classify separates transport failures from malformed feeds
func classify(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return fmt.Errorf("%w: %v", models.ErrParseFailure, err)
}

func firstEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// cleanText removes HTML tags and extra whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")
	text = strings.ReplaceAll(text, "<p>", "")

	// Remove remaining HTML tags
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
		} else if r == '>' {
			inTag = false
		} else if !inTag {
			result.WriteRune(r)
		}
	}

	text = result.String()
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(text)
}

// Ensure Source implements source.Source
var _ source.Source = (*Source)(nil)
