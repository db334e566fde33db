package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/velmora/news-aggregator/internal/browser"
	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
	"github.com/velmora/news-aggregator/pkg/ratelimit"
)

// blockedResources keeps renders cheap: target pages are JS-heavy, but
// images, styles and fonts contribute nothing to extraction.
var blockedResources = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.css", "*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
}

// dateLayouts are tried in order when a page exposes a textual date
var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Source implements source.Source by rendering a JS-heavy page in a
// shared headless browser and extracting articles with CSS selectors.
type Source struct {
	id        string
	name      string
	category  models.Category
	pageURL   string
	selectors config.Selectors
	handle    *browser.Handle
	navWait   time.Duration
	domWait   time.Duration
	limiter   *ratelimit.MultiLimiter
	log       *logger.Logger
}

// New creates a page-mode source. The browser handle is injected by the
// composing process; the source never owns its lifecycle.
func New(feed config.FeedSource, handle *browser.Handle, cfg config.BrowserConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) (*Source, error) {
	if !feed.Selectors.Configured() {
		return nil, fmt.Errorf("source %s: page mode requires article, title and link selectors", feed.ID)
	}
	navWait := cfg.NavTimeout
	if navWait <= 0 {
		navWait = 30 * time.Second
	}
	domWait := cfg.WaitTimeout
	if domWait <= 0 {
		domWait = 10 * time.Second
	}
	return &Source{
		id:        feed.ID,
		name:      feed.Name,
		category:  models.Category(feed.Category),
		pageURL:   feed.URL,
		selectors: feed.Selectors,
		handle:    handle,
		navWait:   navWait,
		domWait:   domWait,
		limiter:   limiter,
		log:       log.WithSource("page", feed.ID),
	}, nil
}

// ID returns the source key
func (s *Source) ID() string {
	return s.id
}

// Name returns the display name
func (s *Source) Name() string {
	return s.name
}

// Mode returns "page"
func (s *Source) Mode() string {
	return "page"
}

// Category returns the configured category
func (s *Source) Category() models.Category {
	return s.category
}

// Fetch renders the page, waits for the article container, and extracts
// up to limit articles. A missing optional field drops the field, not
// the article; a missing title or link drops the article, not the fetch.
func (s *Source) Fetch(ctx context.Context, limit int) ([]models.Article, error) {
	if err := s.limiter.Wait(ctx, ratelimit.LimiterPage); err != nil {
		return nil, models.NewSourceError(s.id, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err))
	}

	html, err := s.render(ctx)
	if err != nil {
		return nil, models.NewSourceError(s.id, err)
	}

	articles, err := s.extract(html, limit)
	if err != nil {
		return nil, models.NewSourceError(s.id, err)
	}

	s.log.Info().Int("count", len(articles)).Msg("Extracted articles from rendered page")
	return articles, nil
}

// HealthCheck renders the page and checks the container appears
func (s *Source) HealthCheck(ctx context.Context) error {
	_, err := s.render(ctx)
	return err
}

func (s *Source) render(parent context.Context) (string, error) {
	tabCtx, release, err := s.handle.Tab()
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	defer release()

	s.log.Debug().Str("url", s.pageURL).Msg("Rendering page")

	// Navigation budget
	navCtx, cancelNav := context.WithTimeout(tabCtx, s.navWait)
	defer cancelNav()

	err = chromedp.Run(navCtx,
		network.Enable(),
		network.SetBlockedURLs(blockedResources),
		chromedp.Navigate(s.pageURL),
	)
	if err != nil {
		return "", fmt.Errorf("%w: navigate %s: %v", models.ErrSourceUnavailable, s.pageURL, err)
	}
	if parent.Err() != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSourceUnavailable, parent.Err())
	}

	// Bounded wait for the article container before extracting; a
	// timeout here means the page changed under us, not a network issue.
	var html string
	waitCtx, cancelWait := context.WithTimeout(tabCtx, s.domWait)
	defer cancelWait()

	err = chromedp.Run(waitCtx,
		chromedp.WaitReady(s.selectors.Article, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: container %q never appeared", models.ErrParseFailure, s.selectors.Article)
		}
		return "", fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}

	return html, nil
}

func (s *Source) extract(html string, limit int) ([]models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParseFailure, err)
	}

	base, _ := url.Parse(s.pageURL)

	var articles []models.Article
	doc.Find(s.selectors.Article).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if limit > 0 && len(articles) >= limit {
			return false
		}

		title := strings.TrimSpace(item.Find(s.selectors.Title).First().Text())
		link := s.resolveLink(base, item)
		if title == "" || link == "" {
			// Title and link are required; skip the item, keep the fetch
			return true
		}

		a := models.Article{
			Title:    title,
			URL:      link,
			Source:   models.SourceRef{ID: s.id, Name: s.name},
			Category: s.category,
		}

		if s.selectors.Description != "" {
			a.Description = strings.TrimSpace(item.Find(s.selectors.Description).First().Text())
		}
		if s.selectors.Image != "" {
			if src, ok := item.Find(s.selectors.Image).First().Attr("src"); ok {
				a.ImageURL = resolveURL(base, src)
			}
		}
		if s.selectors.Date != "" {
			a.PublishedAt = parseDate(item.Find(s.selectors.Date).First())
		}

		articles = append(articles, a)
		return true
	})

	if len(articles) == 0 {
		return nil, fmt.Errorf("%w: no items matched %q", models.ErrParseFailure, s.selectors.Article)
	}

	return articles, nil
}

func (s *Source) resolveLink(base *url.URL, item *goquery.Selection) string {
	node := item.Find(s.selectors.Link).First()
	href, ok := node.Attr("href")
	if !ok {
		return ""
	}
	return resolveURL(base, href)
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

// parseDate reads a <time datetime=...> attribute first, then falls
// back to the element text. Unparseable dates leave the timestamp zero.
func parseDate(node *goquery.Selection) time.Time {
	if dt, ok := node.Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			return t
		}
	}
	text := strings.TrimSpace(node.Text())
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Ensure Source implements source.Source
var _ source.Source = (*Source)(nil)
