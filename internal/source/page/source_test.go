package page

import (
	"errors"
	"testing"
	"time"

	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/pkg/logger"
)

func testSource(t *testing.T, sel config.Selectors) *Source {
	t.Helper()
	return &Source{
		id:        "example",
		name:      "Example News",
		category:  models.CategoryGeneral,
		pageURL:   "https://example.com/news",
		selectors: sel,
		log:       logger.Nop(),
	}
}

const sampleHTML = `
<html><body>
  <article class="promo">
    <h3 class="headline">First Story</h3>
    <a class="link" href="/articles/1">read</a>
    <p class="summary">Something happened.</p>
    <img class="thumb" src="/img/1.jpg"/>
    <time datetime="2024-01-05T10:00:00Z">Jan 5</time>
  </article>
  <article class="promo">
    <h3 class="headline">Second Story</h3>
    <a class="link" href="https://other.example.com/2">read</a>
  </article>
  <article class="promo">
    <h3 class="headline"></h3>
    <a class="link" href="/articles/3">read</a>
  </article>
</body></html>`

func fullSelectors() config.Selectors {
	return config.Selectors{
		Article:     "article.promo",
		Title:       ".headline",
		Link:        ".link",
		Description: ".summary",
		Image:       ".thumb",
		Date:        "time",
	}
}

func TestExtractMapsFieldsAndResolvesURLs(t *testing.T) {
	s := testSource(t, fullSelectors())

	articles, err := s.extract(sampleHTML, 0)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles (titleless item skipped), got %d", len(articles))
	}

	first := articles[0]
	if first.Title != "First Story" {
		t.Fatalf("unexpected title: %q", first.Title)
	}
	if first.URL != "https://example.com/articles/1" {
		t.Fatalf("relative link not resolved: %q", first.URL)
	}
	if first.Description != "Something happened." {
		t.Fatalf("unexpected description: %q", first.Description)
	}
	if first.ImageURL != "https://example.com/img/1.jpg" {
		t.Fatalf("relative image not resolved: %q", first.ImageURL)
	}
	want := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Fatalf("datetime attribute not parsed: %v", first.PublishedAt)
	}
}

func TestExtractMissingOptionalFieldsDropFieldNotArticle(t *testing.T) {
	s := testSource(t, fullSelectors())

	articles, err := s.extract(sampleHTML, 0)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	second := articles[1]
	if second.Title != "Second Story" {
		t.Fatalf("unexpected title: %q", second.Title)
	}
	if second.Description != "" || second.ImageURL != "" {
		t.Fatalf("optional fields should be empty, got %+v", second)
	}
	if second.HasPublished() {
		t.Fatalf("missing date should leave timestamp zero")
	}
}

func TestExtractRespectsLimit(t *testing.T) {
	s := testSource(t, fullSelectors())

	articles, err := s.extract(sampleHTML, 1)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article with limit=1, got %d", len(articles))
	}
}

func TestExtractNoContainerIsParseFailure(t *testing.T) {
	s := testSource(t, config.Selectors{
		Article: ".does-not-exist",
		Title:   ".headline",
		Link:    ".link",
	})

	_, err := s.extract(sampleHTML, 0)
	if !errors.Is(err, models.ErrParseFailure) {
		t.Fatalf("expected ParseFailure, got %v", err)
	}
}
