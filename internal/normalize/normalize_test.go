package normalize

import (
	"reflect"
	"testing"

	"github.com/velmora/news-aggregator/internal/models"
)

func article(title, sourceID, desc string) models.Article {
	return models.Article{
		Title:       title,
		Description: desc,
		Source:      models.SourceRef{ID: sourceID, Name: sourceID},
	}
}

func TestNormalizeKeepsFirstOccurrence(t *testing.T) {
	in := []models.Article{
		article("Breaking Story", "bbc", "first description"),
		article("Breaking Story", "bbc", "second description"),
		article("Other Story", "bbc", ""),
	}

	out := Normalize(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 articles after dedupe, got %d", len(out))
	}
	if out[0].Description != "first description" {
		t.Fatalf("expected first occurrence kept, got %q", out[0].Description)
	}
	if out[1].Title != "Other Story" {
		t.Fatalf("relative order not preserved: %q", out[1].Title)
	}
}

func TestNormalizeKeyIgnoresCaseAndWhitespace(t *testing.T) {
	in := []models.Article{
		article("Markets  Rally   Today", "reuters", "a"),
		article("markets rally today", "reuters", "b"),
	}

	out := Normalize(in)
	if len(out) != 1 {
		t.Fatalf("case/whitespace variants should dedupe to 1, got %d", len(out))
	}
}

func TestNormalizeSameTitleDifferentSourceKept(t *testing.T) {
	in := []models.Article{
		article("Shared Headline", "bbc", ""),
		article("Shared Headline", "cnn", ""),
	}

	out := Normalize(in)
	if len(out) != 2 {
		t.Fatalf("same title from different sources should survive, got %d", len(out))
	}
}

func TestNormalizeDropsEmptyTitles(t *testing.T) {
	in := []models.Article{
		article("  ", "bbc", "whitespace only"),
		article("Real Story", "bbc", ""),
	}

	out := Normalize(in)
	if len(out) != 1 || out[0].Title != "Real Story" {
		t.Fatalf("empty-title articles should be dropped, got %+v", out)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	in := []models.Article{
		article("One", "bbc", "x"),
		article("One", "bbc", "y"),
		article("Two", "cnn", ""),
		article("Three", "bbc", ""),
	}

	once := Normalize(in)
	twice := Normalize(once)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("Normalize is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeNeverGrows(t *testing.T) {
	in := []models.Article{
		article("A", "s1", ""),
		article("B", "s1", ""),
		article("C", "s2", ""),
	}

	out := Normalize(in)
	if len(out) > len(in) {
		t.Fatalf("output longer than input: %d > %d", len(out), len(in))
	}
}
