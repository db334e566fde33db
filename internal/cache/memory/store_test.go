package memory

import (
	"context"
	"testing"
	"time"

	"github.com/velmora/news-aggregator/internal/models"
)

func TestGetSinceFiltersByCategoryAndAge(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	fresh := []models.Article{{Title: "fresh tech"}}
	stale := []models.Article{{Title: "stale tech"}}
	world := []models.Article{{Title: "world news"}}

	if err := s.Put(ctx, models.CategoryTechnology, stale, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, models.CategoryTechnology, fresh, now.Add(-5*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, models.CategoryScience, world, now); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSince(ctx, models.CategoryTechnology, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "fresh tech" {
		t.Fatalf("expected only the fresh technology entry, got %+v", got)
	}
}

func TestGetSinceNewestEntryFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "older"}}, now.Add(-10*time.Minute))
	s.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "newer"}}, now.Add(-1*time.Minute))

	got, err := s.GetSince(ctx, models.CategoryGeneral, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "newer" || got[1].Title != "older" {
		t.Fatalf("expected newest entry first, got %+v", got)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "old"}}, now.Add(-48*time.Hour))
	s.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "recent"}}, now)

	removed, err := s.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 entry removed, got %d", removed)
	}

	got, _ := s.GetSince(ctx, models.CategoryGeneral, 72*time.Hour)
	if len(got) != 1 || got[0].Title != "recent" {
		t.Fatalf("expected only the recent entry to survive, got %+v", got)
	}
}

func TestClear(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	s.Put(ctx, models.CategoryTechnology, []models.Article{{Title: "a"}}, now)
	s.Put(ctx, models.CategoryScience, []models.Article{{Title: "b"}}, now)

	removed, err := s.Clear(ctx, models.CategoryTechnology)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 entry cleared, got %d", removed)
	}

	if got, _ := s.GetSince(ctx, models.CategoryTechnology, time.Hour); len(got) != 0 {
		t.Fatalf("technology entries should be gone, got %+v", got)
	}
	if got, _ := s.GetSince(ctx, models.CategoryScience, time.Hour); len(got) != 1 {
		t.Fatalf("world entries should survive, got %+v", got)
	}

	removed, err = s.Clear(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected full clear to remove the remaining entry, got %d", removed)
	}
}

func TestPutCopiesArticles(t *testing.T) {
	s := New()
	ctx := context.Background()

	in := []models.Article{{Title: "original"}}
	s.Put(ctx, models.CategoryGeneral, in, time.Now())
	in[0].Title = "mutated"

	got, _ := s.GetSince(ctx, models.CategoryGeneral, time.Hour)
	if got[0].Title != "original" {
		t.Fatalf("store must not share the caller's slice, got %q", got[0].Title)
	}
}
