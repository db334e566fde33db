package cache

import (
	"context"
	"time"

	"github.com/velmora/news-aggregator/internal/models"
)

// Store is the time-windowed cache of previously aggregated articles.
// Entries accumulate per category; reads return only entries within the
// requested age window, newest first. Purge and Clear are the only
// deletion paths. Implementations must not let concurrent writers to a
// category corrupt reads (append-then-publish or equivalent).
type Store interface {
	// Put records an aggregated article snapshot for the category
	Put(ctx context.Context, category models.Category, articles []models.Article, at time.Time) error

	// GetSince returns the articles of every entry for the category no
	// older than maxAge, newest entry first. An empty result is not an
	// error.
	GetSince(ctx context.Context, category models.Category, maxAge time.Duration) ([]models.Article, error)

	// PurgeOlderThan deletes entries inserted before cutoff, across all
	// categories, and returns how many entries were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Clear removes every entry for the category; an empty category
	// clears the whole store. Returns how many entries were removed.
	Clear(ctx context.Context, category models.Category) (int64, error)

	// Close releases the backing resources
	Close() error
}
