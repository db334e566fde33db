// Package memory holds cached aggregation results in process memory.
// It is the default driver and the test double for the other backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/velmora/news-aggregator/internal/models"
)

type entry struct {
	category   models.Category
	articles   []models.Article
	insertedAt time.Time
}

// Store keeps entries in insertion order and trims only on purge or
// clear. Reads copy article slices so callers cannot mutate the cache.
type Store struct {
	mu      sync.RWMutex
	entries []entry
}

func New() *Store {
	return &Store{}
}

func (s *Store) Put(ctx context.Context, category models.Category, articles []models.Article, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([]models.Article, len(articles))
	copy(copied, articles)

	s.mu.Lock()
	s.entries = append(s.entries, entry{category: category, articles: copied, insertedAt: at})
	s.mu.Unlock()
	return nil
}

func (s *Store) GetSince(ctx context.Context, category models.Category, maxAge time.Duration) ([]models.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	oldest := time.Now().Add(-maxAge)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Article
	// newest entry first
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.category != category || e.insertedAt.Before(oldest) {
			continue
		}
		out = append(out, e.articles...)
	}
	return out, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.insertedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *Store) Clear(ctx context.Context, category models.Category) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if category == "" {
		removed := int64(len(s.entries))
		s.entries = nil
		return removed, nil
	}

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.category == category {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}
