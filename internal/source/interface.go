package source

import (
	"context"
	"fmt"

	"github.com/velmora/news-aggregator/internal/models"
)

// Source defines the interface for a configured content origin
type Source interface {
	// ID returns the unique key of this source (e.g. "bbc")
	ID() string

	// Name returns the display name (e.g. "BBC News")
	Name() string

	// Mode returns the fetch strategy (rss, page, api)
	Mode() string

	// Category returns the category every article from this source carries
	Category() models.Category

	// Fetch retrieves up to limit articles from the source. Fewer than
	// limit items is not an error; a short list is a valid result.
	Fetch(ctx context.Context, limit int) ([]models.Article, error)

	// HealthCheck verifies the source is reachable
	HealthCheck(ctx context.Context) error
}

// Registry is the static catalog of sources, built once at startup and
// never mutated afterwards.
type Registry struct {
	sources []Source
	byID    map[string]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]Source),
	}
}

// Register adds a source to the registry. Registering a duplicate ID
// replaces the earlier entry.
func (r *Registry) Register(s Source) {
	if _, ok := r.byID[s.ID()]; !ok {
		r.sources = append(r.sources, s)
	} else {
		for i, existing := range r.sources {
			if existing.ID() == s.ID() {
				r.sources[i] = s
				break
			}
		}
	}
	r.byID[s.ID()] = s
}

// Get returns a source by ID
func (r *Registry) Get(id string) (Source, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// All returns every registered source in registration order
func (r *Registry) All() []Source {
	return r.sources
}

// IDs returns every registered source ID in registration order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		ids = append(ids, s.ID())
	}
	return ids
}

// Resolve maps requested IDs to sources, reporting unknown IDs
// separately so the caller can surface them without failing the rest.
func (r *Registry) Resolve(ids []string) ([]Source, []string) {
	resolved := make([]Source, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		if s, ok := r.byID[id]; ok {
			resolved = append(resolved, s)
		} else {
			unknown = append(unknown, id)
		}
	}
	return resolved, unknown
}

// fallback chains two fetch strategies for one source: the primary is
// tried first and the secondary only runs when the primary fails. This
// encodes the RSS-first, render-on-failure preference per source.
type fallback struct {
	primary   Source
	secondary Source
}

// WithFallback wraps primary so that fetch failures retry via secondary.
// Both must describe the same logical source; identity comes from primary.
func WithFallback(primary, secondary Source) Source {
	return &fallback{primary: primary, secondary: secondary}
}

func (f *fallback) ID() string                { return f.primary.ID() }
func (f *fallback) Name() string              { return f.primary.Name() }
func (f *fallback) Category() models.Category { return f.primary.Category() }

func (f *fallback) Mode() string {
	return fmt.Sprintf("%s+%s", f.primary.Mode(), f.secondary.Mode())
}

func (f *fallback) Fetch(ctx context.Context, limit int) ([]models.Article, error) {
	articles, err := f.primary.Fetch(ctx, limit)
	if err == nil {
		return articles, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	articles, ferr := f.secondary.Fetch(ctx, limit)
	if ferr != nil {
		return nil, fmt.Errorf("primary: %w; fallback %s: %v", err, f.secondary.Mode(), ferr)
	}
	return articles, nil
}

func (f *fallback) HealthCheck(ctx context.Context) error {
	if err := f.primary.HealthCheck(ctx); err == nil {
		return nil
	}
	return f.secondary.HealthCheck(ctx)
}
