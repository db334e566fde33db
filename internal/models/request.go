package models

import (
	"fmt"
	"time"
)

// MaxKeywordLength bounds the free-text keyword filter
const MaxKeywordLength = 200

// ServedFrom tags where an aggregation result came from, so callers can
// distinguish fresh data from cached or degraded responses.
type ServedFrom string

const (
	ServedFresh         ServedFrom = "fresh"
	ServedCache         ServedFrom = "cache"
	ServedStaleFallback ServedFrom = "stale-fallback"
)

// AggregationRequest describes one aggregation call. Constructed per
// call and never persisted, except as part of a scheduled job config.
type AggregationRequest struct {
	Sources      []string `json:"sources"`
	Category     Category `json:"category"`
	Keywords     string   `json:"keywords,omitempty"`
	Limit        int      `json:"limit"`
	Fresh        bool     `json:"fresh"`
	CacheAllowed bool     `json:"cache_allowed"`
}

// Validate checks the request before any I/O happens
func (r *AggregationRequest) Validate() error {
	if len(r.Sources) == 0 {
		return fmt.Errorf("%w: no sources requested", ErrInvalidRequest)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, r.Limit)
	}
	if len(r.Keywords) > MaxKeywordLength {
		return fmt.Errorf("%w: keywords exceed %d characters", ErrInvalidRequest, MaxKeywordLength)
	}
	if r.Category != "" && !ValidCategory(r.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, r.Category)
	}
	return nil
}

// SourceStatus records how a single source fared within one aggregation
type SourceStatus struct {
	SourceID string `json:"source_id"`
	Articles int    `json:"articles"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the source contributed without failing
func (s SourceStatus) OK() bool {
	return s.Error == ""
}

// AggregationResult is what every aggregation call returns: the merged
// article list, a per-source status map, and the provenance tag.
type AggregationResult struct {
	Articles   []Article               `json:"articles"`
	Sources    map[string]SourceStatus `json:"sources"`
	ServedFrom ServedFrom              `json:"served_from"`
	FetchedAt  time.Time               `json:"fetched_at"`
}
