package models

import (
	"errors"
	"fmt"
)

// Error taxonomy for the aggregation pipeline. Per-source errors
// (SourceUnavailable, ParseFailure, RateLimited) are captured in the
// per-source status of an AggregationResult and never surface to the
// aggregation caller. InvalidRequest and InvalidCronExpression are
// validation errors returned before any I/O. AggregationFailed is the
// only total failure: fresh fetch yielded nothing and no fallback
// cache entry exists.
var (
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrParseFailure          = errors.New("parse failure")
	ErrRateLimited           = errors.New("rate limited")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrAggregationFailed     = errors.New("aggregation failed")
)

// SourceError wraps a per-source fetch failure with the source it came from
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError wraps err for the given source
func NewSourceError(sourceID string, err error) *SourceError {
	return &SourceError{SourceID: sourceID, Err: err}
}
