package models

import "time"

// JobState is the lifecycle state of a scheduled job. There is no
// failed terminal state: a tick that errors leaves the job Active for
// its next tick.
type JobState string

const (
	JobStateInactive JobState = "inactive"
	JobStateActive   JobState = "active"
	JobStateRunning  JobState = "running"
)

// ScheduledJob is a persisted recurring aggregation job. The request
// config is flattened into columns so the row is queryable without
// unpacking JSON.
type ScheduledJob struct {
	ID       uint        `gorm:"primaryKey" json:"id"`
	Name     string      `gorm:"size:128" json:"name"`
	CronExpr string      `gorm:"size:64;not null" json:"cron_expr"`
	Sources  StringSlice `gorm:"type:json" json:"sources"`
	Category Category    `gorm:"size:32;index" json:"category"`
	Keywords string      `gorm:"size:200" json:"keywords"`
	Limit    int         `json:"limit"`
	Active   bool        `gorm:"index" json:"active"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastCount int        `json:"last_count"`
	LastError string     `gorm:"size:512" json:"last_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Request reconstructs the aggregation request a tick of this job runs.
// Scheduled ticks always force a fresh fetch and allow the cache so the
// run both refreshes and seeds it.
func (j *ScheduledJob) Request() AggregationRequest {
	return AggregationRequest{
		Sources:      []string(j.Sources),
		Category:     j.Category,
		Keywords:     j.Keywords,
		Limit:        j.Limit,
		Fresh:        true,
		CacheAllowed: true,
	}
}
