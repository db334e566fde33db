// Package scheduler runs recurring aggregation jobs and the cache
// retention sweep on cron schedules. Jobs are persisted so they survive
// restarts; tick failures are recorded on the job and never terminal.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/velmora/news-aggregator/internal/cache"
	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
)

// Runner is the aggregation entry point a tick invokes
type Runner interface {
	Aggregate(ctx context.Context, req models.AggregationRequest) (*models.AggregationResult, error)
}

// tickTimeout bounds one scheduled aggregation run
const tickTimeout = 5 * time.Minute

// JobView is a persisted job with its runtime state resolved
type JobView struct {
	models.ScheduledJob
	State models.JobState `json:"state"`
}

// Scheduler wraps robfig/cron with job persistence and the two
// built-in maintenance jobs (full refresh, retention sweep).
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	store    cache.Store
	registry *source.Registry
	db       *gorm.DB
	cfg      config.SchedulerConfig
	retain   time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	entries map[uint]cron.EntryID
	running map[uint]bool
}

// New migrates the job table and builds a stopped scheduler; call Start
// to arm the cron entries.
func New(db *gorm.DB, runner Runner, store cache.Store, registry *source.Registry, cfg config.SchedulerConfig, retentionDays int, log *logger.Logger) (*Scheduler, error) {
	if err := db.AutoMigrate(&models.ScheduledJob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate job schema: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	l := log.WithComponent("scheduler")
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{l})),
		runner:   runner,
		store:    store,
		registry: registry,
		db:       db,
		cfg:      cfg,
		retain:   time.Duration(retentionDays) * 24 * time.Hour,
		log:      l,
		entries:  make(map[uint]cron.EntryID),
		running:  make(map[uint]bool),
	}, nil
}

// Start arms the built-in jobs, reloads persisted active jobs and
// starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RefreshCron, s.refreshTick); err != nil {
		return fmt.Errorf("%w: refresh schedule %q: %v", models.ErrInvalidCronExpression, s.cfg.RefreshCron, err)
	}
	s.log.Info().Str("cron", s.cfg.RefreshCron).Msg("refresh job scheduled")

	if _, err := s.cron.AddFunc(s.cfg.CleanupCron, s.cleanupTick); err != nil {
		return fmt.Errorf("%w: cleanup schedule %q: %v", models.ErrInvalidCronExpression, s.cfg.CleanupCron, err)
	}
	s.log.Info().Str("cron", s.cfg.CleanupCron).Msg("cleanup job scheduled")

	if err := s.loadExistingJobs(); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Msg("scheduler started")
	return nil
}

// Shutdown stops the cron loop and waits for in-flight ticks
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadExistingJobs re-arms every job that was active when the process
// last stopped.
func (s *Scheduler) loadExistingJobs() error {
	var jobs []models.ScheduledJob
	if err := s.db.Where("active = ?", true).Find(&jobs).Error; err != nil {
		return fmt.Errorf("failed to load persisted jobs: %w", err)
	}
	for i := range jobs {
		job := jobs[i]
		if err := s.arm(&job); err != nil {
			s.log.Error().Err(err).Uint("job_id", job.ID).Str("cron", job.CronExpr).
				Msg("persisted job has an invalid schedule, skipping")
			continue
		}
		s.log.Info().Uint("job_id", job.ID).Str("name", job.Name).Str("cron", job.CronExpr).
			Msg("persisted job restored")
	}
	return nil
}

// Schedule validates, persists and arms a new recurring job
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpr string, req models.AggregationRequest) (*models.ScheduledJob, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", models.ErrInvalidCronExpression, cronExpr, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := &models.ScheduledJob{
		Name:     name,
		CronExpr: cronExpr,
		Sources:  models.StringSlice(req.Sources),
		Category: req.Category,
		Keywords: req.Keywords,
		Limit:    req.Limit,
		Active:   true,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.arm(job); err != nil {
		return nil, err
	}
	s.log.Info().Uint("job_id", job.ID).Str("name", name).Str("cron", cronExpr).Msg("job scheduled")
	return job, nil
}

// Stop deactivates a job: the cron entry is removed and the row marked
// inactive so it is not restored on restart.
func (s *Scheduler) Stop(ctx context.Context, id uint) error {
	var job models.ScheduledJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return fmt.Errorf("%w: job %d not found", models.ErrInvalidRequest, id)
	}

	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if err := s.db.WithContext(ctx).Model(&job).Update("active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate job: %w", err)
	}
	s.log.Info().Uint("job_id", id).Msg("job stopped")
	return nil
}

// Jobs lists every persisted job with its current state
func (s *Scheduler) Jobs(ctx context.Context) ([]JobView, error) {
	var jobs []models.ScheduledJob
	if err := s.db.WithContext(ctx).Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, JobView{ScheduledJob: job, State: s.stateLocked(job)})
	}
	return views, nil
}

// State reports the lifecycle state of one job
func (s *Scheduler) State(job models.ScheduledJob) models.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(job)
}

func (s *Scheduler) stateLocked(job models.ScheduledJob) models.JobState {
	if s.running[job.ID] {
		return models.JobStateRunning
	}
	if job.Active {
		return models.JobStateActive
	}
	return models.JobStateInactive
}

func (s *Scheduler) arm(job *models.ScheduledJob) error {
	id := job.ID
	entryID, err := s.cron.AddFunc(job.CronExpr, func() { s.runJob(id) })
	if err != nil {
		return fmt.Errorf("%w: %q: %v", models.ErrInvalidCronExpression, job.CronExpr, err)
	}
	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

// runJob executes one tick of a persisted job. Errors are recorded on
// the row and logged; they never escape the tick handler, so the job
// stays armed for its next run.
func (s *Scheduler) runJob(id uint) {
	var job models.ScheduledJob
	if err := s.db.First(&job, id).Error; err != nil {
		s.log.Error().Err(err).Uint("job_id", id).Msg("job row vanished, skipping tick")
		return
	}

	s.mu.Lock()
	s.running[id] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	log := s.log.WithJob(id)
	log.Info().Str("name", job.Name).Msg("tick started")

	now := time.Now()
	updates := map[string]interface{}{"last_run_at": &now}

	res, err := s.runner.Aggregate(ctx, job.Request())
	if err != nil {
		updates["last_error"] = err.Error()
		updates["last_count"] = 0
		log.Error().Err(err).Msg("tick failed")
	} else {
		updates["last_error"] = ""
		updates["last_count"] = len(res.Articles)
		log.Info().Int("articles", len(res.Articles)).Str("served_from", string(res.ServedFrom)).
			Msg("tick completed")
	}

	if err := s.db.Model(&models.ScheduledJob{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.Error().Err(err).Msg("failed to record tick outcome")
	}
}

// refreshTick is the built-in full refresh across every registered
// source: fresh=true so it refetches, cache-allowed so it seeds the
// cache for on-demand readers.
func (s *Scheduler) refreshTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	req := models.AggregationRequest{
		Sources:      s.registry.IDs(),
		Limit:        s.cfg.RefreshLimit,
		Fresh:        true,
		CacheAllowed: true,
	}

	res, err := s.runner.Aggregate(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled refresh failed")
		return
	}
	s.log.Info().Int("articles", len(res.Articles)).Str("served_from", string(res.ServedFrom)).
		Msg("scheduled refresh completed")
}

// cleanupTick is the built-in retention sweep
func (s *Scheduler) cleanupTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.retain)
	removed, err := s.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	s.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("retention sweep completed")
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
