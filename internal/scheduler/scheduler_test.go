package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/velmora/news-aggregator/internal/cache/memory"
	"github.com/velmora/news-aggregator/internal/config"
	"github.com/velmora/news-aggregator/internal/models"
	"github.com/velmora/news-aggregator/internal/source"
	"github.com/velmora/news-aggregator/pkg/logger"
)

type fakeRunner struct {
	calls int
	err   error
	count int
}

func (f *fakeRunner) Aggregate(ctx context.Context, req models.AggregationRequest) (*models.AggregationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	articles := make([]models.Article, f.count)
	return &models.AggregationResult{
		Articles:   articles,
		Sources:    map[string]models.SourceStatus{},
		ServedFrom: models.ServedFresh,
	}, nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	return db
}

func testScheduler(t *testing.T, db *gorm.DB, runner Runner) *Scheduler {
	t.Helper()
	s, err := New(db, runner, memory.New(), source.NewRegistry(), config.SchedulerConfig{
		RefreshCron:  "*/30 * * * *",
		RefreshLimit: 50,
		CleanupCron:  "0 2 * * *",
	}, 30, logger.Nop())
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	return s
}

func validRequest() models.AggregationRequest {
	return models.AggregationRequest{
		Sources:      []string{"bbc"},
		Limit:        10,
		Fresh:        true,
		CacheAllowed: true,
	}
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	db := testDB(t)
	s := testScheduler(t, db, &fakeRunner{})

	_, err := s.Schedule(context.Background(), "bad", "not a cron", validRequest())
	if !errors.Is(err, models.ErrInvalidCronExpression) {
		t.Fatalf("expected InvalidCronExpression, got %v", err)
	}

	var count int64
	db.Model(&models.ScheduledJob{}).Count(&count)
	if count != 0 {
		t.Fatalf("invalid job must not be persisted, found %d rows", count)
	}
}

func TestScheduleRejectsInvalidRequest(t *testing.T) {
	s := testScheduler(t, testDB(t), &fakeRunner{})

	req := validRequest()
	req.Limit = 0
	if _, err := s.Schedule(context.Background(), "bad", "*/5 * * * *", req); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestSchedulePersistsAndArms(t *testing.T) {
	s := testScheduler(t, testDB(t), &fakeRunner{})

	job, err := s.Schedule(context.Background(), "nightly", "0 3 * * *", validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == 0 || !job.Active {
		t.Fatalf("expected a persisted active job, got %+v", job)
	}

	views, err := s.Jobs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].State != models.JobStateActive {
		t.Fatalf("expected one active job, got %+v", views)
	}
}

func TestStopDeactivates(t *testing.T) {
	s := testScheduler(t, testDB(t), &fakeRunner{})

	job, err := s.Schedule(context.Background(), "nightly", "0 3 * * *", validRequest())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Stop(context.Background(), job.ID); err != nil {
		t.Fatal(err)
	}

	views, _ := s.Jobs(context.Background())
	if len(views) != 1 || views[0].State != models.JobStateInactive {
		t.Fatalf("expected the job inactive after stop, got %+v", views)
	}

	s.mu.Lock()
	_, armed := s.entries[job.ID]
	s.mu.Unlock()
	if armed {
		t.Fatal("stopped job must not keep a cron entry")
	}
}

func TestStopUnknownJob(t *testing.T) {
	s := testScheduler(t, testDB(t), &fakeRunner{})
	if err := s.Stop(context.Background(), 42); !errors.Is(err, models.ErrInvalidRequest) {
		t.Fatalf("expected InvalidRequest for unknown job, got %v", err)
	}
}

func TestTickFailureKeepsJobActive(t *testing.T) {
	runner := &fakeRunner{err: models.ErrAggregationFailed}
	s := testScheduler(t, testDB(t), runner)

	job, err := s.Schedule(context.Background(), "flaky", "*/5 * * * *", validRequest())
	if err != nil {
		t.Fatal(err)
	}

	s.runJob(job.ID)

	views, _ := s.Jobs(context.Background())
	if views[0].State != models.JobStateActive {
		t.Fatalf("a failed tick must leave the job active, got %q", views[0].State)
	}
	if views[0].LastError == "" {
		t.Fatal("the tick error must be recorded on the job")
	}
	if views[0].LastRunAt == nil {
		t.Fatal("the tick time must be recorded even on failure")
	}

	// the next tick still runs and a success clears the error
	runner.err = nil
	runner.count = 7
	s.runJob(job.ID)

	views, _ = s.Jobs(context.Background())
	if views[0].LastError != "" || views[0].LastCount != 7 {
		t.Fatalf("a successful tick must clear the error and record the count, got %+v", views[0])
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 ticks, got %d", runner.calls)
	}
}

func TestLoadExistingJobsRestoresActiveOnly(t *testing.T) {
	db := testDB(t)
	first := testScheduler(t, db, &fakeRunner{})

	kept, err := first.Schedule(context.Background(), "kept", "*/5 * * * *", validRequest())
	if err != nil {
		t.Fatal(err)
	}
	stopped, err := first.Schedule(context.Background(), "stopped", "*/10 * * * *", validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Stop(context.Background(), stopped.ID); err != nil {
		t.Fatal(err)
	}

	// a fresh process over the same database
	second := testScheduler(t, db, &fakeRunner{})
	if err := second.loadExistingJobs(); err != nil {
		t.Fatal(err)
	}

	second.mu.Lock()
	defer second.mu.Unlock()
	if _, ok := second.entries[kept.ID]; !ok {
		t.Fatal("active job must be re-armed after restart")
	}
	if _, ok := second.entries[stopped.ID]; ok {
		t.Fatal("stopped job must stay dormant after restart")
	}
}

func TestCleanupTickPurges(t *testing.T) {
	db := testDB(t)
	store := memory.New()
	s, err := New(db, &fakeRunner{}, store, source.NewRegistry(), config.SchedulerConfig{
		RefreshCron: "*/30 * * * *",
		CleanupCron: "0 2 * * *",
	}, 30, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	store.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "ancient"}}, time.Now().Add(-31*24*time.Hour))
	store.Put(ctx, models.CategoryGeneral, []models.Article{{Title: "recent"}}, time.Now())

	s.cleanupTick()

	got, _ := store.GetSince(ctx, models.CategoryGeneral, 60*24*time.Hour)
	if len(got) != 1 || got[0].Title != "recent" {
		t.Fatalf("sweep must remove only entries past retention, got %+v", got)
	}
}
