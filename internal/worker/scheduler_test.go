package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/freight-next/internal/models"
	"github.com/freight-next/internal/repository"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupSchedulerRepo(t *testing.T) repository.JobRunRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:scheduler_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.JobRun{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return repository.NewJobRunRepository(db)
}

func newTestScheduler(t *testing.T, repo repository.JobRunRepository, clock *fakeClock, jobs ...Job) *Scheduler {
	t.Helper()
	s, err := NewScheduler(repo, jobs, SchedulerOptions{FailureCooldown: 10 * time.Minute})
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	s.clock = clock.Now
	return s
}

func TestSchedulerRunsDueJobOnceAndCollapsesMissedWindows(t *testing.T) {
	repo := setupSchedulerRepo(t)
	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)}
	var calls int32
	s := newTestScheduler(t, repo, clock, Job{
		Name: "hourly",
		Spec: "0 * * * *",
		Run: func(ctx context.Context, log *zap.SugaredLogger) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	ctx := context.Background()

	if ran := s.RunDue(ctx); len(ran) != 0 {
		t.Fatalf("first tick must only register the job, ran %v", ran)
	}

	clock.Set(time.Date(2026, 3, 2, 11, 5, 0, 0, time.UTC))
	if ran := s.RunDue(ctx); len(ran) != 1 || ran[0] != "hourly" {
		t.Fatalf("expected hourly to run, got %v", ran)
	}
	clock.Set(time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC))
	if ran := s.RunDue(ctx); len(ran) != 0 {
		t.Fatalf("job ran twice in one window: %v", ran)
	}

	// 停机错过四个窗口，恢复后只补跑一次
	clock.Set(time.Date(2026, 3, 2, 15, 10, 0, 0, time.UTC))
	if ran := s.RunDue(ctx); len(ran) != 1 {
		t.Fatalf("expected one catch-up run, got %v", ran)
	}
	clock.Set(time.Date(2026, 3, 2, 15, 20, 0, 0, time.UTC))
	if ran := s.RunDue(ctx); len(ran) != 0 {
		t.Fatalf("catch-up must not repeat, got %v", ran)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 executions, got %d", got)
	}

	run, err := repo.Get("hourly")
	if err != nil || run == nil {
		t.Fatalf("load watermark failed: %v", err)
	}
	if run.RunCount != 2 || !run.LastRunAt.Equal(time.Date(2026, 3, 2, 15, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected watermark: count=%d last=%s", run.RunCount, run.LastRunAt)
	}
}

func TestSchedulerFailureKeepsWatermarkAndCoolsDown(t *testing.T) {
	repo := setupSchedulerRepo(t)
	start := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	var calls int32
	fail := int32(1)
	s := newTestScheduler(t, repo, clock, Job{
		Name: "nightly",
		Spec: "30 1 * * *",
		Run: func(ctx context.Context, log *zap.SugaredLogger) error {
			atomic.AddInt32(&calls, 1)
			if atomic.LoadInt32(&fail) == 1 {
				return errors.New("downstream unavailable")
			}
			return nil
		},
	})
	ctx := context.Background()
	s.RunDue(ctx)

	clock.Set(start.Add(31 * time.Minute))
	if ran := s.RunDue(ctx); len(ran) != 1 {
		t.Fatalf("expected failing run, got %v", ran)
	}
	run, _ := repo.Get("nightly")
	if !run.LastRunAt.Equal(start) || run.LastError != "downstream unavailable" {
		t.Fatalf("failure must keep watermark: last=%s err=%q", run.LastRunAt, run.LastError)
	}

	clock.Set(start.Add(35 * time.Minute))
	if ran := s.RunDue(ctx); len(ran) != 0 {
		t.Fatalf("job must wait for cooldown, ran %v", ran)
	}

	atomic.StoreInt32(&fail, 0)
	clock.Set(start.Add(42 * time.Minute))
	if ran := s.RunDue(ctx); len(ran) != 1 {
		t.Fatalf("expected retry after cooldown, got %v", ran)
	}
	run, _ = repo.Get("nightly")
	if !run.LastRunAt.Equal(start.Add(42*time.Minute)) || run.LastError != "" {
		t.Fatalf("success must advance watermark: last=%s err=%q", run.LastRunAt, run.LastError)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 executions, got %d", got)
	}
}

func TestSchedulerRecoversPanic(t *testing.T) {
	repo := setupSchedulerRepo(t)
	start := time.Date(2026, 3, 2, 2, 59, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := newTestScheduler(t, repo, clock,
		Job{
			Name: "explodes",
			Spec: "0 3 * * *",
			Run: func(ctx context.Context, log *zap.SugaredLogger) error {
				panic("nil map write")
			},
		},
		Job{
			Name: "healthy",
			Spec: "0 3 * * *",
			Run: func(ctx context.Context, log *zap.SugaredLogger) error {
				return nil
			},
		},
	)
	ctx := context.Background()
	s.RunDue(ctx)

	clock.Set(start.Add(2 * time.Minute))
	if ran := s.RunDue(ctx); len(ran) != 2 {
		t.Fatalf("expected both jobs attempted, got %v", ran)
	}
	run, _ := repo.Get("explodes")
	if !strings.Contains(run.LastError, "job panic") {
		t.Fatalf("expected panic recorded, got %q", run.LastError)
	}
	healthy, _ := repo.Get("healthy")
	if !healthy.LastRunAt.Equal(start.Add(2 * time.Minute)) {
		t.Fatalf("healthy job must advance independently, got %s", healthy.LastRunAt)
	}
}

func TestSchedulerKeepsLongMultibyteErrorValid(t *testing.T) {
	repo := setupSchedulerRepo(t)
	start := time.Date(2026, 3, 2, 3, 59, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	long := "a" + strings.Repeat("结算失败", maxJobErrorLength)
	s := newTestScheduler(t, repo, clock, Job{
		Name: "verbose",
		Spec: "0 4 * * *",
		Run: func(ctx context.Context, log *zap.SugaredLogger) error {
			return errors.New(long)
		},
	})
	ctx := context.Background()
	s.RunDue(ctx)

	clock.Set(start.Add(2 * time.Minute))
	if ran := s.RunDue(ctx); len(ran) != 1 {
		t.Fatalf("expected failing run, got %v", ran)
	}
	run, _ := repo.Get("verbose")
	if !utf8.ValidString(run.LastError) {
		t.Fatalf("recorded error is not valid utf-8")
	}
	if got := utf8.RuneCountInString(run.LastError); got != maxJobErrorLength {
		t.Fatalf("expected %d runes, got %d", maxJobErrorLength, got)
	}
	if !strings.HasPrefix(long, run.LastError) {
		t.Fatalf("recorded error must be a prefix of the original")
	}
}

func TestNewSchedulerValidatesSpecs(t *testing.T) {
	repo := setupSchedulerRepo(t)
	noop := func(ctx context.Context, log *zap.SugaredLogger) error { return nil }

	if _, err := NewScheduler(repo, []Job{{Name: "bad", Spec: "every day", Run: noop}}, SchedulerOptions{}); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	s, err := NewScheduler(repo, []Job{{Name: "off", Spec: " ", Run: noop}}, SchedulerOptions{})
	if err != nil {
		t.Fatalf("empty spec should disable job: %v", err)
	}
	if len(s.jobs) != 0 {
		t.Fatalf("expected disabled job skipped, got %d jobs", len(s.jobs))
	}
	if s.options.Tick != defaultTickInterval || s.options.LockTTL != defaultLockTTL {
		t.Fatalf("expected default options, got %+v", s.options)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	repo := setupSchedulerRepo(t)
	s, err := NewScheduler(repo, nil, SchedulerOptions{Tick: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new scheduler failed: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(context.Background())
	}()
	time.Sleep(30 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("start returned error: %v", err)
	}
}
