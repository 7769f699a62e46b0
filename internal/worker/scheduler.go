package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/freight-next/internal/cache"
	"github.com/freight-next/internal/config"
	"github.com/freight-next/internal/logger"
	"github.com/freight-next/internal/repository"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultTickInterval    = time.Minute
	defaultFailureCooldown = 5 * time.Minute
	defaultLockTTL         = 30 * time.Minute
	maxJobErrorLength      = 2000
)

// JobFunc 定时任务执行体
type JobFunc func(ctx context.Context, log *zap.SugaredLogger) error

// Job 定时任务定义，Spec 为 UTC 下的标准 5 段 cron 表达式
type Job struct {
	Name string
	Spec string
	Run  JobFunc
}

type scheduledJob struct {
	Job
	schedule cron.Schedule
}

// SchedulerOptions 调度参数
type SchedulerOptions struct {
	Tick            time.Duration
	FailureCooldown time.Duration
	LockTTL         time.Duration
}

// SchedulerOptionsFromConfig 从配置构造调度参数
func SchedulerOptionsFromConfig(cfg config.SchedulerConfig) SchedulerOptions {
	return SchedulerOptions{
		Tick:            time.Duration(cfg.TickSeconds) * time.Second,
		FailureCooldown: time.Duration(cfg.FailureCooldownSeconds) * time.Second,
		LockTTL:         time.Duration(cfg.LockTTLSeconds) * time.Second,
	}
}

// Scheduler 基于水位线的定时任务调度器
// 每个任务的上次成功时间持久化在 job_runs；错过的多个窗口只补跑一次。
type Scheduler struct {
	name    string
	jobs    []scheduledJob
	runs    repository.JobRunRepository
	options SchedulerOptions
	clock   func() time.Time

	mu       sync.Mutex
	failedAt map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler 创建调度器，cron 表达式无效时返回错误
func NewScheduler(runs repository.JobRunRepository, jobs []Job, options SchedulerOptions) (*Scheduler, error) {
	if runs == nil {
		return nil, errors.New("job run repository is nil")
	}
	if options.Tick <= 0 {
		options.Tick = defaultTickInterval
	}
	if options.FailureCooldown <= 0 {
		options.FailureCooldown = defaultFailureCooldown
	}
	if options.LockTTL <= 0 {
		options.LockTTL = defaultLockTTL
	}
	scheduled := make([]scheduledJob, 0, len(jobs))
	for _, job := range jobs {
		spec := strings.TrimSpace(job.Spec)
		if spec == "" {
			logger.Warnw("scheduler_job_disabled", "job", job.Name)
			continue
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s has no run func", job.Name)
		}
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("parse cron for job %s: %w", job.Name, err)
		}
		scheduled = append(scheduled, scheduledJob{Job: job, schedule: schedule})
	}
	return &Scheduler{
		name:     "scheduler",
		jobs:     scheduled,
		runs:     runs,
		options:  options,
		clock:    time.Now,
		failedAt: map[string]time.Time{},
	}, nil
}

// Name 服务名称
func (s *Scheduler) Name() string {
	if s == nil || s.name == "" {
		return "scheduler"
	}
	return s.name
}

// Start 启动调度循环，阻塞直到 ctx 取消或 Stop
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler not initialized")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	defer close(done)

	logger.Infow("scheduler_started", "jobs", len(s.jobs), "tick", s.options.Tick.String())
	s.RunDue(ctx)

	ticker := time.NewTicker(s.options.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// Stop 停止调度并等待当前任务结束
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue 执行所有到期任务，返回本轮执行的任务名
func (s *Scheduler) RunDue(ctx context.Context) []string {
	now := s.clock().UTC()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ran []string
	)
	for i := range s.jobs {
		job := s.jobs[i]
		if !s.isDue(ctx, job, now) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.runJob(ctx, job, now) {
				mu.Lock()
				ran = append(ran, job.Name)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ran
}

func (s *Scheduler) isDue(ctx context.Context, job scheduledJob, now time.Time) bool {
	run, err := s.runs.WithContext(ctx).InitIfAbsent(job.Name, now)
	if err != nil {
		logger.Warnw("scheduler_watermark_load_failed", "job", job.Name, "error", err)
		return false
	}
	if run == nil {
		return false
	}
	next := job.schedule.Next(run.LastRunAt.UTC())
	if next.After(now) {
		return false
	}
	s.mu.Lock()
	failedAt, failed := s.failedAt[job.Name]
	s.mu.Unlock()
	if failed && now.Sub(failedAt) < s.options.FailureCooldown {
		return false
	}
	return true
}

// runJob 抢占租约后执行任务，返回是否实际执行
func (s *Scheduler) runJob(ctx context.Context, job scheduledJob, now time.Time) bool {
	runID := uuid.NewString()
	log := logger.ForJob(job.Name, runID)
	lockKey := "scheduler:lock:" + job.Name
	acquired, err := cache.AcquireLock(ctx, lockKey, runID, s.options.LockTTL)
	if err != nil {
		log.Warnw("scheduler_lock_failed", "error", err)
		return false
	}
	if !acquired {
		log.Debugw("scheduler_lock_held_elsewhere")
		return false
	}
	defer func() {
		if err := cache.ReleaseLock(context.Background(), lockKey, runID); err != nil {
			log.Warnw("scheduler_lock_release_failed", "error", err)
		}
	}()

	started := s.clock()
	log.Infow("scheduler_job_started")
	runErr := s.invoke(ctx, job, log)
	duration := s.clock().Sub(started)

	repo := s.runs.WithContext(context.Background())
	if runErr != nil {
		message := truncateRunes(runErr.Error(), maxJobErrorLength)
		s.mu.Lock()
		s.failedAt[job.Name] = now
		s.mu.Unlock()
		if err := repo.RecordFailure(job.Name, s.clock(), duration, message); err != nil {
			log.Errorw("scheduler_record_failure_failed", "error", err)
		}
		log.Errorw("scheduler_job_failed", "duration_ms", duration.Milliseconds(), "error", runErr)
		return true
	}

	s.mu.Lock()
	delete(s.failedAt, job.Name)
	s.mu.Unlock()
	if err := repo.RecordSuccess(job.Name, now, duration); err != nil {
		log.Errorw("scheduler_record_success_failed", "error", err)
	}
	log.Infow("scheduler_job_finished", "duration_ms", duration.Milliseconds())
	return true
}

func (s *Scheduler) invoke(ctx context.Context, job scheduledJob, log *zap.SugaredLogger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job.Run(ctx, log)
}

// truncateRunes 按字符截断，避免切断多字节字符
func truncateRunes(message string, limit int) string {
	if utf8.RuneCountInString(message) <= limit {
		return message
	}
	return string([]rune(message)[:limit])
}
