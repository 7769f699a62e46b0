package repository

import (
	"context"
	"errors"
	"time"

	"github.com/freight-next/internal/constants"
	"github.com/freight-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRunRepository 定时任务水位线访问接口
type JobRunRepository interface {
	WithContext(ctx context.Context) JobRunRepository
	Get(jobName string) (*models.JobRun, error)
	// InitIfAbsent 首次登记任务，水位线取 at；已存在时保持不变
	InitIfAbsent(jobName string, at time.Time) (*models.JobRun, error)
	RecordSuccess(jobName string, ranAt time.Time, duration time.Duration) error
	RecordFailure(jobName string, failedAt time.Time, duration time.Duration, cause string) error
}

// GormJobRunRepository GORM 实现
type GormJobRunRepository struct {
	db *gorm.DB
}

// NewJobRunRepository 创建仓库
func NewJobRunRepository(db *gorm.DB) *GormJobRunRepository {
	return &GormJobRunRepository{db: db}
}

// WithContext 绑定上下文
func (r *GormJobRunRepository) WithContext(ctx context.Context) JobRunRepository {
	if ctx == nil {
		return r
	}
	return &GormJobRunRepository{db: r.db.WithContext(ctx)}
}

// Get 获取任务水位线
func (r *GormJobRunRepository) Get(jobName string) (*models.JobRun, error) {
	var run models.JobRun
	if err := r.db.Where("job_name = ?", jobName).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// InitIfAbsent 首次登记任务
func (r *GormJobRunRepository) InitIfAbsent(jobName string, at time.Time) (*models.JobRun, error) {
	row := &models.JobRun{
		JobName:   jobName,
		LastRunAt: at.UTC(),
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_name"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return nil, err
	}
	return r.Get(jobName)
}

// RecordSuccess 推进水位线
func (r *GormJobRunRepository) RecordSuccess(jobName string, ranAt time.Time, duration time.Duration) error {
	row := &models.JobRun{
		JobName:        jobName,
		LastRunAt:      ranAt.UTC(),
		LastStatus:     constants.JobRunStatusSuccess,
		LastDurationMs: duration.Milliseconds(),
		RunCount:       1,
		CreatedAt:      ranAt,
		UpdatedAt:      ranAt,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_run_at":      ranAt.UTC(),
			"last_status":      constants.JobRunStatusSuccess,
			"last_error":       "",
			"last_duration_ms": duration.Milliseconds(),
			"run_count":        gorm.Expr("job_runs.run_count + 1"),
			"updated_at":       ranAt,
		}),
	}).Create(row).Error
}

// RecordFailure 记录失败，不推进水位线
func (r *GormJobRunRepository) RecordFailure(jobName string, failedAt time.Time, duration time.Duration, cause string) error {
	return r.db.Model(&models.JobRun{}).Where("job_name = ?", jobName).Updates(map[string]interface{}{
		"last_status":      constants.JobRunStatusFailed,
		"last_error":       cause,
		"last_duration_ms": duration.Milliseconds(),
		"updated_at":       failedAt,
	}).Error
}
