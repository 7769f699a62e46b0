package repository

import (
	"testing"
	"time"

	"github.com/freight-next/internal/constants"
)

func TestJobRunRepositoryWatermark(t *testing.T) {
	db := setupRepositoryTestDB(t, "job_run_repo")
	repo := NewJobRunRepository(db)
	first := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	run, err := repo.InitIfAbsent(constants.JobSettlement, first)
	if err != nil || run == nil {
		t.Fatalf("init watermark failed: %v", err)
	}
	run, err = repo.InitIfAbsent(constants.JobSettlement, first.Add(time.Hour))
	if err != nil {
		t.Fatalf("re-init watermark failed: %v", err)
	}
	if !run.LastRunAt.Equal(first) {
		t.Fatalf("watermark should keep first value, got %s", run.LastRunAt)
	}

	if err := repo.RecordFailure(constants.JobSettlement, first.Add(2*time.Hour), time.Second, "boom"); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}
	run, _ = repo.Get(constants.JobSettlement)
	if !run.LastRunAt.Equal(first) || run.LastStatus != constants.JobRunStatusFailed || run.LastError != "boom" {
		t.Fatalf("failure must not advance watermark: %+v", run)
	}

	ranAt := first.Add(3 * time.Hour)
	if err := repo.RecordSuccess(constants.JobSettlement, ranAt, 2*time.Second); err != nil {
		t.Fatalf("record success failed: %v", err)
	}
	if err := repo.RecordSuccess(constants.JobSettlement, ranAt.Add(time.Hour), time.Second); err != nil {
		t.Fatalf("record success failed: %v", err)
	}
	run, _ = repo.Get(constants.JobSettlement)
	if !run.LastRunAt.Equal(ranAt.Add(time.Hour)) || run.RunCount != 2 || run.LastError != "" {
		t.Fatalf("unexpected watermark after success: %+v", run)
	}
}
