package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// JobRun is one recorded execution of a scheduler job.
type JobRun struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	JobName    string       `gorm:"type:text;not null"`
	Outcome    string       `gorm:"type:text;not null;default:''"`
	Error      string       `gorm:"type:text;not null;default:''"`
	Items      int          `gorm:"not null;default:0"`
	StartedAt  time.Time    `gorm:"not null"`
	FinishedAt *time.Time
}

// TableName sets the database table name.
func (JobRun) TableName() string { return "job_runs" }

const (
	jobOutcomeOK      = "ok"
	jobOutcomeError   = "error"
	jobOutcomeTimeout = "timeout"
)

func (s *Scheduler) startJobRun(ctx context.Context, name string) *JobRun {
	run := &JobRun{
		ID:        s.genID.Generate(),
		JobName:   name,
		StartedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		// Job bookkeeping must never stop the job itself.
		s.log.Warn("job run insert failed", zap.Error(err))
		return run
	}
	return run
}

func (s *Scheduler) finishJobRun(ctx context.Context, run *JobRun, outcome string, items int, jobErr error) {
	now := s.clock.Now()
	run.Outcome = outcome
	run.Items = items
	run.FinishedAt = &now
	if jobErr != nil {
		run.Error = jobErr.Error()
	}
	err := s.db.WithContext(ctx).Model(&JobRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"outcome":     run.Outcome,
			"error":       run.Error,
			"items":       run.Items,
			"finished_at": run.FinishedAt,
		}).Error
	if err != nil {
		s.log.Warn("job run update failed", zap.Error(err))
	}
}
