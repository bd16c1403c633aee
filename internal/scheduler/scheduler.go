// Package scheduler drives the background jobs that keep mediation
// state current: rollup folding, cycle rollover and webhook delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/airgate-io/airgate/internal/clock"
	obsmetrics "github.com/airgate-io/airgate/internal/observability/metrics"
	"github.com/airgate-io/airgate/internal/ratelimit"
	rollupdomain "github.com/airgate-io/airgate/internal/rollup/domain"
	"github.com/airgate-io/airgate/internal/scheduler/guard"
	usagedomain "github.com/airgate-io/airgate/internal/usage/domain"
	webhookdomain "github.com/airgate-io/airgate/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const (
	JobRollupPending = "rollup_pending"
	JobCycleRollover = "cycle_rollover"
	JobWebhookFanout = "webhook_fanout"
	JobWebhookSend   = "webhook_deliver"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	RollupSvc rollupdomain.Service
	Publisher webhookdomain.Publisher
	Limiter   *ratelimit.IngestLimiter `optional:"true"`
	Config    Config                   `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	rollupSvc rollupdomain.Service
	publisher webhookdomain.Publisher
	limiter   *ratelimit.IngestLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.RollupSvc == nil || p.Publisher == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		rollupSvc: p.RollupSvc,
		publisher: p.Publisher,
		limiter:   p.Limiter,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{JobRollupPending, s.rollupPendingJob},
		{JobCycleRollover, s.cycleRolloverJob},
		{JobWebhookFanout, s.webhookFanoutJob},
		{JobWebhookSend, s.webhookDeliverJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	// Only one instance runs a job at a time when redis is wired.
	token, acquired, err := s.lockJob(ctx, name)
	if err != nil {
		s.log.Warn("job lock failed, running anyway",
			zap.String("job", name), zap.Error(err))
	} else if !acquired {
		s.log.Debug("job locked by another instance", zap.String("job", name))
		return nil
	}
	if token != "" {
		defer func() {
			if err := s.unlockJob(context.WithoutCancel(ctx), name, token); err != nil {
				s.log.Warn("job unlock failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	run := s.startJobRun(ctx, name)
	processed, jobErr := fn(ctx)
	obsmetrics.Scheduler().ObserveJobRun(name, time.Since(start), jobErr)
	if processed > 0 {
		obsmetrics.Scheduler().ObserveBatchProcessed(name, processed)
	}

	isTimeout := errors.Is(jobErr, context.DeadlineExceeded) || errors.Is(jobErr, context.Canceled)
	switch {
	case jobErr == nil:
		s.finishJobRun(ctx, run, jobOutcomeOK, processed, nil)
		return nil
	case isTimeout:
		s.finishJobRun(context.WithoutCancel(ctx), run, jobOutcomeTimeout, processed, jobErr)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout))
		return nil
	default:
		s.finishJobRun(ctx, run, jobOutcomeError, processed, jobErr)
		return fmt.Errorf("%s: %w", name, jobErr)
	}
}

func (s *Scheduler) rollupPendingJob(ctx context.Context) (int, error) {
	total := 0
	for {
		folded, err := s.rollupSvc.ProcessPending(ctx)
		if err != nil {
			return total, err
		}
		total += folded
		if folded == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// cycleRolloverJob closes accumulator cycles whose window has elapsed.
// A closed cycle keeps accepting late records but is ready to export.
func (s *Scheduler) cycleRolloverJob(ctx context.Context) (int, error) {
	now := s.clock.Now()

	var cycles []*usagedomain.UsageCycle
	err := s.db.WithContext(ctx).
		Where("closed = ? AND ends_at <= ?", false, now).
		Order("id asc").
		Limit(200).
		Find(&cycles).Error
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, cycle := range cycles {
		if err := guard.EnsureCycleCanClose(cycle.Closed, cycle.EndsAt, now); err != nil {
			continue
		}
		err := s.db.WithContext(ctx).Model(&usagedomain.UsageCycle{}).
			Where("id = ? AND closed = ?", cycle.ID, false).
			Updates(map[string]any{"closed": true, "updated_at": now}).Error
		if err != nil {
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		s.log.Info("closed elapsed usage cycles", zap.Int("count", closed))
	}
	return closed, nil
}

func (s *Scheduler) webhookFanoutJob(ctx context.Context) (int, error) {
	return s.publisher.Fanout(ctx)
}

func (s *Scheduler) webhookDeliverJob(ctx context.Context) (int, error) {
	return s.publisher.DispatchDue(ctx)
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) lockJob(ctx context.Context, name string) (string, bool, error) {
	if s.limiter == nil {
		return "", true, nil
	}
	return s.limiter.TryJobLock(ctx, name, s.cfg.LockTTL)
}

func (s *Scheduler) unlockJob(ctx context.Context, name, token string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.ReleaseJobLock(ctx, name, token)
}
