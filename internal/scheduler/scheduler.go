package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	auditdomain "github.com/mapato/taxcore/internal/audit/domain"
	"github.com/mapato/taxcore/internal/clock"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	obscontext "github.com/mapato/taxcore/internal/observability/context"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	FilingSvc filingdomain.Service
	Config    Config `optional:"true"`
}

// Scheduler drives the time-based filing jobs: flagging overdue filings
// and reconciling submissions the authority never confirmed.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	filingSvc filingdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.FilingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		filingSvc: p.FilingSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeScheduler, "scheduler")

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	processed, err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start).Seconds())
	schedMetrics.AddBatchProcessed(name, processed)

	if err == nil {
		if processed > 0 {
			s.log.Info("job processed batch",
				zap.String("job", name),
				zap.Int("processed", processed),
			)
		}
		return nil
	}

	schedMetrics.IncJobError(name, obsmetrics.ClassifySchedulerError(err))

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.log.Warn("job failed",
		zap.String("job", name),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"mark_overdue", func(ctx context.Context) error {
			return s.runJob(ctx, "mark_overdue", s.cfg.JobTimeout, s.MarkOverdueJob)
		}},
		{"sync_pending", func(ctx context.Context) error {
			return s.runJob(ctx, "sync_pending", s.cfg.JobTimeout, s.SyncPendingJob)
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, job.Run(parent))
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

func (s *Scheduler) isJobEnabled(jobName string) bool {
	for _, disabled := range s.cfg.DisabledJobs {
		if disabled == jobName {
			return false
		}
	}
	return true
}

// MarkOverdueJob flags accepted filings whose statutory due date has
// passed.
func (s *Scheduler) MarkOverdueJob(ctx context.Context) (int, error) {
	return s.filingSvc.MarkOverdue(ctx, s.cfg.BatchSize)
}

// SyncPendingJob re-drives filings whose submission outcome at the
// authority is still unknown.
func (s *Scheduler) SyncPendingJob(ctx context.Context) (int, error) {
	return s.filingSvc.SyncPendingBatch(ctx, s.cfg.BatchSize)
}
