package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mapato/taxcore/internal/clock"
	filingdomain "github.com/mapato/taxcore/internal/filing/domain"
	obsmetrics "github.com/mapato/taxcore/internal/observability/metrics"
	"go.uber.org/zap"
)

type fakeFilingService struct {
	filingdomain.Service

	overdueCalls  int
	overdueBatch  int
	overdueErr    error
	syncCalls     int
	syncBatch     int
	syncProcessed int
}

func (f *fakeFilingService) MarkOverdue(ctx context.Context, batchSize int) (int, error) {
	f.overdueCalls++
	f.overdueBatch = batchSize
	if f.overdueErr != nil {
		return 0, f.overdueErr
	}
	return 1, nil
}

func (f *fakeFilingService) SyncPendingBatch(ctx context.Context, batchSize int) (int, error) {
	f.syncCalls++
	f.syncBatch = batchSize
	return f.syncProcessed, nil
}

func newTestScheduler(t *testing.T, svc filingdomain.Service, cfg Config) *Scheduler {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	sched, err := New(Params{
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)),
		FilingSvc: svc,
		Config:    cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func TestRunOnceDrivesBothJobs(t *testing.T) {
	fake := &fakeFilingService{syncProcessed: 2}
	sched := newTestScheduler(t, fake, Config{BatchSize: 25})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if fake.overdueCalls != 1 || fake.syncCalls != 1 {
		t.Fatalf("expected one call each, got overdue=%d sync=%d", fake.overdueCalls, fake.syncCalls)
	}
	if fake.overdueBatch != 25 || fake.syncBatch != 25 {
		t.Fatalf("expected batch size 25, got overdue=%d sync=%d", fake.overdueBatch, fake.syncBatch)
	}
}

func TestRunOnceContinuesPastJobError(t *testing.T) {
	fake := &fakeFilingService{overdueErr: errors.New("db down")}
	sched := newTestScheduler(t, fake, Config{})

	err := sched.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if fake.syncCalls != 1 {
		t.Fatalf("sync job must still run, got %d calls", fake.syncCalls)
	}
}

func TestDisabledJobSkipped(t *testing.T) {
	fake := &fakeFilingService{}
	sched := newTestScheduler(t, fake, Config{DisabledJobs: []string{"mark_overdue"}})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if fake.overdueCalls != 0 {
		t.Fatalf("expected mark_overdue skipped, got %d calls", fake.overdueCalls)
	}
	if fake.syncCalls != 1 {
		t.Fatalf("expected sync_pending to run, got %d calls", fake.syncCalls)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.RunInterval != time.Minute {
		t.Fatalf("unexpected run interval %v", cfg.RunInterval)
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("unexpected batch size %d", cfg.BatchSize)
	}
	if cfg.JobTimeout != 30*time.Second {
		t.Fatalf("unexpected job timeout %v", cfg.JobTimeout)
	}
}

var _ filingdomain.Service = (*fakeFilingService)(nil)
