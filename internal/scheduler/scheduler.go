package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cycleJobName = "loan-cycle"

// Cycler runs accrual and default evaluation for every active loan.
type Cycler interface {
	RunCycle(ctx context.Context, asOf time.Time) error
}

// Scheduler ticks the loan cycle on a fixed interval. A tick that overruns
// the interval is rescheduled rather than run concurrently.
type Scheduler struct {
	sched    gocron.Scheduler
	cycler   Cycler
	interval time.Duration
	now      func() time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(cycler Cycler, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive, got %s", interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{
		sched:    sched,
		cycler:   cycler,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the cycle job, runs it once immediately and starts ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runCycle, ctx),
		gocron.WithName(cycleJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(jobID uuid.UUID, jobName string, err error) {
				zap.L().Error("Scheduled job failed",
					zap.String("job", jobName),
					zap.String("job_id", jobID.String()),
					zap.Error(err))
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", cycleJobName, err)
	}

	s.sched.Start()
	zap.L().Info("Loan cycle scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	asOf := s.now()
	start := time.Now()
	if err := s.cycler.RunCycle(ctx, asOf); err != nil {
		return fmt.Errorf("loan cycle as of %s: %w", asOf.Format(time.RFC3339), err)
	}
	zap.L().Debug("Loan cycle finished",
		zap.Time("as_of", asOf),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Shutdown stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	zap.L().Info("Loan cycle scheduler stopped")
	return nil
}
