package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditline/internal/cache"
	"github.com/smallbiznis/creditline/internal/clock"
	"github.com/smallbiznis/creditline/internal/config"
	creditdomain "github.com/smallbiznis/creditline/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/creditline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobYearlyAllocation = "yearly_allocation"
	lockKeyPrefix       = "creditline:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Credits creditdomain.Service
	Config  *config.CreditsConfigHolder
	Clock   clock.Clock                  `optional:"true"`
	Locker  *cache.Locker                `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	genID   *snowflake.Node
	credits creditdomain.Service
	cfg     *config.CreditsConfigHolder
	clock   clock.Clock
	locker  *cache.Locker
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Credits == nil || p.Config == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:   p.GenID,
		credits: p.Credits,
		cfg:     p.Config,
		clock:   clk,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	token, acquired, err := s.locker.TryLock(ctx, lockKeyPrefix+name, timeout)
	if err != nil {
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.log.Debug("job held by another replica", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKeyPrefix+name, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, run := s.startJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err = fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		// remaining users are picked up by the next run
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.cfg.Get().Scheduler
	if !cfg.Enabled {
		return nil
	}
	return s.runJob(parent, jobYearlyAllocation, cfg.BatchSize, cfg.Interval, s.YearlyAllocationJob)
}

// RunForever runs every configured interval until ctx is done. The interval
// is reread after each run so credits.yml reloads take effect.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.cfg.Get().Scheduler.Interval
	nextRun := s.clock.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval = s.cfg.Get().Scheduler.Interval
		nextRun = s.clock.Now().Add(interval)
		timer.Reset(interval)
	}
}

// YearlyAllocationJob pages through balances with a yearly allocation and
// advances every one that is due. A failing user does not stop the scan.
func (s *Scheduler) YearlyAllocationJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	batchSize := s.cfg.Get().Scheduler.BatchSize
	now := s.clock.Now()

	var jobErr error
	cursor := ""
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		due, err := s.credits.ListDueYearlyAllocations(ctx, cursor, batchSize, now)
		if err != nil {
			return errors.Join(jobErr, err)
		}

		advanced := 0
		for _, userID := range due.UserIDs {
			res, err := s.credits.AdvanceYearlyAllocation(ctx, userID, now)
			if err != nil {
				s.logJobError(ctx, run, "yearly allocation failed", userID, err)
				jobErr = errors.Join(jobErr, fmt.Errorf("user %s: %w", userID, err))
				continue
			}
			if res.Advanced {
				advanced++
				s.logAllocationAdvanced(ctx, userID, res.Balance)
			}
		}
		run.AddProcessed(advanced)
		s.metrics.AddBatchProcessed(jobYearlyAllocation, "usage_balances", advanced)

		if due.NextCursor == "" {
			break
		}
		cursor = due.NextCursor
	}
	return jobErr
}
