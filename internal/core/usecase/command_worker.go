package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// CommandRunner executes one inbound command.
type CommandRunner interface {
	Execute(ctx context.Context, cmd domain.InboundCommand) (Execution, error)
}

type WorkerOptions struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Policy      RetryPolicy
	// LockTTL bounds how long a scope lock outlives a crashed worker.
	LockTTL time.Duration
}

// CommandWorker drains the job queue on a ticker and retries failed jobs
// according to its RetryPolicy.
type CommandWorker struct {
	jobs    ports.JobQueue
	runner  CommandRunner
	locker  ports.ScopeLocker
	opts    WorkerOptions
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	doneTotal  atomic.Int64
	retryTotal atomic.Int64
	deadTotal  atomic.Int64
}

type WorkerStats struct {
	DoneTotal  int64
	RetryTotal int64
	DeadTotal  int64
}

// NewCommandWorker builds a worker. locker may be nil.
func NewCommandWorker(jobs ports.JobQueue, runner CommandRunner, locker ports.ScopeLocker, opts WorkerOptions, metrics *Metrics, log zerolog.Logger) *CommandWorker {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &CommandWorker{
		jobs:    jobs,
		runner:  runner,
		locker:  locker,
		opts:    opts,
		metrics: metrics,
		log:     log.With().Str("component", "command_worker").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (w *CommandWorker) Start(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *CommandWorker) Close() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *CommandWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("job batch failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce handles every job due now, up to BatchSize, with at most
// Concurrency jobs in flight.
func (w *CommandWorker) RunOnce(ctx context.Context) error {
	jobs, err := w.jobs.FetchDue(ctx, w.now(), w.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch due jobs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			return w.handle(ctx, job)
		})
	}
	return g.Wait()
}

func (w *CommandWorker) handle(ctx context.Context, job domain.CommandJob) error {
	log := w.log.With().Int64("job_id", job.ID).Str("command_id", job.CommandID).Logger()

	cmd, err := job.Command()
	if err != nil {
		return w.dead(ctx, log, job, job.Attempts+1, fmt.Errorf("%w: decode job payload: %v", domain.ErrInvalidArgument, err))
	}

	release := w.lockScope(ctx, log, cmd)
	_, runErr := w.runner.Execute(ctx, cmd)
	release()

	if runErr == nil {
		if err := w.jobs.MarkDone(ctx, job.ID); err != nil {
			return err
		}
		w.doneTotal.Add(1)
		w.metrics.observeJob(JobOutcomeDone)
		return nil
	}

	attempts := job.Attempts + 1
	if domain.IsPermanent(runErr) {
		return w.dead(ctx, log, job, attempts, runErr)
	}
	delay, ok := w.opts.Policy.Next(attempts)
	if !ok {
		return w.dead(ctx, log, job, attempts, runErr)
	}

	next := w.now().Add(delay)
	if err := w.jobs.MarkRetry(ctx, job.ID, attempts, next, runErr.Error()); err != nil {
		return err
	}
	log.Warn().Err(runErr).Int("attempts", attempts).Time("next_attempt_at", next).Msg("command job will retry")
	w.retryTotal.Add(1)
	w.metrics.observeJob(JobOutcomeRetry)
	return nil
}

func (w *CommandWorker) dead(ctx context.Context, log zerolog.Logger, job domain.CommandJob, attempts int, cause error) error {
	if err := w.jobs.MarkDead(ctx, job.ID, attempts, cause.Error()); err != nil {
		return err
	}
	log.Error().Err(cause).Int("attempts", attempts).Msg("command job permanently failed")
	w.deadTotal.Add(1)
	w.metrics.observeJob(JobOutcomeDead)
	return nil
}

// lockScope takes the per-scope lock when a locker is configured. Failing to
// get it is not fatal; the ledger claim still guards execution.
func (w *CommandWorker) lockScope(ctx context.Context, log zerolog.Logger, cmd domain.InboundCommand) func() {
	if w.locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("commands:%s:%s", cmd.Type, cmd.ScopeKey)
	release, err := w.locker.Obtain(ctx, key, w.opts.LockTTL)
	if err != nil {
		if errors.Is(err, ports.ErrLockNotObtained) {
			log.Debug().Str("lock_key", key).Msg("scope busy, proceeding without lock")
		} else {
			log.Warn().Err(err).Str("lock_key", key).Msg("scope lock unavailable, proceeding without lock")
		}
		return func() {}
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Debug().Err(err).Str("lock_key", key).Msg("release scope lock")
		}
	}
}

func (w *CommandWorker) Stats() WorkerStats {
	return WorkerStats{
		DoneTotal:  w.doneTotal.Load(),
		RetryTotal: w.retryTotal.Load(),
		DeadTotal:  w.deadTotal.Load(),
	}
}
