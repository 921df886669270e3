package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tally/pkg/observability"
)

// ErrAlreadyStarted is returned by Start on a running Periodic.
var ErrAlreadyStarted = errors.New("periodic job already started")

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Interval is a fixed-delay schedule. Unlike cron.Every it keeps
// sub-second precision.
type Interval time.Duration

// Next implements cron.Schedule.
func (i Interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// ParseSchedule accepts standard five-field cron specs and descriptors such
// as "@daily" or "@every 24h".
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Option configures a Periodic.
type Option func(*Periodic)

// WithTimeout bounds each run.
func WithTimeout(d time.Duration) Option {
	return func(p *Periodic) { p.timeout = d }
}

// WithLocker makes each run obtain a named lock first; a run whose lock is
// held elsewhere is skipped.
func WithLocker(locker Locker, key string, ttl time.Duration) Option {
	return func(p *Periodic) {
		p.locker = locker
		p.lockKey = key
		p.lockTTL = ttl
	}
}

// WithRunOnStart runs the job once immediately when the loop starts.
func WithRunOnStart() Option {
	return func(p *Periodic) { p.runOnStart = true }
}

// WithLogger sets the logger.
func WithLogger(logger *observability.Logger) Option {
	return func(p *Periodic) { p.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Periodic) { p.metrics = metrics }
}

// Periodic runs a Job on a schedule until stopped. A failing or panicking
// run is logged and the loop waits for the next tick.
type Periodic struct {
	name       string
	schedule   cron.Schedule
	job        Job
	timeout    time.Duration
	locker     Locker
	lockKey    string
	lockTTL    time.Duration
	runOnStart bool
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodic creates a stopped Periodic.
func NewPeriodic(name string, schedule cron.Schedule, job Job, opts ...Option) *Periodic {
	p := &Periodic{
		name:     name,
		schedule: schedule,
		job:      job,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = observability.Discard()
	}
	p.logger = p.logger.WithField("job", name)
	if p.lockKey == "" {
		p.lockKey = name
	}
	return p
}

// Name returns the job name.
func (p *Periodic) Name() string {
	return p.name
}

// Start launches the loop in the background. The loop ends when ctx is
// canceled or Stop is called.
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(loopCtx, p.done)
	p.logger.Info("periodic job started")
	return nil
}

// Stop cancels the loop and waits for it to exit or for ctx to expire,
// whichever comes first. An in-flight run is signalled through its context
// but never waited on.
func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		p.logger.Info("periodic job stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping %s: %w", p.name, ctx.Err())
	}
}

// Run starts the loop and blocks until ctx is canceled.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

func (p *Periodic) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if p.runOnStart {
		if !p.tick(ctx) {
			return
		}
	}

	for {
		next := p.schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !p.tick(ctx) {
			return
		}
	}
}

// tick runs the job on its own goroutine and returns false when the loop
// was canceled before the run finished.
func (p *Periodic) tick(ctx context.Context) bool {
	result := make(chan error, 1)
	go func() {
		result <- p.RunOnce(ctx)
	}()

	select {
	case <-result:
		return true
	case <-ctx.Done():
		p.logger.Warn("loop canceled while a run was in flight")
		return false
	}
}

// RunOnce executes a single run synchronously: lock, timeout, panic
// recovery, logging and metrics included.
func (p *Periodic) RunOnce(ctx context.Context) (err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.locker != nil {
		lock, lockErr := p.locker.Obtain(ctx, p.lockKey, p.lockTTL)
		if errors.Is(lockErr, ErrLockHeld) {
			p.logger.Debug("lock held by another runner, skipping run")
			p.metrics.RecordMaintenanceSkipped(p.name)
			return nil
		}
		if lockErr != nil {
			p.logger.WithError(lockErr).Error("failed to obtain job lock")
			p.metrics.RecordMaintenanceRun(p.name, lockErr, 0)
			return fmt.Errorf("obtaining lock for %s: %w", p.name, lockErr)
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				p.logger.WithError(releaseErr).Warn("failed to release job lock")
			}
		}()
	}

	start := p.now()
	err = p.safeRun(ctx)
	elapsed := p.now().Sub(start)

	p.metrics.RecordMaintenanceRun(p.name, err, elapsed)
	if err != nil {
		p.logger.WithError(err).WithField("duration_ms", elapsed.Milliseconds()).Error("periodic run failed")
		return err
	}
	p.logger.WithField("duration_ms", elapsed.Milliseconds()).Debug("periodic run complete")
	return nil
}

func (p *Periodic) safeRun(ctx context.Context) (err error) {
	defer observability.RecoverPanicWithCallback(p.logger, p.name, func(panicErr error) {
		err = panicErr
	})
	return p.job(ctx)
}
