package authaudit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/observability"
)

const (
	// DefaultRetentionDays is how long auth events are kept
	DefaultRetentionDays = 180
	// DefaultSchedule runs retention once a day
	DefaultSchedule = "@every 24h"

	retentionJob = "auth_audit_retention"
)

// ScopeFunc opens a fresh service for one retention run. release is
// called when the run ends.
type ScopeFunc func(ctx context.Context) (svc *Service, release func(), err error)

// DBScope opens a new gorm session over db for every run.
func DBScope(db *gorm.DB, opts ...Option) ScopeFunc {
	return func(ctx context.Context) (*Service, func(), error) {
		return NewService(db.Session(&gorm.Session{NewDB: true}), opts...), func() {}, nil
	}
}

// WorkerConfig configures a RetentionWorker. Zero values take defaults.
type WorkerConfig struct {
	Days     int
	Schedule string
	Timeout  time.Duration

	Locker  async.Locker
	LockKey string
	LockTTL time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// RetentionWorker purges old auth events on a schedule
type RetentionWorker struct {
	scope    ScopeFunc
	days     int
	logger   *observability.Logger
	periodic *async.Periodic
}

// NewRetentionWorker creates a stopped worker.
func NewRetentionWorker(scope ScopeFunc, cfg WorkerConfig) (*RetentionWorker, error) {
	if cfg.Days == 0 {
		cfg.Days = DefaultRetentionDays
	}
	if cfg.Days < 1 {
		return nil, fmt.Errorf("retention must be at least one day, got %d", cfg.Days)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	schedule, err := async.ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Discard()
	}

	w := &RetentionWorker{
		scope:  scope,
		days:   cfg.Days,
		logger: cfg.Logger.WithField("job", retentionJob),
	}

	opts := []async.Option{
		async.WithLogger(cfg.Logger),
		async.WithMetrics(cfg.Metrics),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, async.WithTimeout(cfg.Timeout))
	}
	if cfg.Locker != nil {
		opts = append(opts, async.WithLocker(cfg.Locker, cfg.LockKey, cfg.LockTTL))
	}
	w.periodic = async.NewPeriodic(retentionJob, schedule, w.cleanup, opts...)
	return w, nil
}

// Start launches the background loop
func (w *RetentionWorker) Start(ctx context.Context) error {
	return w.periodic.Start(ctx)
}

// Stop ends the loop without waiting past ctx for an in-flight run
func (w *RetentionWorker) Stop(ctx context.Context) error {
	return w.periodic.Stop(ctx)
}

// Run blocks until ctx is canceled
func (w *RetentionWorker) Run(ctx context.Context) error {
	return w.periodic.Run(ctx)
}

// RunOnce performs a single retention pass
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	return w.periodic.RunOnce(ctx)
}

func (w *RetentionWorker) cleanup(ctx context.Context) error {
	svc, release, err := w.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to open retention scope: %w", err)
	}
	defer release()

	removed, err := svc.CleanupOldEntries(ctx, w.days)
	if err != nil {
		return err
	}
	w.logger.WithFields(map[string]interface{}{
		"removed":        removed,
		"retention_days": w.days,
	}).Info("auth audit retention complete")
	return nil
}
