package authaudit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/observability"
)

func seedAged(t *testing.T, svc *Service) {
	t.Helper()
	logAll(t, svc,
		at(LoginSucceeded("u1", "alice"), now.Add(-400*24*time.Hour)),
		at(LoginSucceeded("u1", "alice"), now.Add(-181*24*time.Hour)),
		at(LoginSucceeded("u1", "alice"), now.Add(-24*time.Hour)),
	)
}

func count(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&Entry{}).Count(&n).Error)
	return n
}

func clockScope(db *gorm.DB) ScopeFunc {
	return DBScope(db, WithClock(func() time.Time { return now }))
}

func TestRetentionWorker_RunOnce(t *testing.T) {
	db, svc := setupService(t)
	seedAged(t, svc)

	w, err := NewRetentionWorker(clockScope(db), WorkerConfig{})
	require.NoError(t, err)
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int64(1), count(t, db))
}

func TestRetentionWorker_CustomDays(t *testing.T) {
	db, svc := setupService(t)
	seedAged(t, svc)

	w, err := NewRetentionWorker(clockScope(db), WorkerConfig{Days: 365})
	require.NoError(t, err)
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int64(2), count(t, db))
}

func TestNewRetentionWorker_Invalid(t *testing.T) {
	_, err := NewRetentionWorker(nil, WorkerConfig{Days: -1})
	assert.Error(t, err)

	_, err = NewRetentionWorker(nil, WorkerConfig{Schedule: "every now and then"})
	assert.Error(t, err)
}

func TestRetentionWorker_FailureDoesNotStopLater(t *testing.T) {
	db, svc := setupService(t)
	seedAged(t, svc)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var calls, released atomic.Int32
	scope := func(ctx context.Context) (*Service, func(), error) {
		switch calls.Add(1) {
		case 1:
			return nil, nil, errors.New("pool exhausted")
		case 2:
			panic("scope blew up")
		}
		s, release, err := clockScope(db)(ctx)
		return s, func() {
			released.Add(1)
			release()
		}, err
	}

	w, err := NewRetentionWorker(scope, WorkerConfig{Metrics: metrics})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, w.RunOnce(ctx))
	assert.Error(t, w.RunOnce(ctx))
	require.NoError(t, w.RunOnce(ctx))

	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, int64(1), count(t, db))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues("auth_audit_retention", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MaintenanceRunsTotal.WithLabelValues("auth_audit_retention", "success")))
}

func TestRetentionWorker_StartStop(t *testing.T) {
	db, _ := setupService(t)

	w, err := NewRetentionWorker(clockScope(db), WorkerConfig{})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), async.ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestRetentionWorker_SkipsWhenLockHeld(t *testing.T) {
	db, svc := setupService(t)
	seedAged(t, svc)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	w, err := NewRetentionWorker(clockScope(db), WorkerConfig{
		Locker:  async.NewRedisLocker(rdb),
		LockKey: "tally:auth-audit-retention",
		LockTTL: time.Minute,
	})
	require.NoError(t, err)

	ctx := context.Background()
	held, err := redislock.New(rdb).Obtain(ctx, "tally:auth-audit-retention", time.Minute, nil)
	require.NoError(t, err)

	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, int64(3), count(t, db), "run skipped while another replica holds the lock")

	require.NoError(t, held.Release(ctx))
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, int64(1), count(t, db))
}
