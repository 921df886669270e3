package authaudit

import (
	"context"
	"errors"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage/storagetest"
)

var now = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T, opts ...Option) (*gorm.DB, *Service) {
	t.Helper()
	db := storagetest.New(t, &Entry{})
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return db, NewService(db, opts...)
}

func logAll(t *testing.T, svc *Service, entries ...*Entry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, svc.Log(context.Background(), e))
	}
}

func at(e *Entry, ts time.Time) *Entry {
	e.Timestamp = ts
	return e
}

func TestService_LogDefaults(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	_, svc := setupService(t, WithMetrics(metrics))
	ctx := context.Background()

	e := LoginFailed("", "mallory", "bad password")
	require.NoError(t, svc.Log(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, now, e.Timestamp)
	assert.Nil(t, e.UserID)

	got, err := svc.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventLoginFailed, got[0].EventType)
	assert.False(t, got[0].Success)
	assert.Equal(t, "bad password", *got[0].FailureReason)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthAuditEntriesTotal.WithLabelValues("LoginFailed", "false")))

	assert.ErrorIs(t, svc.Log(ctx, &Entry{}), ErrInvalidEntry)
}

func TestService_LogKeepsExplicitValues(t *testing.T) {
	_, svc := setupService(t)
	ts := time.Date(2024, 8, 1, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	e := &Entry{ID: "fixed-id", EventType: EventLogout, Timestamp: ts, Success: true}
	require.NoError(t, svc.Log(context.Background(), e))
	assert.Equal(t, "fixed-id", e.ID)
	assert.True(t, ts.Equal(e.Timestamp))
	assert.Equal(t, time.UTC, e.Timestamp.Location())
}

func TestService_GetMyAuditLog(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()

	logAll(t, svc,
		at(LoginSucceeded("u1", "alice"), now.Add(-3*time.Hour)),
		at(LoginSucceeded("u1", "alice"), now.Add(-time.Hour)),
		at(LoginSucceeded("u2", "bob"), now.Add(-30*time.Minute)),
		at(&Entry{EventType: EventLogout, UserID: optional("u1"), Success: true}, now),
	)

	got, err := svc.GetMyAuditLog(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, now, got[0].Timestamp.UTC())
	assert.Equal(t, EventLogout, got[0].EventType)
	assert.Equal(t, now.Add(-time.Hour), got[1].Timestamp.UTC())

	none, err := svc.GetMyAuditLog(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_GetFailedAttempts(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()

	logAll(t, svc,
		at(LoginSucceeded("u1", "alice"), now.Add(-3*time.Hour)),
		at(LoginFailed("u1", "alice", "bad password"), now.Add(-2*time.Hour)),
		at(APIKeyUsed("k1", false), now.Add(-time.Hour)),
		at(APIKeyUsed("k1", true), now),
	)

	failed, err := svc.GetFailedAttempts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, EventAPIKeyUsed, failed[0].EventType)
	assert.Equal(t, EventLoginFailed, failed[1].EventType)

	byKey, err := svc.GetByAPIKey(ctx, "k1", 10)
	require.NoError(t, err)
	require.Len(t, byKey, 2)
	assert.True(t, byKey[0].Success)
}

func TestService_CountFailedSince(t *testing.T) {
	_, svc := setupService(t)
	ctx := context.Background()

	logAll(t, svc,
		at(LoginFailed("", "alice", "bad password"), now.Add(-2*time.Hour)),
		at(LoginFailed("", "alice", "bad password"), now.Add(-10*time.Minute)),
		at(LoginFailed("", "alice", "bad password"), now.Add(-time.Minute)),
		at(LoginFailed("", "bob", "bad password"), now.Add(-time.Minute)),
		at(LoginSucceeded("u1", "alice"), now),
	)

	n, err := svc.CountFailedSince(ctx, "alice", now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestService_CleanupOldEntries(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	db, svc := setupService(t, WithMetrics(metrics))
	ctx := context.Background()

	cutoff := now.Add(-180 * 24 * time.Hour)
	logAll(t, svc,
		at(LoginSucceeded("u1", "alice"), cutoff.Add(-24*time.Hour)),
		at(LoginSucceeded("u1", "alice"), cutoff.Add(-time.Second)),
		at(LoginSucceeded("u1", "alice"), cutoff),
		at(LoginSucceeded("u1", "alice"), cutoff.Add(time.Second)),
		at(LoginSucceeded("u1", "alice"), now),
	)

	removed, err := svc.CleanupOldEntries(ctx, 180)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var remaining []Entry
	require.NoError(t, db.Order("timestamp ASC").Find(&remaining).Error)
	require.Len(t, remaining, 3)
	assert.Equal(t, cutoff, remaining[0].Timestamp.UTC())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.AuthAuditPurgedTotal))

	removed, err = svc.CleanupOldEntries(ctx, 180)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = svc.CleanupOldEntries(ctx, 0)
	assert.Error(t, err)
}

func mockService(t *testing.T) (sqlmock.Sqlmock, *Service) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return mock, NewService(db, WithClock(func() time.Time { return now }))
}

func TestService_CleanupOldEntries_SQL(t *testing.T) {
	mock, svc := mockService(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `auth_audit_log_entries` WHERE timestamp < ?")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := svc.CleanupOldEntries(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_CleanupOldEntries_Failure(t *testing.T) {
	mock, svc := mockService(t)
	errReset := errors.New("connection reset")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `auth_audit_log_entries`")).
		WillReturnError(errReset)

	removed, err := svc.CleanupOldEntries(context.Background(), 180)
	assert.ErrorIs(t, err, errReset)
	assert.Zero(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntry_FromRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/login", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.Header.Set("User-Agent", "curl/8.0")

	e := LoginSucceeded("u1", "alice").FromRequest(r)
	assert.Equal(t, "203.0.113.7", *e.IPAddress)
	assert.Equal(t, "curl/8.0", *e.UserAgent)

	r = httptest.NewRequest("POST", "/login", nil)
	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r = httptest.NewRequest("POST", "/login", nil)
	assert.Equal(t, "192.0.2.1:1234", ClientIP(r))
}

func TestEntry_SetMetadata(t *testing.T) {
	e := APIKeyUsed("k1", true)
	require.NoError(t, e.SetMetadata(map[string]string{"scope": "read"}))
	assert.JSONEq(t, `{"scope":"read"}`, *e.MetadataJSON)

	assert.Error(t, e.SetMetadata(func() {}))
}
