package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/observability"
)

type widget struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{DriverMySQL, DriverPostgres, DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			d, err := Dialector(Config{Driver: driver, DSN: "x"})
			require.NoError(t, err)
			assert.NotNil(t, d)
		})
	}

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Dialector(Config{Driver: "oracle"})
		assert.ErrorIs(t, err, ErrUnsupportedDriver)
	})
}

func TestOpenSQLite(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLogger(observability.InfoLevel, &buf)

	cfg := DefaultConfig()
	cfg.DSN = ":memory:"
	cfg.MaxOpenConns = 1
	cfg.Tracing = true

	db, err := Open(context.Background(), cfg, log)
	require.NoError(t, err)
	defer Close(db)

	require.NoError(t, Migrate(db, &widget{}))
	require.NoError(t, db.Create(&widget{ID: "w1", Name: "first"}).Error)

	var got widget
	require.NoError(t, db.First(&got, "id = ?", "w1").Error)
	assert.Equal(t, "first", got.Name)
	assert.Contains(t, buf.String(), "connected to database")

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	assert.NoError(t, RecordPoolStats(db, metrics))
}

func TestNewRedisClient(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), DB: -1})
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()).Err())
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewRedisClient(context.Background(), RedisConfig{URL: "not a url"})
		assert.Error(t, err)
	})

	assert.False(t, RedisConfig{}.Enabled())
}
