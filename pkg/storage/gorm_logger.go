package storage

import (
	"time"

	"gorm.io/gorm/logger"

	"github.com/platinummonkey/tally/pkg/observability"
)

// gormWriter routes gorm's printf-style output into the structured logger.
type gormWriter struct {
	log *observability.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.WithField("component", "gorm").Infof(format, args...)
}

// NewGormLogger builds a gorm logger that writes through log.
func NewGormLogger(log *observability.Logger, cfg Config) logger.Interface {
	if log == nil {
		log = observability.Discard()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	return logger.New(gormWriter{log: log}, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormLogLevel(cfg.LogLevel),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
