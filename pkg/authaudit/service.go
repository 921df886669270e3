package authaudit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/observability"
)

// MaxCount caps every count-limited read.
const MaxCount = 1000

// ErrInvalidEntry is returned by Log for entries without an event type.
var ErrInvalidEntry = errors.New("invalid auth audit entry")

// Option configures a Service
type Option func(*Service)

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service records and reads authentication events
type Service struct {
	db      *gorm.DB
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates a database-backed auth audit service
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = observability.Discard()
	}
	return s
}

// Log appends e, filling in ID and Timestamp when they are unset.
func (s *Service) Log(ctx context.Context, e *Entry) error {
	if e.EventType == "" {
		return fmt.Errorf("%w: event type is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to log %s event: %w", e.EventType, err)
	}
	s.metrics.RecordAuthEvent(string(e.EventType), e.Success)
	if !e.Success {
		s.logger.WithFields(map[string]interface{}{
			"event_type": e.EventType,
			"username":   deref(e.Username),
			"ip_address": deref(e.IPAddress),
		}).Info("authentication failure recorded")
	}
	return nil
}

// GetMyAuditLog returns a user's newest count events, newest first.
func (s *Service) GetMyAuditLog(ctx context.Context, userID string, count int) ([]Entry, error) {
	entries, err := s.newest(ctx, count, "user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth audit log for user %s: %w", userID, err)
	}
	return entries, nil
}

// GetRecent returns the newest count events across all users.
func (s *Service) GetRecent(ctx context.Context, count int) ([]Entry, error) {
	entries, err := s.newest(ctx, count, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent auth audit entries: %w", err)
	}
	return entries, nil
}

// GetFailedAttempts returns the newest count unsuccessful events.
func (s *Service) GetFailedAttempts(ctx context.Context, count int) ([]Entry, error) {
	entries, err := s.newest(ctx, count, "success = ?", false)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed auth attempts: %w", err)
	}
	return entries, nil
}

// GetByAPIKey returns the newest count events of one API key.
func (s *Service) GetByAPIKey(ctx context.Context, apiKeyID string, count int) ([]Entry, error) {
	entries, err := s.newest(ctx, count, "api_key_id = ?", apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth audit log for api key %s: %w", apiKeyID, err)
	}
	return entries, nil
}

// CountFailedSince counts unsuccessful events for username at or after since.
func (s *Service) CountFailedSince(ctx context.Context, username string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("username = ? AND success = ? AND timestamp >= ?", username, false, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count failed attempts for %s: %w", username, err)
	}
	return n, nil
}

// CleanupOldEntries deletes events older than retentionDays days and
// returns how many were removed. An event exactly at the cutoff is kept.
func (s *Service) CleanupOldEntries(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", retentionDays)
	}
	cutoff := s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	result := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&Entry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete auth audit entries before %s: %w", cutoff.Format(time.RFC3339), result.Error)
	}
	s.metrics.RecordPurged(result.RowsAffected)
	return result.RowsAffected, nil
}

func (s *Service) newest(ctx context.Context, count int, query interface{}, args ...interface{}) ([]Entry, error) {
	if count <= 0 {
		return []Entry{}, nil
	}
	if count > MaxCount {
		count = MaxCount
	}
	q := s.db.WithContext(ctx)
	if query != nil {
		q = q.Where(query, args...)
	}
	var entries []Entry
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(count).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
