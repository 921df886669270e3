package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultSearchLimit caps Search when the filter leaves Limit unset.
const DefaultSearchLimit = 100

// Append writes entries inside the caller's transaction. It is the only
// write path for audit entries.
func Append(tx *gorm.DB, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.ChangedAt.IsZero() {
			e.ChangedAt = now
		}
		if e.Changes == nil {
			e.Changes = Changes{}
		}
	}
	if err := tx.Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to append audit entries: %w", err)
	}
	return nil
}

// Store is the read side of the audit log. Audit rows are never
// soft-deleted, so no query needs a filter bypass.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new database-backed audit store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetByEntity returns the history of one entity, oldest first.
func (s *Store) GetByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("changed_at ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entries for %s %s: %w", entityType, entityID, err)
	}
	return entries, nil
}

// GetRecent returns the newest count entries, newest first.
func (s *Store) GetRecent(ctx context.Context, count int) ([]Entry, error) {
	if count <= 0 {
		return []Entry{}, nil
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Order("changed_at DESC").Order("id DESC").
		Limit(count).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get recent audit entries: %w", err)
	}
	return entries, nil
}

// GetByUser returns every entry attributed to a user, newest first.
func (s *Store) GetByUser(ctx context.Context, userID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("changed_by_user_id = ?", userID).
		Order("changed_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entries for user %s: %w", userID, err)
	}
	return entries, nil
}

// GetByAPIKey returns every entry attributed to an API key, newest first.
func (s *Store) GetByAPIKey(ctx context.Context, apiKeyID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("changed_by_api_key_id = ?", apiKeyID).
		Order("changed_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entries for api key %s: %w", apiKeyID, err)
	}
	return entries, nil
}

// Get retrieves a single entry by ID. It returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get audit entry %s: %w", id, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Search returns entries matching filter
func (s *Store) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	query := s.applyFilter(s.db.WithContext(ctx).Model(&Entry{}), filter)

	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	query = query.Order("changed_at " + order).Order("id " + order)

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query = query.Limit(limit)
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	return entries, nil
}

// GetStats summarizes entries in an optional time range
func (s *Store) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		EntriesByAction: make(map[Action]int64),
		EntriesByType:   make(map[string]int64),
	}
	filter := Filter{StartTime: startTime, EndTime: endTime}
	if startTime != nil || endTime != nil {
		stats.TimeRange = &TimeRange{}
		if startTime != nil {
			stats.TimeRange.Start = *startTime
		}
		if endTime != nil {
			stats.TimeRange.End = *endTime
		}
	}

	base := func() *gorm.DB {
		return s.applyFilter(s.db.WithContext(ctx).Model(&Entry{}), filter)
	}

	if err := base().Count(&stats.TotalEntries).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	var byAction []struct {
		Action Action
		Count  int64
	}
	if err := base().Select("action, COUNT(*) AS count").Group("action").Scan(&byAction).Error; err != nil {
		return nil, fmt.Errorf("failed to get entries by action: %w", err)
	}
	for _, row := range byAction {
		stats.EntriesByAction[row.Action] = row.Count
	}

	var byType []struct {
		EntityType string
		Count      int64
	}
	if err := base().Select("entity_type, COUNT(*) AS count").Group("entity_type").Scan(&byType).Error; err != nil {
		return nil, fmt.Errorf("failed to get entries by entity type: %w", err)
	}
	for _, row := range byType {
		stats.EntriesByType[row.EntityType] = row.Count
	}

	if err := base().Where("diff_error IS NOT NULL").Count(&stats.DegradedEntries).Error; err != nil {
		return nil, fmt.Errorf("failed to count degraded entries: %w", err)
	}

	return stats, nil
}

// Export exports entries matching filter in the requested format
func (s *Store) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := s.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatXLSX:
		return exportXLSX(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func (s *Store) applyFilter(query *gorm.DB, filter Filter) *gorm.DB {
	if filter.StartTime != nil {
		query = query.Where("changed_at >= ?", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		query = query.Where("changed_at <= ?", filter.EndTime.UTC())
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if len(filter.Actions) > 0 {
		query = query.Where("action IN ?", filter.Actions)
	}
	if filter.UserID != nil {
		query = query.Where("changed_by_user_id = ?", *filter.UserID)
	}
	if filter.APIKeyID != nil {
		query = query.Where("changed_by_api_key_id = ?", *filter.APIKeyID)
	}
	return query
}
