package audit

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
)

// ErrImmutable is returned when something tries to update or delete an
// audit entry through the ORM.
var ErrImmutable = errors.New("audit entries are immutable")

// Action is the kind of mutation an entry records
type Action string

const (
	ActionCreated  Action = "Created"
	ActionUpdated  Action = "Updated"
	ActionDeleted  Action = "Deleted"
	ActionRestored Action = "Restored"
)

// FieldChange is one changed property. Nil values encode JSON null.
type FieldChange struct {
	Field    string  `json:"field"`
	OldValue *string `json:"old_value"`
	NewValue *string `json:"new_value"`
}

// Changes is the list of field changes stored as a JSON text column.
type Changes []FieldChange

// Value implements driver.Valuer
func (c Changes) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]FieldChange(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (c *Changes) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Changes{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into audit.Changes", src)
	}
	var out []FieldChange
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode audit changes: %w", err)
	}
	if out == nil {
		out = []FieldChange{}
	}
	*c = out
	return nil
}

// Entry is one immutable audit record: one per affected entity per commit.
type Entry struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	EntityType        string    `gorm:"size:64;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID          string    `gorm:"size:64;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action            Action    `gorm:"size:16;not null;index" json:"action"`
	ChangedAt         time.Time `gorm:"not null;index" json:"changed_at"`
	ChangedByUserID   *string   `gorm:"size:64;index" json:"changed_by_user_id,omitempty"`
	ChangedByAPIKeyID *string   `gorm:"column:changed_by_api_key_id;size:64;index" json:"changed_by_api_key_id,omitempty"`
	Changes           Changes   `gorm:"type:text;not null" json:"changes"`
	// DiffError is set when the change list could not be computed and the
	// entry was written with an empty list instead.
	DiffError *string `gorm:"type:text" json:"diff_error,omitempty"`
}

// TableName overrides the gorm table name
func (Entry) TableName() string {
	return "audit_log_entries"
}

// BeforeUpdate rejects ORM updates
func (e *Entry) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutable
}

// BeforeDelete rejects ORM deletes
func (e *Entry) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutable
}

// Degraded reports whether the diff failed for this entry
func (e *Entry) Degraded() bool {
	return e.DiffError != nil
}

// NewEntry builds an entry attributed to a. A nil changes list is stored
// as an empty list.
func NewEntry(entityType, entityID string, action Action, a actor.Actor, at time.Time, changes []FieldChange) *Entry {
	if changes == nil {
		changes = []FieldChange{}
	}
	userID, apiKeyID := a.Stamp()
	return &Entry{
		EntityType:        entityType,
		EntityID:          entityID,
		Action:            action,
		ChangedAt:         at.UTC(),
		ChangedByUserID:   userID,
		ChangedByAPIKeyID: apiKeyID,
		Changes:           changes,
	}
}

// Filter narrows Search and Export
type Filter struct {
	// Time range, inclusive on both ends
	StartTime *time.Time
	EndTime   *time.Time

	EntityType string
	EntityID   string
	Actions    []Action

	UserID   *string
	APIKeyID *string

	// Pagination
	Limit  int
	Offset int

	// SortOrder is "asc" or "desc" on ChangedAt; default desc
	SortOrder string
}

// ExportFormat represents the format for exporting audit entries
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
	ExportFormatXLSX   ExportFormat = "xlsx"
)

// Stats summarizes audit entries for a time range
type Stats struct {
	TotalEntries    int64            `json:"total_entries"`
	EntriesByAction map[Action]int64 `json:"entries_by_action"`
	EntriesByType   map[string]int64 `json:"entries_by_type"`
	DegradedEntries int64            `json:"degraded_entries"`
	TimeRange       *TimeRange       `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
