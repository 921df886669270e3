package lifecycle

import "gorm.io/gorm"

// Visibility selects which rows a read returns with respect to soft delete.
type Visibility int

const (
	// Active is the default: soft-deleted rows are excluded.
	Active Visibility = iota
	// WithDeleted bypasses the filter.
	WithDeleted
	// OnlyDeleted returns soft-deleted rows only.
	OnlyDeleted
)

func (v Visibility) String() string {
	switch v {
	case WithDeleted:
		return "with_deleted"
	case OnlyDeleted:
		return "only_deleted"
	default:
		return "active"
	}
}

// Scope returns a gorm scope applying v. Active adds nothing because gorm
// already filters models embedding Tracked.
func Scope(v Visibility) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch v {
		case WithDeleted:
			return db.Unscoped()
		case OnlyDeleted:
			return db.Unscoped().Where("deleted_at IS NOT NULL")
		default:
			return db
		}
	}
}
