package lifecycle

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
)

var (
	// ErrNoActor is returned when a session cannot resolve who is acting.
	ErrNoActor = errors.New("no actor for lifecycle operation")

	// ErrUntracked is returned when an entity is updated without having been
	// loaded through or attached to the session.
	ErrUntracked = errors.New("entity is not tracked by this session")

	// ErrUnknownEntityType is returned for entity types the policy has never
	// registered.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrRemoved is returned when updating an entity already staged for
	// removal.
	ErrRemoved = errors.New("entity is staged for removal")

	// ErrStale is returned when an update matched no live row.
	ErrStale = errors.New("entity is missing or deleted")
)

// Tracked carries the soft-delete markers. Embedding it gives a model gorm's
// default `deleted_at IS NULL` filter on every query.
type Tracked struct {
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty" audit:"-"`
	DeletedByUserID   *string        `gorm:"column:deleted_by_user_id;size:64" json:"deleted_by_user_id,omitempty" audit:"-"`
	DeletedByAPIKeyID *string        `gorm:"column:deleted_by_api_key_id;size:64" json:"deleted_by_api_key_id,omitempty" audit:"-"`
}

// Lifecycle returns t itself so that embedding types satisfy Entity.
func (t *Tracked) Lifecycle() *Tracked {
	return t
}

// IsDeleted reports whether the entity is soft-deleted.
func (t *Tracked) IsDeleted() bool {
	return t.DeletedAt.Valid
}

// MarkDeleted stamps the delete markers.
func (t *Tracked) MarkDeleted(at time.Time, a actor.Actor) {
	t.DeletedAt = gorm.DeletedAt{Time: at.UTC(), Valid: true}
	t.DeletedByUserID, t.DeletedByAPIKeyID = a.Stamp()
}

// ClearDeleted resets all three markers.
func (t *Tracked) ClearDeleted() {
	t.DeletedAt = gorm.DeletedAt{}
	t.DeletedByUserID = nil
	t.DeletedByAPIKeyID = nil
}

// Model is the base for tracked entities keyed by a string UUID.
type Model struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tracked
}

// EntityID returns the primary key.
func (m *Model) EntityID() string {
	return m.ID
}

// SetEntityID sets the primary key; the session calls it for new entities.
func (m *Model) SetEntityID(id string) {
	m.ID = id
}

// Entity is a persisted record with soft-delete markers.
type Entity interface {
	EntityType() string
	EntityID() string
	Lifecycle() *Tracked
}

type identifiable interface {
	SetEntityID(id string)
}

type entityKey struct {
	typ string
	id  string
}

func keyOf(e Entity) entityKey {
	return entityKey{typ: e.EntityType(), id: e.EntityID()}
}
