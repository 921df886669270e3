package lifecycle

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// CascadeMode selects which dependents a soft delete reaches.
type CascadeMode int

const (
	// CascadeQuery loads every live dependent of a removed root inside the
	// commit transaction before converting deletes.
	CascadeQuery CascadeMode = iota
	// CascadeLoaded cascades only to dependents already tracked by the
	// session. Callers must load dependents before removing their owner.
	CascadeLoaded
)

func (m CascadeMode) String() string {
	if m == CascadeLoaded {
		return "loaded"
	}
	return "query"
}

// ParseCascadeMode accepts "query" and "loaded"; empty means query.
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "query":
		return CascadeQuery, nil
	case "loaded":
		return CascadeLoaded, nil
	default:
		return CascadeQuery, fmt.Errorf("invalid cascade mode %q", s)
	}
}

// Dependent describes one owned entity type of a root.
type Dependent struct {
	// Type is the EntityType of the dependent.
	Type string
	// ForeignKey is the column on the dependent holding the owner's ID.
	ForeignKey string
	// OwnerID reads the foreign key from a loaded dependent.
	OwnerID func(Entity) (string, bool)
	// Find queries dependents of ownerID with the given visibility.
	Find func(tx *gorm.DB, ownerID string, v Visibility) ([]Entity, error)
}

type loader func(tx *gorm.DB, id string, v Visibility) (Entity, error)

// Owner is the reverse of a Dependent entry: the root type owning a
// dependent type and the relation linking them.
type Owner struct {
	Type string
	Dependent
}

// CascadePolicy is the static ownership table: root type to the dependent
// types it owns. Entities that merely reference a root are never listed.
type CascadePolicy struct {
	owned   map[string][]Dependent
	owners  map[string][]Owner
	loaders map[string]loader
}

// NewCascadePolicy returns an empty policy.
func NewCascadePolicy() *CascadePolicy {
	return &CascadePolicy{
		owned:   make(map[string][]Dependent),
		owners:  make(map[string][]Owner),
		loaders: make(map[string]loader),
	}
}

// DependentsOf returns the dependents owned by rootType.
func (p *CascadePolicy) DependentsOf(rootType string) []Dependent {
	if p == nil {
		return nil
	}
	return p.owned[rootType]
}

// OwnersOf returns the relations through which dependentType is owned.
func (p *CascadePolicy) OwnersOf(dependentType string) []Owner {
	if p == nil {
		return nil
	}
	return p.owners[dependentType]
}

// Tracks reports whether entityType was registered.
func (p *CascadePolicy) Tracks(entityType string) bool {
	if p == nil {
		return false
	}
	_, ok := p.loaders[entityType]
	return ok
}

// Types lists every registered entity type.
func (p *CascadePolicy) Types() []string {
	types := make([]string, 0, len(p.loaders))
	for t := range p.loaders {
		types = append(types, t)
	}
	return types
}

func (p *CascadePolicy) load(tx *gorm.DB, entityType, id string, v Visibility) (Entity, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	l, ok := p.loaders[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return l(tx, id, v)
}

// Track registers the entity type PT so it can be loaded by name. It
// returns the type name.
func Track[T any, PT interface {
	*T
	Entity
}](p *CascadePolicy) string {
	name := PT(new(T)).EntityType()
	p.loaders[name] = func(tx *gorm.DB, id string, v Visibility) (Entity, error) {
		var rows []T
		if err := tx.Scopes(Scope(v)).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load %s %s: %w", name, id, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return PT(&rows[0]), nil
	}
	return name
}

// Owns declares that rootType owns entities of type PT through foreignKey.
// ownerID reads that key from a loaded dependent; a nil result means the
// dependent has no owner.
func Owns[T any, PT interface {
	*T
	Entity
}](p *CascadePolicy, rootType, foreignKey string, ownerID func(PT) *string) {
	name := Track[T, PT](p)
	dep := Dependent{
		Type:       name,
		ForeignKey: foreignKey,
		OwnerID: func(e Entity) (string, bool) {
			typed, ok := e.(PT)
			if !ok {
				return "", false
			}
			id := ownerID(typed)
			if id == nil {
				return "", false
			}
			return *id, true
		},
		Find: func(tx *gorm.DB, rootID string, v Visibility) ([]Entity, error) {
			var rows []T
			err := tx.Scopes(Scope(v)).
				Where(map[string]interface{}{foreignKey: rootID}).
				Order("id").
				Find(&rows).Error
			if err != nil {
				return nil, fmt.Errorf("failed to find %s owned by %s %s: %w", name, rootType, rootID, err)
			}
			out := make([]Entity, len(rows))
			for i := range rows {
				out[i] = PT(&rows[i])
			}
			return out, nil
		},
	}
	p.owned[rootType] = append(p.owned[rootType], dep)
	p.owners[name] = append(p.owners[name], Owner{Type: rootType, Dependent: dep})
}
