package lifecycle

import (
	"time"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/audit"
)

// ChangeState is the proposed persistence state of a staged entity.
type ChangeState int

const (
	Added ChangeState = iota + 1
	Modified
	Removed
	// SoftDeleted is a Removed change after conversion: an update of the
	// three delete markers only.
	SoftDeleted
)

func (s ChangeState) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case SoftDeleted:
		return "soft_deleted"
	default:
		return "unknown"
	}
}

// Change is one staged entity.
type Change struct {
	Entity Entity
	State  ChangeState
	// Before is the snapshot taken when the entity was loaded; Modified
	// changes diff against it.
	Before *audit.Snapshot
	// Cascaded marks soft deletes reached through the cascade policy.
	Cascaded bool
}

// ConvertDeletes rewrites delete intents into soft deletes. Every Removed
// change of a live entity becomes SoftDeleted with DeletedAt = now and the
// actor stamp, and every loaded dependent the policy says it owns is added
// with the same stamp, recursively. Removing an entity that is already
// deleted is a no-op and the change is dropped. A staged dependent reached
// by the cascade is converted in place: Modified becomes SoftDeleted and
// Added is inserted already deleted.
//
// The input changes are not modified; the stamped entities are.
func ConvertDeletes(changes []*Change, loaded []Entity, policy *CascadePolicy, a actor.Actor, now time.Time) []*Change {
	staged := make(map[entityKey]struct{}, len(changes))
	for _, c := range changes {
		staged[keyOf(c.Entity)] = struct{}{}
	}

	doomed := make(map[entityKey]bool)
	var cascaded []Entity

	var visit func(root Entity)
	visit = func(root Entity) {
		for _, dep := range policy.DependentsOf(root.EntityType()) {
			for _, e := range loaded {
				if e.EntityType() != dep.Type || e.Lifecycle().IsDeleted() {
					continue
				}
				if owner, ok := dep.OwnerID(e); !ok || owner != root.EntityID() {
					continue
				}
				k := keyOf(e)
				if doomed[k] {
					continue
				}
				doomed[k] = true
				if _, ok := staged[k]; !ok {
					cascaded = append(cascaded, e)
				}
				visit(e)
			}
		}
	}

	for _, c := range changes {
		if c.State != Removed || c.Entity.Lifecycle().IsDeleted() {
			continue
		}
		k := keyOf(c.Entity)
		if doomed[k] {
			continue
		}
		doomed[k] = true
		visit(c.Entity)
	}

	out := make([]*Change, 0, len(changes)+len(cascaded))
	for _, c := range changes {
		k := keyOf(c.Entity)
		switch {
		case doomed[k] && c.State == Added:
			c.Entity.Lifecycle().MarkDeleted(now, a)
			out = append(out, &Change{Entity: c.Entity, State: Added, Cascaded: true})
		case doomed[k]:
			c.Entity.Lifecycle().MarkDeleted(now, a)
			out = append(out, &Change{Entity: c.Entity, State: SoftDeleted, Cascaded: c.State != Removed})
		case c.State == Removed:
			// already deleted
		default:
			cp := *c
			out = append(out, &cp)
		}
	}
	for _, e := range cascaded {
		e.Lifecycle().MarkDeleted(now, a)
		out = append(out, &Change{Entity: e, State: SoftDeleted, Cascaded: true})
	}
	return out
}
