package lifecycle

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/audit"
)

// RestoreResult tells why a restore did or did not happen.
type RestoreResult int

const (
	RestoreNotFound RestoreResult = iota
	RestoreNotDeleted
	Restored
	// RestoreOwnerDeleted means the target's owner is still soft-deleted and
	// must be restored first.
	RestoreOwnerDeleted
)

func (r RestoreResult) String() string {
	switch r {
	case RestoreNotDeleted:
		return "not_deleted"
	case Restored:
		return "restored"
	case RestoreOwnerDeleted:
		return "owner_deleted"
	default:
		return "not_found"
	}
}

// Restore clears the delete markers on the root identified by entityType and
// id, then on every soft-deleted dependent found by query, recursively. One
// Restored audit entry is written per restored entity. A missing or live
// target, or one whose owner is still deleted, is left untouched and
// produces no audit entry.
func (s *Session) Restore(ctx context.Context, entityType, id string) (RestoreResult, error) {
	if s.closed {
		return RestoreNotFound, ErrSessionClosed
	}
	if !s.policy.Tracks(entityType) {
		return RestoreNotFound, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}

	ctx, span := tracer.Start(ctx, "lifecycle.Restore")
	defer span.End()
	span.SetAttributes(
		attribute.String("lifecycle.entity_type", entityType),
		attribute.String("lifecycle.entity_id", id),
		attribute.String("lifecycle.actor", s.actor.String()),
	)

	now := s.opts.now().UTC()
	result := RestoreNotFound
	var restored []Entity

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		root, err := s.policy.load(tx, entityType, id, WithDeleted)
		if err != nil {
			return err
		}
		if root == nil {
			return nil
		}
		if !root.Lifecycle().IsDeleted() {
			result = RestoreNotDeleted
			return nil
		}
		deleted, err := s.ownerDeleted(tx, root)
		if err != nil {
			return err
		}
		if deleted {
			result = RestoreOwnerDeleted
			return nil
		}

		restored, err = s.restoreTree(tx, root)
		if err != nil {
			return err
		}

		entries := make([]*audit.Entry, 0, len(restored))
		for _, e := range restored {
			entries = append(entries, audit.NewEntry(e.EntityType(), e.EntityID(), audit.ActionRestored, s.actor, now, audit.Restored()))
		}
		if err := audit.Append(tx, entries); err != nil {
			return err
		}
		result = Restored
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.logger.WithError(err).WithFields(map[string]interface{}{
			"entity_type": entityType,
			"entity_id":   id,
		}).Error("restore failed")
		return RestoreNotFound, err
	}

	span.SetAttributes(attribute.String("lifecycle.restore_result", result.String()))
	s.opts.metrics.RecordRestore(entityType, result.String())
	for _, e := range restored {
		s.opts.metrics.RecordAuditEntry(e.EntityType(), string(audit.ActionRestored), false)
		if t, ok := s.tracked[keyOf(e)]; ok {
			t.entity.Lifecycle().ClearDeleted()
		}
	}

	s.opts.logger.WithFields(map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   id,
		"result":      result.String(),
		"restored":    len(restored),
	}).Debug("restore finished")
	return result, nil
}

// ownerDeleted reports whether any owner of e exists only as a deleted row.
// A dangling foreign key does not block the restore.
func (s *Session) ownerDeleted(tx *gorm.DB, e Entity) (bool, error) {
	for _, o := range s.policy.OwnersOf(e.EntityType()) {
		ownerID, ok := o.OwnerID(e)
		if !ok {
			continue
		}
		owner, err := s.policy.load(tx, o.Type, ownerID, WithDeleted)
		if err != nil {
			return false, err
		}
		if owner != nil && owner.Lifecycle().IsDeleted() {
			return true, nil
		}
	}
	return false, nil
}

// restoreTree clears markers on root and walks its dependents with the
// filter bypassed, so rows deleted in earlier transactions are reached too.
func (s *Session) restoreTree(tx *gorm.DB, root Entity) ([]Entity, error) {
	var out []Entity
	visited := make(map[entityKey]bool)

	var walk func(e Entity) error
	walk = func(e Entity) error {
		k := keyOf(e)
		if visited[k] {
			return nil
		}
		visited[k] = true

		if err := clearMarkers(tx, e); err != nil {
			return err
		}
		out = append(out, e)

		for _, dep := range s.policy.DependentsOf(e.EntityType()) {
			found, err := dep.Find(tx, e.EntityID(), OnlyDeleted)
			if err != nil {
				return err
			}
			for _, d := range found {
				if err := walk(d); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

func clearMarkers(tx *gorm.DB, e Entity) error {
	err := tx.Unscoped().Model(e).Updates(map[string]interface{}{
		"deleted_at":            nil,
		"deleted_by_user_id":    nil,
		"deleted_by_api_key_id": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to restore %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	e.Lifecycle().ClearDeleted()
	return nil
}
