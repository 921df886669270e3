package lifecycle

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
)

// Get loads a live entity of type PT by ID and tracks it in s. It returns
// nil when no live row exists.
func Get[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, id string) (PT, error) {
	e, err := s.Find(ctx, PT(new(T)).EntityType(), id)
	if err != nil || e == nil {
		return nil, err
	}
	typed, ok := e.(PT)
	if !ok {
		return nil, fmt.Errorf("tracked %s %s has type %T", e.EntityType(), id, e)
	}
	return typed, nil
}

// List loads live entities of type PT, narrowed by scopes, and tracks them
// in s. Rows already tracked are returned as the tracked instance.
func List[T any, PT interface {
	*T
	Entity
}](ctx context.Context, s *Session, scopes ...func(*gorm.DB) *gorm.DB) ([]PT, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	var rows []T
	if err := s.db.WithContext(ctx).Scopes(scopes...).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", PT(new(T)).EntityType(), err)
	}
	out := make([]PT, 0, len(rows))
	for i := range rows {
		e := s.attach(PT(&rows[i]))
		typed, ok := e.(PT)
		if !ok {
			return nil, fmt.Errorf("tracked %s %s has type %T", e.EntityType(), e.EntityID(), e)
		}
		out = append(out, typed)
	}
	return out, nil
}

// RecycleBin is the restore surface for one entity type.
type RecycleBin[T any, PT interface {
	*T
	Entity
}] struct {
	db       *gorm.DB
	policy   *CascadePolicy
	resolver actor.Resolver
	opts     []Option
}

// NewRecycleBin returns a recycle bin for PT. The actor for each restore is
// taken from resolver.
func NewRecycleBin[T any, PT interface {
	*T
	Entity
}](db *gorm.DB, policy *CascadePolicy, resolver actor.Resolver, opts ...Option) *RecycleBin[T, PT] {
	return &RecycleBin[T, PT]{
		db:       db,
		policy:   policy,
		resolver: resolver,
		opts:     opts,
	}
}

// EntityType returns the name of the entity type the bin serves.
func (b *RecycleBin[T, PT]) EntityType() string {
	return PT(new(T)).EntityType()
}

// Restore restores one soft-deleted entity and its dependents.
func (b *RecycleBin[T, PT]) Restore(ctx context.Context, id string) (RestoreResult, error) {
	s, err := Begin(ctx, b.db, b.policy, b.resolver, b.opts...)
	if err != nil {
		return RestoreNotFound, err
	}
	defer s.Close()
	return s.Restore(ctx, b.EntityType(), id)
}

// RestoreOne reports true only when the entity was restored. Missing and
// never-deleted targets both yield false; use Restore to tell them apart.
func (b *RecycleBin[T, PT]) RestoreOne(ctx context.Context, id string) (bool, error) {
	result, err := b.Restore(ctx, id)
	if err != nil {
		return false, err
	}
	return result == Restored, nil
}

// ListDeleted returns soft-deleted entities, most recently deleted first.
// A limit of zero or less returns all of them.
func (b *RecycleBin[T, PT]) ListDeleted(ctx context.Context, limit int) ([]PT, error) {
	query := b.db.WithContext(ctx).Scopes(Scope(OnlyDeleted)).Order("deleted_at DESC").Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []T
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list deleted %s: %w", b.EntityType(), err)
	}
	out := make([]PT, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out, nil
}

// Get reads one entity with the filter bypassed. It returns nil when absent.
func (b *RecycleBin[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	var rows []T
	err := b.db.WithContext(ctx).Scopes(Scope(WithDeleted)).Where("id = ?", id).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", b.EntityType(), id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return PT(&rows[0]), nil
}
