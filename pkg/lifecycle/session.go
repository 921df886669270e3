package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/tally/pkg/lifecycle")

// columns a Modified write never touches
var protectedFields = []string{"ID", "CreatedAt", "DeletedAt", "DeletedByUserID", "DeletedByAPIKeyID"}

// Option configures a Session.
type Option func(*options)

type options struct {
	differ  audit.Differ
	metrics *observability.Metrics
	logger  *observability.Logger
	mode    CascadeMode
	now     func() time.Time
}

// WithDiffer replaces the default audit.DiffBuilder.
func WithDiffer(d audit.Differ) Option {
	return func(o *options) { o.differ = d }
}

// WithMetrics records commit, delete, restore and audit metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCascadeMode selects how deletes find dependents. Default CascadeQuery.
func WithCascadeMode(m CascadeMode) Option {
	return func(o *options) { o.mode = m }
}

// WithClock overrides time.Now for stamps and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.differ == nil {
		o.differ = audit.NewDiffBuilder()
	}
	if o.logger == nil {
		o.logger = observability.Discard()
	}
	return o
}

type tracked struct {
	entity  Entity
	before  *audit.Snapshot
	snapErr error
}

// Session is a unit of work for one actor. Entities are loaded or attached,
// changes are staged, and Commit writes them together with their audit
// entries in a single transaction. A Session is not safe for concurrent use.
type Session struct {
	db     *gorm.DB
	policy *CascadePolicy
	actor  actor.Actor
	opts   options

	tracked map[entityKey]*tracked
	order   []entityKey
	staged  map[entityKey]*Change
	queue   []entityKey
	closed  bool
}

// NewSession opens a session acting as a.
func NewSession(db *gorm.DB, policy *CascadePolicy, a actor.Actor, opts ...Option) (*Session, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoActor, err)
	}
	return &Session{
		db:      db,
		policy:  policy,
		actor:   a,
		opts:    newOptions(opts),
		tracked: make(map[entityKey]*tracked),
		staged:  make(map[entityKey]*Change),
	}, nil
}

// Begin resolves the actor for ctx and opens a session.
func Begin(ctx context.Context, db *gorm.DB, policy *CascadePolicy, resolver actor.Resolver, opts ...Option) (*Session, error) {
	a, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoActor, err)
	}
	return NewSession(db, policy, a, opts...)
}

// Actor returns the actor the session stamps with.
func (s *Session) Actor() actor.Actor {
	return s.actor
}

// Close discards staged changes; further calls fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closed = true
	s.staged = nil
	s.queue = nil
	s.tracked = nil
	s.order = nil
}

// Attach starts tracking an entity loaded elsewhere and snapshots its
// current state. An already tracked entity of the same type and ID is
// returned instead of e.
func (s *Session) Attach(e Entity) (Entity, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.attach(e), nil
}

func (s *Session) attach(e Entity) Entity {
	k := keyOf(e)
	if t, ok := s.tracked[k]; ok {
		return t.entity
	}
	t := &tracked{entity: e}
	snap, err := s.opts.differ.Snapshot(e)
	if err != nil {
		t.snapErr = err
	} else {
		t.before = &snap
	}
	s.tracked[k] = t
	s.order = append(s.order, k)
	return e
}

// Find loads a live entity by type name and tracks it. It returns nil when
// no live row exists.
func (s *Session) Find(ctx context.Context, entityType, id string) (Entity, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if t, ok := s.tracked[entityKey{typ: entityType, id: id}]; ok && !t.entity.Lifecycle().IsDeleted() {
		return t.entity, nil
	}
	e, err := s.policy.load(s.db.WithContext(ctx), entityType, id, Active)
	if err != nil || e == nil {
		return nil, err
	}
	return s.attach(e), nil
}

// Add stages a new entity. Entities embedding Model get a UUID if their ID
// is empty.
func (s *Session) Add(e Entity) error {
	if s.closed {
		return ErrSessionClosed
	}
	if e.EntityID() == "" {
		setter, ok := e.(identifiable)
		if !ok {
			return fmt.Errorf("%s has no ID and cannot be assigned one", e.EntityType())
		}
		setter.SetEntityID(uuid.NewString())
	}
	k := keyOf(e)
	if _, ok := s.tracked[k]; !ok {
		s.tracked[k] = &tracked{entity: e}
		s.order = append(s.order, k)
	}
	s.stage(&Change{Entity: e, State: Added})
	return nil
}

// Update stages a tracked entity for update. Updating an entity added in
// this session keeps it Added; updating one staged for removal fails with
// ErrRemoved and the removal stays staged.
func (s *Session) Update(e Entity) error {
	if s.closed {
		return ErrSessionClosed
	}
	k := keyOf(e)
	t, ok := s.tracked[k]
	if !ok || t.entity != e {
		return fmt.Errorf("%w: %s %s", ErrUntracked, k.typ, k.id)
	}
	if c, ok := s.staged[k]; ok {
		if c.State == Removed {
			return fmt.Errorf("%w: %s %s", ErrRemoved, k.typ, k.id)
		}
		return nil
	}
	s.stage(&Change{Entity: e, State: Modified, Before: t.before})
	return nil
}

// Remove stages a delete, replacing a staged update. Removing an entity
// added in this session unstages it instead. The delete becomes a soft
// delete at commit.
func (s *Session) Remove(e Entity) error {
	if s.closed {
		return ErrSessionClosed
	}
	k := keyOf(e)
	if c, ok := s.staged[k]; ok && c.State == Added {
		s.unstage(k)
		delete(s.tracked, k)
		s.order = removeKey(s.order, k)
		return nil
	}
	if _, ok := s.tracked[k]; !ok {
		s.attach(e)
	}
	s.stage(&Change{Entity: s.tracked[k].entity, State: Removed})
	return nil
}

// Pending returns the staged changes in staging order.
func (s *Session) Pending() []*Change {
	out := make([]*Change, 0, len(s.queue))
	for _, k := range s.queue {
		out = append(out, s.staged[k])
	}
	return out
}

func (s *Session) stage(c *Change) {
	k := keyOf(c.Entity)
	if _, ok := s.staged[k]; !ok {
		s.queue = append(s.queue, k)
	}
	s.staged[k] = c
}

func (s *Session) unstage(k entityKey) {
	delete(s.staged, k)
	s.queue = removeKey(s.queue, k)
}

func (s *Session) loaded() []Entity {
	out := make([]Entity, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.tracked[k].entity)
	}
	return out
}

// Commit converts deletes, writes every staged change and appends one audit
// entry per affected entity, all in one transaction. On failure nothing is
// written, in-memory delete stamps are reverted and the changes stay staged.
func (s *Session) Commit(ctx context.Context) (entries []*audit.Entry, err error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	changes := s.Pending()
	if len(changes) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "lifecycle.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("lifecycle.changes", len(changes)),
		attribute.String("lifecycle.actor", s.actor.String()),
		attribute.String("lifecycle.cascade_mode", s.opts.mode.String()),
	)

	start := s.opts.now()
	now := start.UTC()
	log := s.opts.logger.WithFields(map[string]interface{}{
		"actor":   s.actor.String(),
		"changes": len(changes),
	})

	wasDeleted := make(map[entityKey]bool, len(s.tracked))
	for k, t := range s.tracked {
		wasDeleted[k] = t.entity.Lifecycle().IsDeleted()
	}

	var applied []*Change
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.opts.mode == CascadeQuery {
			if err := s.loadDependents(tx, changes); err != nil {
				return err
			}
		}

		converted := ConvertDeletes(changes, s.loaded(), s.policy, s.actor, now)
		for _, c := range converted {
			written, err := s.apply(tx, c, now)
			if err != nil {
				return err
			}
			if len(written) > 0 {
				entries = append(entries, written...)
				applied = append(applied, c)
			}
		}
		return audit.Append(tx, entries)
	})

	s.opts.metrics.RecordCommit(err, s.opts.now().Sub(start))
	if err != nil {
		for k, t := range s.tracked {
			if !wasDeleted[k] && t.entity.Lifecycle().IsDeleted() {
				t.entity.Lifecycle().ClearDeleted()
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("commit failed")
		return nil, err
	}

	for _, c := range applied {
		if c.State == SoftDeleted || (c.State == Added && c.Entity.Lifecycle().IsDeleted()) {
			s.opts.metrics.RecordSoftDelete(c.Entity.EntityType())
		}
	}
	for _, e := range entries {
		s.opts.metrics.RecordAuditEntry(e.EntityType, string(e.Action), e.Degraded())
	}

	s.staged = make(map[entityKey]*Change)
	s.queue = nil
	for _, t := range s.tracked {
		snap, snapErr := s.opts.differ.Snapshot(t.entity)
		t.before, t.snapErr = nil, snapErr
		if snapErr == nil {
			t.before = &snap
		}
	}

	span.SetAttributes(attribute.Int("lifecycle.audit_entries", len(entries)))
	log.WithField("audit_entries", len(entries)).Debug("commit complete")
	return entries, nil
}

// loadDependents tracks every live dependent of each removed root, walking
// the policy recursively. Queries run on tx.
func (s *Session) loadDependents(tx *gorm.DB, changes []*Change) error {
	visited := make(map[entityKey]bool)
	var walk func(root Entity) error
	walk = func(root Entity) error {
		k := keyOf(root)
		if visited[k] {
			return nil
		}
		visited[k] = true
		for _, dep := range s.policy.DependentsOf(root.EntityType()) {
			found, err := dep.Find(tx, root.EntityID(), Active)
			if err != nil {
				return err
			}
			for _, e := range found {
				if err := walk(s.attach(e)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, c := range changes {
		if c.State == Removed && !c.Entity.Lifecycle().IsDeleted() {
			if err := walk(c.Entity); err != nil {
				return err
			}
		}
	}
	return nil
}

// apply writes one converted change and returns its audit entries, none
// when nothing was written.
func (s *Session) apply(tx *gorm.DB, c *Change, now time.Time) ([]*audit.Entry, error) {
	e := c.Entity
	typ, id := e.EntityType(), e.EntityID()

	switch c.State {
	case Added:
		if err := tx.Omit(clause.Associations).Create(e).Error; err != nil {
			return nil, fmt.Errorf("failed to create %s %s: %w", typ, id, err)
		}
		changes, diffErr := s.opts.differ.Created(e)
		out := []*audit.Entry{s.entry(e, audit.ActionCreated, now, changes, diffErr)}
		if e.Lifecycle().IsDeleted() {
			// reached by a cascade before its first insert
			out = append(out, s.entry(e, audit.ActionDeleted, now, audit.Deleted(), nil))
		}
		return out, nil

	case Modified:
		var diffErr error
		var changes []audit.FieldChange
		if c.Before == nil {
			diffErr = fmt.Errorf("no snapshot for %s %s", typ, id)
			if t, ok := s.tracked[keyOf(e)]; ok && t.snapErr != nil {
				diffErr = fmt.Errorf("snapshot failed: %w", t.snapErr)
			}
		} else {
			changes, diffErr = s.opts.differ.Updated(*c.Before, e)
		}
		if diffErr == nil && len(changes) == 0 {
			return nil, nil
		}

		omit := append([]string{clause.Associations}, protectedFields...)
		res := tx.Model(e).Select("*").Omit(omit...).Updates(e)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update %s %s: %w", typ, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrStale, typ, id)
		}
		return []*audit.Entry{s.entry(e, audit.ActionUpdated, now, changes, diffErr)}, nil

	case SoftDeleted:
		tr := e.Lifecycle()
		res := tx.Model(e).Updates(map[string]interface{}{
			"deleted_at":            tr.DeletedAt,
			"deleted_by_user_id":    tr.DeletedByUserID,
			"deleted_by_api_key_id": tr.DeletedByAPIKeyID,
		})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to soft-delete %s %s: %w", typ, id, res.Error)
		}
		if res.RowsAffected == 0 {
			// deleted concurrently; the stored stamp wins
			s.opts.logger.WithFields(map[string]interface{}{
				"entity_type": typ,
				"entity_id":   id,
			}).Warn("soft delete matched no live row")
			return nil, reloadMarkers(tx, e)
		}
		return []*audit.Entry{s.entry(e, audit.ActionDeleted, now, audit.Deleted(), nil)}, nil
	}

	return nil, fmt.Errorf("cannot apply %s change to %s %s", c.State, typ, id)
}

// reloadMarkers replaces the in-memory delete markers of e with the stored
// ones. A missing row leaves them cleared.
func reloadMarkers(tx *gorm.DB, e Entity) error {
	var stored Tracked
	err := tx.Unscoped().Model(e).
		Select("deleted_at", "deleted_by_user_id", "deleted_by_api_key_id").
		Where("id = ?", e.EntityID()).
		Limit(1).
		Scan(&stored).Error
	if err != nil {
		return fmt.Errorf("failed to reload markers of %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	*e.Lifecycle() = stored
	return nil
}

func (s *Session) entry(e Entity, action audit.Action, now time.Time, changes []audit.FieldChange, diffErr error) *audit.Entry {
	if diffErr != nil {
		changes = nil
	}
	entry := audit.NewEntry(e.EntityType(), e.EntityID(), action, s.actor, now, changes)
	if diffErr != nil {
		msg := diffErr.Error()
		entry.DiffError = &msg
		s.opts.logger.WithError(diffErr).WithFields(map[string]interface{}{
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"action":      string(action),
		}).Warn("audit diff failed, writing degraded entry")
	}
	return entry
}

func removeKey(keys []entityKey, k entityKey) []entityKey {
	for i := range keys {
		if keys[i] == k {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
