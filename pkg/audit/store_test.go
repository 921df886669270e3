package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/storage/storagetest"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*gorm.DB, *Store) {
	t.Helper()
	db := storagetest.New(t, &Entry{})
	return db, NewStore(db)
}

func seed(t *testing.T, db *gorm.DB, entries ...*Entry) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return Append(tx, entries)
	}))
}

func TestAppend_Defaults(t *testing.T) {
	db, store := setupStore(t)

	e := &Entry{EntityType: "Account", EntityID: "a1", Action: ActionDeleted}
	seed(t, db, e)

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.ChangedAt.IsZero())

	got, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ActionDeleted, got.Action)
	assert.NotNil(t, got.Changes)
	assert.Empty(t, got.Changes)
	assert.False(t, got.Degraded())
}

func TestAppend_RoundTripsChanges(t *testing.T) {
	db, store := setupStore(t)

	changes := []FieldChange{
		{Field: "Name", OldValue: str("Checking"), NewValue: str("Operating")},
		{Field: "Notes", OldValue: str("x"), NewValue: nil},
	}
	e := NewEntry("Account", "a1", ActionUpdated, actor.User("u1"), epoch, changes)
	seed(t, db, e)

	got, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Changes, 2)
	assert.Equal(t, "Operating", *got.Changes[0].NewValue)
	assert.Nil(t, got.Changes[1].NewValue)
	require.NotNil(t, got.ChangedByUserID)
	assert.Equal(t, "u1", *got.ChangedByUserID)
	assert.Nil(t, got.ChangedByAPIKeyID)
	assert.True(t, got.ChangedAt.Equal(epoch))
}

func TestStore_GetMissing(t *testing.T) {
	_, store := setupStore(t)
	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEntry_Immutable(t *testing.T) {
	db, _ := setupStore(t)
	e := NewEntry("Account", "a1", ActionCreated, actor.System(), epoch, nil)
	seed(t, db, e)

	err := db.Model(e).Update("action", ActionDeleted).Error
	assert.ErrorIs(t, err, ErrImmutable)

	err = db.Delete(e).Error
	assert.ErrorIs(t, err, ErrImmutable)

	var count int64
	require.NoError(t, db.Model(&Entry{}).Where("action = ?", ActionCreated).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_GetRecent(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seed(t, db, NewEntry("Account", fmt.Sprintf("a%d", i), ActionCreated, actor.System(), epoch.Add(time.Duration(i)*time.Minute), nil))
	}

	tests := []struct {
		count int
		want  []string
	}{
		{count: 3, want: []string{"a4", "a3", "a2"}},
		{count: 5, want: []string{"a4", "a3", "a2", "a1", "a0"}},
		{count: 50, want: []string{"a4", "a3", "a2", "a1", "a0"}},
		{count: 0, want: []string{}},
		{count: -1, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d", tt.count), func(t *testing.T) {
			got, err := store.GetRecent(ctx, tt.count)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.EntityID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_GetByEntityOldestFirst(t *testing.T) {
	db, store := setupStore(t)

	seed(t, db,
		NewEntry("Account", "a1", ActionDeleted, actor.System(), epoch.Add(2*time.Minute), nil),
		NewEntry("Account", "a1", ActionCreated, actor.System(), epoch, nil),
		NewEntry("Account", "a2", ActionCreated, actor.System(), epoch, nil),
		NewEntry("Receipt", "a1", ActionCreated, actor.System(), epoch, nil),
		NewEntry("Account", "a1", ActionUpdated, actor.System(), epoch.Add(time.Minute), nil),
	)

	got, err := store.GetByEntity(context.Background(), "Account", "a1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ActionCreated, got[0].Action)
	assert.Equal(t, ActionUpdated, got[1].Action)
	assert.Equal(t, ActionDeleted, got[2].Action)
}

func TestStore_ByActor(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	seed(t, db,
		NewEntry("Account", "a1", ActionCreated, actor.User("u1"), epoch, nil),
		NewEntry("Account", "a1", ActionUpdated, actor.User("u1"), epoch.Add(time.Minute), nil),
		NewEntry("Account", "a2", ActionCreated, actor.User("u2"), epoch, nil),
		NewEntry("Account", "a3", ActionCreated, actor.APIKey("k1"), epoch, nil),
	)

	byUser, err := store.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, ActionUpdated, byUser[0].Action)

	byKey, err := store.GetByAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	assert.Equal(t, "a3", byKey[0].EntityID)
	assert.Nil(t, byKey[0].ChangedByUserID)

	none, err := store.GetByAPIKey(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Search(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	seed(t, db,
		NewEntry("Account", "a1", ActionCreated, actor.User("u1"), epoch, nil),
		NewEntry("Account", "a1", ActionDeleted, actor.User("u1"), epoch.Add(time.Hour), nil),
		NewEntry("Account", "a1", ActionRestored, actor.APIKey("k1"), epoch.Add(2*time.Hour), nil),
		NewEntry("Receipt", "r1", ActionCreated, actor.User("u2"), epoch.Add(3*time.Hour), nil),
	)

	t.Run("default order is newest first", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, "r1", got[0].EntityID)
	})

	t.Run("ascending", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{SortOrder: "asc"})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, ActionCreated, got[0].Action)
		assert.Equal(t, "a1", got[0].EntityID)
	})

	t.Run("entity type and actions", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{
			EntityType: "Account",
			Actions:    []Action{ActionDeleted, ActionRestored},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ActionRestored, got[0].Action)
	})

	t.Run("time range is inclusive", func(t *testing.T) {
		start := epoch.Add(time.Hour)
		end := epoch.Add(2 * time.Hour)
		got, err := store.Search(ctx, Filter{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("actor", func(t *testing.T) {
		user := "u1"
		got, err := store.Search(ctx, Filter{UserID: &user})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		key := "k1"
		got, err = store.Search(ctx, Filter{APIKeyID: &key})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("pagination", func(t *testing.T) {
		got, err := store.Search(ctx, Filter{SortOrder: "asc", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, ActionDeleted, got[0].Action)
		assert.Equal(t, ActionRestored, got[1].Action)
	})
}

func TestStore_GetStats(t *testing.T) {
	db, store := setupStore(t)
	ctx := context.Background()

	degraded := NewEntry("Account", "a2", ActionUpdated, actor.System(), epoch.Add(time.Minute), nil)
	degraded.DiffError = str("field Amount: unsupported audit value")

	seed(t, db,
		NewEntry("Account", "a1", ActionCreated, actor.System(), epoch, nil),
		NewEntry("Account", "a1", ActionDeleted, actor.System(), epoch.Add(time.Minute), nil),
		NewEntry("Receipt", "r1", ActionCreated, actor.System(), epoch.Add(48*time.Hour), nil),
		degraded,
	)

	stats, err := store.GetStats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalEntries)
	assert.Equal(t, int64(2), stats.EntriesByAction[ActionCreated])
	assert.Equal(t, int64(1), stats.EntriesByAction[ActionDeleted])
	assert.Equal(t, int64(3), stats.EntriesByType["Account"])
	assert.Equal(t, int64(1), stats.DegradedEntries)
	assert.Nil(t, stats.TimeRange)

	end := epoch.Add(time.Hour)
	stats, err = store.GetStats(ctx, nil, &end)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Zero(t, stats.EntriesByType["Receipt"])
	require.NotNil(t, stats.TimeRange)
	assert.True(t, stats.TimeRange.End.Equal(end))
}
