package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/storage/storagetest"
)

type project struct {
	Model
	Name   string
	Budget decimal.Decimal `gorm:"type:decimal(20,4)"`
}

func (*project) EntityType() string { return "Project" }

type task struct {
	Model
	ProjectID string `gorm:"size:36;index"`
	Title     string
	Done      bool
}

func (*task) EntityType() string { return "Task" }

type subtask struct {
	Model
	TaskID string `gorm:"size:36;index"`
	Title  string
}

func (*subtask) EntityType() string { return "Subtask" }

// comment references a project without being owned by it
type comment struct {
	Model
	ProjectID *string `gorm:"size:36;index"`
	Body      string
}

func (*comment) EntityType() string { return "Comment" }

var fixedNow = time.Date(2024, 5, 4, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// steppingClock advances one minute per call so audit entries order cleanly.
func steppingClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return fixedNow.Add(time.Duration(n) * time.Minute)
	}
}

func testPolicy() *CascadePolicy {
	p := NewCascadePolicy()
	Track[project](p)
	Track[comment](p)
	Owns[task](p, "Project", "project_id", func(t *task) *string { return &t.ProjectID })
	Owns[subtask](p, "Task", "task_id", func(s *subtask) *string { return &s.TaskID })
	return p
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	return storagetest.New(t, &project{}, &task{}, &subtask{}, &comment{}, &audit.Entry{})
}

func newSession(t *testing.T, db *gorm.DB, a actor.Actor, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithClock(clock)}, opts...)
	s, err := NewSession(db, testPolicy(), a, opts...)
	require.NoError(t, err)
	return s
}

type graph struct {
	project  *project
	tasks    []*task
	subtasks []*subtask
	comment  *comment
}

// seedGraph creates one project with two tasks, a subtask under the first
// task and a comment referencing the project.
func seedGraph(t *testing.T, db *gorm.DB) graph {
	t.Helper()
	s := newSession(t, db, actor.System())

	g := graph{project: &project{Name: "Apollo", Budget: decimal.RequireFromString("1000.50")}}
	require.NoError(t, s.Add(g.project))
	for _, title := range []string{"design", "build"} {
		tk := &task{ProjectID: g.project.ID, Title: title}
		require.NoError(t, s.Add(tk))
		g.tasks = append(g.tasks, tk)
	}
	st := &subtask{TaskID: g.tasks[0].ID, Title: "sketch"}
	require.NoError(t, s.Add(st))
	g.subtasks = append(g.subtasks, st)

	pid := g.project.ID
	g.comment = &comment{ProjectID: &pid, Body: "looks good"}
	require.NoError(t, s.Add(g.comment))

	_, err := s.Commit(context.Background())
	require.NoError(t, err)
	return g
}

func loadUnscoped[T any](t *testing.T, db *gorm.DB, id string) *T {
	t.Helper()
	var row T
	require.NoError(t, db.Unscoped().Where("id = ?", id).Take(&row).Error)
	return &row
}

func countActive(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func auditEntries(t *testing.T, db *gorm.DB, action audit.Action) []audit.Entry {
	t.Helper()
	var entries []audit.Entry
	require.NoError(t, db.Where("action = ?", action).Order("entity_type").Order("entity_id").Find(&entries).Error)
	return entries
}

var errDiff = errors.New("diff exploded")

// failingDiffer snapshots normally but cannot produce change lists.
type failingDiffer struct {
	*audit.DiffBuilder
}

func (failingDiffer) Created(interface{}) ([]audit.FieldChange, error) {
	return nil, errDiff
}

func (failingDiffer) Updated(interface{}, interface{}) ([]audit.FieldChange, error) {
	return nil, errDiff
}
