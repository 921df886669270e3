package audit

import (
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type invoice struct {
	ID         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Number     string
	Amount     decimal.Decimal `gorm:"type:decimal(20,4)"`
	DueAt      *time.Time
	Paid       bool
	Lines      int
	Secret     string `audit:"-"`
	CustomerID *string
	Items      []invoiceItem `gorm:"foreignKey:InvoiceID"`
}

type invoiceItem struct {
	ID        string `gorm:"primaryKey"`
	InvoiceID string
	Label     string
}

type creditNote struct {
	ID     string `gorm:"primaryKey"`
	Number string
}

func fields(changes []FieldChange) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Field)
	}
	return out
}

func TestDiffBuilder_UpdatedSingleField(t *testing.T) {
	d := NewDiffBuilder()
	inv := &invoice{ID: "i1", Number: "INV-1", Amount: decimal.RequireFromString("10.50"), Paid: true}

	before, err := d.Snapshot(inv)
	require.NoError(t, err)

	inv.Number = "INV-2"
	inv.UpdatedAt = time.Now()

	changes, err := d.Updated(before, inv)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "Number", changes[0].Field)
	assert.Equal(t, "INV-1", *changes[0].OldValue)
	assert.Equal(t, "INV-2", *changes[0].NewValue)
}

func TestDiffBuilder_UpdatedOrderAndRendering(t *testing.T) {
	d := NewDiffBuilder()
	due := time.Date(2024, 3, 1, 9, 30, 0, 500, time.FixedZone("X", 3600))
	customer := "c1"

	before := invoice{ID: "i1", Number: "INV-1", Amount: decimal.RequireFromString("10.50"), CustomerID: &customer}
	after := before
	after.Amount = decimal.RequireFromString("12.25")
	after.DueAt = &due
	after.CustomerID = nil
	after.Lines = 3
	after.Secret = "changed but ignored"
	after.Items = []invoiceItem{{ID: "x"}}

	changes, err := d.Updated(&before, &after)
	require.NoError(t, err)
	assert.Equal(t, []string{"Amount", "DueAt", "Lines", "CustomerID"}, fields(changes))

	assert.Equal(t, "10.5", *changes[0].OldValue)
	assert.Equal(t, "12.25", *changes[0].NewValue)

	assert.Nil(t, changes[1].OldValue)
	assert.Equal(t, "2024-03-01T08:30:00.0000005Z", *changes[1].NewValue)

	assert.Equal(t, "0", *changes[2].OldValue)
	assert.Equal(t, "3", *changes[2].NewValue)

	assert.Equal(t, "c1", *changes[3].OldValue)
	assert.Nil(t, changes[3].NewValue)
}

func TestDiffBuilder_UpdatedNoChanges(t *testing.T) {
	d := NewDiffBuilder()
	inv := &invoice{ID: "i1", Number: "INV-1"}
	changes, err := d.Updated(*inv, inv)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.NotNil(t, changes)
}

func TestDiffBuilder_UpdatedTypeMismatch(t *testing.T) {
	d := NewDiffBuilder()
	_, err := d.Updated(&invoice{ID: "i1"}, &creditNote{ID: "c1"})
	assert.Error(t, err)
}

func TestDiffBuilder_Created(t *testing.T) {
	d := NewDiffBuilder()
	inv := &invoice{
		ID:        "i1",
		CreatedAt: time.Now(),
		Number:    "INV-1",
		Amount:    decimal.RequireFromString("99.99"),
		Paid:      true,
		Secret:    "hidden",
	}

	changes, err := d.Created(inv)
	require.NoError(t, err)
	assert.Equal(t, []string{"Number", "Amount", "Paid"}, fields(changes))
	for _, c := range changes {
		assert.Nil(t, c.OldValue, c.Field)
		require.NotNil(t, c.NewValue, c.Field)
	}
	assert.Equal(t, "true", *changes[2].NewValue)
}

func TestDiffBuilder_Markers(t *testing.T) {
	assert.Empty(t, Deleted())
	assert.NotNil(t, Deleted())
	assert.Empty(t, Restored())
}

func TestRenderValue(t *testing.T) {
	s := "text"
	var nilStr *string

	tests := []struct {
		name string
		in   interface{}
		want *string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "nil pointer", in: nilStr, want: nil},
		{name: "string pointer", in: &s, want: str("text")},
		{name: "int64", in: int64(-42), want: str("-42")},
		{name: "uint8", in: uint8(7), want: str("7")},
		{name: "float64", in: 1.5, want: str("1.5")},
		{name: "bool", in: false, want: str("false")},
		{name: "decimal", in: decimal.RequireFromString("1.2300"), want: str("1.23")},
		{name: "null decimal", in: decimal.NullDecimal{}, want: nil},
		{name: "time", in: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), want: str("2024-01-02T03:04:05Z")},
		{name: "sql null string", in: sql.NullString{String: "v", Valid: true}, want: str("v")},
		{name: "sql null int", in: sql.NullInt64{}, want: nil},
		{name: "deleted at unset", in: gorm.DeletedAt{}, want: nil},
		{name: "named string", in: ActionUpdated, want: str("Updated")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderValue(tt.in)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := RenderValue(struct{ A int }{A: 1})
		assert.ErrorIs(t, err, ErrUnsupportedValue)
	})
}
