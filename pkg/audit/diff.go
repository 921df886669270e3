package audit

import (
	"context"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
)

// ErrUnsupportedValue is returned when a column value has no stable string form.
var ErrUnsupportedValue = errors.New("unsupported audit value")

// Differ computes field-level change lists. DiffBuilder is the production
// implementation; the interface exists so the save pipeline can be tested
// with a failing one.
type Differ interface {
	Snapshot(model interface{}) (Snapshot, error)
	Created(after interface{}) ([]FieldChange, error)
	Updated(before, after interface{}) ([]FieldChange, error)
}

// FieldValue is one rendered column of a snapshot.
type FieldValue struct {
	Field string
	Value *string
	Zero  bool
}

// Snapshot is the rendered state of a model at one point in time.
type Snapshot struct {
	Type   string
	Fields []FieldValue
}

func (s Snapshot) lookup(field string) (FieldValue, bool) {
	for _, f := range s.Fields {
		if f.Field == field {
			return f, true
		}
	}
	return FieldValue{}, false
}

// DiffBuilder discovers auditable fields from the gorm schema of a model:
// persisted scalar columns only, minus the primary key, auto-managed
// timestamps and anything tagged `audit:"-"`.
type DiffBuilder struct {
	cache *sync.Map
	namer schema.Namer
}

// NewDiffBuilder returns a DiffBuilder with its own schema cache.
func NewDiffBuilder() *DiffBuilder {
	return &DiffBuilder{
		cache: &sync.Map{},
		namer: schema.NamingStrategy{},
	}
}

// Snapshot renders every auditable field of model.
func (d *DiffBuilder) Snapshot(model interface{}) (Snapshot, error) {
	if model == nil {
		return Snapshot{}, fmt.Errorf("%w: nil model", ErrUnsupportedValue)
	}

	s, err := schema.Parse(model, d.cache, d.namer)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse model schema: %w", err)
	}

	rv := reflect.Indirect(reflect.ValueOf(model))
	snap := Snapshot{Type: s.Name}

	ctx := context.Background()
	for _, f := range s.Fields {
		if !auditable(f) {
			continue
		}
		raw, zero := f.ValueOf(ctx, rv)
		rendered, err := RenderValue(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("field %s: %w", f.Name, err)
		}
		snap.Fields = append(snap.Fields, FieldValue{Field: f.Name, Value: rendered, Zero: zero})
	}
	return snap, nil
}

// Created lists every populated field with a null old value.
func (d *DiffBuilder) Created(after interface{}) ([]FieldChange, error) {
	snap, err := d.Snapshot(after)
	if err != nil {
		return nil, err
	}
	changes := []FieldChange{}
	for _, f := range snap.Fields {
		if f.Zero || f.Value == nil {
			continue
		}
		changes = append(changes, FieldChange{Field: f.Field, NewValue: f.Value})
	}
	return changes, nil
}

// Updated lists the fields whose rendered value differs. before may be a
// Snapshot taken when the entity was loaded or a model value of the same type.
func (d *DiffBuilder) Updated(before, after interface{}) ([]FieldChange, error) {
	var prev Snapshot
	switch b := before.(type) {
	case Snapshot:
		prev = b
	case *Snapshot:
		if b == nil {
			return nil, fmt.Errorf("%w: nil snapshot", ErrUnsupportedValue)
		}
		prev = *b
	default:
		var err error
		if prev, err = d.Snapshot(before); err != nil {
			return nil, err
		}
	}

	next, err := d.Snapshot(after)
	if err != nil {
		return nil, err
	}
	if prev.Type != next.Type {
		return nil, fmt.Errorf("cannot diff %s against %s", prev.Type, next.Type)
	}

	changes := []FieldChange{}
	for _, f := range next.Fields {
		old, _ := prev.lookup(f.Field)
		if equalValue(old.Value, f.Value) {
			continue
		}
		changes = append(changes, FieldChange{Field: f.Field, OldValue: old.Value, NewValue: f.Value})
	}
	return changes, nil
}

// Deleted is the change list for a soft delete: a bare marker.
func Deleted() []FieldChange {
	return []FieldChange{}
}

// Restored is the change list for a restore: a bare marker.
func Restored() []FieldChange {
	return []FieldChange{}
}

func auditable(f *schema.Field) bool {
	if f.DBName == "" || f.PrimaryKey {
		return false
	}
	if f.AutoCreateTime != 0 || f.AutoUpdateTime != 0 {
		return false
	}
	return f.Tag.Get("audit") != "-"
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RenderValue converts a column value into its stable string form. Nil and
// SQL NULL render as nil.
func RenderValue(v interface{}) (*string, error) {
	if v == nil {
		return nil, nil
	}

	switch t := v.(type) {
	case decimal.Decimal:
		return str(t.String()), nil
	case decimal.NullDecimal:
		if !t.Valid {
			return nil, nil
		}
		return str(t.Decimal.String()), nil
	case time.Time:
		return str(t.UTC().Format(time.RFC3339Nano)), nil
	case string:
		return str(t), nil
	case bool:
		return str(strconv.FormatBool(t)), nil
	case []byte:
		if t == nil {
			return nil, nil
		}
		return str(base64.StdEncoding.EncodeToString(t)), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		return RenderValue(rv.Elem().Interface())
	}

	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		if _, same := dv.(driver.Valuer); same {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
		}
		return RenderValue(dv)
	}

	switch rv.Kind() {
	case reflect.String:
		return str(rv.String()), nil
	case reflect.Bool:
		return str(strconv.FormatBool(rv.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return str(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return str(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32:
		return str(strconv.FormatFloat(rv.Float(), 'g', -1, 32)), nil
	case reflect.Float64:
		return str(strconv.FormatFloat(rv.Float(), 'g', -1, 64)), nil
	}

	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func str(s string) *string {
	return &s
}
