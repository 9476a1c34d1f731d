// Package store defines the backing-store contract the CRM core reads from and
// writes to, plus two implementations: a PostgreSQL store built on pgx and an
// in-memory store used by tests and local tooling.
//
// The core never owns the schema. Every table it touches is expected to have a
// text or uuid "id" primary key.
package store

import (
	"context"
	"sort"
)

// Record is a single row keyed by column name. A nil value is SQL NULL.
type Record map[string]any

// Clone returns a shallow copy of the record with slice values copied.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		if s, ok := v.([]string); ok {
			v = append([]string(nil), s...)
		}
		out[k] = v
	}
	return out
}

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Operator is a filter comparison.
type Operator string

const (
	// OpEqual matches column = value, or column IS NULL when value is nil.
	OpEqual Operator = "eq"
	// OpILike matches column ILIKE pattern. '%' and '_' are wildcards and '\' escapes.
	OpILike Operator = "ilike"
	// OpNotNull matches rows where the column has a value.
	OpNotNull Operator = "not_null"
	// OpOverlaps matches array columns sharing at least one element with value.
	OpOverlaps Operator = "overlaps"
)

// Filter restricts a Select or UpdateWhere.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// Equal filters on column equality.
func Equal(column string, value any) Filter {
	return Filter{Column: column, Op: OpEqual, Value: value}
}

// ILike filters on a case-insensitive LIKE pattern.
func ILike(column, pattern string) Filter {
	return Filter{Column: column, Op: OpILike, Value: pattern}
}

// NotNull filters out rows where column is NULL.
func NotNull(column string) Filter {
	return Filter{Column: column, Op: OpNotNull}
}

// Overlaps filters array columns that share an element with values.
func Overlaps(column string, values []string) Filter {
	return Filter{Column: column, Op: OpOverlaps, Value: values}
}

// Store is the CRUD surface of the backing relational store.
//
// Get returns (nil, nil) when no row has the id. Write failures are returned
// as *errors.StoreError so callers can tell uniqueness violations and missing
// columns apart from everything else.
type Store interface {
	Get(ctx context.Context, table, id string) (Record, error)
	Select(ctx context.Context, table string, filters ...Filter) ([]Record, error)
	Insert(ctx context.Context, table string, row Record) (Record, error)
	Update(ctx context.Context, table, id string, row Record) (Record, error)
	UpdateWhere(ctx context.Context, table string, set Record, filters ...Filter) (int64, error)
	Delete(ctx context.Context, table, id string) error
}

// Transactor is implemented by stores that can run a group of calls atomically.
// fn receives a Store bound to the transaction; returning an error rolls back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// RunInTx runs fn inside a transaction when s supports one, and directly on s
// otherwise. The second return value reports whether a transaction was used.
func RunInTx(ctx context.Context, s Store, fn func(tx Store) error) (bool, error) {
	if t, ok := s.(Transactor); ok {
		return true, t.WithTx(ctx, fn)
	}
	return false, fn(s)
}
