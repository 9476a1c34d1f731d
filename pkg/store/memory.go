package store

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
)

// Method names a Store call, used to target injected faults and hooks.
type Method string

const (
	MethodGet         Method = "get"
	MethodSelect      Method = "select"
	MethodInsert      Method = "insert"
	MethodUpdate      Method = "update"
	MethodUpdateWhere Method = "update_where"
	MethodDelete      Method = "delete"
)

type memTable struct {
	rows map[string]Record
	ids  []string
}

type interceptor struct {
	method Method
	table  string
	err    error
	fn     func()
}

// Memory is an in-process Store. It mimics the PostgreSQL store closely
// enough for the core's tests: LIKE semantics, NULL handling, uniqueness
// constraints, missing columns and one-shot fault injection.
//
// WithTx gives rollback on error but no isolation from concurrent callers.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string]*memTable
	unique  map[string][]string
	missing map[string]map[string]bool

	interceptMu  sync.Mutex
	interceptors []interceptor
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithUniqueColumns declares single-column uniqueness constraints on table.
func WithUniqueColumns(table string, columns ...string) MemoryOption {
	return func(m *Memory) {
		m.unique[table] = append(m.unique[table], columns...)
	}
}

// WithMissingColumns simulates a deployment whose table lacks the given columns.
func WithMissingColumns(table string, columns ...string) MemoryOption {
	return func(m *Memory) {
		if m.missing[table] == nil {
			m.missing[table] = make(map[string]bool)
		}
		for _, c := range columns {
			m.missing[table][c] = true
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables:  make(map[string]*memTable),
		unique:  make(map[string][]string),
		missing: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next call of method on table return err.
func (m *Memory) FailNext(method Method, table string, err error) {
	m.interceptMu.Lock()
	defer m.interceptMu.Unlock()
	m.interceptors = append(m.interceptors, interceptor{method: method, table: table, err: err})
}

// BeforeNext runs fn right before the next call of method on table executes.
// fn may call back into the store.
func (m *Memory) BeforeNext(method Method, table string, fn func()) {
	m.interceptMu.Lock()
	defer m.interceptMu.Unlock()
	m.interceptors = append(m.interceptors, interceptor{method: method, table: table, fn: fn})
}

func (m *Memory) intercept(method Method, table string) error {
	m.interceptMu.Lock()
	var hit *interceptor
	for i, ic := range m.interceptors {
		if ic.method == method && ic.table == table {
			hit = &ic
			m.interceptors = slices.Delete(m.interceptors, i, i+1)
			break
		}
	}
	m.interceptMu.Unlock()

	if hit == nil {
		return nil
	}
	if hit.fn != nil {
		hit.fn()
	}
	return hit.err
}

// Rows returns a copy of every row in table, in insertion order.
func (m *Memory) Rows(table string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[table]
	if t == nil {
		return nil
	}
	out := make([]Record, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.rows[id].Clone())
	}
	return out
}

func (m *Memory) table(name string) *memTable {
	t := m.tables[name]
	if t == nil {
		t = &memTable{rows: make(map[string]Record)}
		m.tables[name] = t
	}
	return t
}

func (m *Memory) Get(ctx context.Context, table, id string) (Record, error) {
	if err := m.intercept(MethodGet, table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.tables[table]
	if t == nil {
		return nil, nil
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

func (m *Memory) Select(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	if err := m.intercept(MethodSelect, table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkFilterColumns(table, filters); err != nil {
		return nil, err
	}

	t := m.tables[table]
	if t == nil {
		return nil, nil
	}
	var out []Record
	for _, id := range t.ids {
		row := t.rows[id]
		ok, err := matchesAll(row, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, table string, row Record) (Record, error) {
	if err := m.intercept(MethodInsert, table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkColumns(table, row); err != nil {
		return nil, err
	}

	row = row.Clone()
	id, _ := row["id"].(string)
	if id == "" {
		id = uuid.NewString()
		row["id"] = id
	}

	t := m.table(table)
	if _, exists := t.rows[id]; exists {
		return nil, crmerrors.NewStoreError(crmerrors.KindUniqueViolation, table, "id",
			"duplicate key value violates unique constraint %q", table+"_pkey")
	}
	if err := m.checkUnique(table, t, id, row); err != nil {
		return nil, err
	}

	t.rows[id] = row
	t.ids = append(t.ids, id)
	return row.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, table, id string, row Record) (Record, error) {
	if err := m.intercept(MethodUpdate, table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkColumns(table, row); err != nil {
		return nil, err
	}

	t := m.tables[table]
	if t == nil || t.rows[id] == nil {
		return nil, fmt.Errorf("update %s %s: %w", table, id, crmerrors.ErrNotFound)
	}

	updated := t.rows[id].Clone()
	for k, v := range row.Clone() {
		if k == "id" {
			continue
		}
		updated[k] = v
	}
	if err := m.checkUnique(table, t, id, updated); err != nil {
		return nil, err
	}

	t.rows[id] = updated
	return updated.Clone(), nil
}

func (m *Memory) UpdateWhere(ctx context.Context, table string, set Record, filters ...Filter) (int64, error) {
	if err := m.intercept(MethodUpdateWhere, table); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkColumns(table, set); err != nil {
		return 0, err
	}
	if err := m.checkFilterColumns(table, filters); err != nil {
		return 0, err
	}

	t := m.tables[table]
	if t == nil {
		return 0, nil
	}

	var n int64
	for _, id := range t.ids {
		row := t.rows[id]
		ok, err := matchesAll(row, filters)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		for k, v := range set.Clone() {
			if k != "id" {
				row[k] = v
			}
		}
		n++
	}
	return n, nil
}

func (m *Memory) Delete(ctx context.Context, table, id string) error {
	if err := m.intercept(MethodDelete, table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[table]
	if t == nil || t.rows[id] == nil {
		return fmt.Errorf("delete %s %s: %w", table, id, crmerrors.ErrNotFound)
	}
	delete(t.rows, id)
	t.ids = slices.DeleteFunc(t.ids, func(s string) bool { return s == id })
	return nil
}

// WithTx snapshots every table, runs fn and restores the snapshot if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(tx Store) error) error {
	m.mu.RLock()
	snapshot := make(map[string]*memTable, len(m.tables))
	for name, t := range m.tables {
		cp := &memTable{rows: make(map[string]Record, len(t.rows)), ids: slices.Clone(t.ids)}
		for id, row := range t.rows {
			cp.rows[id] = row.Clone()
		}
		snapshot[name] = cp
	}
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.tables = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) checkColumns(table string, row Record) error {
	for col := range row {
		if m.missing[table][col] {
			return crmerrors.NewStoreError(crmerrors.KindUndefinedColumn, table, col,
				"column %q of relation %q does not exist", col, table)
		}
	}
	return nil
}

func (m *Memory) checkFilterColumns(table string, filters []Filter) error {
	for _, f := range filters {
		if m.missing[table][f.Column] {
			return crmerrors.NewStoreError(crmerrors.KindUndefinedColumn, table, f.Column,
				"column %q does not exist", f.Column)
		}
	}
	return nil
}

func (m *Memory) checkUnique(table string, t *memTable, id string, row Record) error {
	for _, col := range m.unique[table] {
		v := row[col]
		if isNull(v) {
			continue
		}
		for otherID, other := range t.rows {
			if otherID != id && reflect.DeepEqual(other[col], v) {
				return crmerrors.NewStoreError(crmerrors.KindUniqueViolation, table, col,
					"duplicate key value violates unique constraint %q", table+"_"+col+"_key")
			}
		}
	}
	return nil
}

func matchesAll(row Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matches(row, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matches(row Record, f Filter) (bool, error) {
	v := row[f.Column]

	switch f.Op {
	case OpEqual:
		if isNull(f.Value) {
			return isNull(v), nil
		}
		return !isNull(v) && reflect.DeepEqual(v, f.Value), nil
	case OpNotNull:
		return !isNull(v), nil
	case OpILike:
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		pattern, _ := f.Value.(string)
		re, err := likeRegexp(pattern)
		if err != nil {
			return false, fmt.Errorf("compile pattern %q: %w", pattern, err)
		}
		return re.MatchString(s), nil
	case OpOverlaps:
		want, _ := f.Value.([]string)
		have, _ := v.([]string)
		for _, h := range have {
			if slices.Contains(want, h) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unsupported filter operator %q", f.Op)
	}
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
