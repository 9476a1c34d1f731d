package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	db     dbtx
	logger logging.Logger
}

// NewPostgres creates a Postgres store on an open pool.
func NewPostgres(pool *pgxpool.Pool, logger logging.Logger) *Postgres {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &Postgres{
		pool:   pool,
		db:     pool,
		logger: logger.With(logging.F("component", "postgres_store")),
	}
}

func (p *Postgres) Get(ctx context.Context, table, id string) (Record, error) {
	query, args, err := buildGet(table, id)
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, table, query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (p *Postgres) Select(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	query, args, err := buildSelect(table, filters)
	if err != nil {
		return nil, err
	}
	return p.query(ctx, table, query, args)
}

func (p *Postgres) Insert(ctx context.Context, table string, row Record) (Record, error) {
	query, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, table, query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", table)
	}
	return rows[0], nil
}

func (p *Postgres) Update(ctx context.Context, table, id string, row Record) (Record, error) {
	query, args, err := buildUpdate(table, id, row)
	if err != nil {
		return nil, err
	}
	rows, err := p.query(ctx, table, query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s %s: %w", table, id, crmerrors.ErrNotFound)
	}
	return rows[0], nil
}

func (p *Postgres) UpdateWhere(ctx context.Context, table string, set Record, filters ...Filter) (int64, error) {
	query, args, err := buildUpdateWhere(table, set, filters)
	if err != nil {
		return 0, err
	}
	tag, err := p.exec(ctx, table, query, args)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	query, args, err := buildDelete(table, id)
	if err != nil {
		return err
	}
	tag, err := p.exec(ctx, table, query, args)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, crmerrors.ErrNotFound)
	}
	return nil
}

// WithTx runs fn in a database transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if p.pool == nil {
		return fmt.Errorf("transaction already in progress")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return crmerrors.ClassifyStoreError(fmt.Errorf("begin transaction: %w", err), "")
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{db: tx, logger: p.logger}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return crmerrors.ClassifyStoreError(fmt.Errorf("commit transaction: %w", err), "")
	}
	return nil
}

func (p *Postgres) query(ctx context.Context, table, query string, args []any) ([]Record, error) {
	p.logger.Debug("store query", logging.F("table", table), logging.F("sql", query))

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, p.fail(table, query, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, p.fail(table, query, err)
		}
		rec := make(Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fail(table, query, err)
	}
	return out, nil
}

func (p *Postgres) exec(ctx context.Context, table, query string, args []any) (pgconn.CommandTag, error) {
	p.logger.Debug("store exec", logging.F("table", table), logging.F("sql", query))

	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return tag, p.fail(table, query, err)
	}
	return tag, nil
}

func (p *Postgres) fail(table, query string, err error) error {
	classified := crmerrors.ClassifyStoreError(err, table)
	var se *crmerrors.StoreError
	if errors.As(classified, &se) {
		p.logger.Error("store operation failed",
			logging.Err(err),
			logging.F("table", table),
			logging.F("kind", string(se.Kind)),
			logging.F("sql", query))
	}
	return classified
}

// normalizeValue converts pgx decoded values into the plain Go types the rest
// of the core expects.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []any:
		strs := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return x
			}
			strs = append(strs, s)
		}
		return strs
	default:
		return v
	}
}

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identPattern.MatchString(n) {
			return fmt.Errorf("invalid identifier %q: %w", n, crmerrors.ErrValidation)
		}
	}
	return nil
}

func buildGet(table, id string) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(table)
	sb.Where(sb.Equal("id", id))
	sb.Limit(1)

	query, args := sb.Build()
	return query, args, nil
}

func buildSelect(table string, filters []Filter) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("*")
	sb.From(table)

	where, err := conditions(&sb.Cond, filters)
	if err != nil {
		return "", nil, err
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("id")

	query, args := sb.Build()
	return query, args, nil
}

func buildInsert(table string, row Record) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("insert into %s: empty row: %w", table, crmerrors.ErrValidation)
	}
	cols := row.Columns()
	if err := checkIdent(append([]string{table}, cols...)...); err != nil {
		return "", nil, err
	}

	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = row[c]
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	ib.Values(values...)

	query, args := ib.Build()
	return query + " RETURNING *", args, nil
}

func buildUpdate(table, id string, row Record) (string, []any, error) {
	ub, err := updateBuilder(table, row)
	if err != nil {
		return "", nil, err
	}
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	return query + " RETURNING *", args, nil
}

func buildUpdateWhere(table string, set Record, filters []Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("update %s without filters: %w", table, crmerrors.ErrValidation)
	}
	ub, err := updateBuilder(table, set)
	if err != nil {
		return "", nil, err
	}
	where, err := conditions(&ub.Cond, filters)
	if err != nil {
		return "", nil, err
	}
	ub.Where(where...)

	query, args := ub.Build()
	return query, args, nil
}

func updateBuilder(table string, set Record) (*sqlbuilder.UpdateBuilder, error) {
	set = set.Clone()
	delete(set, "id")
	if len(set) == 0 {
		return nil, fmt.Errorf("update %s: nothing to set: %w", table, crmerrors.ErrValidation)
	}
	cols := set.Columns()
	if err := checkIdent(append([]string{table}, cols...)...); err != nil {
		return nil, err
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, len(cols))
	for i, c := range cols {
		assignments[i] = ub.Assign(c, set[c])
	}
	ub.Set(assignments...)
	return ub, nil
}

func buildDelete(table, id string) (string, []any, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	return query, args, nil
}

func conditions(cond *sqlbuilder.Cond, filters []Filter) ([]string, error) {
	where := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := checkIdent(f.Column); err != nil {
			return nil, err
		}
		switch f.Op {
		case OpEqual:
			if isNull(f.Value) {
				where = append(where, cond.IsNull(f.Column))
			} else {
				where = append(where, cond.Equal(f.Column, f.Value))
			}
		case OpILike:
			where = append(where, fmt.Sprintf("%s ILIKE %s", f.Column, cond.Var(f.Value)))
		case OpNotNull:
			where = append(where, cond.IsNotNull(f.Column))
		case OpOverlaps:
			where = append(where, fmt.Sprintf("%s && %s", f.Column, cond.Var(f.Value)))
		default:
			return nil, fmt.Errorf("unsupported filter operator %q: %w", f.Op, crmerrors.ErrValidation)
		}
	}
	return where, nil
}
