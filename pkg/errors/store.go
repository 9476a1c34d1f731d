package errors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// StoreErrorKind classifies a backing-store failure.
type StoreErrorKind string

const (
	KindUniqueViolation StoreErrorKind = "unique_violation"
	KindUndefinedColumn StoreErrorKind = "undefined_column"
	KindOther           StoreErrorKind = "other"
)

// SQLSTATE codes the core distinguishes.
const (
	CodeUniqueViolation = "23505"
	CodeUndefinedColumn = "42703"
)

// sqlStateKinds is the single code-to-kind mapping for stores that expose
// SQLSTATE codes (pgx and lib/pq). Codes not listed here map to KindOther.
var sqlStateKinds = map[string]StoreErrorKind{
	CodeUniqueViolation: KindUniqueViolation,
	CodeUndefinedColumn: KindUndefinedColumn,
}

// StoreErrorKindInfo contains metadata about a store error kind.
type StoreErrorKindInfo struct {
	Kind            StoreErrorKind
	Description     string
	SuggestedAction string
}

// StoreErrorKindRegistry maps kinds to their metadata.
var StoreErrorKindRegistry = map[StoreErrorKind]StoreErrorKindInfo{
	KindUniqueViolation: {
		Kind:            KindUniqueViolation,
		Description:     "A uniqueness constraint rejected the write",
		SuggestedAction: "Look up the existing record: penf-crm contact check / penf-crm deal check",
	},
	KindUndefinedColumn: {
		Kind:            KindUndefinedColumn,
		Description:     "The database schema is missing a column this build writes",
		SuggestedAction: "Apply the latest CRM schema migrations, or continue without the optional field",
	},
	KindOther: {
		Kind:            KindOther,
		Description:     "Unclassified database error",
		SuggestedAction: "Check connectivity and logs: penf-crm health",
	},
}

// GetSuggestedAction returns the suggested action for the given kind.
func GetSuggestedAction(kind StoreErrorKind) string {
	if info, ok := StoreErrorKindRegistry[kind]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details"
}

// StoreError is a classified backing-store failure. Message carries the
// store's original text unchanged.
type StoreError struct {
	Kind    StoreErrorKind
	Code    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is lets callers match store errors against the domain sentinels.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Kind == KindUniqueViolation
	case ErrSchemaSkew:
		return e.Kind == KindUndefinedColumn
	}
	return false
}

// NewStoreError builds a StoreError of the given kind, used by stores that
// produce their own failures (the in-memory store).
func NewStoreError(kind StoreErrorKind, table, column, format string, args ...any) *StoreError {
	code := ""
	for c, k := range sqlStateKinds {
		if k == kind {
			code = c
		}
	}
	return &StoreError{
		Kind:    kind,
		Code:    code,
		Table:   table,
		Column:  column,
		Message: fmt.Sprintf(format, args...),
	}
}

var columnPattern = regexp.MustCompile(`column "?([\w.]+?)"?(?: of relation "[^"]*")? does not exist`)

// ClassifyStoreError converts a driver error into a *StoreError.
//
// Structured codes win: *pgconn.PgError and *pq.Error are mapped through
// sqlStateKinds. Errors without a code fall back to message inspection, where
// the "column ... does not exist" wording is checked before uniqueness wording
// so a missing column is never mistaken for a duplicate. Context errors and
// nil pass through untouched.
func ClassifyStoreError(err error, table string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *StoreError
	if errors.As(err, &se) {
		return err
	}

	se = &StoreError{
		Kind:    KindOther,
		Table:   table,
		Message: err.Error(),
		Cause:   err,
	}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		se.Code = pgErr.Code
		se.Kind = kindForCode(pgErr.Code)
		se.Column = pgErr.ColumnName
		if pgErr.TableName != "" {
			se.Table = pgErr.TableName
		}
	case errors.As(err, &pqErr):
		se.Code = string(pqErr.Code)
		se.Kind = kindForCode(se.Code)
		se.Column = pqErr.Column
		if pqErr.Table != "" {
			se.Table = pqErr.Table
		}
	default:
		se.Kind = kindForMessage(se.Message)
	}

	if se.Kind == KindUndefinedColumn && se.Column == "" {
		se.Column = columnFromMessage(se.Message)
	}
	return se
}

func kindForCode(code string) StoreErrorKind {
	if kind, ok := sqlStateKinds[code]; ok {
		return kind
	}
	return KindOther
}

func kindForMessage(msg string) StoreErrorKind {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "column") && strings.Contains(lower, "does not exist") {
		return KindUndefinedColumn
	}
	if strings.Contains(lower, "duplicate key") || strings.Contains(lower, "unique constraint") || strings.Contains(lower, "violates unique") {
		return KindUniqueViolation
	}
	return KindOther
}

func columnFromMessage(msg string) string {
	m := columnPattern.FindStringSubmatch(msg)
	if m == nil {
		return ""
	}
	col := m[1]
	if i := strings.LastIndex(col, "."); i >= 0 {
		col = col[i+1:]
	}
	return col
}

// IsUniqueViolation reports whether err is a store uniqueness violation.
func IsUniqueViolation(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindUniqueViolation
}

// IsUndefinedColumn reports whether err is a store "column does not exist" failure.
func IsUndefinedColumn(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == KindUndefinedColumn
}

// MissingColumn returns the column named by an undefined-column error, or "".
func MissingColumn(err error) string {
	var se *StoreError
	if errors.As(err, &se) && se.Kind == KindUndefinedColumn {
		return se.Column
	}
	return ""
}

// KindOf returns the kind of the StoreError in err's chain, or KindOther.
func KindOf(err error) StoreErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// IsMissingColumn reports whether err is an undefined-column error for column.
// When the store did not name the column, the message is checked instead.
func IsMissingColumn(err error, column string) bool {
	var se *StoreError
	if !errors.As(err, &se) || se.Kind != KindUndefinedColumn {
		return false
	}
	if se.Column != "" {
		return se.Column == column
	}
	return strings.Contains(strings.ToLower(se.Message), strings.ToLower(column))
}
