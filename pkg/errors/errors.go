// Package errors provides the domain error types shared by the CRM core.
//
// Sentinel errors describe conditions callers branch on ("not found",
// "duplicate conflict", "schema skew"). Structured errors returned by the
// store, merge and guard packages match these sentinels through errors.Is,
// so callers never need to inspect message text.
//
// Usage:
//
//	import crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
//
//	if crmerrors.IsDuplicateConflict(err) {
//	    // point the caller at merge or update
//	}
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the store rejected a write because of a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateConflict indicates a create was blocked because the record already exists
	// under a different identity.
	ErrDuplicateConflict = errors.New("duplicate conflict")

	// ErrSchemaSkew indicates an optional column is missing on this deployment.
	ErrSchemaSkew = errors.New("schema skew")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDuplicateConflict reports whether any error in err's chain is ErrDuplicateConflict.
func IsDuplicateConflict(err error) bool {
	return errors.Is(err, ErrDuplicateConflict)
}

// IsSchemaSkew reports whether any error in err's chain is ErrSchemaSkew.
func IsSchemaSkew(err error) bool {
	return errors.Is(err, ErrSchemaSkew)
}
