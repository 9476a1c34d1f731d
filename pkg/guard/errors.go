package guard

import (
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
)

// DuplicateConflictError reports a create that was refused because the
// record already exists. Matches are ordered strongest first.
type DuplicateConflictError struct {
	Entity  string
	Matches []dedup.Match
	Message string
	// RaceDetected is set when the store's uniqueness constraint caught a
	// duplicate that the pre-insert check did not see.
	RaceDetected bool
}

func (e *DuplicateConflictError) Error() string {
	return e.Message
}

// Is matches crmerrors.ErrDuplicateConflict.
func (e *DuplicateConflictError) Is(target error) bool {
	return target == crmerrors.ErrDuplicateConflict
}

// Top returns the strongest competing record.
func (e *DuplicateConflictError) Top() (dedup.Match, bool) {
	if len(e.Matches) == 0 {
		return dedup.Match{}, false
	}
	return e.Matches[0], true
}
