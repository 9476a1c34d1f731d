package merge

import (
	"fmt"

	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
)

// Side identifies which record of a merge pair an error refers to.
type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// NotFoundError reports that one side of a merge does not exist.
type NotFoundError struct {
	Entity string
	Side   Side
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found: %s", e.Side, e.Entity, e.ID)
}

// Is matches crmerrors.ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == crmerrors.ErrNotFound
}
