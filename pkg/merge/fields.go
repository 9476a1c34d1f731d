package merge

import (
	"time"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
)

// MergeContactFields consolidates source into target. The result keeps the
// target's id and creation time; every scalar field takes the target's value
// when present and the source's otherwise; tags are the union of both.
func MergeContactFields(source, target crm.Contact, now time.Time) crm.Contact {
	return crm.Contact{
		ID:        target.ID,
		FirstName: coalesce(target.FirstName, source.FirstName),
		LastName:  coalesce(target.LastName, source.LastName),
		Email:     coalesce(target.Email, source.Email),
		Phone:     coalesce(target.Phone, source.Phone),
		Role:      coalesce(target.Role, source.Role),
		AccountID: coalesce(target.AccountID, source.AccountID),
		Tags:      unionTags(target.Tags, source.Tags),
		CreatedAt: target.CreatedAt,
		UpdatedAt: now,
	}
}

// MergeDealFields consolidates source into target under the contact rules,
// except that amounts are summed when both deals carry one.
func MergeDealFields(source, target crm.Deal, now time.Time) crm.Deal {
	status := target.Status
	if status == "" {
		status = source.Status
	}

	closeDate := target.CloseDate
	if closeDate == nil {
		closeDate = source.CloseDate
	}
	if closeDate != nil {
		cd := *closeDate
		closeDate = &cd
	}

	return crm.Deal{
		ID:         target.ID,
		Name:       coalesce(target.Name, source.Name),
		AccountID:  coalesce(target.AccountID, source.AccountID),
		PipelineID: coalesce(target.PipelineID, source.PipelineID),
		Amount:     sumAmounts(target.Amount, source.Amount),
		Stage:      coalesce(target.Stage, source.Stage),
		Status:     status,
		CloseDate:  closeDate,
		Tags:       unionTags(target.Tags, source.Tags),
		CreatedAt:  target.CreatedAt,
		UpdatedAt:  now,
	}
}

func coalesce(target, source string) string {
	if target != "" {
		return target
	}
	return source
}

// sumAmounts adds both amounts, or returns a copy of whichever is set.
func sumAmounts(target, source *float64) *float64 {
	var out float64
	switch {
	case target != nil && source != nil:
		out = *target + *source
	case target != nil:
		out = *target
	case source != nil:
		out = *source
	default:
		return nil
	}
	return &out
}

// unionTags keeps target order, then appends unseen source tags. Nil on both
// sides stays nil so the tags column is left untouched.
func unionTags(target, source []string) []string {
	if target == nil && source == nil {
		return nil
	}
	out := make([]string, 0, len(target)+len(source))
	seen := make(map[string]bool, len(target)+len(source))
	for _, list := range [][]string{target, source} {
		for _, tag := range list {
			if seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
