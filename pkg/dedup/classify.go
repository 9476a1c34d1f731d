package dedup

import (
	"cmp"
	"fmt"
	"slices"
)

// NoDuplicatesMessage is the message for an empty match list.
const NoDuplicatesMessage = "No duplicates found"

// Thresholds maps the strongest similarity to an action. The first matching
// rule wins: >= Merge is merge, >= Update is update, anything else is create.
type Thresholds struct {
	Merge  float64
	Update float64
}

var (
	// ContactThresholds are the classification thresholds for contacts.
	ContactThresholds = Thresholds{Merge: 0.9, Update: 0.7}
	// DealThresholds are the classification thresholds for deals.
	DealThresholds = Thresholds{Merge: 0.9, Update: 0.8}
)

// ClassifyContactMatches classifies contact matches.
func ClassifyContactMatches(matches []Match) *Result {
	return classify("contact", ContactThresholds, matches)
}

// ClassifyDealMatches classifies deal matches.
func ClassifyDealMatches(matches []Match) *Result {
	return classify("deal", DealThresholds, matches)
}

// classify is pure: it sorts a copy of matches and never touches the input.
func classify(entity string, th Thresholds, matches []Match) *Result {
	if len(matches) == 0 {
		return &Result{
			IsDuplicate:     false,
			Matches:         []Match{},
			SuggestedAction: ActionCreate,
			Message:         NoDuplicatesMessage,
		}
	}

	sorted := slices.Clone(matches)
	slices.SortStableFunc(sorted, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})

	top := sorted[0]
	res := &Result{IsDuplicate: true, Matches: sorted}

	switch {
	case top.Similarity >= th.Merge:
		res.SuggestedAction = ActionMerge
		res.Message = fmt.Sprintf(
			"Strong duplicate detected: %s (ID: %s) - %s. Consider merging with or updating the existing %s instead of creating a new one.",
			top.DisplayName(), top.CandidateID, top.Reason, entity)
	case top.Similarity >= th.Update:
		res.SuggestedAction = ActionUpdate
		res.Message = fmt.Sprintf(
			"Possible duplicate detected: %s (ID: %s) - %s. Please review before proceeding.",
			top.DisplayName(), top.CandidateID, top.Reason)
	default:
		res.SuggestedAction = ActionCreate
		res.Message = fmt.Sprintf(
			"Potential duplicate: %s (ID: %s) - %s. Please verify this is a new %s.",
			top.DisplayName(), top.CandidateID, top.Reason, entity)
	}

	return res
}
