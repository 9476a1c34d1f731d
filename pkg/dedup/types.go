// Package dedup finds existing contacts and deals that a candidate record
// duplicates, and classifies the strongest match into a suggested action.
package dedup

import (
	"github.com/otherjamesbrown/penf-crm/pkg/crm"
)

// SuggestedAction is what the caller should do with a candidate.
type SuggestedAction string

const (
	// ActionCreate means no concern: create the record.
	ActionCreate SuggestedAction = "create"
	// ActionUpdate means create, but warn about a possible duplicate.
	ActionUpdate SuggestedAction = "update"
	// ActionMerge means block the create; merge or update the existing record.
	ActionMerge SuggestedAction = "merge"
	// ActionSkip is reserved and never produced.
	ActionSkip SuggestedAction = "skip"
)

// Similarity scores assigned by the match rules.
const (
	SimilarityEmail           = 1.0
	SimilarityPhone           = 0.9
	SimilarityNameAndAccount  = 0.7
	SimilarityDealName        = 0.8
	SimilarityDealNameAccount = 0.95
	DealStageBonus            = 0.05
)

// Match reasons.
const (
	ReasonEmail           = "Exact email match"
	ReasonPhone           = "Exact phone match"
	ReasonNameAndAccount  = "Name and account match"
	ReasonDealName        = "Exact name match"
	ReasonDealNameAccount = "Exact name and account match"
	ReasonStageSuffix     = " with same stage"
)

// Match is an existing record judged similar to the candidate.
type Match struct {
	CandidateID string     `json:"candidate_id" yaml:"candidate_id"`
	Similarity  float64    `json:"similarity" yaml:"similarity"`
	Reason      string     `json:"match_reason" yaml:"match_reason"`
	Record      crm.Entity `json:"matched_record" yaml:"matched_record"`
}

// DisplayName returns the matched record's display name, or "" if unset.
func (m Match) DisplayName() string {
	if m.Record == nil {
		return ""
	}
	return m.Record.DisplayName()
}

// Result is the outcome of a duplicate check. Matches are ordered by
// descending similarity.
type Result struct {
	IsDuplicate     bool            `json:"is_duplicate" yaml:"is_duplicate"`
	Matches         []Match         `json:"matches" yaml:"matches"`
	SuggestedAction SuggestedAction `json:"suggested_action" yaml:"suggested_action"`
	Message         string          `json:"message" yaml:"message"`
}

// Top returns the strongest match, or false when there is none.
func (r *Result) Top() (Match, bool) {
	if r == nil || len(r.Matches) == 0 {
		return Match{}, false
	}
	return r.Matches[0], true
}

// ContactCandidate is a contact about to be created.
type ContactCandidate struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	AccountID string
}

// ContactCandidateFrom extracts the matching fields of c.
func ContactCandidateFrom(c crm.Contact) ContactCandidate {
	return ContactCandidate{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		AccountID: c.AccountID,
	}
}

// DisplayName returns "First Last".
func (c ContactCandidate) DisplayName() string {
	return crm.Contact{FirstName: c.FirstName, LastName: c.LastName}.DisplayName()
}

// DealCandidate is a deal about to be created.
type DealCandidate struct {
	Name      string
	AccountID string
	Stage     string
}

// DealCandidateFrom extracts the matching fields of d.
func DealCandidateFrom(d crm.Deal) DealCandidate {
	return DealCandidate{
		Name:      d.Name,
		AccountID: d.AccountID,
		Stage:     d.Stage,
	}
}
