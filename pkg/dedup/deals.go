package dedup

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// DealFinder runs the deal match rules against the repository.
type DealFinder struct {
	repo   *crm.Repository
	logger logging.Logger
}

// NewDealFinder creates a deal finder.
func NewDealFinder(repo *crm.Repository, logger logging.Logger) *DealFinder {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &DealFinder{
		repo:   repo,
		logger: logger.With(logging.F("component", "deal_finder")),
	}
}

// Find returns every stored deal whose name equals the candidate's name
// case-insensitively, scored by account and stage agreement.
func (f *DealFinder) Find(ctx context.Context, cand DealCandidate) ([]Match, error) {
	name := strings.TrimSpace(cand.Name)
	if name == "" {
		return nil, nil
	}

	// The ILIKE filter is only a pre-filter; equality is confirmed below.
	deals, err := f.repo.DealsNameContaining(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("deal name pass: %w", err)
	}

	var out []Match
	for _, d := range deals {
		if !SameName(d.Name, name) {
			continue
		}
		score, reason := ScoreDeal(d, cand)
		out = append(out, Match{
			CandidateID: d.ID,
			Similarity:  score,
			Reason:      reason,
			Record:      d,
		})
	}

	f.logger.Debug("deal match pass complete",
		logging.F("prefiltered", len(deals)),
		logging.F("matches", len(out)))

	return out, nil
}

// ScoreDeal scores a stored deal whose name already equals the candidate's.
func ScoreDeal(stored crm.Deal, cand DealCandidate) (float64, string) {
	score, reason := SimilarityDealName, ReasonDealName

	account := strings.TrimSpace(cand.AccountID)
	if account != "" && strings.TrimSpace(stored.AccountID) == account {
		score, reason = SimilarityDealNameAccount, ReasonDealNameAccount
	}

	stage := FoldName(cand.Stage)
	if stage != "" && FoldName(stored.Stage) == stage {
		score = math.Min(1.0, math.Round((score+DealStageBonus)*100)/100)
		reason += ReasonStageSuffix
	}

	return score, reason
}
