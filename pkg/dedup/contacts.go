package dedup

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
)

// ContactFinder runs the contact match rules against the repository.
type ContactFinder struct {
	repo   *crm.Repository
	logger logging.Logger
}

// NewContactFinder creates a contact finder.
func NewContactFinder(repo *crm.Repository, logger logging.Logger) *ContactFinder {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &ContactFinder{
		repo:   repo,
		logger: logger.With(logging.F("component", "contact_finder")),
	}
}

// Find returns every stored contact matching at least one rule. The email,
// phone and name passes read concurrently; their results are combined in that
// order so a record matched by a stronger pass keeps the stronger score.
func (f *ContactFinder) Find(ctx context.Context, cand ContactCandidate) ([]Match, error) {
	var emailMatches, phoneMatches, nameMatches []Match

	g, gctx := errgroup.WithContext(ctx)

	if email := NormalizeEmail(cand.Email); email != "" {
		g.Go(func() error {
			var err error
			emailMatches, err = f.emailPass(gctx, email)
			return err
		})
	}
	if phone, ok := MatchablePhone(cand.Phone); ok {
		g.Go(func() error {
			var err error
			phoneMatches, err = f.phonePass(gctx, phone)
			return err
		})
	}
	first, last := strings.TrimSpace(cand.FirstName), strings.TrimSpace(cand.LastName)
	if first != "" && last != "" {
		g.Go(func() error {
			var err error
			nameMatches, err = f.namePass(gctx, first, last, strings.TrimSpace(cand.AccountID))
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(emailMatches)+len(phoneMatches)+len(nameMatches))
	seen := make(map[string]bool)
	for _, pass := range [][]Match{emailMatches, phoneMatches, nameMatches} {
		for _, m := range pass {
			if seen[m.CandidateID] {
				continue
			}
			seen[m.CandidateID] = true
			matches = append(matches, m)
		}
	}

	f.logger.Debug("contact match passes complete",
		logging.F("email_matches", len(emailMatches)),
		logging.F("phone_matches", len(phoneMatches)),
		logging.F("name_matches", len(nameMatches)),
		logging.F("matches", len(matches)))

	return matches, nil
}

// emailPass over-fetches contacts that have any email and compares in
// normalized space.
func (f *ContactFinder) emailPass(ctx context.Context, email string) ([]Match, error) {
	contacts, err := f.repo.ContactsWithEmail(ctx)
	if err != nil {
		return nil, fmt.Errorf("email pass: %w", err)
	}

	var out []Match
	for _, c := range contacts {
		if NormalizeEmail(c.Email) == email {
			out = append(out, contactMatch(c, SimilarityEmail, ReasonEmail))
		}
	}
	return out, nil
}

func (f *ContactFinder) phonePass(ctx context.Context, phone string) ([]Match, error) {
	contacts, err := f.repo.ContactsWithPhone(ctx)
	if err != nil {
		return nil, fmt.Errorf("phone pass: %w", err)
	}

	var out []Match
	for _, c := range contacts {
		if stored, ok := MatchablePhone(c.Phone); ok && stored == phone {
			out = append(out, contactMatch(c, SimilarityPhone, ReasonPhone))
		}
	}
	return out, nil
}

// namePass uses the store's case-insensitive filter with escaped patterns,
// then confirms equality and the account rule in-process.
func (f *ContactFinder) namePass(ctx context.Context, first, last, accountID string) ([]Match, error) {
	contacts, err := f.repo.ContactsByName(ctx, first, last)
	if err != nil {
		return nil, fmt.Errorf("name pass: %w", err)
	}

	var out []Match
	for _, c := range contacts {
		if !SameName(c.FirstName, first) || !SameName(c.LastName, last) {
			continue
		}
		if strings.TrimSpace(c.AccountID) != accountID {
			continue
		}
		out = append(out, contactMatch(c, SimilarityNameAndAccount, ReasonNameAndAccount))
	}
	return out, nil
}

func contactMatch(c crm.Contact, similarity float64, reason string) Match {
	return Match{
		CandidateID: c.ID,
		Similarity:  similarity,
		Reason:      reason,
		Record:      c,
	}
}
