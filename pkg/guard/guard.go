// Package guard wraps contact and deal creation with a duplicate check.
//
// A strong duplicate blocks the create with a DuplicateConflictError, a
// possible duplicate creates the record with a warning, and anything else
// creates silently. A uniqueness violation from the store triggers one
// re-check so a concurrently created duplicate is reported as a conflict.
// A missing tags column triggers one retry without tags.
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
)

// TagsUnavailableNote is appended to the message when tags were dropped.
const TagsUnavailableNote = "Note: tags are not available on this deployment and were not saved."

// BlockPublisher receives blocked-create notifications.
type BlockPublisher interface {
	PublishDuplicateBlocked(ctx context.Context, params events.DuplicateBlockedParams) error
}

// CreateResult is the outcome of a guarded create that was not blocked.
type CreateResult[T crm.Entity] struct {
	Record T `json:"record" yaml:"record"`
	// Warning is the classifier message when a possible duplicate exists.
	Warning         string       `json:"warning,omitempty" yaml:"warning,omitempty"`
	Duplicate       *dedup.Match `json:"duplicate,omitempty" yaml:"duplicate,omitempty"`
	TagsUnavailable bool         `json:"tags_unavailable,omitempty" yaml:"tags_unavailable,omitempty"`
	Message         string       `json:"message" yaml:"message"`
}

// ContactCreateResult is the result of a guarded contact create.
type ContactCreateResult = CreateResult[crm.Contact]

// DealCreateResult is the result of a guarded deal create.
type DealCreateResult = CreateResult[crm.Deal]

// Guard runs duplicate checks ahead of creates.
type Guard struct {
	repo      *crm.Repository
	detector  *dedup.Detector
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	publisher BlockPublisher
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard's logger.
func WithLogger(l logging.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithMetrics sets the metrics the guard records to.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithTracer sets the tracer used for guard spans.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Guard) { g.tracer = t }
}

// WithPublisher sets where blocked-create events are sent.
func WithPublisher(p BlockPublisher) Option {
	return func(g *Guard) { g.publisher = p }
}

// New creates a guard that checks with detector and writes through repo.
func New(repo *crm.Repository, detector *dedup.Detector, opts ...Option) *Guard {
	g := &Guard{
		repo:     repo,
		detector: detector,
		tracer:   observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.MustGlobal()
	}
	g.logger = g.logger.With(logging.F("component", "creation_guard"))
	return g
}

type kind[T crm.Entity] struct {
	entity    string
	validate  func(T) error
	check     func(*dedup.Detector, context.Context, T) (*dedup.Result, error)
	insert    func(*crm.Repository, context.Context, T) (*T, error)
	stripTags func(T) (T, bool)
}

var contactKind = kind[crm.Contact]{
	entity: observability.EntityContact,
	validate: func(c crm.Contact) error {
		if strings.TrimSpace(c.FirstName) == "" || strings.TrimSpace(c.LastName) == "" {
			return fmt.Errorf("%w: contact first_name and last_name are required", crmerrors.ErrValidation)
		}
		return nil
	},
	check: func(d *dedup.Detector, ctx context.Context, c crm.Contact) (*dedup.Result, error) {
		return d.CheckContact(ctx, dedup.ContactCandidateFrom(c))
	},
	insert: (*crm.Repository).CreateContact,
	stripTags: func(c crm.Contact) (crm.Contact, bool) {
		had := c.Tags != nil
		c.Tags = nil
		return c, had
	},
}

var dealKind = kind[crm.Deal]{
	entity: observability.EntityDeal,
	validate: func(d crm.Deal) error {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("%w: deal name is required", crmerrors.ErrValidation)
		}
		if !d.Status.IsValid() {
			return fmt.Errorf("%w: deal status %q must be open, won or lost", crmerrors.ErrValidation, d.Status)
		}
		return nil
	},
	check: func(det *dedup.Detector, ctx context.Context, d crm.Deal) (*dedup.Result, error) {
		return det.CheckDeal(ctx, dedup.DealCandidateFrom(d))
	},
	insert: (*crm.Repository).CreateDeal,
	stripTags: func(d crm.Deal) (crm.Deal, bool) {
		had := d.Tags != nil
		d.Tags = nil
		return d, had
	},
}

// CreateContact creates c unless it duplicates an existing contact.
func (g *Guard) CreateContact(ctx context.Context, c crm.Contact) (*ContactCreateResult, error) {
	return create(ctx, g, contactKind, c)
}

// CreateDeal creates d unless it duplicates an existing deal.
func (g *Guard) CreateDeal(ctx context.Context, d crm.Deal) (*DealCreateResult, error) {
	return create(ctx, g, dealKind, d)
}

func create[T crm.Entity](ctx context.Context, g *Guard, k kind[T], rec T) (*CreateResult[T], error) {
	start := time.Now()
	defer g.metrics.ObserveOperation("create_"+k.entity, start)

	ctx, span := g.tracer.StartGuardSpan(ctx, k.entity)
	defer span.End()
	h := observability.NewSpanHelper(span)

	log := g.logger.WithContext(ctx).With(logging.F("entity", k.entity))

	fail := func(err error, outcome string) (*CreateResult[T], error) {
		g.metrics.RecordGuardCreate(k.entity, outcome)
		h.SetOutcome(outcome)
		h.SetError(err, string(crmerrors.KindOf(err)))
		return nil, err
	}

	if err := k.validate(rec); err != nil {
		return fail(err, observability.OutcomeFailed)
	}

	// Detection errors fail the create.
	res, err := k.check(g.detector, ctx, rec)
	if err != nil {
		return fail(fmt.Errorf("duplicate check: %w", err), observability.OutcomeFailed)
	}

	if res.SuggestedAction == dedup.ActionMerge {
		conflict := &DuplicateConflictError{Entity: k.entity, Matches: res.Matches, Message: res.Message}
		g.blocked(ctx, log, k.entity, rec, conflict)
		return fail(conflict, observability.OutcomeBlocked)
	}

	out := &CreateResult[T]{}
	outcome := observability.OutcomeCreated
	if res.SuggestedAction == dedup.ActionUpdate {
		top, _ := res.Top()
		out.Warning = res.Message
		out.Duplicate = &top
		outcome = observability.OutcomeWarned
	}

	created, tagsStripped, err := insert(ctx, g, log, k, rec)
	if err != nil {
		if crmerrors.IsUniqueViolation(err) {
			if conflict := recheck(ctx, g, log, k, rec); conflict != nil {
				g.blocked(ctx, log, k.entity, rec, conflict)
				return fail(conflict, observability.OutcomeRaceConflict)
			}
		}
		g.metrics.RecordStoreError(string(crmerrors.KindOf(err)))
		log.Error("create failed", logging.Err(err))
		return fail(err, observability.OutcomeFailed)
	}

	out.Record = *created
	out.TagsUnavailable = tagsStripped
	out.Message = successMessage(k.entity, *created, res, tagsStripped)

	if tagsStripped {
		g.metrics.RecordGuardCreate(k.entity, observability.OutcomeTagsStripped)
	}
	g.metrics.RecordGuardCreate(k.entity, outcome)
	h.SetEntity((*created).EntityID())
	h.SetOutcome(outcome)
	h.SetSuccess()

	return out, nil
}

// insert writes rec, retrying once without tags when the column is missing.
func insert[T crm.Entity](ctx context.Context, g *Guard, log logging.Logger, k kind[T], rec T) (*T, bool, error) {
	created, err := k.insert(g.repo, ctx, rec)
	if err == nil || !crmerrors.IsMissingColumn(err, "tags") {
		return created, false, err
	}

	stripped, had := k.stripTags(rec)
	if !had {
		return nil, false, err
	}
	log.Info("tags column missing, retrying create without tags")
	created, err = k.insert(g.repo, ctx, stripped)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// recheck re-runs the finder after a uniqueness violation. It returns nil
// when nothing is found, leaving the raw store error to the caller.
func recheck[T crm.Entity](ctx context.Context, g *Guard, log logging.Logger, k kind[T], rec T) *DuplicateConflictError {
	res, err := k.check(g.detector, ctx, rec)
	if err != nil {
		log.Warn("re-check after uniqueness violation failed", logging.Err(err))
		return nil
	}
	top, ok := res.Top()
	if !ok {
		return nil
	}

	log.Info("uniqueness violation reclassified as duplicate",
		logging.F("match_id", top.CandidateID),
		logging.F("similarity", top.Similarity))

	return &DuplicateConflictError{
		Entity:       k.entity,
		Matches:      res.Matches,
		RaceDetected: true,
		Message: fmt.Sprintf(
			"Duplicate %s detected: %s (ID: %s) - %s. It was created while this request was in flight; merge with or update the existing %s instead.",
			k.entity, top.DisplayName(), top.CandidateID, top.Reason, k.entity),
	}
}

func (g *Guard) blocked(ctx context.Context, log logging.Logger, entity string, rec crm.Entity, conflict *DuplicateConflictError) {
	top, _ := conflict.Top()
	log.Info("create blocked by duplicate",
		logging.F("match_id", top.CandidateID),
		logging.F("similarity", top.Similarity),
		logging.F("race", conflict.RaceDetected))

	if g.publisher == nil {
		return
	}
	if err := g.publisher.PublishDuplicateBlocked(ctx, events.DuplicateBlockedParams{
		Entity:        entity,
		CandidateName: rec.DisplayName(),
		MatchID:       top.CandidateID,
		MatchName:     top.DisplayName(),
		Similarity:    top.Similarity,
		Reason:        top.Reason,
		RaceDetected:  conflict.RaceDetected,
	}); err != nil {
		log.Warn("duplicate-blocked event not published", logging.Err(err))
	}
}

func successMessage(entity string, created crm.Entity, res *dedup.Result, tagsStripped bool) string {
	parts := []string{fmt.Sprintf("Created %s %s (ID: %s).", entity, created.DisplayName(), created.EntityID())}
	if res.IsDuplicate {
		parts = append(parts, "Warning: "+res.Message)
	}
	if tagsStripped {
		parts = append(parts, TagsUnavailableNote)
	}
	return strings.Join(parts, " ")
}
