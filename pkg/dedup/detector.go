package dedup

import (
	"context"
	"time"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
)

// Detector runs the finders and the classifier for both entity types.
type Detector struct {
	contacts *ContactFinder
	deals    *DealFinder
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector's logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// WithMetrics sets the metrics the detector records to.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithTracer sets the tracer used for check spans.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Detector) { d.tracer = t }
}

// NewDetector creates a detector over repo.
func NewDetector(repo *crm.Repository, opts ...Option) *Detector {
	d := &Detector{tracer: observability.NewTracer()}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.MustGlobal()
	}
	d.contacts = NewContactFinder(repo, d.logger)
	d.deals = NewDealFinder(repo, d.logger)
	d.logger = d.logger.With(logging.F("component", "duplicate_detector"))
	return d
}

// CheckContact checks whether cand duplicates an existing contact. Finding
// nothing is a normal result, not an error.
func (d *Detector) CheckContact(ctx context.Context, cand ContactCandidate) (*Result, error) {
	return d.check(ctx, observability.EntityContact, func(ctx context.Context) ([]Match, error) {
		return d.contacts.Find(ctx, cand)
	}, ClassifyContactMatches)
}

// CheckDeal checks whether cand duplicates an existing deal.
func (d *Detector) CheckDeal(ctx context.Context, cand DealCandidate) (*Result, error) {
	return d.check(ctx, observability.EntityDeal, func(ctx context.Context) ([]Match, error) {
		return d.deals.Find(ctx, cand)
	}, ClassifyDealMatches)
}

func (d *Detector) check(
	ctx context.Context,
	entity string,
	find func(context.Context) ([]Match, error),
	classifyFn func([]Match) *Result,
) (*Result, error) {
	start := time.Now()
	defer d.metrics.ObserveOperation("check_"+entity, start)

	ctx, span := d.tracer.StartCheckSpan(ctx, entity)
	defer span.End()
	h := observability.NewSpanHelper(span)

	matches, err := find(ctx)
	if err != nil {
		kind := string(crmerrors.KindOf(err))
		d.metrics.RecordStoreError(kind)
		h.SetError(err, kind)
		d.logger.WithContext(ctx).Error("duplicate check failed",
			logging.F("entity", entity), logging.Err(err))
		return nil, err
	}

	res := classifyFn(matches)

	var topSim float64
	if top, ok := res.Top(); ok {
		topSim = top.Similarity
	}
	d.metrics.RecordCheck(entity, string(res.SuggestedAction), res.IsDuplicate, topSim)
	h.SetCheckResult(string(res.SuggestedAction), len(res.Matches), topSim)
	h.SetSuccess()

	if res.IsDuplicate {
		d.logger.WithContext(ctx).Info("duplicate candidate detected",
			logging.F("entity", entity),
			logging.F("matches", len(res.Matches)),
			logging.F("suggested_action", string(res.SuggestedAction)),
			logging.F("top_similarity", topSim))
	}

	return res, nil
}
