// Package merge consolidates a source contact or deal into a target record,
// moving the source's interactions to the target and removing the source.
//
// Merges are never triggered automatically. When the backing store supports
// transactions the target update and the interaction repoint commit together;
// the source delete always runs afterwards and its failure leaves a stray row
// without failing the merge. On stores without transactions the steps run in
// sequence and a crash between them can leave interactions on the source, and
// re-running the merge would sum a deal amount twice.
package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

// EventPublisher receives merge notifications.
type EventPublisher interface {
	PublishMerged(ctx context.Context, params events.MergedParams) error
}

// Result describes a merge (or a preview of one).
type Result[T crm.Entity] struct {
	Source            T     `json:"source" yaml:"source"`
	Target            T     `json:"target" yaml:"target"`
	Merged            T     `json:"merged" yaml:"merged"`
	MovedInteractions int64 `json:"moved_interactions" yaml:"moved_interactions"`
	SourceDeleted     bool  `json:"source_deleted" yaml:"source_deleted"`
}

// ContactMerge is the result of merging two contacts.
type ContactMerge = Result[crm.Contact]

// DealMerge is the result of merging two deals.
type DealMerge = Result[crm.Deal]

// Engine performs explicit merges.
type Engine struct {
	repo      *crm.Repository
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	publisher EventPublisher
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics the engine records to.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for merge spans.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithPublisher sets where merge events are sent.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the merge timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a merge engine over repo.
func NewEngine(repo *crm.Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		tracer: observability.NewTracer(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.MustGlobal()
	}
	e.logger = e.logger.With(logging.F("component", "merge_engine"))
	return e
}

// ops binds the generic merge flow to one entity type.
type ops[T crm.Entity] struct {
	entity    string
	column    string
	get       func(*crm.Repository, context.Context, string) (*T, error)
	update    func(*crm.Repository, context.Context, T) (*T, error)
	del       func(*crm.Repository, context.Context, string) error
	merge     func(source, target T, now time.Time) T
	stripTags func(T) (T, bool)
}

var contactOps = ops[crm.Contact]{
	entity: observability.EntityContact,
	column: crm.ColumnContactID,
	get:    (*crm.Repository).GetContact,
	update: (*crm.Repository).UpdateContact,
	del:    (*crm.Repository).DeleteContact,
	merge:  MergeContactFields,
	stripTags: func(c crm.Contact) (crm.Contact, bool) {
		had := c.Tags != nil
		c.Tags = nil
		return c, had
	},
}

var dealOps = ops[crm.Deal]{
	entity: observability.EntityDeal,
	column: crm.ColumnDealID,
	get:    (*crm.Repository).GetDeal,
	update: (*crm.Repository).UpdateDeal,
	del:    (*crm.Repository).DeleteDeal,
	merge:  MergeDealFields,
	stripTags: func(d crm.Deal) (crm.Deal, bool) {
		had := d.Tags != nil
		d.Tags = nil
		return d, had
	},
}

// MergeContacts absorbs the source contact into the target contact.
func (e *Engine) MergeContacts(ctx context.Context, sourceID, targetID string) (*ContactMerge, error) {
	return run(ctx, e, contactOps, sourceID, targetID)
}

// MergeDeals absorbs the source deal into the target deal; amounts are summed.
func (e *Engine) MergeDeals(ctx context.Context, sourceID, targetID string) (*DealMerge, error) {
	return run(ctx, e, dealOps, sourceID, targetID)
}

// PreviewContactMerge computes the merged contact and the interactions that
// would move, without writing anything.
func (e *Engine) PreviewContactMerge(ctx context.Context, sourceID, targetID string) (*ContactMerge, error) {
	return preview(ctx, e, contactOps, sourceID, targetID)
}

// PreviewDealMerge computes the merged deal without writing anything.
func (e *Engine) PreviewDealMerge(ctx context.Context, sourceID, targetID string) (*DealMerge, error) {
	return preview(ctx, e, dealOps, sourceID, targetID)
}

func preview[T crm.Entity](ctx context.Context, e *Engine, o ops[T], sourceID, targetID string) (*Result[T], error) {
	res, err := plan(ctx, e, o, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	refs, err := e.repo.InteractionsFor(ctx, o.column, res.Source.EntityID())
	if err != nil {
		return nil, fmt.Errorf("count %s interactions: %w", o.entity, err)
	}
	res.MovedInteractions = int64(len(refs))

	e.logger.WithContext(ctx).Debug("merge preview computed",
		logging.F("entity", o.entity),
		logging.F("source_id", res.Source.EntityID()),
		logging.F("target_id", res.Target.EntityID()),
		logging.F("moved_interactions", res.MovedInteractions))
	return res, nil
}

// plan validates the pair, fetches both sides and computes the merged record.
func plan[T crm.Entity](ctx context.Context, e *Engine, o ops[T], sourceID, targetID string) (*Result[T], error) {
	sourceID, targetID = strings.TrimSpace(sourceID), strings.TrimSpace(targetID)
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: source and target %s ids are required", crmerrors.ErrValidation, o.entity)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot merge %s %s into itself", crmerrors.ErrValidation, o.entity, sourceID)
	}

	source, err := o.get(e.repo, ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", o.entity, err)
	}
	if source == nil {
		return nil, &NotFoundError{Entity: o.entity, Side: SideSource, ID: sourceID}
	}
	target, err := o.get(e.repo, ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("fetch target %s: %w", o.entity, err)
	}
	if target == nil {
		return nil, &NotFoundError{Entity: o.entity, Side: SideTarget, ID: targetID}
	}

	return &Result[T]{
		Source: *source,
		Target: *target,
		Merged: o.merge(*source, *target, e.now()),
	}, nil
}

func run[T crm.Entity](ctx context.Context, e *Engine, o ops[T], sourceID, targetID string) (*Result[T], error) {
	start := time.Now()
	defer e.metrics.ObserveOperation("merge_"+o.entity, start)

	ctx, span := e.tracer.StartMergeSpan(ctx, o.entity, sourceID, targetID)
	defer span.End()
	h := observability.NewSpanHelper(span)

	log := e.logger.WithContext(ctx).With(
		logging.F("entity", o.entity),
		logging.F("source_id", sourceID),
		logging.F("target_id", targetID))

	fail := func(err error) (*Result[T], error) {
		e.metrics.RecordMerge(o.entity, observability.OutcomeFailed)
		h.SetError(err, string(crmerrors.KindOf(err)))
		log.Error("merge failed", logging.Err(err))
		return nil, err
	}

	res, err := plan(ctx, e, o, sourceID, targetID)
	if err != nil {
		return fail(err)
	}

	merged, moved, repointed, err := write(ctx, e, o, res, log)
	if err != nil {
		return fail(err)
	}
	res.Merged = merged
	res.MovedInteractions = moved
	h.SetMovedReferences(moved)

	// The source row must outlive any interaction still pointing at it so
	// that a rerun can finish the repoint.
	outcome := observability.OutcomeMerged
	if !repointed {
		outcome = observability.OutcomeRepointFailed
		h.AddEvent("repoint_failed")
		log.Warn("interactions were not repointed, keeping source row for a retry")
	} else if err := o.del(e.repo, ctx, res.Source.EntityID()); err != nil {
		outcome = observability.OutcomeSourceOrphans
		h.AddEvent("source_delete_failed")
		log.Warn("merged but source row was not deleted", logging.Err(err))
	} else {
		res.SourceDeleted = true
	}

	if e.publisher != nil {
		if err := e.publisher.PublishMerged(ctx, events.MergedParams{
			Entity:            o.entity,
			SourceID:          res.Source.EntityID(),
			TargetID:          res.Target.EntityID(),
			MovedInteractions: moved,
			SourceDeleted:     res.SourceDeleted,
			CorrelationID:     observability.GetTraceID(ctx),
		}); err != nil {
			log.Warn("merge event not published", logging.Err(err))
		}
	}

	e.metrics.RecordMerge(o.entity, outcome)
	h.SetOutcome(outcome)
	h.SetSuccess()
	log.Info("merge complete",
		logging.F("moved_interactions", moved),
		logging.F("source_deleted", res.SourceDeleted))

	return res, nil
}

// write persists the merged record onto the target and repoints interactions.
// A missing tags column restarts the write once without tags. repointed is
// false only when a store without transactions kept the target update but
// failed to move the interactions.
func write[T crm.Entity](ctx context.Context, e *Engine, o ops[T], res *Result[T], log logging.Logger) (_ T, moved int64, repointed bool, _ error) {
	merged := res.Merged
	_, transactional := e.repo.Store().(store.Transactor)

	for attempt := 0; ; attempt++ {
		var updated T
		moved, repointed = 0, true

		_, err := store.RunInTx(ctx, e.repo.Store(), func(tx store.Store) error {
			repo := e.repo.WithStore(tx)

			u, err := o.update(repo, ctx, merged)
			if err != nil {
				return fmt.Errorf("update target %s: %w", o.entity, err)
			}
			updated = *u

			n, err := repo.RepointInteractions(ctx, o.column, res.Source.EntityID(), res.Target.EntityID())
			if err != nil {
				if transactional {
					return fmt.Errorf("repoint %s interactions: %w", o.entity, err)
				}
				log.Warn("target updated but interactions were not repointed", logging.Err(err))
				repointed = false
				return nil
			}
			moved = n
			return nil
		})

		if err == nil {
			return updated, moved, repointed, nil
		}

		if attempt == 0 && crmerrors.IsMissingColumn(err, "tags") {
			if stripped, had := o.stripTags(merged); had {
				log.Info("tags column missing, retrying merge without tags")
				merged = stripped
				continue
			}
		}
		var zero T
		return zero, 0, false, err
	}
}
