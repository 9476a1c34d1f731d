// Package service is the entry point front ends call: duplicate checks,
// guarded creates, explicit merges and tag lookups over one store.
package service

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	"github.com/otherjamesbrown/penf-crm/pkg/dedup"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/guard"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/merge"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

// Options configures a Service. Every field is optional.
type Options struct {
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Publisher *events.Publisher
}

// Service wires the detector, guard and merge engine to one store.
type Service struct {
	repo     *crm.Repository
	detector *dedup.Detector
	guard    *guard.Guard
	merger   *merge.Engine
}

// MergeContactsResult is the outcome of MergeContacts.
type MergeContactsResult struct {
	Success           bool         `json:"success" yaml:"success"`
	Error             string       `json:"error,omitempty" yaml:"error,omitempty"`
	MergedContact     *crm.Contact `json:"merged_contact,omitempty" yaml:"merged_contact,omitempty"`
	MovedInteractions int64        `json:"moved_interactions,omitempty" yaml:"moved_interactions,omitempty"`
	SourceDeleted     bool         `json:"source_deleted,omitempty" yaml:"source_deleted,omitempty"`

	err error
}

// Err returns the underlying error of a failed merge.
func (r *MergeContactsResult) Err() error { return r.err }

// MergeDealsResult is the outcome of MergeDeals.
type MergeDealsResult struct {
	Success           bool      `json:"success" yaml:"success"`
	Error             string    `json:"error,omitempty" yaml:"error,omitempty"`
	MergedDeal        *crm.Deal `json:"merged_deal,omitempty" yaml:"merged_deal,omitempty"`
	MovedInteractions int64     `json:"moved_interactions,omitempty" yaml:"moved_interactions,omitempty"`
	SourceDeleted     bool      `json:"source_deleted,omitempty" yaml:"source_deleted,omitempty"`

	err error
}

// Err returns the underlying error of a failed merge.
func (r *MergeDealsResult) Err() error { return r.err }

// New creates a service over s.
func New(s store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.MustGlobal()
	}
	tracer := observability.NewTracer()

	repo := crm.NewRepository(s, logger)
	detector := dedup.NewDetector(repo,
		dedup.WithLogger(logger),
		dedup.WithMetrics(opts.Metrics),
		dedup.WithTracer(tracer))

	guardOpts := []guard.Option{
		guard.WithLogger(logger),
		guard.WithMetrics(opts.Metrics),
		guard.WithTracer(tracer),
	}
	mergeOpts := []merge.Option{
		merge.WithLogger(logger),
		merge.WithMetrics(opts.Metrics),
		merge.WithTracer(tracer),
	}
	if opts.Publisher != nil {
		guardOpts = append(guardOpts, guard.WithPublisher(opts.Publisher))
		mergeOpts = append(mergeOpts, merge.WithPublisher(opts.Publisher))
	}

	return &Service{
		repo:     repo,
		detector: detector,
		guard:    guard.New(repo, detector, guardOpts...),
		merger:   merge.NewEngine(repo, mergeOpts...),
	}
}

// CheckDuplicateContact reports whether cand duplicates an existing contact.
func (s *Service) CheckDuplicateContact(ctx context.Context, cand dedup.ContactCandidate) (*dedup.Result, error) {
	return s.detector.CheckContact(logging.ContextWithOperation(ctx, "check_contact"), cand)
}

// CheckDuplicateDeal reports whether cand duplicates an existing deal.
func (s *Service) CheckDuplicateDeal(ctx context.Context, cand dedup.DealCandidate) (*dedup.Result, error) {
	return s.detector.CheckDeal(logging.ContextWithOperation(ctx, "check_deal"), cand)
}

// MergeContacts absorbs sourceID into targetID. Failures are reported in
// the result rather than as an error.
func (s *Service) MergeContacts(ctx context.Context, sourceID, targetID string) *MergeContactsResult {
	res, err := s.merger.MergeContacts(logging.ContextWithOperation(ctx, "merge_contacts"), sourceID, targetID)
	if err != nil {
		return &MergeContactsResult{Success: false, Error: err.Error(), err: err}
	}
	return &MergeContactsResult{
		Success:           true,
		MergedContact:     &res.Merged,
		MovedInteractions: res.MovedInteractions,
		SourceDeleted:     res.SourceDeleted,
	}
}

// MergeDeals absorbs sourceID into targetID, summing amounts.
func (s *Service) MergeDeals(ctx context.Context, sourceID, targetID string) *MergeDealsResult {
	res, err := s.merger.MergeDeals(logging.ContextWithOperation(ctx, "merge_deals"), sourceID, targetID)
	if err != nil {
		return &MergeDealsResult{Success: false, Error: err.Error(), err: err}
	}
	return &MergeDealsResult{
		Success:           true,
		MergedDeal:        &res.Merged,
		MovedInteractions: res.MovedInteractions,
		SourceDeleted:     res.SourceDeleted,
	}
}

// PreviewContactMerge shows what MergeContacts would produce.
func (s *Service) PreviewContactMerge(ctx context.Context, sourceID, targetID string) (*merge.ContactMerge, error) {
	return s.merger.PreviewContactMerge(logging.ContextWithOperation(ctx, "preview_contact_merge"), sourceID, targetID)
}

// PreviewDealMerge shows what MergeDeals would produce.
func (s *Service) PreviewDealMerge(ctx context.Context, sourceID, targetID string) (*merge.DealMerge, error) {
	return s.merger.PreviewDealMerge(logging.ContextWithOperation(ctx, "preview_deal_merge"), sourceID, targetID)
}

// CreateContact creates c after a duplicate check.
func (s *Service) CreateContact(ctx context.Context, c crm.Contact) (*guard.ContactCreateResult, error) {
	return s.guard.CreateContact(logging.ContextWithOperation(ctx, "create_contact"), c)
}

// CreateDeal creates d after a duplicate check.
func (s *Service) CreateDeal(ctx context.Context, d crm.Deal) (*guard.DealCreateResult, error) {
	return s.guard.CreateDeal(logging.ContextWithOperation(ctx, "create_deal"), d)
}

// ContactsByTags lists contacts carrying any of tags.
func (s *Service) ContactsByTags(ctx context.Context, tags []string) ([]crm.Contact, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one tag is required", crmerrors.ErrValidation)
	}
	return s.repo.ContactsByTags(ctx, tags)
}

// DealsByTags lists deals carrying any of tags.
func (s *Service) DealsByTags(ctx context.Context, tags []string) ([]crm.Deal, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one tag is required", crmerrors.ErrValidation)
	}
	return s.repo.DealsByTags(ctx, tags)
}
