package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for CRM core operations.
	TracerName = "penf-crm"
)

// Span attribute keys
const (
	AttrEntityType      = "entity_type"
	AttrEntityID        = "entity_id"
	AttrSourceID        = "source_id"
	AttrTargetID        = "target_id"
	AttrSuggestedAction = "suggested_action"
	AttrMatchCount      = "match_count"
	AttrTopSimilarity   = "top_similarity"
	AttrMovedRefs       = "moved_interactions"
	AttrOutcome         = "outcome"
	AttrErrorKind       = "error_kind"
)

// Span names
const (
	SpanCheckDuplicate = "crm.check_duplicate"
	SpanGuardCreate    = "crm.guard.create"
	SpanMerge          = "crm.merge"
)

// Tracer starts spans for CRM operations using the global OpenTelemetry
// provider. Without a configured provider the spans are no-ops.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new CRM tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCheckSpan starts a span for a duplicate check.
func (t *Tracer) StartCheckSpan(ctx context.Context, entityType string) (context.Context, trace.Span) {
	return t.start(ctx, SpanCheckDuplicate, attribute.String(AttrEntityType, entityType))
}

// StartGuardSpan starts a span for a guarded create.
func (t *Tracer) StartGuardSpan(ctx context.Context, entityType string) (context.Context, trace.Span) {
	return t.start(ctx, SpanGuardCreate, attribute.String(AttrEntityType, entityType))
}

// StartMergeSpan starts a span for a merge of sourceID into targetID.
func (t *Tracer) StartMergeSpan(ctx context.Context, entityType, sourceID, targetID string) (context.Context, trace.Span) {
	return t.start(ctx, SpanMerge,
		attribute.String(AttrEntityType, entityType),
		attribute.String(AttrSourceID, sourceID),
		attribute.String(AttrTargetID, targetID),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetCheckResult records the classifier outcome on the span.
func (h *SpanHelper) SetCheckResult(action string, matchCount int, topSimilarity float64) {
	h.span.SetAttributes(
		attribute.String(AttrSuggestedAction, action),
		attribute.Int(AttrMatchCount, matchCount),
	)
	if matchCount > 0 {
		h.span.SetAttributes(attribute.Float64(AttrTopSimilarity, topSimilarity))
	}
}

// SetEntity sets the id of the record the operation produced.
func (h *SpanHelper) SetEntity(id string) {
	h.span.SetAttributes(attribute.String(AttrEntityID, id))
}

// SetOutcome sets the outcome attribute.
func (h *SpanHelper) SetOutcome(outcome string) {
	h.span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetMovedReferences records how many interactions were repointed.
func (h *SpanHelper) SetMovedReferences(n int64) {
	h.span.SetAttributes(attribute.Int64(AttrMovedRefs, n))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorKind string) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.String(AttrErrorKind, errorKind))
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
