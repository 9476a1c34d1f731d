package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
	"github.com/otherjamesbrown/penf-crm/pkg/events"
	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/observability"
	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

var mergeTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	events []events.MergedParams
	err    error
}

func (p *recordingPublisher) PublishMerged(_ context.Context, params events.MergedParams) error {
	p.events = append(p.events, params)
	return p.err
}

// plainStore hides the memory store's transaction support.
type plainStore struct {
	store.Store
}

type fixture struct {
	mem     *store.Memory
	repo    *crm.Repository
	engine  *Engine
	pub     *recordingPublisher
	metrics *observability.Metrics
}

func newFixture(t *testing.T, s store.Store, mem *store.Memory) *fixture {
	t.Helper()
	repo := crm.NewRepository(s, logging.NewNopLogger())
	pub := &recordingPublisher{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(repo,
		WithLogger(logging.NewNopLogger()),
		WithMetrics(metrics),
		WithPublisher(pub),
		WithClock(func() time.Time { return mergeTime }),
	)
	return &fixture{mem: mem, repo: repo, engine: engine, pub: pub, metrics: metrics}
}

func newMemFixture(t *testing.T) *fixture {
	mem := store.NewMemory()
	return newFixture(t, mem, mem)
}

func (f *fixture) contact(t *testing.T, c crm.Contact) {
	t.Helper()
	_, err := f.repo.CreateContact(context.Background(), c)
	require.NoError(t, err)
}

func (f *fixture) deal(t *testing.T, d crm.Deal) {
	t.Helper()
	_, err := f.repo.CreateDeal(context.Background(), d)
	require.NoError(t, err)
}

func (f *fixture) interaction(t *testing.T, id, column, ref string) {
	t.Helper()
	_, err := f.mem.Insert(context.Background(), crm.TableInteractions, store.Record{"id": id, column: ref, "type": "call"})
	require.NoError(t, err)
}

func TestMergeContacts_Precedence(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "Jon", LastName: "Smith", Email: "a@x.com", Tags: []string{"VIP"}})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "John", LastName: "Smith", Phone: "555-1111", Tags: []string{"Ent"}})

	res, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.NoError(t, err)

	assert.Equal(t, "dst", res.Merged.ID)
	assert.Equal(t, "John", res.Merged.FirstName, "target wins when set")
	assert.Equal(t, "a@x.com", res.Merged.Email, "source fills gaps")
	assert.Equal(t, "555-1111", res.Merged.Phone)
	assert.ElementsMatch(t, []string{"VIP", "Ent"}, res.Merged.Tags)
	assert.True(t, res.SourceDeleted)

	stored, err := f.repo.GetContact(context.Background(), "dst")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", stored.Email)
	assert.True(t, mergeTime.Equal(stored.UpdatedAt))

	gone, err := f.repo.GetContact(context.Background(), "src")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MergesTotal.WithLabelValues("contact", observability.OutcomeMerged)))
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, "contact", f.pub.events[0].Entity)
	assert.True(t, f.pub.events[0].SourceDeleted)
}

func TestMergeDeals_SumsAmounts(t *testing.T) {
	amount := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		source *float64
		target *float64
		want   *float64
	}{
		{"both present", amount(50000), amount(30000), amount(80000)},
		{"only source", amount(50000), nil, amount(50000)},
		{"only target", nil, amount(30000), amount(30000)},
		{"neither", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMemFixture(t)
			f.deal(t, crm.Deal{ID: "src", Name: "Enterprise License", Amount: tt.source, Stage: "proposal"})
			f.deal(t, crm.Deal{ID: "dst", Name: "Enterprise License", Amount: tt.target})

			res, err := f.engine.MergeDeals(context.Background(), "src", "dst")
			require.NoError(t, err)

			if tt.want == nil {
				assert.Nil(t, res.Merged.Amount)
				return
			}
			require.NotNil(t, res.Merged.Amount)
			assert.Equal(t, *tt.want, *res.Merged.Amount)
			assert.Equal(t, "proposal", res.Merged.Stage)
		})
	}
}

func TestMergeContacts_RepointsInteractions(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.interaction(t, "i1", crm.ColumnContactID, "src")
	f.interaction(t, "i2", crm.ColumnContactID, "src")
	f.interaction(t, "i3", crm.ColumnContactID, "dst")
	f.interaction(t, "i4", crm.ColumnContactID, "other")

	res, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.MovedInteractions)

	onSource, err := f.repo.InteractionsFor(context.Background(), crm.ColumnContactID, "src")
	require.NoError(t, err)
	assert.Empty(t, onSource)

	onTarget, err := f.repo.InteractionsFor(context.Background(), crm.ColumnContactID, "dst")
	require.NoError(t, err)
	assert.Len(t, onTarget, 3)
}

func TestMergeDeals_RepointsDealInteractionsOnly(t *testing.T) {
	f := newMemFixture(t)
	f.deal(t, crm.Deal{ID: "src", Name: "X"})
	f.deal(t, crm.Deal{ID: "dst", Name: "X"})
	f.interaction(t, "i1", crm.ColumnDealID, "src")
	f.interaction(t, "i2", crm.ColumnContactID, "src")

	res, err := f.engine.MergeDeals(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MovedInteractions)

	contactRefs, err := f.repo.InteractionsFor(context.Background(), crm.ColumnContactID, "src")
	require.NoError(t, err)
	assert.Len(t, contactRefs, 1, "contact references are untouched by a deal merge")
}

func TestMerge_NotFoundSides(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "exists", FirstName: "A", LastName: "B"})

	_, err := f.engine.MergeContacts(context.Background(), "missing", "exists")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, SideSource, nf.Side)
	assert.Equal(t, "missing", nf.ID)
	assert.True(t, crmerrors.IsNotFound(err))

	_, err = f.engine.MergeContacts(context.Background(), "exists", "missing")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, SideTarget, nf.Side)
	assert.Equal(t, "target contact not found: missing", err.Error())

	_, err = f.engine.MergeDeals(context.Background(), "a", "b")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "deal", nf.Entity)
	assert.Equal(t, SideSource, nf.Side)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.MergesTotal.WithLabelValues("contact", observability.OutcomeFailed))+
		testutil.ToFloat64(f.metrics.MergesTotal.WithLabelValues("deal", observability.OutcomeFailed)))
}

func TestMerge_Validation(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "c1", FirstName: "A", LastName: "B"})

	_, err := f.engine.MergeContacts(context.Background(), "c1", "c1")
	assert.True(t, crmerrors.IsValidation(err))

	_, err = f.engine.MergeContacts(context.Background(), "", "c1")
	assert.True(t, crmerrors.IsValidation(err))

	stored, err := f.repo.GetContact(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestMerge_DeleteFailureIsTolerated(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B", Email: "a@b.com"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.interaction(t, "i1", crm.ColumnContactID, "src")
	f.mem.FailNext(store.MethodDelete, crm.TableContacts, errors.New("lock timeout"))

	res, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.False(t, res.SourceDeleted)
	assert.Equal(t, "a@b.com", res.Merged.Email)
	assert.Equal(t, int64(1), res.MovedInteractions)

	stray, err := f.repo.GetContact(context.Background(), "src")
	require.NoError(t, err)
	assert.NotNil(t, stray, "the source row stays behind")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MergesTotal.WithLabelValues("contact", observability.OutcomeSourceOrphans)))
	require.Len(t, f.pub.events, 1)
	assert.False(t, f.pub.events[0].SourceDeleted)
}

func TestMerge_TransactionRollsBackOnRepointFailure(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B", Email: "a@b.com"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.interaction(t, "i1", crm.ColumnContactID, "src")
	f.mem.FailNext(store.MethodUpdateWhere, crm.TableInteractions, errors.New("deadlock detected"))

	_, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")

	target, err := f.repo.GetContact(context.Background(), "dst")
	require.NoError(t, err)
	assert.Empty(t, target.Email, "target update was rolled back")

	source, err := f.repo.GetContact(context.Background(), "src")
	require.NoError(t, err)
	assert.NotNil(t, source)
	assert.Empty(t, f.pub.events)
}

func TestMerge_WithoutTransactionsRepointFailureKeepsSource(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	f := newFixture(t, plainStore{mem}, mem)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B", Email: "a@b.com"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.interaction(t, "i1", crm.ColumnContactID, "src")
	mem.FailNext(store.MethodUpdateWhere, crm.TableInteractions, errors.New("deadlock detected"))

	res, err := f.engine.MergeContacts(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.MovedInteractions)
	assert.Equal(t, "a@b.com", res.Merged.Email)
	assert.False(t, res.SourceDeleted)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MergesTotal.WithLabelValues("contact", observability.OutcomeRepointFailed)))

	source, err := f.repo.GetContact(ctx, "src")
	require.NoError(t, err)
	assert.NotNil(t, source, "source row is kept while interactions still reference it")

	onSource, err := f.repo.InteractionsFor(ctx, crm.ColumnContactID, "src")
	require.NoError(t, err)
	assert.Len(t, onSource, 1)

	// A rerun finishes the repoint and removes the source.
	res, err = f.engine.MergeContacts(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MovedInteractions)
	assert.True(t, res.SourceDeleted)

	onSource, err = f.repo.InteractionsFor(ctx, crm.ColumnContactID, "src")
	require.NoError(t, err)
	assert.Empty(t, onSource)

	onTarget, err := f.repo.InteractionsFor(ctx, crm.ColumnContactID, "dst")
	require.NoError(t, err)
	assert.Len(t, onTarget, 1)
}

func TestMerge_RetriesWithoutTagsOnSchemaSkew(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B", Tags: []string{"vip"}})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B", Email: "a@b.com"})
	f.mem.FailNext(store.MethodUpdate, crm.TableContacts,
		crmerrors.NewStoreError(crmerrors.KindUndefinedColumn, crm.TableContacts, "tags",
			`column "tags" of relation "contacts" does not exist`))

	res, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.Nil(t, res.Merged.Tags)
	assert.True(t, res.SourceDeleted)
}

func TestMerge_OtherUpdateFailureAborts(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.mem.FailNext(store.MethodUpdate, crm.TableContacts, errors.New("connection refused"))

	_, err := f.engine.MergeContacts(context.Background(), "src", "dst")
	require.Error(t, err)

	source, err := f.repo.GetContact(context.Background(), "src")
	require.NoError(t, err)
	assert.NotNil(t, source, "nothing is deleted when the target update fails")
}

func TestMerge_PublishFailureDoesNotFailMerge(t *testing.T) {
	f := newMemFixture(t)
	f.pub.err = errors.New("redis down")
	f.deal(t, crm.Deal{ID: "src", Name: "X"})
	f.deal(t, crm.Deal{ID: "dst", Name: "X"})

	_, err := f.engine.MergeDeals(context.Background(), "src", "dst")
	require.NoError(t, err)
}

func TestPreviewContactMerge_WritesNothing(t *testing.T) {
	f := newMemFixture(t)
	f.contact(t, crm.Contact{ID: "src", FirstName: "A", LastName: "B", Email: "a@b.com"})
	f.contact(t, crm.Contact{ID: "dst", FirstName: "A", LastName: "B"})
	f.interaction(t, "i1", crm.ColumnContactID, "src")
	f.interaction(t, "i2", crm.ColumnContactID, "src")

	res, err := f.engine.PreviewContactMerge(context.Background(), "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", res.Merged.Email)
	assert.Equal(t, int64(2), res.MovedInteractions)
	assert.False(t, res.SourceDeleted)

	target, err := f.repo.GetContact(context.Background(), "dst")
	require.NoError(t, err)
	assert.Empty(t, target.Email)
	assert.Len(t, f.mem.Rows(crm.TableContacts), 2)
	assert.Empty(t, f.pub.events)
}

func TestPreviewDealMerge_NotFound(t *testing.T) {
	f := newMemFixture(t)
	f.deal(t, crm.Deal{ID: "dst", Name: "X"})

	_, err := f.engine.PreviewDealMerge(context.Background(), "nope", "dst")
	assert.True(t, crmerrors.IsNotFound(err))
}
