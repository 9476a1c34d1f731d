package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/penf-crm/pkg/logging"
	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

// Repository provides typed access to contacts, deals and interactions.
type Repository struct {
	store  store.Store
	logger logging.Logger
	now    func() time.Time
}

// NewRepository creates a repository over s.
func NewRepository(s store.Store, logger logging.Logger) *Repository {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &Repository{
		store:  s,
		logger: logger.With(logging.F("component", "crm_repository")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the underlying store.
func (r *Repository) Store() store.Store {
	return r.store
}

// WithStore returns a copy of the repository bound to s, typically a
// transaction handle.
func (r *Repository) WithStore(s store.Store) *Repository {
	cp := *r
	cp.store = s
	return &cp
}

// GetContact fetches a contact by id. Returns nil, nil if not found.
func (r *Repository) GetContact(ctx context.Context, id string) (*Contact, error) {
	rec, err := r.store.Get(ctx, TableContacts, id)
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	c := ContactFromRecord(rec)
	return &c, nil
}

// ContactsWithEmail returns every contact that has an email.
func (r *Repository) ContactsWithEmail(ctx context.Context) ([]Contact, error) {
	return r.selectContacts(ctx, store.NotNull("email"))
}

// ContactsWithPhone returns every contact that has a phone number.
func (r *Repository) ContactsWithPhone(ctx context.Context) ([]Contact, error) {
	return r.selectContacts(ctx, store.NotNull("phone"))
}

// ContactsByName returns contacts whose first and last names contain the
// given values case-insensitively. Stored names may carry stray whitespace,
// so callers confirm equality on the trimmed values.
func (r *Repository) ContactsByName(ctx context.Context, firstName, lastName string) ([]Contact, error) {
	return r.selectContacts(ctx,
		store.ILike("first_name", store.ContainsPattern(firstName)),
		store.ILike("last_name", store.ContainsPattern(lastName)),
	)
}

// ContactsByTags returns contacts carrying at least one of tags.
func (r *Repository) ContactsByTags(ctx context.Context, tags []string) ([]Contact, error) {
	return r.selectContacts(ctx, store.Overlaps("tags", tags))
}

func (r *Repository) selectContacts(ctx context.Context, filters ...store.Filter) ([]Contact, error) {
	recs, err := r.store.Select(ctx, TableContacts, filters...)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	out := make([]Contact, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ContactFromRecord(rec))
	}
	return out, nil
}

// CreateContact inserts a contact, assigning an id and timestamps when unset.
// Store errors are returned unwrapped so callers can classify them.
func (r *Repository) CreateContact(ctx context.Context, c Contact) (*Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	rec, err := r.store.Insert(ctx, TableContacts, ContactRecord(c))
	if err != nil {
		return nil, err
	}
	created := ContactFromRecord(rec)
	r.logger.Debug("contact created", logging.F("contact_id", created.ID))
	return &created, nil
}

// UpdateContact writes every field of c onto the row with c.ID.
func (r *Repository) UpdateContact(ctx context.Context, c Contact) (*Contact, error) {
	rec, err := r.store.Update(ctx, TableContacts, c.ID, ContactRecord(c))
	if err != nil {
		return nil, err
	}
	updated := ContactFromRecord(rec)
	return &updated, nil
}

// DeleteContact removes a contact row.
func (r *Repository) DeleteContact(ctx context.Context, id string) error {
	return r.store.Delete(ctx, TableContacts, id)
}

// GetDeal fetches a deal by id. Returns nil, nil if not found.
func (r *Repository) GetDeal(ctx context.Context, id string) (*Deal, error) {
	rec, err := r.store.Get(ctx, TableDeals, id)
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	d := DealFromRecord(rec)
	return &d, nil
}

// DealsNameContaining returns deals whose name contains name case-insensitively.
// This is a coarse pre-filter; callers must confirm equality themselves.
func (r *Repository) DealsNameContaining(ctx context.Context, name string) ([]Deal, error) {
	return r.selectDeals(ctx, store.ILike("name", store.ContainsPattern(name)))
}

// DealsByTags returns deals carrying at least one of tags.
func (r *Repository) DealsByTags(ctx context.Context, tags []string) ([]Deal, error) {
	return r.selectDeals(ctx, store.Overlaps("tags", tags))
}

func (r *Repository) selectDeals(ctx context.Context, filters ...store.Filter) ([]Deal, error) {
	recs, err := r.store.Select(ctx, TableDeals, filters...)
	if err != nil {
		return nil, fmt.Errorf("select deals: %w", err)
	}
	out := make([]Deal, 0, len(recs))
	for _, rec := range recs {
		out = append(out, DealFromRecord(rec))
	}
	return out, nil
}

// CreateDeal inserts a deal, assigning an id and timestamps when unset.
func (r *Repository) CreateDeal(ctx context.Context, d Deal) (*Deal, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := r.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	rec, err := r.store.Insert(ctx, TableDeals, DealRecord(d))
	if err != nil {
		return nil, err
	}
	created := DealFromRecord(rec)
	r.logger.Debug("deal created", logging.F("deal_id", created.ID))
	return &created, nil
}

// UpdateDeal writes every field of d onto the row with d.ID.
func (r *Repository) UpdateDeal(ctx context.Context, d Deal) (*Deal, error) {
	rec, err := r.store.Update(ctx, TableDeals, d.ID, DealRecord(d))
	if err != nil {
		return nil, err
	}
	updated := DealFromRecord(rec)
	return &updated, nil
}

// DeleteDeal removes a deal row.
func (r *Repository) DeleteDeal(ctx context.Context, id string) error {
	return r.store.Delete(ctx, TableDeals, id)
}

// InteractionsFor lists interactions whose column (contact_id or deal_id) equals id.
func (r *Repository) InteractionsFor(ctx context.Context, column, id string) ([]Interaction, error) {
	recs, err := r.store.Select(ctx, TableInteractions, store.Equal(column, id))
	if err != nil {
		return nil, fmt.Errorf("select interactions: %w", err)
	}
	out := make([]Interaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, InteractionFromRecord(rec))
	}
	return out, nil
}

// RepointInteractions moves every interaction referencing fromID in column to toID.
func (r *Repository) RepointInteractions(ctx context.Context, column, fromID, toID string) (int64, error) {
	return r.store.UpdateWhere(ctx, TableInteractions,
		store.Record{column: toID},
		store.Equal(column, fromID),
	)
}
