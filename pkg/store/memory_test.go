package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crmerrors "github.com/otherjamesbrown/penf-crm/pkg/errors"
)

func seedContacts(t *testing.T, m *Memory) {
	t.Helper()
	ctx := context.Background()
	rows := []Record{
		{"id": "c1", "first_name": "John", "last_name": "Doe", "email": "John@Example.com", "tags": []string{"vip"}},
		{"id": "c2", "first_name": "Jane", "last_name": "Roe", "email": nil, "phone": "555-123-4567"},
		{"id": "c3", "first_name": "Johnny", "last_name": "Doe_x", "email": "jd@example.com", "tags": []string{"ent", "beta"}},
	}
	for _, r := range rows {
		_, err := m.Insert(ctx, "contacts", r)
		require.NoError(t, err)
	}
}

func ids(rows []Record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"].(string))
	}
	return out
}

func TestMemory_SelectFilters(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{"no filters", nil, []string{"c1", "c2", "c3"}},
		{"not null", []Filter{NotNull("email")}, []string{"c1", "c3"}},
		{"equal", []Filter{Equal("first_name", "Jane")}, []string{"c2"}},
		{"equal nil is null", []Filter{Equal("email", nil)}, []string{"c2"}},
		{"ilike exact is case-insensitive", []Filter{ILike("first_name", "JOHN")}, []string{"c1"}},
		{"ilike contains", []Filter{ILike("first_name", ContainsPattern("john"))}, []string{"c1", "c3"}},
		{"escaped underscore is literal", []Filter{ILike("last_name", EscapeLike("Doe_x"))}, []string{"c3"}},
		{"unescaped underscore is wildcard", []Filter{ILike("last_name", "Do_")}, []string{"c1"}},
		{"overlaps", []Filter{Overlaps("tags", []string{"beta", "other"})}, []string{"c3"}},
		{"combined", []Filter{NotNull("email"), ILike("last_name", "doe")}, []string{"c1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := m.Select(ctx, "contacts", tt.filters...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestMemory_GetMissingReturnsNil(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)

	row, err := m.Get(context.Background(), "contacts", "nope")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = m.Get(context.Background(), "deals", "c1")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestMemory_InsertGeneratesID(t *testing.T) {
	m := NewMemory()
	row, err := m.Insert(context.Background(), "deals", Record{"name": "Enterprise License"})
	require.NoError(t, err)
	assert.NotEmpty(t, row["id"])
}

func TestMemory_ReturnedRowsAreCopies(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)
	ctx := context.Background()

	row, err := m.Get(ctx, "contacts", "c1")
	require.NoError(t, err)
	row["first_name"] = "Mutated"
	row["tags"].([]string)[0] = "mutated"

	again, err := m.Get(ctx, "contacts", "c1")
	require.NoError(t, err)
	assert.Equal(t, "John", again["first_name"])
	assert.Equal(t, []string{"vip"}, again["tags"])
}

func TestMemory_UniqueViolation(t *testing.T) {
	m := NewMemory(WithUniqueColumns("contacts", "email"))
	ctx := context.Background()

	_, err := m.Insert(ctx, "contacts", Record{"id": "a", "email": "x@example.com"})
	require.NoError(t, err)

	_, err = m.Insert(ctx, "contacts", Record{"id": "b", "email": "x@example.com"})
	require.Error(t, err)
	assert.True(t, crmerrors.IsUniqueViolation(err))
	assert.True(t, crmerrors.IsConflict(err))

	_, err = m.Insert(ctx, "contacts", Record{"id": "a"})
	assert.True(t, crmerrors.IsUniqueViolation(err), "primary key collision")

	_, err = m.Insert(ctx, "contacts", Record{"id": "c", "email": nil})
	assert.NoError(t, err, "NULLs never collide")
}

func TestMemory_MissingColumn(t *testing.T) {
	m := NewMemory(WithMissingColumns("contacts", "tags"))
	ctx := context.Background()

	_, err := m.Insert(ctx, "contacts", Record{"first_name": "A", "tags": []string{"x"}})
	require.Error(t, err)
	assert.True(t, crmerrors.IsSchemaSkew(err))
	assert.Equal(t, "tags", crmerrors.MissingColumn(err))
	assert.Contains(t, err.Error(), "does not exist")

	_, err = m.Select(ctx, "contacts", Overlaps("tags", []string{"x"}))
	assert.True(t, crmerrors.IsUndefinedColumn(err))

	_, err = m.Insert(ctx, "contacts", Record{"first_name": "A"})
	assert.NoError(t, err)
}

func TestMemory_UpdateAndDelete(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)
	ctx := context.Background()

	row, err := m.Update(ctx, "contacts", "c2", Record{"id": "ignored", "email": "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "c2", row["id"])
	assert.Equal(t, "jane@example.com", row["email"])
	assert.Equal(t, "Jane", row["first_name"])

	_, err = m.Update(ctx, "contacts", "missing", Record{"email": "x"})
	assert.True(t, crmerrors.IsNotFound(err))

	require.NoError(t, m.Delete(ctx, "contacts", "c2"))
	assert.True(t, crmerrors.IsNotFound(m.Delete(ctx, "contacts", "c2")))
	assert.Equal(t, []string{"c1", "c3"}, ids(m.Rows("contacts")))
}

func TestMemory_UpdateWhere(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, r := range []Record{
		{"id": "i1", "contact_id": "src"},
		{"id": "i2", "contact_id": "src"},
		{"id": "i3", "contact_id": "other"},
	} {
		_, err := m.Insert(ctx, "interactions", r)
		require.NoError(t, err)
	}

	n, err := m.UpdateWhere(ctx, "interactions", Record{"contact_id": "dst"}, Equal("contact_id", "src"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	moved, err := m.Select(ctx, "interactions", Equal("contact_id", "dst"))
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i2"}, ids(moved))
}

func TestMemory_FaultsAndHooks(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(MethodDelete, "contacts", boom)
	assert.ErrorIs(t, m.Delete(ctx, "contacts", "c1"), boom)
	assert.NoError(t, m.Delete(ctx, "contacts", "c1"), "faults fire once")

	called := false
	m.BeforeNext(MethodInsert, "contacts", func() {
		called = true
		_, err := m.Insert(ctx, "contacts", Record{"id": "hooked"})
		require.NoError(t, err)
	})
	_, err := m.Insert(ctx, "contacts", Record{"id": "c9"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Contains(t, ids(m.Rows("contacts")), "hooked")
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := NewMemory()
	seedContacts(t, m)
	ctx := context.Background()
	boom := errors.New("boom")

	used, err := RunInTx(ctx, m, func(tx Store) error {
		if _, err := tx.Update(ctx, "contacts", "c1", Record{"email": "changed@example.com"}); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, used)
	assert.ErrorIs(t, err, boom)

	row, err := m.Get(ctx, "contacts", "c1")
	require.NoError(t, err)
	assert.Equal(t, "John@Example.com", row["email"])

	_, err = RunInTx(ctx, m, func(tx Store) error {
		_, err := tx.Update(ctx, "contacts", "c1", Record{"email": "kept@example.com"})
		return err
	})
	require.NoError(t, err)
	row, _ = m.Get(ctx, "contacts", "c1")
	assert.Equal(t, "kept@example.com", row["email"])
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Select(ctx, "contacts")
	assert.ErrorIs(t, err, context.Canceled)
}
