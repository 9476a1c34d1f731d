package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-crm/pkg/crm"
)

func TestMergeContactFields(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	source := crm.Contact{ID: "src", FirstName: "Jon", LastName: "Smith", Email: "a@x.com", Role: "CTO", AccountID: "acct-1", Tags: []string{"VIP", "Ent"}}
	target := crm.Contact{ID: "dst", FirstName: "John", LastName: "Smith", Phone: "555-1111", Tags: []string{"Ent", "Partner"}, CreatedAt: created}

	got := MergeContactFields(source, target, now)

	assert.Equal(t, crm.Contact{
		ID:        "dst",
		FirstName: "John",
		LastName:  "Smith",
		Email:     "a@x.com",
		Phone:     "555-1111",
		Role:      "CTO",
		AccountID: "acct-1",
		Tags:      []string{"Ent", "Partner", "VIP"},
		CreatedAt: created,
		UpdatedAt: now,
	}, got)
}

func TestMergeDealFields(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	closeDate := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	fifty, thirty := 50000.0, 30000.0

	source := crm.Deal{ID: "src", Name: "Other", PipelineID: "p1", Amount: &fifty, Status: crm.DealStatusWon, CloseDate: &closeDate}
	target := crm.Deal{ID: "dst", Name: "Enterprise License", Amount: &thirty, Stage: "proposal"}

	got := MergeDealFields(source, target, now)

	assert.Equal(t, "dst", got.ID)
	assert.Equal(t, "Enterprise License", got.Name)
	assert.Equal(t, "p1", got.PipelineID)
	assert.Equal(t, "proposal", got.Stage)
	assert.Equal(t, crm.DealStatusWon, got.Status)
	require.NotNil(t, got.Amount)
	assert.Equal(t, 80000.0, *got.Amount)
	require.NotNil(t, got.CloseDate)
	assert.True(t, closeDate.Equal(*got.CloseDate))
	assert.Nil(t, got.Tags)

	*got.Amount = 1
	*got.CloseDate = now
	assert.Equal(t, 30000.0, thirty, "inputs are not aliased")
	assert.Equal(t, 31, closeDate.Day())
}

func TestUnionTags(t *testing.T) {
	tests := []struct {
		name   string
		target []string
		source []string
		want   []string
	}{
		{"both nil", nil, nil, nil},
		{"target only", []string{"a"}, nil, []string{"a"}},
		{"source only", nil, []string{"b"}, []string{"b"}},
		{"overlap", []string{"a", "b"}, []string{"b", "c"}, []string{"a", "b", "c"}},
		{"duplicates within a side", []string{"a", "a"}, []string{"a"}, []string{"a"}},
		{"empty target", []string{}, nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unionTags(tt.target, tt.source))
		})
	}
}
