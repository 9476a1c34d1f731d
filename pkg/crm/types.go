// Package crm defines the contact, deal and interaction records the
// duplicate-detection core works on, and a typed repository over the backing
// store.
package crm

import (
	"strings"
	"time"
)

// Table names in the backing store.
const (
	TableContacts     = "contacts"
	TableDeals        = "deals"
	TableInteractions = "interactions"
)

// Interaction foreign-key columns.
const (
	ColumnContactID = "contact_id"
	ColumnDealID    = "deal_id"
)

// DealStatus is the lifecycle state of a deal.
type DealStatus string

const (
	DealStatusOpen DealStatus = "open"
	DealStatusWon  DealStatus = "won"
	DealStatusLost DealStatus = "lost"
)

// IsValid reports whether s is a known status. Empty is allowed (absent).
func (s DealStatus) IsValid() bool {
	switch s {
	case "", DealStatusOpen, DealStatusWon, DealStatusLost:
		return true
	default:
		return false
	}
}

// Entity is implemented by every record the core can match or merge.
type Entity interface {
	EntityID() string
	DisplayName() string
}

// Contact is a person in the CRM. Empty strings mean the field is absent.
type Contact struct {
	ID        string    `json:"id" yaml:"id"`
	FirstName string    `json:"first_name" yaml:"first_name"`
	LastName  string    `json:"last_name" yaml:"last_name"`
	Email     string    `json:"email,omitempty" yaml:"email,omitempty"`
	Phone     string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	Role      string    `json:"role,omitempty" yaml:"role,omitempty"`
	AccountID string    `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// EntityID returns the contact id.
func (c Contact) EntityID() string { return c.ID }

// DisplayName returns "First Last".
func (c Contact) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Deal is an opportunity in a sales pipeline.
type Deal struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	AccountID  string     `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	PipelineID string     `json:"pipeline_id,omitempty" yaml:"pipeline_id,omitempty"`
	Amount     *float64   `json:"amount,omitempty" yaml:"amount,omitempty"`
	Stage      string     `json:"stage,omitempty" yaml:"stage,omitempty"`
	Status     DealStatus `json:"status,omitempty" yaml:"status,omitempty"`
	CloseDate  *time.Time `json:"close_date,omitempty" yaml:"close_date,omitempty"`
	Tags       []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// EntityID returns the deal id.
func (d Deal) EntityID() string { return d.ID }

// DisplayName returns the trimmed deal name.
func (d Deal) DisplayName() string { return strings.TrimSpace(d.Name) }

// Interaction is an activity (call, email, meeting) linked to a contact and/or deal.
type Interaction struct {
	ID         string    `json:"id"`
	ContactID  string    `json:"contact_id,omitempty"`
	DealID     string    `json:"deal_id,omitempty"`
	Type       string    `json:"type,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
