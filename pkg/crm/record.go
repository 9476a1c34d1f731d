package crm

import (
	"fmt"
	"strconv"
	"time"

	"github.com/otherjamesbrown/penf-crm/pkg/store"
)

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ContactRecord converts a contact into a store row. Absent optional fields
// are written as NULL; tags are omitted entirely when nil so the row can be
// written to deployments whose schema predates tagging.
func ContactRecord(c Contact) store.Record {
	rec := store.Record{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"email":      nullIfEmpty(c.Email),
		"phone":      nullIfEmpty(c.Phone),
		"role":       nullIfEmpty(c.Role),
		"account_id": nullIfEmpty(c.AccountID),
	}
	if c.ID != "" {
		rec["id"] = c.ID
	}
	if c.Tags != nil {
		rec["tags"] = c.Tags
	}
	if !c.CreatedAt.IsZero() {
		rec["created_at"] = c.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		rec["updated_at"] = c.UpdatedAt
	}
	return rec
}

// ContactFromRecord converts a store row into a contact.
func ContactFromRecord(r store.Record) Contact {
	return Contact{
		ID:        str(r, "id"),
		FirstName: str(r, "first_name"),
		LastName:  str(r, "last_name"),
		Email:     str(r, "email"),
		Phone:     str(r, "phone"),
		Role:      str(r, "role"),
		AccountID: str(r, "account_id"),
		Tags:      strs(r, "tags"),
		CreatedAt: timeVal(r, "created_at"),
		UpdatedAt: timeVal(r, "updated_at"),
	}
}

// DealRecord converts a deal into a store row, following the same NULL and
// tags rules as ContactRecord.
func DealRecord(d Deal) store.Record {
	rec := store.Record{
		"name":        d.Name,
		"account_id":  nullIfEmpty(d.AccountID),
		"pipeline_id": nullIfEmpty(d.PipelineID),
		"stage":       nullIfEmpty(d.Stage),
		"status":      nullIfEmpty(string(d.Status)),
		"amount":      nil,
		"close_date":  nil,
	}
	if d.ID != "" {
		rec["id"] = d.ID
	}
	if d.Amount != nil {
		rec["amount"] = *d.Amount
	}
	if d.CloseDate != nil {
		rec["close_date"] = *d.CloseDate
	}
	if d.Tags != nil {
		rec["tags"] = d.Tags
	}
	if !d.CreatedAt.IsZero() {
		rec["created_at"] = d.CreatedAt
	}
	if !d.UpdatedAt.IsZero() {
		rec["updated_at"] = d.UpdatedAt
	}
	return rec
}

// DealFromRecord converts a store row into a deal.
func DealFromRecord(r store.Record) Deal {
	return Deal{
		ID:         str(r, "id"),
		Name:       str(r, "name"),
		AccountID:  str(r, "account_id"),
		PipelineID: str(r, "pipeline_id"),
		Amount:     floatPtr(r, "amount"),
		Stage:      str(r, "stage"),
		Status:     DealStatus(str(r, "status")),
		CloseDate:  timePtr(r, "close_date"),
		Tags:       strs(r, "tags"),
		CreatedAt:  timeVal(r, "created_at"),
		UpdatedAt:  timeVal(r, "updated_at"),
	}
}

// InteractionFromRecord converts a store row into an interaction.
func InteractionFromRecord(r store.Record) Interaction {
	return Interaction{
		ID:         str(r, "id"),
		ContactID:  str(r, ColumnContactID),
		DealID:     str(r, ColumnDealID),
		Type:       str(r, "type"),
		Summary:    str(r, "summary"),
		OccurredAt: timeVal(r, "occurred_at"),
	}
}

func str(r store.Record, key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func strs(r store.Record, key string) []string {
	switch v := r[key].(type) {
	case []string:
		if v == nil {
			return nil
		}
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func floatPtr(r store.Record, key string) *float64 {
	var f float64
	switch v := r[key].(type) {
	case float64:
		f = v
	case *float64:
		if v == nil {
			return nil
		}
		f = *v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func timePtr(r store.Record, key string) *time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return &v
	case *time.Time:
		if v == nil {
			return nil
		}
		t := *v
		return &t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}

func timeVal(r store.Record, key string) time.Time {
	if t := timePtr(r, key); t != nil {
		return *t
	}
	return time.Time{}
}
