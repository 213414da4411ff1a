// Package domain contains the core data types for the travel planner.
// It is imported by every other internal package (repo, store, views,
// service, handler) and holds no persistence or HTTP logic.
package domain

import (
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
)

func init() {
	// Budgets and amounts are stored and served as plain JSON numbers,
	// matching the persisted local layout.
	decimal.MarshalJSONWithoutQuotes = true
}

// Trip is a planned journey with a date range, a budget, an itinerary and
// the expenses recorded against it. It is the top-level aggregate: itinerary
// items and expenses are embedded and have no lifecycle outside their trip.
type Trip struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Destination string             `json:"destination"`
	StartDate   openapi_types.Date `json:"startDate"`
	EndDate     openapi_types.Date `json:"endDate"` // expected >= StartDate, not enforced
	Budget      decimal.Decimal    `json:"budget"`
	Expenses    []Expense          `json:"expenses"`
	Itinerary   []ItineraryItem    `json:"itinerary"`
	CoverImage  string             `json:"coverImage,omitempty"`
	CreatedAt   time.Time          `json:"createdAt,omitzero"`
}

// ItineraryItem is a single planned activity.
// DayIndex is a zero-based offset from the trip's StartDate.
// Time is free-form "HH:mm" and may be empty ("any time").
type ItineraryItem struct {
	ID       uuid.UUID `json:"id"`
	DayIndex int       `json:"dayIndex"`
	Time     string    `json:"time"`
	Activity string    `json:"activity"`
	Location string    `json:"location,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

// Expense is a single spend recorded against a trip's budget.
type Expense struct {
	ID       uuid.UUID       `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Category Category        `json:"category"`
	Date     time.Time       `json:"date"`
	Note     string          `json:"note"`
}

// Clone returns a deep copy of t. Mirrors hand out clones so callers can
// build a replacement record without touching shared state.
func (t Trip) Clone() Trip {
	out := t
	out.Expenses = append(make([]Expense, 0, len(t.Expenses)), t.Expenses...)
	out.Itinerary = append(make([]ItineraryItem, 0, len(t.Itinerary)), t.Itinerary...)
	return out
}

// Normalize replaces nil child collections with empty ones so the JSON
// layout always carries arrays, never null.
func (t *Trip) Normalize() {
	if t.Expenses == nil {
		t.Expenses = []Expense{}
	}
	if t.Itinerary == nil {
		t.Itinerary = []ItineraryItem{}
	}
}

// CloneTrips deep-copies a slice of trips. A nil input yields an empty,
// non-nil slice so callers can safely range over and encode it.
func CloneTrips(trips []Trip) []Trip {
	out := make([]Trip, len(trips))
	for i, t := range trips {
		out[i] = t.Clone()
	}
	return out
}
