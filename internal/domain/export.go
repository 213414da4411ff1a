package domain

import "time"

// ExportRow is a single row in the full-data export.
// It is a flat, denormalized view: one row per expense, with trip fields
// repeated for every expense on that trip. Trips with no expenses yield one
// row with zero values for all expense fields.
type ExportRow struct {
	// Trip fields, repeated for every expense on the trip.
	TripID        string
	TripTitle     string
	Destination   string
	TripStartDate string // "2006-01-02" formatted date
	TripEndDate   string // "2006-01-02" formatted date
	Budget        string

	// Expense fields, zero values when the trip has no expenses.
	ExpenseID string
	Amount    string
	Category  string
	SpentAt   *time.Time
	Note      string
}
