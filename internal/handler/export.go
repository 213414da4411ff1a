package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// csvHeaders defines the column names written as the first row of any CSV export.
var csvHeaders = []string{
	"trip_id", "trip_title", "destination", "trip_start_date", "trip_end_date", "budget",
	"expense_id", "amount", "category", "spent_at", "note",
}

// exportRowResponse is one row of the JSON export. Expense fields are
// omitted for trips that have no expenses.
type exportRowResponse struct {
	TripID        string     `json:"trip_id"`
	TripTitle     string     `json:"trip_title"`
	Destination   string     `json:"destination"`
	TripStartDate string     `json:"trip_start_date"`
	TripEndDate   string     `json:"trip_end_date"`
	Budget        string     `json:"budget"`
	ExpenseID     *string    `json:"expense_id,omitempty"`
	Amount        *string    `json:"amount,omitempty"`
	Category      *string    `json:"category,omitempty"`
	SpentAt       *time.Time `json:"spent_at,omitempty"`
	Note          *string    `json:"note,omitempty"`
}

// GetExport handles GET /export.
// It returns a flat table with one row per expense across every trip.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) GetExport(w http.ResponseWriter, r *http.Request) {
	var format *string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &format); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "invalid format: "+err.Error())
		return
	}
	if format != nil && *format != "csv" && *format != "json" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "format must be csv or json")
		return
	}

	rows, err := s.export.Export(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, "trips not found")
		return
	}

	if format != nil && *format == "csv" {
		writeCSV(w, rows)
		return
	}
	writeJSON(w, http.StatusOK, buildJSONResponse(rows))
}

// buildJSONResponse converts domain rows to the JSON response rows.
func buildJSONResponse(rows []domain.ExportRow) []exportRowResponse {
	out := make([]exportRowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, domainRowToResponse(r))
	}
	return out
}

// writeCSV encodes domain rows as CSV and writes them as an attachment.
func writeCSV(w http.ResponseWriter, rows []domain.ExportRow) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	// bytes.Buffer writes never fail.
	_ = cw.Write(csvHeaders)
	for _, r := range rows {
		_ = cw.Write(domainRowToCSVRecord(r))
	}
	cw.Flush()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="trips.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// domainRowToResponse maps a domain.ExportRow to its JSON shape.
// Expense fields that are empty strings become nil pointers (omitted).
func domainRowToResponse(r domain.ExportRow) exportRowResponse {
	return exportRowResponse{
		TripID:        r.TripID,
		TripTitle:     r.TripTitle,
		Destination:   r.Destination,
		TripStartDate: r.TripStartDate,
		TripEndDate:   r.TripEndDate,
		Budget:        r.Budget,
		ExpenseID:     optional(r.ExpenseID),
		Amount:        optional(r.Amount),
		Category:      optional(r.Category),
		SpentAt:       r.SpentAt,
		Note:          optional(r.Note),
	}
}

// domainRowToCSVRecord encodes a domain.ExportRow as a flat string slice.
// A nil time is encoded as an empty string.
func domainRowToCSVRecord(r domain.ExportRow) []string {
	return []string{
		r.TripID,
		r.TripTitle,
		r.Destination,
		r.TripStartDate,
		r.TripEndDate,
		r.Budget,
		r.ExpenseID,
		r.Amount,
		r.Category,
		formatOptionalTime(r.SpentAt),
		r.Note,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// formatOptionalTime returns the RFC3339 representation of t, or "" if t is nil.
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
