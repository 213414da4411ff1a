package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// itineraryItemRequest is the body of POST /trips/{id}/itinerary and an
// element of the itinerary array in PUT /trips/{id}.
type itineraryItemRequest struct {
	ID       *uuid.UUID `json:"id"`
	DayIndex int        `json:"dayIndex" validate:"min=0"`
	Time     string     `json:"time" validate:"omitempty,clock"`
	Activity string     `json:"activity" validate:"required,max=200"`
	Location string     `json:"location"`
	Notes    string     `json:"notes"`
}

// expenseRequest is the body of POST /trips/{id}/expenses and an element of
// the expenses array in PUT /trips/{id}. A missing date means "now".
type expenseRequest struct {
	ID       *uuid.UUID       `json:"id"`
	Amount   *decimal.Decimal `json:"amount" validate:"required"`
	Category string           `json:"category" validate:"required,category"`
	Date     *time.Time       `json:"date"`
	Note     string           `json:"note"`
}

// AddActivity handles POST /trips/{id}/itinerary.
func (s *Server) AddActivity(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req itineraryItemRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	item, err := s.trips.AddActivity(r.Context(), tripID, requestToItem(req))
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// RemoveActivity handles DELETE /trips/{id}/itinerary/{itemId}.
func (s *Server) RemoveActivity(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemId")
	if !ok {
		return
	}

	if err := s.trips.RemoveActivity(r.Context(), tripID, itemID); err != nil {
		s.writeServiceError(w, r, err, "itinerary item not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddExpense handles POST /trips/{id}/expenses.
func (s *Server) AddExpense(w http.ResponseWriter, r *http.Request) {
	tripID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req expenseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	expense, err := s.trips.AddExpense(r.Context(), tripID, requestToExpense(req))
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func requestToItem(req itineraryItemRequest) domain.ItineraryItem {
	item := domain.ItineraryItem{
		DayIndex: req.DayIndex,
		Time:     req.Time,
		Activity: req.Activity,
		Location: req.Location,
		Notes:    req.Notes,
	}
	if req.ID != nil {
		item.ID = *req.ID
	}
	return item
}

// requestToExpense converts a validated expenseRequest. The category has
// already passed the category rule, so parsing only normalizes its case.
func requestToExpense(req expenseRequest) domain.Expense {
	category, _ := domain.ParseCategory(req.Category)
	e := domain.Expense{
		Amount:   *req.Amount,
		Category: category,
		Note:     req.Note,
	}
	if req.ID != nil {
		e.ID = *req.ID
	}
	if req.Date != nil {
		e.Date = req.Date.UTC()
	}
	return e
}
