package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/service"
	"github.com/mkjmk-alt/travel-planner/internal/views"
)

// tripRequest is the body of POST /trips and PUT /trips/{id}.
// id and createdAt are accepted so clients can send back a record they
// read, but both are store-owned and ignored. Itinerary and expenses are
// only honoured by PUT; a new trip always starts empty.
type tripRequest struct {
	ID          *uuid.UUID             `json:"id"`
	Title       string                 `json:"title" validate:"required,max=200"`
	Destination string                 `json:"destination" validate:"required,max=200"`
	StartDate   *openapi_types.Date    `json:"startDate" validate:"required"`
	EndDate     *openapi_types.Date    `json:"endDate" validate:"required"`
	Budget      *decimal.Decimal       `json:"budget" validate:"required"`
	CoverImage  string                 `json:"coverImage"`
	Itinerary   []itineraryItemRequest `json:"itinerary" validate:"dive"`
	Expenses    []expenseRequest       `json:"expenses" validate:"dive"`
	CreatedAt   *time.Time             `json:"createdAt"`
}

type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type listTripsResponse struct {
	Data       []domain.Trip      `json:"data"`
	Pagination paginationResponse `json:"pagination"`
}

type daySlotResponse struct {
	Index int                    `json:"index"`
	Date  openapi_types.Date     `json:"date"`
	Items []domain.ItineraryItem `json:"items"`
}

type categoryTotalResponse struct {
	Category domain.Category `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

type budgetResponse struct {
	Budget     decimal.Decimal         `json:"budget"`
	TotalSpent decimal.Decimal         `json:"totalSpent"`
	Remaining  decimal.Decimal         `json:"remaining"`
	Progress   decimal.Decimal         `json:"progress"`
	Percent    decimal.Decimal         `json:"percent"`
	ByCategory []categoryTotalResponse `json:"byCategory"`
}

type tripDetailsResponse struct {
	Trip     domain.Trip       `json:"trip"`
	Days     []daySlotResponse `json:"days"`
	Budget   budgetResponse    `json:"budget"`
	Expenses []domain.Expense  `json:"expenses"` // newest first
}

// ListTrips handles GET /trips.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	params, ok := paginationParams(w, r)
	if !ok {
		return
	}

	trips, total, err := s.trips.ListPaged(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, r, err, "trips not found")
		return
	}
	if trips == nil {
		trips = []domain.Trip{}
	}

	writeJSON(w, http.StatusOK, listTripsResponse{
		Data: trips,
		Pagination: paginationResponse{
			Page:  params.Page,
			Limit: params.Limit,
			Total: total,
		},
	})
}

// CreateTrip handles POST /trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	created, err := s.trips.Create(r.Context(), requestToTrip(req))
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetTrip handles GET /trips/{id}. It serves the trip details page: the
// trip itself, its day slots, budget summary, and expenses newest first.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	details, err := s.trips.Details(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, detailsToResponse(details))
}

// UpdateTrip handles PUT /trips/{id}: a whole-record replace.
func (s *Server) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req tripRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	trip := requestToTrip(req)
	trip.ID = id
	trip.Itinerary = make([]domain.ItineraryItem, len(req.Itinerary))
	for i, it := range req.Itinerary {
		trip.Itinerary[i] = requestToItem(it)
	}
	trip.Expenses = make([]domain.Expense, len(req.Expenses))
	for i, e := range req.Expenses {
		trip.Expenses[i] = requestToExpense(e)
	}

	updated, err := s.trips.Update(r.Context(), trip)
	if err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteTrip handles DELETE /trips/{id}.
func (s *Server) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.trips.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err, "trip not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- mapping helpers --------------------------------------------------------

// requestToTrip converts the scalar fields of a tripRequest. Required
// pointers have already been checked by the validator.
func requestToTrip(req tripRequest) domain.Trip {
	return domain.Trip{
		Title:       req.Title,
		Destination: req.Destination,
		StartDate:   *req.StartDate,
		EndDate:     *req.EndDate,
		Budget:      *req.Budget,
		CoverImage:  req.CoverImage,
	}
}

func detailsToResponse(d service.TripDetails) tripDetailsResponse {
	days := make([]daySlotResponse, len(d.Days))
	for i, slot := range d.Days {
		days[i] = daySlotResponse{Index: slot.Index, Date: slot.Date, Items: slot.Items}
	}
	return tripDetailsResponse{
		Trip:     d.Trip,
		Days:     days,
		Budget:   budgetToResponse(d.Budget),
		Expenses: d.Expenses,
	}
}

func budgetToResponse(b views.BudgetSummary) budgetResponse {
	byCat := make([]categoryTotalResponse, len(b.ByCategory))
	for i, c := range b.ByCategory {
		byCat[i] = categoryTotalResponse{Category: c.Category, Total: c.Total}
	}
	return budgetResponse{
		Budget:     b.Budget,
		TotalSpent: b.TotalSpent,
		Remaining:  b.Remaining,
		Progress:   b.Progress,
		Percent:    b.Percent,
		ByCategory: byCat,
	}
}
