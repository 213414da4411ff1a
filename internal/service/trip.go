// Package service contains the business logic for the travel planner.
// Services validate inputs, enforce business rules, and orchestrate store
// calls. Every edit is a whole-trip replace applied through the store's
// Modify, so the read and the write of one edit cannot interleave with
// another edit of the same trip. The caller's identity travels in the
// context (see domain.WithIdentity); changes require a signed-in caller.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/store"
	"github.com/mkjmk-alt/travel-planner/internal/views"
)

// TripDetails is everything the trip details page shows for one trip.
type TripDetails struct {
	Trip     domain.Trip
	Days     []views.DaySlot
	Budget   views.BudgetSummary
	Expenses []domain.Expense // newest first
}

// TripService implements business logic for trip operations.
type TripService struct {
	store store.TripStore
	now   func() time.Time
}

// Option configures a TripService.
type Option func(*TripService)

// WithClock overrides the clock used to default expense dates.
func WithClock(now func() time.Time) Option {
	return func(s *TripService) { s.now = now }
}

// NewTripService constructs a TripService backed by the provided TripStore.
func NewTripService(s store.TripStore, opts ...Option) *TripService {
	svc := &TripService{store: s, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ListPaged returns one page of the caller's trips in store order and the
// total number of trips.
func (s *TripService) ListPaged(ctx context.Context, params domain.PaginationParams) ([]domain.Trip, int, error) {
	trips, err := s.store.List(ctx, domain.IdentityFrom(ctx))
	if err != nil {
		return nil, 0, fmt.Errorf("service.TripService.ListPaged: %w", err)
	}
	start, end := params.Window(len(trips))
	return trips[start:end], len(trips), nil
}

// Create validates and persists a new trip. New trips always start with an
// empty itinerary and no expenses.
func (s *TripService) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	trip = trimTrip(trip)
	if err := validateTrip(trip); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	who, err := signedIn(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	trip.ID = uuid.Nil
	trip.Itinerary = []domain.ItineraryItem{}
	trip.Expenses = []domain.Expense{}

	created, err := s.store.Create(ctx, who, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	return created, nil
}

// Details returns a trip together with its day slots, budget summary and
// newest-first expense list.
func (s *TripService) Details(ctx context.Context, id uuid.UUID) (TripDetails, error) {
	trip, err := s.store.Get(ctx, domain.IdentityFrom(ctx), id)
	if err != nil {
		return TripDetails{}, fmt.Errorf("service.TripService.Details: %w", err)
	}
	return TripDetails{
		Trip:     trip,
		Days:     views.Days(trip),
		Budget:   views.Budget(trip),
		Expenses: views.ExpensesNewestFirst(trip),
	}, nil
}

// Update validates trip and replaces the stored record with it as a whole.
// Children without an ID get a fresh one. Fields absent from trip are not
// retained.
func (s *TripService) Update(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	trip = trimTrip(trip)
	if err := validateTrip(trip); err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Update: %w", err)
	}
	for i := range trip.Itinerary {
		if err := validateActivity(trip.Itinerary[i]); err != nil {
			return domain.Trip{}, fmt.Errorf("service.TripService.Update: itinerary[%d]: %w", i, err)
		}
		if trip.Itinerary[i].ID == uuid.Nil {
			trip.Itinerary[i].ID = uuid.New()
		}
	}
	for i := range trip.Expenses {
		if err := validateExpense(trip.Expenses[i]); err != nil {
			return domain.Trip{}, fmt.Errorf("service.TripService.Update: expenses[%d]: %w", i, err)
		}
		if trip.Expenses[i].ID == uuid.Nil {
			trip.Expenses[i].ID = uuid.New()
		}
	}

	who, err := signedIn(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Update: %w", err)
	}
	stored, err := s.store.Modify(ctx, who, trip.ID, func(t *domain.Trip) error {
		*t = trip.Clone()
		return nil
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Update: %w", err)
	}
	return stored, nil
}

// Delete removes a trip with its itinerary and expenses.
// Returns domain.ErrNotFound if the trip does not exist.
func (s *TripService) Delete(ctx context.Context, id uuid.UUID) error {
	who, err := signedIn(ctx)
	if err != nil {
		return fmt.Errorf("service.TripService.Delete: %w", err)
	}
	if err := s.store.Delete(ctx, who, id); err != nil {
		return fmt.Errorf("service.TripService.Delete: %w", err)
	}
	return nil
}

// AddActivity appends item to the trip's itinerary and returns it with its
// new ID.
func (s *TripService) AddActivity(ctx context.Context, tripID uuid.UUID, item domain.ItineraryItem) (domain.ItineraryItem, error) {
	item.Time = strings.TrimSpace(item.Time)
	item.Activity = strings.TrimSpace(item.Activity)
	item.Location = strings.TrimSpace(item.Location)
	if err := validateActivity(item); err != nil {
		return domain.ItineraryItem{}, fmt.Errorf("service.TripService.AddActivity: %w", err)
	}

	item.ID = uuid.New()
	err := s.replace(ctx, tripID, func(t *domain.Trip) error {
		t.Itinerary = append(t.Itinerary, item)
		return nil
	})
	if err != nil {
		return domain.ItineraryItem{}, fmt.Errorf("service.TripService.AddActivity: %w", err)
	}
	return item, nil
}

// RemoveActivity drops one itinerary item from the trip.
// Returns domain.ErrNotFound if the trip or the item does not exist.
func (s *TripService) RemoveActivity(ctx context.Context, tripID, itemID uuid.UUID) error {
	err := s.replace(ctx, tripID, func(t *domain.Trip) error {
		kept := make([]domain.ItineraryItem, 0, len(t.Itinerary))
		for _, it := range t.Itinerary {
			if it.ID != itemID {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(t.Itinerary) {
			return fmt.Errorf("itinerary item %s: %w", itemID, domain.ErrNotFound)
		}
		t.Itinerary = kept
		return nil
	})
	if err != nil {
		return fmt.Errorf("service.TripService.RemoveActivity: %w", err)
	}
	return nil
}

// AddExpense records a spend against the trip's budget and returns it with
// its new ID. A zero date defaults to now.
func (s *TripService) AddExpense(ctx context.Context, tripID uuid.UUID, e domain.Expense) (domain.Expense, error) {
	e.Note = strings.TrimSpace(e.Note)
	if e.Date.IsZero() {
		e.Date = s.now().UTC()
	}
	if err := validateExpense(e); err != nil {
		return domain.Expense{}, fmt.Errorf("service.TripService.AddExpense: %w", err)
	}

	e.ID = uuid.New()
	err := s.replace(ctx, tripID, func(t *domain.Trip) error {
		t.Expenses = append(t.Expenses, e)
		return nil
	})
	if err != nil {
		return domain.Expense{}, fmt.Errorf("service.TripService.AddExpense: %w", err)
	}
	return e, nil
}

// Subscribe follows the caller's trip collection until ctx ends.
func (s *TripService) Subscribe(ctx context.Context) (<-chan []domain.Trip, error) {
	ch, err := s.store.Subscribe(ctx, domain.IdentityFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("service.TripService.Subscribe: %w", err)
	}
	return ch, nil
}

// replace applies edit to the stored trip as one atomic whole-record replace.
func (s *TripService) replace(ctx context.Context, tripID uuid.UUID, edit func(*domain.Trip) error) error {
	who, err := signedIn(ctx)
	if err != nil {
		return err
	}
	_, err = s.store.Modify(ctx, who, tripID, edit)
	return err
}

// signedIn returns the caller's identity, or domain.ErrUnauthenticated when
// nobody is signed in. Stores silently ignore such writes, so the service
// rejects them first.
func signedIn(ctx context.Context) (domain.Identity, error) {
	who := domain.IdentityFrom(ctx)
	if !who.SignedIn() {
		return who, domain.ErrUnauthenticated
	}
	return who, nil
}

func trimTrip(t domain.Trip) domain.Trip {
	t.Title = strings.TrimSpace(t.Title)
	t.Destination = strings.TrimSpace(t.Destination)
	t.CoverImage = strings.TrimSpace(t.CoverImage)
	return t
}

// validateTrip enforces the rules shared by Create and Update.
// EndDate before StartDate is accepted; the trip simply has no days.
func validateTrip(t domain.Trip) error {
	if t.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if t.Destination == "" {
		return fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}
	if t.StartDate.Time.IsZero() || t.EndDate.Time.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", domain.ErrValidation)
	}
	if t.Budget.IsNegative() {
		return fmt.Errorf("%w: budget must not be negative", domain.ErrValidation)
	}
	if views.DayCount(t.StartDate, t.EndDate) > views.MaxDays {
		return fmt.Errorf("%w: a trip may span at most %d days", domain.ErrValidation, views.MaxDays)
	}
	return nil
}

func validateActivity(it domain.ItineraryItem) error {
	if strings.TrimSpace(it.Activity) == "" {
		return fmt.Errorf("%w: activity is required", domain.ErrValidation)
	}
	if it.DayIndex < 0 {
		return fmt.Errorf("%w: day index must not be negative", domain.ErrValidation)
	}
	if it.Time != "" && !validClock(it.Time) {
		return fmt.Errorf("%w: time must be HH:mm", domain.ErrValidation)
	}
	return nil
}

func validateExpense(e domain.Expense) error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrValidation)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown expense category %q", domain.ErrValidation, e.Category)
	}
	return nil
}

// validClock reports whether s is a 24-hour "HH:mm" time.
func validClock(s string) bool {
	if len(s) != len("15:04") {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}
