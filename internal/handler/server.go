// Package handler implements the HTTP handlers for the travel planner API.
// All handlers are methods on Server. Methods are split into domain-specific
// files (health.go, trip.go, itinerary.go, ...) but share the same Server
// struct so they can access its dependencies.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/service"
)

// TripServicer defines the business operations the trip pages depend on.
// Defining the interface here (in the consumer package) follows the Go
// convention: "accept interfaces, return concrete types". It lets handler
// tests inject a mock without touching a store.
type TripServicer interface {
	ListPaged(ctx context.Context, params domain.PaginationParams) ([]domain.Trip, int, error)
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	Details(ctx context.Context, id uuid.UUID) (service.TripDetails, error)
	Update(ctx context.Context, trip domain.Trip) (domain.Trip, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddActivity(ctx context.Context, tripID uuid.UUID, item domain.ItineraryItem) (domain.ItineraryItem, error)
	RemoveActivity(ctx context.Context, tripID, itemID uuid.UUID) error
	AddExpense(ctx context.Context, tripID uuid.UUID, e domain.Expense) (domain.Expense, error)
	Subscribe(ctx context.Context) (<-chan []domain.Trip, error)
}

// ExportServicer defines the operation the export endpoint depends on.
type ExportServicer interface {
	Export(ctx context.Context) ([]domain.ExportRow, error)
}

// Server holds the dependencies shared by every handler.
type Server struct {
	trips    TripServicer
	export   ExportServicer
	log      *slog.Logger
	validate *validator.Validate
}

// NewServer constructs the Server with all its dependencies.
func NewServer(trips TripServicer, export ExportServicer, logger *slog.Logger) *Server {
	return &Server{
		trips:    trips,
		export:   export,
		log:      logger,
		validate: newValidator(),
	}
}

// NewHealthHandler returns a Server for health-check-only use.
func NewHealthHandler() *Server {
	return NewServer(nil, nil, slog.Default())
}

// Routes returns the API router. The health and OpenAPI endpoints are
// public; every trip and export route runs behind the protect middlewares
// (the Auth Gate in production).
func (s *Server) Routes(protect ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.GetHealth)
	r.Get("/openapi.yaml", s.GetOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(protect...)

		r.Get("/export", s.GetExport)

		r.Route("/trips", func(r chi.Router) {
			r.Get("/", s.ListTrips)
			r.Post("/", s.CreateTrip)
			r.Get("/events", s.StreamTrips)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetTrip)
				r.Put("/", s.UpdateTrip)
				r.Delete("/", s.DeleteTrip)
				r.Post("/itinerary", s.AddActivity)
				r.Delete("/itinerary/{itemId}", s.RemoveActivity)
				r.Post("/expenses", s.AddExpense)
			})
		})
	})
	return r
}
