package service

import (
	"context"
	"fmt"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/store"
)

const dateLayout = "2006-01-02"

// ExportService assembles a full flat export of the caller's trips and
// expenses.
type ExportService struct {
	store store.TripStore
}

// NewExportService constructs an ExportService backed by the provided store.
func NewExportService(s store.TripStore) *ExportService {
	return &ExportService{store: s}
}

// Export returns one ExportRow per expense across all trips, in store order.
// Trips with no expenses contribute one row with empty expense fields.
func (s *ExportService) Export(ctx context.Context) ([]domain.ExportRow, error) {
	trips, err := s.store.List(ctx, domain.IdentityFrom(ctx))
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Export: %w", err)
	}

	rows := make([]domain.ExportRow, 0, len(trips))
	for _, t := range trips {
		base := domain.ExportRow{
			TripID:        t.ID.String(),
			TripTitle:     t.Title,
			Destination:   t.Destination,
			TripStartDate: t.StartDate.Format(dateLayout),
			TripEndDate:   t.EndDate.Format(dateLayout),
			Budget:        t.Budget.String(),
		}

		if len(t.Expenses) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, e := range t.Expenses {
			row := base
			spentAt := e.Date
			row.ExpenseID = e.ID.String()
			row.Amount = e.Amount.String()
			row.Category = string(e.Category)
			row.SpentAt = &spentAt
			row.Note = e.Note
			rows = append(rows, row)
		}
	}
	return rows, nil
}
