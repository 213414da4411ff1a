// Package views holds the pure, side-effect-free computations the trip
// pages render from a single trip record: day buckets for the itinerary and
// spend totals for the budget. Inputs are never mutated; results are
// recomputed on every call.
package views

import (
	"slices"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// MaxDays is the longest trip, in days, that gets a slot per day.
const MaxDays = 366

// DaySlot is one calendar day of a trip and the activities planned on it.
type DaySlot struct {
	Index int
	Date  openapi_types.Date
	Items []domain.ItineraryItem
}

// DayCount returns the number of day slots between start and end, both
// inclusive. A trip whose end precedes its start has no slots.
func DayCount(start, end openapi_types.Date) int {
	n := wholeDays(start.Time, end.Time) + 1
	return max(n, 0)
}

// Days buckets the trip's itinerary by day index. Items in each slot are
// ordered by Time using plain string comparison, so "" sorts first and
// "09:00" sorts before "14:30"; items with equal times keep insertion order.
// Items whose day index falls outside the trip are not shown. At most
// MaxDays slots are built.
func Days(trip domain.Trip) []DaySlot {
	n := min(DayCount(trip.StartDate, trip.EndDate), MaxDays)
	slots := make([]DaySlot, n)
	for i := range slots {
		slots[i] = DaySlot{
			Index: i,
			Date:  openapi_types.Date{Time: trip.StartDate.AddDate(0, 0, i)},
			Items: []domain.ItineraryItem{},
		}
	}
	for _, item := range trip.Itinerary {
		if item.DayIndex < 0 || item.DayIndex >= n {
			continue
		}
		slots[item.DayIndex].Items = append(slots[item.DayIndex].Items, item)
	}
	for i := range slots {
		slices.SortStableFunc(slots[i].Items, func(a, b domain.ItineraryItem) int {
			return strings.Compare(a.Time, b.Time)
		})
	}
	return slots
}

// wholeDays counts calendar days from a to b using the dates only, so
// times of day and zone offsets never shift the count. Unix seconds are
// used because time.Duration saturates after about 292 years.
func wholeDays(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int((bd.Unix() - ad.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60
