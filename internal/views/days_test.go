package views_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
	"github.com/mkjmk-alt/travel-planner/internal/views"
)

func date(y int, m time.Month, d int) openapi_types.Date {
	return openapi_types.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func item(day int, at, activity string) domain.ItineraryItem {
	return domain.ItineraryItem{ID: uuid.New(), DayIndex: day, Time: at, Activity: activity}
}

func TestDays_singleDayTrip(t *testing.T) {
	trip := domain.Trip{StartDate: date(2025, 1, 1), EndDate: date(2025, 1, 1)}

	slots := views.Days(trip)

	require.Len(t, slots, 1)
	assert.Equal(t, 0, slots[0].Index)
	assert.Equal(t, date(2025, 1, 1), slots[0].Date)
	assert.NotNil(t, slots[0].Items)
	assert.Empty(t, slots[0].Items)
}

func TestDays_threeDayTrip(t *testing.T) {
	trip := domain.Trip{StartDate: date(2025, 1, 1), EndDate: date(2025, 1, 3)}

	slots := views.Days(trip)

	require.Len(t, slots, 3)
	for i, s := range slots {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, date(2025, 1, 3), slots[2].Date)
}

func TestDays_acrossMonthBoundary(t *testing.T) {
	trip := domain.Trip{StartDate: date(2024, 2, 28), EndDate: date(2024, 3, 1)}

	assert.Len(t, views.Days(trip), 3, "leap year: Feb 28, Feb 29, Mar 1")
}

func TestDays_endBeforeStart(t *testing.T) {
	trip := domain.Trip{StartDate: date(2025, 1, 5), EndDate: date(2025, 1, 1)}

	assert.Empty(t, views.Days(trip))
	assert.Equal(t, 0, views.DayCount(trip.StartDate, trip.EndDate))
}

func TestDayCount_farFutureEnd(t *testing.T) {
	start, end := date(2025, 1, 1), date(9999, 12, 31)

	assert.Equal(t, 2912808, views.DayCount(start, end))
	assert.Equal(t, 0, views.DayCount(end, start))
}

func TestDays_cappedAtMaxDays(t *testing.T) {
	trip := domain.Trip{
		StartDate: date(2025, 1, 1),
		EndDate:   date(9999, 12, 31),
		Itinerary: []domain.ItineraryItem{item(views.MaxDays, "", "past the cap")},
	}

	slots := views.Days(trip)

	require.Len(t, slots, views.MaxDays)
	last := slots[len(slots)-1]
	assert.Equal(t, views.MaxDays-1, last.Index)
	assert.Equal(t, date(2026, 1, 1), last.Date)
	assert.Empty(t, last.Items)
}

func TestDays_fullLeapYearFitsCap(t *testing.T) {
	trip := domain.Trip{StartDate: date(2024, 1, 1), EndDate: date(2024, 12, 31)}

	assert.Len(t, views.Days(trip), views.MaxDays)
}

func TestDays_ordersByTimeWithEmptyFirst(t *testing.T) {
	trip := domain.Trip{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 1, 2),
		Itinerary: []domain.ItineraryItem{
			item(0, "14:00", "museum"),
			item(0, "09:30", "breakfast"),
			item(0, "", "wander"),
			item(1, "08:00", "train"),
		},
	}

	slots := views.Days(trip)

	require.Len(t, slots, 2)
	var times []string
	for _, it := range slots[0].Items {
		times = append(times, it.Time)
	}
	assert.Equal(t, []string{"", "09:30", "14:00"}, times)
	require.Len(t, slots[1].Items, 1)
	assert.Equal(t, "train", slots[1].Items[0].Activity)
}

func TestDays_equalTimesKeepInsertionOrder(t *testing.T) {
	trip := domain.Trip{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 1, 1),
		Itinerary: []domain.ItineraryItem{
			item(0, "10:00", "first"),
			item(0, "10:00", "second"),
		},
	}

	slots := views.Days(trip)

	assert.Equal(t, "first", slots[0].Items[0].Activity)
	assert.Equal(t, "second", slots[0].Items[1].Activity)
}

func TestDays_outOfRangeItemsHidden(t *testing.T) {
	trip := domain.Trip{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 1, 2),
		Itinerary: []domain.ItineraryItem{
			item(-1, "", "before"),
			item(2, "", "after"),
			item(1, "", "kept"),
		},
	}

	slots := views.Days(trip)

	assert.Empty(t, slots[0].Items)
	require.Len(t, slots[1].Items, 1)
	assert.Equal(t, "kept", slots[1].Items[0].Activity)
}

func TestDays_doesNotMutateTrip(t *testing.T) {
	trip := domain.Trip{
		StartDate: date(2025, 1, 1),
		EndDate:   date(2025, 1, 1),
		Itinerary: []domain.ItineraryItem{item(0, "14:00", "b"), item(0, "09:00", "a")},
	}

	_ = views.Days(trip)

	assert.Equal(t, "b", trip.Itinerary[0].Activity)
}
