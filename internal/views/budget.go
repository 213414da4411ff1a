package views

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mkjmk-alt/travel-planner/internal/domain"
)

// CategoryTotal is the amount spent in one expense category.
type CategoryTotal struct {
	Category domain.Category
	Total    decimal.Decimal
}

// BudgetSummary is the budget tab's derived state for one trip.
type BudgetSummary struct {
	Budget     decimal.Decimal
	TotalSpent decimal.Decimal
	// Remaining may be negative when the trip is over budget.
	Remaining decimal.Decimal
	// Progress is spent/budget clamped to [0, 1].
	Progress decimal.Decimal
	// Percent is Progress scaled to 0..100.
	Percent decimal.Decimal
	// ByCategory follows domain.Categories order and omits zero subtotals.
	ByCategory []CategoryTotal
}

var hundred = decimal.NewFromInt(100)

// Budget aggregates a trip's expenses against its budget.
//
// With a zero (or negative) budget any spending counts as fully used
// (progress 1) and no spending as unused (progress 0).
func Budget(trip domain.Trip) BudgetSummary {
	spent := decimal.Zero
	byCat := make(map[domain.Category]decimal.Decimal, len(domain.Categories))
	for _, e := range trip.Expenses {
		spent = spent.Add(e.Amount)
		byCat[e.Category] = byCat[e.Category].Add(e.Amount)
	}

	s := BudgetSummary{
		Budget:     trip.Budget,
		TotalSpent: spent,
		Remaining:  trip.Budget.Sub(spent),
		Progress:   progress(spent, trip.Budget),
		ByCategory: []CategoryTotal{},
	}
	s.Percent = s.Progress.Mul(hundred)

	for _, c := range domain.Categories {
		if total := byCat[c]; !total.IsZero() {
			s.ByCategory = append(s.ByCategory, CategoryTotal{Category: c, Total: total})
		}
	}
	return s
}

func progress(spent, budget decimal.Decimal) decimal.Decimal {
	if !budget.IsPositive() {
		if spent.IsPositive() {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	p := spent.DivRound(budget, 4)
	return decimal.Max(decimal.Zero, decimal.Min(p, decimal.NewFromInt(1)))
}

// ExpensesNewestFirst returns a copy of the trip's expenses ordered by date,
// most recent first. Expenses on the same instant keep insertion order.
func ExpensesNewestFirst(trip domain.Trip) []domain.Expense {
	out := slices.Clone(trip.Expenses)
	if out == nil {
		out = []domain.Expense{}
	}
	slices.SortStableFunc(out, func(a, b domain.Expense) int {
		return cmp.Compare(b.Date.UnixNano(), a.Date.UnixNano())
	})
	return out
}
