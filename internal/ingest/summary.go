package ingest

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finfolio-app/finfolio/internal/model"
)

// Summary aggregates a set of transactions for reporting.
type Summary struct {
	TotalCredits decimal.Decimal `json:"total_credits"`
	TotalDebits  decimal.Decimal `json:"total_debits"` // absolute value
	Net          decimal.Decimal `json:"net"`
	EntityCounts map[string]int  `json:"entity_counts"`

	DailyTrend       []DailyPoint    `json:"daily_trend"`
	ExpenseBreakdown []CategoryTotal `json:"expense_breakdown"`
}

// DailyPoint is one day of the trend chart.
type DailyPoint struct {
	Date    string          `json:"date"`
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
}

// CategoryTotal is one slice of the expense breakdown.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"` // absolute value
}

// BuildSummary computes totals, per-entity counts, the daily credit/debit
// trend and the expense breakdown by category. All arithmetic is exact
// decimal.
func BuildSummary(txns []*model.Transaction) *Summary {
	s := &Summary{
		EntityCounts: make(map[string]int),
	}

	daily := make(map[string]*DailyPoint)
	byCategory := make(map[string]decimal.Decimal)

	for _, t := range txns {
		entity := t.Entity
		if entity == "" {
			entity = "Unassigned"
		}
		s.EntityCounts[entity]++

		day := t.Date.Format(model.DateLayout)
		point, ok := daily[day]
		if !ok {
			point = &DailyPoint{Date: day}
			daily[day] = point
		}

		if t.Amount.Sign() >= 0 {
			s.TotalCredits = s.TotalCredits.Add(t.Amount)
			point.Credits = point.Credits.Add(t.Amount)
		} else {
			abs := t.Amount.Abs()
			s.TotalDebits = s.TotalDebits.Add(abs)
			point.Debits = point.Debits.Add(abs)

			category := t.Category
			if category == "" {
				category = "Expense"
			}
			byCategory[category] = byCategory[category].Add(abs)
		}
	}
	s.Net = s.TotalCredits.Sub(s.TotalDebits)

	s.DailyTrend = make([]DailyPoint, 0, len(daily))
	for _, point := range daily {
		s.DailyTrend = append(s.DailyTrend, *point)
	}
	sort.Slice(s.DailyTrend, func(i, j int) bool { return s.DailyTrend[i].Date < s.DailyTrend[j].Date })

	s.ExpenseBreakdown = make([]CategoryTotal, 0, len(byCategory))
	for category, total := range byCategory {
		s.ExpenseBreakdown = append(s.ExpenseBreakdown, CategoryTotal{Category: category, Total: total})
	}
	sort.Slice(s.ExpenseBreakdown, func(i, j int) bool {
		a, b := s.ExpenseBreakdown[i], s.ExpenseBreakdown[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return a.Category < b.Category
	})
	return s
}
