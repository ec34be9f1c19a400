package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAnalytics is a per-category rollup across all of a user's expenses.
type CategoryAnalytics struct {
	Category         string
	TotalAmount      decimal.Decimal // sum of source-currency amounts
	TotalConverted   decimal.Decimal // sum of USD-normalized amounts
	AverageConverted decimal.Decimal
	Count            int64
}

// MonthlyCategory is one category's slice of a calendar-month window.
type MonthlyCategory struct {
	Category string
	Expenses decimal.Decimal // sum of converted amounts in the window
	Budget   decimal.Decimal // sum of per-expense budget snapshots in the window
}

// MonthlySummary covers one calendar month. HasData distinguishes an empty
// window from a month that genuinely summed to zero.
type MonthlySummary struct {
	TotalExpenses decimal.Decimal
	Budget        decimal.Decimal
	HasData       bool
	Categories    []MonthlyCategory
}

// ReportRow is one (category, status) group of the filtered report. Groups
// are split by status so a category with mixed outcomes never reports a
// single arbitrary one.
type ReportRow struct {
	Category       string
	Status         Status
	TotalAmount    decimal.Decimal
	ConvertedTotal decimal.Decimal
}

// ReportFilter narrows the report to a status and/or an inclusive date range.
// Nil fields mean "no constraint".
type ReportFilter struct {
	Status    *Status
	StartDate *time.Time
	EndDate   *time.Time
}

// EnrichedExpense is an expense decorated with read-time derived fields.
// CategoryTotal is never persisted; it is recomputed on every read.
type EnrichedExpense struct {
	Expense
	EffectiveBudget decimal.Decimal // expense budget, else owner's budget, else 0
	CategoryTotal   decimal.Decimal // sum of converted amounts in this owner+category
}
