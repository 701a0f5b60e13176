package core

import "github.com/shopspring/decimal"

// CategoryTotal is an amount aggregated under one category name.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// PieChart holds per-category totals for one account, range and kind.
// Labels and Values are parallel slices in first-seen category order.
type PieChart struct {
	Labels []string
	Values []decimal.Decimal
	Total  decimal.Decimal
}

// BarChart holds the income and expense totals for one range.
type BarChart struct {
	Labels []string
	Values []decimal.Decimal
}

// LineChart is a running time series over daily or monthly buckets.
// Balance is the running account balance; Incomes and Expenses are
// cumulative-to-date sums over the whole range, not per-bucket totals.
type LineChart struct {
	Labels   []string
	Balance  []decimal.Decimal
	Incomes  []decimal.Decimal
	Expenses []decimal.Decimal
}
