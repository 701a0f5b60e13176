package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"spend/internal/core"
)

// AggregationService derives read-only views from the entry log. Every view
// is recomputed from raw entries on each call; nothing here writes state or
// consults the cached account balance.
type AggregationService struct {
	store Store
	users UserResolver
	now   func() time.Time // test seam
}

func NewAggregationService(store Store, users UserResolver) *AggregationService {
	return &AggregationService{
		store: store,
		users: users,
		now:   time.Now,
	}
}

// CategoryTotals sums entries of one kind per category over [from, to],
// preserving first-seen category order. An empty range yields empty labels
// and a zero total.
func (s *AggregationService) CategoryTotals(ctx context.Context, identity string, accountID int64, from, to core.Date, kind core.EntryKind) (core.PieChart, error) {
	if err := kind.Validate(); err != nil {
		return core.PieChart{}, err
	}
	if _, err := s.ownedAccount(ctx, identity, accountID); err != nil {
		return core.PieChart{}, err
	}

	totals, err := s.store.CategoryTotals(ctx, accountID, from, to, kind)
	if err != nil {
		return core.PieChart{}, fmt.Errorf("category totals: %w", err)
	}

	chart := core.PieChart{Total: decimal.Zero}
	for _, t := range totals {
		chart.Labels = append(chart.Labels, t.Category)
		chart.Values = append(chart.Values, t.Total)
		chart.Total = chart.Total.Add(t.Total)
	}
	return chart, nil
}

// KindTotals returns the income and expense sums over [from, to]. A kind
// with no entries contributes zero.
func (s *AggregationService) KindTotals(ctx context.Context, identity string, accountID int64, from, to core.Date) (core.BarChart, error) {
	if _, err := s.ownedAccount(ctx, identity, accountID); err != nil {
		return core.BarChart{}, err
	}

	incomes, err := s.store.SumAmount(ctx, accountID, from, to, core.Income)
	if err != nil {
		return core.BarChart{}, fmt.Errorf("income total: %w", err)
	}
	expenses, err := s.store.SumAmount(ctx, accountID, from, to, core.Expense)
	if err != nil {
		return core.BarChart{}, fmt.Errorf("expense total: %w", err)
	}

	return core.BarChart{
		Labels: []string{"Incomes", "Expenses"},
		Values: []decimal.Decimal{incomes, expenses},
	}, nil
}

// MonthSeries walks one month day by day: running balance seeded from the
// reconstructed balance of the day before the month, plus cumulative income
// and expense series. Days after today are omitted, not zero-filled.
func (s *AggregationService) MonthSeries(ctx context.Context, identity string, accountID int64, year, month int) (core.LineChart, error) {
	if month < 1 || month > 12 {
		return core.LineChart{}, fmt.Errorf("%w: month %d", core.ErrInvalidDate, month)
	}
	if _, err := s.ownedAccount(ctx, identity, accountID); err != nil {
		return core.LineChart{}, err
	}

	from := core.NewDate(year, month, 1)
	to := core.Date{Time: from.AddDate(0, 1, -1)}
	today := core.DateOf(s.now())
	if to.Time.After(today.Time) {
		to = today
	}

	walk := func(chart *core.LineChart, running *decimal.Decimal, cumIn, cumEx *decimal.Decimal) error {
		for d := from; !d.Time.After(to.Time); d = d.AddDays(1) {
			dayIn, err := s.store.SumAmount(ctx, accountID, d, d, core.Income)
			if err != nil {
				return err
			}
			dayEx, err := s.store.SumAmount(ctx, accountID, d, d, core.Expense)
			if err != nil {
				return err
			}
			*running = running.Add(dayIn).Sub(dayEx)
			*cumIn = cumIn.Add(dayIn)
			*cumEx = cumEx.Add(dayEx)
			chart.Labels = append(chart.Labels, strconv.Itoa(d.Day()))
			chart.Balance = append(chart.Balance, *running)
			chart.Incomes = append(chart.Incomes, *cumIn)
			chart.Expenses = append(chart.Expenses, *cumEx)
		}
		return nil
	}

	return s.runSeries(ctx, accountID, from, walk)
}

// YearSeries walks one year month by month with the same seeding and
// cumulative semantics as MonthSeries. Months after today are omitted; the
// current month is cut off at today.
func (s *AggregationService) YearSeries(ctx context.Context, identity string, accountID int64, year int) (core.LineChart, error) {
	if _, err := s.ownedAccount(ctx, identity, accountID); err != nil {
		return core.LineChart{}, err
	}

	from := core.NewDate(year, 1, 1)
	today := core.DateOf(s.now())

	walk := func(chart *core.LineChart, running *decimal.Decimal, cumIn, cumEx *decimal.Decimal) error {
		for month := 1; month <= 12; month++ {
			monthStart := core.NewDate(year, month, 1)
			if monthStart.Time.After(today.Time) {
				break
			}
			monthEnd := core.Date{Time: monthStart.AddDate(0, 1, -1)}
			if monthEnd.Time.After(today.Time) {
				monthEnd = today
			}

			monthIn, err := s.store.SumAmount(ctx, accountID, monthStart, monthEnd, core.Income)
			if err != nil {
				return err
			}
			monthEx, err := s.store.SumAmount(ctx, accountID, monthStart, monthEnd, core.Expense)
			if err != nil {
				return err
			}
			*running = running.Add(monthIn).Sub(monthEx)
			*cumIn = cumIn.Add(monthIn)
			*cumEx = cumEx.Add(monthEx)
			chart.Labels = append(chart.Labels, monthStart.Time.Month().String())
			chart.Balance = append(chart.Balance, *running)
			chart.Incomes = append(chart.Incomes, *cumIn)
			chart.Expenses = append(chart.Expenses, *cumEx)
		}
		return nil
	}

	return s.runSeries(ctx, accountID, from, walk)
}

type seriesWalk func(chart *core.LineChart, running, cumIn, cumEx *decimal.Decimal) error

// runSeries seeds the running balance as of the day before the range start
// and hands the bucket walk its accumulators.
func (s *AggregationService) runSeries(ctx context.Context, accountID int64, from core.Date, walk seriesWalk) (core.LineChart, error) {
	seed, err := s.store.SignedSumThrough(ctx, accountID, from.AddDays(-1))
	if err != nil {
		return core.LineChart{}, fmt.Errorf("seed balance: %w", err)
	}

	chart := core.LineChart{}
	running := seed
	cumIn := decimal.Zero
	cumEx := decimal.Zero
	if err := walk(&chart, &running, &cumIn, &cumEx); err != nil {
		return core.LineChart{}, fmt.Errorf("walk series: %w", err)
	}
	return chart, nil
}

func (s *AggregationService) ownedAccount(ctx context.Context, identity string, accountID int64) (*core.Account, error) {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return s.store.AccountOwnedBy(ctx, accountID, userID)
}
