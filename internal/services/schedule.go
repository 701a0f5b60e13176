package services

import (
	"fmt"
	"time"

	"spend/internal/core"
)

// RuleAdvancer is the strategy interface for advancing a recurrence anchor's
// next due date by exactly one period.
type RuleAdvancer interface {
	Next(d core.Date) core.Date
}

// DailyAdvancer advances by one calendar day.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(d core.Date) core.Date {
	return d.AddDays(1)
}

// WeeklyAdvancer advances by seven calendar days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(d core.Date) core.Date {
	return d.AddDays(7)
}

// MonthlyAdvancer advances by one month, clamping the day of month to the
// target month's length: Jan 31 -> Feb 28 (Feb 29 in leap years).
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(d core.Date) core.Date {
	return addMonthsClamped(d, 1)
}

// YearlyAdvancer advances by one year, clamping Feb 29 to Feb 28 outside
// leap years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(d core.Date) core.Date {
	return addMonthsClamped(d, 12)
}

// addMonthsClamped never uses time.AddDate for the month step, whose
// normalization would turn Jan 31 + 1 month into Mar 3.
func addMonthsClamped(d core.Date, months int) core.Date {
	first := time.Date(d.Year(), time.Month(d.Month()+months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

var ruleAdvancers = map[core.RecurrenceRule]RuleAdvancer{
	core.RuleDaily:   DailyAdvancer{},
	core.RuleWeekly:  WeeklyAdvancer{},
	core.RuleMonthly: MonthlyAdvancer{},
	core.RuleYearly:  YearlyAdvancer{},
}

// AdvancerFor returns the advancer for a rule. RuleNone has no advancer:
// a non-recurring entry never produces occurrences.
func AdvancerFor(rule core.RecurrenceRule) (RuleAdvancer, error) {
	adv, ok := ruleAdvancers[rule]
	if !ok {
		return nil, fmt.Errorf("no advancer for rule %q: %w", string(rule), core.ErrInvalidRule)
	}
	return adv, nil
}

// NextOccurrence is the one-period advance used both when seeding a new
// anchor's next due date and when the recurrence engine steps an anchor.
func NextOccurrence(rule core.RecurrenceRule, d core.Date) (core.Date, error) {
	adv, err := AdvancerFor(rule)
	if err != nil {
		return core.Date{}, err
	}
	return adv.Next(d), nil
}
