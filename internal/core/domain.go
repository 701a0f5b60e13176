package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  EntryKind = "INCOME"
	Expense EntryKind = "EXPENSE"

	RuleNone    RecurrenceRule = "NONE"
	RuleDaily   RecurrenceRule = "DAILY"
	RuleWeekly  RecurrenceRule = "WEEKLY"
	RuleMonthly RecurrenceRule = "MONTHLY"
	RuleYearly  RecurrenceRule = "YEARLY"

	MaxTitleLen       = 30
	MaxDescriptionLen = 100
)

type (
	EntryKind      string
	RecurrenceRule string

	Date struct {
		time.Time
	}

	// Image is an optional binary attachment on an entry (receipt photo etc.).
	Image struct {
		Data        []byte
		ContentType string
		Name        string
	}

	// Entry is a single ledger line item. Amount is always positive; the sign
	// of its balance contribution is implied by Kind.
	Entry struct {
		ID           int64
		AccountID    int64
		CategoryID   int64
		Title        string
		Description  string
		Amount       decimal.Decimal
		Date         Date
		Kind         EntryKind
		Rule         RecurrenceRule
		SeriesAnchor bool
		NextDue      *Date
		Image        *Image
	}

	// Account carries the cached balance. The invariant is
	// balance == initial balance + sum of signed amounts of surviving entries,
	// and only the ledger service's delta primitives may change it.
	// Version guards the read-modify-write of Balance against lost updates.
	Account struct {
		ID        int64
		UserID    int64
		Name      string
		Balance   decimal.Decimal
		Version   int64
		CreatedAt time.Time
	}

	// Category is read-only for the ledger core. A nil UserID marks a
	// system-wide default category.
	Category struct {
		ID     int64
		Name   string
		Color  string
		Icon   string
		Kind   EntryKind
		UserID *int64
	}

	User struct {
		ID        int64
		Email     string
		Name      string
		CreatedAt time.Time
	}
)

// Error taxonomy. Operation-level failures wrap one of the first four;
// validation sentinels below all wrap ErrInvalidInput.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	ErrEmptyTitle     = fmt.Errorf("%w: empty title", ErrInvalidInput)
	ErrTitleTooLong   = fmt.Errorf("%w: title too long", ErrInvalidInput)
	ErrDescTooLong    = fmt.Errorf("%w: description too long", ErrInvalidInput)
	ErrInvalidAmount  = fmt.Errorf("%w: invalid amount", ErrInvalidInput)
	ErrInvalidDate    = fmt.Errorf("%w: invalid date", ErrInvalidInput)
	ErrInvalidKind    = fmt.Errorf("%w: invalid entry kind", ErrInvalidInput)
	ErrInvalidRule    = fmt.Errorf("%w: invalid recurrence rule", ErrInvalidInput)
	ErrInvalidAnchor  = fmt.Errorf("%w: invalid recurrence anchor", ErrInvalidInput)
	ErrInvalidImage   = fmt.Errorf("%w: invalid image", ErrInvalidInput)
)

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses an ISO-8601 calendar date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.AddDate(0, 0, n)}
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as 1-12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	return nil
}

func (k EntryKind) Validate() error {
	switch k {
	case Income, Expense:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
}

func (r RecurrenceRule) Validate() error {
	switch r {
	case RuleNone, RuleDaily, RuleWeekly, RuleMonthly, RuleYearly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRule, string(r))
	}
}

// ValidateAmount checks that a is positive and carries at most two
// fractional digits, the fixed scale of every stored amount.
func ValidateAmount(a decimal.Decimal) error {
	if a.Cmp(decimal.Zero) <= 0 {
		return ErrInvalidAmount
	}
	if a.Exponent() < -2 {
		return fmt.Errorf("%w: more than two fractional digits", ErrInvalidAmount)
	}
	return nil
}

func (e Entry) Validate() error {
	if len(strings.TrimSpace(e.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(e.Title) > MaxTitleLen {
		return ErrTitleTooLong
	}
	if len(e.Description) > MaxDescriptionLen {
		return ErrDescTooLong
	}
	if err := ValidateAmount(e.Amount); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if err := e.Rule.Validate(); err != nil {
		return err
	}
	if e.SeriesAnchor {
		if e.Rule == RuleNone {
			return fmt.Errorf("%w: anchor without a rule", ErrInvalidAnchor)
		}
		if e.NextDue == nil || e.NextDue.IsZero() {
			return fmt.Errorf("%w: anchor without a next due date", ErrInvalidAnchor)
		}
	} else if e.NextDue != nil {
		return fmt.Errorf("%w: next due date on a non-anchor entry", ErrInvalidAnchor)
	}
	return nil
}

// SignedAmount is the entry's balance contribution: positive for income,
// negative for expense. Every balance mutation and reconstruction derives
// its sign from here.
func (e Entry) SignedAmount() decimal.Decimal {
	if e.Kind == Income {
		return e.Amount
	}
	return e.Amount.Neg()
}
