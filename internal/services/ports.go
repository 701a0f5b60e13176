// Package services holds the business core of the ledger: the balance
// ledger service, the recurrence engine and the aggregation engine.
// Storage and identity are consumed through the ports defined here.
package services

import (
	"context"

	"github.com/shopspring/decimal"
	"spend/internal/core"
)

// UserResolver maps an opaque caller identity (an email in this system)
// to a user id for ownership checks.
type UserResolver interface {
	ResolveUser(ctx context.Context, identity string) (int64, error)
}

// Store is the persistence port of the ledger core. The *WithBalance and
// MaterializeOccurrence operations are atomic: the entry change and the
// account balance are written in one unit or not at all. Account writes are
// guarded by Account.Version and anchor advances by the previous next-due
// date; a lost guard surfaces as core.ErrConflict.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	// AccountOwnedBy returns core.ErrNotFound when the account does not
	// exist and core.ErrUnauthorized when it belongs to another user.
	AccountOwnedBy(ctx context.Context, accountID, userID int64) (*core.Account, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
	GetEntry(ctx context.Context, id int64) (*core.Entry, error)
	ListEntries(ctx context.Context, f EntryFilter) (EntryPage, error)

	CreateEntryWithBalance(ctx context.Context, e *core.Entry, a *core.Account) error
	UpdateEntryWithBalance(ctx context.Context, e *core.Entry, a *core.Account) error
	DeleteEntryWithBalance(ctx context.Context, entryID int64, a *core.Account) error

	// DueAnchors lists series anchors with rule != NONE and next due date
	// on or before today.
	DueAnchors(ctx context.Context, today core.Date) ([]core.Entry, error)
	// MaterializeOccurrence inserts the child entry, advances the anchor
	// from claimed to next and persists the account balance, atomically.
	MaterializeOccurrence(ctx context.Context, child *core.Entry, anchorID int64, claimed, next core.Date, a *core.Account) error

	CategoryTotals(ctx context.Context, accountID int64, from, to core.Date, kind core.EntryKind) ([]core.CategoryTotal, error)
	SumAmount(ctx context.Context, accountID int64, from, to core.Date, kind core.EntryKind) (decimal.Decimal, error)
	// SignedSumThrough reconstructs the account balance from the entry log
	// alone: the signed sum of every entry dated on or before through.
	SignedSumThrough(ctx context.Context, accountID int64, through core.Date) (decimal.Decimal, error)
}

// EntryFilter narrows a ListEntries scan. Zero values mean "any".
type EntryFilter struct {
	AccountID  int64
	Search     string // case-insensitive match over title and description
	Kind       core.EntryKind
	DateFrom   *core.Date
	DateTo     *core.Date
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
	CategoryID int64
	Page       int // 1-based
	PageSize   int
}

// EntryPage is one page of a date-descending entry listing.
type EntryPage struct {
	Entries    []core.Entry
	TotalCount int64
	Page       int
	PageSize   int
}
