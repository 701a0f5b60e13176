package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"spend/internal/amqp"
	"spend/internal/core"
	"spend/internal/images"
)

// How many times a balance read-modify-write is retried after losing the
// account version check to a concurrent mutation.
const balanceWriteRetries = 3

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService is the single authority for mutating an account's cached
// balance: every entry create/edit/delete goes through it, and the
// recurrence engine reuses its delta primitives.
type LedgerService struct {
	store  Store
	users  UserResolver
	events *amqp.Client // nil disables event publishing
	now    func() time.Time
}

func NewLedgerService(store Store, users UserResolver, events *amqp.Client) *LedgerService {
	return &LedgerService{
		store:  store,
		users:  users,
		events: events,
		now:    time.Now,
	}
}

// EntryInput carries the mutable fields of an entry for create and edit.
// A zero Date defaults to today. A non-NONE Rule makes the entry a series
// anchor whose next due date is one period after its date.
type EntryInput struct {
	AccountID   int64
	CategoryID  int64
	Title       string
	Description string
	Amount      decimal.Decimal
	Date        core.Date
	Kind        core.EntryKind
	Rule        core.RecurrenceRule
	Image       *core.Image
}

// applyBalanceDelta is the single source of truth for how an entry moves an
// account balance: income adds the amount, expense subtracts it. Nothing
// else may write Account.Balance.
func applyBalanceDelta(e core.Entry, a *core.Account) {
	a.Balance = a.Balance.Add(e.SignedAmount())
}

// reverseBalanceDelta undoes an entry's contribution, used before an edit
// re-applies the new one and before a delete removes the entry.
func reverseBalanceDelta(e core.Entry, a *core.Account) {
	a.Balance = a.Balance.Sub(e.SignedAmount())
}

// CreateEntry validates, applies the signed delta to the owning account and
// persists entry plus balance as one unit.
func (s *LedgerService) CreateEntry(ctx context.Context, identity string, in EntryInput) (*core.Entry, error) {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	entry, err := s.buildEntry(in)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		return nil, fmt.Errorf("resolve category: %w", err)
	}

	var saved *core.Entry
	err = s.withBalanceRetry(ctx, func() error {
		account, err := s.store.AccountOwnedBy(ctx, in.AccountID, userID)
		if err != nil {
			return err
		}
		e := *entry
		applyBalanceDelta(e, account)
		if err := s.store.CreateEntryWithBalance(ctx, &e, account); err != nil {
			return err
		}
		saved = &e
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Entry created",
		"entry_id", saved.ID,
		"account_id", saved.AccountID,
		"kind", string(saved.Kind),
		"amount", saved.Amount.String(),
		"date", saved.Date.String())

	s.publishEvent(ctx, amqp.OpEntryCreated, saved)
	return saved, nil
}

// EditEntry replaces every mutable field of an entry. The old contribution
// is reversed and the new one applied on the same read of the balance, so
// the balance invariant holds after the single persisted write. Identifier
// and owning account are immutable; in.AccountID is ignored.
func (s *LedgerService) EditEntry(ctx context.Context, identity string, entryID int64, in EntryInput) (*core.Entry, error) {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	existing, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}

	in.AccountID = existing.AccountID
	updated, err := s.buildEntry(in)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	if updated.Rule != core.RuleNone && existing.SeriesAnchor && existing.Rule == updated.Rule {
		// Keep the series position when the rule itself did not change.
		updated.NextDue = existing.NextDue
	}
	if in.Image == nil {
		updated.Image = existing.Image
	}

	if _, err := s.store.GetCategory(ctx, in.CategoryID); err != nil {
		return nil, fmt.Errorf("resolve category: %w", err)
	}

	err = s.withBalanceRetry(ctx, func() error {
		account, err := s.store.AccountOwnedBy(ctx, existing.AccountID, userID)
		if err != nil {
			return err
		}
		reverseBalanceDelta(*existing, account)
		applyBalanceDelta(*updated, account)
		return s.store.UpdateEntryWithBalance(ctx, updated, account)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Entry updated",
		"entry_id", updated.ID,
		"account_id", updated.AccountID,
		"kind", string(updated.Kind),
		"amount", updated.Amount.String())

	s.publishEvent(ctx, amqp.OpEntryUpdated, updated)
	return updated, nil
}

// DeleteEntry reverses the entry's contribution from the account balance
// and removes the entry, atomically.
func (s *LedgerService) DeleteEntry(ctx context.Context, identity string, entryID int64) error {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}

	err = s.withBalanceRetry(ctx, func() error {
		account, err := s.store.AccountOwnedBy(ctx, entry.AccountID, userID)
		if err != nil {
			return err
		}
		reverseBalanceDelta(*entry, account)
		return s.store.DeleteEntryWithBalance(ctx, entry.ID, account)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Entry deleted",
		"entry_id", entry.ID,
		"account_id", entry.AccountID)

	s.publishEvent(ctx, amqp.OpEntryDeleted, entry)
	return nil
}

// GetEntry loads one entry after checking the caller owns its account.
func (s *LedgerService) GetEntry(ctx context.Context, identity string, entryID int64) (*core.Entry, error) {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load entry: %w", err)
	}
	if _, err := s.store.AccountOwnedBy(ctx, entry.AccountID, userID); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns one date-descending page of the caller's entries for
// one account, optionally filtered.
func (s *LedgerService) ListEntries(ctx context.Context, identity string, f EntryFilter) (EntryPage, error) {
	userID, err := s.users.ResolveUser(ctx, identity)
	if err != nil {
		return EntryPage{}, fmt.Errorf("resolve user: %w", err)
	}
	if _, err := s.store.AccountOwnedBy(ctx, f.AccountID, userID); err != nil {
		return EntryPage{}, err
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return s.store.ListEntries(ctx, f)
}

// buildEntry turns an input into a validated entry, defaulting the date to
// today and seeding the recurrence anchor state for a non-NONE rule.
func (s *LedgerService) buildEntry(in EntryInput) (*core.Entry, error) {
	entry := core.Entry{
		AccountID:   in.AccountID,
		CategoryID:  in.CategoryID,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		Date:        in.Date,
		Kind:        in.Kind,
		Rule:        in.Rule,
	}
	if entry.Date.IsZero() {
		entry.Date = core.DateOf(s.now())
	}
	if entry.Rule != core.RuleNone {
		next, err := NextOccurrence(entry.Rule, entry.Date)
		if err != nil {
			return nil, err
		}
		entry.SeriesAnchor = true
		entry.NextDue = &next
	}
	if in.Image != nil {
		img, err := images.Process(*in.Image)
		if err != nil {
			return nil, fmt.Errorf("process image: %w", err)
		}
		entry.Image = img
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *LedgerService) withBalanceRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= balanceWriteRetries; attempt++ {
		err = op()
		if !errors.Is(err, core.ErrConflict) {
			return err
		}
		slog.WarnContext(ctx, "Balance version conflict, retrying",
			"attempt", attempt)
	}
	return err
}

// publishEvent is best effort: the mutation already committed, a broker
// outage must not fail it.
func (s *LedgerService) publishEvent(ctx context.Context, op string, e *core.Entry) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEntryEvent(ctx, op, e.ID, e.AccountID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish entry event",
			"op", op,
			"entry_id", e.ID,
			"error", err)
	}
}
