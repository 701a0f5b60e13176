package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"spend/internal/core"
)

type recurrenceFixture struct {
	store   *fakeStore
	proc    *RecurrenceProcessor
	account *core.Account
	rent    *core.Category
}

func newRecurrenceFixture(t *testing.T, balance string) *recurrenceFixture {
	t.Helper()
	store := newFakeStore()
	userID := store.addUser(testEmail)
	return &recurrenceFixture{
		store:   store,
		proc:    NewRecurrenceProcessor(store, nil),
		account: store.addAccount(userID, balance),
		rent:    store.addCategory("Housing", core.Expense),
	}
}

func (f *recurrenceFixture) addAnchor(rule core.RecurrenceRule, amount, date, nextDue string) core.Entry {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	due, err := core.ParseDate(nextDue)
	if err != nil {
		panic(err)
	}
	return f.store.putEntry(core.Entry{
		AccountID:    f.account.ID,
		CategoryID:   f.rent.ID,
		Title:        "Rent",
		Description:  "Monthly rent",
		Amount:       decimal.RequireFromString(amount),
		Date:         d,
		Kind:         core.Expense,
		Rule:         rule,
		SeriesAnchor: true,
		NextDue:      &due,
	})
}

func (f *recurrenceFixture) anchorNextDue(t *testing.T, id int64) string {
	t.Helper()
	anchor, err := f.store.GetEntry(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if anchor.NextDue == nil {
		t.Fatal("anchor lost its next due date")
	}
	return anchor.NextDue.String()
}

func at(date string) time.Time {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return d.Time.Add(9 * time.Hour)
}

func TestProcessDueAnchorsNoDueIsNoOp(t *testing.T) {
	f := newRecurrenceFixture(t, "100.00")
	f.addAnchor(core.RuleMonthly, "50.00", "2026-03-01", "2026-04-01")

	created, err := f.proc.ProcessDueAnchors(context.Background(), at("2026-03-20"))
	if err != nil {
		t.Fatalf("ProcessDueAnchors: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if got := f.store.balanceOf(f.account.ID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balance = %s, want 100.00", got)
	}
	if n := f.store.entryCount(); n != 1 {
		t.Errorf("entries = %d, want just the anchor", n)
	}
}

func TestProcessDueAnchorsSingleOccurrence(t *testing.T) {
	f := newRecurrenceFixture(t, "1000.00")
	anchor := f.addAnchor(core.RuleMonthly, "600.00", "2025-12-31", "2026-01-31")

	created, err := f.proc.ProcessDueAnchors(context.Background(), at("2026-01-31"))
	if err != nil {
		t.Fatalf("ProcessDueAnchors: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	// Month-end clamp carries through the advance.
	if got := f.anchorNextDue(t, anchor.ID); got != "2026-02-28" {
		t.Errorf("anchor next due = %s, want 2026-02-28", got)
	}
	if got := f.store.balanceOf(f.account.ID); !got.Equal(decimal.RequireFromString("400.00")) {
		t.Errorf("balance = %s, want 400.00", got)
	}

	page, err := f.store.ListEntries(context.Background(), EntryFilter{AccountID: f.account.ID, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	var child *core.Entry
	for i := range page.Entries {
		if !page.Entries[i].SeriesAnchor {
			child = &page.Entries[i]
		}
	}
	if child == nil {
		t.Fatal("no materialized child entry found")
	}
	if child.Rule != core.RuleNone {
		t.Errorf("child rule = %s, want NONE", child.Rule)
	}
	if child.NextDue != nil {
		t.Error("child must not carry a next due date")
	}
	if child.Date.String() != "2026-01-31" {
		t.Errorf("child date = %s, want the occurrence date 2026-01-31", child.Date)
	}
	if child.Title != "Rent" || child.CategoryID != f.rent.ID || !child.Amount.Equal(anchor.Amount) {
		t.Errorf("child %+v does not copy the anchor's fields", child)
	}
}

func TestProcessDueAnchorsCatchesUpElapsedPeriods(t *testing.T) {
	f := newRecurrenceFixture(t, "0")
	anchor := f.addAnchor(core.RuleWeekly, "25.00", "2026-02-01", "2026-02-08")

	// Three weekly occurrences elapsed: Feb 8, 15 and 22.
	created, err := f.proc.ProcessDueAnchors(context.Background(), at("2026-02-23"))
	if err != nil {
		t.Fatalf("ProcessDueAnchors: %v", err)
	}
	if created != 3 {
		t.Fatalf("created = %d, want 3", created)
	}
	if got := f.anchorNextDue(t, anchor.ID); got != "2026-03-01" {
		t.Errorf("anchor next due = %s, want 2026-03-01", got)
	}
	if got := f.store.balanceOf(f.account.ID); !got.Equal(decimal.RequireFromString("-75.00")) {
		t.Errorf("balance = %s, want -75.00", got)
	}

	// A second tick on the same day creates nothing more.
	again, err := f.proc.ProcessDueAnchors(context.Background(), at("2026-02-23"))
	if err != nil {
		t.Fatalf("second ProcessDueAnchors: %v", err)
	}
	if again != 0 {
		t.Errorf("second tick created = %d, want 0", again)
	}
}

func TestProcessDueAnchorsSkipsClaimedAnchor(t *testing.T) {
	f := newRecurrenceFixture(t, "100.00")
	anchor := f.addAnchor(core.RuleDaily, "5.00", "2026-03-01", "2026-03-02")

	// Another scheduler instance advances the anchor between the due scan
	// and the claim.
	advanced := core.NewDate(2026, 3, 3)
	claimed := anchor
	claimed.NextDue = &advanced
	f.store.putEntry(claimed)

	// processAnchor works from the stale snapshot, loses the conditional
	// advance and stops without error.
	n, err := f.proc.processAnchor(context.Background(), anchor, core.NewDate(2026, 3, 2))
	if err != nil {
		t.Fatalf("processAnchor: %v", err)
	}
	if n != 0 {
		t.Errorf("created = %d, want 0 after losing the claim", n)
	}
	if got := f.store.balanceOf(f.account.ID); !got.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balance = %s, want unchanged 100.00", got)
	}
	if n := f.store.entryCount(); n != 1 {
		t.Errorf("entries = %d, want just the anchor", n)
	}
}

func TestProcessDueAnchorsIsolatesFailures(t *testing.T) {
	f := newRecurrenceFixture(t, "0")

	// The broken anchor points at an account whose load fails; the healthy
	// one must still be processed.
	brokenAccount := f.store.addAccount(99, "0")
	f.store.getAccountErr[brokenAccount.ID] = context.DeadlineExceeded

	d, _ := core.ParseDate("2026-03-01")
	due, _ := core.ParseDate("2026-03-02")
	f.store.putEntry(core.Entry{
		AccountID:    brokenAccount.ID,
		CategoryID:   f.rent.ID,
		Title:        "Broken",
		Amount:       decimal.RequireFromString("1.00"),
		Date:         d,
		Kind:         core.Expense,
		Rule:         core.RuleDaily,
		SeriesAnchor: true,
		NextDue:      &due,
	})
	healthy := f.addAnchor(core.RuleDaily, "2.00", "2026-03-01", "2026-03-02")

	created, err := f.proc.ProcessDueAnchors(context.Background(), at("2026-03-02"))
	if err != nil {
		t.Fatalf("ProcessDueAnchors: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1 from the healthy anchor", created)
	}
	if got := f.anchorNextDue(t, healthy.ID); got != "2026-03-03" {
		t.Errorf("healthy anchor next due = %s, want 2026-03-03", got)
	}
}
