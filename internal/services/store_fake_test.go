package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"spend/internal/core"
)

// fakeStore is an in-memory Store and UserResolver with the same guard
// semantics as the SQLite repository: account writes are version-checked
// and anchor advances are conditional on the previous next-due date.
type fakeStore struct {
	mu         sync.Mutex
	users      map[string]int64
	accounts   map[int64]*core.Account
	categories map[int64]*core.Category
	entries    map[int64]*core.Entry
	nextID     int64

	// error injection
	getAccountErr map[int64]error

	// onBeforeWrite runs inside every atomic write, used to interleave
	// concurrent mutations in tests.
	onBeforeWrite func()
}

var (
	_ Store        = (*fakeStore)(nil)
	_ UserResolver = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]int64{},
		accounts:      map[int64]*core.Account{},
		categories:    map[int64]*core.Category{},
		entries:       map[int64]*core.Entry{},
		getAccountErr: map[int64]error{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) addUser(email string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.users[email] = id
	return id
}

func (s *fakeStore) addAccount(userID int64, balance string) *core.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &core.Account{
		ID:      s.id(),
		UserID:  userID,
		Name:    fmt.Sprintf("account-%d", userID),
		Balance: decimal.RequireFromString(balance),
	}
	s.accounts[a.ID] = a
	copied := *a
	return &copied
}

func (s *fakeStore) addCategory(name string, kind core.EntryKind) *core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &core.Category{ID: s.id(), Name: name, Kind: kind}
	s.categories[c.ID] = c
	copied := *c
	return &copied
}

func (s *fakeStore) putEntry(e core.Entry) core.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.id()
	}
	stored := e
	s.entries[e.ID] = &stored
	return e
}

func (s *fakeStore) balanceOf(id int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance
}

func (s *fakeStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeStore) ResolveUser(_ context.Context, identity string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.users[identity]
	if !ok {
		return 0, fmt.Errorf("user %q: %w", identity, core.ErrNotFound)
	}
	return id, nil
}

func (s *fakeStore) GetAccount(_ context.Context, id int64) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.getAccountErr[id]; err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) AccountOwnedBy(ctx context.Context, accountID, userID int64) (*core.Account, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("account %d does not belong to user %d: %w", accountID, userID, core.ErrUnauthorized)
	}
	return a, nil
}

func (s *fakeStore) GetCategory(_ context.Context, id int64) (*core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (s *fakeStore) GetEntry(_ context.Context, id int64) (*core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	copied := *e
	return &copied, nil
}

// commitAccount enforces the version guard shared by every atomic write.
func (s *fakeStore) commitAccount(a *core.Account) error {
	stored, ok := s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %d: %w", a.ID, core.ErrNotFound)
	}
	if stored.Version != a.Version {
		return fmt.Errorf("account %d at version %d: %w", a.ID, a.Version, core.ErrConflict)
	}
	stored.Balance = a.Balance
	stored.Version++
	a.Version++
	return nil
}

func (s *fakeStore) CreateEntryWithBalance(_ context.Context, e *core.Entry, a *core.Account) error {
	if s.onBeforeWrite != nil {
		s.onBeforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitAccount(a); err != nil {
		return err
	}
	e.ID = s.id()
	stored := *e
	s.entries[e.ID] = &stored
	return nil
}

func (s *fakeStore) UpdateEntryWithBalance(_ context.Context, e *core.Entry, a *core.Account) error {
	if s.onBeforeWrite != nil {
		s.onBeforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; !ok {
		return fmt.Errorf("entry %d: %w", e.ID, core.ErrNotFound)
	}
	if err := s.commitAccount(a); err != nil {
		return err
	}
	stored := *e
	s.entries[e.ID] = &stored
	return nil
}

func (s *fakeStore) DeleteEntryWithBalance(_ context.Context, entryID int64, a *core.Account) error {
	if s.onBeforeWrite != nil {
		s.onBeforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entryID]; !ok {
		return fmt.Errorf("entry %d: %w", entryID, core.ErrNotFound)
	}
	if err := s.commitAccount(a); err != nil {
		return err
	}
	delete(s.entries, entryID)
	return nil
}

func (s *fakeStore) DueAnchors(_ context.Context, today core.Date) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []core.Entry
	for _, e := range s.entries {
		if e.SeriesAnchor && e.Rule != core.RuleNone && e.NextDue != nil && !e.NextDue.Time.After(today.Time) {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (s *fakeStore) MaterializeOccurrence(_ context.Context, child *core.Entry, anchorID int64, claimed, next core.Date, a *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	anchor, ok := s.entries[anchorID]
	if !ok {
		return fmt.Errorf("anchor %d: %w", anchorID, core.ErrNotFound)
	}
	if !anchor.SeriesAnchor || anchor.NextDue == nil || !anchor.NextDue.Equal(claimed.Time) {
		return fmt.Errorf("anchor %d occurrence %s: %w", anchorID, claimed, core.ErrConflict)
	}
	if err := s.commitAccount(a); err != nil {
		return err
	}
	advanced := next
	anchor.NextDue = &advanced
	child.ID = s.id()
	stored := *child
	s.entries[child.ID] = &stored
	return nil
}

func (s *fakeStore) ListEntries(_ context.Context, f EntryFilter) (EntryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []core.Entry
	for _, e := range s.entries {
		if e.AccountID != f.AccountID {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(e.Title), needle) &&
				!strings.Contains(strings.ToLower(e.Description), needle) {
				continue
			}
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.DateFrom != nil && e.Date.Time.Before(f.DateFrom.Time) {
			continue
		}
		if f.DateTo != nil && e.Date.Time.After(f.DateTo.Time) {
			continue
		}
		if f.MinAmount != nil && e.Amount.Cmp(*f.MinAmount) < 0 {
			continue
		}
		if f.MaxAmount != nil && e.Amount.Cmp(*f.MaxAmount) > 0 {
			continue
		}
		if f.CategoryID != 0 && e.CategoryID != f.CategoryID {
			continue
		}
		matched = append(matched, *e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date.Time) {
			return matched[i].Date.Time.After(matched[j].Date.Time)
		}
		return matched[i].ID > matched[j].ID
	})

	page := EntryPage{TotalCount: int64(len(matched)), Page: f.Page, PageSize: f.PageSize}
	start := (f.Page - 1) * f.PageSize
	if start < len(matched) {
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Entries = matched[start:end]
	}
	return page, nil
}

func (s *fakeStore) CategoryTotals(_ context.Context, accountID int64, from, to core.Date, kind core.EntryKind) ([]core.CategoryTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	index := map[string]int{}
	var totals []core.CategoryTotal
	for _, id := range ids {
		e := s.entries[id]
		if e.AccountID != accountID || e.Kind != kind {
			continue
		}
		if e.Date.Time.Before(from.Time) || e.Date.Time.After(to.Time) {
			continue
		}
		name := s.categories[e.CategoryID].Name
		i, seen := index[name]
		if !seen {
			index[name] = len(totals)
			totals = append(totals, core.CategoryTotal{Category: name, Total: decimal.Zero})
			i = len(totals) - 1
		}
		totals[i].Total = totals[i].Total.Add(e.Amount)
	}
	return totals, nil
}

func (s *fakeStore) SumAmount(_ context.Context, accountID int64, from, to core.Date, kind core.EntryKind) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Kind != kind {
			continue
		}
		if e.Date.Time.Before(from.Time) || e.Date.Time.After(to.Time) {
			continue
		}
		sum = sum.Add(e.Amount)
	}
	return sum, nil
}

func (s *fakeStore) SignedSumThrough(_ context.Context, accountID int64, through core.Date) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Date.Time.After(through.Time) {
			continue
		}
		sum = sum.Add(e.SignedAmount())
	}
	return sum, nil
}
