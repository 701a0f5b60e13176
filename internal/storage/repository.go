// Package storage implements the ledger store on SQLite. Every balance
// mutation runs in one transaction with its entry write, with the account
// row guarded by a version column and anchor advances guarded by the
// previous next-due value.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"spend/internal/cache"
	"spend/internal/core"
	"spend/internal/services"

	_ "modernc.org/sqlite"
)

// Categories and user identities change rarely and are read on every entry
// mutation, so both sit behind a small TTL cache.
const (
	lookupCacheSize = 256
	lookupCacheTTL  = 5 * time.Minute
)

type SQLiteRepository struct {
	db         *sql.DB
	categories *cache.LRU[int64, core.Category]
	userIDs    *cache.LRU[string, int64]
}

var (
	_ services.Store        = (*SQLiteRepository)(nil)
	_ services.UserResolver = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:         db,
		categories: cache.NewLRU[int64, core.Category](lookupCacheSize, lookupCacheTTL),
		userIDs:    cache.NewLRU[string, int64](lookupCacheSize, lookupCacheTTL),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ResolveUser implements services.UserResolver; identities are emails.
func (r *SQLiteRepository) ResolveUser(ctx context.Context, identity string) (int64, error) {
	if id, ok := r.userIDs.Get(identity); ok {
		return id, nil
	}
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM users WHERE email = ?", identity).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %q: %w", identity, core.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	r.userIDs.Set(identity, id)
	return id, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (*core.Account, error) {
	var a core.Account
	var cents int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, balance_cents, version, created_at FROM accounts WHERE id = ?", id).
		Scan(&a.ID, &a.UserID, &a.Name, &cents, &a.Version, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	a.Balance = core.FromCents(cents)
	return &a, nil
}

func (r *SQLiteRepository) AccountOwnedBy(ctx context.Context, accountID, userID int64) (*core.Account, error) {
	a, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("account %d does not belong to user %d: %w", accountID, userID, core.ErrUnauthorized)
	}
	return a, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	if c, ok := r.categories.Get(id); ok {
		return &c, nil
	}
	var c core.Category
	var userID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, color, icon, kind, user_id FROM categories WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &c.Kind, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	if userID.Valid {
		c.UserID = &userID.Int64
	}
	r.categories.Set(id, c)
	return &c, nil
}

const entryColumns = "id, account_id, category_id, title, description, amount_cents, date, kind, rule, series_anchor, next_due, image_data, image_type, image_name"

func scanEntry(row interface{ Scan(...any) error }) (*core.Entry, error) {
	var e core.Entry
	var cents int64
	var dateStr string
	var nextDue, imgType, imgName sql.NullString
	var imgData []byte
	err := row.Scan(&e.ID, &e.AccountID, &e.CategoryID, &e.Title, &e.Description,
		&cents, &dateStr, &e.Kind, &e.Rule, &e.SeriesAnchor, &nextDue,
		&imgData, &imgType, &imgName)
	if err != nil {
		return nil, err
	}
	e.Amount = core.FromCents(cents)
	e.Date, err = core.ParseDate(dateStr)
	if err != nil {
		return nil, fmt.Errorf("entry %d date: %w", e.ID, err)
	}
	if nextDue.Valid {
		d, err := core.ParseDate(nextDue.String)
		if err != nil {
			return nil, fmt.Errorf("entry %d next due: %w", e.ID, err)
		}
		e.NextDue = &d
	}
	if len(imgData) > 0 {
		e.Image = &core.Image{
			Data:        imgData,
			ContentType: imgType.String,
			Name:        imgName.String,
		}
	}
	return &e, nil
}

func (r *SQLiteRepository) GetEntry(ctx context.Context, id int64) (*core.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// applyAccountTx persists the mutated balance with an optimistic version
// check; a concurrent writer makes the check fail with core.ErrConflict.
func applyAccountTx(ctx context.Context, tx *sql.Tx, a *core.Account) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance_cents = ?, version = version + 1 WHERE id = ? AND version = ?",
		core.Cents(a.Balance), a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %d at version %d: %w", a.ID, a.Version, core.ErrConflict)
	}
	a.Version++
	return nil
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, e *core.Entry) error {
	var nextDue any
	if e.NextDue != nil {
		nextDue = e.NextDue.String()
	}
	var imgData []byte
	var imgType, imgName any
	if e.Image != nil {
		imgData = e.Image.Data
		imgType = e.Image.ContentType
		imgName = e.Image.Name
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries (account_id, category_id, title, description, amount_cents, date, kind, rule, series_anchor, next_due, image_data, image_type, image_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AccountID, e.CategoryID, e.Title, e.Description,
		core.Cents(e.Amount), e.Date.String(), string(e.Kind), string(e.Rule),
		e.SeriesAnchor, nextDue, imgData, imgType, imgName)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	e.ID = id
	return nil
}

func (r *SQLiteRepository) CreateEntryWithBalance(ctx context.Context, e *core.Entry, a *core.Account) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyAccountTx(ctx, tx, a); err != nil {
			return err
		}
		return insertEntryTx(ctx, tx, e)
	})
}

func (r *SQLiteRepository) UpdateEntryWithBalance(ctx context.Context, e *core.Entry, a *core.Account) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyAccountTx(ctx, tx, a); err != nil {
			return err
		}
		var nextDue any
		if e.NextDue != nil {
			nextDue = e.NextDue.String()
		}
		var imgData []byte
		var imgType, imgName any
		if e.Image != nil {
			imgData = e.Image.Data
			imgType = e.Image.ContentType
			imgName = e.Image.Name
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE entries
			SET category_id = ?, title = ?, description = ?, amount_cents = ?, date = ?, kind = ?, rule = ?, series_anchor = ?, next_due = ?, image_data = ?, image_type = ?, image_name = ?
			WHERE id = ?`,
			e.CategoryID, e.Title, e.Description, core.Cents(e.Amount),
			e.Date.String(), string(e.Kind), string(e.Rule), e.SeriesAnchor,
			nextDue, imgData, imgType, imgName, e.ID)
		if err != nil {
			return fmt.Errorf("update entry %d: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update entry %d: %w", e.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("entry %d: %w", e.ID, core.ErrNotFound)
		}
		return nil
	})
}

func (r *SQLiteRepository) DeleteEntryWithBalance(ctx context.Context, entryID int64, a *core.Account) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyAccountTx(ctx, tx, a); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", entryID)
		if err != nil {
			return fmt.Errorf("delete entry %d: %w", entryID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete entry %d: %w", entryID, err)
		}
		if n == 0 {
			return fmt.Errorf("entry %d: %w", entryID, core.ErrNotFound)
		}
		return nil
	})
}

func (r *SQLiteRepository) DueAnchors(ctx context.Context, today core.Date) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE series_anchor = 1 AND rule != 'NONE' AND next_due IS NOT NULL AND next_due <= ?
		ORDER BY next_due, id`, today.String())
	if err != nil {
		return nil, fmt.Errorf("query due anchors: %w", err)
	}
	defer rows.Close()

	var anchors []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		anchors = append(anchors, *e)
	}
	return anchors, rows.Err()
}

// MaterializeOccurrence claims the anchor by advancing its next due date
// from the value the caller saw. The claim, the balance write and the child
// insert commit together or not at all.
func (r *SQLiteRepository) MaterializeOccurrence(ctx context.Context, child *core.Entry, anchorID int64, claimed, next core.Date, a *core.Account) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE entries SET next_due = ? WHERE id = ? AND series_anchor = 1 AND next_due = ?",
			next.String(), anchorID, claimed.String())
		if err != nil {
			return fmt.Errorf("advance anchor %d: %w", anchorID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance anchor %d: %w", anchorID, err)
		}
		if n == 0 {
			return fmt.Errorf("anchor %d occurrence %s: %w", anchorID, claimed, core.ErrConflict)
		}
		if err := applyAccountTx(ctx, tx, a); err != nil {
			return err
		}
		return insertEntryTx(ctx, tx, child)
	})
}

func (r *SQLiteRepository) ListEntries(ctx context.Context, f services.EntryFilter) (services.EntryPage, error) {
	where := []string{"account_id = ?"}
	args := []any{f.AccountID}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		where = append(where, "(lower(title) LIKE ? OR lower(description) LIKE ?)")
		args = append(args, pattern, pattern)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.DateFrom != nil {
		where = append(where, "date >= ?")
		args = append(args, f.DateFrom.String())
	}
	if f.DateTo != nil {
		where = append(where, "date <= ?")
		args = append(args, f.DateTo.String())
	}
	if f.MinAmount != nil {
		where = append(where, "amount_cents >= ?")
		args = append(args, core.Cents(*f.MinAmount))
	}
	if f.MaxAmount != nil {
		where = append(where, "amount_cents <= ?")
		args = append(args, core.Cents(*f.MaxAmount))
	}
	if f.CategoryID != 0 {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	cond := strings.Join(where, " AND ")

	page := services.EntryPage{Page: f.Page, PageSize: f.PageSize}

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE "+cond, args...).Scan(&page.TotalCount)
	if err != nil {
		return page, fmt.Errorf("count entries: %w", err)
	}

	offset := (f.Page - 1) * f.PageSize
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM entries WHERE "+cond+" ORDER BY date DESC, id DESC LIMIT ? OFFSET ?",
		append(args, f.PageSize, offset)...)
	if err != nil {
		return page, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return page, fmt.Errorf("scan entry: %w", err)
		}
		page.Entries = append(page.Entries, *e)
	}
	return page, rows.Err()
}

// CategoryTotals groups by category in first-seen order (earliest entry id
// per category first), mirroring the insertion order a client displays.
func (r *SQLiteRepository) CategoryTotals(ctx context.Context, accountID int64, from, to core.Date, kind core.EntryKind) ([]core.CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, SUM(e.amount_cents)
		FROM entries e
		JOIN categories c ON c.id = e.category_id
		WHERE e.account_id = ? AND e.date >= ? AND e.date <= ? AND e.kind = ?
		GROUP BY c.id, c.name
		ORDER BY MIN(e.id)`,
		accountID, from.String(), to.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("query category totals: %w", err)
	}
	defer rows.Close()

	var totals []core.CategoryTotal
	for rows.Next() {
		var name string
		var cents int64
		if err := rows.Scan(&name, &cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, core.CategoryTotal{Category: name, Total: core.FromCents(cents)})
	}
	return totals, rows.Err()
}

func (r *SQLiteRepository) SumAmount(ctx context.Context, accountID int64, from, to core.Date, kind core.EntryKind) (decimal.Decimal, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM entries
		WHERE account_id = ? AND date >= ? AND date <= ? AND kind = ?`,
		accountID, from.String(), to.String(), string(kind)).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum amounts: %w", err)
	}
	return core.FromCents(cents), nil
}

func (r *SQLiteRepository) SignedSumThrough(ctx context.Context, accountID int64, through core.Date) (decimal.Decimal, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'INCOME' THEN amount_cents ELSE -amount_cents END), 0)
		FROM entries WHERE account_id = ? AND date <= ?`,
		accountID, through.String()).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("signed sum: %w", err)
	}
	return core.FromCents(cents), nil
}
