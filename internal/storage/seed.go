package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"spend/internal/core"
)

// Seed helpers used by cmd/spend-init. Account, category and user lifecycle
// management beyond this lives outside the ledger core.

func (r *SQLiteRepository) CreateUser(ctx context.Context, email, name string) (*core.User, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, name) VALUES (?, ?)", email, name)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &core.User{ID: id, Email: email, Name: name}, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, userID int64, name string, initialBalance decimal.Decimal) (*core.Account, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO accounts (user_id, name, balance_cents) VALUES (?, ?, ?)",
		userID, name, core.Cents(initialBalance))
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return r.GetAccount(ctx, id)
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (*core.Category, error) {
	var userID any
	if c.UserID != nil {
		userID = *c.UserID
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO categories (name, color, icon, kind, user_id) VALUES (?, ?, ?, ?, ?)",
		c.Name, c.Color, c.Icon, string(c.Kind), userID)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	c.ID = id
	return &c, nil
}

// CountDefaultCategories reports how many system-wide categories exist,
// used to make seeding idempotent.
func (r *SQLiteRepository) CountDefaultCategories(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM categories WHERE user_id IS NULL").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count default categories: %w", err)
	}
	return n, nil
}
