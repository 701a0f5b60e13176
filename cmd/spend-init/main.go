// Command spend-init prepares a database for use: it runs the schema
// migrations, seeds the system-wide default categories and can create a
// first user and account.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/shopspring/decimal"
	"spend/internal/cli"
	"spend/internal/core"
	"spend/internal/log"
	"spend/internal/storage"
)

var defaultCategories = []core.Category{
	{Name: "Salary", Color: "#27ae60", Icon: "💰", Kind: core.Income},
	{Name: "Freelance", Color: "#16a085", Icon: "💼", Kind: core.Income},
	{Name: "Sales", Color: "#2ecc71", Icon: "💸", Kind: core.Income},
	{Name: "Gifts", Color: "#3498db", Icon: "🎁", Kind: core.Income},
	{Name: "Investments", Color: "#1abc9c", Icon: "📈", Kind: core.Income},
	{Name: "Groceries", Color: "#e74c3c", Icon: "🛒", Kind: core.Expense},
	{Name: "Transport", Color: "#f39c12", Icon: "🚌", Kind: core.Expense},
	{Name: "Housing", Color: "#9b59b6", Icon: "🏠", Kind: core.Expense},
	{Name: "Leisure", Color: "#34495e", Icon: "🎬", Kind: core.Expense},
	{Name: "Bills", Color: "#c0392b", Icon: "🧾", Kind: core.Expense},
	{Name: "Health", Color: "#e67e22", Icon: "🏥", Kind: core.Expense},
	{Name: "Education", Color: "#2980b9", Icon: "📚", Kind: core.Expense},
	{Name: "Clothing", Color: "#8e44ad", Icon: "👕", Kind: core.Expense},
	{Name: "Pets", Color: "#2c3e50", Icon: "🐾", Kind: core.Expense},
	{Name: "Travel", Color: "#16a085", Icon: "✈️", Kind: core.Expense},
	{Name: "Other", Color: "#7f8c8d", Icon: "❓", Kind: core.Expense},
}

func main() {
	email := flag.String("email", "", "create a user with this email")
	name := flag.String("name", "", "display name for the created user")
	account := flag.String("account", "", "create an account with this name for the user")
	balance := flag.String("balance", "0", "initial balance for the created account")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentSeed)

	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx := context.Background()

	seedCategories(ctx, logger, repo)

	if *email == "" {
		return
	}

	user, err := repo.CreateUser(ctx, *email, *name)
	if err != nil {
		logger.Error("Failed to create user", log.FieldError, err, "email", *email)
		os.Exit(1)
	}
	logger.Info("User created", "user_id", user.ID, "email", user.Email)

	if *account == "" {
		return
	}

	initial := decimal.Zero
	if *balance != "" && *balance != "0" {
		initial, err = core.ParseAmount(*balance)
		if err != nil {
			logger.Error("Invalid initial balance", log.FieldError, err, "balance", *balance)
			os.Exit(1)
		}
	}

	acc, err := repo.CreateAccount(ctx, user.ID, *account, initial)
	if err != nil {
		logger.Error("Failed to create account", log.FieldError, err, "account", *account)
		os.Exit(1)
	}
	logger.Info("Account created",
		log.FieldAccountID, acc.ID,
		"name", acc.Name,
		"balance", acc.Balance.String())
}

func seedCategories(ctx context.Context, logger *log.Logger, repo *storage.SQLiteRepository) {
	existing, err := repo.CountDefaultCategories(ctx)
	if err != nil {
		logger.Error("Failed to check default categories", log.FieldError, err)
		os.Exit(1)
	}
	if existing > 0 {
		logger.Info("Default categories already present", "count", existing)
		return
	}

	for _, c := range defaultCategories {
		if _, err := repo.CreateCategory(ctx, c); err != nil {
			logger.Error("Failed to seed category", log.FieldError, err, "category", c.Name)
			os.Exit(1)
		}
	}
	logger.Info("Default categories seeded", "count", len(defaultCategories))
}
