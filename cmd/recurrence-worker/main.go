package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"spend/internal/cli"
	"spend/internal/log"
	"spend/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentRecurrence)

	logger.Info("Starting recurrence-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitRepository(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	events := cli.InitEventPublisher(logger, cfg)
	if events != nil {
		defer events.Close()
	}

	processor := services.NewRecurrenceProcessor(repo, events)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Recurrence processor configured",
		"interval", cfg.RecurrenceTickInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Catch up immediately on startup, then tick.
		runTick(ctx, logger, processor)

		ticker := time.NewTicker(cfg.RecurrenceTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runTick(ctx, logger, processor)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("Recurrence-worker stopped with error", log.FieldError, err)
		return
	}
	logger.Info("Recurrence-worker shutdown complete")
}

func runTick(ctx context.Context, logger *log.Logger, processor *services.RecurrenceProcessor) {
	created, err := processor.ProcessDueAnchors(ctx, time.Now())
	if err != nil {
		logger.ErrorContext(ctx, "Recurrence tick failed", log.FieldError, err)
		return
	}
	logger.InfoContext(ctx, "Recurrence tick complete", "entries_created", created)
}
