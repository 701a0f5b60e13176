package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spend/internal/amqp"
	"spend/internal/core"
)

// RecurrenceProcessor materializes concrete entries from recurring series
// anchors. It shares the ledger service's balance delta primitive, so the
// account invariant holds for generated entries exactly as for manual ones.
type RecurrenceProcessor struct {
	store  Store
	events *amqp.Client // nil disables event publishing
}

func NewRecurrenceProcessor(store Store, events *amqp.Client) *RecurrenceProcessor {
	return &RecurrenceProcessor{
		store:  store,
		events: events,
	}
}

// ProcessDueAnchors materializes every elapsed occurrence of every due
// anchor. Anchors fail independently: one anchor's error is logged and the
// batch continues. Returns the number of entries created.
func (p *RecurrenceProcessor) ProcessDueAnchors(ctx context.Context, now time.Time) (int, error) {
	today := core.DateOf(now)

	anchors, err := p.store.DueAnchors(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list due anchors: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurrence anchors",
		"due", len(anchors),
		"date", today.String())

	created := 0
	for _, anchor := range anchors {
		n, err := p.processAnchor(ctx, anchor, today)
		created += n
		if err != nil {
			slog.ErrorContext(ctx, "Failed to process recurrence anchor",
				"anchor_id", anchor.ID,
				"title", anchor.Title,
				"error", err)
			continue
		}
	}

	slog.InfoContext(ctx, "Recurrence processing complete",
		"created", created,
		"anchors", len(anchors))

	return created, nil
}

// processAnchor steps one anchor through every elapsed period. Each step
// claims the anchor by advancing its next due date conditionally, so two
// concurrent scheduler instances cannot materialize the same occurrence:
// the loser sees a conflict and leaves the anchor to the winner.
func (p *RecurrenceProcessor) processAnchor(ctx context.Context, anchor core.Entry, today core.Date) (int, error) {
	adv, err := AdvancerFor(anchor.Rule)
	if err != nil {
		return 0, err
	}

	created := 0
	for anchor.NextDue != nil && !anchor.NextDue.Time.After(today.Time) {
		due := *anchor.NextDue
		next := adv.Next(due)
		child := materialize(anchor, due)

		account, err := p.store.GetAccount(ctx, anchor.AccountID)
		if err != nil {
			return created, fmt.Errorf("load account: %w", err)
		}
		applyBalanceDelta(child, account)

		err = p.store.MaterializeOccurrence(ctx, &child, anchor.ID, due, next, account)
		if errors.Is(err, core.ErrConflict) {
			slog.WarnContext(ctx, "Anchor occurrence claimed elsewhere, skipping",
				"anchor_id", anchor.ID,
				"due", due.String())
			return created, nil
		}
		if err != nil {
			return created, fmt.Errorf("materialize occurrence due %s: %w", due, err)
		}

		created++
		anchor.NextDue = &next

		slog.InfoContext(ctx, "Materialized recurring entry",
			"anchor_id", anchor.ID,
			"entry_id", child.ID,
			"title", child.Title,
			"amount", child.Amount.String(),
			"date", child.Date.String(),
			"next_due", next.String())

		if p.events != nil {
			if err := p.events.PublishEntryEvent(ctx, amqp.OpEntryMaterialized, child.ID, child.AccountID); err != nil {
				slog.ErrorContext(ctx, "Failed to publish materialization event",
					"entry_id", child.ID,
					"error", err)
			}
		}
	}
	return created, nil
}

// materialize builds the concrete child entry for one occurrence of an
// anchor: same account, category, kind, amount and image, dated at the
// occurrence, with all recurrence state cleared.
func materialize(anchor core.Entry, due core.Date) core.Entry {
	return core.Entry{
		AccountID:   anchor.AccountID,
		CategoryID:  anchor.CategoryID,
		Title:       anchor.Title,
		Description: anchor.Description,
		Amount:      anchor.Amount,
		Date:        due,
		Kind:        anchor.Kind,
		Rule:        core.RuleNone,
		Image:       anchor.Image,
	}
}
