// Package worker closes the approval loop: approved expenses are exported
// to the finance sheet and marked Reimbursed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"trasferte/internal/amqp"
	"trasferte/internal/core"
	"trasferte/internal/sheets"
)

// ExpenseStore is the slice of storage the worker needs.
type ExpenseStore interface {
	GetExpense(ctx context.Context, id uuid.UUID) (core.Expense, error)
	ListByStatus(ctx context.Context, status core.Status) ([]core.Expense, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status core.Status) error
}

type ReimburseWorker struct {
	store    ExpenseStore
	exporter sheets.ExportWriter
}

func NewReimburseWorker(store ExpenseStore, exporter sheets.ExportWriter) *ReimburseWorker {
	return &ReimburseWorker{store: store, exporter: exporter}
}

// HandleDecision processes one decision event. Rejections are terminal and
// only logged; approvals are reimbursed. Events for expenses that already
// moved on are acknowledged without rework so redeliveries stay harmless.
func (w *ReimburseWorker) HandleDecision(ctx context.Context, msg *amqp.ExpenseDecidedMessage) error {
	if msg.Decision != "approved" {
		slog.InfoContext(ctx, "Expense rejected, nothing to reimburse", "id", msg.ID)
		return nil
	}

	id, err := uuid.Parse(msg.ID)
	if err != nil {
		return fmt.Errorf("parse expense id %q: %w", msg.ID, err)
	}

	expense, err := w.store.GetExpense(ctx, id)
	if errors.Is(err, core.ErrExpenseNotFound) {
		// The event outlived the record; drop it rather than requeue forever.
		slog.WarnContext(ctx, "Decision event for unknown expense", "id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense: %w", err)
	}

	return w.reimburse(ctx, expense)
}

func (w *ReimburseWorker) reimburse(ctx context.Context, expense core.Expense) error {
	switch expense.Status {
	case core.StatusReimbursed:
		slog.DebugContext(ctx, "Expense already reimbursed", "id", expense.ID)
		return nil
	case core.StatusApproved:
		// Proceed.
	default:
		slog.WarnContext(ctx, "Expense not in a reimbursable state",
			"id", expense.ID, "status", expense.Status)
		return nil
	}

	ref, err := w.exporter.Append(ctx, expense)
	if err != nil {
		return fmt.Errorf("export expense %s: %w", expense.ID, err)
	}

	if err := w.store.UpdateStatus(ctx, expense.ID, core.StatusReimbursed); err != nil {
		return fmt.Errorf("mark reimbursed: %w", err)
	}

	slog.InfoContext(ctx, "Expense reimbursed",
		"id", expense.ID, "username", expense.Username,
		"converted_usd", expense.ConvertedAmount.String(), "export_ref", ref)
	return nil
}

// ProcessApproved is the periodic catch-up pass: it reimburses every
// Approved expense, covering events lost between decision and delivery.
func (w *ReimburseWorker) ProcessApproved(ctx context.Context) error {
	approved, err := w.store.ListByStatus(ctx, core.StatusApproved)
	if err != nil {
		return fmt.Errorf("list approved expenses: %w", err)
	}
	if len(approved) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Catch-up pass over approved expenses", "count", len(approved))
	for _, expense := range approved {
		if err := w.reimburse(ctx, expense); err != nil {
			// Keep going; a single bad export must not starve the rest.
			slog.ErrorContext(ctx, "Catch-up reimbursement failed",
				"id", expense.ID, "error", err)
		}
	}
	return nil
}
