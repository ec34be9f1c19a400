package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"trasferte/internal/auth"
	"trasferte/internal/core"
)

// Decision values carried on the AMQP wire.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ApprovalService is the two-state decision gate over Pending expenses.
// Authorization is an explicit policy step here, not an assumption about
// who could reach the route.
type ApprovalService struct {
	store     ExpenseStore
	publisher DecisionPublisher
}

func NewApprovalService(store ExpenseStore, publisher DecisionPublisher) *ApprovalService {
	return &ApprovalService{store: store, publisher: publisher}
}

// Approve transitions a Pending expense to Approved. Repeating the same
// decision is a no-op success; a conflicting decision fails with
// core.ErrAlreadyDecided.
func (s *ApprovalService) Approve(ctx context.Context, id auth.Identity, expenseID uuid.UUID) (core.Expense, error) {
	return s.decide(ctx, id, expenseID, core.StatusApproved, DecisionApproved)
}

// Reject is symmetric to Approve.
func (s *ApprovalService) Reject(ctx context.Context, id auth.Identity, expenseID uuid.UUID) (core.Expense, error) {
	return s.decide(ctx, id, expenseID, core.StatusRejected, DecisionRejected)
}

func (s *ApprovalService) decide(ctx context.Context, id auth.Identity, expenseID uuid.UUID, target core.Status, decision string) (core.Expense, error) {
	e, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := auth.CanDecide(id, e); err != nil {
		return core.Expense{}, err
	}

	// Idempotent-terminal: re-applying the decision already on the record
	// succeeds without touching the store or republishing.
	if e.Status == target {
		return e, nil
	}
	if !core.CanTransition(e.Status, target) {
		return core.Expense{}, fmt.Errorf("%w: %s is %s", core.ErrAlreadyDecided, expenseID, e.Status)
	}

	if err := s.store.UpdateStatus(ctx, expenseID, target); err != nil {
		return core.Expense{}, fmt.Errorf("update status: %w", err)
	}
	e.Status = target

	slog.InfoContext(ctx, "Expense decided",
		"id", expenseID, "decision", decision, "decided_by", id.Username)

	if s.publisher != nil {
		if err := s.publisher.PublishExpenseDecided(ctx, expenseID, decision); err != nil {
			// The decision is committed; the worker's periodic catch-up pass
			// will pick the expense up even without the event.
			slog.ErrorContext(ctx, "Failed to publish decision event",
				"id", expenseID, "decision", decision, "error", err)
		}
	}

	return e, nil
}

// ListPending returns the manager queue: every Pending expense across all
// owners, unscoped on purpose.
func (s *ApprovalService) ListPending(ctx context.Context, id auth.Identity) ([]core.Expense, error) {
	if err := auth.RequireRole(id, core.RoleManager, core.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListByStatus(ctx, core.StatusPending)
}
