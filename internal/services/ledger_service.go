package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trasferte/internal/auth"
	"trasferte/internal/core"
	"trasferte/internal/rates"
)

// LedgerService owns the expense lifecycle at write time: currency
// conversion, policy stamping, persistence and the owner-budget side effect.
type LedgerService struct {
	store  ExpenseStore
	users  UserStore
	oracle rates.Oracle
	now    func() time.Time
}

func NewLedgerService(store ExpenseStore, users UserStore, oracle rates.Oracle) *LedgerService {
	return &LedgerService{store: store, users: users, oracle: oracle, now: time.Now}
}

// SubmitInput is one expense submission as received from the boundary.
type SubmitInput struct {
	Username    string
	Amount      decimal.Decimal
	Currency    core.Currency
	Category    string
	Date        time.Time // zero means "now"
	Description string
	Budget      *decimal.Decimal
}

// Submit converts, stamps and persists a new expense owned by the
// authenticated identity. Submitting on behalf of someone else fails with
// core.ErrUsernameMismatch before anything is written.
func (s *LedgerService) Submit(ctx context.Context, id auth.Identity, in SubmitInput) (core.Expense, error) {
	if in.Username != id.Username {
		return core.Expense{}, core.ErrUsernameMismatch
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}

	e := core.Expense{
		ID:              uuid.New(),
		Username:        in.Username,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Category:        in.Category,
		Date:            date,
		Description:     in.Description,
		Status:          core.StatusPending,
		Budget:          in.Budget,
		PolicyCompliant: core.CompliesWithPolicy(in.Amount),
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	converted, err := s.oracle.Convert(ctx, in.Amount, in.Currency, core.USD)
	if err != nil {
		return core.Expense{}, fmt.Errorf("convert %s %s to USD: %w", in.Amount, in.Currency, err)
	}
	e.ConvertedAmount = converted

	if err := s.store.CreateExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("persist expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense submitted",
		"id", e.ID, "username", e.Username, "category", e.Category,
		"amount", e.Amount.String(), "currency", e.Currency,
		"policy_compliant", e.PolicyCompliant)
	return e, nil
}

// ListMine returns the identity's own expenses enriched with read-time
// derived fields: the effective budget (expense snapshot, else the owner's
// stored budget, else zero) and the owner's converted total for the
// expense's category. Neither is ever persisted.
func (s *LedgerService) ListMine(ctx context.Context, id auth.Identity) ([]core.EnrichedExpense, error) {
	expenses, err := s.store.ListByOwner(ctx, id.Username)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	userBudget := decimal.Zero
	user, err := s.users.GetUser(ctx, id.Username)
	switch {
	case err == nil:
		userBudget = user.Budget
	case errors.Is(err, core.ErrUserNotFound):
		// No stored budget; enrichment falls back to zero.
	default:
		return nil, fmt.Errorf("load user: %w", err)
	}

	totals, err := s.store.CategoryTotals(ctx, id.Username)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}

	enriched := make([]core.EnrichedExpense, len(expenses))
	for i, e := range expenses {
		budget := userBudget
		if e.Budget != nil {
			budget = *e.Budget
		}
		enriched[i] = core.EnrichedExpense{
			Expense:         e,
			EffectiveBudget: budget,
			CategoryTotal:   totals[e.Category],
		}
	}
	return enriched, nil
}
