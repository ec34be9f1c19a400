package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trasferte/internal/core"
)

// Ports for the storage and messaging adapters the services depend on.
type (
	UserStore interface {
		CreateUser(ctx context.Context, u core.User) error
		GetUser(ctx context.Context, username string) (core.User, error)
	}

	ExpenseStore interface {
		CreateExpense(ctx context.Context, e core.Expense) error
		GetExpense(ctx context.Context, id uuid.UUID) (core.Expense, error)
		ListByOwner(ctx context.Context, username string) ([]core.Expense, error)
		ListByStatus(ctx context.Context, status core.Status) ([]core.Expense, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status core.Status) error
		CategoryTotals(ctx context.Context, username string) (map[string]decimal.Decimal, error)
	}

	AggregateStore interface {
		AnalyticsByCategory(ctx context.Context, username string) ([]core.CategoryAnalytics, error)
		MonthSummary(ctx context.Context, username string, start, end time.Time) (core.MonthlySummary, error)
		Report(ctx context.Context, username string, f core.ReportFilter) ([]core.ReportRow, error)
	}

	// DecisionPublisher emits approve/reject events for the reimbursement
	// pipeline. Publishing is best-effort; a failed publish never fails the
	// decision itself.
	DecisionPublisher interface {
		PublishExpenseDecided(ctx context.Context, id uuid.UUID, decision string) error
	}
)
