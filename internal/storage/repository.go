// Package storage is the expense ledger's persistence layer: SQLite with
// embedded migrations. Aggregations are pushed into SQL so the reporting
// views never load full result sets just to sum them.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"trasferte/internal/core"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
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

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Amounts are persisted as integer hundredths of a unit so SQL SUM stays
// exact; decimals only exist at the boundary.
func toHundredths(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromHundredths(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// CreateUser inserts a new account. The username is the primary key; a
// second registration for the same name fails with core.ErrUserExists even
// if the existing row was created by a budget upsert.
func (r *Repository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, budget_hundredths, role) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, toHundredths(u.Budget), string(u.Role))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, username string) (core.User, error) {
	var (
		u      core.User
		budget int64
		role   string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT username, password_hash, budget_hundredths, role FROM users WHERE username = ?`,
		username).Scan(&u.Username, &u.PasswordHash, &budget, &role)
	if err == sql.ErrNoRows {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Budget = fromHundredths(budget)
	u.Role = core.Role(role)
	return u, nil
}

// CreateExpense persists an expense and, when the expense carries a budget
// snapshot differing from the owner's stored budget (or the owner row does
// not exist yet), upserts the owner's budget. Both writes happen in one
// transaction; the budget semantics are last-write-wins, not additive.
func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var budget sql.NullInt64
	if e.Budget != nil {
		budget = sql.NullInt64{Int64: toHundredths(*e.Budget), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses
		   (id, username, amount_hundredths, currency, category, date, description,
		    status, budget_hundredths, converted_hundredths, policy_compliant)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Username, toHundredths(e.Amount), string(e.Currency),
		e.Category, e.Date.Unix(), e.Description, string(e.Status),
		budget, toHundredths(e.ConvertedAmount), e.PolicyCompliant)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	if e.Budget != nil {
		var stored sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT budget_hundredths FROM users WHERE username = ?`, e.Username).Scan(&stored)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read user budget: %w", err)
		}
		if err == sql.ErrNoRows || stored.Int64 != toHundredths(*e.Budget) {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO users (username, budget_hundredths) VALUES (?, ?)
				 ON CONFLICT(username) DO UPDATE SET budget_hundredths = excluded.budget_hundredths`,
				e.Username, toHundredths(*e.Budget))
			if err != nil {
				return fmt.Errorf("upsert user budget: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID, "username", e.Username, "category", e.Category,
		"amount", e.Amount.String(), "currency", e.Currency,
		"converted_usd", e.ConvertedAmount.String())
	return nil
}

const expenseColumns = `id, username, amount_hundredths, currency, category, date,
	description, status, budget_hundredths, converted_hundredths, policy_compliant`

type expenseScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row expenseScanner) (core.Expense, error) {
	var (
		e                      core.Expense
		id, currency, status   string
		amount, converted, dat int64
		budget                 sql.NullInt64
	)
	err := row.Scan(&id, &e.Username, &amount, &currency, &e.Category, &dat,
		&e.Description, &status, &budget, &converted, &e.PolicyCompliant)
	if err != nil {
		return core.Expense{}, err
	}
	e.ID, err = uuid.Parse(id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense id %q: %w", id, err)
	}
	e.Amount = fromHundredths(amount)
	e.Currency = core.Currency(currency)
	e.Date = time.Unix(dat, 0).UTC()
	e.Status = core.Status(status)
	e.ConvertedAmount = fromHundredths(converted)
	if budget.Valid {
		b := fromHundredths(budget.Int64)
		e.Budget = &b
	}
	return e, nil
}

func (r *Repository) GetExpense(ctx context.Context, id uuid.UUID) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id.String())
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return core.Expense{}, core.ErrExpenseNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

func (r *Repository) listExpenses(ctx context.Context, where string, args ...any) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE `+where+` ORDER BY date DESC, created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (r *Repository) ListByOwner(ctx context.Context, username string) ([]core.Expense, error) {
	return r.listExpenses(ctx, `username = ?`, username)
}

func (r *Repository) ListByStatus(ctx context.Context, status core.Status) ([]core.Expense, error) {
	return r.listExpenses(ctx, `status = ?`, string(status))
}

// UpdateStatus sets an expense's status unconditionally; transition rules
// are enforced by the caller, which reads the record first.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status core.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrExpenseNotFound
	}
	slog.InfoContext(ctx, "Expense status updated", "id", id, "status", status)
	return nil
}

// CategoryTotals returns, per category, the sum of converted amounts across
// all of one owner's expenses. Feeds the read-time enrichment of /my.
func (r *Repository) CategoryTotals(ctx context.Context, username string) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(converted_hundredths)
		   FROM expenses WHERE username = ? GROUP BY category`, username)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			category string
			total    int64
		)
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals[category] = fromHundredths(total)
	}
	return totals, rows.Err()
}

// AnalyticsByCategory groups one owner's expenses by category, ordered by
// total converted amount descending; ties break on category name so the
// order is deterministic.
func (r *Repository) AnalyticsByCategory(ctx context.Context, username string) ([]core.CategoryAnalytics, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_hundredths), SUM(converted_hundredths), COUNT(*)
		   FROM expenses WHERE username = ?
		  GROUP BY category
		  ORDER BY SUM(converted_hundredths) DESC, category ASC`, username)
	if err != nil {
		return nil, fmt.Errorf("analytics by category: %w", err)
	}
	defer rows.Close()

	var result []core.CategoryAnalytics
	for rows.Next() {
		var (
			row               core.CategoryAnalytics
			amount, converted int64
		)
		if err := rows.Scan(&row.Category, &amount, &converted, &row.Count); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		row.TotalAmount = fromHundredths(amount)
		row.TotalConverted = fromHundredths(converted)
		if row.Count > 0 {
			row.AverageConverted = row.TotalConverted.DivRound(decimal.NewFromInt(row.Count), 2)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// MonthSummary aggregates one owner's expenses inside [start, end]. An empty
// window yields HasData=false and zero totals; there is no sentinel budget.
func (r *Repository) MonthSummary(ctx context.Context, username string, start, end time.Time) (core.MonthlySummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(converted_hundredths), SUM(COALESCE(budget_hundredths, 0))
		   FROM expenses
		  WHERE username = ? AND date >= ? AND date <= ?
		  GROUP BY category
		  ORDER BY SUM(converted_hundredths) DESC, category ASC`,
		username, start.Unix(), end.Unix())
	if err != nil {
		return core.MonthlySummary{}, fmt.Errorf("month summary: %w", err)
	}
	defer rows.Close()

	summary := core.MonthlySummary{
		TotalExpenses: decimal.Zero,
		Budget:        decimal.Zero,
	}
	for rows.Next() {
		var (
			category          string
			converted, budget int64
		)
		if err := rows.Scan(&category, &converted, &budget); err != nil {
			return core.MonthlySummary{}, fmt.Errorf("scan month summary row: %w", err)
		}
		mc := core.MonthlyCategory{
			Category: category,
			Expenses: fromHundredths(converted),
			Budget:   fromHundredths(budget),
		}
		summary.Categories = append(summary.Categories, mc)
		summary.TotalExpenses = summary.TotalExpenses.Add(mc.Expenses)
		summary.Budget = summary.Budget.Add(mc.Budget)
		summary.HasData = true
	}
	return summary, rows.Err()
}

// Report groups one owner's expenses by (category, status) with optional
// status and date-range filters.
func (r *Repository) Report(ctx context.Context, username string, f core.ReportFilter) ([]core.ReportRow, error) {
	query := `SELECT category, status, SUM(amount_hundredths), SUM(converted_hundredths)
	            FROM expenses WHERE username = ?`
	args := []any{username}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.StartDate != nil {
		query += ` AND date >= ?`
		args = append(args, f.StartDate.Unix())
	}
	if f.EndDate != nil {
		query += ` AND date <= ?`
		args = append(args, f.EndDate.Unix())
	}
	query += ` GROUP BY category, status
	           ORDER BY SUM(converted_hundredths) DESC, category ASC, status ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	defer rows.Close()

	var result []core.ReportRow
	for rows.Next() {
		var (
			row               core.ReportRow
			status            string
			amount, converted int64
		)
		if err := rows.Scan(&row.Category, &status, &amount, &converted); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		row.Status = core.Status(status)
		row.TotalAmount = fromHundredths(amount)
		row.ConvertedTotal = fromHundredths(converted)
		result = append(result, row)
	}
	return result, rows.Err()
}
