package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trasferte/internal/core"
)

// memStore is an in-memory stand-in for the SQLite repository, mirroring
// its budget-upsert semantics so service behavior can be tested without a
// database file.
type memStore struct {
	users     map[string]core.User
	expenses  map[uuid.UUID]core.Expense
	order     []uuid.UUID
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]core.User),
		expenses: make(map[uuid.UUID]core.Expense),
	}
}

func (m *memStore) CreateUser(_ context.Context, u core.User) error {
	if _, ok := m.users[u.Username]; ok {
		return core.ErrUserExists
	}
	m.users[u.Username] = u
	return nil
}

func (m *memStore) GetUser(_ context.Context, username string) (core.User, error) {
	u, ok := m.users[username]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u, nil
}

func (m *memStore) CreateExpense(_ context.Context, e core.Expense) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.expenses[e.ID] = e
	m.order = append(m.order, e.ID)
	if e.Budget != nil {
		u, ok := m.users[e.Username]
		if !ok || !u.Budget.Equal(*e.Budget) {
			u.Username = e.Username
			u.Budget = *e.Budget
			m.users[e.Username] = u
		}
	}
	return nil
}

func (m *memStore) GetExpense(_ context.Context, id uuid.UUID) (core.Expense, error) {
	e, ok := m.expenses[id]
	if !ok {
		return core.Expense{}, core.ErrExpenseNotFound
	}
	return e, nil
}

func (m *memStore) ListByOwner(_ context.Context, username string) ([]core.Expense, error) {
	var out []core.Expense
	for _, id := range m.order {
		if e := m.expenses[id]; e.Username == username {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListByStatus(_ context.Context, status core.Status) ([]core.Expense, error) {
	var out []core.Expense
	for _, id := range m.order {
		if e := m.expenses[id]; e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status core.Status) error {
	e, ok := m.expenses[id]
	if !ok {
		return core.ErrExpenseNotFound
	}
	e.Status = status
	m.expenses[id] = e
	return nil
}

func (m *memStore) CategoryTotals(_ context.Context, username string) (map[string]decimal.Decimal, error) {
	totals := make(map[string]decimal.Decimal)
	for _, e := range m.expenses {
		if e.Username == username {
			totals[e.Category] = totals[e.Category].Add(e.ConvertedAmount)
		}
	}
	return totals, nil
}

func (m *memStore) AnalyticsByCategory(_ context.Context, username string) ([]core.CategoryAnalytics, error) {
	byCat := make(map[string]*core.CategoryAnalytics)
	for _, e := range m.expenses {
		if e.Username != username {
			continue
		}
		row, ok := byCat[e.Category]
		if !ok {
			row = &core.CategoryAnalytics{Category: e.Category}
			byCat[e.Category] = row
		}
		row.TotalAmount = row.TotalAmount.Add(e.Amount)
		row.TotalConverted = row.TotalConverted.Add(e.ConvertedAmount)
		row.Count++
	}
	var out []core.CategoryAnalytics
	for _, row := range byCat {
		row.AverageConverted = row.TotalConverted.DivRound(decimal.NewFromInt(row.Count), 2)
		out = append(out, *row)
	}
	return out, nil
}

func (m *memStore) MonthSummary(_ context.Context, username string, start, end time.Time) (core.MonthlySummary, error) {
	summary := core.MonthlySummary{TotalExpenses: decimal.Zero, Budget: decimal.Zero}
	for _, e := range m.expenses {
		if e.Username != username || e.Date.Before(start) || e.Date.After(end) {
			continue
		}
		summary.HasData = true
		summary.TotalExpenses = summary.TotalExpenses.Add(e.ConvertedAmount)
		if e.Budget != nil {
			summary.Budget = summary.Budget.Add(*e.Budget)
		}
	}
	return summary, nil
}

func (m *memStore) Report(_ context.Context, username string, f core.ReportFilter) ([]core.ReportRow, error) {
	type key struct {
		category string
		status   core.Status
	}
	groups := make(map[key]*core.ReportRow)
	for _, e := range m.expenses {
		if e.Username != username {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.StartDate != nil && e.Date.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && e.Date.After(*f.EndDate) {
			continue
		}
		k := key{e.Category, e.Status}
		row, ok := groups[k]
		if !ok {
			row = &core.ReportRow{Category: e.Category, Status: e.Status}
			groups[k] = row
		}
		row.TotalAmount = row.TotalAmount.Add(e.Amount)
		row.ConvertedTotal = row.ConvertedTotal.Add(e.ConvertedAmount)
	}
	var out []core.ReportRow
	for _, row := range groups {
		out = append(out, *row)
	}
	return out, nil
}

// recordingPublisher captures decision events.
type recordingPublisher struct {
	events []string
	err    error
}

func (p *recordingPublisher) PublishExpenseDecided(_ context.Context, id uuid.UUID, decision string) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, decision+":"+id.String())
	return nil
}
