package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trasferte/internal/auth"
	"trasferte/internal/core"
	"trasferte/internal/rates"
	"trasferte/internal/services"
)

type fakeAccounts struct {
	registerErr error
	user        core.User
	authErr     error
}

func (f *fakeAccounts) Register(context.Context, string, string, core.Role) error {
	return f.registerErr
}

func (f *fakeAccounts) Authenticate(context.Context, string, string) (core.User, error) {
	if f.authErr != nil {
		return core.User{}, f.authErr
	}
	return f.user, nil
}

type fakeLedger struct {
	submitted core.Expense
	submitErr error
	mine      []core.EnrichedExpense
	mineErr   error
}

func (f *fakeLedger) Submit(context.Context, auth.Identity, services.SubmitInput) (core.Expense, error) {
	if f.submitErr != nil {
		return core.Expense{}, f.submitErr
	}
	return f.submitted, nil
}

func (f *fakeLedger) ListMine(context.Context, auth.Identity) ([]core.EnrichedExpense, error) {
	return f.mine, f.mineErr
}

type fakeApprovals struct {
	decided    core.Expense
	decideErr  error
	pending    []core.Expense
	pendingErr error
}

func (f *fakeApprovals) Approve(context.Context, auth.Identity, uuid.UUID) (core.Expense, error) {
	if f.decideErr != nil {
		return core.Expense{}, f.decideErr
	}
	return f.decided, nil
}

func (f *fakeApprovals) Reject(context.Context, auth.Identity, uuid.UUID) (core.Expense, error) {
	if f.decideErr != nil {
		return core.Expense{}, f.decideErr
	}
	return f.decided, nil
}

func (f *fakeApprovals) ListPending(context.Context, auth.Identity) ([]core.Expense, error) {
	return f.pending, f.pendingErr
}

type fakeReports struct {
	analytics  []core.CategoryAnalytics
	summary    core.MonthlySummary
	rows       []core.ReportRow
	err        error
	lastFilter core.ReportFilter
}

func (f *fakeReports) AnalyticsByCategory(context.Context, auth.Identity) ([]core.CategoryAnalytics, error) {
	return f.analytics, f.err
}

func (f *fakeReports) MonthlySummary(context.Context, auth.Identity, time.Time) (core.MonthlySummary, error) {
	return f.summary, f.err
}

func (f *fakeReports) Report(_ context.Context, _ auth.Identity, filter core.ReportFilter) ([]core.ReportRow, error) {
	f.lastFilter = filter
	return f.rows, f.err
}

type testDeps struct {
	tokens    *auth.Tokens
	accounts  *fakeAccounts
	ledger    *fakeLedger
	approvals *fakeApprovals
	reports   *fakeReports
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		tokens:    auth.NewTokens("server-test-secret-key", time.Hour),
		accounts:  &fakeAccounts{},
		ledger:    &fakeLedger{},
		approvals: &fakeApprovals{},
		reports:   &fakeReports{},
	}
	s := NewServer(":0", deps.tokens, deps.accounts, deps.ledger, deps.approvals, deps.reports)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return s, deps
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func mustToken(t *testing.T, tokens *auth.Tokens, username string, role core.Role) string {
	t.Helper()
	token, err := tokens.Issue(username, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func sampleExpense() core.Expense {
	return core.Expense{
		ID:              uuid.New(),
		Username:        "mario",
		Amount:          decimal.NewFromInt(100),
		Currency:        core.EUR,
		Category:        "travel",
		Date:            time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:          core.StatusPending,
		ConvertedAmount: decimal.NewFromInt(108),
		PolicyCompliant: true,
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s, deps := newTestServer(t)
	deps.accounts.user = core.User{Username: "mario", Role: core.RoleEmployee}

	rec := doJSON(t, s, http.MethodPost, "/api/auth/register", "",
		registerRequest{Username: "mario", Password: "hunter22"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d, want 201: %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "mario", Password: "hunter22"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" || resp.Username != "mario" || resp.Role != "employee" {
		t.Errorf("unexpected login response: %+v", resp)
	}

	// The issued token must verify against the same key material.
	id, err := deps.tokens.Verify(resp.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if id.Username != "mario" {
		t.Errorf("token username = %q, want mario", id.Username)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	s, deps := newTestServer(t)
	deps.accounts.authErr = auth.ErrInvalidCredentials

	rec := doJSON(t, s, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "mario", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login = %d, want 401", rec.Code)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	s, deps := newTestServer(t)
	deps.accounts.registerErr = core.ErrUserExists

	rec := doJSON(t, s, http.MethodPost, "/api/auth/register", "",
		registerRequest{Username: "mario", Password: "hunter22"})
	if rec.Code != http.StatusConflict {
		t.Errorf("register = %d, want 409", rec.Code)
	}
}

func TestSubmitRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/submit", "",
		submitRequest{Username: "mario"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("submit without token = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/expenses/submit", "garbage-token",
		submitRequest{Username: "mario"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("submit with garbage token = %d, want 401", rec.Code)
	}
}

func TestSubmitHappyPath(t *testing.T) {
	s, deps := newTestServer(t)
	exp := sampleExpense()
	deps.ledger.submitted = exp
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/submit", token, submitRequest{
		Username: "mario",
		Amount:   decimal.NewFromInt(100),
		Currency: "EUR",
		Category: "travel",
		Date:     "2026-03-10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d, want 201: %s", rec.Code, rec.Body)
	}

	var resp expenseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if resp.ID != exp.ID.String() || resp.Status != "Pending" || !resp.PolicyCompliant {
		t.Errorf("unexpected submit response: %+v", resp)
	}
	if !resp.ConvertedAmount.Equal(decimal.NewFromInt(108)) {
		t.Errorf("convertedAmount = %s, want 108", resp.ConvertedAmount)
	}
}

func TestSubmitUsernameMismatch(t *testing.T) {
	s, deps := newTestServer(t)
	deps.ledger.submitErr = core.ErrUsernameMismatch
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/submit", token, submitRequest{
		Username: "anna",
		Amount:   decimal.NewFromInt(100),
		Currency: "EUR",
		Category: "travel",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("submit for someone else = %d, want 403", rec.Code)
	}
}

func TestSubmitValidationError(t *testing.T) {
	s, deps := newTestServer(t)
	deps.ledger.submitErr = core.ErrInvalidCurrency
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/submit", token, submitRequest{
		Username: "mario",
		Amount:   decimal.NewFromInt(100),
		Currency: "XXX",
		Category: "travel",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("submit invalid currency = %d, want 422", rec.Code)
	}
}

func TestListMineShape(t *testing.T) {
	s, deps := newTestServer(t)
	exp := sampleExpense()
	// The stored snapshot is nil; the response budget must still carry the
	// effective (fallback) value, not null.
	exp.Budget = nil
	deps.ledger.mine = []core.EnrichedExpense{{
		Expense:         exp,
		EffectiveBudget: decimal.NewFromInt(1500),
		CategoryTotal:   decimal.NewFromInt(108),
	}}
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/my", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list mine = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp []myExpenseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("len = %d, want 1", len(resp))
	}
	if resp[0].Budget == nil || !resp[0].Budget.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("budget = %v, want effective 1500", resp[0].Budget)
	}
	if !resp[0].TotalExpenses.Equal(decimal.NewFromInt(108)) {
		t.Errorf("totalExpenses = %s, want 108", resp[0].TotalExpenses)
	}
}

func TestListMineWireFieldNames(t *testing.T) {
	s, deps := newTestServer(t)
	deps.ledger.mine = []core.EnrichedExpense{{
		Expense:         sampleExpense(),
		EffectiveBudget: decimal.NewFromInt(1500),
		CategoryTotal:   decimal.NewFromInt(108),
	}}
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/my", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list mine = %d, want 200: %s", rec.Code, rec.Body)
	}

	var raw []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	row := raw[0]
	for _, key := range []string{"budget", "totalExpenses", "convertedAmount", "policyCompliant"} {
		if _, ok := row[key]; !ok {
			t.Errorf("response row missing %q: keys %v", key, row)
		}
	}
	if budget, ok := row["budget"].(float64); !ok || budget != 1500 {
		t.Errorf("budget = %v, want number 1500", row["budget"])
	}
}

func TestApproveForbiddenForEmployee(t *testing.T) {
	s, deps := newTestServer(t)
	deps.approvals.decideErr = auth.ErrRoleForbidden
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		decisionRequest{ExpenseID: uuid.NewString()})
	if rec.Code != http.StatusForbidden {
		t.Errorf("approve as employee = %d, want 403", rec.Code)
	}
}

func TestApproveHappyPath(t *testing.T) {
	s, deps := newTestServer(t)
	exp := sampleExpense()
	exp.Status = core.StatusApproved
	deps.approvals.decided = exp
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		decisionRequest{ExpenseID: exp.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp expenseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "Approved" {
		t.Errorf("status = %q, want Approved", resp.Status)
	}
}

func TestDecisionConflict(t *testing.T) {
	s, deps := newTestServer(t)
	deps.approvals.decideErr = core.ErrAlreadyDecided
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/reject", token,
		decisionRequest{ExpenseID: uuid.NewString()})
	if rec.Code != http.StatusConflict {
		t.Errorf("conflicting decision = %d, want 409", rec.Code)
	}
}

func TestDecisionBadID(t *testing.T) {
	s, deps := newTestServer(t)
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		decisionRequest{ExpenseID: "not-a-uuid"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad id = %d, want 422", rec.Code)
	}
}

func TestDecisionUnknownExpense(t *testing.T) {
	s, deps := newTestServer(t)
	deps.approvals.decideErr = core.ErrExpenseNotFound
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		decisionRequest{ExpenseID: uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown expense = %d, want 404", rec.Code)
	}
}

func TestPendingQueue(t *testing.T) {
	s, deps := newTestServer(t)
	deps.approvals.pending = []core.Expense{sampleExpense(), sampleExpense()}
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending queue = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp []expenseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 2 {
		t.Errorf("len = %d, want 2", len(resp))
	}
}

func TestReportInvalidStatusFilter(t *testing.T) {
	s, deps := newTestServer(t)
	deps.reports.err = core.ErrInvalidStatus
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/report?status=Bogus", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid status filter = %d, want 422", rec.Code)
	}
}

func TestMonthlyAnalyticsShape(t *testing.T) {
	s, deps := newTestServer(t)
	deps.reports.summary = core.MonthlySummary{
		TotalExpenses: decimal.NewFromInt(258),
		Budget:        decimal.NewFromInt(2000),
		HasData:       true,
		Categories: []core.MonthlyCategory{
			{Category: "travel", Expenses: decimal.NewFromInt(208), Budget: decimal.NewFromInt(1500)},
			{Category: "meals", Expenses: decimal.NewFromInt(50), Budget: decimal.NewFromInt(500)},
		},
	}
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/analytics/monthly", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("monthly analytics = %d, want 200: %s", rec.Code, rec.Body)
	}

	var resp monthlySummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.HasData || len(resp.Categories) != 2 {
		t.Errorf("unexpected summary: %+v", resp)
	}
	if !resp.TotalExpenses.Equal(decimal.NewFromInt(258)) {
		t.Errorf("totalExpenses = %s, want 258", resp.TotalExpenses)
	}
}

func TestMonthlyAnalyticsBadMonth(t *testing.T) {
	s, deps := newTestServer(t)
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/analytics/monthly?month=March", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad month param = %d, want 422", rec.Code)
	}
}

func TestConversionOutage(t *testing.T) {
	s, deps := newTestServer(t)
	deps.ledger.submitErr = fmt.Errorf("convert 100 EUR to USD: %w", rates.ErrUnavailable)
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodPost, "/api/expenses/submit", token, submitRequest{
		Username: "mario",
		Amount:   decimal.NewFromInt(100),
		Currency: "EUR",
		Category: "travel",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("conversion outage = %d, want 502", rec.Code)
	}
}

func TestDecisionAcceptsExpenseIdField(t *testing.T) {
	s, deps := newTestServer(t)
	exp := sampleExpense()
	exp.Status = core.StatusApproved
	deps.approvals.decided = exp
	token := mustToken(t, deps.tokens, "boss", core.RoleManager)

	// The exact body the approval UI sends.
	rec := doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		map[string]string{"expenseId": exp.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve with expenseId body = %d, want 200: %s", rec.Code, rec.Body)
	}

	// The old field name is an unknown field now, not a silent alias.
	rec = doJSON(t, s, http.MethodPost, "/api/expenses/approve", token,
		map[string]string{"id": exp.ID.String()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("approve with legacy id body = %d, want 400", rec.Code)
	}
}

func TestAnalyticsWireFieldNames(t *testing.T) {
	s, deps := newTestServer(t)
	deps.reports.analytics = []core.CategoryAnalytics{{
		Category:         "travel",
		TotalAmount:      decimal.NewFromInt(135),
		TotalConverted:   decimal.NewFromInt(150),
		AverageConverted: decimal.NewFromInt(75),
		Count:            2,
	}}
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/analytics", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics = %d, want 200: %s", rec.Code, rec.Body)
	}

	var raw []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	row := raw[0]
	for _, key := range []string{"category", "totalAmount", "totalConvertedAmount", "averageConvertedAmount", "expenseCount"} {
		if _, ok := row[key]; !ok {
			t.Errorf("analytics row missing %q: keys %v", key, row)
		}
	}
	if count, ok := row["expenseCount"].(float64); !ok || count != 2 {
		t.Errorf("expenseCount = %v, want 2", row["expenseCount"])
	}
}

func TestReportEndDateCoversWholeDay(t *testing.T) {
	s, deps := newTestServer(t)
	token := mustToken(t, deps.tokens, "mario", core.RoleEmployee)

	rec := doJSON(t, s, http.MethodGet, "/api/expenses/report?endDate=2026-04-30", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d, want 200: %s", rec.Code, rec.Body)
	}

	if deps.reports.lastFilter.EndDate == nil {
		t.Fatal("end date filter not forwarded")
	}
	want := time.Date(2026, 4, 30, 23, 59, 59, 0, time.UTC)
	if !deps.reports.lastFilter.EndDate.Equal(want) {
		t.Errorf("endDate = %s, want %s (bare date extended to end of day)", deps.reports.lastFilter.EndDate, want)
	}

	// An explicit timestamp is not extended.
	rec = doJSON(t, s, http.MethodGet, "/api/expenses/report?endDate=2026-04-30T12:00:00Z", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d, want 200: %s", rec.Code, rec.Body)
	}
	want = time.Date(2026, 4, 30, 12, 0, 0, 0, time.UTC)
	if !deps.reports.lastFilter.EndDate.Equal(want) {
		t.Errorf("endDate = %s, want %s (explicit timestamp taken as-is)", deps.reports.lastFilter.EndDate, want)
	}
}
