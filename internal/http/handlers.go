package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trasferte/internal/auth"
	"trasferte/internal/core"
	"trasferte/internal/rates"
	"trasferte/internal/services"
)

// Wire DTOs. Field names match what the frontend already consumes.
type (
	registerRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role,omitempty"`
	}

	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	loginResponse struct {
		Token    string `json:"token"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}

	submitRequest struct {
		Username    string           `json:"username"`
		Amount      decimal.Decimal  `json:"amount"`
		Currency    string           `json:"currency"`
		Category    string           `json:"category"`
		Date        string           `json:"date,omitempty"`
		Description string           `json:"description,omitempty"`
		Budget      *decimal.Decimal `json:"budget,omitempty"`
	}

	decisionRequest struct {
		ExpenseID string `json:"expenseId"`
	}

	expenseResponse struct {
		ID              string           `json:"id"`
		Username        string           `json:"username"`
		Amount          decimal.Decimal  `json:"amount"`
		Currency        string           `json:"currency"`
		Category        string           `json:"category"`
		Date            string           `json:"date"`
		Description     string           `json:"description,omitempty"`
		Status          string           `json:"status"`
		Budget          *decimal.Decimal `json:"budget,omitempty"`
		ConvertedAmount decimal.Decimal  `json:"convertedAmount"`
		PolicyCompliant bool             `json:"policyCompliant"`
	}

	// myExpenseResponse reuses the expense fields but its budget key carries
	// the effective budget (fallback chain already applied), never the raw
	// nullable snapshot.
	myExpenseResponse struct {
		expenseResponse
		TotalExpenses decimal.Decimal `json:"totalExpenses"`
	}

	analyticsResponse struct {
		Category         string          `json:"category"`
		TotalAmount      decimal.Decimal `json:"totalAmount"`
		TotalConverted   decimal.Decimal `json:"totalConvertedAmount"`
		AverageConverted decimal.Decimal `json:"averageConvertedAmount"`
		Count            int64           `json:"expenseCount"`
	}

	monthlyCategoryResponse struct {
		Category string          `json:"category"`
		Expenses decimal.Decimal `json:"expenses"`
		Budget   decimal.Decimal `json:"budget"`
	}

	monthlySummaryResponse struct {
		TotalExpenses decimal.Decimal           `json:"totalExpenses"`
		Budget        decimal.Decimal           `json:"budget"`
		HasData       bool                      `json:"hasData"`
		Categories    []monthlyCategoryResponse `json:"categories"`
	}

	reportRowResponse struct {
		Category       string          `json:"category"`
		Status         string          `json:"status"`
		TotalAmount    decimal.Decimal `json:"totalAmount"`
		ConvertedTotal decimal.Decimal `json:"convertedTotal"`
	}
)

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:              e.ID.String(),
		Username:        e.Username,
		Amount:          e.Amount,
		Currency:        string(e.Currency),
		Category:        e.Category,
		Date:            e.Date.Format(time.RFC3339),
		Description:     e.Description,
		Status:          string(e.Status),
		Budget:          e.Budget,
		ConvertedAmount: e.ConvertedAmount,
		PolicyCompliant: e.PolicyCompliant,
	}
}

// mapError translates domain errors into status codes. Anything unmapped is
// a 500 with a generic body; details stay in the logs.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, auth.ErrRoleForbidden),
		errors.Is(err, core.ErrUsernameMismatch):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, core.ErrExpenseNotFound),
		errors.Is(err, core.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrUserExists),
		errors.Is(err, core.ErrAlreadyDecided):
		return http.StatusConflict, err.Error()
	case errors.Is(err, core.ErrEmptyUsername),
		errors.Is(err, core.ErrEmptyPassword),
		errors.Is(err, core.ErrInvalidRole),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCurrency),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrDescriptionTooLong),
		errors.Is(err, core.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, rates.ErrUnavailable),
		errors.Is(err, rates.ErrBadResponse):
		return http.StatusBadGateway, "currency conversion unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "url", r.URL.Path, "error", err)
	}
	writeError(w, r, status, msg)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.accounts.Register(r.Context(), req.Username, req.Password, core.Role(req.Role)); err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"username": strings.TrimSpace(req.Username)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	user, err := s.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	token, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, loginResponse{
		Token:    token,
		Username: user.Username,
		Role:     string(user.Role),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	in := services.SubmitInput{
		Username:    req.Username,
		Amount:      req.Amount,
		Currency:    core.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		Category:    strings.TrimSpace(req.Category),
		Description: req.Description,
		Budget:      req.Budget,
	}
	if req.Date != "" {
		date, err := parseDateParam(req.Date)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		in.Date = date
	}

	expense, err := s.ledger.Submit(r.Context(), id, in)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toExpenseResponse(expense))
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	enriched, err := s.ledger.ListMine(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	out := make([]myExpenseResponse, len(enriched))
	for i, e := range enriched {
		resp := toExpenseResponse(e.Expense)
		budget := e.EffectiveBudget
		resp.Budget = &budget
		out[i] = myExpenseResponse{
			expenseResponse: resp,
			TotalExpenses:   e.CategoryTotal,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	pending, err := s.approvals.ListPending(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	out := make([]expenseResponse, len(pending))
	for i, e := range pending {
		out[i] = toExpenseResponse(e)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.approvals.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.approvals.Reject)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id auth.Identity, expenseID uuid.UUID) (core.Expense, error)) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	expenseID, err := uuid.Parse(strings.TrimSpace(req.ExpenseID))
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "invalid expense id")
		return
	}

	expense, err := decide(r.Context(), id, expenseID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExpenseResponse(expense))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	var filter core.ReportFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := core.Status(raw)
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("startDate")); raw != "" {
		t, err := parseDateParam(raw)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		filter.StartDate = &t
	}
	if raw := strings.TrimSpace(q.Get("endDate")); raw != "" {
		t, err := parseEndDateParam(raw)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		filter.EndDate = &t
	}

	rows, err := s.reports.Report(r.Context(), id, filter)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	out := make([]reportRowResponse, len(rows))
	for i, row := range rows {
		out[i] = reportRowResponse{
			Category:       row.Category,
			Status:         string(row.Status),
			TotalAmount:    row.TotalAmount,
			ConvertedTotal: row.ConvertedTotal,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	rows, err := s.reports.AnalyticsByCategory(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	out := make([]analyticsResponse, len(rows))
	for i, row := range rows {
		out[i] = analyticsResponse{
			Category:         row.Category,
			TotalAmount:      row.TotalAmount,
			TotalConverted:   row.TotalConverted,
			AverageConverted: row.AverageConverted,
			Count:            row.Count,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleMonthlyAnalytics(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}

	// Optional ?month=YYYY-MM selects a past month; default is the current one.
	var ref time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("month")); raw != "" {
		t, err := time.Parse("2006-01", raw)
		if err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, "invalid month: use YYYY-MM")
			return
		}
		ref = t
	}

	summary, err := s.reports.MonthlySummary(r.Context(), id, ref)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	categories := make([]monthlyCategoryResponse, len(summary.Categories))
	for i, c := range summary.Categories {
		categories[i] = monthlyCategoryResponse{
			Category: c.Category,
			Expenses: c.Expenses,
			Budget:   c.Budget,
		}
	}
	writeJSON(w, r, http.StatusOK, monthlySummaryResponse{
		TotalExpenses: summary.TotalExpenses,
		Budget:        summary.Budget,
		HasData:       summary.HasData,
		Categories:    categories,
	})
}
