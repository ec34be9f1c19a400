package services

import (
	"context"
	"fmt"
	"time"

	"trasferte/internal/auth"
	"trasferte/internal/core"
)

// ReportingService answers the three read-only aggregation views. Every
// view is scoped to the requesting identity's own expenses.
type ReportingService struct {
	store AggregateStore
	now   func() time.Time
}

func NewReportingService(store AggregateStore) *ReportingService {
	return &ReportingService{store: store, now: time.Now}
}

func (s *ReportingService) AnalyticsByCategory(ctx context.Context, id auth.Identity) ([]core.CategoryAnalytics, error) {
	rows, err := s.store.AnalyticsByCategory(ctx, id.Username)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	return rows, nil
}

// MonthWindow returns the inclusive bounds of the calendar month containing
// ref: first day 00:00:00 through last day 23:59:59, in ref's location.
func MonthWindow(ref time.Time) (start, end time.Time) {
	start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}

// MonthlySummary aggregates the calendar month containing ref, or the
// current month when ref is zero.
func (s *ReportingService) MonthlySummary(ctx context.Context, id auth.Identity, ref time.Time) (core.MonthlySummary, error) {
	if ref.IsZero() {
		ref = s.now()
	}
	start, end := MonthWindow(ref)
	summary, err := s.store.MonthSummary(ctx, id.Username, start, end)
	if err != nil {
		return core.MonthlySummary{}, fmt.Errorf("monthly summary: %w", err)
	}
	return summary, nil
}

func (s *ReportingService) Report(ctx context.Context, id auth.Identity, f core.ReportFilter) ([]core.ReportRow, error) {
	if f.Status != nil && !core.ValidStatus(*f.Status) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidStatus, *f.Status)
	}
	rows, err := s.store.Report(ctx, id.Username, f)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return rows, nil
}
