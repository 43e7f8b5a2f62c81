package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"financeiro/backend/internal/cache"
	"financeiro/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Period is what a dashboard summary is computed from.
type Period struct {
	Payables      []domain.Payable
	ClosingStatus domain.ClosingStatus
}

// Loader fetches the payables and closing status of the requested month. It
// only runs on a cache miss.
type Loader func(ctx context.Context) (Period, error)

type Engine struct {
	cache           cache.Cache
	cacheTTL        time.Duration
	criticalOverdue decimal.Decimal
	dueWindow       time.Duration
}

func NewEngine(cacheStore cache.Cache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &Engine{
		cache:           cacheStore,
		cacheTTL:        cacheTTL,
		criticalOverdue: decimal.NewFromInt(20),
		dueWindow:       7 * 24 * time.Hour,
	}
}

// Summarize returns the dashboard of one store and competency month as seen
// on the day of today.
func (e *Engine) Summarize(ctx context.Context, storeID int64, month int, year int, today time.Time, load Loader) (domain.DashboardSummary, error) {
	today = day(today)
	key := cacheKey(storeID, month, year, today)

	var cached domain.DashboardSummary
	if ok, err := e.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	period, err := load(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	summary := e.Build(storeID, month, year, today, period)
	_ = e.cache.Set(ctx, key, summary, e.cacheTTL)
	return summary, nil
}

// Invalidate drops every cached summary of a store.
func (e *Engine) Invalidate(ctx context.Context, storeID int64) error {
	return e.cache.DeletePrefix(ctx, fmt.Sprintf("financeiro:dashboard:%d:", storeID))
}

// Build computes the summary without touching the cache. Percentages are
// shares of the month's non-cancelled net total.
func (e *Engine) Build(storeID int64, month int, year int, today time.Time, period Period) domain.DashboardSummary {
	today = day(today)
	weekEnd := today.Add(e.dueWindow)

	total := decimal.Zero
	paid := decimal.Zero
	overdue := decimal.Zero
	planned := decimal.Zero
	dueThisWeek := 0
	overdueCount := 0

	for _, p := range period.Payables {
		if p.Status == domain.PayableCancelled {
			continue
		}
		total = total.Add(p.NetAmount)

		switch {
		case p.Status == domain.PayablePaid:
			paid = paid.Add(p.NetAmount)
		case isOverdue(p, today):
			overdue = overdue.Add(p.NetAmount)
			overdueCount++
		default:
			planned = planned.Add(p.NetAmount)
			due := day(p.DueDate)
			if !due.Before(today) && due.Before(weekEnd) {
				dueThisWeek++
			}
		}
	}

	summary := domain.DashboardSummary{
		StoreID:        storeID,
		Month:          month,
		Year:           year,
		PaidPercent:    percent(paid, total),
		OverduePercent: percent(overdue, total),
		PlannedPercent: percent(planned, total),
		TotalExpenses:  total.Round(2),
		DueThisWeek:    dueThisWeek,
		Overdue:        overdueCount,
		ClosingStatus:  period.ClosingStatus,
	}
	summary.Health = e.health(summary)
	summary.AssistantMessage = assistantMessage(summary)
	return summary
}

func (e *Engine) health(s domain.DashboardSummary) domain.HealthStatus {
	switch {
	case s.Overdue > 0 && s.OverduePercent.GreaterThanOrEqual(e.criticalOverdue):
		return domain.HealthCritical
	case s.Overdue > 0 || s.DueThisWeek > 0:
		return domain.HealthAttention
	default:
		return domain.HealthHealthy
	}
}

func assistantMessage(s domain.DashboardSummary) string {
	if s.ClosingStatus == domain.ClosingConcluded {
		return fmt.Sprintf("%02d/%d is closed. Reopen the closing before changing its expenses.", s.Month, s.Year)
	}
	switch s.Health {
	case domain.HealthCritical:
		return fmt.Sprintf("%d overdue payables account for %s%% of this month's expenses. Settle them before closing the month.",
			s.Overdue, s.OverduePercent.StringFixed(2))
	case domain.HealthAttention:
		if s.Overdue > 0 {
			return fmt.Sprintf("%d payables are overdue and %d fall due within 7 days.", s.Overdue, s.DueThisWeek)
		}
		return fmt.Sprintf("%d payables fall due within 7 days.", s.DueThisWeek)
	default:
		if s.TotalExpenses.IsZero() {
			return "No expenses booked for this month yet."
		}
		return "All payables are on schedule."
	}
}

func isOverdue(p domain.Payable, today time.Time) bool {
	if p.Status == domain.PayableOverdue {
		return true
	}
	return p.Status == domain.PayablePlanned && day(p.DueDate).Before(today)
}

func percent(part decimal.Decimal, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(total).Round(2)
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cacheKey(storeID int64, month int, year int, today time.Time) string {
	return fmt.Sprintf("financeiro:dashboard:%d:%04d-%02d:%s", storeID, year, month, today.Format("2006-01-02"))
}
