package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"financeiro/backend/internal/cache"
	"financeiro/backend/internal/domain"
)

func payable(amount string, due time.Time, status domain.PayableStatus) domain.Payable {
	return domain.Payable{NetAmount: decimal.RequireFromString(amount), DueDate: due, Status: status}
}

func TestBuildCountsOverdueAndDueThisWeek(t *testing.T) {
	today := time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC)
	e := NewEngine(nil, 0)

	summary := e.Build(1, 10, 2024, today, Period{Payables: []domain.Payable{
		payable("500.00", time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), domain.PayablePaid),
		payable("50.00", time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC), domain.PayableOverdue),
		payable("60.00", time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), domain.PayablePlanned),
		payable("390.00", time.Date(2024, 10, 30, 0, 0, 0, 0, time.UTC), domain.PayablePlanned),
		payable("999.00", time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC), domain.PayableCancelled),
	}})

	assert.Equal(t, "1000.00", summary.TotalExpenses.StringFixed(2))
	assert.Equal(t, "50.00", summary.PaidPercent.StringFixed(2))
	assert.Equal(t, "5.00", summary.OverduePercent.StringFixed(2))
	assert.Equal(t, "45.00", summary.PlannedPercent.StringFixed(2))
	assert.Equal(t, 1, summary.Overdue)
	assert.Equal(t, 1, summary.DueThisWeek)
	assert.Equal(t, domain.HealthAttention, summary.Health)
	assert.NotEmpty(t, summary.AssistantMessage)
}

func TestBuildTreatsPastDuePlannedAsOverdue(t *testing.T) {
	today := time.Date(2024, 10, 20, 0, 0, 0, 0, time.UTC)
	e := NewEngine(nil, 0)

	summary := e.Build(1, 10, 2024, today, Period{Payables: []domain.Payable{
		payable("300.00", time.Date(2024, 10, 5, 0, 0, 0, 0, time.UTC), domain.PayablePlanned),
		payable("700.00", time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), domain.PayablePaid),
	}})

	assert.Equal(t, 1, summary.Overdue)
	assert.Equal(t, "30.00", summary.OverduePercent.StringFixed(2))
	assert.Equal(t, domain.HealthCritical, summary.Health)
}

func TestBuildEmptyMonthIsHealthy(t *testing.T) {
	summary := NewEngine(nil, 0).Build(1, 10, 2024, time.Now(), Period{})

	assert.Equal(t, domain.HealthHealthy, summary.Health)
	assert.True(t, summary.PaidPercent.IsZero())
	assert.Equal(t, "No expenses booked for this month yet.", summary.AssistantMessage)
}

func TestSummarizeUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(cache.NewMemory(), time.Minute)
	today := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

	loads := 0
	load := func(context.Context) (Period, error) {
		loads++
		return Period{Payables: []domain.Payable{
			payable("100.00", time.Date(2024, 10, 30, 0, 0, 0, 0, time.UTC), domain.PayablePlanned),
		}}, nil
	}

	_, err := e.Summarize(ctx, 1, 10, 2024, today, load)
	require.NoError(t, err)
	_, err = e.Summarize(ctx, 1, 10, 2024, today, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	require.NoError(t, e.Invalidate(ctx, 1))
	_, err = e.Summarize(ctx, 1, 10, 2024, today, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestSummarizePropagatesLoadError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewEngine(nil, 0).Summarize(context.Background(), 1, 10, 2024, time.Now(), func(context.Context) (Period, error) {
		return Period{}, boom
	})
	assert.ErrorIs(t, err, boom)
}
