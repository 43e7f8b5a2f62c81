package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"financeiro/backend/internal/advisor"
	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

func (s *Service) Dashboard(ctx context.Context, storeID int64, month int, year int) (domain.DashboardSummary, error) {
	if _, err := authorizeStore(ctx, storeID); err != nil {
		return domain.DashboardSummary{}, err
	}
	if err := closing.ValidatePeriod(storeID, month, year); err != nil {
		return domain.DashboardSummary{}, err
	}

	return s.advisor.Summarize(ctx, storeID, month, year, s.now(), func(ctx context.Context) (advisor.Period, error) {
		payables, err := s.repo.ListPayables(ctx, domain.PayableFilter{StoreID: storeID, Month: month, Year: year})
		if err != nil {
			return advisor.Period{}, err
		}
		period := advisor.Period{Payables: payables}

		record, err := s.repo.GetClosing(ctx, storeID, month, year)
		switch {
		case err == nil:
			period.ClosingStatus = record.Status
		case !errors.Is(err, store.ErrNotFound):
			return advisor.Period{}, err
		}
		return period, nil
	})
}

func (s *Service) invalidateDashboard(ctx context.Context, storeID int64) {
	if err := s.advisor.Invalidate(ctx, storeID); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Int64("store_id", storeID), zap.Error(err))
	}
}
