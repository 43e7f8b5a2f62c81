package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/report"
	"financeiro/backend/internal/store"
)

// PeriodLockedError reports a write into a concluded competency month.
type PeriodLockedError struct {
	StoreID int64
	Month   int
	Year    int
}

func (e *PeriodLockedError) Error() string {
	return fmt.Sprintf("competency %02d/%d of store %d is concluded; reopen the closing before changing its payables", e.Month, e.Year, e.StoreID)
}

func (e *PeriodLockedError) Unwrap() error {
	return store.ErrPeriodLocked
}

type closingTotals struct {
	Status          domain.ClosingStatus `json:"status"`
	GrossRevenue    string               `json:"gross_revenue"`
	TotalFees       string               `json:"total_fees"`
	NetRevenue      string               `json:"net_revenue"`
	TotalExpenses   string               `json:"total_expenses"`
	OperatingResult string               `json:"operating_result"`
}

func totalsOf(r *domain.ClosingRecord) *closingTotals {
	if r == nil {
		return nil
	}
	return &closingTotals{
		Status:          r.Status,
		GrossRevenue:    r.GrossRevenue.StringFixed(2),
		TotalFees:       r.TotalFees.StringFixed(2),
		NetRevenue:      r.NetRevenue.StringFixed(2),
		TotalExpenses:   r.TotalExpenses.StringFixed(2),
		OperatingResult: r.OperatingResult.StringFixed(2),
	}
}

// ExecuteClosing computes the closing of a store's competency month from the
// sales system, the fee schedule and the booked payables, then upserts it as
// OPEN. Nothing is written when any collaborator fails.
func (s *Service) ExecuteClosing(ctx context.Context, storeID int64, month int, year int) (domain.ClosingResponse, error) {
	if _, err := authorizeStore(ctx, storeID, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.ClosingResponse{}, err
	}
	if err := closing.ValidatePeriod(storeID, month, year); err != nil {
		return domain.ClosingResponse{}, err
	}

	previous, err := s.repo.GetClosing(ctx, storeID, month, year)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.ClosingResponse{}, err
	}
	if previous != nil && previous.Locked() {
		s.logger.Warn("recomputing a concluded closing reopens it",
			zap.Int64("store_id", storeID),
			zap.Int("month", month),
			zap.Int("year", year),
		)
	}

	groups, err := s.sales.RevenueGroups(ctx, storeID, month, year)
	if err != nil {
		return domain.ClosingResponse{}, err
	}

	result, err := s.processor.Execute(ctx, storeID, month, year, groups)
	if err != nil {
		return domain.ClosingResponse{}, err
	}

	saved, created, err := s.repo.UpsertClosing(ctx, domain.NewClosingRecord(storeID, month, year, result))
	if err != nil {
		return domain.ClosingResponse{}, err
	}

	s.invalidateDashboard(ctx, storeID)
	s.logAudit(ctx, storeID, "closing_execute", "closing", closingEntityID(storeID, month, year), totalsOf(previous), totalsOf(saved))
	s.logger.Info("closing computed",
		zap.Int64("store_id", storeID),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Bool("created", created),
		zap.String("operating_result", saved.OperatingResult.StringFixed(2)),
		zap.Int("unmatched_fees", len(result.Warnings)),
	)

	return domain.ClosingResponse{
		Closing:  *saved,
		Created:  created,
		Warnings: result.Warnings,
	}, nil
}

func (s *Service) GetClosing(ctx context.Context, storeID int64, month int, year int) (domain.ClosingRecord, error) {
	if _, err := authorizeStore(ctx, storeID); err != nil {
		return domain.ClosingRecord{}, err
	}
	if err := closing.ValidatePeriod(storeID, month, year); err != nil {
		return domain.ClosingRecord{}, err
	}
	record, err := s.repo.GetClosing(ctx, storeID, month, year)
	if err != nil {
		return domain.ClosingRecord{}, err
	}
	return *record, nil
}

func (s *Service) ListClosings(ctx context.Context, storeID int64, year int) ([]domain.ClosingRecord, error) {
	if _, err := authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListClosings(ctx, storeID, year)
}

// ConcludeClosing locks the competency month against payable changes.
func (s *Service) ConcludeClosing(ctx context.Context, storeID int64, month int, year int) (domain.ClosingRecord, error) {
	return s.setClosingStatus(ctx, storeID, month, year, domain.ClosingConcluded, "closing_conclude")
}

func (s *Service) ReopenClosing(ctx context.Context, storeID int64, month int, year int) (domain.ClosingRecord, error) {
	return s.setClosingStatus(ctx, storeID, month, year, domain.ClosingOpen, "closing_reopen")
}

func (s *Service) setClosingStatus(ctx context.Context, storeID int64, month int, year int, status domain.ClosingStatus, action string) (domain.ClosingRecord, error) {
	if _, err := authorizeStore(ctx, storeID, domain.RoleAdmin); err != nil {
		return domain.ClosingRecord{}, err
	}
	if err := closing.ValidatePeriod(storeID, month, year); err != nil {
		return domain.ClosingRecord{}, err
	}

	previous, err := s.repo.GetClosing(ctx, storeID, month, year)
	if err != nil {
		return domain.ClosingRecord{}, err
	}
	saved, err := s.repo.SetClosingStatus(ctx, storeID, month, year, status)
	if err != nil {
		return domain.ClosingRecord{}, err
	}

	s.invalidateDashboard(ctx, storeID)
	s.logAudit(ctx, storeID, action, "closing", closingEntityID(storeID, month, year),
		map[string]domain.ClosingStatus{"status": previous.Status},
		map[string]domain.ClosingStatus{"status": saved.Status})
	return *saved, nil
}

// ExportClosing renders a persisted closing as an XLSX workbook.
func (s *Service) ExportClosing(ctx context.Context, storeID int64, month int, year int) ([]byte, string, error) {
	record, err := s.GetClosing(ctx, storeID, month, year)
	if err != nil {
		return nil, "", err
	}
	data, err := report.ClosingWorkbook(record)
	if err != nil {
		return nil, "", err
	}
	return data, report.FileName(record), nil
}

// IsPeriodLocked reports whether the closing of (store, month, year) is
// concluded. A month without closing is open.
func (s *Service) IsPeriodLocked(ctx context.Context, storeID int64, month int, year int) (bool, error) {
	record, err := s.repo.GetClosing(ctx, storeID, month, year)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.Locked(), nil
}

func (s *Service) ensureUnlocked(ctx context.Context, storeID int64, month int, year int) error {
	locked, err := s.IsPeriodLocked(ctx, storeID, month, year)
	if err != nil {
		return err
	}
	if locked {
		return &PeriodLockedError{StoreID: storeID, Month: month, Year: year}
	}
	return nil
}

func closingEntityID(storeID int64, month int, year int) string {
	return fmt.Sprintf("%d:%04d-%02d", storeID, year, month)
}
