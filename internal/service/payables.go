package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

var writerRoles = []string{domain.RoleAdmin, domain.RoleManager}

func (s *Service) ListPayables(ctx context.Context, filter domain.PayableFilter) ([]domain.Payable, error) {
	if _, err := authorizeStore(ctx, filter.StoreID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, filter.Status)
	}
	if (filter.Month != 0 || filter.Year != 0) && (filter.Month < 1 || filter.Month > 12 || filter.Year < 1) {
		return nil, fmt.Errorf("%w: month and year must be given together", store.ErrInvalidInput)
	}
	return s.repo.ListPayables(ctx, filter)
}

func (s *Service) GetPayable(ctx context.Context, id int64) (domain.Payable, error) {
	payable, err := s.repo.GetPayable(ctx, id)
	if err != nil {
		return domain.Payable{}, err
	}
	if _, err := authorizeStore(ctx, payable.StoreID); err != nil {
		return domain.Payable{}, err
	}
	return *payable, nil
}

func (s *Service) CreatePayable(ctx context.Context, req domain.PayableRequest) (domain.Payable, error) {
	actor, err := authorizeStore(ctx, req.StoreID, writerRoles...)
	if err != nil {
		return domain.Payable{}, err
	}

	payable, err := s.payableFromRequest(ctx, req)
	if err != nil {
		return domain.Payable{}, err
	}
	if err := s.ensureUnlocked(ctx, payable.StoreID, int(payable.CompetencyDate.Month()), payable.CompetencyDate.Year()); err != nil {
		return domain.Payable{}, err
	}

	payable.Status = domain.PayablePlanned
	payable.CreatedBy = actor.Username
	payable.CreatedAt = s.now()

	saved, err := s.repo.CreatePayable(ctx, payable)
	if err != nil {
		return domain.Payable{}, err
	}

	s.invalidateDashboard(ctx, saved.StoreID)
	s.logAudit(ctx, saved.StoreID, "payable_create", "payable", strconv.FormatInt(saved.ID, 10), nil, saved)
	return *saved, nil
}

// UpdatePayable replaces the editable fields of a payable. Both the current
// and the target competency month must be open, so a payable can neither
// leave nor enter a concluded month.
func (s *Service) UpdatePayable(ctx context.Context, id int64, req domain.PayableRequest) (domain.Payable, error) {
	existing, err := s.repo.GetPayable(ctx, id)
	if err != nil {
		return domain.Payable{}, err
	}
	if _, err := authorizeStore(ctx, existing.StoreID, writerRoles...); err != nil {
		return domain.Payable{}, err
	}
	if req.StoreID == 0 {
		req.StoreID = existing.StoreID
	}
	if _, err := authorizeStore(ctx, req.StoreID, writerRoles...); err != nil {
		return domain.Payable{}, err
	}

	updated, err := s.payableFromRequest(ctx, req)
	if err != nil {
		return domain.Payable{}, err
	}
	if err := s.ensureUnlocked(ctx, existing.StoreID, int(existing.CompetencyDate.Month()), existing.CompetencyDate.Year()); err != nil {
		return domain.Payable{}, err
	}
	if err := s.ensureUnlocked(ctx, updated.StoreID, int(updated.CompetencyDate.Month()), updated.CompetencyDate.Year()); err != nil {
		return domain.Payable{}, err
	}

	updated.ID = existing.ID
	updated.Status = existing.Status
	updated.PaymentDate = existing.PaymentDate
	updated.CreatedBy = existing.CreatedBy
	updated.CreatedAt = existing.CreatedAt

	saved, err := s.repo.UpdatePayable(ctx, updated)
	if err != nil {
		return domain.Payable{}, err
	}

	s.invalidateDashboard(ctx, existing.StoreID)
	if saved.StoreID != existing.StoreID {
		s.invalidateDashboard(ctx, saved.StoreID)
	}
	s.logAudit(ctx, saved.StoreID, "payable_update", "payable", strconv.FormatInt(saved.ID, 10), existing, saved)
	return *saved, nil
}

// SetPayableStatus moves a payable through its lifecycle. Paying stamps the
// payment date with today; leaving PAID clears it.
func (s *Service) SetPayableStatus(ctx context.Context, id int64, status domain.PayableStatus) (domain.Payable, error) {
	status = domain.PayableStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return domain.Payable{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, status)
	}

	existing, err := s.repo.GetPayable(ctx, id)
	if err != nil {
		return domain.Payable{}, err
	}
	if _, err := authorizeStore(ctx, existing.StoreID, writerRoles...); err != nil {
		return domain.Payable{}, err
	}
	if err := s.ensureUnlocked(ctx, existing.StoreID, int(existing.CompetencyDate.Month()), existing.CompetencyDate.Year()); err != nil {
		return domain.Payable{}, err
	}

	updated := *existing
	updated.Status = status
	switch {
	case status == domain.PayablePaid && updated.PaymentDate == nil:
		today := s.now()
		updated.PaymentDate = &today
	case status != domain.PayablePaid:
		updated.PaymentDate = nil
	}

	saved, err := s.repo.UpdatePayable(ctx, updated)
	if err != nil {
		return domain.Payable{}, err
	}

	s.invalidateDashboard(ctx, saved.StoreID)
	s.logAudit(ctx, saved.StoreID, "payable_status", "payable", strconv.FormatInt(saved.ID, 10),
		map[string]domain.PayableStatus{"status": existing.Status},
		map[string]domain.PayableStatus{"status": saved.Status})
	return *saved, nil
}

func (s *Service) DeletePayable(ctx context.Context, id int64) error {
	existing, err := s.repo.GetPayable(ctx, id)
	if err != nil {
		return err
	}
	if _, err := authorizeStore(ctx, existing.StoreID, writerRoles...); err != nil {
		return err
	}
	if err := s.ensureUnlocked(ctx, existing.StoreID, int(existing.CompetencyDate.Month()), existing.CompetencyDate.Year()); err != nil {
		return err
	}

	if err := s.repo.DeletePayable(ctx, id); err != nil {
		return err
	}

	s.invalidateDashboard(ctx, existing.StoreID)
	s.logAudit(ctx, existing.StoreID, "payable_delete", "payable", strconv.FormatInt(id, 10), existing, nil)
	return nil
}

// payableFromRequest validates the request and its references before anything
// is written.
func (s *Service) payableFromRequest(ctx context.Context, req domain.PayableRequest) (domain.Payable, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.Payable{}, fmt.Errorf("%w: description is required", store.ErrInvalidInput)
	}
	if req.CategoryID < 1 {
		return domain.Payable{}, fmt.Errorf("%w: category_id is required", store.ErrInvalidInput)
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return domain.Payable{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
	}

	discount := decimal.Zero
	if req.DiscountAmount != nil {
		discount = *req.DiscountAmount
	}
	surcharge := decimal.Zero
	if req.SurchargeAmount != nil {
		surcharge = *req.SurchargeAmount
	}
	if discount.IsNegative() || surcharge.IsNegative() {
		return domain.Payable{}, fmt.Errorf("%w: discount and surcharge must not be negative", store.ErrInvalidInput)
	}

	competency, err := parseDate(req.CompetencyDate)
	if err != nil {
		return domain.Payable{}, err
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		return domain.Payable{}, err
	}

	if _, err := s.repo.GetCategory(ctx, req.CategoryID); err != nil {
		return domain.Payable{}, notFoundAsReference(err, "category", req.CategoryID)
	}
	if req.SupplierID != nil {
		if _, err := s.repo.GetSupplier(ctx, *req.SupplierID); err != nil {
			return domain.Payable{}, notFoundAsReference(err, "supplier", *req.SupplierID)
		}
	}
	if req.SourceAccountID != nil {
		account, err := s.repo.GetBankAccount(ctx, *req.SourceAccountID)
		if err != nil {
			return domain.Payable{}, notFoundAsReference(err, "bank account", *req.SourceAccountID)
		}
		if account.StoreID != req.StoreID {
			return domain.Payable{}, fmt.Errorf("%w: bank account %d belongs to store %d", store.ErrInvalidReference, account.ID, account.StoreID)
		}
		if !account.Active {
			return domain.Payable{}, fmt.Errorf("%w: bank account %d is inactive", store.ErrInvalidInput, account.ID)
		}
	}

	payable := domain.Payable{
		Description:     description,
		StoreID:         req.StoreID,
		SupplierID:      req.SupplierID,
		SourceAccountID: req.SourceAccountID,
		CategoryID:      req.CategoryID,
		GrossAmount:     req.Amount.Round(2),
		DiscountAmount:  discount.Round(2),
		SurchargeAmount: surcharge.Round(2),
		CompetencyDate:  competency,
		DueDate:         due,
	}
	payable.ComputeNet()
	if payable.NetAmount.IsNegative() {
		return domain.Payable{}, fmt.Errorf("%w: discount exceeds amount", store.ErrInvalidInput)
	}
	return payable, nil
}
