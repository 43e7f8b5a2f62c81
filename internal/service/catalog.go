package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx, activeOnly)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	actor, err := requireRole(ctx, writerRoles...)
	if err != nil {
		return domain.Category{}, err
	}

	category := domain.Category{
		Name:           strings.TrimSpace(req.Name),
		AccountingCode: strings.TrimSpace(req.AccountingCode),
		Active:         true,
	}
	if category.Name == "" {
		return domain.Category{}, fmt.Errorf("%w: category name is required", store.ErrInvalidInput)
	}
	if req.Active != nil {
		category.Active = *req.Active
	}

	saved, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, actor.ActiveStoreID, "category_create", "category", strconv.FormatInt(saved.ID, 10), nil, saved)
	return *saved, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, req domain.CategoryRequest) (domain.Category, error) {
	actor, err := requireRole(ctx, writerRoles...)
	if err != nil {
		return domain.Category{}, err
	}

	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}

	updated := *existing
	if name := strings.TrimSpace(req.Name); name != "" {
		updated.Name = name
	}
	if code := strings.TrimSpace(req.AccountingCode); code != "" {
		updated.AccountingCode = code
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateCategory(ctx, updated)
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, actor.ActiveStoreID, "category_update", "category", strconv.FormatInt(saved.ID, 10), existing, saved)
	return *saved, nil
}

// DeleteCategory refuses to delete a category that payables still point to;
// deactivate it instead.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}

	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	inUse, err := s.repo.CountPayablesByCategory(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return fmt.Errorf("%w: category %d has %d payables", store.ErrInUse, id, inUse)
	}

	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, actor.ActiveStoreID, "category_delete", "category", strconv.FormatInt(id, 10), existing, nil)
	return nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	actor, err := requireRole(ctx, writerRoles...)
	if err != nil {
		return domain.Supplier{}, err
	}

	supplier := domain.Supplier{
		LegalName: strings.TrimSpace(req.LegalName),
		TaxID:     normalizeTaxID(req.TaxID),
	}
	if supplier.LegalName == "" || supplier.TaxID == "" {
		return domain.Supplier{}, fmt.Errorf("%w: legal_name and tax_id are required", store.ErrInvalidInput)
	}

	saved, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, actor.ActiveStoreID, "supplier_create", "supplier", strconv.FormatInt(saved.ID, 10), nil, saved)
	return *saved, nil
}

func (s *Service) ListBankAccounts(ctx context.Context, storeID int64) ([]domain.BankAccount, error) {
	if _, err := authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListBankAccounts(ctx, storeID)
}

func (s *Service) CreateBankAccount(ctx context.Context, req domain.BankAccountCreateRequest) (domain.BankAccount, error) {
	if _, err := authorizeStore(ctx, req.StoreID, domain.RoleAdmin); err != nil {
		return domain.BankAccount{}, err
	}

	account := domain.BankAccount{
		Name:          strings.TrimSpace(req.Name),
		BankCode:      strings.TrimSpace(req.BankCode),
		Branch:        strings.TrimSpace(req.Branch),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		StoreID:       req.StoreID,
		Active:        true,
	}
	if account.Name == "" {
		return domain.BankAccount{}, fmt.Errorf("%w: account name is required", store.ErrInvalidInput)
	}
	if req.CurrentBalance != nil {
		if !req.CurrentBalance.Equal(req.CurrentBalance.Round(2)) {
			return domain.BankAccount{}, fmt.Errorf("%w: balance allows at most 2 decimal places", store.ErrInvalidInput)
		}
		account.CurrentBalance = *req.CurrentBalance
	}

	saved, err := s.repo.CreateBankAccount(ctx, account)
	if err != nil {
		return domain.BankAccount{}, err
	}
	s.logAudit(ctx, saved.StoreID, "bank_account_create", "bank_account", strconv.FormatInt(saved.ID, 10), nil, saved)
	return *saved, nil
}

// normalizeTaxID keeps only the digits of a CNPJ/CPF.
func normalizeTaxID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
