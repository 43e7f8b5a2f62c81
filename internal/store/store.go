package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"financeiro/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidReference = errors.New("invalid reference")
	ErrPeriodLocked     = errors.New("competency period is concluded")
	ErrInUse            = errors.New("resource in use")
	ErrForbidden        = errors.New("forbidden")
)

type Repository interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CountPayablesByCategory(ctx context.Context, categoryID int64) (int, error)

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)

	ListBankAccounts(ctx context.Context, storeID int64) ([]domain.BankAccount, error)
	GetBankAccount(ctx context.Context, id int64) (*domain.BankAccount, error)
	CreateBankAccount(ctx context.Context, account domain.BankAccount) (*domain.BankAccount, error)

	ListPayables(ctx context.Context, filter domain.PayableFilter) ([]domain.Payable, error)
	GetPayable(ctx context.Context, id int64) (*domain.Payable, error)
	CreatePayable(ctx context.Context, payable domain.Payable) (*domain.Payable, error)
	UpdatePayable(ctx context.Context, payable domain.Payable) (*domain.Payable, error)
	DeletePayable(ctx context.Context, id int64) error
	SumExpenses(ctx context.Context, storeID int64, month int, year int) (decimal.Decimal, error)

	ListFeeProfiles(ctx context.Context, storeID int64, activeOnly bool) ([]domain.FeeProfile, error)
	CreateFeeProfile(ctx context.Context, profile domain.FeeProfile) (*domain.FeeProfile, error)
	SetFeeProfileActive(ctx context.Context, id int64, active bool) (*domain.FeeProfile, error)
	FindFeeRule(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error)

	GetClosing(ctx context.Context, storeID int64, month int, year int) (*domain.ClosingRecord, error)
	ListClosings(ctx context.Context, storeID int64, year int) ([]domain.ClosingRecord, error)
	UpsertClosing(ctx context.Context, record domain.ClosingRecord) (*domain.ClosingRecord, bool, error)
	SetClosingStatus(ctx context.Context, storeID int64, month int, year int, status domain.ClosingStatus) (*domain.ClosingRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// MonthRange returns the [first day, first day of next month) interval of a
// competency month in UTC.
func MonthRange(month int, year int) (time.Time, time.Time) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
