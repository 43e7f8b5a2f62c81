package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken   string `json:"access_token"`
	Role          string `json:"role"`
	ActiveStoreID int64  `json:"active_store_id"`
	ExpiresAt     string `json:"expires_at"`
}

type SwitchStoreRequest struct {
	StoreID int64 `json:"store_id"`
}

type MeResponse struct {
	Username      string  `json:"username"`
	Role          string  `json:"role"`
	StoreIDs      []int64 `json:"store_ids"`
	ActiveStoreID int64   `json:"active_store_id"`
}

type Actor struct {
	Username      string
	Role          string
	ActiveStoreID int64
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleViewer  = "viewer"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreIDs  []int64
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Role     string  `json:"role"`
	StoreIDs []int64 `json:"store_ids"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreIDs  []int64   `json:"store_ids"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Category struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	AccountingCode string `json:"accounting_code,omitempty"`
	Active         bool   `json:"active"`
}

type CategoryRequest struct {
	Name           string `json:"name"`
	AccountingCode string `json:"accounting_code,omitempty"`
	Active         *bool  `json:"active,omitempty"`
}

type Supplier struct {
	ID        int64  `json:"id"`
	LegalName string `json:"legal_name"`
	TaxID     string `json:"tax_id"`
}

type SupplierCreateRequest struct {
	LegalName string `json:"legal_name"`
	TaxID     string `json:"tax_id"`
}

// BankAccount is a store's account that payables are paid from.
// CurrentBalance is maintained by hand; paying a payable does not move it.
type BankAccount struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	BankCode       string          `json:"bank_code,omitempty"`
	Branch         string          `json:"branch,omitempty"`
	AccountNumber  string          `json:"account_number,omitempty"`
	StoreID        int64           `json:"store_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Active         bool            `json:"active"`
}

type BankAccountCreateRequest struct {
	Name           string           `json:"name"`
	BankCode       string           `json:"bank_code,omitempty"`
	Branch         string           `json:"branch,omitempty"`
	AccountNumber  string           `json:"account_number,omitempty"`
	StoreID        int64            `json:"store_id"`
	CurrentBalance *decimal.Decimal `json:"current_balance,omitempty"`
}

type PayableStatus string

const (
	PayablePlanned   PayableStatus = "PLANNED"
	PayablePaid      PayableStatus = "PAID"
	PayableOverdue   PayableStatus = "OVERDUE"
	PayableCancelled PayableStatus = "CANCELLED"
)

func (s PayableStatus) Valid() bool {
	switch s {
	case PayablePlanned, PayablePaid, PayableOverdue, PayableCancelled:
		return true
	}
	return false
}

// Payable is an account to pay, booked under the accrual (competency) month.
type Payable struct {
	ID              int64           `json:"id"`
	Description     string          `json:"description"`
	StoreID         int64           `json:"store_id"`
	SupplierID      *int64          `json:"supplier_id,omitempty"`
	SourceAccountID *int64          `json:"source_account_id,omitempty"`
	CategoryID      int64           `json:"category_id"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	SurchargeAmount decimal.Decimal `json:"surcharge_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	CompetencyDate  time.Time       `json:"competency_date"`
	DueDate         time.Time       `json:"due_date"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	Status          PayableStatus   `json:"status"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ComputeNet keeps NetAmount consistent with its components.
func (p *Payable) ComputeNet() {
	p.NetAmount = p.GrossAmount.Sub(p.DiscountAmount).Add(p.SurchargeAmount).Round(2)
}

type PayableRequest struct {
	Description     string           `json:"description"`
	StoreID         int64            `json:"store_id"`
	CategoryID      int64            `json:"category_id"`
	SupplierID      *int64           `json:"supplier_id,omitempty"`
	SourceAccountID *int64           `json:"source_account_id,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	SurchargeAmount *decimal.Decimal `json:"surcharge_amount,omitempty"`
	CompetencyDate  string           `json:"competency_date"`
	DueDate         string           `json:"due_date"`
}

type PayableStatusRequest struct {
	Status PayableStatus `json:"status"`
}

type PayableFilter struct {
	StoreID int64
	Month   int
	Year    int
	Status  PayableStatus
	Limit   int
}

type AuditLog struct {
	ID            string          `json:"id"`
	StoreID       int64           `json:"store_id"`
	ActorUsername string          `json:"actor_username"`
	ActorRole     string          `json:"actor_role"`
	Action        string          `json:"action"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthAttention HealthStatus = "ATTENTION"
	HealthCritical  HealthStatus = "CRITICAL"
)

type DashboardSummary struct {
	StoreID          int64           `json:"store_id"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	PaidPercent      decimal.Decimal `json:"paid_percent"`
	OverduePercent   decimal.Decimal `json:"overdue_percent"`
	PlannedPercent   decimal.Decimal `json:"planned_percent"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	DueThisWeek      int             `json:"due_this_week"`
	Overdue          int             `json:"overdue"`
	Health           HealthStatus    `json:"health"`
	AssistantMessage string          `json:"assistant_message"`
	ClosingStatus    ClosingStatus   `json:"closing_status,omitempty"`
}
