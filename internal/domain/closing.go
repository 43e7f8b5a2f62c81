package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentDebit             PaymentType = "DEBIT"
	PaymentCreditSingle      PaymentType = "CREDIT_SINGLE"
	PaymentCreditInstallment PaymentType = "CREDIT_INSTALLMENT"
	PaymentPix               PaymentType = "PIX"
	PaymentCash              PaymentType = "CASH"
	PaymentOther             PaymentType = "OTHER"
)

// GeneralBrand is the catch-all brand used both for unlabeled sales and for
// fee rates that apply to any brand of a payment type.
const GeneralBrand = "GENERAL"

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentDebit, PaymentCreditSingle, PaymentCreditInstallment, PaymentPix, PaymentCash, PaymentOther:
		return true
	}
	return false
}

// FeeRule is the fee applied to one transaction group: Percentage is expressed
// in percent points (1.50 means 1.5%), FixedAmount is added once per group.
type FeeRule struct {
	Percentage  decimal.Decimal `json:"percentage"`
	FixedAmount decimal.Decimal `json:"fixed_amount"`
}

type FeeProfile struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	StoreID    int64      `json:"store_id"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Active     bool       `json:"active"`
	Rates      []FeeRate  `json:"rates"`
}

type FeeRate struct {
	ID               int64           `json:"id"`
	ProfileID        int64           `json:"profile_id"`
	Type             PaymentType     `json:"type"`
	Brand            string          `json:"brand"`
	InstallmentsFrom int             `json:"installments_from"`
	InstallmentsTo   int             `json:"installments_to"`
	Percentage       decimal.Decimal `json:"percentage"`
	FixedAmount      decimal.Decimal `json:"fixed_amount"`
	SettlementDays   int             `json:"settlement_days"`
}

func (r FeeRate) Rule() FeeRule {
	return FeeRule{Percentage: r.Percentage, FixedAmount: r.FixedAmount}
}

type FeeProfileCreateRequest struct {
	Name       string    `json:"name"`
	StoreID    int64     `json:"store_id"`
	ValidFrom  string    `json:"valid_from"`
	ValidUntil string    `json:"valid_until,omitempty"`
	Rates      []FeeRate `json:"rates"`
}

type FeeProfileToggleRequest struct {
	Active bool `json:"active"`
}

// SalesTransactionGroup is one (payment form, brand) bucket of a store's
// monthly sales as delivered by the sales system, amounts pre-summed.
type SalesTransactionGroup struct {
	PaymentTypeRaw string          `json:"payment_type_raw"`
	BrandRaw       string          `json:"brand_raw"`
	Installments   int             `json:"installments"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
}

type NormalizedTransactionItem struct {
	PaymentType  PaymentType     `json:"payment_type"`
	Brand        string          `json:"brand"`
	Installments int             `json:"installments"`
	GrossAmount  decimal.Decimal `json:"gross_amount"`
}

type ClosingInputs struct {
	StoreID      int64
	Month        int
	Year         int
	Items        []NormalizedTransactionItem
	ExpenseTotal decimal.Decimal
}

// FeeWarning flags a transaction group that had no fee rule, neither for its
// brand nor for the general brand, and therefore contributed zero fee.
type FeeWarning struct {
	PaymentType PaymentType `json:"payment_type"`
	Brand       string      `json:"brand"`
	GrossAmount string      `json:"gross_amount"`
}

func (w FeeWarning) String() string {
	return fmt.Sprintf("no fee rule for %s/%s (gross %s)", w.PaymentType, w.Brand, w.GrossAmount)
}

type SnapshotItem struct {
	PaymentType  PaymentType `json:"payment_type"`
	Brand        string      `json:"brand"`
	Installments int         `json:"installments"`
	GrossAmount  string      `json:"gross_amount"`
	Fee          string      `json:"fee"`
	FeeMatched   bool        `json:"fee_matched"`
	MatchedBrand string      `json:"matched_brand,omitempty"`
}

type SnapshotRevenue struct {
	GrossTotal string `json:"gross_total"`
	FeeTotal   string `json:"fee_total"`
	NetTotal   string `json:"net_total"`
}

// AuditSnapshot is stored verbatim next to a closing so the numbers can be
// traced back to the inputs. ProcessedAt is the only non-deterministic field.
type AuditSnapshot struct {
	Items           []SnapshotItem  `json:"items"`
	Revenue         SnapshotRevenue `json:"revenue"`
	ExpenseTotal    string          `json:"expense_total"`
	OperatingResult string          `json:"operating_result"`
	UnmatchedFees   []FeeWarning    `json:"unmatched_fees"`
	ProcessedAt     time.Time       `json:"processed_at"`
}

type ClosingResult struct {
	GrossRevenue    decimal.Decimal `json:"gross_revenue"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	NetRevenue      decimal.Decimal `json:"net_revenue"`
	ExpenseTotal    decimal.Decimal `json:"expense_total"`
	OperatingResult decimal.Decimal `json:"operating_result"`
	Warnings        []FeeWarning    `json:"warnings"`
	Snapshot        AuditSnapshot   `json:"snapshot"`
}

type ClosingStatus string

const (
	ClosingOpen      ClosingStatus = "OPEN"
	ClosingConcluded ClosingStatus = "CONCLUDED"
)

// ClosingRecord is the persisted closing of one (store, month, year).
type ClosingRecord struct {
	StoreID         int64           `json:"store_id"`
	Month           int             `json:"month"`
	Year            int             `json:"year"`
	GrossRevenue    decimal.Decimal `json:"gross_revenue"`
	TotalFees       decimal.Decimal `json:"total_fees"`
	NetRevenue      decimal.Decimal `json:"net_revenue"`
	TotalExpenses   decimal.Decimal `json:"total_expenses"`
	OperatingResult decimal.Decimal `json:"operating_result"`
	Status          ClosingStatus   `json:"status"`
	Snapshot        *AuditSnapshot  `json:"snapshot,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r ClosingRecord) Locked() bool {
	return r.Status == ClosingConcluded
}

// NewClosingRecord maps a computed result onto the record that gets upserted.
// Computing a closing never concludes it.
func NewClosingRecord(storeID int64, month int, year int, result ClosingResult) ClosingRecord {
	snapshot := result.Snapshot
	return ClosingRecord{
		StoreID:         storeID,
		Month:           month,
		Year:            year,
		GrossRevenue:    result.GrossRevenue,
		TotalFees:       result.TotalFees,
		NetRevenue:      result.NetRevenue,
		TotalExpenses:   result.ExpenseTotal,
		OperatingResult: result.OperatingResult,
		Status:          ClosingOpen,
		Snapshot:        &snapshot,
	}
}

type ClosingResponse struct {
	Closing  ClosingRecord `json:"closing"`
	Created  bool          `json:"created"`
	Warnings []FeeWarning  `json:"warnings"`
}
