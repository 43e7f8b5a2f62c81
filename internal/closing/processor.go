package closing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"financeiro/backend/internal/domain"
)

var (
	ErrInvalidPeriod  = errors.New("invalid closing period")
	ErrMissingFeeRule = errors.New("missing fee rule")
)

// MissingFeeError is returned in strict mode when at least one transaction
// group has no fee configured.
type MissingFeeError struct {
	Missing []domain.FeeWarning
}

func (e *MissingFeeError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, w := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s/%s", w.PaymentType, w.Brand))
	}
	return fmt.Sprintf("missing fee rule for %s", strings.Join(parts, ", "))
}

func (e *MissingFeeError) Unwrap() error {
	return ErrMissingFeeRule
}

// ExpenseSource sums the non-cancelled payables booked in a competency month.
type ExpenseSource interface {
	SumExpenses(ctx context.Context, storeID int64, month int, year int) (decimal.Decimal, error)
}

type Option func(*Processor)

// WithClock overrides the timestamp recorded in audit snapshots.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStrictFees rejects a closing when any group has no fee rule instead of
// counting it at zero fee.
func WithStrictFees(strict bool) Option {
	return func(p *Processor) {
		p.strictFees = strict
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type Processor struct {
	calculator *Calculator
	expenses   ExpenseSource
	now        func() time.Time
	strictFees bool
	logger     *zap.Logger
}

func NewProcessor(fees FeeSource, expenses ExpenseSource, opts ...Option) *Processor {
	p := &Processor{
		calculator: NewCalculator(NewResolver(fees)),
		expenses:   expenses,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func ValidatePeriod(storeID int64, month int, year int) error {
	if storeID < 1 {
		return fmt.Errorf("%w: store id must be positive", ErrInvalidPeriod)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, month)
	}
	if year < 2000 || year > 2100 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, year)
	}
	return nil
}

// Execute computes the closing of one store and competency month from the
// sales groups delivered by the sales system. It writes nothing.
func (p *Processor) Execute(ctx context.Context, storeID int64, month int, year int, groups []domain.SalesTransactionGroup) (domain.ClosingResult, error) {
	if err := ValidatePeriod(storeID, month, year); err != nil {
		return domain.ClosingResult{}, err
	}

	expenseTotal := decimal.Zero
	if p.expenses != nil {
		total, err := p.expenses.SumExpenses(ctx, storeID, month, year)
		if err != nil {
			return domain.ClosingResult{}, err
		}
		expenseTotal = total
	}

	return p.Compute(ctx, domain.ClosingInputs{
		StoreID:      storeID,
		Month:        month,
		Year:         year,
		Items:        NormalizeGroups(groups),
		ExpenseTotal: expenseTotal,
	})
}

// Compute runs the calculation over already assembled inputs.
func (p *Processor) Compute(ctx context.Context, inputs domain.ClosingInputs) (domain.ClosingResult, error) {
	revenue, err := p.calculator.Compute(ctx, inputs.StoreID, inputs.Items)
	if err != nil {
		return domain.ClosingResult{}, err
	}

	warnings := revenue.Unmatched()
	if len(warnings) > 0 {
		if p.strictFees {
			return domain.ClosingResult{}, &MissingFeeError{Missing: warnings}
		}
		p.logger.Warn("closing has groups without fee rule",
			zap.Int64("store_id", inputs.StoreID),
			zap.Int("month", inputs.Month),
			zap.Int("year", inputs.Year),
			zap.Int("unmatched", len(warnings)),
		)
	}

	expenseTotal := RoundMoney(inputs.ExpenseTotal)
	operating := revenue.NetTotal.Sub(expenseTotal)

	return domain.ClosingResult{
		GrossRevenue:    revenue.GrossTotal,
		TotalFees:       revenue.FeeTotal,
		NetRevenue:      revenue.NetTotal,
		ExpenseTotal:    expenseTotal,
		OperatingResult: operating,
		Warnings:        warnings,
		Snapshot:        buildSnapshot(revenue, expenseTotal, operating, warnings, p.now()),
	}, nil
}

func buildSnapshot(revenue Revenue, expenseTotal decimal.Decimal, operating decimal.Decimal, warnings []domain.FeeWarning, at time.Time) domain.AuditSnapshot {
	items := make([]domain.SnapshotItem, 0, len(revenue.Lines))
	for _, line := range revenue.Lines {
		items = append(items, domain.SnapshotItem{
			PaymentType:  line.Item.PaymentType,
			Brand:        line.Item.Brand,
			Installments: line.Item.Installments,
			GrossAmount:  RoundMoney(line.Item.GrossAmount).StringFixed(2),
			Fee:          line.Fee.StringFixed(2),
			FeeMatched:   line.Matched,
			MatchedBrand: line.MatchedBrand,
		})
	}
	return domain.AuditSnapshot{
		Items: items,
		Revenue: domain.SnapshotRevenue{
			GrossTotal: revenue.GrossTotal.StringFixed(2),
			FeeTotal:   revenue.FeeTotal.StringFixed(2),
			NetTotal:   revenue.NetTotal.StringFixed(2),
		},
		ExpenseTotal:    expenseTotal.StringFixed(2),
		OperatingResult: operating.StringFixed(2),
		UnmatchedFees:   warnings,
		ProcessedAt:     at,
	}
}
