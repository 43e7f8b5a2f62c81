package closing

import (
	"context"

	"github.com/shopspring/decimal"

	"financeiro/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to cents, half away from zero (0.005 -> 0.01).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

type LineFee struct {
	Item         domain.NormalizedTransactionItem
	Fee          decimal.Decimal
	Matched      bool
	MatchedBrand string
}

type Revenue struct {
	GrossTotal decimal.Decimal
	FeeTotal   decimal.Decimal
	NetTotal   decimal.Decimal
	Lines      []LineFee
}

func (r Revenue) Unmatched() []domain.FeeWarning {
	warnings := make([]domain.FeeWarning, 0)
	for _, line := range r.Lines {
		if line.Matched {
			continue
		}
		warnings = append(warnings, domain.FeeWarning{
			PaymentType: line.Item.PaymentType,
			Brand:       line.Item.Brand,
			GrossAmount: RoundMoney(line.Item.GrossAmount).StringFixed(2),
		})
	}
	return warnings
}

type Calculator struct {
	resolver *Resolver
}

func NewCalculator(resolver *Resolver) *Calculator {
	return &Calculator{resolver: resolver}
}

// Compute sums gross revenue and card fees for a store's transaction groups.
// Each group's fee is rounded to cents before it joins the total; a group
// without a fee rule still counts towards gross revenue.
func (c *Calculator) Compute(ctx context.Context, storeID int64, items []domain.NormalizedTransactionItem) (Revenue, error) {
	gross := decimal.Zero
	fees := decimal.Zero
	lines := make([]LineFee, 0, len(items))

	for _, item := range items {
		gross = gross.Add(item.GrossAmount)

		res, err := c.resolver.Resolve(ctx, storeID, item.PaymentType, item.Brand, item.Installments)
		if err != nil {
			return Revenue{}, err
		}

		line := LineFee{Item: item, Fee: decimal.Zero}
		if res.Found {
			line.Fee = ItemFee(item.GrossAmount, res.Rule)
			line.Matched = true
			line.MatchedBrand = res.MatchedBrand
			fees = fees.Add(line.Fee)
		}
		lines = append(lines, line)
	}

	gross = RoundMoney(gross)
	fees = RoundMoney(fees)
	return Revenue{
		GrossTotal: gross,
		FeeTotal:   fees,
		NetTotal:   gross.Sub(fees),
		Lines:      lines,
	}, nil
}

// ItemFee is amount * percentage/100 + fixed, rounded to cents.
func ItemFee(amount decimal.Decimal, rule domain.FeeRule) decimal.Decimal {
	return RoundMoney(amount.Mul(rule.Percentage.Div(hundred)).Add(rule.FixedAmount))
}
