package closing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"financeiro/backend/internal/domain"
)

type feeKey struct {
	storeID int64
	typ     domain.PaymentType
	brand   string
}

type feeSourceStub struct {
	rules map[feeKey]domain.FeeRule
	calls []feeKey
	err   error
}

func (s *feeSourceStub) FindFeeRule(_ context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error) {
	key := feeKey{storeID, paymentType, brand}
	s.calls = append(s.calls, key)
	if s.err != nil {
		return domain.FeeRule{}, false, s.err
	}
	rule, ok := s.rules[key]
	return rule, ok, nil
}

type expenseStub struct {
	total decimal.Decimal
	err   error
}

func (s expenseStub) SumExpenses(_ context.Context, _ int64, _ int, _ int) (decimal.Decimal, error) {
	return s.total, s.err
}

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	require.NoError(t, err)
	return d
}

func rule(t *testing.T, pct string, fixed string) domain.FeeRule {
	return domain.FeeRule{Percentage: dec(t, pct), FixedAmount: dec(t, fixed)}
}

func assertMoney(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Equal(t, expected, actual.StringFixed(2))
}

func exampleFees(t *testing.T) *feeSourceStub {
	return &feeSourceStub{rules: map[feeKey]domain.FeeRule{
		{1, domain.PaymentDebit, domain.GeneralBrand}: rule(t, "1.50", "0.10"),
		{1, domain.PaymentCreditSingle, "VISA"}:       rule(t, "2.50", "0.20"),
	}}
}

func TestNormalizePaymentType(t *testing.T) {
	cases := []struct {
		label        string
		installments int
		want         domain.PaymentType
	}{
		{"CARTAO", 1, domain.PaymentCreditSingle},
		{"CARTAO", 3, domain.PaymentCreditInstallment},
		{"DEBITO", 1, domain.PaymentDebit},
		{"DEBITO", 6, domain.PaymentDebit},
		{"", 1, domain.PaymentOther},
		{"   ", 2, domain.PaymentOther},
		{"Cartão de Débito", 1, domain.PaymentDebit},
		{"cartão", 1, domain.PaymentCreditSingle},
		{"  crédito parcelado ", 4, domain.PaymentCreditInstallment},
		{"CREDITO", 1, domain.PaymentCreditSingle},
		{"Pix", 1, domain.PaymentPix},
		{"dinheiro", 1, domain.PaymentCash},
		{"CASH", 1, domain.PaymentCash},
		{"BOLETO", 1, domain.PaymentOther},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizePaymentType(tc.label, tc.installments))
		})
	}
}

func TestNormalizeBrand(t *testing.T) {
	assert.Equal(t, "VISA", NormalizeBrand(" visa "))
	assert.Equal(t, domain.GeneralBrand, NormalizeBrand(""))
	assert.Equal(t, domain.GeneralBrand, NormalizeBrand("   "))
}

func TestNormalizeGroupDefaultsInstallments(t *testing.T) {
	item := NormalizeGroup(domain.SalesTransactionGroup{PaymentTypeRaw: "cartao", BrandRaw: "master", GrossAmount: dec(t, "10.00")})
	assert.Equal(t, domain.PaymentCreditSingle, item.PaymentType)
	assert.Equal(t, "MASTER", item.Brand)
	assert.Equal(t, 1, item.Installments)
}

func TestResolverFallsBackToGeneralBrand(t *testing.T) {
	fees := &feeSourceStub{rules: map[feeKey]domain.FeeRule{
		{1, domain.PaymentCreditSingle, domain.GeneralBrand}: rule(t, "3.10", "0.05"),
	}}
	res, err := NewResolver(fees).Resolve(context.Background(), 1, domain.PaymentCreditSingle, "ELO", 1)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, domain.GeneralBrand, res.MatchedBrand)
	assertMoney(t, "3.10", res.Rule.Percentage)
	assertMoney(t, "0.05", res.Rule.FixedAmount)
	assert.Len(t, fees.calls, 2)
}

func TestResolverPrefersExactBrand(t *testing.T) {
	fees := &feeSourceStub{rules: map[feeKey]domain.FeeRule{
		{1, domain.PaymentCreditSingle, "VISA"}:              rule(t, "2.50", "0"),
		{1, domain.PaymentCreditSingle, domain.GeneralBrand}: rule(t, "3.10", "0"),
	}}
	res, err := NewResolver(fees).Resolve(context.Background(), 1, domain.PaymentCreditSingle, "VISA", 1)
	require.NoError(t, err)
	assert.Equal(t, "VISA", res.MatchedBrand)
	assertMoney(t, "2.50", res.Rule.Percentage)
	assert.Len(t, fees.calls, 1)
}

func TestResolverNotFoundIsNotAnError(t *testing.T) {
	fees := &feeSourceStub{}
	res, err := NewResolver(fees).Resolve(context.Background(), 1, domain.PaymentPix, domain.GeneralBrand, 1)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Len(t, fees.calls, 1, "general brand must not be queried twice")
}

func TestResolverPropagatesSourceError(t *testing.T) {
	boom := errors.New("fee db down")
	_, err := NewResolver(&feeSourceStub{err: boom}).Resolve(context.Background(), 1, domain.PaymentDebit, "VISA", 1)
	assert.ErrorIs(t, err, boom)
}

func TestCalculatorExample(t *testing.T) {
	items := []domain.NormalizedTransactionItem{
		{PaymentType: domain.PaymentDebit, Brand: domain.GeneralBrand, Installments: 1, GrossAmount: dec(t, "1000.00")},
		{PaymentType: domain.PaymentCreditSingle, Brand: "VISA", Installments: 1, GrossAmount: dec(t, "2000.00")},
	}

	rev, err := NewCalculator(NewResolver(exampleFees(t))).Compute(context.Background(), 1, items)
	require.NoError(t, err)
	assertMoney(t, "3000.00", rev.GrossTotal)
	assertMoney(t, "65.30", rev.FeeTotal)
	assertMoney(t, "2934.70", rev.NetTotal)
	require.Len(t, rev.Lines, 2)
	assertMoney(t, "15.10", rev.Lines[0].Fee)
	assertMoney(t, "50.20", rev.Lines[1].Fee)
	assert.Empty(t, rev.Unmatched())
}

func TestCalculatorRoundsEachItemBeforeSumming(t *testing.T) {
	fees := &feeSourceStub{rules: map[feeKey]domain.FeeRule{
		{1, domain.PaymentPix, domain.GeneralBrand}: rule(t, "0.50", "0"),
	}}
	items := make([]domain.NormalizedTransactionItem, 0, 3)
	raw := decimal.Zero
	for i := 0; i < 3; i++ {
		amount := dec(t, "1.00")
		items = append(items, domain.NormalizedTransactionItem{PaymentType: domain.PaymentPix, Brand: domain.GeneralBrand, Installments: 1, GrossAmount: amount})
		raw = raw.Add(amount.Mul(dec(t, "0.005")))
	}

	rev, err := NewCalculator(NewResolver(fees)).Compute(context.Background(), 1, items)
	require.NoError(t, err)
	assertMoney(t, "0.03", rev.FeeTotal)
	assertMoney(t, "0.02", RoundMoney(raw))
	assert.False(t, rev.FeeTotal.Equal(RoundMoney(raw)))
}

func TestCalculatorRoundsHalfUp(t *testing.T) {
	assertMoney(t, "0.13", ItemFee(dec(t, "12.50"), rule(t, "1.00", "0")))
	assertMoney(t, "0.01", ItemFee(dec(t, "1.00"), rule(t, "0.50", "0")))
	assertMoney(t, "10.00", ItemFee(dec(t, "0"), rule(t, "1.00", "10.00")))
}

func TestCalculatorMissingRuleCountsGrossOnly(t *testing.T) {
	items := []domain.NormalizedTransactionItem{
		{PaymentType: domain.PaymentDebit, Brand: domain.GeneralBrand, Installments: 1, GrossAmount: dec(t, "1000.00")},
		{PaymentType: domain.PaymentCash, Brand: domain.GeneralBrand, Installments: 1, GrossAmount: dec(t, "250.55")},
	}

	rev, err := NewCalculator(NewResolver(exampleFees(t))).Compute(context.Background(), 1, items)
	require.NoError(t, err)
	assertMoney(t, "1250.55", rev.GrossTotal)
	assertMoney(t, "15.10", rev.FeeTotal)
	assert.False(t, rev.Lines[1].Matched)
	assertMoney(t, "0.00", rev.Lines[1].Fee)

	unmatched := rev.Unmatched()
	require.Len(t, unmatched, 1)
	assert.Equal(t, domain.PaymentCash, unmatched[0].PaymentType)
	assert.Equal(t, "250.55", unmatched[0].GrossAmount)
}

func TestProcessorEndToEnd(t *testing.T) {
	at := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	p := NewProcessor(exampleFees(t), expenseStub{total: dec(t, "500")}, WithClock(func() time.Time { return at }))

	groups := []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "DEBITO", BrandRaw: "", Installments: 1, GrossAmount: dec(t, "1000.00")},
		{PaymentTypeRaw: "CARTAO", BrandRaw: " visa", Installments: 1, GrossAmount: dec(t, "2000.00")},
	}
	res, err := p.Execute(context.Background(), 1, 9, 2024, groups)
	require.NoError(t, err)

	assertMoney(t, "3000.00", res.GrossRevenue)
	assertMoney(t, "65.30", res.TotalFees)
	assertMoney(t, "2934.70", res.NetRevenue)
	assertMoney(t, "500.00", res.ExpenseTotal)
	assertMoney(t, "2434.70", res.OperatingResult)
	assert.Empty(t, res.Warnings)

	snap := res.Snapshot
	require.Len(t, snap.Items, 2)
	assert.Equal(t, domain.PaymentDebit, snap.Items[0].PaymentType)
	assert.Equal(t, domain.GeneralBrand, snap.Items[0].Brand)
	assert.Equal(t, "1000.00", snap.Items[0].GrossAmount)
	assert.Equal(t, "VISA", snap.Items[1].Brand)
	assert.Equal(t, "50.20", snap.Items[1].Fee)
	assert.Equal(t, "2934.70", snap.Revenue.NetTotal)
	assert.Equal(t, "2434.70", snap.OperatingResult)
	assert.Equal(t, at, snap.ProcessedAt)
}

func TestProcessorIsIdempotentApartFromTimestamp(t *testing.T) {
	fees := exampleFees(t)
	groups := []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "PIX", Installments: 1, GrossAmount: dec(t, "99.99")},
		{PaymentTypeRaw: "CARTAO", BrandRaw: "VISA", Installments: 1, GrossAmount: dec(t, "10.01")},
	}

	first, err := NewProcessor(fees, expenseStub{total: dec(t, "12.34")}).Execute(context.Background(), 1, 3, 2025, groups)
	require.NoError(t, err)
	second, err := NewProcessor(fees, expenseStub{total: dec(t, "12.34")}).Execute(context.Background(), 1, 3, 2025, groups)
	require.NoError(t, err)

	first.Snapshot.ProcessedAt = time.Time{}
	second.Snapshot.ProcessedAt = time.Time{}
	assert.Equal(t, first, second)
	require.Len(t, first.Warnings, 1)
	assert.Equal(t, domain.PaymentPix, first.Warnings[0].PaymentType)
	assert.Equal(t, first.Warnings, first.Snapshot.UnmatchedFees)
}

func TestProcessorStrictModeRejectsMissingFees(t *testing.T) {
	p := NewProcessor(exampleFees(t), expenseStub{}, WithStrictFees(true))
	_, err := p.Execute(context.Background(), 1, 9, 2024, []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "PIX", GrossAmount: dec(t, "10")},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingFeeRule)

	var missing *MissingFeeError
	require.ErrorAs(t, err, &missing)
	assert.Len(t, missing.Missing, 1)
}

func TestProcessorRejectsInvalidPeriod(t *testing.T) {
	p := NewProcessor(exampleFees(t), expenseStub{})
	for _, tc := range []struct {
		store       int64
		month, year int
	}{{0, 1, 2024}, {1, 0, 2024}, {1, 13, 2024}, {1, 5, 1999}} {
		_, err := p.Execute(context.Background(), tc.store, tc.month, tc.year, nil)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}
}

func TestProcessorPropagatesCollaboratorFaults(t *testing.T) {
	boom := errors.New("expense db down")
	_, err := NewProcessor(exampleFees(t), expenseStub{err: boom}).Execute(context.Background(), 1, 9, 2024, nil)
	assert.ErrorIs(t, err, boom)

	feeErr := errors.New("fee db down")
	_, err = NewProcessor(&feeSourceStub{err: feeErr}, expenseStub{}).Execute(context.Background(), 1, 9, 2024, []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "DEBITO", GrossAmount: dec(t, "1")},
	})
	assert.ErrorIs(t, err, feeErr)
}

func TestProcessorEmptyPeriod(t *testing.T) {
	res, err := NewProcessor(exampleFees(t), expenseStub{total: dec(t, "80.5")}).Execute(context.Background(), 2, 1, 2025, nil)
	require.NoError(t, err)
	assertMoney(t, "0.00", res.GrossRevenue)
	assertMoney(t, "-80.50", res.OperatingResult)
	assert.Empty(t, res.Snapshot.Items)
}
