package sales

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"financeiro/backend/internal/domain"
)

func TestStaticSourceReturnsPeriodGroups(t *testing.T) {
	src := NewStaticSource()
	src.Set(1, 9, 2024, []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "Cartão de Débito", BrandRaw: "", Installments: 1, GrossAmount: decimal.RequireFromString("1000.00")},
	})

	groups, err := src.RevenueGroups(context.Background(), 1, 9, 2024)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Cartão de Débito", groups[0].PaymentTypeRaw)

	empty, err := src.RevenueGroups(context.Background(), 1, 10, 2024)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStaticSourcePropagatesFault(t *testing.T) {
	src := NewStaticSource()
	src.Set(1, 9, 2024, []domain.SalesTransactionGroup{{PaymentTypeRaw: "PIX", GrossAmount: decimal.NewFromInt(10)}})
	src.Fail(ErrUnavailable)

	groups, err := src.RevenueGroups(context.Background(), 1, 9, 2024)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Nil(t, groups)
}
