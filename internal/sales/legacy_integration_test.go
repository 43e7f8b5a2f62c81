package sales

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLegacySourceQueriesPeriod(t *testing.T) {
	dsn := os.Getenv("FINANCEIRO_TEST_SALES_DATABASE_URL")
	if dsn == "" {
		t.Skip("set FINANCEIRO_TEST_SALES_DATABASE_URL to run legacy sales integration test")
	}

	src, err := OpenLegacy(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	ctx := context.Background()
	require.NoError(t, src.Ping(ctx))

	groups, err := src.RevenueGroups(ctx, 1, 12, 2025)
	require.NoError(t, err)
	for _, g := range groups {
		require.Equal(t, 1, g.Installments)
		require.NotEmpty(t, g.BrandRaw)
	}

	_, err = src.Diagnose(ctx, 1, 12, 2025)
	require.NoError(t, err)
}
