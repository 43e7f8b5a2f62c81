// Command salesdiag checks what the legacy sales database returns for a store
// and month before a closing is executed against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/config"
	"financeiro/backend/internal/sales"
)

func main() {
	cfg := config.Load()

	var (
		dsn     = flag.String("dsn", cfg.SalesDatabaseURL, "sales database DSN (defaults to SALES_DATABASE_URL)")
		storeID = flag.Int64("store", 1, "store id")
		month   = flag.Int("month", 0, "competency month 1-12 (defaults to last month)")
		year    = flag.Int("year", 0, "competency year (defaults to last month's year)")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	if *month == 0 || *year == 0 {
		*month, *year = previousMonth(time.Now().UTC())
	}
	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "salesdiag: no DSN; pass -dsn or set SALES_DATABASE_URL")
		os.Exit(2)
	}
	if err := closing.ValidatePeriod(*storeID, *month, *year); err != nil {
		fmt.Fprintf(os.Stderr, "salesdiag: %v\n", err)
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "salesdiag: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, os.Stdout, *dsn, *storeID, *month, *year, logger); err != nil {
		logger.Error("diagnosis failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, dsn string, storeID int64, month int, year int, logger *zap.Logger) error {
	src, err := sales.OpenLegacy(dsn, logger)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := src.Ping(ctx); err != nil {
		return err
	}

	diag, err := src.Diagnose(ctx, storeID, month, year)
	if err != nil {
		return err
	}
	groups, err := src.RevenueGroups(ctx, storeID, month, year)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "store %d, %04d-%02d: %d sales, first payment slot total %s\n",
		diag.StoreID, diag.Year, diag.Month, diag.SaleCount, diag.FirstSlot.StringFixed(2))
	if diag.FirstSale != nil && diag.LatestSale != nil {
		fmt.Fprintf(out, "sales on record from %s to %s\n",
			diag.FirstSale.Format(time.DateOnly), diag.LatestSale.Format(time.DateOnly))
	} else {
		fmt.Fprintln(out, "no sales on record for this store")
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RAW PAYMENT\tRAW BRAND\tTYPE\tBRAND\tGROSS")
	for _, group := range groups {
		item := closing.NormalizeGroup(group)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			group.PaymentTypeRaw, group.BrandRaw, item.PaymentType, item.Brand, item.GrossAmount.StringFixed(2))
	}
	return tw.Flush()
}

func previousMonth(now time.Time) (int, int) {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year()
}
