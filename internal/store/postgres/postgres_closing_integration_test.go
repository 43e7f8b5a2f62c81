package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"financeiro/backend/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("FINANCEIRO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FINANCEIRO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestUpsertClosingConcurrentWritersLeaveOneRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	storeID := time.Now().UnixNano() % 1_000_000_000
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM closings WHERE store_id = $1`, storeID)
	})

	record := domain.ClosingRecord{
		StoreID:         storeID,
		Month:           9,
		Year:            2024,
		GrossRevenue:    decimal.RequireFromString("3000.00"),
		TotalFees:       decimal.RequireFromString("65.30"),
		NetRevenue:      decimal.RequireFromString("2934.70"),
		TotalExpenses:   decimal.RequireFromString("500.00"),
		OperatingResult: decimal.RequireFromString("2434.70"),
		Snapshot:        &domain.AuditSnapshot{ExpenseTotal: "500.00", OperatingResult: "2434.70"},
	}

	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted, err := s.UpsertClosing(ctx, record)
			if err != nil {
				t.Errorf("upsert closing: %v", err)
				return
			}
			created <- inserted
		}()
	}
	wg.Wait()
	close(created)

	inserts := 0
	for inserted := range created {
		if inserted {
			inserts++
		}
	}
	if inserts != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserts)
	}

	var rows int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM closings WHERE store_id = $1`, storeID).Scan(&rows); err != nil {
		t.Fatalf("count closings: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one closing row, got %d", rows)
	}

	got, err := s.GetClosing(ctx, storeID, 9, 2024)
	if err != nil {
		t.Fatalf("get closing: %v", err)
	}
	if !got.OperatingResult.Equal(record.OperatingResult) || got.Status != domain.ClosingOpen {
		t.Fatalf("unexpected closing: %+v", got)
	}
	if got.Snapshot == nil || got.Snapshot.OperatingResult != "2434.70" {
		t.Fatalf("expected snapshot to round trip, got %+v", got.Snapshot)
	}
}

func TestSumExpensesSkipsCancelledAndOtherMonths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	storeID := time.Now().UnixNano() % 1_000_000_000
	category, err := s.CreateCategory(ctx, domain.Category{Name: "IT expenses", Active: true})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payables WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, category.ID)
	})

	for _, p := range []struct {
		amount string
		month  time.Month
		status domain.PayableStatus
	}{
		{"300.00", time.September, domain.PayablePaid},
		{"200.00", time.September, domain.PayablePlanned},
		{"999.00", time.September, domain.PayableCancelled},
		{"50.00", time.October, domain.PayablePlanned},
	} {
		_, err := s.CreatePayable(ctx, domain.Payable{
			Description:    "integration expense",
			StoreID:        storeID,
			CategoryID:     category.ID,
			GrossAmount:    decimal.RequireFromString(p.amount),
			CompetencyDate: time.Date(2024, p.month, 15, 0, 0, 0, 0, time.UTC),
			DueDate:        time.Date(2024, p.month, 20, 0, 0, 0, 0, time.UTC),
			Status:         p.status,
		})
		if err != nil {
			t.Fatalf("create payable: %v", err)
		}
	}

	total, err := s.SumExpenses(ctx, storeID, 9, 2024)
	if err != nil {
		t.Fatalf("sum expenses: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected 500.00, got %s", total)
	}
}
