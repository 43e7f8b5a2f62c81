package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

func TestFindFeeRulePrefersNewestActiveProfile(t *testing.T) {
	s := NewSeeded(zap.NewNop())
	ctx := context.Background()

	rule, found, err := s.FindFeeRule(ctx, 1, domain.PaymentCreditSingle, "VISA")
	if err != nil || !found {
		t.Fatalf("expected seeded VISA rule, found=%v err=%v", found, err)
	}
	if !rule.Percentage.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected 2.50%%, got %s", rule.Percentage)
	}

	newer, err := s.CreateFeeProfile(ctx, domain.FeeProfile{
		Name:      "Renegotiated",
		StoreID:   1,
		ValidFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:    true,
		Rates: []domain.FeeRate{
			{Type: domain.PaymentCreditSingle, Brand: "VISA", Percentage: decimal.RequireFromString("1.90"), FixedAmount: decimal.Zero},
		},
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	rule, _, _ = s.FindFeeRule(ctx, 1, domain.PaymentCreditSingle, "VISA")
	if !rule.Percentage.Equal(decimal.RequireFromString("1.90")) {
		t.Fatalf("expected newest profile rate 1.90, got %s", rule.Percentage)
	}

	if _, err := s.SetFeeProfileActive(ctx, newer.ID, false); err != nil {
		t.Fatalf("deactivate profile: %v", err)
	}
	rule, _, _ = s.FindFeeRule(ctx, 1, domain.PaymentCreditSingle, "VISA")
	if !rule.Percentage.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected inactive profile to be ignored, got %s", rule.Percentage)
	}

	if _, found, _ := s.FindFeeRule(ctx, 2, domain.PaymentCreditSingle, "VISA"); found {
		t.Fatalf("expected no rule for a store without profiles")
	}
}

func TestSumExpensesSkipsCancelledAndOtherMonths(t *testing.T) {
	s := NewSeeded(zap.NewNop())
	ctx := context.Background()

	for _, p := range []struct {
		amount string
		store  int64
		month  time.Month
		status domain.PayableStatus
	}{
		{"300.00", 1, time.September, domain.PayablePaid},
		{"200.00", 1, time.September, domain.PayablePlanned},
		{"999.00", 1, time.September, domain.PayableCancelled},
		{"50.00", 1, time.October, domain.PayablePlanned},
		{"70.00", 2, time.September, domain.PayablePlanned},
	} {
		_, err := s.CreatePayable(ctx, domain.Payable{
			Description:    "expense",
			StoreID:        p.store,
			CategoryID:     1,
			GrossAmount:    decimal.RequireFromString(p.amount),
			CompetencyDate: time.Date(2024, p.month, 30, 0, 0, 0, 0, time.UTC),
			DueDate:        time.Date(2024, p.month, 30, 0, 0, 0, 0, time.UTC),
			Status:         p.status,
		})
		if err != nil {
			t.Fatalf("create payable: %v", err)
		}
	}

	total, err := s.SumExpenses(ctx, 1, 9, 2024)
	if err != nil {
		t.Fatalf("sum expenses: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected 500.00, got %s", total)
	}
}

func TestCreatePayableRejectsUnknownCategory(t *testing.T) {
	s := NewSeeded(zap.NewNop())

	_, err := s.CreatePayable(context.Background(), domain.Payable{
		Description:    "ghost",
		StoreID:        1,
		CategoryID:     9999,
		GrossAmount:    decimal.RequireFromString("10"),
		CompetencyDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, store.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestUpsertClosingReportsCreatedOnceAndReopens(t *testing.T) {
	s := New()
	ctx := context.Background()
	record := domain.ClosingRecord{StoreID: 1, Month: 9, Year: 2024, OperatingResult: decimal.RequireFromString("10")}

	_, created, err := s.UpsertClosing(ctx, record)
	if err != nil || !created {
		t.Fatalf("expected first upsert to create, created=%v err=%v", created, err)
	}
	if _, err := s.SetClosingStatus(ctx, 1, 9, 2024, domain.ClosingConcluded); err != nil {
		t.Fatalf("conclude: %v", err)
	}

	record.OperatingResult = decimal.RequireFromString("20")
	saved, created, err := s.UpsertClosing(ctx, record)
	if err != nil || created {
		t.Fatalf("expected second upsert to update, created=%v err=%v", created, err)
	}
	if saved.Status != domain.ClosingOpen || !saved.OperatingResult.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected saved closing: %+v", saved)
	}

	list, _ := s.ListClosings(ctx, 1, 2024)
	if len(list) != 1 {
		t.Fatalf("expected a single closing row, got %d", len(list))
	}
}

func TestClosingSnapshotIsCopiedOnReadAndWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	snapshot := &domain.AuditSnapshot{
		Items:         []domain.SnapshotItem{{PaymentType: domain.PaymentDebit, Brand: domain.GeneralBrand, GrossAmount: "1000.00", Fee: "15.10"}},
		UnmatchedFees: []domain.FeeWarning{{PaymentType: domain.PaymentPix, Brand: domain.GeneralBrand, GrossAmount: "50.00"}},
	}
	record := domain.ClosingRecord{StoreID: 1, Month: 9, Year: 2024, Snapshot: snapshot}

	saved, _, err := s.UpsertClosing(ctx, record)
	if err != nil {
		t.Fatalf("upsert closing: %v", err)
	}
	snapshot.Items[0].Fee = "0.00"
	saved.Snapshot.Items[0].Fee = "1.00"
	saved.Snapshot.UnmatchedFees = nil

	got, err := s.GetClosing(ctx, 1, 9, 2024)
	if err != nil {
		t.Fatalf("get closing: %v", err)
	}
	if got.Snapshot.Items[0].Fee != "15.10" || len(got.Snapshot.UnmatchedFees) != 1 {
		t.Fatalf("stored snapshot changed through caller copies: %+v", got.Snapshot)
	}

	got.Snapshot.Items[0].Fee = "2.00"
	if _, err := s.SetClosingStatus(ctx, 1, 9, 2024, domain.ClosingConcluded); err != nil {
		t.Fatalf("conclude: %v", err)
	}
	again, _ := s.GetClosing(ctx, 1, 9, 2024)
	if again.Snapshot.Items[0].Fee != "15.10" {
		t.Fatalf("expected stored fee 15.10, got %s", again.Snapshot.Items[0].Fee)
	}
}

func TestDeleteCategoryInUse(t *testing.T) {
	s := NewSeeded(zap.NewNop())
	ctx := context.Background()

	_, err := s.CreatePayable(ctx, domain.Payable{
		Description:    "rent",
		StoreID:        1,
		CategoryID:     1,
		GrossAmount:    decimal.RequireFromString("1000"),
		CompetencyDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create payable: %v", err)
	}

	if err := s.DeleteCategory(ctx, 1); !errors.Is(err, store.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := s.DeleteCategory(ctx, 2); err != nil {
		t.Fatalf("expected unused category delete to succeed: %v", err)
	}
}
