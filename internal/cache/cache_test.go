package cache

import (
	"context"
	"testing"
	"time"
)

type sample struct {
	Value string `json:"value"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	c := NewMemory()
	now := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "fee:1:DEBIT:GENERAL", sample{Value: "1.50"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got sample
	ok, err := c.Get(ctx, "fee:1:DEBIT:GENERAL", &got)
	if err != nil || !ok || got.Value != "1.50" {
		t.Fatalf("expected hit with 1.50, got ok=%v err=%v value=%q", ok, err, got.Value)
	}

	now = now.Add(2 * time.Minute)
	ok, _ = c.Get(ctx, "fee:1:DEBIT:GENERAL", &got)
	if ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	_ = c.Set(ctx, "fee:1:DEBIT:GENERAL", sample{Value: "a"}, 0)
	_ = c.Set(ctx, "fee:2:DEBIT:GENERAL", sample{Value: "b"}, 0)

	if err := c.DeletePrefix(ctx, "fee:1:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}

	var got sample
	if ok, _ := c.Get(ctx, "fee:1:DEBIT:GENERAL", &got); ok {
		t.Fatalf("expected store 1 entry to be dropped")
	}
	if ok, _ := c.Get(ctx, "fee:2:DEBIT:GENERAL", &got); !ok {
		t.Fatalf("expected store 2 entry to survive")
	}
}
