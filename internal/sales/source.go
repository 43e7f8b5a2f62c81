// Package sales reads pre-aggregated monthly revenue from the external sales
// system. Faults are returned to the caller; a failing source never looks like
// a month without sales.
package sales

import (
	"context"
	"errors"

	"financeiro/backend/internal/domain"
)

var ErrUnavailable = errors.New("sales source unavailable")

type Source interface {
	RevenueGroups(ctx context.Context, storeID int64, month int, year int) ([]domain.SalesTransactionGroup, error)
}
