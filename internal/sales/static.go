package sales

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"financeiro/backend/internal/domain"
)

// StaticSource serves revenue groups held in memory. It backs dev mode and
// tests.
type StaticSource struct {
	mu     sync.RWMutex
	groups map[string][]domain.SalesTransactionGroup
	err    error
}

func NewStaticSource() *StaticSource {
	return &StaticSource{groups: make(map[string][]domain.SalesTransactionGroup)}
}

// Set replaces the groups returned for one store and month.
func (s *StaticSource) Set(storeID int64, month int, year int, groups []domain.SalesTransactionGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[periodKey(storeID, month, year)] = slices.Clone(groups)
}

// Fail makes every subsequent call return err; nil restores normal behaviour.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) RevenueGroups(_ context.Context, storeID int64, month int, year int) ([]domain.SalesTransactionGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.groups[periodKey(storeID, month, year)]), nil
}

func periodKey(storeID int64, month int, year int) string {
	return fmt.Sprintf("%d:%04d-%02d", storeID, year, month)
}
