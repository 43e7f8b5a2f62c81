package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"financeiro/backend/internal/cache"
	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

var hundredPercent = decimal.NewFromInt(100)

type feeRuleFinder interface {
	FindFeeRule(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error)
}

type cachedFeeRule struct {
	Rule  domain.FeeRule `json:"rule"`
	Found bool           `json:"found"`
}

// feeLookup puts a cache in front of the fee schedule. Misses are cached as
// well; every fee profile change drops the store's entries.
type feeLookup struct {
	repo   feeRuleFinder
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func newFeeLookup(repo feeRuleFinder, c cache.Cache, ttl time.Duration, logger *zap.Logger) *feeLookup {
	return &feeLookup{repo: repo, cache: c, ttl: ttl, logger: logger}
}

func (f *feeLookup) FindFeeRule(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error) {
	key := feeCacheKey(storeID, paymentType, brand)

	var cached cachedFeeRule
	if ok, err := f.cache.Get(ctx, key, &cached); err == nil && ok {
		return cached.Rule, cached.Found, nil
	} else if err != nil {
		f.logger.Debug("fee cache read failed", zap.String("key", key), zap.Error(err))
	}

	rule, found, err := f.repo.FindFeeRule(ctx, storeID, paymentType, brand)
	if err != nil {
		return domain.FeeRule{}, false, err
	}
	_ = f.cache.Set(ctx, key, cachedFeeRule{Rule: rule, Found: found}, f.ttl)
	return rule, found, nil
}

func (f *feeLookup) invalidate(ctx context.Context, storeID int64) {
	if err := f.cache.DeletePrefix(ctx, feeCachePrefix(storeID)); err != nil {
		f.logger.Warn("failed to invalidate fee cache", zap.Int64("store_id", storeID), zap.Error(err))
	}
}

func feeCachePrefix(storeID int64) string {
	return fmt.Sprintf("financeiro:fee:%d:", storeID)
}

func feeCacheKey(storeID int64, paymentType domain.PaymentType, brand string) string {
	return feeCachePrefix(storeID) + string(paymentType) + ":" + brand
}

func (s *Service) ListFeeProfiles(ctx context.Context, storeID int64, activeOnly bool) ([]domain.FeeProfile, error) {
	if _, err := authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListFeeProfiles(ctx, storeID, activeOnly)
}

func (s *Service) CreateFeeProfile(ctx context.Context, req domain.FeeProfileCreateRequest) (domain.FeeProfile, error) {
	if _, err := authorizeStore(ctx, req.StoreID, domain.RoleAdmin); err != nil {
		return domain.FeeProfile{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.FeeProfile{}, fmt.Errorf("%w: profile name is required", store.ErrInvalidInput)
	}
	validFrom, err := parseDate(req.ValidFrom)
	if err != nil {
		return domain.FeeProfile{}, err
	}
	var validUntil *time.Time
	if strings.TrimSpace(req.ValidUntil) != "" {
		until, err := parseDate(req.ValidUntil)
		if err != nil {
			return domain.FeeProfile{}, err
		}
		if until.Before(validFrom) {
			return domain.FeeProfile{}, fmt.Errorf("%w: valid_until is before valid_from", store.ErrInvalidInput)
		}
		validUntil = &until
	}

	rates := make([]domain.FeeRate, 0, len(req.Rates))
	for i, rate := range req.Rates {
		normalized, err := normalizeFeeRate(rate)
		if err != nil {
			return domain.FeeProfile{}, fmt.Errorf("rate %d: %w", i+1, err)
		}
		rates = append(rates, normalized)
	}

	saved, err := s.repo.CreateFeeProfile(ctx, domain.FeeProfile{
		Name:       name,
		StoreID:    req.StoreID,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Active:     true,
		Rates:      rates,
	})
	if err != nil {
		return domain.FeeProfile{}, err
	}

	s.fees.invalidate(ctx, saved.StoreID)
	s.logAudit(ctx, saved.StoreID, "fee_profile_create", "fee_profile", strconv.FormatInt(saved.ID, 10), nil, saved)
	return *saved, nil
}

func (s *Service) SetFeeProfileActive(ctx context.Context, profileID int64, active bool) (domain.FeeProfile, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.FeeProfile{}, err
	}

	profiles, err := s.repo.ListFeeProfiles(ctx, actor.ActiveStoreID, false)
	if err != nil {
		return domain.FeeProfile{}, err
	}
	var before *domain.FeeProfile
	for i := range profiles {
		if profiles[i].ID == profileID {
			before = &profiles[i]
			break
		}
	}
	if before == nil {
		return domain.FeeProfile{}, store.ErrNotFound
	}

	saved, err := s.repo.SetFeeProfileActive(ctx, profileID, active)
	if err != nil {
		return domain.FeeProfile{}, err
	}

	s.fees.invalidate(ctx, saved.StoreID)
	s.logAudit(ctx, saved.StoreID, "fee_profile_toggle", "fee_profile", strconv.FormatInt(saved.ID, 10),
		map[string]bool{"active": before.Active}, map[string]bool{"active": saved.Active})
	return *saved, nil
}

func normalizeFeeRate(rate domain.FeeRate) (domain.FeeRate, error) {
	rate.Type = domain.PaymentType(strings.ToUpper(strings.TrimSpace(string(rate.Type))))
	if !rate.Type.Valid() {
		return domain.FeeRate{}, fmt.Errorf("%w: unknown payment type %q", store.ErrInvalidInput, rate.Type)
	}
	rate.Brand = closing.NormalizeBrand(rate.Brand)
	if rate.Percentage.IsNegative() || rate.Percentage.GreaterThanOrEqual(hundredPercent) {
		return domain.FeeRate{}, fmt.Errorf("%w: percentage must be in [0, 100)", store.ErrInvalidInput)
	}
	if !rate.Percentage.Equal(rate.Percentage.Round(2)) {
		return domain.FeeRate{}, fmt.Errorf("%w: percentage allows at most 2 decimal places", store.ErrInvalidInput)
	}
	if rate.FixedAmount.IsNegative() {
		return domain.FeeRate{}, fmt.Errorf("%w: fixed amount must not be negative", store.ErrInvalidInput)
	}
	if !rate.FixedAmount.Equal(rate.FixedAmount.Round(2)) {
		return domain.FeeRate{}, fmt.Errorf("%w: fixed amount allows at most 2 decimal places", store.ErrInvalidInput)
	}
	if rate.InstallmentsFrom < 1 {
		rate.InstallmentsFrom = 1
	}
	if rate.InstallmentsTo < rate.InstallmentsFrom {
		rate.InstallmentsTo = rate.InstallmentsFrom
	}
	if rate.SettlementDays < 0 {
		return domain.FeeRate{}, fmt.Errorf("%w: settlement days must not be negative", store.ErrInvalidInput)
	}
	return rate, nil
}
