package closing

import (
	"context"

	"financeiro/backend/internal/domain"
)

// FeeSource looks up the fee configured for an exact (store, type, brand)
// among the store's active fee profiles. found is false when nothing matches.
type FeeSource interface {
	FindFeeRule(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string) (rule domain.FeeRule, found bool, err error)
}

type Resolution struct {
	Rule         domain.FeeRule
	Found        bool
	MatchedBrand string
	Installments int
}

type Resolver struct {
	source FeeSource
}

func NewResolver(source FeeSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve tries the exact brand first and then the general brand. A miss on
// both is not an error: the caller decides what a missing fee means.
// Installments are carried on the resolution but do not select a rate yet.
func (r *Resolver) Resolve(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string, installments int) (Resolution, error) {
	res := Resolution{Installments: installments}

	rule, found, err := r.source.FindFeeRule(ctx, storeID, paymentType, brand)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		res.Rule, res.Found, res.MatchedBrand = rule, true, brand
		return res, nil
	}

	if brand == domain.GeneralBrand {
		return res, nil
	}

	rule, found, err = r.source.FindFeeRule(ctx, storeID, paymentType, domain.GeneralBrand)
	if err != nil {
		return Resolution{}, err
	}
	if found {
		res.Rule, res.Found, res.MatchedBrand = rule, true, domain.GeneralBrand
	}
	return res, nil
}
