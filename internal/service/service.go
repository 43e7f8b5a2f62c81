package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"financeiro/backend/internal/advisor"
	"financeiro/backend/internal/cache"
	"financeiro/backend/internal/closing"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/sales"
	"financeiro/backend/internal/store"
	"financeiro/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Option func(*Service)

// WithCache enables caching of fee lookups and dashboard summaries.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStrictFees makes a closing fail when a transaction group has no fee rule.
func WithStrictFees(strict bool) Option {
	return func(s *Service) {
		s.strictFees = strict
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	repo       store.Repository
	sales      sales.Source
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
	strictFees bool
	now        func() time.Time

	fees      *feeLookup
	processor *closing.Processor
	advisor   *advisor.Engine
}

func New(repo store.Repository, salesSource sales.Source, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sales:    salesSource,
		cache:    cache.Noop{},
		cacheTTL: 60 * time.Second,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	s.fees = newFeeLookup(repo, s.cache, s.cacheTTL, s.logger)
	s.processor = closing.NewProcessor(s.fees, repo,
		closing.WithClock(s.now),
		closing.WithStrictFees(s.strictFees),
		closing.WithLogger(s.logger.Named("closing")),
	)
	s.advisor = advisor.NewEngine(s.cache, s.cacheTTL)
	return s
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: role %s not allowed", store.ErrForbidden, actor.Role)
	}
	return actor, nil
}

// authorizeStore allows access only to the actor's active store.
func authorizeStore(ctx context.Context, storeID int64, roles ...string) (domain.Actor, error) {
	actor, err := requireRole(ctx, roles...)
	if err != nil {
		return domain.Actor{}, err
	}
	if storeID < 1 {
		return domain.Actor{}, store.ErrInvalidInput
	}
	if actor.ActiveStoreID != storeID {
		return domain.Actor{}, fmt.Errorf("%w: store %d is not the active store", store.ErrForbidden, storeID)
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, storeID int64, action string, entityType string, entityID string, before any, after any) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Before:        auditJSON(before),
		After:         auditJSON(after),
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func auditJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID int64, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := authorizeStore(ctx, storeID, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		now := s.now()
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		from = parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func parseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", store.ErrInvalidInput, raw)
	}
	return parsed.UTC(), nil
}

// notFoundAsReference turns a lookup miss of a referenced entity into
// ErrInvalidReference.
func notFoundAsReference(err error, entity string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %d does not exist", store.ErrInvalidReference, entity, id)
	}
	return err
}
