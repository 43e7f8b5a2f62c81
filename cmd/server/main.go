package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"financeiro/backend/internal/cache"
	"financeiro/backend/internal/config"
	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/httpapi"
	"financeiro/backend/internal/sales"
	"financeiro/backend/internal/service"
	"financeiro/backend/internal/store"
	"financeiro/backend/internal/store/memory"
	pgstore "financeiro/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	secret, generated, err := validateSecurityConfig(cfg)
	if err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	if generated {
		logger.Warn("AUTH_SECRET not set; using a random per-process secret, tokens will not survive a restart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	var salesSource sales.Source
	if cfg.SalesDatabaseURL != "" {
		legacy, err := sales.OpenLegacy(cfg.SalesDatabaseURL, logger)
		if err != nil {
			logger.Fatal("sales database unavailable", zap.Error(err))
		}
		if err := legacy.Ping(ctx); err != nil {
			logger.Warn("sales database ping failed; closings will report it as unavailable", zap.Error(err))
		}
		salesSource = legacy
		closers = append(closers, legacy.Close)
		logger.Info("sales source: legacy database")
	} else {
		salesSource = demoSales(time.Now().UTC())
		logger.Info("sales source: static demo data")
	}

	var cacheStore cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: in-process")
	}

	svc := service.New(repo, salesSource,
		service.WithCache(cacheStore, time.Duration(cfg.CacheTTLSeconds)*time.Second),
		service.WithLogger(logger.Named("service")),
		service.WithStrictFees(cfg.StrictFeeConfig),
	)
	auth, err := httpapi.NewAuthManager(secret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger.Named("auth"))
	if err != nil {
		logger.Fatal("auth manager", zap.Error(err))
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("financial back-office listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// validateSecurityConfig returns the token signing secret. Outside production
// an unset AUTH_SECRET is replaced by a random one; the second return value
// reports that.
func validateSecurityConfig(cfg config.Config) (string, bool, error) {
	if cfg.Production() {
		if len(cfg.AuthSecret) < 32 {
			return "", false, errors.New("AUTH_SECRET must be set and at least 32 characters")
		}
		if cfg.DatabaseURL == "" {
			return "", false, errors.New("DATABASE_URL is required in production")
		}
		return cfg.AuthSecret, false, nil
	}
	if cfg.AuthSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", false, fmt.Errorf("generate auth secret: %w", err)
		}
		return hex.EncodeToString(buf), true, nil
	}
	if len(cfg.AuthSecret) < 32 {
		return "", false, errors.New("AUTH_SECRET must be at least 32 characters")
	}
	return cfg.AuthSecret, false, nil
}

// demoSales feeds store 1 with last month's card and PIX totals so a fresh
// in-memory instance can run a closing end to end.
func demoSales(now time.Time) *sales.StaticSource {
	src := sales.NewStaticSource()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	src.Set(1, int(prev.Month()), prev.Year(), []domain.SalesTransactionGroup{
		{PaymentTypeRaw: "Cartão de Débito", Installments: 1, GrossAmount: decimal.RequireFromString("18450.30")},
		{PaymentTypeRaw: "Crédito à vista", BrandRaw: "Visa", Installments: 1, GrossAmount: decimal.RequireFromString("26310.00")},
		{PaymentTypeRaw: "Crédito à vista", BrandRaw: "Elo", Installments: 1, GrossAmount: decimal.RequireFromString("4120.75")},
		{PaymentTypeRaw: "PIX", Installments: 1, GrossAmount: decimal.RequireFromString("9870.10")},
	})
	return src
}
