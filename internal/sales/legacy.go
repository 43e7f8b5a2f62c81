package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"financeiro/backend/internal/domain"
)

// revenueQuery sums both payment slots of every valid sale of a store in
// [from, to), grouped by payment form and brand. Ignored sales and sales with
// a reversal are left out. The legacy schema has no installments column.
const revenueQuery = `
	WITH valid_sales AS (
		SELECT v.id
		FROM vendas_venda v
		LEFT JOIN vendas_estorno e ON v.id = e.venda_id
		WHERE v.loja_id = ?
			AND v.data_venda >= ?
			AND v.data_venda < ?
			AND v.ignorar_faturamento = FALSE
			AND e.id IS NULL
	),
	payments AS (
		SELECT v.forma_pagamento AS form,
			COALESCE(v.subtipo_pagamento_1, ?) AS brand,
			v.valor_pagamento_1 AS amount
		FROM vendas_venda v
		JOIN valid_sales vs ON v.id = vs.id
		WHERE v.valor_pagamento_1 > 0

		UNION ALL

		SELECT v.forma_pagamento_2 AS form,
			COALESCE(v.subtipo_pagamento_2, ?) AS brand,
			v.valor_pagamento_2 AS amount
		FROM vendas_venda v
		JOIN valid_sales vs ON v.id = vs.id
		WHERE v.valor_pagamento_2 > 0
	)
	SELECT COALESCE(form, '') AS form, brand, COALESCE(SUM(amount), 0) AS total
	FROM payments
	GROUP BY form, brand
	ORDER BY form, brand
`

type revenueRow struct {
	Form  string
	Brand string
	Total decimal.Decimal
}

// LegacySource reads the legacy sales database through GORM raw queries.
type LegacySource struct {
	db     *gorm.DB
	logger *zap.Logger
}

func OpenLegacy(dsn string, logger *zap.Logger) (*LegacySource, error) {
	return openLegacy(dsn, logger, &gorm.Config{})
}

func openLegacy(dsn string, logger *zap.Logger, cfg *gorm.Config) (*LegacySource, error) {
	cfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewLegacySource(db, logger), nil
}

func NewLegacySource(db *gorm.DB, logger *zap.Logger) *LegacySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LegacySource{db: db, logger: logger}
}

func (s *LegacySource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *LegacySource) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *LegacySource) RevenueGroups(ctx context.Context, storeID int64, month int, year int) ([]domain.SalesTransactionGroup, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var rows []revenueRow
	err := s.db.WithContext(ctx).
		Raw(revenueQuery, storeID, from, to, domain.GeneralBrand, domain.GeneralBrand).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query legacy sales for store %d %02d/%d: %w", ErrUnavailable, storeID, month, year, err)
	}

	groups := make([]domain.SalesTransactionGroup, 0, len(rows))
	for _, row := range rows {
		s.logger.Debug("legacy revenue group",
			zap.Int64("store_id", storeID),
			zap.String("form", row.Form),
			zap.String("brand", row.Brand),
			zap.String("total", row.Total.StringFixed(2)),
		)
		groups = append(groups, domain.SalesTransactionGroup{
			PaymentTypeRaw: row.Form,
			BrandRaw:       row.Brand,
			Installments:   1,
			GrossAmount:    row.Total,
		})
	}
	return groups, nil
}

// Diagnosis summarises what the legacy database holds for a store.
type Diagnosis struct {
	StoreID    int64
	Month      int
	Year       int
	SaleCount  int64
	FirstSlot  decimal.Decimal
	FirstSale  *time.Time
	LatestSale *time.Time
}

// Diagnose counts a store's sales in a month and reports the overall date
// range of its sales, so an empty closing can be told apart from a wrong
// period or store.
func (s *LegacySource) Diagnose(ctx context.Context, storeID int64, month int, year int) (Diagnosis, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	d := Diagnosis{StoreID: storeID, Month: month, Year: year}

	var period struct {
		Count int64
		Total decimal.Decimal
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS count, COALESCE(SUM(valor_pagamento_1), 0) AS total
		FROM vendas_venda
		WHERE loja_id = ? AND data_venda >= ? AND data_venda < ?
	`, storeID, from, to).Scan(&period).Error
	if err != nil {
		return d, fmt.Errorf("%w: count legacy sales: %w", ErrUnavailable, err)
	}
	d.SaleCount = period.Count
	d.FirstSlot = period.Total

	var span struct {
		First  *time.Time
		Latest *time.Time
	}
	err = s.db.WithContext(ctx).Raw(`
		SELECT MIN(data_venda) AS first, MAX(data_venda) AS latest
		FROM vendas_venda
		WHERE loja_id = ?
	`, storeID).Scan(&span).Error
	if err != nil {
		return d, fmt.Errorf("%w: legacy sales date range: %w", ErrUnavailable, err)
	}
	d.FirstSale = span.First
	d.LatestSale = span.Latest
	return d, nil
}
