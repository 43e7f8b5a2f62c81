package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
	"financeiro/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables owned by this service when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, accounting_code, active
		FROM categories
		WHERE ($1 = false OR active = true)
		ORDER BY name, id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountingCode, &c.Active); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, accounting_code, active
		FROM categories
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.AccountingCode, &c.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name, accounting_code, active)
		VALUES ($1,$2,$3)
		RETURNING id
	`, category.Name, category.AccountingCode, category.Active).Scan(&category.ID)
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $2, accounting_code = $3, active = $4
		WHERE id = $1
	`, category.ID, category.Name, category.AccountingCode, category.Active)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return &category, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrInUse
		}
		return err
	}
	return expectAffected(res)
}

func (s *Store) CountPayablesByCategory(ctx context.Context, categoryID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payables WHERE category_id = $1`, categoryID).Scan(&count)
	return count, err
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, legal_name, tax_id
		FROM suppliers
		ORDER BY legal_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.LegalName, &supplier.TaxID); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, id int64) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, legal_name, tax_id FROM suppliers WHERE id = $1
	`, id).Scan(&supplier.ID, &supplier.LegalName, &supplier.TaxID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.LegalName = strings.TrimSpace(supplier.LegalName)
	supplier.TaxID = strings.TrimSpace(supplier.TaxID)
	if supplier.LegalName == "" || supplier.TaxID == "" {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO suppliers (legal_name, tax_id)
		VALUES ($1,$2)
		RETURNING id
	`, supplier.LegalName, supplier.TaxID).Scan(&supplier.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListBankAccounts(ctx context.Context, storeID int64) ([]domain.BankAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, bank_code, branch, account_number, store_id, current_balance, active
		FROM bank_accounts
		WHERE ($1 = 0 OR store_id = $1)
		ORDER BY store_id ASC, name ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.BankAccount, 0, 4)
	for rows.Next() {
		account, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) GetBankAccount(ctx context.Context, id int64) (*domain.BankAccount, error) {
	account, err := scanBankAccount(s.db.QueryRowContext(ctx, `
		SELECT id, name, bank_code, branch, account_number, store_id, current_balance, active
		FROM bank_accounts WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) CreateBankAccount(ctx context.Context, account domain.BankAccount) (*domain.BankAccount, error) {
	account.Name = strings.TrimSpace(account.Name)
	if account.Name == "" || account.StoreID < 1 {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bank_accounts (name, bank_code, branch, account_number, store_id, current_balance, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, account.Name, account.BankCode, account.Branch, account.AccountNumber,
		account.StoreID, account.CurrentBalance, account.Active,
	).Scan(&account.ID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func scanBankAccount(row rowScanner) (domain.BankAccount, error) {
	var a domain.BankAccount
	err := row.Scan(&a.ID, &a.Name, &a.BankCode, &a.Branch, &a.AccountNumber, &a.StoreID, &a.CurrentBalance, &a.Active)
	return a, err
}

const payableColumns = `
	id, description, store_id, supplier_id, source_account_id, category_id,
	gross_amount, discount_amount, surcharge_amount, net_amount,
	competency_date, due_date, payment_date, status, created_by, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayable(row rowScanner) (domain.Payable, error) {
	var (
		p           domain.Payable
		supplierID  sql.NullInt64
		accountID   sql.NullInt64
		paymentDate sql.NullTime
		status      string
	)
	err := row.Scan(
		&p.ID, &p.Description, &p.StoreID, &supplierID, &accountID, &p.CategoryID,
		&p.GrossAmount, &p.DiscountAmount, &p.SurchargeAmount, &p.NetAmount,
		&p.CompetencyDate, &p.DueDate, &paymentDate, &status, &p.CreatedBy, &p.CreatedAt,
	)
	if err != nil {
		return domain.Payable{}, err
	}
	if supplierID.Valid {
		id := supplierID.Int64
		p.SupplierID = &id
	}
	if accountID.Valid {
		id := accountID.Int64
		p.SourceAccountID = &id
	}
	if paymentDate.Valid {
		at := paymentDate.Time.UTC()
		p.PaymentDate = &at
	}
	p.Status = domain.PayableStatus(status)
	p.CompetencyDate = p.CompetencyDate.UTC()
	p.DueDate = p.DueDate.UTC()
	return p, nil
}

func (s *Store) ListPayables(ctx context.Context, filter domain.PayableFilter) ([]domain.Payable, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}

	var from, to any
	if filter.Month > 0 && filter.Year > 0 {
		f, t := store.MonthRange(filter.Month, filter.Year)
		from, to = f, t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+payableColumns+`
		FROM payables
		WHERE ($1 = 0 OR store_id = $1)
			AND ($2::date IS NULL OR competency_date >= $2::date)
			AND ($3::date IS NULL OR competency_date < $3::date)
			AND ($4 = '' OR status = $4)
		ORDER BY due_date ASC, id ASC
		LIMIT $5
	`, filter.StoreID, from, to, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payables := make([]domain.Payable, 0, 32)
	for rows.Next() {
		p, err := scanPayable(rows)
		if err != nil {
			return nil, err
		}
		payables = append(payables, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payables, nil
}

func (s *Store) GetPayable(ctx context.Context, id int64) (*domain.Payable, error) {
	p, err := scanPayable(s.db.QueryRowContext(ctx, `SELECT `+payableColumns+` FROM payables WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreatePayable(ctx context.Context, payable domain.Payable) (*domain.Payable, error) {
	if err := validatePayable(payable); err != nil {
		return nil, err
	}
	payable.ComputeNet()
	if payable.Status == "" {
		payable.Status = domain.PayablePlanned
	}
	if payable.CreatedAt.IsZero() {
		payable.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payables (
			description, store_id, supplier_id, source_account_id, category_id,
			gross_amount, discount_amount, surcharge_amount, net_amount,
			competency_date, due_date, payment_date, status, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`,
		payable.Description, payable.StoreID, nullInt64(payable.SupplierID), nullInt64(payable.SourceAccountID), payable.CategoryID,
		payable.GrossAmount, payable.DiscountAmount, payable.SurchargeAmount, payable.NetAmount,
		dateUTC(payable.CompetencyDate), dateUTC(payable.DueDate), nullDate(payable.PaymentDate),
		string(payable.Status), payable.CreatedBy, payable.CreatedAt,
	).Scan(&payable.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrInvalidReference
		}
		return nil, err
	}
	return &payable, nil
}

func (s *Store) UpdatePayable(ctx context.Context, payable domain.Payable) (*domain.Payable, error) {
	if err := validatePayable(payable); err != nil {
		return nil, err
	}
	payable.ComputeNet()

	updated, err := scanPayable(s.db.QueryRowContext(ctx, `
		UPDATE payables
		SET description = $2, store_id = $3, supplier_id = $4, source_account_id = $5, category_id = $6,
			gross_amount = $7, discount_amount = $8, surcharge_amount = $9, net_amount = $10,
			competency_date = $11, due_date = $12, payment_date = $13, status = $14
		WHERE id = $1
		RETURNING `+payableColumns,
		payable.ID, payable.Description, payable.StoreID, nullInt64(payable.SupplierID), nullInt64(payable.SourceAccountID), payable.CategoryID,
		payable.GrossAmount, payable.DiscountAmount, payable.SurchargeAmount, payable.NetAmount,
		dateUTC(payable.CompetencyDate), dateUTC(payable.DueDate), nullDate(payable.PaymentDate),
		string(payable.Status),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrInvalidReference
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeletePayable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payables WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) SumExpenses(ctx context.Context, storeID int64, month int, year int) (decimal.Decimal, error) {
	from, to := store.MonthRange(month, year)

	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM payables
		WHERE store_id = $1
			AND competency_date >= $2
			AND competency_date < $3
			AND status <> $4
	`, storeID, from, to, string(domain.PayableCancelled)).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) ListFeeProfiles(ctx context.Context, storeID int64, activeOnly bool) ([]domain.FeeProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, store_id, valid_from, valid_until, active
		FROM fee_profiles
		WHERE ($1 = 0 OR store_id = $1)
			AND ($2 = false OR active = true)
		ORDER BY valid_from DESC, id DESC
	`, storeID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]domain.FeeProfile, 0, 8)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			p          domain.FeeProfile
			validUntil sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.StoreID, &p.ValidFrom, &validUntil, &p.Active); err != nil {
			return nil, err
		}
		p.ValidFrom = p.ValidFrom.UTC()
		if validUntil.Valid {
			until := validUntil.Time.UTC()
			p.ValidUntil = &until
		}
		p.Rates = []domain.FeeRate{}
		index[p.ID] = len(profiles)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return profiles, nil
	}

	rateRows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.profile_id, r.payment_type, r.brand, r.installments_from, r.installments_to,
			r.percentage, r.fixed_amount, r.settlement_days
		FROM fee_rates r
		JOIN fee_profiles p ON p.id = r.profile_id
		WHERE ($1 = 0 OR p.store_id = $1)
			AND ($2 = false OR p.active = true)
		ORDER BY r.id ASC
	`, storeID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rateRows.Close()

	for rateRows.Next() {
		var (
			rate        domain.FeeRate
			paymentType string
		)
		if err := rateRows.Scan(&rate.ID, &rate.ProfileID, &paymentType, &rate.Brand, &rate.InstallmentsFrom, &rate.InstallmentsTo,
			&rate.Percentage, &rate.FixedAmount, &rate.SettlementDays); err != nil {
			return nil, err
		}
		rate.Type = domain.PaymentType(paymentType)
		if i, ok := index[rate.ProfileID]; ok {
			profiles[i].Rates = append(profiles[i].Rates, rate)
		}
	}
	if err := rateRows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *Store) CreateFeeProfile(ctx context.Context, profile domain.FeeProfile) (*domain.FeeProfile, error) {
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" || profile.StoreID < 1 || profile.ValidFrom.IsZero() {
		return nil, store.ErrInvalidInput
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	err = dbTx.QueryRowContext(ctx, `
		INSERT INTO fee_profiles (name, store_id, valid_from, valid_until, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, profile.Name, profile.StoreID, dateUTC(profile.ValidFrom), nullDate(profile.ValidUntil), profile.Active).Scan(&profile.ID)
	if err != nil {
		return nil, err
	}

	rates := make([]domain.FeeRate, 0, len(profile.Rates))
	for _, rate := range profile.Rates {
		rate.ProfileID = profile.ID
		err := dbTx.QueryRowContext(ctx, `
			INSERT INTO fee_rates (
				profile_id, payment_type, brand, installments_from, installments_to,
				percentage, fixed_amount, settlement_days
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id
		`, rate.ProfileID, string(rate.Type), rate.Brand, rate.InstallmentsFrom, rate.InstallmentsTo,
			rate.Percentage, rate.FixedAmount, rate.SettlementDays).Scan(&rate.ID)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	profile.Rates = rates

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) SetFeeProfileActive(ctx context.Context, id int64, active bool) (*domain.FeeProfile, error) {
	var storeID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE fee_profiles SET active = $2 WHERE id = $1 RETURNING store_id
	`, id, active).Scan(&storeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	profiles, err := s.ListFeeProfiles(ctx, storeID, false)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

// FindFeeRule returns the first matching rate of the store's active profiles,
// newest profile first.
func (s *Store) FindFeeRule(ctx context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error) {
	var rule domain.FeeRule
	err := s.db.QueryRowContext(ctx, `
		SELECT r.percentage, r.fixed_amount
		FROM fee_rates r
		JOIN fee_profiles p ON p.id = r.profile_id
		WHERE p.store_id = $1
			AND p.active = true
			AND r.payment_type = $2
			AND r.brand = $3
		ORDER BY p.valid_from DESC, p.id DESC, r.id ASC
		LIMIT 1
	`, storeID, string(paymentType), brand).Scan(&rule.Percentage, &rule.FixedAmount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FeeRule{}, false, nil
		}
		return domain.FeeRule{}, false, err
	}
	return rule, true, nil
}

const closingColumns = `
	store_id, month, year, gross_revenue, total_fees, net_revenue,
	total_expenses, operating_result, status, snapshot, updated_at
`

func scanClosing(row rowScanner, extra ...any) (domain.ClosingRecord, error) {
	var (
		record   domain.ClosingRecord
		status   string
		snapshot []byte
	)
	dest := []any{
		&record.StoreID, &record.Month, &record.Year, &record.GrossRevenue, &record.TotalFees, &record.NetRevenue,
		&record.TotalExpenses, &record.OperatingResult, &status, &snapshot, &record.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.ClosingRecord{}, err
	}
	record.Status = domain.ClosingStatus(status)
	if len(snapshot) > 0 && string(snapshot) != "{}" {
		var parsed domain.AuditSnapshot
		if err := json.Unmarshal(snapshot, &parsed); err != nil {
			return domain.ClosingRecord{}, fmt.Errorf("decode closing snapshot: %w", err)
		}
		record.Snapshot = &parsed
	}
	return record, nil
}

func (s *Store) GetClosing(ctx context.Context, storeID int64, month int, year int) (*domain.ClosingRecord, error) {
	record, err := scanClosing(s.db.QueryRowContext(ctx, `
		SELECT `+closingColumns+`
		FROM closings
		WHERE store_id = $1 AND month = $2 AND year = $3
	`, storeID, month, year))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListClosings(ctx context.Context, storeID int64, year int) ([]domain.ClosingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, month, year, gross_revenue, total_fees, net_revenue,
			total_expenses, operating_result, status, '{}'::jsonb, updated_at
		FROM closings
		WHERE ($1 = 0 OR store_id = $1)
			AND ($2 = 0 OR year = $2)
		ORDER BY store_id, year, month
	`, storeID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ClosingRecord, 0, 12)
	for rows.Next() {
		record, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertClosing writes the closing of a (store, month, year) in a single
// statement; concurrent writers for the same period leave exactly one row and
// the last one wins. The returned flag reports whether the row was inserted.
func (s *Store) UpsertClosing(ctx context.Context, record domain.ClosingRecord) (*domain.ClosingRecord, bool, error) {
	if record.StoreID < 1 || record.Month < 1 || record.Month > 12 || record.Year < 1 {
		return nil, false, store.ErrInvalidInput
	}

	snapshot := []byte("{}")
	if record.Snapshot != nil {
		encoded, err := json.Marshal(record.Snapshot)
		if err != nil {
			return nil, false, err
		}
		snapshot = encoded
	}

	var inserted bool
	saved, err := scanClosing(s.db.QueryRowContext(ctx, `
		INSERT INTO closings (
			store_id, month, year, gross_revenue, total_fees, net_revenue,
			total_expenses, operating_result, status, snapshot, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (store_id, month, year)
		DO UPDATE SET
			gross_revenue = EXCLUDED.gross_revenue,
			total_fees = EXCLUDED.total_fees,
			net_revenue = EXCLUDED.net_revenue,
			total_expenses = EXCLUDED.total_expenses,
			operating_result = EXCLUDED.operating_result,
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = now()
		RETURNING `+closingColumns+`, (xmax = 0) AS inserted
	`,
		record.StoreID, record.Month, record.Year, record.GrossRevenue, record.TotalFees, record.NetRevenue,
		record.TotalExpenses, record.OperatingResult, string(domain.ClosingOpen), snapshot,
	), &inserted)
	if err != nil {
		return nil, false, err
	}
	return &saved, inserted, nil
}

func (s *Store) SetClosingStatus(ctx context.Context, storeID int64, month int, year int, status domain.ClosingStatus) (*domain.ClosingRecord, error) {
	record, err := scanClosing(s.db.QueryRowContext(ctx, `
		UPDATE closings
		SET status = $4, updated_at = now()
		WHERE store_id = $1 AND month = $2 AND year = $3
		RETURNING `+closingColumns,
		storeID, month, year, string(status),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, before_data, after_data, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID,
		nullJSON(entry.Before), nullJSON(entry.After), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, before_data, after_data, created_at
		FROM audit_logs
		WHERE ($1 = 0 OR store_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var (
			entry         domain.AuditLog
			before, after []byte
		)
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &before, &after, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if len(before) > 0 {
			entry.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			entry.After = json.RawMessage(after)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	for _, storeID := range user.StoreIDs {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO app_user_stores (username, store_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, user.Username, storeID); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, u.password, u.role, u.active, u.created_at,
			COALESCE(string_agg(us.store_id::text, ',' ORDER BY us.store_id), '')
		FROM app_users u
		LEFT JOIN app_user_stores us ON us.username = u.username
		GROUP BY u.username, u.password, u.role, u.active, u.created_at
		ORDER BY u.username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var (
			user   domain.UserAccount
			stores string
		)
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt, &stores); err != nil {
			return nil, err
		}
		user.StoreIDs, err = parseStoreIDs(stores)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2, updated_at = now() WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func validatePayable(p domain.Payable) error {
	if strings.TrimSpace(p.Description) == "" || p.StoreID < 1 || p.CategoryID < 1 {
		return store.ErrInvalidInput
	}
	if p.GrossAmount.IsNegative() || p.CompetencyDate.IsZero() || p.DueDate.IsZero() {
		return store.ErrInvalidInput
	}
	return nil
}

func parseStoreIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse store id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(*val)
}

func nullJSON(val json.RawMessage) any {
	if len(val) == 0 {
		return nil
	}
	return []byte(val)
}
