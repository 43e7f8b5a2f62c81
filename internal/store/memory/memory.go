package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
	"financeiro/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	nextID          int64
	categories      map[int64]domain.Category
	suppliers       map[int64]domain.Supplier
	bankAccounts    map[int64]domain.BankAccount
	payables        map[int64]domain.Payable
	feeProfiles     map[int64]domain.FeeProfile
	closings        map[string]domain.ClosingRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_VIEWER_PASSWORD; unset variables fall back to dev defaults with a
// warning. The postgres store never uses these accounts.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	viewerPwd := envOr("SEED_VIEWER_PASSWORD", "viewer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_VIEWER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_VIEWER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		stores   []int64
	}{
		{"admin", adminPwd, domain.RoleAdmin, []int64{1, 2}},
		{"manager", managerPwd, domain.RoleManager, []int64{1}},
		{"viewer", viewerPwd, domain.RoleViewer, []int64{2}},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreIDs:  u.stores,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		categories:      make(map[int64]domain.Category),
		suppliers:       make(map[int64]domain.Supplier),
		bankAccounts:    make(map[int64]domain.BankAccount),
		payables:        make(map[int64]domain.Payable),
		feeProfiles:     make(map[int64]domain.FeeProfile),
		closings:        make(map[string]domain.ClosingRecord),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users, categories, one supplier, a card
// fee profile and a bank account for store 1.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(logger.Named("memory-store"))

	for _, c := range []struct{ name, code string }{
		{"Rent", "3.1.01"},
		{"Electricity", "3.1.02"},
		{"Payroll", "3.2.01"},
		{"Supplies", "3.3.01"},
	} {
		s.nextID++
		s.categories[s.nextID] = domain.Category{ID: s.nextID, Name: c.name, AccountingCode: c.code, Active: true}
	}

	s.nextID++
	s.suppliers[s.nextID] = domain.Supplier{ID: s.nextID, LegalName: "Energia Distribuidora SA", TaxID: "12345678000199"}

	rates := []domain.FeeRate{
		{Type: domain.PaymentDebit, Brand: domain.GeneralBrand, Percentage: decimal.RequireFromString("1.50"), FixedAmount: decimal.RequireFromString("0.10"), SettlementDays: 1},
		{Type: domain.PaymentCreditSingle, Brand: "VISA", Percentage: decimal.RequireFromString("2.50"), FixedAmount: decimal.RequireFromString("0.20"), SettlementDays: 30},
		{Type: domain.PaymentCreditSingle, Brand: domain.GeneralBrand, Percentage: decimal.RequireFromString("2.99"), FixedAmount: decimal.Zero, SettlementDays: 30},
		{Type: domain.PaymentCreditInstallment, Brand: domain.GeneralBrand, InstallmentsFrom: 2, InstallmentsTo: 12, Percentage: decimal.RequireFromString("3.49"), FixedAmount: decimal.Zero, SettlementDays: 30},
		{Type: domain.PaymentPix, Brand: domain.GeneralBrand, Percentage: decimal.RequireFromString("0.99"), FixedAmount: decimal.Zero, SettlementDays: 0},
	}
	_, _ = s.CreateFeeProfile(context.Background(), domain.FeeProfile{
		Name:      "Acquirer contract 2024",
		StoreID:   1,
		ValidFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:    true,
		Rates:     rates,
	})

	_, _ = s.CreateBankAccount(context.Background(), domain.BankAccount{
		Name:           "Operating account store 1",
		BankCode:       "237",
		Branch:         "0001",
		AccountNumber:  "12345-6",
		StoreID:        1,
		CurrentBalance: decimal.RequireFromString("15000.00"),
		Active:         true,
	})

	return s
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) ListCategories(_ context.Context, activeOnly bool) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if activeOnly && !c.Active {
			continue
		}
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Category) int {
		if n := cmp.Compare(a.Name, b.Name); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	category.ID = s.newID()
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[category.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.categories[category.ID] = category
	return &category, nil
}

func (s *Store) DeleteCategory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	for _, p := range s.payables {
		if p.CategoryID == id {
			return store.ErrInUse
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) CountPayablesByCategory(_ context.Context, categoryID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.payables {
		if p.CategoryID == categoryID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmp.Compare(a.LegalName, b.LegalName)
	})
	return suppliers, nil
}

func (s *Store) GetSupplier(_ context.Context, id int64) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.LegalName = strings.TrimSpace(supplier.LegalName)
	supplier.TaxID = strings.TrimSpace(supplier.TaxID)
	if supplier.LegalName == "" || supplier.TaxID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.suppliers {
		if existing.TaxID == supplier.TaxID {
			return nil, store.ErrInvalidInput
		}
	}
	supplier.ID = s.newID()
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListBankAccounts(_ context.Context, storeID int64) ([]domain.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]domain.BankAccount, 0, 4)
	for _, account := range s.bankAccounts {
		if storeID > 0 && account.StoreID != storeID {
			continue
		}
		accounts = append(accounts, account)
	}
	slices.SortFunc(accounts, func(a, b domain.BankAccount) int {
		if n := cmp.Compare(a.StoreID, b.StoreID); n != 0 {
			return n
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return accounts, nil
}

func (s *Store) GetBankAccount(_ context.Context, id int64) (*domain.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.bankAccounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) CreateBankAccount(_ context.Context, account domain.BankAccount) (*domain.BankAccount, error) {
	account.Name = strings.TrimSpace(account.Name)
	if account.Name == "" || account.StoreID < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account.ID = s.newID()
	s.bankAccounts[account.ID] = account
	return &account, nil
}

func (s *Store) ListPayables(_ context.Context, filter domain.PayableFilter) ([]domain.Payable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var from, to time.Time
	if filter.Month > 0 && filter.Year > 0 {
		from, to = store.MonthRange(filter.Month, filter.Year)
	}

	result := make([]domain.Payable, 0, 32)
	for _, p := range s.payables {
		if filter.StoreID > 0 && p.StoreID != filter.StoreID {
			continue
		}
		if !from.IsZero() && (p.CompetencyDate.Before(from) || !p.CompetencyDate.Before(to)) {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		result = append(result, clonePayable(p))
	}
	slices.SortFunc(result, func(a, b domain.Payable) int {
		if n := a.DueDate.Compare(b.DueDate); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetPayable(_ context.Context, id int64) (*domain.Payable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePayable(p)
	return &out, nil
}

func (s *Store) CreatePayable(_ context.Context, payable domain.Payable) (*domain.Payable, error) {
	if err := validatePayable(payable); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReferences(payable); err != nil {
		return nil, err
	}
	payable.ID = s.newID()
	payable.ComputeNet()
	if payable.Status == "" {
		payable.Status = domain.PayablePlanned
	}
	if payable.CreatedAt.IsZero() {
		payable.CreatedAt = time.Now().UTC()
	}
	s.payables[payable.ID] = clonePayable(payable)
	return &payable, nil
}

func (s *Store) UpdatePayable(_ context.Context, payable domain.Payable) (*domain.Payable, error) {
	if err := validatePayable(payable); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.payables[payable.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkReferences(payable); err != nil {
		return nil, err
	}
	payable.ComputeNet()
	payable.CreatedAt = existing.CreatedAt
	payable.CreatedBy = existing.CreatedBy
	s.payables[payable.ID] = clonePayable(payable)
	return &payable, nil
}

func (s *Store) DeletePayable(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payables[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.payables, id)
	return nil
}

func (s *Store) SumExpenses(_ context.Context, storeID int64, month int, year int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := store.MonthRange(month, year)
	total := decimal.Zero
	for _, p := range s.payables {
		if p.StoreID != storeID || p.Status == domain.PayableCancelled {
			continue
		}
		if p.CompetencyDate.Before(from) || !p.CompetencyDate.Before(to) {
			continue
		}
		total = total.Add(p.NetAmount)
	}
	return total, nil
}

func (s *Store) ListFeeProfiles(_ context.Context, storeID int64, activeOnly bool) ([]domain.FeeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FeeProfile, 0, len(s.feeProfiles))
	for _, profile := range s.sortedProfiles() {
		if storeID > 0 && profile.StoreID != storeID {
			continue
		}
		if activeOnly && !profile.Active {
			continue
		}
		result = append(result, cloneProfile(profile))
	}
	return result, nil
}

func (s *Store) CreateFeeProfile(_ context.Context, profile domain.FeeProfile) (*domain.FeeProfile, error) {
	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" || profile.StoreID < 1 || profile.ValidFrom.IsZero() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile.ID = s.newID()
	rates := make([]domain.FeeRate, 0, len(profile.Rates))
	for _, rate := range profile.Rates {
		rate.ID = s.newID()
		rate.ProfileID = profile.ID
		rates = append(rates, rate)
	}
	profile.Rates = rates
	s.feeProfiles[profile.ID] = profile
	out := cloneProfile(profile)
	return &out, nil
}

func (s *Store) SetFeeProfileActive(_ context.Context, id int64, active bool) (*domain.FeeProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.feeProfiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	profile.Active = active
	s.feeProfiles[id] = profile
	out := cloneProfile(profile)
	return &out, nil
}

// FindFeeRule returns the first matching rate of the store's active profiles,
// newest profile first.
func (s *Store) FindFeeRule(_ context.Context, storeID int64, paymentType domain.PaymentType, brand string) (domain.FeeRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, profile := range s.sortedProfiles() {
		if profile.StoreID != storeID || !profile.Active {
			continue
		}
		for _, rate := range profile.Rates {
			if rate.Type == paymentType && rate.Brand == brand {
				return rate.Rule(), true, nil
			}
		}
	}
	return domain.FeeRule{}, false, nil
}

func (s *Store) sortedProfiles() []domain.FeeProfile {
	profiles := make([]domain.FeeProfile, 0, len(s.feeProfiles))
	for _, p := range s.feeProfiles {
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b domain.FeeProfile) int {
		if n := b.ValidFrom.Compare(a.ValidFrom); n != 0 {
			return n
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return profiles
}

func (s *Store) GetClosing(_ context.Context, storeID int64, month int, year int) (*domain.ClosingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.closings[closingKey(storeID, month, year)]
	if !ok {
		return nil, store.ErrNotFound
	}
	record = cloneClosing(record)
	return &record, nil
}

func (s *Store) ListClosings(_ context.Context, storeID int64, year int) ([]domain.ClosingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ClosingRecord, 0, 12)
	for _, record := range s.closings {
		if storeID > 0 && record.StoreID != storeID {
			continue
		}
		if year > 0 && record.Year != year {
			continue
		}
		record.Snapshot = nil
		result = append(result, record)
	}
	slices.SortFunc(result, func(a, b domain.ClosingRecord) int {
		if n := cmp.Compare(a.StoreID, b.StoreID); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Year, b.Year); n != 0 {
			return n
		}
		return cmp.Compare(a.Month, b.Month)
	})
	return result, nil
}

func (s *Store) UpsertClosing(_ context.Context, record domain.ClosingRecord) (*domain.ClosingRecord, bool, error) {
	if record.StoreID < 1 || record.Month < 1 || record.Month > 12 || record.Year < 1 {
		return nil, false, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := closingKey(record.StoreID, record.Month, record.Year)
	_, exists := s.closings[key]
	record.Status = domain.ClosingOpen
	record.UpdatedAt = time.Now().UTC()
	s.closings[key] = cloneClosing(record)
	record = cloneClosing(record)
	return &record, !exists, nil
}

func (s *Store) SetClosingStatus(_ context.Context, storeID int64, month int, year int, status domain.ClosingStatus) (*domain.ClosingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := closingKey(storeID, month, year)
	record, ok := s.closings[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	s.closings[key] = record
	record = cloneClosing(record)
	return &record, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID > 0 && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmp.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleViewer
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// checkReferences must be called with s.mu held.
func (s *Store) checkReferences(p domain.Payable) error {
	if _, ok := s.categories[p.CategoryID]; !ok {
		return fmt.Errorf("%w: category %d", store.ErrInvalidReference, p.CategoryID)
	}
	if p.SupplierID != nil {
		if _, ok := s.suppliers[*p.SupplierID]; !ok {
			return fmt.Errorf("%w: supplier %d", store.ErrInvalidReference, *p.SupplierID)
		}
	}
	if p.SourceAccountID != nil {
		if _, ok := s.bankAccounts[*p.SourceAccountID]; !ok {
			return fmt.Errorf("%w: bank account %d", store.ErrInvalidReference, *p.SourceAccountID)
		}
	}
	return nil
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

func clonePayable(p domain.Payable) domain.Payable {
	if p.SupplierID != nil {
		id := *p.SupplierID
		p.SupplierID = &id
	}
	if p.SourceAccountID != nil {
		id := *p.SourceAccountID
		p.SourceAccountID = &id
	}
	if p.PaymentDate != nil {
		at := *p.PaymentDate
		p.PaymentDate = &at
	}
	return p
}

func cloneProfile(p domain.FeeProfile) domain.FeeProfile {
	p.Rates = slices.Clone(p.Rates)
	return p
}

func cloneClosing(r domain.ClosingRecord) domain.ClosingRecord {
	if r.Snapshot != nil {
		snapshot := *r.Snapshot
		snapshot.Items = slices.Clone(snapshot.Items)
		snapshot.UnmatchedFees = slices.Clone(snapshot.UnmatchedFees)
		r.Snapshot = &snapshot
	}
	return r
}

func closingKey(storeID int64, month int, year int) string {
	return fmt.Sprintf("%d:%04d-%02d", storeID, year, month)
}
