package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errStoreNotAllowed    = fmt.Errorf("%w: store not assigned to user", store.ErrForbidden)
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	logger    *zap.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	stores   []int64
	active   bool
	created  time.Time
}

type financeClaims struct {
	jwtlib.RegisteredClaims
	Role          string `json:"role"`
	ActiveStoreID int64  `json:"active_store_id"`
}

// NewAuthManager signs HS256 tokens with secret, which must not be empty.
func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, logger *zap.Logger) (*AuthManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth secret must not be empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		logger:    logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}
	if len(cred.stores) == 0 {
		return domain.LoginResponse{}, errors.New("account has no store assigned")
	}

	return a.issue(username, cred.role, cred.stores[0])
}

// SwitchStore issues a fresh token whose active store is storeID.
func (a *AuthManager) SwitchStore(actor domain.Actor, storeID int64) (domain.LoginResponse, error) {
	a.mu.RLock()
	cred, ok := a.users[actor.Username]
	a.mu.RUnlock()
	if !ok || !cred.active {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !slices.Contains(cred.stores, storeID) {
		return domain.LoginResponse{}, errStoreNotAllowed
	}
	return a.issue(actor.Username, cred.role, storeID)
}

func (a *AuthManager) Me(actor domain.Actor) domain.MeResponse {
	a.mu.RLock()
	cred := a.users[actor.Username]
	a.mu.RUnlock()
	return domain.MeResponse{
		Username:      actor.Username,
		Role:          actor.Role,
		StoreIDs:      slices.Clone(cred.stores),
		ActiveStoreID: actor.ActiveStoreID,
	}
}

func (a *AuthManager) issue(username string, role string, storeID int64) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, role, storeID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken:   token,
		Role:          role,
		ActiveStoreID: storeID,
		ExpiresAt:     expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &financeClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role, ActiveStoreID: claims.ActiveStoreID}, nil
}

func (a *AuthManager) sign(username string, role string, storeID int64, expiresAt time.Time) (string, error) {
	claims := financeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "financeiro",
		},
		Role:          role,
		ActiveStoreID: storeID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserView, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserView{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserView{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return domain.UserView{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != domain.RoleAdmin && role != domain.RoleManager && role != domain.RoleViewer {
		return domain.UserView{}, fmt.Errorf("%w: unknown role %q", store.ErrInvalidInput, req.Role)
	}
	stores := normalizeStoreIDs(req.StoreIDs)
	if len(stores) == 0 {
		return domain.UserView{}, fmt.Errorf("%w: at least one store is required", store.ErrInvalidInput)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserView{}, fmt.Errorf("%w: username already exists", store.ErrInvalidInput)
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("failed to hash password: %w", err)
	}

	if a.userStore != nil {
		err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  passwordHash,
			Role:      role,
			StoreIDs:  stores,
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			return domain.UserView{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		role:     role,
		stores:   stores,
		active:   true,
		created:  now,
	}
	a.mu.Unlock()

	return domain.UserView{Username: username, Role: role, StoreIDs: stores, Active: true, CreatedAt: now}, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserView {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserView, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.UserView{
			Username:  username,
			Role:      user.role,
			StoreIDs:  slices.Clone(user.stores),
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. Plain-text passwords found in the store are replaced by
// bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("failed to load users", zap.Error(err))
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					a.logger.Warn("failed to upgrade plain-text password", zap.String("username", username), zap.Error(err))
				}
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			stores:   normalizeStoreIDs(user.StoreIDs),
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func normalizeStoreIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
