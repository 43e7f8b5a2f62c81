package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func newStubWithAdmin() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				StoreIDs:  []int64{2, 1},
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func mustAuthManager(t *testing.T, users UserStore) *AuthManager {
	t.Helper()
	manager, err := NewAuthManager("test-secret-with-enough-length-0001", time.Hour, users, nil)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	return manager
}

func TestNewAuthManagerRejectsEmptySecret(t *testing.T) {
	if _, err := NewAuthManager("  ", time.Hour, nil, nil); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := newStubWithAdmin()

	manager := mustAuthManager(t, users)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 user, got %d", len(stored))
	}
	if stored[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(stored[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", stored[0].Password)
	}
}

func TestLoginTokenCarriesLowestStoreAsActive(t *testing.T) {
	manager := mustAuthManager(t, newStubWithAdmin())

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ADMIN ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.ActiveStoreID != 1 {
		t.Fatalf("expected active store 1, got %d", resp.ActiveStoreID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin || actor.ActiveStoreID != 1 {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestSwitchStoreOnlyToAssignedStores(t *testing.T) {
	manager := mustAuthManager(t, newStubWithAdmin())
	actor := domain.Actor{Username: "admin", Role: domain.RoleAdmin, ActiveStoreID: 1}

	resp, err := manager.SwitchStore(actor, 2)
	if err != nil {
		t.Fatalf("switch store: %v", err)
	}
	switched, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if switched.ActiveStoreID != 2 {
		t.Fatalf("expected active store 2, got %d", switched.ActiveStoreID)
	}

	if _, err := manager.SwitchStore(actor, 9); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden for unassigned store, got %v", err)
	}

	me := manager.Me(switched)
	if len(me.StoreIDs) != 2 || me.ActiveStoreID != 2 {
		t.Fatalf("unexpected me response %+v", me)
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	issuer := mustAuthManager(t, newStubWithAdmin())
	other, err := NewAuthManager("another-secret-with-enough-length-02", time.Hour, newStubWithAdmin(), nil)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	users := newStubWithAdmin()
	manager := mustAuthManager(t, users)

	created, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "gerente",
		Password: "pass1234",
		Role:     domain.RoleManager,
		StoreIDs: []int64{3, 3, 1},
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Username != "gerente" {
		t.Fatalf("unexpected username %s", created.Username)
	}
	if len(created.StoreIDs) != 2 || created.StoreIDs[0] != 1 || created.StoreIDs[1] != 3 {
		t.Fatalf("expected deduplicated sorted stores, got %v", created.StoreIDs)
	}

	stored, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range stored {
		if stored[i].Username == "gerente" {
			found = &stored[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected user to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "gerente", Password: "pass1234"}); err != nil {
		t.Fatalf("login with created user failed: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	manager := mustAuthManager(t, newStubWithAdmin())
	cases := []domain.UserCreateRequest{
		{Username: "ab", Password: "pass1234", Role: domain.RoleViewer, StoreIDs: []int64{1}},
		{Username: "viewer2", Password: "short", Role: domain.RoleViewer, StoreIDs: []int64{1}},
		{Username: "viewer2", Password: "pass1234", Role: "cashier", StoreIDs: []int64{1}},
		{Username: "viewer2", Password: "pass1234", Role: domain.RoleViewer},
		{Username: "admin", Password: "pass1234", Role: domain.RoleViewer, StoreIDs: []int64{1}},
	}
	for i, req := range cases {
		if _, err := manager.CreateUser(context.Background(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	users := newStubWithAdmin()
	hashed, err := hashPassword("viewer123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users.users["viewer"] = domain.UserAccount{
		Username: "viewer",
		Password: hashed,
		Role:     domain.RoleViewer,
		StoreIDs: []int64{1},
		Active:   false,
	}
	manager := mustAuthManager(t, users)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "viewer", Password: "viewer123"}); err == nil {
		t.Fatalf("expected inactive user login to fail")
	}
}
