package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"boutique/backend/internal/domain"
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

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  mustHashPassword(t, "admin123"),
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Caisse2",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "caisse2" || cashier.Role != domain.RoleCashier {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "caisse2" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected cashier to be saved")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "caisse2", Password: "pass1234"}); err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}

	cashiers := manager.ListCashiers(context.Background())
	if len(cashiers) != 1 || cashiers[0].Username != "caisse2" {
		t.Fatalf("expected only the cashier in the list, got %+v", cashiers)
	}
}

func TestCreateCashierRejectsWeakInput(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})

	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "pass1234"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "caisse", Password: "123"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if _, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "ma caisse", Password: "pass1234"}); err == nil {
		t.Fatalf("expected username with spaces to be rejected")
	}
}

func TestEnsureAdminOnlyBootstrapsOnce(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store)

	created, err := manager.EnsureAdmin(context.Background(), "Patron", "first-pass-1")
	if err != nil || !created {
		t.Fatalf("expected admin to be created, created=%v err=%v", created, err)
	}
	created, err = manager.EnsureAdmin(context.Background(), "patron", "second-pass-2")
	if err != nil || created {
		t.Fatalf("expected existing admin to be kept, created=%v err=%v", created, err)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "patron", Password: "first-pass-1"}); err != nil {
		t.Fatalf("expected original admin password to work: %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "patron", Password: "second-pass-2"}); err == nil {
		t.Fatalf("expected bootstrap not to overwrite the admin password")
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	store := &userStoreStub{}
	issuer := NewAuthManager("secret-one", time.Hour, store)
	if _, err := issuer.EnsureAdmin(context.Background(), "admin", "admin123"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := issuer.ParseToken(resp.AccessToken)
	if err != nil || actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v err=%v", actor, err)
	}

	other := NewAuthManager("secret-two", time.Hour, store)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}
