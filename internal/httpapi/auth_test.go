package httpapi

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// accountStore is an in-memory UserStore with a fixed branch list.
type accountStore struct {
	mu       sync.Mutex
	accounts map[string]domain.UserAccount
	branches []string
	rehashed int
}

func newAccountStore(accounts ...domain.UserAccount) *accountStore {
	s := &accountStore{accounts: make(map[string]domain.UserAccount), branches: []string{"main-branch", "north-branch"}}
	for _, account := range accounts {
		s.accounts[account.Username] = account
	}
	return s
}

func (s *accountStore) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[user.Username] = user
	return nil
}

func (s *accountStore) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, account)
	}
	return out, nil
}

func (s *accountStore) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.accounts[username]
	account.Password = password
	s.accounts[username] = account
	s.rehashed++
	return nil
}

func (s *accountStore) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	if !slices.Contains(s.branches, id) {
		return nil, store.ErrNotFound
	}
	return &domain.Branch{ID: id, Name: id}, nil
}

func (s *accountStore) account(username string) domain.UserAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[username]
}

func TestLoginRehashesPlainTextPasswordOnce(t *testing.T) {
	accounts := newAccountStore(domain.UserAccount{Username: "admin", Password: "admin123", Role: roleAdmin, Active: true})
	auth := NewAuthManager("test-secret", time.Hour, "482915", accounts)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if stored := accounts.account("admin").Password; !isPasswordHash(stored) {
		t.Fatalf("expected stored password to be rehashed, got %q", stored)
	}
	if accounts.rehashed != 1 {
		t.Fatalf("expected one rehash write, got %d", accounts.rehashed)
	}
}

func TestTokenCarriesBranchAssignment(t *testing.T) {
	accounts := newAccountStore(domain.UserAccount{
		Username: "desk", Password: mustHashPassword(t, "desk1234"), Role: roleCashier, Active: true,
		BranchIDs: []string{"north-branch"},
	})
	auth := NewAuthManager("test-secret", time.Hour, "482915", accounts)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "desk", Password: "desk1234"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !slices.Equal(resp.BranchIDs, []string{"north-branch"}) {
		t.Fatalf("expected login to report branch assignment, got %v", resp.BranchIDs)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.HomeBranch() != "north-branch" || actor.MayUseBranch("main-branch") {
		t.Fatalf("expected actor restricted to north, got %+v", actor)
	}
}

func TestCreateCashierValidatesBranches(t *testing.T) {
	accounts := newAccountStore()
	auth := NewAuthManager("test-secret", time.Hour, "482915", accounts)
	ctx := context.Background()

	_, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "desk", Password: "desk1234", BranchIDs: []string{"moon-branch"}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unknown branch to be a validation error, got %v", err)
	}

	cashier, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{
		Username:  "Desk",
		Password:  "desk1234",
		BranchIDs: []string{" north-branch", "north-branch", ""},
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if cashier.Username != "desk" || !slices.Equal(cashier.BranchIDs, []string{"north-branch"}) {
		t.Fatalf("unexpected cashier: %+v", cashier)
	}
	if stored := accounts.account("desk"); !strings.HasPrefix(stored.Password, "$2") || !slices.Equal(stored.BranchIDs, cashier.BranchIDs) {
		t.Fatalf("expected hashed password and branches persisted, got %+v", stored)
	}

	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "desk", Password: "other123"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected duplicate username to be rejected, got %v", err)
	}
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "abc", Password: "desk1234"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected short username to be rejected, got %v", err)
	}
}

func TestApproveReturn(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "482915", newAccountStore())
	session := domain.Session{BranchID: "main-branch", TerminalID: "T1"}
	cashier := domain.Actor{Username: "cashier", Role: roleCashier}

	if auth.ValidateManagerPIN("") || string(auth.pinHash) == "482915" {
		t.Fatalf("expected manager pin to be kept only as a hash")
	}
	if err := auth.ApproveReturn(cashier, session, "000000"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected wrong pin to be forbidden, got %v", err)
	}
	if err := auth.ApproveReturn(cashier, session, " 482915 "); err != nil {
		t.Fatalf("expected manager pin to approve, got %v", err)
	}
	if err := auth.ApproveReturn(domain.Actor{Username: "admin", Role: roleAdmin}, session, ""); err != nil {
		t.Fatalf("expected admin to approve without pin, got %v", err)
	}

	disabled := NewAuthManager("test-secret", time.Hour, "", newAccountStore())
	if err := disabled.ApproveReturn(cashier, session, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected approvals to fail without a configured pin, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	accounts := newAccountStore(domain.UserAccount{Username: "cashier", Password: "cashier123", Role: roleCashier, Active: true})
	issuer := NewAuthManager("secret-one", time.Hour, "482915", accounts)
	verifier := NewAuthManager("secret-two", time.Hour, "482915", accounts)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := issuer.ParseToken(resp.AccessToken); err != nil {
		t.Fatalf("expected issuer to accept its own token, got %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	accounts := newAccountStore(domain.UserAccount{Username: "former", Password: "former123", Role: roleCashier, Active: false})
	auth := NewAuthManager("test-secret", time.Hour, "482915", accounts)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "former123"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account to be refused, got %v", err)
	}
	if _, err := auth.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "wrong"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected wrong password to be invalid credentials, got %v", err)
	}
	if cashiers := auth.ListCashiers(context.Background()); len(cashiers) != 1 || cashiers[0].Active {
		t.Fatalf("expected inactive cashier to be listed as inactive, got %+v", cashiers)
	}
}
