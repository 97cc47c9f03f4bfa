package httpapi

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

const (
	roleAdmin   = "admin"
	roleCashier = "cashier"

	tokenIssuer = "retailpos"

	// userStoreTimeout bounds each reload of operator accounts.
	userStoreTimeout = 3 * time.Second
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// UserStore persists operator accounts. GetBranch validates the branches a
// new cashier is assigned to.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
}

// AuthManager signs operator tokens that carry role and branch assignment,
// and gates manager-approved actions behind the manager PIN.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	users    UserStore

	mu        sync.RWMutex
	operators map[string]operator
}

type operator struct {
	passwordHash string
	role         string
	active       bool
	branchIDs    []string
	createdAt    time.Time
}

func (o operator) actor(username string) domain.Actor {
	return domain.Actor{Username: username, Role: o.role, BranchIDs: slices.Clone(o.branchIDs)}
}

type operatorClaims struct {
	jwtlib.RegisteredClaims
	Role      string   `json:"role"`
	BranchIDs []string `json:"branch_ids,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		users:     users,
		operators: make(map[string]operator),
	}
	// An empty or unhashable PIN leaves pinHash nil and every approval fails.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			a.pinHash = hash
		}
	}
	a.reload(context.Background())
	return a
}

// Login picks up accounts created by other instances before checking the
// password, then issues a token scoped to the operator's branches.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.reload(ctx)
	username := normalizeUsername(req.Username)

	a.mu.RLock()
	op, ok := a.operators[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(op.passwordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !op.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	actor := op.actor(username)
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.issue(actor, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        actor.Role,
		BranchIDs:   actor.BranchIDs,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:      actor.Role,
		BranchIDs: actor.BranchIDs,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken returns the actor a token was issued to. Branch assignment is
// taken from the token, so reassigning a cashier applies from their next login.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &operatorClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims,
		func(*jwtlib.Token) (any, error) { return a.secret, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role, BranchIDs: claims.BranchIDs}, nil
}

// ApproveReturn gates a refund on the session's terminal. Admins approve their
// own refunds; anyone else needs the manager PIN.
func (a *AuthManager) ApproveReturn(actor domain.Actor, session domain.Session, pin string) error {
	if actor.Role == roleAdmin {
		return nil
	}
	if !a.ValidateManagerPIN(pin) {
		return domain.Forbiddenf("manager pin rejected for refund on %s", session.TerminalKey())
	}
	zap.L().Info("refund approved by manager pin",
		zap.String("cashier", actor.Username),
		zap.String("branch_id", session.BranchID),
		zap.String("terminal_id", session.TerminalID),
	)
	return nil
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || a.pinHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

// CreateCashier registers a cashier restricted to req.BranchIDs. Every branch
// must exist; an empty list leaves the cashier unrestricted.
func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	a.reload(ctx)
	username := normalizeUsername(req.Username)
	if len(username) < 4 || strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, domain.Validationf("username must be at least 4 characters without spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.CashierUser{}, domain.Validationf("password must be at least 6 characters")
	}
	branchIDs, err := a.assignableBranches(ctx, req.BranchIDs)
	if err != nil {
		return domain.CashierUser{}, err
	}

	a.mu.RLock()
	_, taken := a.operators[username]
	a.mu.RUnlock()
	if taken {
		return domain.CashierUser{}, domain.Validationf("username %s already exists", username)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, err
	}
	op := operator{passwordHash: hash, role: roleCashier, active: true, branchIDs: branchIDs, createdAt: time.Now().UTC()}
	if a.users != nil {
		if err := a.users.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  op.passwordHash,
			Role:      op.role,
			Active:    op.active,
			BranchIDs: op.branchIDs,
			CreatedAt: op.createdAt,
		}); err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.operators[username] = op
	a.mu.Unlock()
	return cashierView(username, op), nil
}

func (a *AuthManager) assignableBranches(ctx context.Context, requested []string) ([]string, error) {
	branchIDs := make([]string, 0, len(requested))
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(branchIDs, id) {
			continue
		}
		if a.users != nil {
			if _, err := a.users.GetBranch(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, domain.Validationf("unknown branch %s", id)
				}
				return nil, domain.External("get branch", err)
			}
		}
		branchIDs = append(branchIDs, id)
	}
	return branchIDs, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.reload(ctx)
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]domain.CashierUser, 0, len(a.operators))
	for username, op := range a.operators {
		if op.role == roleCashier {
			result = append(result, cashierView(username, op))
		}
	}
	slices.SortFunc(result, func(x, y domain.CashierUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return result
}

func cashierView(username string, op operator) domain.CashierUser {
	return domain.CashierUser{
		Username:  username,
		Role:      op.role,
		Active:    op.active,
		BranchIDs: slices.Clone(op.branchIDs),
		CreatedAt: op.createdAt,
	}
}

// reload refreshes the operator cache from the user store. Accounts still
// holding a plain-text password are rehashed and written back.
func (a *AuthManager) reload(ctx context.Context) {
	if a.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		zap.L().Warn("reload operator accounts", zap.Error(err))
		return
	}

	loaded := make(map[string]operator, len(accounts))
	for _, account := range accounts {
		username := normalizeUsername(account.Username)
		if username == "" {
			continue
		}
		loaded[username] = operator{
			passwordHash: a.upgradeLegacyPassword(ctx, username, account.Password),
			role:         account.Role,
			active:       account.Active,
			branchIDs:    slices.Clone(account.BranchIDs),
			createdAt:    account.CreatedAt,
		}
	}

	a.mu.Lock()
	for username, op := range loaded {
		a.operators[username] = op
	}
	a.mu.Unlock()
}

func (a *AuthManager) upgradeLegacyPassword(ctx context.Context, username string, stored string) string {
	if isPasswordHash(stored) {
		return stored
	}
	hash, err := hashPassword(stored)
	if err != nil {
		return stored
	}
	if err := a.users.UpdateUserPassword(ctx, username, hash); err != nil {
		zap.L().Warn("failed to upgrade legacy password", zap.String("username", username), zap.Error(err))
	}
	return hash
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func verifyPassword(hash string, input string) bool {
	if !isPasswordHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
