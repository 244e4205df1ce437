// Package local provides an on-device ledger and account store used when no
// ledger backend is configured, and by the development server.
package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/log"
)

const (
	accountPrefix = "account:"
	accessPrefix  = "access:"
	refreshPrefix = "refresh:"

	minPasswordLen = 6
)

var ErrInvalidToken = errors.New("invalid or expired token")

type account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Plan         core.Plan `json:"plan"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (a account) user() core.User {
	return core.User{ID: a.ID, Email: a.Email, Name: a.Name, Plan: a.Plan}
}

type tokenRecord struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Accounts keeps bcrypt-hashed users and opaque tokens in a kv store.
type Accounts struct {
	store      kv.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *log.Logger
	now        func() time.Time

	mu sync.Mutex
}

func NewAccounts(store kv.Store, accessTTL, refreshTTL time.Duration, logger *log.Logger) *Accounts {
	return &Accounts{
		store:      store,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger.WithComponent(log.ComponentSession),
		now:        time.Now,
	}
}

// Register creates the account and signs it in.
func (a *Accounts) Register(ctx context.Context, email, password, name string) (core.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return core.Session{}, &core.ValidationError{Field: "email", Reason: "invalid email address"}
	}
	if len(password) < minPasswordLen {
		return core.Session{}, &core.ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	}
	if strings.TrimSpace(name) == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.load(ctx, email); err == nil {
		return core.Session{}, core.NewAuthError(core.AuthEmailTaken, "Email já registrado")
	} else if !errors.Is(err, kv.ErrNotFound) {
		return core.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return core.Session{}, fmt.Errorf("hashing password: %w", err)
	}
	acc := account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Plan:         core.PlanFree,
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}
	if err := kv.PutJSON(ctx, a.store, accountPrefix+email, acc); err != nil {
		return core.Session{}, fmt.Errorf("saving account: %w", err)
	}
	a.logger.InfoContext(ctx, "Account registered", log.FieldOperation, log.OpRegister, log.FieldUserID, acc.ID)
	return a.issue(ctx, acc)
}

// Login verifies the password and issues a fresh token pair.
func (a *Accounts) Login(ctx context.Context, email, password string) (core.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acc, err := a.load(ctx, email)
	if errors.Is(err, kv.ErrNotFound) {
		return core.Session{}, core.NewAuthError(core.AuthInvalidCredentials, "Email ou senha incorretos")
	}
	if err != nil {
		return core.Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return core.Session{}, core.NewAuthError(core.AuthInvalidCredentials, "Email ou senha incorretos")
	}
	return a.issue(ctx, acc)
}

// Refresh exchanges a refresh token for a new access token.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (string, error) {
	rec, err := a.lookup(ctx, refreshPrefix, refreshToken)
	if err != nil {
		return "", core.NewAuthError(core.AuthRefreshInvalid, "Refresh token inválido")
	}
	access, err := generateSecureToken()
	if err != nil {
		return "", err
	}
	next := tokenRecord{Email: rec.Email, ExpiresAt: a.now().Add(a.accessTTL)}
	if err := kv.PutJSON(ctx, a.store, accessPrefix+access, next); err != nil {
		return "", fmt.Errorf("saving access token: %w", err)
	}
	return access, nil
}

// Authenticate resolves a bearer access token to its user.
func (a *Accounts) Authenticate(ctx context.Context, accessToken string) (core.User, error) {
	rec, err := a.lookup(ctx, accessPrefix, accessToken)
	if err != nil {
		return core.User{}, err
	}
	acc, err := a.load(ctx, rec.Email)
	if err != nil {
		return core.User{}, ErrInvalidToken
	}
	return acc.user(), nil
}

// User returns the account registered under email.
func (a *Accounts) User(ctx context.Context, email string) (core.User, error) {
	acc, err := a.load(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, kv.ErrNotFound) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, err
	}
	return acc.user(), nil
}

// SetPlan changes the plan of an account, as a completed checkout would.
func (a *Accounts) SetPlan(ctx context.Context, email string, plan core.Plan) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	acc, err := a.load(ctx, email)
	if errors.Is(err, kv.ErrNotFound) {
		return core.ErrNotFound
	}
	if err != nil {
		return err
	}
	acc.Plan = plan
	return kv.PutJSON(ctx, a.store, accountPrefix+email, acc)
}

func (a *Accounts) issue(ctx context.Context, acc account) (core.Session, error) {
	access, err := generateSecureToken()
	if err != nil {
		return core.Session{}, err
	}
	refresh, err := generateSecureToken()
	if err != nil {
		return core.Session{}, err
	}
	now := a.now()
	if err := kv.PutJSON(ctx, a.store, accessPrefix+access, tokenRecord{Email: acc.Email, ExpiresAt: now.Add(a.accessTTL)}); err != nil {
		return core.Session{}, fmt.Errorf("saving access token: %w", err)
	}
	if err := kv.PutJSON(ctx, a.store, refreshPrefix+refresh, tokenRecord{Email: acc.Email, ExpiresAt: now.Add(a.refreshTTL)}); err != nil {
		return core.Session{}, fmt.Errorf("saving refresh token: %w", err)
	}
	return core.Session{
		Tokens: core.Tokens{AccessToken: access, RefreshToken: refresh},
		User:   acc.user(),
	}, nil
}

func (a *Accounts) load(ctx context.Context, email string) (account, error) {
	var acc account
	err := kv.GetJSON(ctx, a.store, accountPrefix+email, &acc)
	return acc, err
}

func (a *Accounts) lookup(ctx context.Context, prefix, token string) (tokenRecord, error) {
	if token == "" {
		return tokenRecord{}, ErrInvalidToken
	}
	var rec tokenRecord
	if err := kv.GetJSON(ctx, a.store, prefix+token, &rec); err != nil {
		return tokenRecord{}, ErrInvalidToken
	}
	if a.now().After(rec.ExpiresAt) {
		_ = a.store.Delete(ctx, prefix+token)
		return tokenRecord{}, ErrInvalidToken
	}
	return rec, nil
}

func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
