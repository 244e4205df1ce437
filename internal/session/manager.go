// Package session owns the authenticated identity and its token pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/statestore"
)

const minPasswordLen = 6

// Authenticator exchanges credentials for tokens. Implemented by the REST
// client and by the local account store.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (core.Session, error)
	Register(ctx context.Context, email, password, name string) (core.Session, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Manager is a small state machine: logged out -> logged in (-> refreshed)* -> logged out.
//
// Epoch increments on every identity change so in-flight work started under
// an older session can recognise that its result is stale.
type Manager struct {
	auth   Authenticator
	store  *statestore.Store
	logger *log.Logger

	mu       sync.RWMutex
	current  *core.Session
	epoch    uint64
	onLogout []func()

	refreshes singleflight.Group
}

func NewManager(auth Authenticator, store *statestore.Store, logger *log.Logger) *Manager {
	return &Manager{
		auth:   auth,
		store:  store,
		logger: logger.WithComponent(log.ComponentSession),
	}
}

func (m *Manager) Login(ctx context.Context, email, password string) (core.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return core.Session{}, &core.ValidationError{Field: "credentials", Reason: "email and password are required"}
	}
	sess, err := m.auth.Login(ctx, email, password)
	if err != nil {
		m.logger.WarnContext(ctx, "Login failed", log.FieldOperation, log.OpLogin, log.FieldError, err)
		return core.Session{}, err
	}
	if err := m.establish(ctx, sess); err != nil {
		return core.Session{}, err
	}
	m.logger.InfoContext(ctx, "Logged in", log.FieldUserID, sess.User.ID)
	return sess, nil
}

func (m *Manager) Register(ctx context.Context, email, password, name string) (core.Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return core.Session{}, &core.ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	if len(password) < minPasswordLen {
		return core.Session{}, &core.ValidationError{Field: "password", Reason: fmt.Sprintf("must have at least %d characters", minPasswordLen)}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	sess, err := m.auth.Register(ctx, email, password, name)
	if err != nil {
		m.logger.WarnContext(ctx, "Registration failed", log.FieldOperation, log.OpRegister, log.FieldError, err)
		return core.Session{}, err
	}
	if err := m.establish(ctx, sess); err != nil {
		return core.Session{}, err
	}
	m.logger.InfoContext(ctx, "Registered", log.FieldUserID, sess.User.ID)
	return sess, nil
}

func (m *Manager) establish(ctx context.Context, sess core.Session) error {
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.mu.Lock()
	m.current = &sess
	m.epoch++
	m.mu.Unlock()
	return nil
}

// Refresh obtains a new access token. Concurrent callers share one network
// round trip, which runs detached from any single caller's cancellation. Any
// refresh failure logs the session out.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := m.refreshes.Do("refresh", func() (any, error) {
		m.mu.RLock()
		cur, epoch := m.current, m.epoch
		m.mu.RUnlock()
		if cur == nil {
			return "", core.ErrNotAuthenticated
		}

		token, err := m.auth.Refresh(ctx, cur.RefreshToken)
		if err != nil {
			m.logger.WarnContext(ctx, "Refresh failed, logging out",
				log.FieldOperation, log.OpRefresh, log.FieldError, err)
			if m.Epoch() == epoch {
				_ = m.Logout(ctx)
			}
			msg := err.Error()
			var ae *core.AuthError
			if errors.As(err, &ae) {
				msg = ae.Message
			}
			return "", &core.AuthError{Kind: core.AuthRefreshInvalid, Message: msg, Err: err}
		}

		m.mu.Lock()
		if m.epoch != epoch || m.current == nil {
			m.mu.Unlock()
			return "", core.ErrSessionChanged
		}
		next := *m.current
		next.AccessToken = token
		m.current = &next
		m.mu.Unlock()

		if err := m.store.SaveAccessToken(ctx, token); err != nil {
			return "", fmt.Errorf("persist access token: %w", err)
		}
		m.logger.DebugContext(ctx, "Access token refreshed", log.FieldOperation, log.OpRefresh)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Restore loads the persisted session without contacting the server; the
// tokens are trusted until the first 401.
func (m *Manager) Restore(ctx context.Context) (core.Session, bool, error) {
	sess, ok, err := m.store.LoadSession(ctx)
	if err != nil {
		return core.Session{}, false, fmt.Errorf("restore session: %w", err)
	}
	if !ok {
		return core.Session{}, false, nil
	}
	m.mu.Lock()
	m.current = &sess
	m.epoch++
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "Session restored", log.FieldOperation, log.OpRestore, log.FieldUserID, sess.User.ID)
	return sess, true, nil
}

// Logout clears persisted and in-memory session material. Idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	wasLoggedIn := m.current != nil
	m.current = nil
	m.epoch++
	listeners := append([]func(){}, m.onLogout...)
	m.mu.Unlock()

	err := m.store.ClearSession(ctx)
	if wasLoggedIn {
		for _, fn := range listeners {
			fn()
		}
		m.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
	}
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// OnLogout registers fn to run after every logout of an active session.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// UpdateUser replaces the cached user, e.g. after the plan changed server side.
func (m *Manager) UpdateUser(ctx context.Context, u core.User) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return core.ErrNotAuthenticated
	}
	next := *m.current
	next.User = u
	m.current = &next
	m.mu.Unlock()
	return m.store.SaveSession(ctx, next)
}

func (m *Manager) Current() (core.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return core.Session{}, false
	}
	return *m.current, true
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

func (m *Manager) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
