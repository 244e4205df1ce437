package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"thebox/internal/core"
	"thebox/internal/kv/memory"
	"thebox/internal/log"
	"thebox/internal/tier"
)

type staticIdentity struct {
	sess core.Session
	ok   bool
}

func (s *staticIdentity) Current() (core.Session, bool) { return s.sess, s.ok }

func draft(desc string, day int) core.Draft {
	return core.Draft{
		Type:        core.Expense,
		Category:    "Outros",
		Description: desc,
		Amount:      decimal.RequireFromString("10.00"),
		Date:        core.NewDate(2024, 1, day),
	}
}

func TestAccountsLifecycle(t *testing.T) {
	ctx := context.Background()
	acc := NewAccounts(memory.New(), time.Minute, time.Hour, log.Discard())

	sess, err := acc.Register(ctx, "Ana@Box.com", "secret1", "")
	require.NoError(t, err)
	require.Equal(t, "ana@box.com", sess.User.Email)
	require.Equal(t, "ana", sess.User.Name)
	require.Equal(t, core.PlanFree, sess.User.Plan)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEqual(t, sess.AccessToken, sess.RefreshToken)

	_, err = acc.Register(ctx, "ana@box.com", "secret1", "Ana")
	require.True(t, core.IsAuthKind(err, core.AuthEmailTaken), "got %v", err)

	_, err = acc.Login(ctx, "ana@box.com", "wrong!")
	require.True(t, core.IsAuthKind(err, core.AuthInvalidCredentials), "got %v", err)

	logged, err := acc.Login(ctx, "ana@box.com", "secret1")
	require.NoError(t, err)

	u, err := acc.Authenticate(ctx, logged.AccessToken)
	require.NoError(t, err)
	require.Equal(t, sess.User.ID, u.ID)

	fresh, err := acc.Refresh(ctx, logged.RefreshToken)
	require.NoError(t, err)
	_, err = acc.Authenticate(ctx, fresh)
	require.NoError(t, err)

	_, err = acc.Refresh(ctx, "bogus")
	require.True(t, core.IsAuthKind(err, core.AuthRefreshInvalid), "got %v", err)

	require.NoError(t, acc.SetPlan(ctx, "ana@box.com", core.PlanProMonthly))
	u, err = acc.User(ctx, "ana@box.com")
	require.NoError(t, err)
	require.True(t, u.Plan.IsPro())
}

func TestAccountsRegisterValidation(t *testing.T) {
	acc := NewAccounts(memory.New(), time.Minute, time.Hour, log.Discard())
	tests := []struct {
		name, email, password string
	}{
		{"bad email", "nope", "secret1"},
		{"short password", "a@b.com", "12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := acc.Register(context.Background(), tt.email, tt.password, "")
			require.True(t, core.IsValidation(err), "got %v", err)
		})
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	ctx := context.Background()
	acc := NewAccounts(memory.New(), time.Minute, time.Hour, log.Discard())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	acc.now = func() time.Time { return now }

	sess, err := acc.Register(ctx, "ana@box.com", "secret1", "Ana")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = acc.Authenticate(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = acc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
}

func TestLedgerCreateListDelete(t *testing.T) {
	ctx := context.Background()
	id := &staticIdentity{sess: core.Session{User: core.User{ID: "u1", Plan: core.PlanFree}}, ok: true}
	l := NewLedger(memory.New(), id, 10, nil, log.Discard())

	first, err := l.CreateTransaction(ctx, draft("a", 1), "")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "unknown", first.DeviceID)

	_, err = l.CreateTransaction(ctx, draft("b", 3), "dev")
	require.NoError(t, err)

	txs, err := l.ListTransactions(ctx, core.Filters{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "b", txs[0].Description)

	upd := draft("a2", 2)
	got, err := l.UpdateTransaction(ctx, first.ID, upd)
	require.NoError(t, err)
	require.Equal(t, "a2", got.Description)

	_, err = l.UpdateTransaction(ctx, "missing", upd)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, l.DeleteTransaction(ctx, first.ID))
	require.NoError(t, l.DeleteTransaction(ctx, first.ID))

	stats, err := l.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TransactionCount)
	require.True(t, stats.TotalExpense.Equal(decimal.RequireFromString("10")))
}

func TestLedgerQuota(t *testing.T) {
	ctx := context.Background()
	id := &staticIdentity{sess: core.Session{User: core.User{ID: "u1", Plan: core.PlanFree}}, ok: true}
	l := NewLedger(memory.New(), id, 2, nil, log.Discard())

	for i := 1; i <= 2; i++ {
		_, err := l.CreateTransaction(ctx, draft("x", i), "")
		require.NoError(t, err)
	}
	_, err := l.CreateTransaction(ctx, draft("x", 3), "")
	require.ErrorIs(t, err, core.ErrQuotaExceeded)

	unlocked := NewLedger(memory.New(), id, 2, func(context.Context, core.User) tier.Tier { return tier.Pro }, log.Discard())
	for i := 1; i <= 3; i++ {
		_, err := unlocked.CreateTransaction(ctx, draft("x", i), "")
		require.NoError(t, err)
	}
}

func TestLedgerRequiresIdentity(t *testing.T) {
	l := NewLedger(memory.New(), &staticIdentity{}, 10, nil, log.Discard())
	_, err := l.ListTransactions(context.Background(), core.Filters{})
	require.True(t, errors.Is(err, core.ErrNotAuthenticated))
}
