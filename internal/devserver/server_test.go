package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/kv/memory"
	"thebox/internal/local"
	"thebox/internal/log"
	"thebox/internal/mirror"
	"thebox/internal/reconciler"
	"thebox/internal/remote"
	"thebox/internal/session"
	"thebox/internal/statestore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []mirror.Event
}

func (p *recordingPublisher) Publish(e mirror.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

type harness struct {
	srv   *httptest.Server
	store kv.Store
	pub   *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	accounts := local.NewAccounts(store, time.Hour, 24*time.Hour, log.Discard())
	pub := &recordingPublisher{}
	s := New(":0", accounts, store, Options{FreeLimit: 10, AuthRequestsPerMinute: 1000, Publisher: pub}, log.Discard())
	srv := httptest.NewServer(s.Handler)
	t.Cleanup(func() {
		srv.Close()
		s.limiter.Stop()
	})
	return &harness{srv: srv, store: store, pub: pub}
}

// client wires the real remote client and session manager against the server.
func (h *harness) client(t *testing.T) (*remote.Client, *session.Manager) {
	t.Helper()
	state := statestore.New(memory.New(), log.Discard())
	c := remote.New(h.srv.URL+"/api", 5*time.Second, log.Discard())
	mgr := session.NewManager(c, state, log.Discard())
	c.Bind(mgr)
	return c, mgr
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func draft(desc string, amount string, day int) core.Draft {
	return core.Draft{
		Type:        core.Expense,
		Category:    "Peças",
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Date:        core.NewDate(2024, 5, day),
	}
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "Ana@Box.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "ana", body["user"].(map[string]any)["name"])
	require.NotEmpty(t, body["tokens"].(map[string]any)["accessToken"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.Len(t, h.pub.events, 1)
	require.Equal(t, mirror.TypeUserRegistered, h.pub.events[0].Type)

	resp, body = h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ana@box.com", "password": "secret1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Email já registrado", body["error"])

	resp, _ = h.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "bia@box.com", "password": "123",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ana@box.com", "password": "wrong!!",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Email ou senha incorretos", body["error"])

	resp, _ = h.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": "nope"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/transactions", "/api/stats", "/api/profile"} {
		resp, _ := h.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		resp, _ = h.do(t, http.MethodGet, path, "garbage", nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestRemoteClientEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, mgr := h.client(t)

	_, err := mgr.Register(ctx, "ana@box.com", "secret1", "Ana")
	require.NoError(t, err)

	first, err := c.CreateTransaction(ctx, draft("pastilha", "120.5", 3), "dev-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "dev-1", first.DeviceID)
	_, err = c.CreateTransaction(ctx, draft("óleo", "80", 10), "")
	require.NoError(t, err)

	txs, err := c.ListTransactions(ctx, core.Filters{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "óleo", txs[0].Description)

	txs, err = c.ListTransactions(ctx, core.Filters{From: core.NewDate(2024, 5, 5)})
	require.NoError(t, err)
	require.Len(t, txs, 1)

	edited, err := c.UpdateTransaction(ctx, first.ID, draft("pastilha dianteira", "130", 3))
	require.NoError(t, err)
	require.True(t, edited.Amount.Equal(decimal.RequireFromString("130")))

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	require.True(t, stats.TotalExpense.Equal(decimal.RequireFromString("210")))
	require.True(t, stats.Balance.Equal(decimal.RequireFromString("-210")))
	require.Equal(t, 2, stats.TransactionCount)

	require.NoError(t, c.DeleteTransaction(ctx, first.ID))
	require.NoError(t, c.DeleteTransaction(ctx, first.ID))

	user, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, core.PlanFree, user.Plan)
}

func TestOwnershipIsEnforced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ana, anaMgr := h.client(t)
	bia, biaMgr := h.client(t)

	_, err := anaMgr.Register(ctx, "ana@box.com", "secret1", "")
	require.NoError(t, err)
	_, err = biaMgr.Register(ctx, "bia@box.com", "secret1", "")
	require.NoError(t, err)

	tx, err := ana.CreateTransaction(ctx, draft("pneu", "400", 1), "")
	require.NoError(t, err)

	_, err = bia.UpdateTransaction(ctx, tx.ID, draft("meu", "1", 1))
	require.ErrorIs(t, err, core.ErrForbidden)
	require.ErrorIs(t, bia.DeleteTransaction(ctx, tx.ID), core.ErrForbidden)

	txs, err := bia.ListTransactions(ctx, core.Filters{})
	require.NoError(t, err)
	require.Empty(t, txs)

	_, err = ana.UpdateTransaction(ctx, "missing", draft("x", "1", 1))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestFreePlanCapAndCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, mgr := h.client(t)
	_, err := mgr.Register(ctx, "ana@box.com", "secret1", "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := c.CreateTransaction(ctx, draft("item", "1", 1), "")
		require.NoError(t, err)
	}
	_, err = c.CreateTransaction(ctx, draft("item", "1", 1), "")
	require.ErrorIs(t, err, core.ErrQuotaExceeded)
	require.Contains(t, err.Error(), "Limite de 10")

	sessionID, err := c.Checkout(ctx, "annual")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sessionID, "cs_test_"))

	_, err = c.Checkout(ctx, "weekly")
	require.Error(t, err)

	resp, _ := h.do(t, http.MethodPost, "/api/webhook/checkout", "", map[string]string{"sessionId": sessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/webhook/checkout", "", map[string]string{"sessionId": sessionID})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	user, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, core.PlanProYearly, user.Plan)

	_, err = c.CreateTransaction(ctx, draft("item", "1", 1), "")
	require.NoError(t, err)
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c, mgr := h.client(t)
	sess, err := mgr.Register(ctx, "ana@box.com", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, h.store.Delete(ctx, "access:"+sess.AccessToken))

	_, err = c.ListTransactions(ctx, core.Filters{})
	require.NoError(t, err)
	require.NotEqual(t, sess.AccessToken, mgr.AccessToken())

	current, ok := mgr.Current()
	require.True(t, ok)
	require.NoError(t, h.store.Delete(ctx, "refresh:"+current.RefreshToken))
	require.NoError(t, h.store.Delete(ctx, "access:"+current.AccessToken))

	_, err = c.ListTransactions(ctx, core.Filters{})
	require.True(t, core.IsAuthKind(err, core.AuthRefreshInvalid), "got %v", err)
	_, ok = mgr.Current()
	require.False(t, ok)
}

func TestReconcilerAgainstServer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	state := statestore.New(memory.New(), log.Discard())
	c := remote.New(h.srv.URL+"/api", 5*time.Second, log.Discard())
	mgr := session.NewManager(c, state, log.Discard())
	c.Bind(mgr)
	rec := reconciler.New(c, state, mgr, log.Discard(), reconciler.Options{DeviceID: "cli", FreeLimit: 10})
	mgr.OnLogout(rec.Close)

	_, err := mgr.Register(ctx, "ana@box.com", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, rec.Open(ctx))

	tx, err := rec.Create(ctx, draft("correia", "250", 7))
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(tx.ID, "tmp-"))

	res, err := rec.Sync(ctx)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Len(t, res.Transactions, 1)
	require.Equal(t, tx.ID, res.Transactions[0].ID)
	require.True(t, res.Stats.TotalExpense.Equal(decimal.RequireFromString("250")))

	require.NoError(t, rec.Delete(ctx, tx.ID))
	require.Empty(t, rec.Transactions())

	require.NoError(t, mgr.Logout(ctx))
	_, err = rec.Create(ctx, draft("x", "1", 1))
	require.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}
