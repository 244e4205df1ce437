package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"thebox/internal/core"
	"thebox/internal/kv/memory"
	"thebox/internal/log"
	"thebox/internal/mirror"
	"thebox/internal/statestore"
	"thebox/internal/tier"
)

const testEmail = "ana@box.com"

type fakeSession struct {
	mu    sync.Mutex
	sess  core.Session
	ok    bool
	epoch uint64
}

func newFakeSession(plan core.Plan) *fakeSession {
	return &fakeSession{
		sess:  core.Session{User: core.User{ID: "u1", Email: testEmail, Plan: plan}},
		ok:    true,
		epoch: 1,
	}
}

func (f *fakeSession) Current() (core.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess, f.ok
}

func (f *fakeSession) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeSession) logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ok = false
	f.epoch++
}

func (f *fakeSession) login() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ok = true
	f.epoch++
}

type fakeLedger struct {
	mu        sync.Mutex
	txs       []core.Transaction
	seq       int
	creates   int
	createErr error
	updateErr error
	deleteErr error
	listErr   error
	statsErr  error
	entered   chan struct{}
	gate      chan struct{}
}

func (f *fakeLedger) wait() {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeLedger) ListTransactions(_ context.Context, _ core.Filters) ([]core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]core.Transaction(nil), f.txs...), nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, d core.Draft, deviceID string) (core.Transaction, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return core.Transaction{}, f.createErr
	}
	f.seq++
	tx := core.Transaction{
		ID:          fmt.Sprintf("srv-%d", f.seq),
		Type:        d.Type,
		Category:    d.Category,
		Description: d.Description,
		Amount:      d.Amount,
		Date:        d.Date,
		DeviceID:    deviceID,
	}
	f.txs = append([]core.Transaction{tx}, f.txs...)
	return tx, nil
}

func (f *fakeLedger) UpdateTransaction(_ context.Context, id string, d core.Draft) (core.Transaction, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return core.Transaction{}, f.updateErr
	}
	return core.Transaction{ID: id, Type: d.Type, Category: d.Category, Description: d.Description, Amount: d.Amount, Date: d.Date}, nil
}

func (f *fakeLedger) DeleteTransaction(_ context.Context, id string) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeLedger) GetStats(context.Context) (core.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return core.Stats{}, f.statsErr
	}
	return core.ComputeStats(f.txs), nil
}

type recordingMirror struct {
	mu     sync.Mutex
	events []mirror.Event
}

func (m *recordingMirror) Publish(e mirror.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *recordingMirror) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	r      *Reconciler
	ledger *fakeLedger
	sess   *fakeSession
	store  *statestore.Store
	mirror *recordingMirror
}

func newHarness(t *testing.T, plan core.Plan) *harness {
	t.Helper()
	store := statestore.New(memory.New(), log.Discard())
	h := &harness{
		ledger: &fakeLedger{},
		sess:   newFakeSession(plan),
		store:  store,
		mirror: &recordingMirror{},
	}
	h.r = New(h.ledger, store, h.sess, log.Discard(), Options{
		DeviceID:  "dev-1",
		ProKey:    "BOXPRO",
		FreeLimit: tier.FreeLimit,
		Mirror:    h.mirror,
	})
	require.NoError(t, h.r.Open(context.Background()))
	return h
}

func (h *harness) seed(t *testing.T, txs ...core.Transaction) {
	t.Helper()
	require.NoError(t, h.r.Mutate(context.Background(), func(doc *core.Document) error {
		doc.Transactions = append(doc.Transactions, txs...)
		return nil
	}))
}

func (h *harness) stored(t *testing.T) core.Document {
	t.Helper()
	doc, err := h.store.LoadDocument(context.Background(), testEmail)
	require.NoError(t, err)
	return doc
}

func draft(desc string) core.Draft {
	return core.Draft{
		Type:        core.Expense,
		Category:    "Peças",
		Description: desc,
		Amount:      decimal.RequireFromString("25.90"),
		Date:        core.NewDate(2024, 4, 10),
	}
}

func tx(id string, y, m, d int) core.Transaction {
	return core.Transaction{
		ID:          id,
		Type:        core.Expense,
		Category:    "Outros",
		Description: id,
		Amount:      decimal.NewFromInt(1),
		Date:        core.NewDate(y, m, d),
	}
}

func ids(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.ID
	}
	return out
}

func TestCreateThenList(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	ctx := context.Background()

	created, err := h.r.Create(ctx, draft("pneu"))
	require.NoError(t, err)
	require.Equal(t, "srv-1", created.ID)

	require.NoError(t, h.r.Reload(ctx))
	txs := h.r.Transactions()
	require.Len(t, txs, 1)
	require.Equal(t, "pneu", txs[0].Description)
	require.Equal(t, []string{mirror.TypeTransactionCreated}, h.mirror.types())
	require.Equal(t, []string{"srv-1"}, ids(h.stored(t).Transactions))
}

func TestOptimisticInsertWhileInFlight(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 1, 1))
	h.ledger.entered = make(chan struct{})
	h.ledger.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.r.Create(ctx, draft("pneu"))
		done <- err
	}()
	<-h.ledger.entered

	txs := h.r.Transactions()
	require.Len(t, txs, 2)
	provisional := txs[0]
	require.True(t, strings.HasPrefix(provisional.ID, provisionalPrefix), "got id %q", provisional.ID)
	require.Equal(t, 1, h.r.Pending())
	require.Len(t, h.stored(t).Transactions, 2)

	require.ErrorIs(t, h.r.Reload(ctx), core.ErrReloadSuppressed)
	require.ErrorIs(t, h.r.Delete(ctx, provisional.ID), core.ErrPending)
	require.ErrorIs(t, h.r.Replace(ctx, func(d *core.Document) error {
		*d = core.NewDocument()
		return nil
	}), core.ErrPending)

	close(h.ledger.gate)
	require.NoError(t, <-done)

	txs = h.r.Transactions()
	require.Equal(t, []string{"srv-1", "a"}, ids(txs))
	require.Equal(t, 0, h.r.Pending())
	require.Equal(t, []string{"srv-1", "a"}, ids(h.stored(t).Transactions))
}

func TestCreateRollback(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matches func(error) bool
	}{
		{"network", &core.NetworkError{Op: "create", Err: errors.New("connection refused")}, core.IsNetwork},
		{"server quota", fmt.Errorf("%w: Limite de 10 transações atingido", core.ErrQuotaExceeded), func(err error) bool {
			return errors.Is(err, core.ErrQuotaExceeded)
		}},
		{"session expired", core.NewAuthError(core.AuthRefreshInvalid, ""), func(err error) bool {
			return core.IsAuthKind(err, core.AuthRefreshInvalid)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, core.PlanFree)
			h.seed(t, tx("a", 2024, 1, 1))
			h.ledger.createErr = tt.err

			_, err := h.r.Create(context.Background(), draft("pneu"))
			require.True(t, tt.matches(err), "unexpected error %v", err)
			require.Equal(t, []string{"a"}, ids(h.r.Transactions()))
			require.Equal(t, []string{"a"}, ids(h.stored(t).Transactions))
			require.Empty(t, h.mirror.types())
		})
	}
}

func TestCreateValidatesBeforeNetwork(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	bad := draft("x")
	bad.Amount = decimal.Zero

	_, err := h.r.Create(context.Background(), bad)
	require.True(t, core.IsValidation(err))
	require.Zero(t, h.ledger.creates)
}

func TestFreeLimitBlocksLocally(t *testing.T) {
	seedTen := func(h *harness, t *testing.T) {
		var txs []core.Transaction
		for i := 1; i <= 10; i++ {
			txs = append(txs, tx(fmt.Sprintf("t%d", i), 2024, 1, i))
		}
		h.seed(t, txs...)
	}

	t.Run("free account with ten entries", func(t *testing.T) {
		h := newHarness(t, core.PlanFree)
		seedTen(h, t)

		_, err := h.r.Create(context.Background(), draft("x"))
		require.ErrorIs(t, err, core.ErrQuotaExceeded)
		require.Zero(t, h.ledger.creates, "no network call expected")
		require.Len(t, h.r.Transactions(), 10)
		require.Equal(t, 0, h.r.Remaining())
	})

	t.Run("pro plan", func(t *testing.T) {
		h := newHarness(t, core.PlanProMonthly)
		seedTen(h, t)

		_, err := h.r.Create(context.Background(), draft("x"))
		require.NoError(t, err)
		require.Equal(t, -1, h.r.Remaining())
	})

	t.Run("license key unlocks", func(t *testing.T) {
		h := newHarness(t, core.PlanFree)
		seedTen(h, t)
		require.NoError(t, h.r.Mutate(context.Background(), func(doc *core.Document) error {
			doc.TierKey = "BOXPRO"
			return nil
		}))

		_, err := h.r.Create(context.Background(), draft("x"))
		require.NoError(t, err)
		require.Equal(t, tier.Pro, h.r.Tier())
	})
}

func TestDeleteReinsertsAtPreviousPosition(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 3, 1), tx("b", 2024, 2, 1), tx("c", 2024, 1, 1))
	h.ledger.deleteErr = &core.NetworkError{Op: "delete", Err: errors.New("timeout")}

	err := h.r.Delete(context.Background(), "b")
	require.True(t, core.IsNetwork(err))
	require.Equal(t, []string{"a", "b", "c"}, ids(h.r.Document().Transactions))
	require.Equal(t, []string{"a", "b", "c"}, ids(h.stored(t).Transactions))
	require.Empty(t, h.mirror.types())
}

func TestDeleteOptimisticAndCommitted(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 3, 1), tx("b", 2024, 2, 1))
	h.ledger.entered = make(chan struct{})
	h.ledger.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.r.Delete(context.Background(), "a") }()
	<-h.ledger.entered
	require.Equal(t, []string{"b"}, ids(h.r.Transactions()))

	close(h.ledger.gate)
	require.NoError(t, <-done)
	require.Equal(t, []string{"b"}, ids(h.stored(t).Transactions))
	require.Equal(t, []string{mirror.TypeTransactionDeleted}, h.mirror.types())

	require.ErrorIs(t, h.r.Delete(context.Background(), "a"), core.ErrNotFound)
}

func TestEditRollsBack(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 3, 1))
	ctx := context.Background()

	h.ledger.updateErr = fmt.Errorf("update: %w", core.ErrForbidden)
	_, err := h.r.Edit(ctx, "a", draft("changed"))
	require.ErrorIs(t, err, core.ErrForbidden)
	require.Equal(t, "a", h.r.Transactions()[0].Description)

	h.ledger.updateErr = nil
	updated, err := h.r.Edit(ctx, "a", draft("changed"))
	require.NoError(t, err)
	require.Equal(t, "changed", updated.Description)
	require.Equal(t, "changed", h.stored(t).Transactions[0].Description)
	require.Equal(t, []string{mirror.TypeTransactionUpdated}, h.mirror.types())
}

func TestReloadFailureKeepsList(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 3, 1))
	h.ledger.listErr = &core.NetworkError{Op: "list", Err: errors.New("offline")}

	err := h.r.Reload(context.Background())
	require.True(t, core.IsNetwork(err))
	require.Equal(t, []string{"a"}, ids(h.r.Transactions()))
}

func TestReloadReplacesList(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("local-only", 2024, 3, 1))
	h.ledger.txs = []core.Transaction{tx("s1", 2024, 1, 1), tx("s2", 2024, 2, 1)}

	require.NoError(t, h.r.Reload(context.Background()))
	require.Equal(t, []string{"s2", "s1"}, ids(h.r.Transactions()))
	require.Equal(t, []string{"s1", "s2"}, ids(h.stored(t).Transactions))
}

func TestResponseDroppedAfterLogout(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.ledger.entered = make(chan struct{})
	h.ledger.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.r.Create(ctx, draft("late"))
		done <- err
	}()
	<-h.ledger.entered

	h.sess.logout()
	h.r.Close()
	close(h.ledger.gate)

	require.ErrorIs(t, <-done, core.ErrSessionChanged)
	require.Empty(t, h.r.Transactions())
	require.Empty(t, h.mirror.types())

	h.sess.login()
	require.NoError(t, h.r.Open(ctx))
	for _, got := range h.r.Transactions() {
		require.False(t, strings.HasPrefix(got.ID, provisionalPrefix), "provisional entry survived: %s", got.ID)
	}
}

func TestMutationsRequireOpenSession(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.r.Close()

	_, err := h.r.Create(context.Background(), draft("x"))
	require.ErrorIs(t, err, core.ErrNotAuthenticated)
	require.ErrorIs(t, h.r.Reload(context.Background()), core.ErrNotAuthenticated)
}

func TestTransactionsStableSortByDate(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t,
		tx("jan", 2024, 1, 1),
		tx("mar", 2024, 3, 1),
		tx("feb", 2024, 2, 1),
		tx("mar-2", 2024, 3, 1),
	)

	require.Equal(t, []string{"mar", "mar-2", "feb", "jan"}, ids(h.r.Transactions()))
}

func TestSyncDegrades(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.seed(t, tx("a", 2024, 3, 1))
	h.ledger.listErr = &core.NetworkError{Op: "list", Err: errors.New("offline")}
	h.ledger.statsErr = &core.NetworkError{Op: "stats", Err: errors.New("offline")}

	res, err := h.r.Sync(context.Background())
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Equal(t, []string{"a"}, ids(res.Transactions))
	require.True(t, res.Stats.Balance.IsZero())
}

func TestSyncSurfacesAuthErrors(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.ledger.listErr = core.NewAuthError(core.AuthRefreshInvalid, "")

	_, err := h.r.Sync(context.Background())
	require.True(t, core.IsAuthKind(err, core.AuthRefreshInvalid))
}

func TestSyncSuccess(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	h.ledger.txs = []core.Transaction{tx("s1", 2024, 1, 1)}

	res, err := h.r.Sync(context.Background())
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, 1, res.Stats.TransactionCount)
	require.Equal(t, []string{"s1"}, ids(res.Transactions))
}

func TestMutatePersistsOnlyOnSuccess(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	ctx := context.Background()

	err := h.r.Mutate(ctx, func(doc *core.Document) error {
		doc.Categories = append(doc.Categories, "Pedágio")
		return errors.New("nope")
	})
	require.Error(t, err)
	require.NotContains(t, h.r.Document().Categories, "Pedágio")
	require.NotContains(t, h.stored(t).Categories, "Pedágio")

	require.NoError(t, h.r.Mutate(ctx, func(doc *core.Document) error {
		doc.Categories = append(doc.Categories, "Pedágio")
		return nil
	}))
	require.Contains(t, h.stored(t).Categories, "Pedágio")
}

func TestConcurrentCreates(t *testing.T) {
	h := newHarness(t, core.PlanProYearly)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.r.Create(ctx, draft(fmt.Sprintf("c%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	txs := h.r.Transactions()
	require.Len(t, txs, 8)
	for _, got := range txs {
		require.True(t, strings.HasPrefix(got.ID, "srv-"), "uncommitted entry %s", got.ID)
	}
	require.Len(t, h.stored(t).Transactions, 8)
}

func TestOnChangeObserver(t *testing.T) {
	h := newHarness(t, core.PlanFree)
	var mu sync.Mutex
	calls := 0
	h.r.OnChange(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	_, err := h.r.Create(context.Background(), draft("x"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, calls, 2, "expected provisional and committed renders")
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
		close(released)
	}()

	other := k.Lock("b")
	other()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired early")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired
	<-released

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}
