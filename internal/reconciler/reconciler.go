// Package reconciler keeps the local state document consistent with the
// ledger: optimistic writes are applied immediately, then committed with the
// ledger's record or rolled back when the ledger refuses them.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/mirror"
	"thebox/internal/statestore"
	"thebox/internal/tier"
)

const provisionalPrefix = "tmp-"

// Ledger is the authoritative store of transactions, remote or on-device.
type Ledger interface {
	ListTransactions(ctx context.Context, f core.Filters) ([]core.Transaction, error)
	CreateTransaction(ctx context.Context, d core.Draft, deviceID string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, id string, d core.Draft) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	GetStats(ctx context.Context) (core.Stats, error)
}

// Session is the part of session.Manager the reconciler depends on.
type Session interface {
	Current() (core.Session, bool)
	Epoch() uint64
}

// Mirror receives ledger events; Publish must not block.
type Mirror interface {
	Publish(e mirror.Event)
}

type Options struct {
	DeviceID  string
	ProKey    string
	FreeLimit int
	Mirror    Mirror
}

type SyncResult struct {
	Transactions []core.Transaction
	Stats        core.Stats
	// Degraded is set when either list or stats could not be refreshed and
	// the result falls back to local data or zeros.
	Degraded bool
}

type Reconciler struct {
	ledger   Ledger
	store    *statestore.Store
	sess     Session
	mirror   Mirror
	logger   *log.Logger
	deviceID string
	proKey   string
	limit    int
	now      func() time.Time

	idLocks keyedMutex

	mu        sync.Mutex
	open      bool
	email     string
	epoch     uint64
	doc       core.Document
	pending   map[string]struct{}
	observers []func()
}

func New(ledger Ledger, store *statestore.Store, sess Session, logger *log.Logger, opts Options) *Reconciler {
	limit := opts.FreeLimit
	if limit <= 0 {
		limit = tier.FreeLimit
	}
	return &Reconciler{
		ledger:   ledger,
		store:    store,
		sess:     sess,
		mirror:   opts.Mirror,
		logger:   logger.WithComponent(log.ComponentReconciler),
		deviceID: opts.DeviceID,
		proKey:   opts.ProKey,
		limit:    limit,
		now:      time.Now,
		pending:  map[string]struct{}{},
	}
}

// Open loads the state document of the signed-in identity.
func (r *Reconciler) Open(ctx context.Context) error {
	sess, ok := r.sess.Current()
	if !ok {
		return core.ErrNotAuthenticated
	}
	epoch := r.sess.Epoch()
	doc, err := r.store.LoadDocument(ctx, sess.User.Email)
	if err != nil {
		return err
	}
	if n := dropProvisional(&doc); n > 0 {
		r.logger.InfoContext(ctx, "Discarded uncommitted entries from a previous session", log.FieldCount, n)
	}

	r.mu.Lock()
	r.open = true
	r.email = sess.User.Email
	r.epoch = epoch
	r.doc = doc
	r.pending = map[string]struct{}{}
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "State document opened",
		log.FieldIdentity, sess.User.Email,
		log.FieldCount, len(doc.Transactions),
		log.FieldEpoch, epoch)
	r.notify()
	return nil
}

// Close discards the in-memory document. Wired to session logout.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.open = false
	r.email = ""
	r.doc = core.Document{}
	r.pending = map[string]struct{}{}
	r.mu.Unlock()
	r.notify()
}

// OnChange registers fn to run after every visible state change.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Reconciler) notify() {
	r.mu.Lock()
	observers := append([]func(){}, r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Create applies d optimistically, then commits the ledger's record or rolls back.
func (r *Reconciler) Create(ctx context.Context, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}

	r.mu.Lock()
	if err := r.checkOpenLocked(); err != nil {
		r.mu.Unlock()
		return core.Transaction{}, err
	}
	t := r.tierLocked()
	if !tier.CanMutateWithin(len(r.doc.Transactions), t, r.limit) {
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "Create blocked by free plan limit",
			log.FieldOperation, log.OpCreate, log.FieldTier, string(t), log.FieldCount, r.limit)
		return core.Transaction{}, fmt.Errorf("%w: free plan allows %d transactions", core.ErrQuotaExceeded, r.limit)
	}

	provisional := core.Transaction{
		ID:          provisionalPrefix + uuid.NewString(),
		Type:        d.Type,
		Category:    d.Category,
		Description: d.Description,
		Amount:      d.Amount.Round(2),
		Date:        d.Date,
		DeviceID:    r.deviceID,
		UpdatedAt:   r.now().UTC(),
	}
	r.doc.Transactions = append([]core.Transaction{provisional}, r.doc.Transactions...)
	r.pending[provisional.ID] = struct{}{}
	epoch := r.epoch
	if err := r.persistLocked(ctx); err != nil {
		r.removeLocked(provisional.ID)
		delete(r.pending, provisional.ID)
		r.mu.Unlock()
		return core.Transaction{}, err
	}
	r.mu.Unlock()
	r.notify()

	created, err := r.ledger.CreateTransaction(ctx, d, r.deviceID)

	r.mu.Lock()
	delete(r.pending, provisional.ID)
	if r.staleLocked(epoch) {
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "Dropping create response from a previous session",
			log.FieldOperation, log.OpCreate, log.FieldProvisionalID, provisional.ID)
		return core.Transaction{}, core.ErrSessionChanged
	}
	if err != nil {
		r.removeLocked(provisional.ID)
		r.persistAfterNetworkLocked(ctx)
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "Create rolled back",
			log.FieldOperation, log.OpRollback,
			log.FieldProvisionalID, provisional.ID,
			log.FieldError, err)
		r.notify()
		return core.Transaction{}, err
	}
	r.replaceLocked(provisional.ID, created)
	r.persistAfterNetworkLocked(ctx)
	email := r.email
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Transaction committed",
		log.NewFields().WithOperation(log.OpCommit).
			WithTransaction(created.ID, string(created.Type), created.Category, created.Amount.String()).
			ToSlice()...)
	r.notify()
	r.publish(mirror.TypeTransactionCreated, email, created)
	return created, nil
}

// Edit replaces the editable fields of id, restoring the previous values if the ledger refuses.
func (r *Reconciler) Edit(ctx context.Context, id string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	unlock := r.idLocks.Lock(id)
	defer unlock()

	r.mu.Lock()
	if err := r.checkMutableLocked(id); err != nil {
		r.mu.Unlock()
		return core.Transaction{}, err
	}
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	prev := r.doc.Transactions[idx]
	next := prev
	next.Type = d.Type
	next.Category = d.Category
	next.Description = d.Description
	next.Amount = d.Amount.Round(2)
	next.Date = d.Date
	next.UpdatedAt = r.now().UTC()
	r.doc.Transactions[idx] = next
	epoch := r.epoch
	if err := r.persistLocked(ctx); err != nil {
		r.doc.Transactions[idx] = prev
		r.mu.Unlock()
		return core.Transaction{}, err
	}
	r.mu.Unlock()
	r.notify()

	updated, err := r.ledger.UpdateTransaction(ctx, id, d)

	r.mu.Lock()
	if r.staleLocked(epoch) {
		r.mu.Unlock()
		return core.Transaction{}, core.ErrSessionChanged
	}
	if err != nil {
		if i := r.indexLocked(id); i >= 0 {
			r.doc.Transactions[i] = prev
		}
		r.persistAfterNetworkLocked(ctx)
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "Edit rolled back",
			log.FieldOperation, log.OpRollback, log.FieldTxID, id, log.FieldError, err)
		r.notify()
		return core.Transaction{}, err
	}
	if i := r.indexLocked(id); i >= 0 {
		r.doc.Transactions[i] = updated
	}
	r.persistAfterNetworkLocked(ctx)
	email := r.email
	r.mu.Unlock()

	r.notify()
	r.publish(mirror.TypeTransactionUpdated, email, updated)
	return updated, nil
}

// Delete removes id optimistically. If the ledger refuses, the entry is put
// back at the position it held.
func (r *Reconciler) Delete(ctx context.Context, id string) error {
	unlock := r.idLocks.Lock(id)
	defer unlock()

	r.mu.Lock()
	if err := r.checkMutableLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	removed := r.doc.Transactions[idx]
	r.removeLocked(id)
	epoch := r.epoch
	if err := r.persistLocked(ctx); err != nil {
		r.insertLocked(idx, removed)
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	r.notify()

	err := r.ledger.DeleteTransaction(ctx, id)

	r.mu.Lock()
	if r.staleLocked(epoch) {
		r.mu.Unlock()
		return core.ErrSessionChanged
	}
	if err != nil {
		if r.indexLocked(id) < 0 {
			r.insertLocked(idx, removed)
		}
		r.persistAfterNetworkLocked(ctx)
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "Delete rolled back",
			log.FieldOperation, log.OpRollback, log.FieldTxID, id, log.FieldError, err)
		r.notify()
		return err
	}
	email := r.email
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "Transaction deleted", log.FieldOperation, log.OpDelete, log.FieldTxID, id)
	r.publish(mirror.TypeTransactionDeleted, email, removed)
	return nil
}

// Reload replaces the local list with the ledger's. It is refused while any
// optimistic create is in flight, and a failed fetch leaves the list as is.
func (r *Reconciler) Reload(ctx context.Context) error {
	r.mu.Lock()
	if err := r.checkOpenLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if len(r.pending) > 0 {
		r.mu.Unlock()
		return core.ErrReloadSuppressed
	}
	epoch := r.epoch
	r.mu.Unlock()

	txs, err := r.ledger.ListTransactions(ctx, core.Filters{})

	r.mu.Lock()
	if r.staleLocked(epoch) {
		r.mu.Unlock()
		return core.ErrSessionChanged
	}
	if err != nil {
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "Reload failed, keeping local list",
			log.FieldOperation, log.OpReload, log.FieldError, err)
		return err
	}
	if len(r.pending) > 0 {
		r.mu.Unlock()
		return core.ErrReloadSuppressed
	}
	r.doc.Transactions = append(make([]core.Transaction, 0, len(txs)), txs...)
	r.persistAfterNetworkLocked(ctx)
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "Ledger reloaded", log.FieldOperation, log.OpReload, log.FieldCount, len(txs))
	r.notify()
	return nil
}

// Sync reloads the list and fetches stats concurrently. Network failures
// degrade to the local list and zero stats.
func (r *Reconciler) Sync(ctx context.Context) (SyncResult, error) {
	var (
		g        errgroup.Group
		stats    core.Stats
		degraded [2]bool
	)
	g.Go(func() error {
		err := r.Reload(ctx)
		if err == nil {
			return nil
		}
		if core.IsNetwork(err) || errors.Is(err, core.ErrReloadSuppressed) {
			degraded[0] = true
			return nil
		}
		return err
	})
	g.Go(func() error {
		s, err := r.ledger.GetStats(ctx)
		if err == nil {
			stats = s
			return nil
		}
		if core.IsNetwork(err) {
			r.logger.WarnContext(ctx, "Stats unavailable, showing zeros",
				log.FieldOperation, log.OpStats, log.FieldError, err)
			stats = core.ZeroStats()
			degraded[1] = true
			return nil
		}
		return err
	})
	err := g.Wait()

	return SyncResult{
		Transactions: r.Transactions(),
		Stats:        stats,
		Degraded:     degraded[0] || degraded[1],
	}, err
}

// Mutate applies fn to a copy of the document and persists the result only
// when fn succeeds.
func (r *Reconciler) Mutate(ctx context.Context, fn func(*core.Document) error) error {
	return r.mutate(ctx, false, fn)
}

// Replace is Mutate for whole-document rewrites such as restore and reset.
// It refuses with ErrPending while optimistic creates are in flight.
func (r *Reconciler) Replace(ctx context.Context, fn func(*core.Document) error) error {
	return r.mutate(ctx, true, fn)
}

func (r *Reconciler) mutate(ctx context.Context, exclusive bool, fn func(*core.Document) error) error {
	r.mu.Lock()
	if err := r.checkOpenLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if exclusive && len(r.pending) > 0 {
		n := len(r.pending)
		r.mu.Unlock()
		return fmt.Errorf("%d create(s) in flight: %w", n, core.ErrPending)
	}
	next := r.doc.Clone()
	if err := fn(&next); err != nil {
		r.mu.Unlock()
		return err
	}
	next.Normalize()
	prev := r.doc
	r.doc = next
	if err := r.persistLocked(ctx); err != nil {
		r.doc = prev
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

// Transactions returns the list newest first; equal dates keep stored order.
func (r *Reconciler) Transactions() []core.Transaction {
	r.mu.Lock()
	txs := append([]core.Transaction(nil), r.doc.Transactions...)
	r.mu.Unlock()
	core.SortByDateDesc(txs)
	return txs
}

// Document returns a deep copy of the current document.
func (r *Reconciler) Document() core.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Clone()
}

// LocalStats computes totals from the in-memory list.
func (r *Reconciler) LocalStats() core.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.ComputeStats(r.doc.Transactions)
}

func (r *Reconciler) Tier() tier.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tierLocked()
}

// Remaining reports how many creates the free plan still allows, -1 when unlimited.
func (r *Reconciler) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tier.Remaining(len(r.doc.Transactions), r.tierLocked(), r.limit)
}

// Pending reports how many optimistic creates await the ledger.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reconciler) ProKey() string {
	return r.proKey
}

func (r *Reconciler) checkOpenLocked() error {
	if !r.open {
		return core.ErrNotAuthenticated
	}
	if r.sess.Epoch() != r.epoch {
		return core.ErrSessionChanged
	}
	return nil
}

func (r *Reconciler) checkMutableLocked(id string) error {
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := r.pending[id]; ok {
		return fmt.Errorf("transaction %s: %w", id, core.ErrPending)
	}
	return nil
}

func (r *Reconciler) staleLocked(epoch uint64) bool {
	return !r.open || r.epoch != epoch || r.sess.Epoch() != epoch
}

func (r *Reconciler) tierLocked() tier.Tier {
	var plan core.Plan
	if sess, ok := r.sess.Current(); ok {
		plan = sess.User.Plan
	}
	return tier.Resolve(plan, r.doc.TierKey, r.proKey)
}

func (r *Reconciler) persistLocked(ctx context.Context) error {
	return r.store.SaveDocument(ctx, r.email, r.doc)
}

// persistAfterNetworkLocked writes the document once the ledger has answered.
// The ledger already holds the truth, so a failed local write is only logged.
func (r *Reconciler) persistAfterNetworkLocked(ctx context.Context) {
	if err := r.store.SaveDocument(context.WithoutCancel(ctx), r.email, r.doc); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist state document",
			log.FieldOperation, log.OpPersist, log.FieldError, err)
	}
}

func (r *Reconciler) indexLocked(id string) int {
	for i, tx := range r.doc.Transactions {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) removeLocked(id string) {
	if i := r.indexLocked(id); i >= 0 {
		r.doc.Transactions = append(r.doc.Transactions[:i:i], r.doc.Transactions[i+1:]...)
	}
}

func (r *Reconciler) insertLocked(idx int, tx core.Transaction) {
	if idx > len(r.doc.Transactions) {
		idx = len(r.doc.Transactions)
	}
	txs := make([]core.Transaction, 0, len(r.doc.Transactions)+1)
	txs = append(txs, r.doc.Transactions[:idx]...)
	txs = append(txs, tx)
	txs = append(txs, r.doc.Transactions[idx:]...)
	r.doc.Transactions = txs
}

// replaceLocked swaps the provisional entry for the committed record.
func (r *Reconciler) replaceLocked(provisionalID string, tx core.Transaction) {
	if i := r.indexLocked(provisionalID); i >= 0 {
		r.doc.Transactions[i] = tx
		return
	}
	r.doc.Transactions = append([]core.Transaction{tx}, r.doc.Transactions...)
}

// dropProvisional removes entries whose create never got an answer.
func dropProvisional(doc *core.Document) int {
	kept := doc.Transactions[:0]
	for _, tx := range doc.Transactions {
		if !strings.HasPrefix(tx.ID, provisionalPrefix) {
			kept = append(kept, tx)
		}
	}
	n := len(doc.Transactions) - len(kept)
	doc.Transactions = kept
	return n
}

func (r *Reconciler) publish(eventType, email string, tx core.Transaction) {
	if r.mirror == nil {
		return
	}
	r.mirror.Publish(mirror.NewEvent(
		mirror.WithType(eventType),
		mirror.WithEmail(email),
		mirror.WithTransaction(tx),
		mirror.WithMetadata("device", r.deviceID),
	))
}
