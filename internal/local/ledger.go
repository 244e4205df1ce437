package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/log"
	"thebox/internal/tier"
)

const (
	ledgerPrefix    = "ledger:"
	defaultDeviceID = "unknown"
)

// Identity tells the ledger whose entries it is serving.
type Identity interface {
	Current() (core.Session, bool)
}

// TierFunc decides the tier of the signed-in user; the default only looks at the plan.
type TierFunc func(ctx context.Context, u core.User) tier.Tier

// Ledger keeps each user's transactions under one kv key and enforces the
// free plan cap the same way the backend does.
type Ledger struct {
	store  kv.Store
	id     Identity
	limit  int
	tierOf TierFunc
	logger *log.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewLedger(store kv.Store, id Identity, limit int, tierOf TierFunc, logger *log.Logger) *Ledger {
	if limit <= 0 {
		limit = tier.FreeLimit
	}
	if tierOf == nil {
		tierOf = func(_ context.Context, u core.User) tier.Tier {
			return tier.Resolve(u.Plan, "", "")
		}
	}
	return &Ledger{
		store:  store,
		id:     id,
		limit:  limit,
		tierOf: tierOf,
		logger: logger.WithComponent(log.ComponentLocal),
		now:    time.Now,
	}
}

func (l *Ledger) user() (core.User, error) {
	sess, ok := l.id.Current()
	if !ok || sess.User.ID == "" {
		return core.User{}, core.ErrNotAuthenticated
	}
	return sess.User, nil
}

// ListTransactions returns the user's entries newest first.
func (l *Ledger) ListTransactions(ctx context.Context, f core.Filters) ([]core.Transaction, error) {
	u, err := l.user()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	txs, err := l.load(ctx, u.ID)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	txs = f.Apply(txs)
	core.SortByDateDesc(txs)
	return txs, nil
}

func (l *Ledger) CreateTransaction(ctx context.Context, d core.Draft, deviceID string) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	u, err := l.user()
	if err != nil {
		return core.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.load(ctx, u.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	if !tier.CanMutateWithin(len(txs), l.tierOf(ctx, u), l.limit) {
		return core.Transaction{}, fmt.Errorf("%w: limit of %d transactions reached", core.ErrQuotaExceeded, l.limit)
	}
	if deviceID == "" {
		deviceID = defaultDeviceID
	}
	tx := core.Transaction{
		ID:          uuid.NewString(),
		Type:        d.Type,
		Category:    d.Category,
		Description: d.Description,
		Amount:      d.Amount.Round(2),
		Date:        d.Date,
		DeviceID:    deviceID,
		UpdatedAt:   l.now().UTC(),
	}
	txs = append([]core.Transaction{tx}, txs...)
	if err := l.save(ctx, u.ID, txs); err != nil {
		return core.Transaction{}, err
	}
	l.logger.DebugContext(ctx, "Transaction stored",
		log.NewFields().WithOperation(log.OpCreate).WithTransaction(tx.ID, string(tx.Type), tx.Category, tx.Amount.String()).ToSlice()...)
	return tx, nil
}

func (l *Ledger) UpdateTransaction(ctx context.Context, id string, d core.Draft) (core.Transaction, error) {
	if err := d.Validate(); err != nil {
		return core.Transaction{}, err
	}
	u, err := l.user()
	if err != nil {
		return core.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.load(ctx, u.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	for i := range txs {
		if txs[i].ID != id {
			continue
		}
		txs[i].Type = d.Type
		txs[i].Category = d.Category
		txs[i].Description = d.Description
		txs[i].Amount = d.Amount.Round(2)
		txs[i].Date = d.Date
		txs[i].UpdatedAt = l.now().UTC()
		if err := l.save(ctx, u.ID, txs); err != nil {
			return core.Transaction{}, err
		}
		return txs[i], nil
	}
	return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
}

// DeleteTransaction removes id; an unknown id is not an error.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) error {
	u, err := l.user()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.load(ctx, u.ID)
	if err != nil {
		return err
	}
	out := txs[:0]
	for _, tx := range txs {
		if tx.ID != id {
			out = append(out, tx)
		}
	}
	if len(out) == len(txs) {
		return nil
	}
	return l.save(ctx, u.ID, out)
}

func (l *Ledger) GetStats(ctx context.Context) (core.Stats, error) {
	txs, err := l.ListTransactions(ctx, core.Filters{})
	if err != nil {
		return core.Stats{}, err
	}
	return core.ComputeStats(txs), nil
}

func (l *Ledger) load(ctx context.Context, userID string) ([]core.Transaction, error) {
	var txs []core.Transaction
	err := kv.GetJSON(ctx, l.store, ledgerPrefix+userID, &txs)
	if errors.Is(err, kv.ErrNotFound) {
		return []core.Transaction{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return txs, nil
}

func (l *Ledger) save(ctx context.Context, userID string, txs []core.Transaction) error {
	if err := kv.PutJSON(ctx, l.store, ledgerPrefix+userID, txs); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
