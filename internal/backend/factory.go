package backend

import (
	"context"
	"errors"
	"fmt"

	"thebox/internal/amqp"
	"thebox/internal/core"
	"thebox/internal/kv"
	"thebox/internal/kv/file"
	"thebox/internal/kv/memory"
	"thebox/internal/local"
	"thebox/internal/log"
	"thebox/internal/mirror"
	"thebox/internal/reconciler"
	"thebox/internal/remote"
	"thebox/internal/session"
	"thebox/internal/statestore"
	"thebox/internal/storage"
	"thebox/internal/tier"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var cleanups []func() error
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			errs = append(errs, cleanups[i]())
		}
		return errors.Join(errs...)
	}

	store, closeStore, err := f.createStore(config)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		cleanups = append(cleanups, closeStore)
	}

	state := statestore.New(store, f.logger)
	b := &Backend{Store: store, State: state}

	switch config.LedgerMode {
	case RemoteLedger:
		client := remote.New(config.APIBaseURL, config.HTTPTimeout, f.logger)
		b.Remote = client
		b.Session = session.NewManager(client, state, f.logger)
		client.Bind(b.Session)
		b.Ledger = client
	case LocalLedger:
		accounts := local.NewAccounts(store, config.AccessTokenTTL, config.RefreshTokenTTL, f.logger)
		b.Accounts = accounts
		b.Session = session.NewManager(accounts, state, f.logger)
		b.Ledger = local.NewLedger(store, b.Session, config.FreeLimit, licenseTier(state, config.ProKey), f.logger)
	}

	if config.AMQPURL != "" {
		publisher, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without mirror", log.FieldError, err)
		} else {
			worker := mirror.NewWorker(publisher, config.MirrorBuffer, f.logger)
			worker.Start()
			b.Mirror = worker
			cleanups = append(cleanups, func() error {
				worker.Shutdown()
				return publisher.Close()
			})
			f.logger.Info("Initialized AMQP mirror",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	b.Reconciler = reconciler.New(b.Ledger, state, b.Session, f.logger, reconciler.Options{
		DeviceID:  config.DeviceID,
		ProKey:    config.ProKey,
		FreeLimit: config.FreeLimit,
		Mirror:    b.Mirror,
	})
	b.Session.OnLogout(b.Reconciler.Close)
	b.Cleanup = cleanup

	f.logger.Info("Initialized backend",
		log.FieldBackend, config.Type.String(),
		"ledger_mode", string(config.LedgerMode),
		"mirror_enabled", b.Mirror != nil)
	return b, nil
}

// OpenStore opens just the kv store named by config. The dev server keeps its
// accounts and ledgers there.
func OpenStore(config Config) (kv.Store, func() error, error) {
	return (&DefaultFactory{}).createStore(config)
}

func (f *DefaultFactory) createStore(config Config) (kv.Store, func() error, error) {
	switch config.Type {
	case MemoryBackend:
		return memory.New(), nil, nil
	case FileBackend:
		store, err := file.New(config.DataDirectory)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize file store: %w", err)
		}
		return store, nil, nil
	case SQLiteBackend:
		store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// licenseTier lets an on-device license key lift the local ledger's cap, the
// same way it lifts the client-side gate.
func licenseTier(state *statestore.Store, proKey string) local.TierFunc {
	return func(ctx context.Context, u core.User) tier.Tier {
		doc, err := state.LoadDocument(ctx, u.Email)
		if err != nil {
			return tier.Resolve(u.Plan, "", "")
		}
		return tier.Resolve(u.Plan, doc.TierKey, proKey)
	}
}
