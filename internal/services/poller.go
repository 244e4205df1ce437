package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"thebox/internal/core"
	"thebox/internal/log"
	"thebox/internal/reconciler"
)

// Syncer is satisfied by reconciler.Reconciler.
type Syncer interface {
	Sync(ctx context.Context) (reconciler.SyncResult, error)
}

// PollerConfig holds configuration for the background sync poller
type PollerConfig struct {
	// Interval is how often the ledger is re-read (default: 30s)
	Interval time.Duration

	// OnSync receives every successful sync result
	OnSync func(reconciler.SyncResult)
}

// DefaultPollerConfig returns sensible defaults
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 30 * time.Second}
}

// Poller keeps the local list fresh by syncing on a fixed interval. It stops
// on its own when the session is gone.
type Poller struct {
	syncer Syncer
	config PollerConfig
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(syncer Syncer, config PollerConfig, logger *log.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultPollerConfig().Interval
	}
	return &Poller{
		syncer: syncer,
		config: config,
		logger: logger.WithComponent(log.ComponentReconciler),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run(ctx, p.stopCh, p.doneCh)

	p.logger.InfoContext(ctx, "Sync poller started", "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for it to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync poller stop timed out")
		return ctx.Err()
	}
}

// Done is closed when the loop exits. Nil before Start.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if !p.tick(ctx) {
		p.markStopped(stopCh)
		return
	}
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			p.markStopped(stopCh)
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				p.markStopped(stopCh)
				return
			}
		}
	}
}

// tick runs one sync and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context) bool {
	res, err := p.syncer.Sync(ctx)
	switch {
	case err == nil:
		if res.Degraded {
			p.logger.DebugContext(ctx, "Sync degraded, keeping local data")
		}
		if p.config.OnSync != nil {
			p.config.OnSync(res)
		}
		return true
	case errors.Is(err, core.ErrNotAuthenticated), errors.Is(err, core.ErrSessionChanged), core.IsAuthKind(err, core.AuthRefreshInvalid):
		p.logger.InfoContext(ctx, "Session ended, stopping sync poller", log.FieldError, err)
		return false
	default:
		p.logger.WarnContext(ctx, "Sync failed", log.FieldError, err)
		return true
	}
}

func (p *Poller) markStopped(stopCh <-chan struct{}) {
	p.mu.Lock()
	if p.stopCh == stopCh {
		p.running = false
	}
	p.mu.Unlock()
}
