// Package backend assembles the storage, ledger and session stack from configuration.
package backend

import (
	"context"
	"time"

	"thebox/internal/kv"
	"thebox/internal/local"
	"thebox/internal/reconciler"
	"thebox/internal/remote"
	"thebox/internal/session"
	"thebox/internal/statestore"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Backend is the wired client stack.
type Backend struct {
	Store      kv.Store
	State      *statestore.Store
	Session    *session.Manager
	Ledger     reconciler.Ledger
	Reconciler *reconciler.Reconciler
	// Mirror is nil when no broker is configured.
	Mirror reconciler.Mirror

	// Remote is set in remote ledger mode, Accounts in local mode.
	Remote   *remote.Client
	Accounts *local.Accounts

	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*Backend, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type       BackendType
	LedgerMode LedgerMode

	// File specific
	DataDirectory string

	// SQLite specific
	SQLiteDBPath string

	// Remote ledger
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Local ledger
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	DeviceID  string
	ProKey    string
	FreeLimit int

	// Mirror, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	MirrorBuffer int
}

// BackendType names the kv store holding local state.
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}

// LedgerMode selects where transactions are authoritative.
type LedgerMode string

const (
	RemoteLedger LedgerMode = "remote"
	LocalLedger  LedgerMode = "local"
)

func (m LedgerMode) IsValid() bool {
	return m == RemoteLedger || m == LocalLedger
}
