// Package mirror carries ledger events to secondary sinks (a message broker,
// a spreadsheet) without ever blocking the code that produced them.
package mirror

import (
	"context"
	"time"

	"github.com/google/uuid"

	"thebox/internal/core"
)

const (
	TypeTransactionCreated = "transaction.created"
	TypeTransactionUpdated = "transaction.updated"
	TypeTransactionDeleted = "transaction.deleted"
	TypeUserRegistered     = "user.registered"
)

type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"event_type"`
	Email       string            `json:"email,omitempty"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Metadata    map[string]string `json:"event_metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Sink delivers one event somewhere durable.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

type EventOption func(*Event)

func WithType(eventType string) EventOption {
	return func(e *Event) {
		e.Type = eventType
	}
}

func WithEmail(email string) EventOption {
	return func(e *Event) {
		e.Email = email
	}
}

func WithTransaction(tx core.Transaction) EventOption {
	return func(e *Event) {
		e.Transaction = &tx
	}
}

func WithMetadata(key, value string) EventOption {
	return func(e *Event) {
		e.Metadata[key] = value
	}
}

func NewEvent(opts ...EventOption) Event {
	e := Event{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
