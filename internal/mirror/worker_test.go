package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"thebox/internal/core"
	"thebox/internal/log"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNewEvent(t *testing.T) {
	tx := core.Transaction{ID: "t1", Category: "Peças"}
	e := NewEvent(WithType(TypeTransactionCreated), WithEmail("ana@box.com"), WithTransaction(tx), WithMetadata("device", "d1"))

	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("event missing id or timestamp: %+v", e)
	}
	if e.Type != TypeTransactionCreated || e.Email != "ana@box.com" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Transaction == nil || e.Transaction.ID != "t1" {
		t.Errorf("transaction not attached: %+v", e.Transaction)
	}
	if e.Metadata["device"] != "d1" {
		t.Errorf("metadata = %v", e.Metadata)
	}
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	w := NewWorker(sink, 10, log.Discard())
	w.Start()

	for i := 0; i < 5; i++ {
		w.Publish(NewEvent(WithType(TypeTransactionDeleted)))
	}
	w.Shutdown()

	if got := sink.count(); got != 5 {
		t.Errorf("delivered %d events, want 5", got)
	}
	w.Shutdown()
}

func TestWorkerPublishNeverBlocks(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	w := NewWorker(sink, 1, log.Discard())
	w.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			w.Publish(NewEvent(WithType(TypeTransactionCreated)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	close(sink.block)
	w.Shutdown()

	if got := sink.count(); got == 0 || got > 2 {
		t.Errorf("delivered %d events, want 1 or 2", got)
	}
}

func TestWorkerSurvivesSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	w := NewWorker(sink, 4, log.Discard())
	w.Start()
	w.Publish(NewEvent(WithType(TypeTransactionCreated)))
	w.Publish(NewEvent(WithType(TypeTransactionCreated)))
	w.Shutdown()

	if got := sink.count(); got != 2 {
		t.Errorf("delivered %d events, want 2", got)
	}
}
