package mirror

import (
	"context"
	"sync"

	"thebox/internal/log"
)

// Worker forwards events to a Sink from a single goroutine. Publish never
// blocks; when the buffer is full the event is dropped.
type Worker struct {
	eventCh chan Event
	sink    Sink
	logger  *log.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func NewWorker(sink Sink, bufferSize int, logger *log.Logger) *Worker {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventCh: make(chan Event, bufferSize),
		sink:    sink,
		logger:  logger.WithComponent(log.ComponentMirror),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				w.logger.Info("Draining events before shutdown", "remaining_events", len(w.eventCh))
				for len(w.eventCh) > 0 {
					w.deliver(context.Background(), <-w.eventCh)
				}
				return
			case event := <-w.eventCh:
				w.deliver(w.ctx, event)
			}
		}
	}()
}

func (w *Worker) deliver(ctx context.Context, e Event) {
	if err := w.sink.Deliver(ctx, e); err != nil {
		w.logger.Error("Failed to deliver event",
			log.FieldError, err,
			log.FieldEventType, e.Type)
	}
}

// Publish queues an event for delivery.
func (w *Worker) Publish(e Event) {
	select {
	case w.eventCh <- e:
	default:
		w.logger.Warn("Event channel full, dropping event", log.FieldEventType, e.Type)
	}
}

// Shutdown stops the worker after delivering everything already queued.
func (w *Worker) Shutdown() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
	})
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Deliver(context.Context, Event) error { return nil }
