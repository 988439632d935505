// Package analytics delivers lifecycle signals (sign_up, subscribe, cancel)
// to a sink without ever blocking the request that produced them. Delivery
// is best-effort: a full buffer or a failing sink drops the signal and the
// triggering state change stands.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signal is one emitted lifecycle event.
type Signal struct {
	AccountID  uuid.UUID
	Name       string
	Properties map[string]any
	OccurredAt time.Time
}

// Sink receives signals in order of emission from a single worker.
type Sink interface {
	Deliver(ctx context.Context, s Signal) error
}

// Options configures the tracker's buffering behavior.
type Options struct {
	// BufferSize caps queued signals before new ones are dropped.
	BufferSize int
	// DeliveryTimeout bounds each sink call.
	DeliveryTimeout time.Duration
}

// Tracker queues signals for asynchronous delivery.
type Tracker struct {
	sink    Sink
	queue   chan Signal
	done    chan struct{}
	wg      sync.WaitGroup
	options Options
	log     *slog.Logger

	closeOnce sync.Once
}

// NewTracker starts the delivery worker. Close must be called during
// shutdown to drain the queue.
func NewTracker(sink Sink, opts Options, log *slog.Logger) *Tracker {
	if sink == nil {
		panic("analytics: sink is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}

	t := &Tracker{
		sink:    sink,
		queue:   make(chan Signal, opts.BufferSize),
		done:    make(chan struct{}),
		options: opts,
		log:     log,
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

// Track enqueues a signal. Never blocks: when the buffer is full the signal
// is dropped with a log line, because analytics loss is preferable to
// stalling a reconciliation response.
func (t *Tracker) Track(ctx context.Context, accountID uuid.UUID, signal string, props map[string]any) {
	s := Signal{
		AccountID:  accountID,
		Name:       signal,
		Properties: props,
		OccurredAt: time.Now().UTC(),
	}
	select {
	case t.queue <- s:
	case <-t.done:
	default:
		t.log.WarnContext(ctx, "analytics buffer full, signal dropped",
			"signal", signal, "account_id", accountID)
	}
}

func (t *Tracker) worker() {
	defer t.wg.Done()
	for {
		select {
		case s := <-t.queue:
			t.deliver(s)
		case <-t.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case s := <-t.queue:
					t.deliver(s)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) deliver(s Signal) {
	// Detached from the request context so a client disconnect cannot
	// cancel delivery mid-flight.
	ctx, cancel := context.WithTimeout(context.Background(), t.options.DeliveryTimeout)
	defer cancel()

	if err := t.sink.Deliver(ctx, s); err != nil {
		t.log.Warn("analytics delivery failed",
			"signal", s.Name, "account_id", s.AccountID, "error", err)
	}
}

// Close stops the worker after draining queued signals. The context bounds
// how long the drain may take.
func (t *Tracker) Close(ctx context.Context) error {
	t.closeOnce.Do(func() { close(t.done) })

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
