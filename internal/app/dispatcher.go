/**
 * @description
 * The notification dispatcher forwards accrual events to the sink and enforces
 * the per-loan dedup rules: one amount_increase per distinct amount and a single
 * repayment_completed ever. Dedup is decided on the caller's goroutine; with
 * WithAsyncDelivery the sink call itself happens on a background worker so a
 * slow broker never holds up a tick.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

const defaultSendTimeout = 5 * time.Second

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendTimeout bounds every sink call.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithAsyncDelivery hands admitted events to a background worker through a
// queue of the given size. Events arriving while the queue is full are dropped
// and logged. Close must be called to drain the queue.
func WithAsyncDelivery(queueSize int) DispatcherOption {
	return func(d *Dispatcher) {
		if queueSize < 1 {
			queueSize = 1
		}
		d.queue = make(chan domain.NotificationEvent, queueSize)
	}
}

// Dispatcher deduplicates events before handing them to the sink.
type Dispatcher struct {
	sink        NotificationSink
	logger      *slog.Logger
	metrics     *Metrics
	sendTimeout time.Duration

	mu        sync.Mutex
	highWater map[string]decimal.Decimal
	completed map[string]bool

	queueMu sync.RWMutex
	queue   chan domain.NotificationEvent
	closed  bool
	worker  sync.WaitGroup
}

func NewDispatcher(sink NotificationSink, logger *slog.Logger, metrics *Metrics, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:        sink,
		logger:      logger,
		metrics:     metrics,
		sendTimeout: defaultSendTimeout,
		highWater:   make(map[string]decimal.Decimal),
		completed:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.queue != nil {
		d.worker.Add(1)
		go d.deliverQueued()
	}
	return d
}

// Prime seeds the dedup state for a loan from persisted values so a restart does
// not repeat notifications that were already sent.
func (d *Dispatcher) Prime(loanID string, lastNotified decimal.Decimal, completed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.highWater[loanID]; !ok || lastNotified.GreaterThan(current) {
		d.highWater[loanID] = lastNotified
	}
	if completed {
		d.completed[loanID] = true
	}
}

// Notify forwards the event unless it duplicates one already sent. It reports
// whether the event was admitted. Sink errors are logged, not retried.
func (d *Dispatcher) Notify(ctx context.Context, event domain.NotificationEvent) bool {
	if !d.admit(event) {
		d.logger.Debug("suppressed duplicate notification", "loan_id", event.LoanID, "kind", event.Kind)
		d.metrics.notified(string(event.Kind), "suppressed")
		return false
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	if d.enqueue(event) {
		return true
	}
	d.deliver(ctx, event)
	return true
}

// Close stops accepting queued events and waits until the queue is drained.
// It is a no-op for synchronous dispatchers.
func (d *Dispatcher) Close() {
	d.queueMu.Lock()
	if d.queue == nil || d.closed {
		d.queueMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.queueMu.Unlock()

	d.worker.Wait()
}

// enqueue reports whether the event was taken over by the async worker.
func (d *Dispatcher) enqueue(event domain.NotificationEvent) bool {
	d.queueMu.RLock()
	defer d.queueMu.RUnlock()

	if d.queue == nil {
		return false
	}
	if d.closed {
		d.logger.Warn("dispatcher closed; delivering notification inline", "loan_id", event.LoanID, "kind", event.Kind)
		return false
	}

	select {
	case d.queue <- event:
	default:
		d.logger.Error("notification queue full; dropping event", "loan_id", event.LoanID, "kind", event.Kind, "event_id", event.EventID)
		d.metrics.notified(string(event.Kind), "dropped")
	}
	return true
}

func (d *Dispatcher) deliverQueued() {
	defer d.worker.Done()
	for event := range d.queue {
		d.deliver(context.Background(), event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event domain.NotificationEvent) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	if err := d.sink.Send(sendCtx, event); err != nil {
		d.logger.Error("failed to deliver notification", "loan_id", event.LoanID, "kind", event.Kind, "event_id", event.EventID, "error", err)
		d.metrics.notified(string(event.Kind), "failed")
		return
	}

	d.logger.Info("notification dispatched", "loan_id", event.LoanID, "kind", event.Kind, "event_id", event.EventID)
	d.metrics.notified(string(event.Kind), "sent")
}

func (d *Dispatcher) admit(event domain.NotificationEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch event.Kind {
	case domain.EventAmountIncrease:
		if event.NewAmount == nil {
			return false
		}
		if last, ok := d.highWater[event.LoanID]; ok && !event.NewAmount.GreaterThan(last) {
			return false
		}
		d.highWater[event.LoanID] = *event.NewAmount
		return true
	case domain.EventRepaymentCompleted:
		if d.completed[event.LoanID] {
			return false
		}
		d.completed[event.LoanID] = true
		return true
	default:
		return false
	}
}
