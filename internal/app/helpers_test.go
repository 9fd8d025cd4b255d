package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/loan-accrual-service/internal/domain"
	"github.com/transfa/loan-accrual-service/internal/store"
)

var testStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
	err    error
}

func (s *recordingSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []domain.NotificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NotificationEvent(nil), s.events...)
}

func (s *recordingSink) count(kind domain.EventKind) int {
	n := 0
	for _, e := range s.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// flakyRepo fails the first failSaves saves and can fail every load.
type flakyRepo struct {
	store.StateRepository

	mu        sync.Mutex
	failSaves int
	loadErr   error
	saves     int
}

func (r *flakyRepo) Save(ctx context.Context, state domain.AccrualState) error {
	r.mu.Lock()
	r.saves++
	if r.failSaves > 0 {
		r.failSaves--
		r.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	r.mu.Unlock()
	return r.StateRepository.Save(ctx, state)
}

func (r *flakyRepo) Load(ctx context.Context, loanID string) (*domain.AccrualState, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.StateRepository.Load(ctx, loanID)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loanTerms(loanID, principal, rate, period string) domain.LoanTerms {
	return domain.LoanTerms{
		LoanID:        loanID,
		Title:         "Loan " + loanID,
		Principal:     decimal.RequireFromString(principal),
		RatePerPeriod: decimal.RequireFromString(rate),
		PeriodSpec:    period,
	}
}

type engineHarness struct {
	repo       store.StateRepository
	sink       *recordingSink
	dispatcher *Dispatcher
	clock      *fakeClock
}

func newHarness(repo store.StateRepository) *engineHarness {
	sink := &recordingSink{}
	return &engineHarness{
		repo:       repo,
		sink:       sink,
		dispatcher: NewDispatcher(sink, discardLogger(), nil),
		clock:      newFakeClock(testStart),
	}
}

func (h *engineHarness) engine(terms domain.LoanTerms) *Engine {
	return NewEngine(terms, h.repo, h.dispatcher, h.clock, discardLogger(), nil, EngineConfig{})
}

// restart simulates a new process: fresh dispatcher memory, same store and sink.
func (h *engineHarness) restart() {
	h.dispatcher = NewDispatcher(h.sink, discardLogger(), nil)
}

// blockingSink holds every Send until release is closed. started receives once
// per Send that has begun.
type blockingSink struct {
	recordingSink
	started chan struct{}
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockingSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.recordingSink.Send(ctx, event)
}

type callbackSink struct {
	onSend func(domain.NotificationEvent)
}

func (s callbackSink) Send(ctx context.Context, event domain.NotificationEvent) error {
	s.onSend(event)
	return nil
}
