/**
 * @description
 * The accrual engine drives a single loan: it resumes or creates the loan's
 * persisted state, and on every tick recomputes the balance from the start time,
 * refreshes the countdown, notifies on increases and completes the loan once the
 * deadline passes.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/transfa/loan-accrual-service/internal/accrual"
	"github.com/transfa/loan-accrual-service/internal/domain"
	"github.com/transfa/loan-accrual-service/internal/store"
)

const (
	defaultTickInterval = time.Second
	defaultSaveTimeout  = 2 * time.Second
)

// EngineConfig tunes the tick loop.
type EngineConfig struct {
	TickInterval time.Duration
	SaveTimeout  time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = defaultSaveTimeout
	}
	return c
}

// Engine owns the accrual state of one loan. Start and Tick must be called from
// a single goroutine; Snapshot and State are safe to call concurrently.
type Engine struct {
	terms      domain.LoanTerms
	period     accrual.Period
	repo       store.StateRepository
	dispatcher *Dispatcher
	clock      Clock
	logger     *slog.Logger
	metrics    *Metrics
	config     EngineConfig

	state        domain.AccrualState
	pendingWrite bool

	mu        sync.RWMutex
	published domain.AccrualState
	countdown string
}

// NewEngine builds an engine for the given terms. A malformed period string is
// logged and replaced by an already-elapsed fallback period.
func NewEngine(
	terms domain.LoanTerms,
	repo store.StateRepository,
	dispatcher *Dispatcher,
	clock Clock,
	logger *slog.Logger,
	metrics *Metrics,
	cfg EngineConfig,
) *Engine {
	logger = logger.With("loan_id", terms.LoanID)

	period, err := accrual.ParsePeriod(terms.PeriodSpec)
	if err != nil {
		logger.Warn("invalid repayment period; treating loan as already due", "period_spec", terms.PeriodSpec, "error", err)
	}

	return &Engine{
		terms:      terms,
		period:     period,
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		config:     cfg.withDefaults(),
	}
}

// Start loads the persisted state or creates it. A completed loan is left as is
// and will not tick.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.terms.Validate(); err != nil {
		return errors.Join(ErrCannotInitialize, err)
	}

	now := e.clock.Now()
	existing, err := e.repo.Load(ctx, e.terms.LoanID)
	switch {
	case err == nil && existing.Completed:
		e.state = *existing
		e.dispatcher.Prime(e.state.LoanID, e.state.LastNotifiedAmount, true)
		e.publish(domain.CountdownCompleted)
		e.logger.Info("loan already completed; not ticking", "amount", accrual.FormatAmount(e.state.CurrentAmount))
		return nil
	case err == nil:
		e.state = existing.WithTerms(e.terms)
		e.dispatcher.Prime(e.state.LoanID, e.state.LastNotifiedAmount, false)
		e.publish(accrual.FormatCountdown(e.remaining(now), e.period.Unit))
		e.logger.Info("resuming loan accrual", "start_time", e.state.StartTime, "amount", accrual.FormatAmount(e.state.CurrentAmount))
		return nil
	case !errors.Is(err, store.ErrStateNotFound):
		// A failed read is handled like a missing record; accrued progress is
		// rebuilt from now if the record did exist.
		e.logger.Warn("failed to load accrual state; initializing a new record", "error", err)
	}

	e.state = domain.NewAccrualState(e.terms, now)
	e.dispatcher.Prime(e.state.LoanID, e.state.LastNotifiedAmount, false)
	e.publish(accrual.FormatCountdown(e.remaining(now), e.period.Unit))
	e.pendingWrite = true
	e.flush(ctx)
	e.logger.Info("started new loan accrual", "start_time", e.state.StartTime, "period", e.period.String())
	return nil
}

// Done reports whether the loan has completed and its final state is stored.
func (e *Engine) Done() bool {
	return e.state.Completed && !e.pendingWrite
}

// Tick advances the loan to now. It returns true once the loop should stop for good.
func (e *Engine) Tick(ctx context.Context, now time.Time) bool {
	if e.state.Completed {
		e.flush(ctx)
		return e.Done()
	}
	e.metrics.tick()

	elapsed := now.Sub(e.state.StartTime)
	remaining := e.remaining(now)
	periods := accrual.ElapsedWholePeriods(elapsed, e.period.UnitDuration())
	newAmount := accrual.Accrue(e.state.Principal, e.state.RatePerPeriod, periods)

	var increase *domain.NotificationEvent
	if newAmount.GreaterThan(e.state.CurrentAmount) {
		if periods > 0 {
			event := domain.NewAmountIncreaseEvent(e.state, e.state.CurrentAmount, newAmount, now)
			increase = &event
			e.state.LastNotifiedAmount = newAmount
		}
		e.state.CurrentAmount = newAmount
	}

	completing := remaining <= 0
	if completing {
		// Complete only errors on an already completed state, ruled out above.
		_ = e.state.Complete(now)
	}

	// Display and persistence come first; notifications go out last so a slow
	// sink cannot hold back either.
	e.publish(accrual.FormatCountdown(remaining, e.period.Unit))
	e.pendingWrite = true
	e.flush(ctx)

	if increase != nil {
		e.dispatcher.Notify(ctx, *increase)
	}
	if completing {
		e.metrics.completed()
		e.logger.Info("loan repayment period completed", "amount", accrual.FormatAmount(e.state.CurrentAmount))
		e.dispatcher.Notify(ctx, domain.NewRepaymentCompletedEvent(e.state, now))
	}
	return e.Done()
}

// Run ticks at the configured interval until the loan completes or ctx is done.
// Cancellation is checked before every tick.
func (e *Engine) Run(ctx context.Context) {
	if e.Done() {
		return
	}
	if e.Tick(ctx, e.clock.Now()) {
		return
	}

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.flush(ctx)
			e.logger.Info("loan accrual stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
		}

		if ctx.Err() != nil {
			continue
		}
		if e.Tick(ctx, e.clock.Now()) {
			return
		}
	}
}

// Snapshot returns the current read model.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := e.published
	status := domain.StatusRunning
	if state.Completed {
		status = domain.StatusCompleted
	}
	startTime := state.StartTime
	return domain.Snapshot{
		LoanID:        state.LoanID,
		Title:         state.Title,
		Status:        status,
		Principal:     state.Principal,
		RatePerPeriod: state.RatePerPeriod,
		PeriodSpec:    state.PeriodSpec,
		CurrentAmount: accrual.FormatAmount(state.CurrentAmount),
		Countdown:     e.countdown,
		StartTime:     &startTime,
		CompletedAt:   state.CompletedAt,
	}
}

// State returns a copy of the last published state.
func (e *Engine) State() domain.AccrualState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published
}

func (e *Engine) remaining(now time.Time) time.Duration {
	return accrual.Remaining(e.period.Total(), now.Sub(e.state.StartTime))
}

func (e *Engine) publish(countdown string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.published = e.state
	e.countdown = countdown
}

// flush writes the in-memory state if a write is pending. Failures keep the
// write pending for the next tick.
func (e *Engine) flush(ctx context.Context) {
	if !e.pendingWrite {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.SaveTimeout)
	defer cancel()

	if err := e.repo.Save(saveCtx, e.state); err != nil {
		e.metrics.saveFailed()
		e.logger.Error("failed to persist accrual state; retrying on next tick", "error", err)
		return
	}
	e.pendingWrite = false
}
