/**
 * @description
 * The supervisor is the host-facing entry point. It guarantees at most one
 * running engine per loan in this process, records loans that could not be
 * initialized, and re-attaches stored loans after a restart.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/transfa/loan-accrual-service/internal/accrual"
	"github.com/transfa/loan-accrual-service/internal/domain"
	"github.com/transfa/loan-accrual-service/internal/store"
)

// ErrLoanNotWatched is returned by Status for loans with no engine and no stored state.
var ErrLoanNotWatched = errors.New("loan is not being watched")

type runningEngine struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor manages the engines of all watched loans.
type Supervisor struct {
	repo       store.StateRepository
	terms      TermsProvider
	dispatcher *Dispatcher
	clock      Clock
	logger     *slog.Logger
	metrics    *Metrics
	config     EngineConfig

	baseCtx    context.Context
	cancelBase context.CancelFunc

	// startMu serializes Watch/Unwatch so a loan is never started twice; mu only
	// guards the maps and is never held across I/O.
	startMu     sync.Mutex
	mu          sync.RWMutex
	engines     map[string]*runningEngine
	unavailable map[string]string
	wg          sync.WaitGroup
}

func NewSupervisor(
	repo store.StateRepository,
	terms TermsProvider,
	dispatcher *Dispatcher,
	clock Clock,
	logger *slog.Logger,
	metrics *Metrics,
	cfg EngineConfig,
) *Supervisor {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		repo:        repo,
		terms:       terms,
		dispatcher:  dispatcher,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		config:      cfg,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		engines:     make(map[string]*runningEngine),
		unavailable: make(map[string]string),
	}
}

// Watch starts ticking a loan, or returns the snapshot of the engine already
// driving it. Missing terms or invalid terms yield ErrCannotInitialize and the
// loan is reported as unavailable until a later Watch succeeds.
func (s *Supervisor) Watch(ctx context.Context, loanID string) (domain.Snapshot, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if running, ok := s.lookup(loanID); ok {
		return running.engine.Snapshot(), nil
	}

	terms, err := s.terms.GetLoanTerms(ctx, loanID)
	if err != nil {
		return s.markUnavailable(loanID, fmt.Errorf("%w: %w", ErrCannotInitialize, err))
	}

	engine := NewEngine(*terms, s.repo, s.dispatcher, s.clock, s.logger, s.metrics, s.config)
	if err := engine.Start(ctx); err != nil {
		return s.markUnavailable(loanID, err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	running := &runningEngine{engine: engine, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.engines[loanID] = running
	delete(s.unavailable, loanID)
	s.mu.Unlock()

	if engine.Done() {
		cancel()
		close(running.done)
		return engine.Snapshot(), nil
	}

	s.metrics.engineStarted()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(running.done)
		defer s.metrics.engineStopped()
		engine.Run(runCtx)
	}()

	return engine.Snapshot(), nil
}

// Unwatch stops a loan's tick loop and waits for it to exit. It reports whether
// the loan was being watched.
func (s *Supervisor) Unwatch(loanID string) bool {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	running, ok := s.engines[loanID]
	delete(s.engines, loanID)
	delete(s.unavailable, loanID)
	s.mu.Unlock()

	if !ok {
		return false
	}
	running.cancel()
	<-running.done
	return true
}

// Status returns the read model of a loan: the live engine snapshot, the
// unavailable reason, or the stored state of a loan that is not ticking here.
func (s *Supervisor) Status(ctx context.Context, loanID string) (domain.Snapshot, error) {
	s.mu.RLock()
	running, ok := s.engines[loanID]
	reason, unavailable := s.unavailable[loanID]
	s.mu.RUnlock()

	if ok {
		return running.engine.Snapshot(), nil
	}
	if unavailable {
		return domain.Snapshot{LoanID: loanID, Status: domain.StatusUnavailable, Reason: reason}, nil
	}

	state, err := s.repo.Load(ctx, loanID)
	if err != nil {
		if errors.Is(err, store.ErrStateNotFound) {
			return domain.Snapshot{}, ErrLoanNotWatched
		}
		return domain.Snapshot{}, err
	}
	return storedSnapshot(*state), nil
}

// ResumeActive watches every stored loan that has not completed. It returns the
// number of engines started by this call.
func (s *Supervisor) ResumeActive(ctx context.Context) (int, error) {
	states, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active loans: %w", err)
	}

	started := 0
	for _, state := range states {
		if _, ok := s.lookup(state.LoanID); ok {
			continue
		}
		if _, err := s.Watch(ctx, state.LoanID); err != nil {
			s.logger.Warn("failed to resume loan", "loan_id", state.LoanID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// Shutdown stops every engine and waits for the loops to exit.
func (s *Supervisor) Shutdown() {
	s.cancelBase()
	s.wg.Wait()
}

func (s *Supervisor) lookup(loanID string) (*runningEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	running, ok := s.engines[loanID]
	return running, ok
}

func (s *Supervisor) markUnavailable(loanID string, err error) (domain.Snapshot, error) {
	s.logger.Error("cannot initialize loan accrual", "loan_id", loanID, "error", err)

	s.mu.Lock()
	s.unavailable[loanID] = err.Error()
	s.mu.Unlock()

	return domain.Snapshot{LoanID: loanID, Status: domain.StatusUnavailable, Reason: err.Error()}, err
}

func storedSnapshot(state domain.AccrualState) domain.Snapshot {
	status := domain.StatusRunning
	countdown := ""
	if state.Completed {
		status = domain.StatusCompleted
		countdown = domain.CountdownCompleted
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
		Countdown:     countdown,
		StartTime:     &startTime,
		CompletedAt:   state.CompletedAt,
	}
}
