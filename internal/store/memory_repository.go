package store

import (
	"context"
	"sort"
	"sync"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

// MemoryRepository keeps state in process memory. It is not durable and is only
// meant for tests and local development.
type MemoryRepository struct {
	mu     sync.RWMutex
	states map[string]domain.AccrualState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		states: make(map[string]domain.AccrualState),
	}
}

func (r *MemoryRepository) Load(ctx context.Context, loanID string) (*domain.AccrualState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[loanID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return copyState(state), nil
}

func (r *MemoryRepository) Save(ctx context.Context, state domain.AccrualState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.states[state.LoanID]; ok && existing.Completed {
		return nil
	}
	r.states[state.LoanID] = *copyState(state)
	return nil
}

func (r *MemoryRepository) ListActive(ctx context.Context) ([]domain.AccrualState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var states []domain.AccrualState
	for _, state := range r.states {
		if !state.Completed {
			states = append(states, *copyState(state))
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].StartTime.Before(states[j].StartTime)
	})
	return states, nil
}

func copyState(state domain.AccrualState) *domain.AccrualState {
	if state.CompletedAt != nil {
		completedAt := *state.CompletedAt
		state.CompletedAt = &completedAt
	}
	return &state
}
