/**
 * @description
 * This file defines the persistence contract for accrual state. The store is a
 * passive, durable holder keyed by loan id; all business rules live in the engine.
 */
package store

import (
	"context"
	"errors"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

var (
	ErrStateNotFound = errors.New("accrual state not found")
	ErrUnknownDriver = errors.New("unknown state store driver")
)

// StateRepository loads and saves accrual state. Save must be idempotent.
type StateRepository interface {
	Load(ctx context.Context, loanID string) (*domain.AccrualState, error)
	Save(ctx context.Context, state domain.AccrualState) error
	ListActive(ctx context.Context) ([]domain.AccrualState, error)
}
