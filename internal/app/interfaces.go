/**
 * @description
 * Collaborator contracts for the accrual engine: where loan terms come from,
 * where notifications go, and how the engine reads the time.
 */
package app

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

// ErrCannotInitialize is returned when a loan's engine cannot start. The loan
// must be shown as unavailable rather than with guessed values.
var ErrCannotInitialize = errors.New("cannot initialize loan accrual")

// TermsProvider supplies loan terms. It is consulted once per engine start.
type TermsProvider interface {
	GetLoanTerms(ctx context.Context, loanID string) (*domain.LoanTerms, error)
}

// NotificationSink delivers events for display elsewhere. Delivery guarantees
// beyond a single attempt belong to the sink.
type NotificationSink interface {
	Send(ctx context.Context, event domain.NotificationEvent) error
}

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// StaticTermsProvider serves terms from memory. Used for tests and local runs
// without a loan service.
type StaticTermsProvider struct {
	terms map[string]domain.LoanTerms
}

func NewStaticTermsProvider(terms ...domain.LoanTerms) *StaticTermsProvider {
	p := &StaticTermsProvider{terms: make(map[string]domain.LoanTerms, len(terms))}
	for _, t := range terms {
		p.terms[t.LoanID] = t
	}
	return p
}

func (p *StaticTermsProvider) GetLoanTerms(ctx context.Context, loanID string) (*domain.LoanTerms, error) {
	t, ok := p.terms[loanID]
	if !ok {
		return nil, domain.ErrLoanTermsNotFound
	}
	return &t, nil
}
