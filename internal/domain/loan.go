/**
 * @description
 * Core domain models for the loan-accrual-service: the immutable loan terms
 * supplied by the loan service and the durable accrual state owned by the engine.
 */
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLoanID        = errors.New("loan id is required")
	ErrNegativePrincipal    = errors.New("principal must not be negative")
	ErrNegativeRate         = errors.New("rate per period must not be negative")
	ErrCompletedStateFrozen = errors.New("completed accrual state cannot change")
	ErrLoanTermsNotFound    = errors.New("loan terms not found")
)

// LoanTerms are the repayment terms of a single loan as supplied by the loan service.
type LoanTerms struct {
	LoanID        string          `json:"loan_id"`
	Title         string          `json:"title"`
	Principal     decimal.Decimal `json:"principal"`
	RatePerPeriod decimal.Decimal `json:"rate_per_period"`
	PeriodSpec    string          `json:"period_spec"`
}

// Validate checks the invariants the engine relies on.
func (t LoanTerms) Validate() error {
	if strings.TrimSpace(t.LoanID) == "" {
		return ErrInvalidLoanID
	}
	if t.Principal.IsNegative() {
		return ErrNegativePrincipal
	}
	if t.RatePerPeriod.IsNegative() {
		return ErrNegativeRate
	}
	return nil
}

// AccrualState is the persisted record for one loan. The JSON field names are the
// at-rest contract shared with earlier versions of the app, so they must not change.
type AccrualState struct {
	LoanID             string          `json:"loanId"`
	Title              string          `json:"title"`
	Principal          decimal.Decimal `json:"principal"`
	RatePerPeriod      decimal.Decimal `json:"ratePerPeriod"`
	PeriodSpec         string          `json:"periodSpec"`
	CurrentAmount      decimal.Decimal `json:"currentAmount"`
	LastNotifiedAmount decimal.Decimal `json:"lastNotifiedAmount"`
	StartTime          time.Time       `json:"startTime"`
	Completed          bool            `json:"completed"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
}

// NewAccrualState builds the initial state for a loan observed for the first time.
func NewAccrualState(terms LoanTerms, now time.Time) AccrualState {
	return AccrualState{
		LoanID:             terms.LoanID,
		Title:              terms.Title,
		Principal:          terms.Principal,
		RatePerPeriod:      terms.RatePerPeriod,
		PeriodSpec:         terms.PeriodSpec,
		CurrentAmount:      terms.Principal,
		LastNotifiedAmount: terms.Principal,
		StartTime:          now.UTC(),
	}
}

// WithTerms refreshes the descriptive fields from the latest terms while keeping
// the accrual baseline (start time and amounts) untouched.
func (s AccrualState) WithTerms(terms LoanTerms) AccrualState {
	s.Title = terms.Title
	s.Principal = terms.Principal
	s.RatePerPeriod = terms.RatePerPeriod
	s.PeriodSpec = terms.PeriodSpec
	if s.CurrentAmount.LessThan(terms.Principal) {
		s.CurrentAmount = terms.Principal
	}
	if s.LastNotifiedAmount.GreaterThan(s.CurrentAmount) {
		s.LastNotifiedAmount = s.CurrentAmount
	}
	return s
}

// Complete marks the state as completed at the given instant. It fails if the
// state has already been completed.
func (s *AccrualState) Complete(at time.Time) error {
	if s.Completed {
		return ErrCompletedStateFrozen
	}
	completedAt := at.UTC()
	s.Completed = true
	s.CompletedAt = &completedAt
	return nil
}

// EngineStatus is the host-facing lifecycle status of a loan's engine.
type EngineStatus string

const (
	StatusRunning     EngineStatus = "running"
	StatusCompleted   EngineStatus = "completed"
	StatusUnavailable EngineStatus = "unavailable"
)

// CountdownCompleted is the countdown text shown once the deadline has passed.
const CountdownCompleted = "Completed"

// Snapshot is the read model the HTTP layer exposes for a loan.
type Snapshot struct {
	LoanID        string          `json:"loan_id"`
	Title         string          `json:"title,omitempty"`
	Status        EngineStatus    `json:"status"`
	Principal     decimal.Decimal `json:"principal"`
	RatePerPeriod decimal.Decimal `json:"rate_per_period"`
	PeriodSpec    string          `json:"period_spec,omitempty"`
	CurrentAmount string          `json:"current_amount,omitempty"`
	Countdown     string          `json:"countdown,omitempty"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}
