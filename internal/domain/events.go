package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies a notification type.
type EventKind string

const (
	EventAmountIncrease     EventKind = "amount_increase"
	EventRepaymentCompleted EventKind = "repayment_completed"
)

// NotificationEvent is forwarded to the notification sink. Amount fields are only
// populated for the kind they belong to.
type NotificationEvent struct {
	EventID     string           `json:"eventId"`
	Kind        EventKind        `json:"kind"`
	LoanID      string           `json:"loanId"`
	Title       string           `json:"title,omitempty"`
	OldAmount   *decimal.Decimal `json:"oldAmount,omitempty"`
	NewAmount   *decimal.Decimal `json:"newAmount,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	Period      string           `json:"period,omitempty"`
	FinalAmount *decimal.Decimal `json:"finalAmount,omitempty"`
	OccurredAt  time.Time        `json:"occurredAt"`
}

// NewAmountIncreaseEvent builds an amount_increase event.
func NewAmountIncreaseEvent(state AccrualState, oldAmount, newAmount decimal.Decimal, at time.Time) NotificationEvent {
	rate := state.RatePerPeriod
	return NotificationEvent{
		Kind:       EventAmountIncrease,
		LoanID:     state.LoanID,
		Title:      state.Title,
		OldAmount:  &oldAmount,
		NewAmount:  &newAmount,
		Rate:       &rate,
		Period:     state.PeriodSpec,
		OccurredAt: at.UTC(),
	}
}

// NewRepaymentCompletedEvent builds a repayment_completed event.
func NewRepaymentCompletedEvent(state AccrualState, at time.Time) NotificationEvent {
	final := state.CurrentAmount
	return NotificationEvent{
		Kind:        EventRepaymentCompleted,
		LoanID:      state.LoanID,
		Title:       state.Title,
		FinalAmount: &final,
		OccurredAt:  at.UTC(),
	}
}

// LoanLifecycleEvent is consumed from the loan events exchange to start engines.
type LoanLifecycleEvent struct {
	LoanID string `json:"loan_id"`
}
