package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

type watcherStub struct {
	watched []string
	err     error
}

func (w *watcherStub) Watch(ctx context.Context, loanID string) (domain.Snapshot, error) {
	w.watched = append(w.watched, loanID)
	if w.err != nil {
		return domain.Snapshot{}, w.err
	}
	return domain.Snapshot{LoanID: loanID, Status: domain.StatusRunning}, nil
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		watchErr    error
		wantAck     bool
		wantWatched int
	}{
		{name: "starts engine", body: `{"loan_id":"loan-1"}`, wantAck: true, wantWatched: 1},
		{name: "trims loan id", body: `{"loan_id":"  loan-1 "}`, wantAck: true, wantWatched: 1},
		{name: "malformed json", body: `{"loan_id":`, wantAck: true},
		{name: "missing loan id", body: `{"amount":10}`, wantAck: true},
		{
			name:        "unknown loan is dropped",
			body:        `{"loan_id":"loan-1"}`,
			watchErr:    fmt.Errorf("%w: %w", ErrCannotInitialize, domain.ErrLoanTermsNotFound),
			wantAck:     true,
			wantWatched: 1,
		},
		{
			name:        "invalid terms are dropped",
			body:        `{"loan_id":"loan-1"}`,
			watchErr:    errors.Join(ErrCannotInitialize, domain.ErrNegativeRate),
			wantAck:     true,
			wantWatched: 1,
		},
		{
			name:        "transient failure is requeued",
			body:        `{"loan_id":"loan-1"}`,
			watchErr:    fmt.Errorf("%w: %w", ErrCannotInitialize, errors.New("loan service timeout")),
			wantAck:     false,
			wantWatched: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			watcher := &watcherStub{err: tc.watchErr}
			consumer := NewLoanEventConsumer(watcher, discardLogger())

			if got := consumer.HandleMessage([]byte(tc.body)); got != tc.wantAck {
				t.Fatalf("expected ack=%t, got %t", tc.wantAck, got)
			}
			if len(watcher.watched) != tc.wantWatched {
				t.Fatalf("expected %d watch calls, got %d", tc.wantWatched, len(watcher.watched))
			}
			if tc.wantWatched > 0 && watcher.watched[0] != "loan-1" {
				t.Fatalf("expected loan-1, got %q", watcher.watched[0])
			}
		})
	}
}
