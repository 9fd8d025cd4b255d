package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/loan-accrual-service/internal/domain"
)

const watchMessageTimeout = 15 * time.Second

// LoanWatcher starts a loan's engine.
type LoanWatcher interface {
	Watch(ctx context.Context, loanID string) (domain.Snapshot, error)
}

// LoanEventConsumer starts engines for loans announced on the loan events exchange.
type LoanEventConsumer struct {
	watcher LoanWatcher
	logger  *slog.Logger
}

func NewLoanEventConsumer(watcher LoanWatcher, logger *slog.Logger) *LoanEventConsumer {
	return &LoanEventConsumer{watcher: watcher, logger: logger}
}

// HandleMessage returns false only for failures worth redelivering; malformed
// messages and loans without terms are acknowledged and dropped.
func (c *LoanEventConsumer) HandleMessage(body []byte) bool {
	var event domain.LoanLifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("dropping malformed loan event", "error", err)
		return true
	}

	loanID := strings.TrimSpace(event.LoanID)
	if loanID == "" {
		c.logger.Warn("dropping loan event without loan_id")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), watchMessageTimeout)
	defer cancel()

	if _, err := c.watcher.Watch(ctx, loanID); err != nil {
		if errors.Is(err, domain.ErrLoanTermsNotFound) || errors.Is(err, domain.ErrNegativePrincipal) ||
			errors.Is(err, domain.ErrNegativeRate) || errors.Is(err, domain.ErrInvalidLoanID) {
			c.logger.Warn("loan event references unusable loan", "loan_id", loanID, "error", err)
			return true
		}
		c.logger.Error("failed to start loan accrual from event", "loan_id", loanID, "error", err)
		return false
	}

	c.logger.Info("loan accrual started from event", "loan_id", loanID)
	return true
}
