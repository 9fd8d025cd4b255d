/**
 * @description
 * Scheduled job implementations for the loan-accrual-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

const resumeJobTimeout = 30 * time.Second

// LoanResumer re-attaches stored loans that are not ticking.
type LoanResumer interface {
	ResumeActive(ctx context.Context) (int, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	resumer LoanResumer
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(resumer LoanResumer, logger *slog.Logger) *Jobs {
	return &Jobs{
		resumer: resumer,
		logger:  logger,
	}
}

// ResumeActiveLoans makes sure every non-completed stored loan has an engine,
// covering restarts and engines that failed to initialize earlier.
func (j *Jobs) ResumeActiveLoans() {
	ctx, cancel := context.WithTimeout(context.Background(), resumeJobTimeout)
	defer cancel()

	started, err := j.resumer.ResumeActive(ctx)
	if err != nil {
		j.logger.Error("failed to resume active loans", "error", err)
		return
	}

	if started == 0 {
		j.logger.Debug("no stored loans needed resuming")
		return
	}
	j.logger.Info("resumed stored loans", "count", started)
}
