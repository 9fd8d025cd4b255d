/**
 * @description
 * PostgreSQL implementation of the StateRepository. Each loan owns one row in
 * loan_accrual_states; saves are upserts so repeating a save is harmless, and a
 * completed row is never rewritten.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/loan-accrual-service/internal/domain"
)

// PostgresRepository is the durable default StateRepository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectStateColumns = `
	SELECT loan_id, title, principal::text, rate_per_period::text, period_spec,
	       current_amount::text, last_notified_amount::text, start_time,
	       completed, completed_at
	FROM loan_accrual_states`

// Load fetches the state for a loan, returning ErrStateNotFound when absent.
func (r *PostgresRepository) Load(ctx context.Context, loanID string) (*domain.AccrualState, error) {
	row := r.db.QueryRow(ctx, selectStateColumns+` WHERE loan_id = $1`, loanID)
	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return state, nil
}

// Save upserts the state. The WHERE clause keeps completed rows frozen.
func (r *PostgresRepository) Save(ctx context.Context, state domain.AccrualState) error {
	query := `
		INSERT INTO loan_accrual_states (
			loan_id, title, principal, rate_per_period, period_spec,
			current_amount, last_notified_amount, start_time, completed, completed_at, updated_at
		)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7::numeric, $8, $9, $10, NOW())
		ON CONFLICT (loan_id) DO UPDATE
		SET title = EXCLUDED.title,
		    principal = EXCLUDED.principal,
		    rate_per_period = EXCLUDED.rate_per_period,
		    period_spec = EXCLUDED.period_spec,
		    current_amount = EXCLUDED.current_amount,
		    last_notified_amount = EXCLUDED.last_notified_amount,
		    start_time = EXCLUDED.start_time,
		    completed = EXCLUDED.completed,
		    completed_at = EXCLUDED.completed_at,
		    updated_at = NOW()
		WHERE loan_accrual_states.completed = FALSE
	`
	_, err := r.db.Exec(ctx, query,
		state.LoanID,
		state.Title,
		state.Principal.String(),
		state.RatePerPeriod.String(),
		state.PeriodSpec,
		state.CurrentAmount.String(),
		state.LastNotifiedAmount.String(),
		state.StartTime.UTC(),
		state.Completed,
		state.CompletedAt,
	)
	return err
}

// ListActive returns every loan that has not completed yet.
func (r *PostgresRepository) ListActive(ctx context.Context) ([]domain.AccrualState, error) {
	rows, err := r.db.Query(ctx, selectStateColumns+` WHERE completed = FALSE ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.AccrualState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func scanState(row pgx.Row) (*domain.AccrualState, error) {
	var (
		state                                             domain.AccrualState
		principal, rate, currentAmount, lastNotifiedAmount string
		completedAt                                       *time.Time
	)
	err := row.Scan(
		&state.LoanID, &state.Title, &principal, &rate, &state.PeriodSpec,
		&currentAmount, &lastNotifiedAmount, &state.StartTime,
		&state.Completed, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if state.Principal, err = decimal.NewFromString(principal); err != nil {
		return nil, err
	}
	if state.RatePerPeriod, err = decimal.NewFromString(rate); err != nil {
		return nil, err
	}
	if state.CurrentAmount, err = decimal.NewFromString(currentAmount); err != nil {
		return nil, err
	}
	if state.LastNotifiedAmount, err = decimal.NewFromString(lastNotifiedAmount); err != nil {
		return nil, err
	}
	state.StartTime = state.StartTime.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		state.CompletedAt = &t
	}
	return &state, nil
}
