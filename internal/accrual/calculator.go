package accrual

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Accrue applies simple, non-compounding interest: principal plus principal times
// rate percent for every whole elapsed period. Negative period counts are treated
// as zero.
func Accrue(principal, ratePerPeriod decimal.Decimal, elapsedWholePeriods int64) decimal.Decimal {
	if elapsedWholePeriods <= 0 {
		return principal
	}
	interest := principal.
		Mul(ratePerPeriod).
		Div(hundred).
		Mul(decimal.NewFromInt(elapsedWholePeriods))
	return principal.Add(interest)
}

// ElapsedWholePeriods returns floor(elapsed / unit). Interest only posts on whole
// period boundaries.
func ElapsedWholePeriods(elapsed, unit time.Duration) int64 {
	if elapsed <= 0 || unit <= 0 {
		return 0
	}
	return int64(elapsed / unit)
}

// Remaining returns the time left before the deadline, never negative.
func Remaining(total, elapsed time.Duration) time.Duration {
	if remaining := total - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

// FormatAmount renders an amount with two decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
