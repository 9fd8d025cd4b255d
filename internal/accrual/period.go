/**
 * @description
 * Parsing of human readable repayment periods ("2 weeks", "1 month") into a
 * quantity and a fixed-length unit. Months and years use 30 and 365 day
 * approximations so that accrual stays deterministic.
 */
package accrual

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Unit is a repayment period unit.
type Unit string

const (
	UnitSecond Unit = "second"
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitYear   Unit = "year"
)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

var unitDurations = map[Unit]time.Duration{
	UnitSecond: time.Second,
	UnitMinute: time.Minute,
	UnitHour:   time.Hour,
	UnitDay:    day,
	UnitWeek:   week,
	UnitMonth:  month,
	UnitYear:   year,
}

// ErrPeriodParseFailed is matched by every error ParsePeriod returns.
var ErrPeriodParseFailed = errors.New("period parse failed")

// PeriodParseError describes why a period string was rejected.
type PeriodParseError struct {
	Input  string
	Reason string
}

func (e *PeriodParseError) Error() string {
	return fmt.Sprintf("period parse failed for %q: %s", e.Input, e.Reason)
}

func (e *PeriodParseError) Is(target error) bool {
	return target == ErrPeriodParseFailed
}

// Period is a parsed repayment period.
type Period struct {
	Quantity int
	Unit     Unit
}

// FallbackPeriod is used when a period string cannot be parsed. It is already
// elapsed, so the loan completes on its first tick instead of blocking display.
var FallbackPeriod = Period{Quantity: 0, Unit: UnitWeek}

// UnitDuration returns the fixed length of one period unit.
func (p Period) UnitDuration() time.Duration {
	if d, ok := unitDurations[p.Unit]; ok {
		return d
	}
	return week
}

// Total returns the full repayment duration.
func (p Period) Total() time.Duration {
	return time.Duration(p.Quantity) * p.UnitDuration()
}

func (p Period) String() string {
	if p.Quantity == 1 {
		return fmt.Sprintf("1 %s", p.Unit)
	}
	return fmt.Sprintf("%d %ss", p.Quantity, p.Unit)
}

// ParsePeriod parses strings such as "10 days" or "1 Month". On failure it still
// returns a usable period (FallbackPeriod, or the parsed quantity with a week unit
// when only the unit is unknown) together with a *PeriodParseError.
func ParsePeriod(spec string) (Period, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return FallbackPeriod, &PeriodParseError{Input: spec, Reason: "expected \"<quantity> <unit>\""}
	}

	quantity, err := strconv.Atoi(fields[0])
	if err != nil || quantity < 0 {
		return FallbackPeriod, &PeriodParseError{Input: spec, Reason: "quantity must be a non-negative integer"}
	}

	unit, ok := parseUnit(fields[1])
	if !ok {
		if quantity > maxQuantity(UnitWeek) {
			return FallbackPeriod, &PeriodParseError{Input: spec, Reason: "period is too long"}
		}
		return Period{Quantity: quantity, Unit: UnitWeek}, &PeriodParseError{Input: spec, Reason: fmt.Sprintf("unknown unit %q", fields[1])}
	}
	if quantity > maxQuantity(unit) {
		return FallbackPeriod, &PeriodParseError{Input: spec, Reason: "period is too long"}
	}

	return Period{Quantity: quantity, Unit: unit}, nil
}

// maxQuantity is the largest quantity of unit whose total still fits in a
// time.Duration (about 292 years).
func maxQuantity(unit Unit) int {
	return int(math.MaxInt64 / int64(unitDurations[unit]))
}

func parseUnit(token string) (Unit, bool) {
	name := strings.ToLower(token)
	if _, ok := unitDurations[Unit(name)]; ok {
		return Unit(name), true
	}
	singular := strings.TrimSuffix(name, "s")
	if _, ok := unitDurations[Unit(singular)]; ok && singular != name {
		return Unit(singular), true
	}
	return "", false
}
