package accrual

import (
	"fmt"
	"time"
)

const countdownCompleted = "Completed"

// FormatCountdown renders the remaining time with the components that make sense
// for the loan's period unit, e.g. "2w 3d 4h" for weekly loans or "45s" for loans
// counted in seconds.
func FormatCountdown(remaining time.Duration, unit Unit) string {
	if remaining <= 0 {
		return countdownCompleted
	}

	totalSeconds := int64(remaining / time.Second)
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	switch unit {
	case UnitSecond:
		return fmt.Sprintf("%ds", totalSeconds)
	case UnitMinute:
		return fmt.Sprintf("%dm %ds", totalSeconds/60, seconds)
	case UnitHour:
		return fmt.Sprintf("%dh %dm %ds", totalSeconds/3600, minutes, seconds)
	case UnitDay:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case UnitMonth:
		return fmt.Sprintf("%dmo %dd", days/30, days%30)
	case UnitYear:
		return fmt.Sprintf("%dy %dd", days/365, days%365)
	default:
		return fmt.Sprintf("%dw %dd %dh", days/7, days%7, hours)
	}
}
