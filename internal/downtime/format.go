package downtime

import (
	"fmt"
	"math"
)

const (
	secondsPerMinute = 60
	secondsPerDay    = 24 * 60 * 60
)

// CeilMinutes converts seconds to whole minutes, counting any remainder as
// a full minute.
func CeilMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + secondsPerMinute - 1) / secondsPerMinute
}

// FormatDuration renders seconds as "2h 5m" or "5m", dropping leftover
// seconds. Used for individual incidents.
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0m"
	}
	return FormatMinutes(seconds / secondsPerMinute)
}

// FormatDurationRoundedUp is FormatDuration with the minutes rounded up.
// Service and report totals use it, so a total always reads as the sum of
// its parts.
func FormatDurationRoundedUp(seconds int64) string {
	return FormatMinutes(CeilMinutes(seconds))
}

func FormatMinutes(minutes int64) string {
	if minutes <= 0 {
		return "0m"
	}
	hours := minutes / 60
	minutes = minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Availability is the percentage of the monitored time without downtime,
// rounded to two decimals, assuming every service was monitored for the
// whole period. It is exactly 100 only when there was no downtime at all:
// a nonzero downtime that would round to 100 reports 99.99.
func Availability(totalDowntimeSeconds int64, periodDays, servicesCount int) float64 {
	if totalDowntimeSeconds <= 0 {
		return 100
	}
	monitored := float64(periodDays) * secondsPerDay * float64(servicesCount)
	if monitored <= 0 {
		return 0
	}

	pct := math.Round((1-float64(totalDowntimeSeconds)/monitored)*100*100) / 100
	switch {
	case pct >= 100:
		return 99.99
	case pct < 0:
		return 0
	}
	return pct
}
