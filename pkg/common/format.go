package common

import (
	"fmt"
	"math"
)

// FormatDuration formats a duration in milliseconds as mm:ss, or hh:mm:ss once it reaches an hour
func FormatDuration(ms float64) string {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return "00:00"
	}

	total := int64(ms) / 1000
	seconds := total % 60
	minutes := (total / 60) % 60
	hours := total / 3600

	if hours == 0 {
		return fmt.Sprintf("%02d:%02d", minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
