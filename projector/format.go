package projector

import (
	"fmt"
	"time"
)

// FormatRemaining renders minutes left as -{H}h{M}m
func FormatRemaining(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("-%dh%dm", minutes/60, minutes%60)
}

// FormatDuration renders d as H:MM:SS, prefixed with "N day(s), " past
// one day. Sub-second parts are dropped.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	rem := total % 86400
	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, rem%3600/60, rem%60)

	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

// NormalizeFan converts a raw fan speed to a percentage of max
func NormalizeFan(raw, max float64) float64 {
	return raw / max * 100
}

// LayerOverview renders the composite layer field. An unknown total shows as "?".
func LayerOverview(current, total string) string {
	if total == "" {
		total = "?"
	}
	return fmt.Sprintf("Layer: %s / %s", current, total)
}
