package cli

import (
	"fmt"
	"strconv"
	"time"

	"market-alerts/internal/models"
)

// FormatPrice formats a price, keeping more precision for sub-unit prices.
func FormatPrice(price float64) string {
	if price != 0 && price < 1 && price > -1 {
		return strconv.FormatFloat(price, 'f', 6, 64)
	}
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// FormatPercent formats a signed percentage.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatDateTime formats a timestamp in UTC, or "-" for nil.
func FormatDateTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatDuration renders d with its two largest units, e.g. "1m 30s" or "2d 2h".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	case secs < 86400:
		return fmt.Sprintf("%dh %dm", secs/3600, secs%3600/60)
	}
	return fmt.Sprintf("%dd %dh", secs/86400, secs%86400/3600)
}

// FormatTriggers renders "current/limit".
func FormatTriggers(a models.PriceAlert) string {
	return fmt.Sprintf("%d/%d", a.CurrentTriggers, a.TriggerLimit)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// statusText colours an alert status for tables.
func (o *Output) statusText(status models.AlertStatus) string {
	switch status {
	case models.AlertActive:
		return o.ColoredString(ColorGreen, string(status))
	case models.AlertCompleted:
		return o.ColoredString(ColorDim, string(status))
	default:
		return o.ColoredString(ColorYellow, string(status))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
