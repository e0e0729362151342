package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"market-alerts/internal/models"
)

// Event is the payload every channel renders.
type Event struct {
	RuleKind  models.RuleKind
	RuleID    int64
	UserID    string
	Symbol    string
	Segment   models.Segment
	Condition string // ABOVE, BELOW, DROP or RISE
	// Current is the price for price alerts and the percent change for global alerts.
	Current float64
	// Target is the target price or the percent threshold.
	Target      float64
	Triggers    int
	Limit       int
	TriggeredAt time.Time
	Link        string
}

// NewPriceEvent builds the event for a fired price alert. next is the state after the trigger.
func NewPriceEvent(next models.PriceAlert, q models.Quote, dashboardURL string) Event {
	at := time.Now().UTC()
	if next.LastTriggeredAt != nil {
		at = *next.LastTriggeredAt
	}
	return Event{
		RuleKind:    models.RuleKindPrice,
		RuleID:      next.ID,
		UserID:      next.UserID,
		Symbol:      next.Symbol,
		Segment:     next.Segment,
		Condition:   string(next.Condition),
		Current:     q.Price,
		Target:      next.TargetPrice,
		Triggers:    next.CurrentTriggers,
		Limit:       next.TriggerLimit,
		TriggeredAt: at,
		Link:        ruleLink(dashboardURL, "alerts", next.ID),
	}
}

// NewGlobalEvent builds the event for a fired global market alert.
func NewGlobalEvent(next models.GlobalMarketAlert, q models.Quote, dashboardURL string) Event {
	at := time.Now().UTC()
	if next.LastTriggeredAt != nil {
		at = *next.LastTriggeredAt
	}
	return Event{
		RuleKind:    models.RuleKindGlobal,
		RuleID:      next.ID,
		UserID:      next.UserID,
		Symbol:      next.Symbol,
		Segment:     q.Segment,
		Condition:   string(next.Direction),
		Current:     q.ChangePercent,
		Target:      next.ThresholdPercent,
		TriggeredAt: at,
		Link:        ruleLink(dashboardURL, "global-alerts", next.ID),
	}
}

func ruleLink(base, path string, id int64) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return "/" + path + "/" + strconv.FormatInt(id, 10)
	}
	return base + "/" + path + "/" + strconv.FormatInt(id, 10)
}

// Title is a short headline for the event.
func (e Event) Title() string {
	if e.RuleKind == models.RuleKindGlobal {
		return fmt.Sprintf("Market alert: %s", e.Symbol)
	}
	return fmt.Sprintf("Price alert: %s", e.Symbol)
}

// Summary is a one-line plain-text description. It is also the AlertLog message.
func (e Event) Summary() string {
	switch e.Condition {
	case string(models.DirectionDrop):
		return fmt.Sprintf("%s dropped %.2f%% (threshold -%.2f%%)", e.Symbol, -e.Current, e.Target)
	case string(models.DirectionRise):
		return fmt.Sprintf("%s rose %.2f%% (threshold +%.2f%%)", e.Symbol, e.Current, e.Target)
	case string(models.ConditionBelow):
		return fmt.Sprintf("%s is at %s, at or below your target of %s", e.Symbol, formatPrice(e.Current), formatPrice(e.Target))
	default:
		return fmt.Sprintf("%s is at %s, at or above your target of %s", e.Symbol, formatPrice(e.Current), formatPrice(e.Target))
	}
}

// formatPrice keeps sub-unit crypto prices readable.
func formatPrice(v float64) string {
	if v != 0 && v < 1 && v > -1 {
		return strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
