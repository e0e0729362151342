package models

import (
	"time"

	apperrors "market-alerts/internal/errors"
)

// DefaultTriggerLimit is used when a price alert is created without a limit.
const DefaultTriggerLimit = 1

// PriceAlert represents one user's price-level watch.
type PriceAlert struct {
	ID              int64
	UserID          string
	Symbol          string
	Segment         Segment
	Condition       Condition
	TargetPrice     float64
	CooldownSeconds int
	TriggerLimit    int
	CurrentTriggers int
	Status          AlertStatus
	LastTriggeredAt *time.Time
	Version         int64 // bumped on every write; used for conditional updates
	CreatedAt       time.Time
}

// Cooldown returns the cooldown as a duration. Price alert cooldowns are stored in seconds.
func (a PriceAlert) Cooldown() time.Duration {
	return time.Duration(a.CooldownSeconds) * time.Second
}

// Key returns the quote key the alert is evaluated against.
func (a PriceAlert) Key() QuoteKey {
	return QuoteKey{Segment: a.Segment, Symbol: a.Symbol}
}

// Validate checks the alert's static fields.
func (a PriceAlert) Validate() error {
	if a.UserID == "" {
		return apperrors.NewValidationError("user_id", a.UserID, "required")
	}
	if a.Symbol == "" {
		return apperrors.NewValidationError("symbol", a.Symbol, "required")
	}
	if a.Segment != SegmentStock && a.Segment != SegmentCrypto {
		return apperrors.NewValidationError("segment", a.Segment, "must be STOCK or CRYPTO")
	}
	if a.Condition != ConditionAbove && a.Condition != ConditionBelow {
		return apperrors.NewValidationError("condition", a.Condition, "must be ABOVE or BELOW")
	}
	if a.TargetPrice <= 0 {
		return apperrors.NewValidationError("target_price", a.TargetPrice, "must be positive")
	}
	if a.CooldownSeconds < 0 {
		return apperrors.NewValidationError("cooldown_seconds", a.CooldownSeconds, "must be >= 0")
	}
	if a.TriggerLimit < 1 {
		return apperrors.NewValidationError("trigger_limit", a.TriggerLimit, "must be >= 1")
	}
	if a.CurrentTriggers < 0 || a.CurrentTriggers > a.TriggerLimit {
		return apperrors.NewValidationError("current_triggers", a.CurrentTriggers, "must be within [0, trigger_limit]")
	}
	return nil
}

// GlobalMarketAlert is a subscription to a market-wide percent move on a fixed symbol.
type GlobalMarketAlert struct {
	ID               int64
	UserID           string
	Symbol           string
	Direction        Direction
	ThresholdPercent float64
	CooldownMinutes  int
	LastTriggeredAt  *time.Time
	Active           bool
	Version          int64
	CreatedAt        time.Time
}

// Cooldown returns the cooldown as a duration. Global alert cooldowns are stored in minutes.
func (a GlobalMarketAlert) Cooldown() time.Duration {
	return time.Duration(a.CooldownMinutes) * time.Minute
}

// Key returns the quote key the alert is evaluated against. Global symbols are quoted on the stock segment.
func (a GlobalMarketAlert) Key() QuoteKey {
	return QuoteKey{Segment: SegmentStock, Symbol: a.Symbol}
}

// Validate checks the alert's static fields.
func (a GlobalMarketAlert) Validate() error {
	if a.UserID == "" {
		return apperrors.NewValidationError("user_id", a.UserID, "required")
	}
	if a.Symbol == "" {
		return apperrors.NewValidationError("symbol", a.Symbol, "required")
	}
	if a.Direction != DirectionDrop && a.Direction != DirectionRise {
		return apperrors.NewValidationError("direction", a.Direction, "must be DROP or RISE")
	}
	if a.ThresholdPercent <= 0 {
		return apperrors.NewValidationError("threshold_percent", a.ThresholdPercent, "must be positive")
	}
	if a.CooldownMinutes < 0 {
		return apperrors.NewValidationError("cooldown_minutes", a.CooldownMinutes, "must be >= 0")
	}
	return nil
}

// PriceAlertWithOwner is an active price alert joined with its owner's delivery settings.
type PriceAlertWithOwner struct {
	Alert    PriceAlert
	Settings NotificationSettings
}

// GlobalAlertWithOwner is an active global alert joined with its owner's delivery settings.
type GlobalAlertWithOwner struct {
	Alert    GlobalMarketAlert
	Settings NotificationSettings
}

// AlertLog is an append-only audit row written once per successful trigger.
type AlertLog struct {
	ID          string
	RuleKind    RuleKind
	AlertID     int64
	UserID      string
	Message     string
	TriggeredAt time.Time
}
