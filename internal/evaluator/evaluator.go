// Package evaluator decides whether an alert rule fires for a quote.
//
// Evaluation is pure: a policy takes a rule, the current market value and the
// evaluation time, and returns an Outcome plus the rule state to persist.
package evaluator

import (
	"time"

	"market-alerts/internal/models"
)

// Outcome is the result of evaluating one rule.
type Outcome int

const (
	// OutcomeInactive means the rule is not eligible (disabled, completed or at its limit).
	OutcomeInactive Outcome = iota
	// OutcomeCoolingDown means the rule fired too recently; the condition was not checked.
	OutcomeCoolingDown
	// OutcomeConditionNotMet means the rule is eligible but the market is not there.
	OutcomeConditionNotMet
	// OutcomeFire means the rule triggers and Next must be persisted.
	OutcomeFire
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInactive:
		return "inactive"
	case OutcomeCoolingDown:
		return "cooling_down"
	case OutcomeConditionNotMet:
		return "condition_not_met"
	case OutcomeFire:
		return "fire"
	default:
		return "unknown"
	}
}

// CoolingDown reports whether a rule last fired at last is still inside its cooldown at now.
// A rule that never fired is never cooling down; now - last == cooldown is allowed through.
func CoolingDown(last *time.Time, cooldown time.Duration, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < cooldown
}

// ConditionMet applies an inclusive price comparison.
func ConditionMet(cond models.Condition, price, target float64) bool {
	switch cond {
	case models.ConditionAbove:
		return price >= target
	case models.ConditionBelow:
		return price <= target
	}
	return false
}

// MoveMet applies an inclusive percent-move comparison.
func MoveMet(dir models.Direction, changePercent, threshold float64) bool {
	switch dir {
	case models.DirectionDrop:
		return changePercent <= -threshold
	case models.DirectionRise:
		return changePercent >= threshold
	}
	return false
}

// PriceDecision is the result of a PriceAlertPolicy evaluation.
type PriceDecision struct {
	Outcome Outcome
	// Next is the state to write when Outcome is OutcomeFire; otherwise it equals the input rule.
	Next models.PriceAlert
}

// Fire reports whether the rule triggered.
func (d PriceDecision) Fire() bool { return d.Outcome == OutcomeFire }

// PriceAlertPolicy evaluates price-level alerts with a cooldown in seconds and a trigger limit.
type PriceAlertPolicy struct{}

// Evaluate decides whether rule fires at price.
func (PriceAlertPolicy) Evaluate(rule models.PriceAlert, price float64, now time.Time) PriceDecision {
	d := PriceDecision{Outcome: OutcomeInactive, Next: rule}

	if rule.Status != models.AlertActive || rule.CurrentTriggers >= rule.TriggerLimit {
		return d
	}
	if CoolingDown(rule.LastTriggeredAt, rule.Cooldown(), now) {
		d.Outcome = OutcomeCoolingDown
		return d
	}
	if !ConditionMet(rule.Condition, price, rule.TargetPrice) {
		d.Outcome = OutcomeConditionNotMet
		return d
	}

	at := now
	d.Outcome = OutcomeFire
	d.Next.CurrentTriggers++
	d.Next.LastTriggeredAt = &at
	if d.Next.CurrentTriggers >= d.Next.TriggerLimit {
		d.Next.Status = models.AlertCompleted
	}
	return d
}

// GlobalDecision is the result of a GlobalAlertPolicy evaluation.
type GlobalDecision struct {
	Outcome Outcome
	Next    models.GlobalMarketAlert
}

// Fire reports whether the rule triggered.
func (d GlobalDecision) Fire() bool { return d.Outcome == OutcomeFire }

// GlobalAlertPolicy evaluates market-wide percent moves with a cooldown in minutes and no limit.
type GlobalAlertPolicy struct{}

// Evaluate decides whether rule fires for q.
func (GlobalAlertPolicy) Evaluate(rule models.GlobalMarketAlert, q models.Quote, now time.Time) GlobalDecision {
	d := GlobalDecision{Outcome: OutcomeInactive, Next: rule}

	if !rule.Active {
		return d
	}
	if CoolingDown(rule.LastTriggeredAt, rule.Cooldown(), now) {
		d.Outcome = OutcomeCoolingDown
		return d
	}
	if !MoveMet(rule.Direction, q.ChangePercent, rule.ThresholdPercent) {
		d.Outcome = OutcomeConditionNotMet
		return d
	}

	at := now
	d.Outcome = OutcomeFire
	d.Next.LastTriggeredAt = &at
	return d
}
