package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"market-alerts/internal/models"
)

var now = time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func priceRule(cond models.Condition, target float64, cooldown, limit, current int, last *time.Time) models.PriceAlert {
	return models.PriceAlert{
		ID:              1,
		UserID:          "u1",
		Symbol:          "AAPL",
		Segment:         models.SegmentStock,
		Condition:       cond,
		TargetPrice:     target,
		CooldownSeconds: cooldown,
		TriggerLimit:    limit,
		CurrentTriggers: current,
		Status:          models.AlertActive,
		LastTriggeredAt: last,
	}
}

func TestPriceAlertPolicy_Scenarios(t *testing.T) {
	policy := PriceAlertPolicy{}

	tests := []struct {
		name      string
		rule      models.PriceAlert
		price     float64
		outcome   Outcome
		triggers  int
		status    models.AlertStatus
		lastIsNow bool
	}{
		{
			name:      "above at target fires and completes",
			rule:      priceRule(models.ConditionAbove, 100, 60, 1, 0, nil),
			price:     100,
			outcome:   OutcomeFire,
			triggers:  1,
			status:    models.AlertCompleted,
			lastIsNow: true,
		},
		{
			name:     "below inside cooldown is skipped",
			rule:     priceRule(models.ConditionBelow, 50, 300, 5, 2, ago(100*time.Second)),
			price:    49,
			outcome:  OutcomeCoolingDown,
			triggers: 2,
			status:   models.AlertActive,
		},
		{
			name:      "below after cooldown fires and stays active",
			rule:      priceRule(models.ConditionBelow, 50, 300, 5, 2, ago(301*time.Second)),
			price:     49,
			outcome:   OutcomeFire,
			triggers:  3,
			status:    models.AlertActive,
			lastIsNow: true,
		},
		{
			name:      "cooldown boundary is allowed through",
			rule:      priceRule(models.ConditionBelow, 50, 300, 5, 2, ago(300*time.Second)),
			price:     50,
			outcome:   OutcomeFire,
			triggers:  3,
			status:    models.AlertActive,
			lastIsNow: true,
		},
		{
			name:     "condition not met",
			rule:     priceRule(models.ConditionAbove, 100, 0, 1, 0, nil),
			price:    99.99,
			outcome:  OutcomeConditionNotMet,
			triggers: 0,
			status:   models.AlertActive,
		},
		{
			name:      "zero cooldown fires every pass",
			rule:      priceRule(models.ConditionAbove, 100, 0, 10, 4, ago(0)),
			price:     101,
			outcome:   OutcomeFire,
			triggers:  5,
			status:    models.AlertActive,
			lastIsNow: true,
		},
		{
			name:     "rule already at limit is inactive",
			rule:     priceRule(models.ConditionAbove, 100, 0, 2, 2, nil),
			price:    150,
			outcome:  OutcomeInactive,
			triggers: 2,
			status:   models.AlertActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Evaluate(tt.rule, tt.price, now)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.outcome == OutcomeFire, d.Fire())
			assert.Equal(t, tt.triggers, d.Next.CurrentTriggers)
			assert.Equal(t, tt.status, d.Next.Status)
			if tt.lastIsNow {
				if assert.NotNil(t, d.Next.LastTriggeredAt) {
					assert.True(t, now.Equal(*d.Next.LastTriggeredAt))
				}
			} else {
				assert.Equal(t, tt.rule.LastTriggeredAt, d.Next.LastTriggeredAt)
			}
		})
	}
}

func TestPriceAlertPolicy_DisabledAndCompleted(t *testing.T) {
	for _, status := range []models.AlertStatus{models.AlertDisabled, models.AlertCompleted} {
		r := priceRule(models.ConditionAbove, 100, 0, 3, 1, nil)
		r.Status = status
		d := PriceAlertPolicy{}.Evaluate(r, 200, now)
		assert.Equal(t, OutcomeInactive, d.Outcome, status)
		assert.Equal(t, r, d.Next)
	}
}

func TestPriceAlertPolicy_DoesNotMutateInput(t *testing.T) {
	last := ago(time.Hour)
	r := priceRule(models.ConditionAbove, 100, 0, 3, 1, last)
	before := *last

	d := PriceAlertPolicy{}.Evaluate(r, 200, now)
	assert.True(t, d.Fire())
	assert.Equal(t, 1, r.CurrentTriggers)
	assert.Equal(t, before, *r.LastTriggeredAt)
}

func globalRule(dir models.Direction, threshold float64, cooldownMin int, last *time.Time) models.GlobalMarketAlert {
	return models.GlobalMarketAlert{
		ID:               7,
		UserID:           "u1",
		Symbol:           "SPY",
		Direction:        dir,
		ThresholdPercent: threshold,
		CooldownMinutes:  cooldownMin,
		LastTriggeredAt:  last,
		Active:           true,
	}
}

func TestGlobalAlertPolicy(t *testing.T) {
	policy := GlobalAlertPolicy{}
	quote := func(chg float64) models.Quote {
		return models.Quote{Segment: models.SegmentStock, Symbol: "SPY", Price: 500, ChangePercent: chg}
	}

	tests := []struct {
		name    string
		rule    models.GlobalMarketAlert
		change  float64
		outcome Outcome
	}{
		{"drop at threshold fires", globalRule(models.DirectionDrop, 2, 60, nil), -2, OutcomeFire},
		{"drop beyond threshold fires", globalRule(models.DirectionDrop, 2, 60, nil), -3.5, OutcomeFire},
		{"drop not deep enough", globalRule(models.DirectionDrop, 2, 60, nil), -1.99, OutcomeConditionNotMet},
		{"rise on a drop rule", globalRule(models.DirectionDrop, 2, 60, nil), 5, OutcomeConditionNotMet},
		{"rise at threshold fires", globalRule(models.DirectionRise, 1.5, 60, nil), 1.5, OutcomeFire},
		// minutes, not seconds: 59 minutes ago is still cooling down for a 60-minute rule
		{"cooldown in minutes", globalRule(models.DirectionDrop, 2, 60, ago(59*time.Minute)), -4, OutcomeCoolingDown},
		{"cooldown elapsed", globalRule(models.DirectionDrop, 2, 60, ago(61*time.Minute)), -4, OutcomeFire},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Evaluate(tt.rule, quote(tt.change), now)
			assert.Equal(t, tt.outcome, d.Outcome)
			if d.Fire() {
				assert.True(t, now.Equal(*d.Next.LastTriggeredAt))
				assert.True(t, d.Next.Active)
			} else {
				assert.Equal(t, tt.rule, d.Next)
			}
		})
	}
}

func TestGlobalAlertPolicy_Inactive(t *testing.T) {
	r := globalRule(models.DirectionDrop, 1, 0, nil)
	r.Active = false
	d := GlobalAlertPolicy{}.Evaluate(r, models.Quote{ChangePercent: -10}, now)
	assert.Equal(t, OutcomeInactive, d.Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "fire", OutcomeFire.String())
	assert.Equal(t, "cooling_down", OutcomeCoolingDown.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
