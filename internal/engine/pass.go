package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/evaluator"
	"market-alerts/internal/logging"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/quote"
)

// PassReport counts what happened to each rule during one alert pass.
type PassReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Rules       int           `json:"rules"`
	Symbols     int           `json:"symbols"`
	Fired       int           `json:"fired"`
	CoolingDown int           `json:"cooling_down"`
	NotMet      int           `json:"not_met"`
	Inactive    int           `json:"inactive"`
	Unavailable int           `json:"unavailable"`
	Conflicts   int           `json:"conflicts"`
	Failed      int           `json:"failed"`
	Delivered   int           `json:"delivered"`
	Undelivered int           `json:"undelivered"`
}

type ruleOutcome int

const (
	ruleFired ruleOutcome = iota
	ruleCoolingDown
	ruleNotMet
	ruleInactive
	ruleUnavailable
	ruleConflict
	ruleFailed
)

type ruleResult struct {
	outcome     ruleOutcome
	delivered   int
	undelivered int
}

func (r *PassReport) add(res ruleResult) {
	switch res.outcome {
	case ruleFired:
		r.Fired++
	case ruleCoolingDown:
		r.CoolingDown++
	case ruleNotMet:
		r.NotMet++
	case ruleInactive:
		r.Inactive++
	case ruleUnavailable:
		r.Unavailable++
	case ruleConflict:
		r.Conflicts++
	case ruleFailed:
		r.Failed++
	}
	r.Delivered += res.delivered
	r.Undelivered += res.undelivered
}

func fromOutcome(o evaluator.Outcome) ruleOutcome {
	switch o {
	case evaluator.OutcomeCoolingDown:
		return ruleCoolingDown
	case evaluator.OutcomeConditionNotMet:
		return ruleNotMet
	case evaluator.OutcomeFire:
		return ruleFired
	default:
		return ruleInactive
	}
}

// RunAlertPass evaluates every active rule once.
//
// Only a failure to list rules aborts the pass; that error classifies as KindStore. Every other
// failure is confined to its rule and counted in the report.
func (s *Scheduler) RunAlertPass(ctx context.Context) (PassReport, error) {
	report := PassReport{ID: newPassID(), StartedAt: s.now().UTC()}
	logger := logging.WithPass(s.logger, "alert", report.ID)

	priceRules, globalRules, err := s.listRules(ctx)
	if err != nil {
		return report, err
	}
	report.Rules = len(priceRules) + len(globalRules)

	keys := make([]models.QuoteKey, 0, report.Rules)
	for _, r := range priceRules {
		keys = append(keys, r.Alert.Key())
	}
	for _, r := range globalRules {
		keys = append(keys, r.Alert.Key())
	}

	var batch quote.Batch
	if len(keys) > 0 {
		batch = s.quotes.Batch(ctx, keys)
		report.Symbols = len(batch.Quotes) + len(batch.Failures)
	}
	now := s.now().UTC()

	tasks := make([]func() ruleResult, 0, report.Rules)
	for _, r := range priceRules {
		r := r
		tasks = append(tasks, func() ruleResult { return s.evaluatePrice(ctx, logger, r, batch, now) })
	}
	for _, r := range globalRules {
		r := r
		tasks = append(tasks, func() ruleResult { return s.evaluateGlobal(ctx, logger, r, batch, now) })
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.RuleConcurrency)
	)
	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(task func() ruleResult) {
			defer wg.Done()
			defer func() { <-sem }()

			res := isolate(logger, task)
			mu.Lock()
			report.add(res)
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	report.Duration = s.now().UTC().Sub(report.StartedAt)
	s.setReport(report)

	ev := logger.Info()
	if report.Fired == 0 && report.Failed == 0 {
		ev = logger.Debug()
	}
	ev.Int("rules", report.Rules).
		Int("fired", report.Fired).
		Int("cooling_down", report.CoolingDown).
		Int("not_met", report.NotMet).
		Int("unavailable", report.Unavailable).
		Int("conflicts", report.Conflicts).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Alert pass complete")

	return report, nil
}

// isolate runs one rule's task, turning a panic into a failed result.
func isolate(logger zerolog.Logger, task func() ruleResult) (res ruleResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Rule evaluation panicked")
			res = ruleResult{outcome: ruleFailed}
		}
	}()
	return task()
}

func (s *Scheduler) listRules(ctx context.Context) ([]models.PriceAlertWithOwner, []models.GlobalAlertWithOwner, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	priceRules, err := s.store.ListActivePriceAlerts(sctx)
	if err != nil {
		return nil, nil, storeErr("list_price_alerts", err)
	}
	globalRules, err := s.store.ListActiveGlobalAlerts(sctx)
	if err != nil {
		return nil, nil, storeErr("list_global_alerts", err)
	}
	return priceRules, globalRules, nil
}

// storeErr makes sure a listing failure classifies as KindStore.
func storeErr(op string, err error) error {
	if apperrors.KindOf(err) == apperrors.KindStore {
		return err
	}
	return apperrors.NewStoreError(op, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err))
}

func (s *Scheduler) evaluatePrice(ctx context.Context, passLogger zerolog.Logger, r models.PriceAlertWithOwner, batch quote.Batch, now time.Time) ruleResult {
	rule := r.Alert
	logger := logging.WithRule(passLogger, string(models.RuleKindPrice), rule.ID)

	q, err := batch.Lookup(rule.Key())
	if err != nil {
		logger.Debug().Err(err).Str("symbol", rule.Symbol).Msg("Quote unavailable, skipping rule")
		return ruleResult{outcome: ruleUnavailable}
	}

	d := evaluator.PriceAlertPolicy{}.Evaluate(rule, q.Price, now)
	if !d.Fire() {
		return ruleResult{outcome: fromOutcome(d.Outcome)}
	}

	if err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.ApplyPriceTrigger(ctx, rule, d.Next)
	}); err != nil {
		return s.writeFailed(logger, err)
	}

	logging.LogTrigger(logger, rule.Symbol, string(rule.Condition), q.Price, rule.TargetPrice)
	ev := notify.NewPriceEvent(d.Next, q, s.opts.DashboardURL)
	return s.afterTrigger(ctx, logger, r.Settings, ev)
}

func (s *Scheduler) evaluateGlobal(ctx context.Context, passLogger zerolog.Logger, r models.GlobalAlertWithOwner, batch quote.Batch, now time.Time) ruleResult {
	rule := r.Alert
	logger := logging.WithRule(passLogger, string(models.RuleKindGlobal), rule.ID)

	q, err := batch.Lookup(rule.Key())
	if err != nil {
		logger.Debug().Err(err).Str("symbol", rule.Symbol).Msg("Quote unavailable, skipping rule")
		return ruleResult{outcome: ruleUnavailable}
	}

	d := evaluator.GlobalAlertPolicy{}.Evaluate(rule, q, now)
	if !d.Fire() {
		return ruleResult{outcome: fromOutcome(d.Outcome)}
	}

	if err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.ApplyGlobalTrigger(ctx, rule, d.Next)
	}); err != nil {
		return s.writeFailed(logger, err)
	}

	logging.LogTrigger(logger, rule.Symbol, string(rule.Direction), q.ChangePercent, rule.ThresholdPercent)
	ev := notify.NewGlobalEvent(d.Next, q, s.opts.DashboardURL)
	return s.afterTrigger(ctx, logger, r.Settings, ev)
}

func (s *Scheduler) writeFailed(logger zerolog.Logger, err error) ruleResult {
	if apperrors.Is(err, apperrors.ErrConflict) {
		logger.Info().Msg("Rule changed since it was read, trigger dropped")
		return ruleResult{outcome: ruleConflict}
	}
	logger.Error().Err(err).Msg("Failed to record trigger")
	return ruleResult{outcome: ruleFailed}
}

// afterTrigger runs once the state write has won: audit row first, then delivery.
func (s *Scheduler) afterTrigger(ctx context.Context, logger zerolog.Logger, recipient models.NotificationSettings, ev notify.Event) ruleResult {
	entry := models.AlertLog{
		ID:          uuid.New().String(),
		RuleKind:    ev.RuleKind,
		AlertID:     ev.RuleID,
		UserID:      ev.UserID,
		Message:     ev.Summary(),
		TriggeredAt: ev.TriggeredAt,
	}
	if err := s.withStoreTimeout(ctx, func(ctx context.Context) error {
		return s.store.AppendAlertLog(ctx, entry)
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to append alert log")
	}

	res := ruleResult{outcome: ruleFired}
	for _, cr := range s.notifier.Dispatch(logging.WithLogger(ctx, logger), recipient, ev) {
		switch {
		case cr.Delivered():
			res.delivered++
		case cr.Attempted:
			res.undelivered++
		}
	}
	return res
}

func (s *Scheduler) withStoreTimeout(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	return fn(sctx)
}
