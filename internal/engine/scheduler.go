// Package engine runs the alert and linking passes on their intervals.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"market-alerts/internal/linking"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/quote"
	"market-alerts/internal/store"
)

// QuoteBatcher fetches quotes for a pass.
type QuoteBatcher interface {
	Batch(ctx context.Context, keys []models.QuoteKey) quote.Batch
}

// Notifier delivers a fired event.
type Notifier interface {
	Dispatch(ctx context.Context, recipient models.NotificationSettings, ev notify.Event) []notify.ChannelResult
}

// Linker runs one linking pass from a cursor.
type Linker interface {
	Pass(ctx context.Context, cursor int64) (linking.Result, error)
}

// Options configure a Scheduler.
type Options struct {
	AlertInterval   time.Duration
	LinkingInterval time.Duration
	// StoreTimeout bounds each store call made during a pass.
	StoreTimeout    time.Duration
	RuleConcurrency int
	DashboardURL    string
}

// DefaultOptions returns the defaults used when config leaves a field unset.
func DefaultOptions() Options {
	return Options{
		AlertInterval:   30 * time.Second,
		LinkingInterval: 3 * time.Second,
		StoreTimeout:    10 * time.Second,
		RuleConcurrency: 8,
	}
}

// LinkStatus is the state of the linking side of the scheduler.
type LinkStatus struct {
	Cursor   int64          `json:"cursor"`
	LastRun  time.Time      `json:"last_run"`
	LastErr  string         `json:"last_error,omitempty"`
	Last     linking.Result `json:"last_result"`
	Passes   int64          `json:"passes"`
	Failures int64          `json:"failures"`
}

// Scheduler owns the linking cursor and the most recent pass results.
type Scheduler struct {
	store    store.RuleStore
	quotes   QuoteBatcher
	notifier Notifier
	linker   Linker
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.RWMutex
	lastReport *PassReport
	link       LinkStatus
}

// NewScheduler creates a Scheduler. linker may be nil, in which case no linking pass runs.
func NewScheduler(rs store.RuleStore, quotes QuoteBatcher, notifier Notifier, linker Linker, opts Options, logger zerolog.Logger) *Scheduler {
	def := DefaultOptions()
	if opts.AlertInterval <= 0 {
		opts.AlertInterval = def.AlertInterval
	}
	if opts.LinkingInterval <= 0 {
		opts.LinkingInterval = def.LinkingInterval
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.RuleConcurrency <= 0 {
		opts.RuleConcurrency = def.RuleConcurrency
	}
	return &Scheduler{
		store:    rs,
		quotes:   quotes,
		notifier: notifier,
		linker:   linker,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes both passes immediately, then on their intervals, until ctx is cancelled.
// Passes of the same kind never overlap; a pass still running when its next tick fires is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
	c := cron.New(cron.WithLogger(cl))

	jobs := []cron.Job{
		chain.Then(cron.FuncJob(func() { s.alertTick(ctx) })),
	}
	specs := []string{"@every " + s.opts.AlertInterval.String()}
	if s.linker != nil {
		jobs = append(jobs, chain.Then(cron.FuncJob(func() { s.linkTick(ctx) })))
		specs = append(specs, "@every "+s.opts.LinkingInterval.String())
	}

	for i, job := range jobs {
		if _, err := c.AddJob(specs[i], job); err != nil {
			return fmt.Errorf("scheduling %q: %w", specs[i], err)
		}
	}

	s.logger.Info().
		Dur("alert_interval", s.opts.AlertInterval).
		Dur("linking_interval", s.opts.LinkingInterval).
		Bool("linking", s.linker != nil).
		Msg("Scheduler started")

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j cron.Job) {
			defer wg.Done()
			j.Run()
		}(job)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) alertTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunAlertPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("Alert pass aborted")
	}
}

func (s *Scheduler) linkTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunLinkingPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("Linking pass failed")
	}
}

// RunLinkingPass runs the linking handler once from the current cursor and stores the new cursor.
func (s *Scheduler) RunLinkingPass(ctx context.Context) (linking.Result, error) {
	if s.linker == nil {
		return linking.Result{}, nil
	}
	res, err := s.linker.Pass(ctx, s.Cursor())

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Cursor > s.link.Cursor {
		s.link.Cursor = res.Cursor
	}
	s.link.LastRun = s.now().UTC()
	s.link.Last = res
	s.link.Passes++
	s.link.LastErr = ""
	if err != nil {
		s.link.Failures++
		s.link.LastErr = err.Error()
	}
	return res, err
}

// Cursor returns the linking cursor.
func (s *Scheduler) Cursor() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link.Cursor
}

// LinkStatus returns a copy of the linking state.
func (s *Scheduler) LinkStatus() LinkStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link
}

// LastReport returns the most recent alert pass report.
func (s *Scheduler) LastReport() (PassReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReport == nil {
		return PassReport{}, false
	}
	return *s.lastReport, true
}

func (s *Scheduler) setReport(r PassReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReport = &r
}

func newPassID() string {
	return uuid.New().String()
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
