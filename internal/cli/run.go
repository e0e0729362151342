package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"market-alerts/internal/engine"
	"market-alerts/internal/linking"
	"market-alerts/internal/logging"
	"market-alerts/internal/notify"
	"market-alerts/internal/quote"
	"market-alerts/internal/resilience"
	"market-alerts/internal/status"
	"market-alerts/internal/store"
	"market-alerts/internal/telegram"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the alert worker",
		Long: `Start the long-running worker. It evaluates alerts every alert_interval,
polls the bot for linking codes every linking_interval and stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.ValidateForRun(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := buildWorker(ctx, app)
			if err != nil {
				return err
			}
			defer w.close()
			return w.run(ctx)
		},
	}
}

// worker is the fully wired engine.
type worker struct {
	app       *App
	scheduler *engine.Scheduler
	status    *status.Server
	redis     *redis.Client
}

// startupRetry bounds how long startup probes keep trying before the process gives up.
func startupRetry(app *App, what string) resilience.RetryWithBackoff {
	r := resilience.DefaultRetryWithBackoff()
	r.MaxAttempts = 4
	r.OnRetry = func(attempt int, err error, delay time.Duration) {
		app.Logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msgf("%s not reachable yet", what)
	}
	return r
}

func buildWorker(ctx context.Context, app *App) (*worker, error) {
	cfg := app.Config
	logger := app.Logger
	w := &worker{app: app}

	var st store.Store
	err := startupRetry(app, "Rule store").Execute(ctx, func(ctx context.Context) error {
		s, err := app.OpenStore(ctx)
		if err != nil {
			return err
		}
		st = s
		return s.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("rule store unreachable: %w", err)
	}

	var cache quote.Cache = quote.NewMemoryCache(cfg.Quotes.CacheTTL)
	if cfg.Redis.Enabled {
		rdb, err := quote.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Credentials.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, using in-process quote cache")
		} else {
			w.redis = rdb
			cache = quote.NewRedisCache(rdb, cfg.Quotes.CacheTTL, cfg.Redis.KeyPrefix)
		}
	}

	httpClient := quote.NewHTTPClient(cfg.Engine.CallTimeout)
	quotesLogger := logging.WithComponent(logger, "quotes")
	backends := []quote.Backend{
		quote.NewStockBackend(cfg.Quotes.Stock.BaseURL, cfg.Credentials.Quotes.StockAPIKey, httpClient, quotesLogger),
		quote.NewCryptoBackend(cfg.Quotes.Crypto.BaseURL, cfg.Credentials.Quotes.CryptoAPIKey, httpClient, quotesLogger),
	}
	srcCfg := quote.DefaultSourceConfig()
	srcCfg.CallTimeout = cfg.Engine.CallTimeout
	srcCfg.InterCallDelay = cfg.Engine.InterCallDelay
	srcCfg.Concurrency = cfg.Engine.QuoteConcurrency
	source := quote.NewSource(backends, cache, srcCfg, quotesLogger)

	// getUpdates holds the connection open for poll_timeout, so the client allows for it.
	botHTTP := &http.Client{Timeout: cfg.Telegram.PollTimeout + cfg.Engine.CallTimeout}
	bot := telegram.NewClient(cfg.Telegram.APIURL, cfg.Credentials.Telegram.BotToken, botHTTP,
		logging.WithComponent(logger, "telegram"))
	if cfg.Telegram.VerifyOnStart {
		var me telegram.User
		err := startupRetry(app, "Bot API").Execute(ctx, func(ctx context.Context) error {
			var err error
			me, err = bot.GetMe(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("bot authentication failed: %w", err)
		}
		logger.Info().Str("bot", me.Username).Msg("Bot authenticated")
	}

	dispatcher := notify.NewDispatcher(logging.WithComponent(logger, "notify"), cfg.Engine.CallTimeout,
		notify.NewInAppChannel(st),
		notify.NewTelegramChannel(bot),
		notify.NewEmailChannel(cfg.Notify.EmailSubjectPrefix, cfg.Engine.CallTimeout),
	)
	linker := linking.NewHandler(bot, st, cfg.Telegram.PollTimeout, logging.WithComponent(logger, "linking"))

	w.scheduler = engine.NewScheduler(st, source, dispatcher, linker, engine.Options{
		AlertInterval:   cfg.Engine.AlertInterval,
		LinkingInterval: cfg.Engine.LinkingInterval,
		StoreTimeout:    cfg.Engine.CallTimeout,
		RuleConcurrency: cfg.Engine.RuleConcurrency,
		DashboardURL:    cfg.Notify.DashboardURL,
	}, logging.WithComponent(logger, "engine"))

	if cfg.Status.Enabled {
		health := resilience.NewHealthMonitor(cfg.Engine.CallTimeout)
		health.RegisterComponent("store", resilience.PingCheck(st.Ping))
		health.RegisterComponent("quotes", resilience.BreakerCheck(source.BreakerStats))
		if w.redis != nil {
			health.RegisterComponent("redis", resilience.PingCheck(func(ctx context.Context) error {
				return w.redis.Ping(ctx).Err()
			}))
		}
		w.status = status.NewServer(cfg.Status.Listen, health, w.scheduler, source.BreakerStats,
			logging.WithComponent(logger, "status"))
	}

	logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("redis_cache", w.redis != nil).
		Strs("channels", dispatcher.Channels()).
		Bool("status_server", w.status != nil).
		Msg("Worker ready")
	return w, nil
}

// run blocks until ctx is cancelled. A status server failure is logged, not fatal.
func (w *worker) run(ctx context.Context) error {
	if w.status != nil {
		go func() {
			if err := w.status.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.app.Logger.Error().Err(err).Msg("Status server stopped")
			}
		}()
	}
	return w.scheduler.Run(ctx)
}

func (w *worker) close() {
	if w.redis != nil {
		if err := w.redis.Close(); err != nil {
			w.app.Logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}
