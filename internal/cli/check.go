package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"market-alerts/internal/logging"
	"market-alerts/internal/quote"
	"market-alerts/internal/security"
	"market-alerts/internal/telegram"
)

// checkResult is one line of the check report.
type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newCheckCmd(app *App) *cobra.Command {
	var skipBot bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configuration and connectivity",
		Long:  "Validate the configuration, ping the rule store and the Redis cache, and authenticate the bot token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.Engine.CallTimeout+app.Config.Telegram.PollTimeout)
			defer cancel()

			results := runChecks(ctx, app, skipBot)

			failed := 0
			for _, r := range results {
				if !r.OK {
					failed++
				}
			}

			if output.IsJSON() {
				if err := output.JSON(results); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "CHECK", "RESULT", "DETAIL")
				for _, r := range results {
					result := output.ColoredString(ColorGreen, "ok")
					if !r.OK {
						result = output.ColoredString(ColorRed, "FAIL")
					}
					table.AddRow(r.Name, result, r.Detail)
				}
				table.Render()
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipBot, "skip-bot", false, "do not contact the Bot API")
	return cmd
}

func runChecks(ctx context.Context, app *App, skipBot bool) []checkResult {
	cfg := app.Config
	var results []checkResult

	if err := cfg.ValidateForRun(); err != nil {
		results = append(results, checkResult{Name: "config", Detail: err.Error()})
	} else {
		results = append(results, checkResult{Name: "config", OK: true, Detail: "valid"})
	}

	results = append(results, timed("store", func() (string, error) {
		st, err := app.OpenStore(ctx)
		if err != nil {
			return "", err
		}
		if err := st.Ping(ctx); err != nil {
			return "", err
		}
		return cfg.Store.Driver, nil
	}))

	if cfg.Redis.Enabled {
		results = append(results, timed("redis", func() (string, error) {
			rdb, err := quote.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Credentials.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return "", err
			}
			defer rdb.Close()
			return cfg.Redis.Addr, nil
		}))
	}

	if !skipBot && cfg.Credentials.Telegram.BotToken != "" {
		results = append(results, timed("bot", func() (string, error) {
			bot := telegram.NewClient(cfg.Telegram.APIURL, cfg.Credentials.Telegram.BotToken,
				&http.Client{Timeout: cfg.Engine.CallTimeout}, logging.WithComponent(app.Logger, "telegram"))
			me, err := bot.GetMe(ctx)
			if err != nil {
				return "", security.ScrubError(err, cfg.Credentials.Telegram.BotToken)
			}
			return "@" + me.Username, nil
		}))
	}

	return results
}

func timed(name string, fn func() (string, error)) checkResult {
	start := time.Now()
	detail, err := fn()
	if err != nil {
		return checkResult{Name: name, Detail: err.Error()}
	}
	return checkResult{Name: name, OK: true, Detail: fmt.Sprintf("%s (%s)", detail, time.Since(start).Round(time.Millisecond))}
}
