// Package cli provides the command-line interface for the alert engine.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-alerts/internal/config"
	"market-alerts/internal/logging"
	"market-alerts/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.Store
}

// OpenStore returns the configured store, opening it on first use.
func (a *App) OpenStore(ctx context.Context) (store.Store, error) {
	if a.Store != nil {
		return a.Store, nil
	}
	s, err := store.Open(ctx, a.Config.Store.Driver, a.Config.Store.Path,
		a.Config.Credentials.Store.DSN, a.Config.Store.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.Config.Store.Driver, err)
	}
	a.Store = s
	a.Logger.Debug().Str("driver", a.Config.Store.Driver).Msg("Store opened")
	return s, nil
}

// Close releases the store if it was opened.
func (a *App) Close() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close store")
	}
	a.Store = nil
}

// NewRootCmd creates the root command. Configuration is loaded from --config before any
// subcommand runs.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{Logger: zerolog.Nop()})
}

// newRootCmd builds the command tree around app. A pre-populated app.Config skips loading.
func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alertd",
		Short: "Market alert monitoring and notification engine",
		Long: `alertd watches user-defined price alerts and market-wide move alerts,
and delivers notifications over in-app, Telegram and email channels.

Use 'alertd run' to start the worker and 'alertd check' to verify its setup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/market-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))
	rootCmd.AddCommand(newGlobalCmd(app))
	rootCmd.AddCommand(newSettingsCmd(app))
	rootCmd.AddCommand(newLogsCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("alertd v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			NewOutput(cmd).Println(dir)
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Alert interval:    %s\n", cfg.Engine.AlertInterval)
	output.Printf("  Linking interval:  %s\n", cfg.Engine.LinkingInterval)
	output.Printf("  Call timeout:      %s\n", cfg.Engine.CallTimeout)
	output.Printf("  Inter-call delay:  %s\n", cfg.Engine.InterCallDelay)
	output.Printf("  Quote concurrency: %d\n", cfg.Engine.QuoteConcurrency)
	output.Printf("  Rule concurrency:  %d\n", cfg.Engine.RuleConcurrency)
	output.Println()

	output.Bold("Quotes")
	output.Printf("  Cache TTL:  %s\n", cfg.Quotes.CacheTTL)
	output.Printf("  Stock API:  %s\n", cfg.Quotes.Stock.BaseURL)
	output.Printf("  Crypto API: %s\n", cfg.Quotes.Crypto.BaseURL)
	output.Printf("  Redis:      %s\n", onOff(cfg.Redis.Enabled))
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver: %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == store.DriverSQLite {
		output.Printf("  Path:   %s\n", cfg.Store.Path)
	}
	output.Println()

	output.Bold("Telegram")
	output.Printf("  API:          %s\n", cfg.Telegram.APIURL)
	output.Printf("  Poll timeout: %s\n", cfg.Telegram.PollTimeout)
	output.Printf("  Bot token:    %s\n", maskedOrMissing(cfg.Credentials.Telegram.BotToken))
	output.Println()

	output.Bold("Status server")
	output.Printf("  Enabled: %s\n", onOff(cfg.Status.Enabled))
	output.Printf("  Listen:  %s\n", cfg.Status.Listen)
}
