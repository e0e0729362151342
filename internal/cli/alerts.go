package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"market-alerts/internal/models"
	"market-alerts/internal/security"
)

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alerts",
		Aliases: []string{"alert"},
		Short:   "Manage price alerts",
	}
	cmd.AddCommand(newAlertsAddCmd(app))
	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsToggleCmd(app, "enable", models.AlertActive))
	cmd.AddCommand(newAlertsToggleCmd(app, "disable", models.AlertDisabled))
	return cmd
}

func newAlertsAddCmd(app *App) *cobra.Command {
	var (
		userID    string
		symbol    string
		segment   string
		condition string
		target    float64
		cooldown  int
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a price alert",
		Example: `  alertd alerts add --user u1 --symbol AAPL --condition above --target 200
  alertd alerts add --user u1 --symbol BTCUSDT --segment crypto --condition below --target 60000 --limit 3 --cooldown 600`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if err := security.ValidateSymbol(symbol); err != nil {
				return err
			}
			seg, err := models.ParseSegment(segment)
			if err != nil {
				return err
			}
			cond, err := models.ParseCondition(condition)
			if err != nil {
				return err
			}

			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			alert := &models.PriceAlert{
				UserID:          userID,
				Symbol:          models.NormalizeSymbol(symbol),
				Segment:         seg,
				Condition:       cond,
				TargetPrice:     target,
				CooldownSeconds: cooldown,
				TriggerLimit:    limit,
				Status:          models.AlertActive,
			}
			if err := st.CreatePriceAlert(cmd.Context(), alert); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alert)
			}
			output.Success("Created price alert #%d: %s %s %s %s", alert.ID, alert.Symbol,
				alert.Segment, alert.Condition, FormatPrice(alert.TargetPrice))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user ID")
	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol")
	cmd.Flags().StringVar(&segment, "segment", string(models.SegmentStock), "market segment (stock, crypto)")
	cmd.Flags().StringVar(&condition, "condition", "", "trigger condition (above, below)")
	cmd.Flags().Float64Var(&target, "target", 0, "target price")
	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "seconds between repeat triggers")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultTriggerLimit, "number of triggers before the alert completes")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("condition")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newAlertsListCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List price alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			alerts, err := st.ListPriceAlerts(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No price alerts")
				return nil
			}
			table := NewTable(output, "ID", "USER", "SYMBOL", "SEGMENT", "CONDITION", "TARGET", "TRIGGERS", "COOLDOWN", "STATUS", "LAST TRIGGERED")
			for _, a := range alerts {
				table.AddRow(
					strconv.FormatInt(a.ID, 10),
					TruncateString(a.UserID, 16),
					a.Symbol,
					string(a.Segment),
					string(a.Condition),
					FormatPrice(a.TargetPrice),
					FormatTriggers(a),
					FormatDuration(a.Cooldown()),
					output.statusText(a.Status),
					FormatDateTime(a.LastTriggeredAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "only show alerts owned by this user")
	return cmd
}

func newAlertsToggleCmd(app *App, use string, status models.AlertStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Set a price alert to %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.SetPriceAlertStatus(cmd.Context(), id, status); err != nil {
				return err
			}
			NewOutput(cmd).Success("Price alert #%d is now %s", id, status)
			return nil
		},
	}
}

func newGlobalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "global",
		Short: "Manage market-wide move alerts",
	}
	cmd.AddCommand(newGlobalAddCmd(app))
	cmd.AddCommand(newGlobalListCmd(app))
	cmd.AddCommand(newGlobalToggleCmd(app, "enable", true))
	cmd.AddCommand(newGlobalToggleCmd(app, "disable", false))
	return cmd
}

func newGlobalAddCmd(app *App) *cobra.Command {
	var (
		userID    string
		symbol    string
		direction string
		threshold float64
		cooldown  int
	)

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Subscribe to a percent move on a market symbol",
		Example: `  alertd global add --user u1 --symbol SPY --direction drop --threshold 2 --cooldown 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if err := security.ValidateSymbol(symbol); err != nil {
				return err
			}
			dir, err := models.ParseDirection(direction)
			if err != nil {
				return err
			}

			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			alert := &models.GlobalMarketAlert{
				UserID:           userID,
				Symbol:           models.NormalizeSymbol(symbol),
				Direction:        dir,
				ThresholdPercent: threshold,
				CooldownMinutes:  cooldown,
				Active:           true,
			}
			if err := st.CreateGlobalAlert(cmd.Context(), alert); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alert)
			}
			output.Success("Created global alert #%d: %s %s %.2f%%", alert.ID, alert.Symbol, alert.Direction, alert.ThresholdPercent)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user ID")
	cmd.Flags().StringVar(&symbol, "symbol", "", "market symbol (quoted on the stock segment)")
	cmd.Flags().StringVar(&direction, "direction", "", "move direction (drop, rise)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "percent move that triggers the alert")
	cmd.Flags().IntVar(&cooldown, "cooldown", 60, "minutes between repeat triggers")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("direction")
	_ = cmd.MarkFlagRequired("threshold")
	return cmd
}

func newGlobalListCmd(app *App) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List global alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			alerts, err := st.ListGlobalAlerts(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No global alerts")
				return nil
			}
			table := NewTable(output, "ID", "USER", "SYMBOL", "DIRECTION", "THRESHOLD", "COOLDOWN", "ACTIVE", "LAST TRIGGERED")
			for _, a := range alerts {
				table.AddRow(
					strconv.FormatInt(a.ID, 10),
					TruncateString(a.UserID, 16),
					a.Symbol,
					string(a.Direction),
					FormatPercent(a.ThresholdPercent),
					FormatDuration(a.Cooldown()),
					onOff(a.Active),
					FormatDateTime(a.LastTriggeredAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "only show alerts owned by this user")
	return cmd
}

func newGlobalToggleCmd(app *App, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("%s a global alert", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.SetGlobalAlertActive(cmd.Context(), id, active); err != nil {
				return err
			}
			NewOutput(cmd).Success("Global alert #%d is now %s", id, onOff(active))
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alert id %q", s)
	}
	return id, nil
}
