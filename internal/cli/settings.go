package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"market-alerts/internal/models"
	"market-alerts/internal/security"
)

// maskedOrMissing renders a secret for display.
func maskedOrMissing(s string) string {
	if s == "" {
		return "(not set)"
	}
	return security.MaskCredential(s)
}

// settingsView is the printable form of a user's settings. Secrets are masked.
type settingsView struct {
	UserID          string    `json:"user_id"`
	TelegramEnabled bool      `json:"telegram_enabled"`
	TelegramChatID  string    `json:"telegram_chat_id,omitempty"`
	PendingCode     bool      `json:"pending_code"`
	EmailEnabled    bool      `json:"email_enabled"`
	EmailTo         string    `json:"email_to,omitempty"`
	SMTPHost        string    `json:"smtp_host,omitempty"`
	SMTPPort        int       `json:"smtp_port,omitempty"`
	SMTPUsername    string    `json:"smtp_username,omitempty"`
	SMTPPassword    string    `json:"smtp_password,omitempty"`
	SMTPFrom        string    `json:"smtp_from,omitempty"`
	InAppEnabled    bool      `json:"in_app_enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newSettingsView(s models.NotificationSettings) settingsView {
	v := settingsView{
		UserID:          s.UserID,
		TelegramEnabled: s.TelegramEnabled,
		TelegramChatID:  s.TelegramChatID,
		PendingCode:     s.VerificationCode != nil,
		EmailEnabled:    s.EmailEnabled,
		EmailTo:         s.EmailTo,
		SMTPHost:        s.SMTP.Host,
		SMTPPort:        s.SMTP.Port,
		SMTPUsername:    s.SMTP.Username,
		SMTPFrom:        s.SMTP.From,
		InAppEnabled:    s.InAppEnabled,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.SMTP.Password != "" {
		v.SMTPPassword = security.MaskCredential(s.SMTP.Password)
	}
	return v
}

func newSettingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage per-user notification settings",
	}
	cmd.AddCommand(newSettingsShowCmd(app))
	cmd.AddCommand(newSettingsEmailCmd(app))
	cmd.AddCommand(newSettingsInAppCmd(app))
	cmd.AddCommand(newSettingsCodeCmd(app))
	cmd.AddCommand(newInboxCmd(app))
	return cmd
}

func newSettingsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Show a user's notification settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.GetSettings(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			v := newSettingsView(s)
			if output.IsJSON() {
				return output.JSON(v)
			}

			output.Bold("Settings for %s", v.UserID)
			output.Printf("  In-app:   %s\n", onOff(v.InAppEnabled))
			output.Printf("  Telegram: %s", onOff(v.TelegramEnabled))
			if v.TelegramChatID != "" {
				output.Printf(" (chat %s)", v.TelegramChatID)
			}
			output.Println()
			if v.PendingCode {
				output.Dim("            linking code pending")
			}
			output.Printf("  Email:    %s", onOff(v.EmailEnabled))
			if v.EmailTo != "" {
				output.Printf(" (to %s)", v.EmailTo)
			}
			output.Println()
			if v.SMTPHost != "" {
				output.Printf("  SMTP:     %s:%d user=%s password=%s\n", v.SMTPHost, v.SMTPPort,
					v.SMTPUsername, maskedOrMissing(s.SMTP.Password))
			}
			return nil
		},
	}
}

func newSettingsEmailCmd(app *App) *cobra.Command {
	var (
		to       string
		host     string
		port     int
		username string
		password string
		from     string
		disable  bool
	)

	cmd := &cobra.Command{
		Use:     "set-email <user>",
		Short:   "Configure email delivery for a user",
		Args:    cobra.ExactArgs(1),
		Example: `  alertd settings set-email u1 --to me@example.com --smtp-host smtp.example.com --smtp-port 587 --smtp-user me --smtp-password secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.GetSettings(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if disable {
				s.EmailEnabled = false
			} else {
				flags := cmd.Flags()
				if flags.Changed("to") {
					if err := security.ValidateEmail(to); err != nil {
						return err
					}
					s.EmailTo = to
				}
				if flags.Changed("from") {
					if err := security.ValidateEmail(from); err != nil {
						return err
					}
					s.SMTP.From = from
				}
				if flags.Changed("smtp-host") {
					s.SMTP.Host = host
				}
				if flags.Changed("smtp-port") || s.SMTP.Port == 0 {
					s.SMTP.Port = port
				}
				if flags.Changed("smtp-user") {
					s.SMTP.Username = username
				}
				if flags.Changed("smtp-password") {
					s.SMTP.Password = password
				}
				if s.EmailTo == "" || !s.SMTP.Configured() {
					return fmt.Errorf("email delivery needs --to, --smtp-host and --smtp-port")
				}
				s.EmailEnabled = true
			}

			if err := st.SaveSettings(cmd.Context(), s); err != nil {
				return err
			}
			output.Success("Email delivery for %s is %s", s.UserID, onOff(s.EmailEnabled))
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&host, "smtp-host", "", "SMTP server host")
	cmd.Flags().IntVar(&port, "smtp-port", 587, "SMTP server port (465 for implicit TLS)")
	cmd.Flags().StringVar(&username, "smtp-user", "", "SMTP username")
	cmd.Flags().StringVar(&password, "smtp-password", "", "SMTP password")
	cmd.Flags().StringVar(&from, "from", "", "sender address (defaults to the SMTP username)")
	cmd.Flags().BoolVar(&disable, "disable", false, "turn email delivery off")
	return cmd
}

func newSettingsInAppCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "in-app <user> <on|off>",
		Short:     "Toggle in-app notifications for a user",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}

			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.GetSettings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s.InAppEnabled = enabled
			if err := st.SaveSettings(cmd.Context(), s); err != nil {
				return err
			}
			NewOutput(cmd).Success("In-app notifications for %s are %s", s.UserID, onOff(enabled))
			return nil
		},
	}
}

func newSettingsCodeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "code <user>",
		Short: "Issue a single-use chat linking code",
		Long: `Issue a verification code for a user. The user sends "/start CODE" to the bot;
the worker links their chat and clears the code on its next linking pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.GetSettings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			code, err := security.GenerateVerificationCode()
			if err != nil {
				return err
			}
			s.VerificationCode = &code
			if err := st.SaveSettings(cmd.Context(), s); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"user_id": s.UserID, "code": code})
			}
			output.Success("Linking code for %s: %s", s.UserID, code)
			output.Printf("Send this to the bot: /start %s\n", code)
			return nil
		},
	}
}

func newInboxCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inbox <user>",
		Short: "Show a user's in-app notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			items, err := st.ListInAppNotifications(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(items)
			}
			if len(items) == 0 {
				output.Dim("No notifications")
				return nil
			}
			table := NewTable(output, "TIME", "TITLE", "MESSAGE")
			for _, n := range items {
				created := n.CreatedAt
				table.AddRow(FormatDateTime(&created), n.Title, TruncateString(n.Message, 60))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum notifications to show")
	return cmd
}

func newLogsCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent alert triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := st.ListAlertLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("No alerts have triggered yet")
				return nil
			}
			table := NewTable(output, "TIME", "KIND", "ALERT", "USER", "MESSAGE")
			for _, e := range entries {
				at := e.TriggeredAt
				table.AddRow(
					FormatDateTime(&at),
					string(e.RuleKind),
					fmt.Sprintf("#%d", e.AlertID),
					TruncateString(e.UserID, 16),
					TruncateString(e.Message, 60),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}
