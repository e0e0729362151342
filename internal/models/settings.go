package models

import "time"

// NotificationSettings holds a user's delivery preferences and identity proofs.
type NotificationSettings struct {
	UserID string

	TelegramChatID   string
	TelegramEnabled  bool
	VerificationCode *string // single-use; cleared on a successful link

	EmailEnabled bool
	EmailTo      string
	SMTP         SMTPSettings

	InAppEnabled bool
	UpdatedAt    time.Time
}

// SMTPSettings are the per-user mail transport credentials.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether enough of the transport is set to attempt a send.
func (s SMTPSettings) Configured() bool {
	return s.Host != "" && s.Port > 0
}

// DefaultSettings returns the settings applied to users without a stored row.
func DefaultSettings(userID string) NotificationSettings {
	return NotificationSettings{
		UserID:       userID,
		InAppEnabled: true,
	}
}

// InAppNotification is a persisted notification record shown by the dashboard.
type InAppNotification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}
