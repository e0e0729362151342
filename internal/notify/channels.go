package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"market-alerts/internal/models"
)

// Sender is the part of the bot client the chat channel needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramChannel delivers events as bot messages.
type TelegramChannel struct {
	bot Sender
}

// NewTelegramChannel creates a TelegramChannel.
func NewTelegramChannel(bot Sender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

func (t *TelegramChannel) Name() string { return ChannelTelegram }

func (t *TelegramChannel) Eligible(r models.NotificationSettings) bool {
	return r.TelegramEnabled && r.TelegramChatID != ""
}

func (t *TelegramChannel) Send(ctx context.Context, r models.NotificationSettings, ev Event) error {
	return t.bot.SendMessage(ctx, r.TelegramChatID, TelegramText(ev))
}

// InAppWriter persists in-app notification records.
type InAppWriter interface {
	CreateInAppNotification(ctx context.Context, n models.InAppNotification) error
}

// InAppChannel writes a notification record for the dashboard.
type InAppChannel struct {
	store InAppWriter
	now   func() time.Time
}

// NewInAppChannel creates an InAppChannel.
func NewInAppChannel(store InAppWriter) *InAppChannel {
	return &InAppChannel{store: store, now: time.Now}
}

func (c *InAppChannel) Name() string { return ChannelInApp }

func (c *InAppChannel) Eligible(r models.NotificationSettings) bool {
	return r.InAppEnabled
}

func (c *InAppChannel) Send(ctx context.Context, r models.NotificationSettings, ev Event) error {
	return c.store.CreateInAppNotification(ctx, models.InAppNotification{
		ID:        uuid.New().String(),
		UserID:    r.UserID,
		Title:     ev.Title(),
		Message:   ev.Summary(),
		Link:      ev.Link,
		CreatedAt: c.now().UTC(),
	})
}
