// Package linking associates a user's account with a bot chat through one-time codes.
//
// Users send "/start CODE" to the bot. Each pass reads the bot's update stream from an
// explicit cursor, consumes matching codes in the store and returns the advanced cursor.
package linking

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/security"
	"market-alerts/internal/telegram"
)

// Bot is the part of the bot client the handler needs.
type Bot interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

// CodeConsumer atomically consumes a verification code.
type CodeConsumer interface {
	ConsumeVerificationCode(ctx context.Context, code, chatID string) (models.NotificationSettings, error)
}

// Reply texts.
const (
	ReplyLinked  = "Your account is linked. Alerts will be delivered to this chat."
	ReplyInvalid = "That code is invalid or has already been used. Generate a new code and try again."
	ReplyUsage   = "Send /start followed by the verification code shown in your notification settings."
)

var startCommand = regexp.MustCompile(`^/start(?:@\w+)?(?:\s+(\S+))?\s*$`)

// Result summarises one linking pass.
type Result struct {
	Cursor  int64 `json:"cursor"`
	Updates int   `json:"updates"`
	Linked  int   `json:"linked"`
	Failed  int   `json:"failed"`
	Ignored int   `json:"ignored"`
}

// Handler runs linking passes.
type Handler struct {
	bot         Bot
	store       CodeConsumer
	pollTimeout time.Duration
	logger      zerolog.Logger
}

// NewHandler creates a Handler. pollTimeout is passed to getUpdates as the long-poll wait.
func NewHandler(bot Bot, store CodeConsumer, pollTimeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		bot:         bot,
		store:       store,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// Run processes one batch of updates starting at cursor and returns the next cursor.
// A cursor of 0 lets the provider pick its default starting point.
func (h *Handler) Run(ctx context.Context, cursor int64) (int64, error) {
	res, err := h.Pass(ctx, cursor)
	return res.Cursor, err
}

// Pass is Run with per-pass counters.
//
// The returned cursor is max(cursor, max(update_id)+1) over every update handled, matched or
// not. When the store fails mid-batch, processing stops and the cursor points at the failed
// update so it is read again on the next pass.
func (h *Handler) Pass(ctx context.Context, cursor int64) (Result, error) {
	res := Result{Cursor: cursor}

	updates, err := h.bot.GetUpdates(ctx, cursor, h.pollTimeout)
	if err != nil {
		return res, err
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].UpdateID < updates[j].UpdateID })

	for _, u := range updates {
		if err := h.handle(ctx, u, &res); err != nil {
			h.logger.Error().Err(err).Int64("update_id", u.UpdateID).Msg("Linking pass stopped on store failure")
			return res, err
		}
		res.Updates++
		if next := u.UpdateID + 1; next > res.Cursor {
			res.Cursor = next
		}
	}

	if res.Updates > 0 {
		h.logger.Info().
			Int("updates", res.Updates).
			Int("linked", res.Linked).
			Int("failed", res.Failed).
			Int("ignored", res.Ignored).
			Int64("cursor", res.Cursor).
			Msg("Linking pass complete")
	}
	return res, nil
}

// handle processes a single update. Only store failures other than a missing code are returned.
func (h *Handler) handle(ctx context.Context, u telegram.Update, res *Result) error {
	chatID := u.ChatID()
	m := startCommand.FindStringSubmatch(u.Text())
	if chatID == "" || m == nil {
		res.Ignored++
		if text := security.SanitizeText(u.Text()); text != "" {
			h.logger.Debug().Int64("update_id", u.UpdateID).Str("text", text).Msg("Ignoring update")
		}
		return nil
	}

	code := m[1]
	if code == "" {
		res.Ignored++
		h.reply(ctx, chatID, ReplyUsage)
		return nil
	}

	logger := h.logger.With().Int64("update_id", u.UpdateID).Str("code", security.MaskCredential(code)).Logger()

	if err := security.ValidateVerificationCode(code); err != nil {
		res.Failed++
		logger.Debug().Err(err).Msg("Malformed verification code")
		h.reply(ctx, chatID, ReplyInvalid)
		return nil
	}

	settings, err := h.store.ConsumeVerificationCode(ctx, code, chatID)
	switch {
	case apperrors.Is(err, apperrors.ErrCodeNotFound):
		res.Failed++
		logger.Info().Msg("Verification code not found")
		h.reply(ctx, chatID, ReplyInvalid)
		return nil
	case err != nil:
		return err
	}

	res.Linked++
	logger.Info().Str("user_id", settings.UserID).Msg("Chat linked")
	h.reply(ctx, chatID, ReplyLinked)
	return nil
}

func (h *Handler) reply(ctx context.Context, chatID, text string) {
	if err := h.bot.SendMessage(ctx, chatID, text); err != nil {
		h.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to send linking reply")
	}
}
