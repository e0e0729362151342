// Package notify fans alert events out to a recipient's enabled delivery channels.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/models"
)

// Channel names, in dispatch order.
const (
	ChannelInApp    = "in_app"
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// Channel delivers one event to one recipient.
type Channel interface {
	Name() string
	// Eligible reports whether the recipient has this channel enabled and configured.
	Eligible(recipient models.NotificationSettings) bool
	Send(ctx context.Context, recipient models.NotificationSettings, ev Event) error
}

// ChannelResult is the outcome of one channel for one event.
type ChannelResult struct {
	Channel   string
	Attempted bool
	Err       error
}

// Delivered reports whether the channel was attempted and succeeded.
func (r ChannelResult) Delivered() bool {
	return r.Attempted && r.Err == nil
}

// Dispatcher sends an event on every eligible channel, independently.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. Channels are attempted in the order given;
// timeout bounds each channel's Send when positive.
func NewDispatcher(logger zerolog.Logger, timeout time.Duration, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

// Channels returns the registered channel names in dispatch order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch attempts every eligible channel and returns one result per registered channel.
// A failing or panicking channel never prevents the others from being attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient models.NotificationSettings, ev Event) []ChannelResult {
	logger := logging.FromContextOr(ctx, logging.WithRule(d.logger, string(ev.RuleKind), ev.RuleID)).
		With().Str("user_id", recipient.UserID).Logger()

	results := make([]ChannelResult, 0, len(d.channels))
	for _, ch := range d.channels {
		res := ChannelResult{Channel: ch.Name()}
		if ch.Eligible(recipient) {
			res.Attempted = true
			res.Err = d.send(ctx, ch, recipient, ev)
		}
		logging.LogDispatch(logger, res.Channel, res.Attempted, res.Err)
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, recipient models.NotificationSettings, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewChannelError(ch.Name(), recipient.UserID, fmt.Errorf("panic: %v", r))
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := ch.Send(ctx, recipient, ev); err != nil {
		return apperrors.NewChannelError(ch.Name(), recipient.UserID, err)
	}
	return nil
}
