package notify

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  map[string][]string
	err   error
	calls int
}

func (f *fakeSender) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

// stubChannel is an always-eligible channel with a scripted Send.
type stubChannel struct {
	name  string
	send  func() error
	calls int
}

func (s *stubChannel) Name() string                             { return s.name }
func (s *stubChannel) Eligible(models.NotificationSettings) bool { return true }
func (s *stubChannel) Send(context.Context, models.NotificationSettings, Event) error {
	s.calls++
	return s.send()
}

func priceEvent() Event {
	at := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	return NewPriceEvent(models.PriceAlert{
		ID:              7,
		UserID:          "u1",
		Symbol:          "AAPL",
		Segment:         models.SegmentStock,
		Condition:       models.ConditionAbove,
		TargetPrice:     100,
		TriggerLimit:    3,
		CurrentTriggers: 2,
		LastTriggeredAt: &at,
	}, models.Quote{Segment: models.SegmentStock, Symbol: "AAPL", Price: 101.5}, "https://dash.example.com/")
}

func fullSettings() models.NotificationSettings {
	return models.NotificationSettings{
		UserID:          "u1",
		TelegramChatID:  "555",
		TelegramEnabled: true,
		EmailEnabled:    true,
		EmailTo:         "u1@example.com",
		SMTP:            models.SMTPSettings{Host: "127.0.0.1", Port: 1, From: "alerts@example.com"},
		InAppEnabled:    true,
	}
}

func TestDispatch_ChannelIsolation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	bot := &fakeSender{}
	failing := &stubChannel{name: ChannelEmail, send: func() error { return errors.New("smtp down") }}

	d := NewDispatcher(zerolog.Nop(), time.Second,
		NewInAppChannel(mem), failing, NewTelegramChannel(bot))

	results := d.Dispatch(ctx, fullSettings(), priceEvent())
	require.Len(t, results, 3)

	assert.True(t, results[0].Delivered())
	assert.True(t, results[1].Attempted)
	assert.False(t, results[1].Delivered())
	assert.True(t, results[2].Delivered())

	var chErr *apperrors.ChannelError
	require.ErrorAs(t, results[1].Err, &chErr)
	assert.Equal(t, ChannelEmail, chErr.Channel)

	assert.Len(t, bot.sent["555"], 1)
	notes, err := mem.ListInAppNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Price alert: AAPL", notes[0].Title)
	assert.Equal(t, "https://dash.example.com/alerts/7", notes[0].Link)
}

func TestDispatch_PanicIsContained(t *testing.T) {
	bot := &fakeSender{}
	panicky := &stubChannel{name: "boom", send: func() error { panic("nil map") }}

	d := NewDispatcher(zerolog.Nop(), 0, panicky, NewTelegramChannel(bot))
	results := d.Dispatch(context.Background(), fullSettings(), priceEvent())

	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "panic")
	assert.True(t, results[1].Delivered())
	assert.Equal(t, 1, bot.calls)
}

func TestDispatch_IneligibleChannelsNotAttempted(t *testing.T) {
	bot := &fakeSender{}
	mem := store.NewMemoryStore()
	d := NewDispatcher(zerolog.Nop(), 0,
		NewInAppChannel(mem), NewTelegramChannel(bot), NewEmailChannel("", time.Second))

	settings := models.DefaultSettings("u2")
	settings.InAppEnabled = false
	settings.TelegramEnabled = true // no chat id yet

	results := d.Dispatch(context.Background(), settings, priceEvent())
	for _, r := range results {
		assert.False(t, r.Attempted, r.Channel)
		assert.NoError(t, r.Err)
	}
	assert.Zero(t, bot.calls)
	assert.Equal(t, []string{ChannelInApp, ChannelTelegram, ChannelEmail}, d.Channels())
}

func TestDispatch_TimeoutBoundsChannel(t *testing.T) {
	slow := &slowChannel{}
	d := NewDispatcher(zerolog.Nop(), 20*time.Millisecond, slow)

	start := time.Now()
	results := d.Dispatch(context.Background(), fullSettings(), priceEvent())
	assert.Less(t, time.Since(start), time.Second)
	require.Error(t, results[0].Err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

type slowChannel struct{}

func (slowChannel) Name() string                             { return "slow" }
func (slowChannel) Eligible(models.NotificationSettings) bool { return true }
func (slowChannel) Send(ctx context.Context, _ models.NotificationSettings, _ Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return nil
	}
}

func TestEligibility(t *testing.T) {
	s := fullSettings()
	email := NewEmailChannel("", time.Second)
	tg := NewTelegramChannel(&fakeSender{})
	inApp := NewInAppChannel(store.NewMemoryStore())

	assert.True(t, email.Eligible(s))
	assert.True(t, tg.Eligible(s))
	assert.True(t, inApp.Eligible(s))

	noHost := s
	noHost.SMTP.Host = ""
	assert.False(t, email.Eligible(noHost))

	noTo := s
	noTo.EmailTo = ""
	assert.False(t, email.Eligible(noTo))

	noChat := s
	noChat.TelegramChatID = ""
	assert.False(t, tg.Eligible(noChat))

	disabled := s
	disabled.TelegramEnabled = false
	disabled.EmailEnabled = false
	disabled.InAppEnabled = false
	assert.False(t, tg.Eligible(disabled))
	assert.False(t, email.Eligible(disabled))
	assert.False(t, inApp.Eligible(disabled))
}

func TestTelegramText(t *testing.T) {
	text := TelegramText(priceEvent())
	assert.Contains(t, text, "<b>Price alert: AAPL</b>")
	assert.Contains(t, text, "AAPL is at 101.50, at or above your target of 100.00")
	assert.Contains(t, text, "Trigger 2 of 3")
	assert.Contains(t, text, `<a href="https://dash.example.com/alerts/7">`)
}

func TestGlobalEventRendering(t *testing.T) {
	ev := NewGlobalEvent(models.GlobalMarketAlert{
		ID: 3, UserID: "u1", Symbol: "SPY", Direction: models.DirectionDrop, ThresholdPercent: 2,
	}, models.Quote{Segment: models.SegmentStock, Symbol: "SPY", Price: 400, ChangePercent: -2.5}, "")

	assert.Equal(t, "Market alert: SPY", ev.Title())
	assert.Equal(t, "SPY dropped 2.50% (threshold -2.00%)", ev.Summary())
	assert.Equal(t, "/global-alerts/3", ev.Link)
	assert.NotContains(t, TelegramText(ev), "Trigger")

	html, err := EmailHTML(ev)
	require.NoError(t, err)
	assert.Contains(t, html, "-2.50%")
	assert.Contains(t, html, "Threshold")
}

func TestEmailHTML_EscapesSymbol(t *testing.T) {
	ev := priceEvent()
	ev.Symbol = "<script>"
	html, err := EmailHTML(ev)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, TelegramText(ev), "&lt;script&gt;")
}

// fakeSMTP accepts a single session without extensions and returns the DATA payload.
func fakeSMTP(t *testing.T) (port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 fake ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250 fake")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 ok")
			case cmd == "DATA":
				write("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				out <- body.String()
				write("250 queued")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("502 unsupported")
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, out
}

func TestEmailChannel_SendsOverSMTP(t *testing.T) {
	port, data := fakeSMTP(t)

	s := fullSettings()
	s.SMTP.Port = port
	ch := NewEmailChannel("[alerts]", 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, ch.Send(ctx, s, priceEvent()))

	select {
	case body := <-data:
		assert.Contains(t, body, "To: u1@example.com")
		assert.Contains(t, body, "From: alerts@example.com")
		assert.Contains(t, body, "Subject: [alerts] Price alert: AAPL")
		assert.Contains(t, body, "Content-Type: text/html")
		assert.Contains(t, body, "101.50")
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestEmailChannel_NoSender(t *testing.T) {
	s := fullSettings()
	s.SMTP.From = ""
	s.SMTP.Username = ""
	err := NewEmailChannel("", time.Second).Send(context.Background(), s, priceEvent())
	assert.ErrorIs(t, err, apperrors.ErrChannelNotConfigured)
}

func TestEmailChannel_DialErrorHidesPassword(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := fullSettings()
	s.SMTP.Port = port
	s.SMTP.Password = "hunter2-secret"
	err = NewEmailChannel("", 500*time.Millisecond).Send(context.Background(), s, priceEvent())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2-secret")
	assert.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}
