package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
	"market-alerts/internal/security"
)

// EmailChannel sends HTML email over each recipient's own SMTP settings.
type EmailChannel struct {
	subjectPrefix string
	dialTimeout   time.Duration
	tlsConfig     func(host string) *tls.Config
}

// NewEmailChannel creates an EmailChannel.
func NewEmailChannel(subjectPrefix string, dialTimeout time.Duration) *EmailChannel {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &EmailChannel{
		subjectPrefix: subjectPrefix,
		dialTimeout:   dialTimeout,
		tlsConfig: func(host string) *tls.Config {
			return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		},
	}
}

func (e *EmailChannel) Name() string { return ChannelEmail }

// Eligible requires the flag, a recipient address and an SMTP host.
func (e *EmailChannel) Eligible(r models.NotificationSettings) bool {
	return r.EmailEnabled && r.EmailTo != "" && r.SMTP.Configured()
}

func (e *EmailChannel) Send(ctx context.Context, r models.NotificationSettings, ev Event) error {
	from := r.SMTP.From
	if from == "" {
		from = r.SMTP.Username
	}
	if from == "" {
		return fmt.Errorf("%w: no sender address", apperrors.ErrChannelNotConfigured)
	}

	body, err := EmailHTML(ev)
	if err != nil {
		return err
	}

	subject := ev.Title()
	if e.subjectPrefix != "" {
		subject = e.subjectPrefix + " " + subject
	}
	msg := buildMessage(from, r.EmailTo, subject, body)

	if err := e.send(ctx, r.SMTP, from, r.EmailTo, msg); err != nil {
		return security.ScrubError(err, r.SMTP.Password)
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return []byte(b.String())
}

// send delivers msg. Port 465 uses implicit TLS; other ports upgrade with STARTTLS when offered.
func (e *EmailChannel) send(ctx context.Context, cfg models.SMTPSettings, from, to string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: e.dialTimeout}

	var (
		conn net.Conn
		err  error
	)
	implicitTLS := cfg.Port == 465
	if implicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: e.tlsConfig(cfg.Host)}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(e.dialTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(e.tlsConfig(cfg.Host)); err != nil {
				return fmt.Errorf("SMTP STARTTLS failed: %w", err)
			}
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
				return fmt.Errorf("SMTP auth failed: %w", err)
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
