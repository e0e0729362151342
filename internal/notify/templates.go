package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"market-alerts/internal/models"
)

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// TelegramText renders the chat message for ev.
func TelegramText(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n%s\n", escapeHTML(ev.Title()), escapeHTML(ev.Summary()))
	if ev.RuleKind == models.RuleKindPrice && ev.Limit > 1 {
		fmt.Fprintf(&b, "Trigger %d of %d\n", ev.Triggers, ev.Limit)
	}
	fmt.Fprintf(&b, "<i>%s</i>", ev.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if ev.Link != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">View alert</a>", escapeHTML(ev.Link))
	}
	return b.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <h2>{{.Title}}</h2>
  <p>{{.Summary}}</p>
  <table cellpadding="4">
    <tr><td>Symbol</td><td><b>{{.Symbol}}</b></td></tr>
    <tr><td>Condition</td><td>{{.Condition}}</td></tr>
    <tr><td>{{.CurrentLabel}}</td><td>{{.Current}}</td></tr>
    <tr><td>{{.TargetLabel}}</td><td>{{.Target}}</td></tr>
    <tr><td>Triggered</td><td>{{.TriggeredAt}}</td></tr>
  </table>
  {{if .Link}}<p><a href="{{.Link}}">View alert</a></p>{{end}}
</body>
</html>
`))

type emailView struct {
	Title        string
	Summary      string
	Symbol       string
	Condition    string
	CurrentLabel string
	Current      string
	TargetLabel  string
	Target       string
	TriggeredAt  string
	Link         string
}

// EmailHTML renders the HTML body for ev.
func EmailHTML(ev Event) (string, error) {
	v := emailView{
		Title:        ev.Title(),
		Summary:      ev.Summary(),
		Symbol:       ev.Symbol,
		Condition:    ev.Condition,
		CurrentLabel: "Current price",
		Current:      formatPrice(ev.Current),
		TargetLabel:  "Target price",
		Target:       formatPrice(ev.Target),
		TriggeredAt:  ev.TriggeredAt.UTC().Format("2006-01-02 15:04:05 MST"),
		Link:         ev.Link,
	}
	if ev.RuleKind == models.RuleKindGlobal {
		v.CurrentLabel = "Change"
		v.Current = fmt.Sprintf("%+.2f%%", ev.Current)
		v.TargetLabel = "Threshold"
		v.Target = fmt.Sprintf("%.2f%%", ev.Target)
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("rendering email: %w", err)
	}
	return buf.String(), nil
}
