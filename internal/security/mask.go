// Package security provides secret masking and input validation.
package security

import (
	"errors"
	"regexp"
	"strings"
)

// sensitiveFields contains field names that should be masked in logs.
var sensitiveFields = map[string]bool{
	"api_key":   true,
	"apikey":    true,
	"secret":    true,
	"password":  true,
	"token":     true,
	"bot_token": true,
	"dsn":       true,
}

// sensitivePatterns contains regex patterns for secrets that can leak into log text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bbot\d{5,}:[A-Za-z0-9_-]{20,}`),             // bot token inside an API URL
	regexp.MustCompile(`\b\d{5,}:[A-Za-z0-9_-]{30,}\b`),               // bare bot token
	regexp.MustCompile(`(?i)(apikey|api_key|password)=[^&\s"']+`),     // query string secrets
	regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/\s]+:)([^@\s]+)(@)`), // DSN password
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// IsSensitiveField reports whether a field name holds a secret.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskSensitive masks known secret shapes in free text.
func MaskSensitive(input string) string {
	result := input
	for i, pattern := range sensitivePatterns {
		switch i {
		case 2:
			result = pattern.ReplaceAllStringFunc(result, func(match string) string {
				parts := strings.SplitN(match, "=", 2)
				return parts[0] + "=" + MaskCredential(parts[1])
			})
		case 3:
			result = pattern.ReplaceAllString(result, "${1}****${3}")
		default:
			result = pattern.ReplaceAllStringFunc(result, MaskCredential)
		}
	}
	return result
}

// MaskSecrets replaces every occurrence of the given secrets, then applies MaskSensitive.
func MaskSecrets(input string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		input = strings.ReplaceAll(input, s, MaskCredential(s))
	}
	return MaskSensitive(input)
}

// scrubbedError keeps the chain of the original error while hiding secrets in its text.
type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// ScrubError returns err with secrets removed from its message. errors.Is/As still see the original chain.
func ScrubError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := MaskSecrets(err.Error(), secrets...)
	if msg == err.Error() {
		return err
	}
	var se *scrubbedError
	if errors.As(err, &se) && se.msg == msg {
		return err
	}
	return &scrubbedError{msg: msg, err: err}
}
