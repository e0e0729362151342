package security

import (
	"net/mail"
	"regexp"
	"strings"

	apperrors "market-alerts/internal/errors"
)

var (
	// Symbol pattern: tickers, FX/crypto pairs (XAU/USD), share classes (BRK.B), index carets (^GSPC)
	symbolPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9&./:_-]{0,23}$`)

	// Verification codes are short alphanumeric tokens
	codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,64}$`)
)

// ValidateSymbol validates a symbol after upper-casing and trimming it.
func ValidateSymbol(symbol string) error {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(symbol) {
		return apperrors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return nil
}

// ValidateVerificationCode checks the shape of a linking code.
func ValidateVerificationCode(code string) error {
	if !codePattern.MatchString(code) {
		return apperrors.NewValidationError("verification_code", MaskCredential(code), "invalid code format")
	}
	return nil
}

// ValidateEmail checks a single email address.
func ValidateEmail(addr string) error {
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return apperrors.NewValidationError("email", addr, "invalid email address")
	}
	return nil
}

// SanitizeText removes control characters from free-form text.
func SanitizeText(text string) string {
	var result strings.Builder
	for _, r := range text {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
