// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrQuoteUnavailable     = errors.New("quote unavailable")
	ErrSymbolNotFound       = errors.New("symbol not found")
	ErrStoreUnavailable     = errors.New("rule store unavailable")
	ErrConflict             = errors.New("conditional write lost")
	ErrCodeNotFound         = errors.New("verification code not found")
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrTimeout              = errors.New("operation timed out")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrInputValidation      = errors.New("input validation failed")
)

// Kind classifies an error by how the scheduler should react to it.
type Kind int

const (
	// KindTransient covers external failures that are retried on the next pass.
	KindTransient Kind = iota
	// KindData covers inconsistent records; the unit of work is skipped.
	KindData
	// KindStore means the rule store could not be reached; the pass aborts.
	KindStore
	// KindFatal means the process cannot run at all.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindData:
		return "data"
	case KindStore:
		return "store"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Unknown errors are treated as transient.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrConfigInvalid):
		return KindFatal
	case errors.Is(err, ErrStoreUnavailable):
		return KindStore
	case errors.Is(err, ErrSymbolNotFound),
		errors.Is(err, ErrCodeNotFound),
		errors.Is(err, ErrInputValidation):
		return KindData
	}
	var se *StoreError
	if errors.As(err, &se) {
		return KindStore
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindData
	}
	return KindTransient
}

// IsTransient reports whether err should be skipped and retried on the next pass.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindData
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// QuoteError represents a failed quote lookup for one symbol.
type QuoteError struct {
	Segment string
	Symbol  string
	Err     error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("quote error [%s] %s: %v", e.Segment, e.Symbol, e.Err)
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// NewQuoteError creates a new QuoteError.
func NewQuoteError(segment, symbol string, err error) *QuoteError {
	return &QuoteError{
		Segment: segment,
		Symbol:  symbol,
		Err:     err,
	}
}

// ChannelError represents a delivery failure on a single notification channel.
type ChannelError struct {
	Channel   string
	Recipient string
	Err       error
}

func (e *ChannelError) Error() string {
	if e.Recipient != "" {
		return fmt.Sprintf("channel error [%s] %s: %v", e.Channel, e.Recipient, e.Err)
	}
	return fmt.Sprintf("channel error [%s]: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError.
func NewChannelError(channel, recipient string, err error) *ChannelError {
	return &ChannelError{
		Channel:   channel,
		Recipient: recipient,
		Err:       err,
	}
}

// StoreError represents a failed rule store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{
		Op:  op,
		Err: err,
	}
}

// BotAPIError is an error reported by the messaging bot API.
type BotAPIError struct {
	Method      string
	Code        int
	Description string
}

func (e *BotAPIError) Error() string {
	return fmt.Sprintf("bot api error [%s] %d: %s", e.Method, e.Code, e.Description)
}

// NewBotAPIError creates a new BotAPIError.
func NewBotAPIError(method string, code int, description string) *BotAPIError {
	return &BotAPIError{
		Method:      method,
		Code:        code,
		Description: description,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
