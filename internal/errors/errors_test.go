package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"quote unavailable", NewQuoteError("STOCK", "AAPL", ErrQuoteUnavailable), KindTransient},
		{"unknown symbol", NewQuoteError("STOCK", "ZZZZ", ErrSymbolNotFound), KindData},
		{"store wrapped", fmt.Errorf("list alerts: %w", ErrStoreUnavailable), KindStore},
		{"store typed", NewStoreError("list_price_alerts", fmt.Errorf("disk I/O error")), KindStore},
		{"config", Wrap(ErrConfigInvalid, "validating config"), KindFatal},
		{"validation", NewValidationError("symbol", "", "required"), KindData},
		{"channel", NewChannelError("email", "a@b.c", fmt.Errorf("dial tcp: refused")), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrQuoteUnavailable))
	assert.True(t, IsTransient(ErrCodeNotFound))
	assert.False(t, IsTransient(ErrStoreUnavailable))
	assert.False(t, IsTransient(ErrConfigInvalid))
}

func TestTypedErrorsUnwrap(t *testing.T) {
	err := Wrapf(NewQuoteError("CRYPTO", "BTCUSDT", ErrTimeout), "batch %d", 3)

	var qe *QuoteError
	assert.True(t, As(err, &qe))
	assert.Equal(t, "BTCUSDT", qe.Symbol)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "quote error [CRYPTO] BTCUSDT")

	assert.Nil(t, Wrap(nil, "ignored"))
	assert.True(t, Is(NewValidationError("code", "x", "bad"), ErrInputValidation))
}

func TestBotAPIError(t *testing.T) {
	err := NewBotAPIError("sendMessage", 403, "Forbidden: bot was blocked by the user")
	assert.Equal(t, "bot api error [sendMessage] 403: Forbidden: bot was blocked by the user", err.Error())
	assert.Equal(t, "fatal", KindFatal.String())
}
