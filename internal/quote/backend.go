// Package quote fetches and caches market quotes for the alert pass.
package quote

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// Backend fetches live quotes for one market segment.
type Backend interface {
	Segment() models.Segment
	Fetch(ctx context.Context, symbol string) (models.Quote, error)
}

// NewHTTPClient returns a client tuned for quote APIs. http.DefaultClient has no timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: t}
}

// statusError maps an HTTP status from a quote API to an error kind.
func statusError(segment models.Segment, symbol string, status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.NewQuoteError(string(segment), symbol, apperrors.ErrRateLimited)
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		return apperrors.NewQuoteError(string(segment), symbol, apperrors.ErrSymbolNotFound)
	default:
		return apperrors.NewQuoteError(string(segment), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "http %d", status))
	}
}

// parsePrice parses a decimal string and rejects non-positive prices.
func parsePrice(segment models.Segment, symbol, field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.NewQuoteError(string(segment), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "parse %s %q", field, raw))
	}
	if v <= 0 {
		return 0, apperrors.NewQuoteError(string(segment), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "non-positive %s %v", field, v))
	}
	return v, nil
}

// parseChange parses a percent change; an empty string is treated as zero.
func parseChange(segment models.Segment, symbol, raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperrors.NewQuoteError(string(segment), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "parse change %q", raw))
	}
	return v, nil
}
