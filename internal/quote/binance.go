package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/models"
	"market-alerts/internal/security"
)

// binanceTicker is the subset of the 24hr ticker response we read.
type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	CloseTime          int64  `json:"closeTime"`

	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// binanceInvalidSymbol is the exchange's error code for an unknown pair.
const binanceInvalidSymbol = -1121

// CryptoBackend serves the CRYPTO segment from a Binance style 24hr ticker endpoint.
type CryptoBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

var _ Backend = (*CryptoBackend)(nil)

// NewCryptoBackend creates a crypto quote backend. apiKey is optional for public market data.
func NewCryptoBackend(baseURL, apiKey string, client *http.Client, logger zerolog.Logger) *CryptoBackend {
	return &CryptoBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
}

func (b *CryptoBackend) Segment() models.Segment { return models.SegmentCrypto }

// Fetch returns the latest quote for symbol.
func (b *CryptoBackend) Fetch(ctx context.Context, symbol string) (models.Quote, error) {
	start := time.Now()
	q, err := b.fetch(ctx, symbol)
	logging.LogAPICall(b.logger, http.MethodGet, "/api/v3/ticker/24hr "+symbol, time.Since(start), err)
	return q, err
}

func (b *CryptoBackend) fetch(ctx context.Context, symbol string) (models.Quote, error) {
	seg := models.SegmentCrypto

	q := url.Values{}
	q.Set("symbol", symbol)
	u := fmt.Sprintf("%s/api/v3/ticker/24hr?%s", b.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Quote{}, err
	}
	if b.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	res, err := b.client.Do(req)
	if err != nil {
		return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol, transportError(err, b.apiKey))
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	var body binanceTicker
	decodeErr := json.NewDecoder(res.Body).Decode(&body)

	if res.StatusCode >= 400 {
		if decodeErr == nil && body.Code == binanceInvalidSymbol {
			return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
				apperrors.Wrap(apperrors.ErrSymbolNotFound, body.Msg))
		}
		return models.Quote{}, statusError(seg, symbol, res.StatusCode)
	}
	if decodeErr != nil {
		return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "decode: %v", decodeErr))
	}
	if body.Code != 0 {
		return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "code %d: %s", body.Code, body.Msg))
	}

	price, err := parsePrice(seg, symbol, "lastPrice", body.LastPrice)
	if err != nil {
		return models.Quote{}, err
	}
	change, err := parseChange(seg, symbol, body.PriceChangePercent)
	if err != nil {
		return models.Quote{}, err
	}

	ts := b.now().UTC()
	if body.CloseTime > 0 {
		ts = time.UnixMilli(body.CloseTime).UTC()
	}

	return models.Quote{
		Segment:       seg,
		Symbol:        symbol,
		Price:         price,
		ChangePercent: change,
		Timestamp:     ts,
	}, nil
}

// transportError classifies a client.Do failure and strips the API key from the embedded URL.
func transportError(err error, apiKey string) error {
	scrubbed := security.ScrubError(err, apiKey)
	if apperrors.IsTimeout(err) {
		return fmt.Errorf("%w: %w: %w", apperrors.ErrQuoteUnavailable, apperrors.ErrTimeout, scrubbed)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrQuoteUnavailable, scrubbed)
}
