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
)

// twelveDataQuote is the subset of the /quote response we read.
type twelveDataQuote struct {
	Symbol        string `json:"symbol"`
	Close         string `json:"close"`
	PercentChange string `json:"percent_change"`
	Timestamp     int64  `json:"timestamp"`

	// error envelope
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// StockBackend serves the STOCK segment from a Twelve Data style /quote endpoint.
type StockBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

var _ Backend = (*StockBackend)(nil)

// NewStockBackend creates a stock quote backend.
func NewStockBackend(baseURL, apiKey string, client *http.Client, logger zerolog.Logger) *StockBackend {
	return &StockBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
		now:     time.Now,
	}
}

func (b *StockBackend) Segment() models.Segment { return models.SegmentStock }

// Fetch returns the latest quote for symbol.
func (b *StockBackend) Fetch(ctx context.Context, symbol string) (models.Quote, error) {
	start := time.Now()
	q, err := b.fetch(ctx, symbol)
	logging.LogAPICall(b.logger, http.MethodGet, "/quote "+symbol, time.Since(start), err)
	return q, err
}

func (b *StockBackend) fetch(ctx context.Context, symbol string) (models.Quote, error) {
	seg := models.SegmentStock

	q := url.Values{}
	q.Set("symbol", symbol)
	if b.apiKey != "" {
		q.Set("apikey", b.apiKey)
	}
	u := fmt.Sprintf("%s/quote?%s", b.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Quote{}, err
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

	if res.StatusCode >= 400 {
		return models.Quote{}, statusError(seg, symbol, res.StatusCode)
	}

	var body twelveDataQuote
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
			apperrors.Wrapf(apperrors.ErrQuoteUnavailable, "decode: %v", err))
	}
	// Twelve Data reports API errors with HTTP 200 and an error envelope.
	if body.Status == "error" {
		if body.Code == http.StatusTooManyRequests {
			return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol, apperrors.ErrRateLimited)
		}
		if body.Code == http.StatusNotFound || body.Code == http.StatusBadRequest {
			return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
				apperrors.Wrap(apperrors.ErrSymbolNotFound, body.Message))
		}
		return models.Quote{}, apperrors.NewQuoteError(string(seg), symbol,
			apperrors.Wrap(apperrors.ErrQuoteUnavailable, body.Message))
	}

	price, err := parsePrice(seg, symbol, "close", body.Close)
	if err != nil {
		return models.Quote{}, err
	}
	change, err := parseChange(seg, symbol, body.PercentChange)
	if err != nil {
		return models.Quote{}, err
	}

	ts := b.now().UTC()
	if body.Timestamp > 0 {
		ts = time.Unix(body.Timestamp, 0).UTC()
	}

	return models.Quote{
		Segment:       seg,
		Symbol:        symbol,
		Price:         price,
		ChangePercent: change,
		Timestamp:     ts,
	}, nil
}
