package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tickerPath  = "/api/v5/market/ticker"
	candlesPath = "/api/v5/market/candles"

	// MaxCandleLimit is the largest page the candles endpoint serves.
	MaxCandleLimit = 100
)

// ErrNoData is returned when the exchange answers with an empty data array.
var ErrNoData = errors.New("okx: empty data")

// Bars lists the candle periods accepted by the exchange.
var Bars = []string{"1m", "3m", "5m", "15m", "30m", "1H", "2H", "4H", "6H", "12H", "1D", "1W", "1M", "3M"}

// ValidBar reports whether bar is a supported candle period.
func ValidBar(bar string) bool {
	for _, b := range Bars {
		if b == bar {
			return true
		}
	}
	return false
}

// ClientOptions parameterise the OKX REST client.
type ClientOptions struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
	Simulated  bool
	Timeout    time.Duration
	UserAgent  string
}

// Client talks to the OKX v5 REST API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewClient constructs an OKX client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.okx.com"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "okx_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchPrice returns the ticker's last traded price.
func (c *Client) FetchPrice(ctx context.Context, instID string) (decimal.Decimal, error) {
	if instID == "" {
		return decimal.Decimal{}, errors.New("instId required")
	}

	params := url.Values{}
	params.Set("instId", instID)

	var tickers []tickerData
	if err := c.get(ctx, tickerPath, params, false, &tickers); err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch ticker %s: %w", instID, err)
	}
	if len(tickers) == 0 || tickers[0].Last == "" {
		return decimal.Decimal{}, fmt.Errorf("fetch ticker %s: %w", instID, ErrNoData)
	}

	price, err := decimal.NewFromString(tickers[0].Last)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse last price %q: %w", tickers[0].Last, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("ticker %s returned non-positive price %s", instID, price.String())
	}
	return price, nil
}

// Candle is one OHLCV row.
type Candle struct {
	Time      time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	Confirmed bool
}

// FetchCandles returns candles in the order the exchange sent them.
func (c *Client) FetchCandles(ctx context.Context, instID, bar string, limit int) ([]Candle, error) {
	if instID == "" {
		return nil, errors.New("instId required")
	}
	if !ValidBar(bar) {
		return nil, fmt.Errorf("unsupported bar %q", bar)
	}
	if limit <= 0 || limit > MaxCandleLimit {
		limit = MaxCandleLimit
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("bar", bar)
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]string
	if err := c.get(ctx, candlesPath, params, false, &rows); err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", instID, err)
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseCandle(row)
		if err != nil {
			return nil, fmt.Errorf("parse candle %s: %w", instID, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []string) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("expected at least 6 columns, got %d", len(row))
	}

	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("timestamp %q: %w", row[0], err)
	}

	values := make([]decimal.Decimal, 5)
	for i := range values {
		v, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return Candle{}, fmt.Errorf("column %d %q: %w", i+1, row[i+1], err)
		}
		values[i] = v
	}

	candle := Candle{
		Time:   time.UnixMilli(ms).UTC(),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}
	if len(row) > 8 {
		candle.Confirmed = row[8] == "1"
	}
	return candle, nil
}

// get performs a GET request and decodes the envelope's data field into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, auth bool, out any) error {
	requestPath := path
	if encoded := params.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "okxwatch/1.0")
	}
	if auth {
		if err := c.signRequest(req, http.MethodGet, requestPath, ""); err != nil {
			return err
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && env.Code != "" {
			return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
		}
		return parseHTTPError(resp.StatusCode, payload)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode okx response: %w", decodeErr)
	}
	if env.Code != "0" {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	c.logger.Debug().Str("path", path).Int("bytes", len(payload)).Msg("okx request ok")

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode okx data: %w", err)
	}
	return nil
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"`
}

// APIError is a non-"0" response code from the exchange.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OKX API error: code=%s msg=%s", e.Code, e.Msg)
}

// authCodes are the credential, signature and permission failures.
var authCodes = map[string]bool{
	"50100": true, "50101": true, "50102": true, "50103": true, "50104": true,
	"50105": true, "50106": true, "50107": true, "50108": true, "50109": true,
	"50110": true, "50111": true, "50112": true, "50113": true, "50114": true,
	"50011": true, "50013": true, "50120": true,
}

// IsAuthError reports whether err is an authentication or permission failure.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return authCodes[apiErr.Code] || apiErr.Status == http.StatusUnauthorized
}

func parseHTTPError(status int, payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 {
		if len(trimmed) > 256 {
			trimmed = trimmed[:256]
		}
		return fmt.Errorf("okx http error (%d): %s", status, string(trimmed))
	}
	return fmt.Errorf("okx http error (%d)", status)
}

var (
	_ PriceFetcher  = (*Client)(nil)
	_ CandleFetcher = (*Client)(nil)
)
