package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotefeed/internal/calendar"
	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
	"quotefeed/internal/models"
)

// TwelveDataConfig holds Twelve Data client configuration.
type TwelveDataConfig struct {
	APIKey            string
	BaseURL           string
	StreamURL         string
	Timeout           time.Duration
	KeepAliveInterval time.Duration
	// Limiter admits requests the client issues on its own behalf
	// (market state, key validation). Quote calls are admitted by the caller.
	Limiter Acquirer
}

// TwelveData is a Twelve Data REST client.
type TwelveData struct {
	cfg    TwelveDataConfig
	http   *http.Client
	logger zerolog.Logger
}

// NewTwelveData creates a Twelve Data client.
func NewTwelveData(cfg TwelveDataConfig, logger zerolog.Logger) *TwelveData {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twelvedata.com"
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "wss://ws.twelvedata.com/v1/quotes/price"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 10 * time.Second
	}
	return &TwelveData{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.WithComponent(logger, "twelvedata"),
	}
}

// flexFloat accepts JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

type tdQuote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Exchange      string    `json:"exchange"`
	Timestamp     int64     `json:"timestamp"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	Volume        flexFloat `json:"volume"`
	PreviousClose flexFloat `json:"previous_close"`
	Change        flexFloat `json:"change"`
	PercentChange flexFloat `json:"percent_change"`
}

// tdStatus is the envelope shared by every error payload.
type tdStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Quote fetches the latest quote for a SYMBOL:EXCHANGE identifier.
func (c *TwelveData) Quote(ctx context.Context, symbol string) (QuoteResponse, error) {
	sym, exchange := models.SplitSymbol(symbol)
	params := url.Values{"symbol": {sym}}
	if exchange != "" {
		params.Set("exchange", string(exchange))
	}

	body, err := c.get(ctx, "/quote", params)
	if err != nil {
		return QuoteResponse{}, apperrors.NewFetchError(symbol, err)
	}

	var q tdQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return QuoteResponse{}, apperrors.NewFetchError(symbol, fmt.Errorf("decoding quote: %w", err))
	}
	if q.Symbol == "" {
		return QuoteResponse{}, apperrors.NewFetchError(symbol, apperrors.ErrEmptyResponse)
	}

	return QuoteResponse{
		Symbol:        q.Symbol,
		Exchange:      q.Exchange,
		Name:          q.Name,
		Open:          float64(q.Open),
		High:          float64(q.High),
		Low:           float64(q.Low),
		Close:         float64(q.Close),
		PreviousClose: float64(q.PreviousClose),
		Volume:        int64(q.Volume),
		Change:        float64(q.Change),
		PercentChange: float64(q.PercentChange),
		Timestamp:     time.Unix(q.Timestamp, 0),
	}, nil
}

// Price fetches the latest traded price of symbol.
func (c *TwelveData) Price(ctx context.Context, symbol string) (float64, error) {
	if err := c.admit(ctx); err != nil {
		return 0, err
	}
	body, err := c.get(ctx, "/price", url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, err
	}

	var p struct {
		Price *flexFloat `json:"price"`
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("decoding price: %w", err)
	}
	if p.Price == nil {
		return 0, apperrors.ErrEmptyResponse
	}
	return float64(*p.Price), nil
}

type tdMarketState struct {
	Name         string `json:"name"`
	Code         string `json:"code"`
	Country      string `json:"country"`
	IsMarketOpen bool   `json:"is_market_open"`
}

// MarketStatus reports whether the market's exchanges are open. It satisfies
// calendar.StatusOracle.
func (c *TwelveData) MarketStatus(ctx context.Context, m calendar.Market) (calendar.OracleStatus, error) {
	status := calendar.OracleStatus{Success: true}
	for _, ex := range m.Exchanges {
		if err := c.admit(ctx); err != nil {
			return calendar.OracleStatus{}, err
		}
		body, err := c.get(ctx, "/market_state", url.Values{"code": {ex.Code}})
		if err != nil {
			return calendar.OracleStatus{}, err
		}

		var states []tdMarketState
		if err := json.Unmarshal(body, &states); err != nil {
			return calendar.OracleStatus{}, fmt.Errorf("decoding market state: %w", err)
		}
		for _, s := range states {
			status.Exchanges = append(status.Exchanges, calendar.ExchangeStatus{
				Name:         s.Name,
				IsMarketOpen: s.IsMarketOpen,
			})
		}
	}
	return status, nil
}

// Stream creates a price stream for symbols.
func (c *TwelveData) Stream(symbols []string) (Stream, error) {
	if len(symbols) == 0 {
		return nil, apperrors.ErrNoInstruments
	}
	return newTwelveDataStream(c.cfg, symbols, c.logger), nil
}

func (c *TwelveData) admit(ctx context.Context) error {
	if c.cfg.Limiter == nil {
		return nil
	}
	return c.cfg.Limiter.Acquire(ctx)
}

func (c *TwelveData) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("apikey", c.cfg.APIKey)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	logging.LogAPICall(c.logger, http.MethodGet, path, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Errors arrive as {"code":..,"message":..,"status":"error"}, sometimes
	// with HTTP 200.
	var st tdStatus
	if len(body) > 0 && body[0] == '{' {
		_ = json.Unmarshal(body, &st)
	}
	if st.Status == "error" {
		return nil, apperrors.NewProviderError(st.Code, st.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, apperrors.NewProviderError(resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return body, nil
}

// TwelveDataAuth hands out a single shared Twelve Data client.
type TwelveDataAuth struct {
	cfg    TwelveDataConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *TwelveData
}

// NewTwelveDataAuth creates the Twelve Data auth provider.
func NewTwelveDataAuth(cfg TwelveDataConfig, logger zerolog.Logger) *TwelveDataAuth {
	return &TwelveDataAuth{cfg: cfg, logger: logger}
}

func (a *TwelveDataAuth) Name() string { return "twelvedata" }

// Client returns the shared client, creating it on first use.
func (a *TwelveDataAuth) Client(ctx context.Context) (Client, error) {
	td, err := a.TwelveData()
	if err != nil {
		return nil, err
	}
	return td, nil
}

// TwelveData returns the concrete client.
func (a *TwelveDataAuth) TwelveData() (*TwelveData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	if a.cfg.APIKey == "" {
		return nil, apperrors.ErrMissingAPIKey
	}
	a.client = NewTwelveData(a.cfg, a.logger)
	return a.client, nil
}

// Validate requests the price of a liquid symbol to confirm the API key.
func (a *TwelveDataAuth) Validate(ctx context.Context) error {
	td, err := a.TwelveData()
	if err != nil {
		return err
	}
	if _, err := td.Price(ctx, "AAPL"); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidAPIKey, err)
	}
	return nil
}
