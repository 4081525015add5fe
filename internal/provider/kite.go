package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
	"quotefeed/internal/models"
)

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey      string
	AccessToken string
}

// kiteQuoter is the part of the Kite Connect client used here.
type kiteQuoter interface {
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
}

// Kite is a Kite Connect quote client.
type Kite struct {
	cfg    KiteConfig
	client kiteQuoter
	logger zerolog.Logger

	mu     sync.Mutex
	tokens map[string]uint32 // SYMBOL:EXCHANGE -> instrument token
}

// NewKite creates a Kite client with an access token already issued.
func NewKite(cfg KiteConfig, logger zerolog.Logger) *Kite {
	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	return newKite(cfg, client, logger)
}

func newKite(cfg KiteConfig, client kiteQuoter, logger zerolog.Logger) *Kite {
	return &Kite{
		cfg:    cfg,
		client: client,
		logger: logging.WithComponent(logger, "kite"),
		tokens: make(map[string]uint32),
	}
}

// kiteKey converts SYMBOL:EXCHANGE to Kite's EXCHANGE:SYMBOL.
func kiteKey(symbol string) string {
	sym, exchange := models.SplitSymbol(symbol)
	if exchange == "" {
		exchange = models.NSE
	}
	return string(exchange) + ":" + sym
}

// Quote fetches the latest quote for a SYMBOL:EXCHANGE identifier.
func (k *Kite) Quote(ctx context.Context, symbol string) (QuoteResponse, error) {
	key := kiteKey(symbol)
	quotes, err := k.client.GetQuote(key)
	if err != nil {
		return QuoteResponse{}, apperrors.NewFetchError(symbol, err)
	}

	q, ok := quotes[key]
	if !ok {
		return QuoteResponse{}, apperrors.NewFetchError(symbol, apperrors.ErrEmptyResponse)
	}

	sym, exchange := models.SplitSymbol(symbol)
	if exchange == "" {
		exchange = models.NSE
	}

	// Kite reports the previous session close as OHLC.Close.
	change := q.LastPrice - q.OHLC.Close
	var pct float64
	if q.OHLC.Close != 0 {
		pct = change / q.OHLC.Close * 100
	}

	return QuoteResponse{
		Symbol:        sym,
		Exchange:      string(exchange),
		Open:          q.OHLC.Open,
		High:          q.OHLC.High,
		Low:           q.OHLC.Low,
		Close:         q.LastPrice,
		PreviousClose: q.OHLC.Close,
		Volume:        int64(q.Volume),
		Change:        change,
		PercentChange: pct,
		Timestamp:     q.LastTradeTime.Time,
	}, nil
}

// Stream creates a Kite ticker stream for symbols.
func (k *Kite) Stream(symbols []string) (Stream, error) {
	if len(symbols) == 0 {
		return nil, apperrors.ErrNoInstruments
	}
	tokens, err := k.resolveTokens(symbols)
	if err != nil {
		return nil, err
	}
	return newKiteStream(k.cfg, symbols, tokens, k.logger), nil
}

// resolveTokens maps symbols to instrument tokens, loading each exchange's
// instrument dump at most once.
func (k *Kite) resolveTokens(symbols []string) (map[uint32]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	loaded := make(map[models.Exchange]bool)
	out := make(map[uint32]string, len(symbols))

	for _, s := range symbols {
		sym, exchange := models.SplitSymbol(s)
		if exchange == "" {
			exchange = models.NSE
		}
		full := models.FormatSymbol(sym, exchange)

		if _, ok := k.tokens[full]; !ok && !loaded[exchange] {
			instruments, err := k.client.GetInstrumentsByExchange(string(exchange))
			if err != nil {
				return nil, fmt.Errorf("loading %s instruments: %w", exchange, err)
			}
			for _, inst := range instruments {
				k.tokens[models.FormatSymbol(inst.Tradingsymbol, exchange)] = uint32(inst.InstrumentToken)
			}
			loaded[exchange] = true
		}

		token, ok := k.tokens[full]
		if !ok {
			k.logger.Warn().Str("symbol", full).Msg("No instrument token, symbol will not stream")
			continue
		}
		out[token] = full
	}

	if len(out) == 0 {
		return nil, apperrors.ErrNoInstruments
	}
	return out, nil
}

// KiteAuth hands out a single shared Kite client.
type KiteAuth struct {
	cfg    KiteConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *Kite
}

// NewKiteAuth creates the Kite auth provider.
func NewKiteAuth(cfg KiteConfig, logger zerolog.Logger) *KiteAuth {
	return &KiteAuth{cfg: cfg, logger: logger}
}

func (a *KiteAuth) Name() string { return "kite" }

func (a *KiteAuth) Client(ctx context.Context) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	if a.cfg.APIKey == "" || a.cfg.AccessToken == "" {
		return nil, apperrors.ErrMissingAPIKey
	}
	a.client = NewKite(a.cfg, a.logger)
	return a.client, nil
}

// Validate fetches a NIFTY 50 quote to confirm the access token.
func (a *KiteAuth) Validate(ctx context.Context) error {
	c, err := a.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Quote(ctx, "NIFTY 50:NSE"); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidAPIKey, err)
	}
	return nil
}
