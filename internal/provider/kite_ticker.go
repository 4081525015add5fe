package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"quotefeed/internal/models"
)

const kiteConnectTimeout = 30 * time.Second

// kiteStream is one Kite ticker connection.
type kiteStream struct {
	cfg     KiteConfig
	symbols []string
	tokens  map[uint32]string // token -> SYMBOL:EXCHANGE
	logger  zerolog.Logger

	mu        sync.Mutex
	ticker    *kiteticker.Ticker
	handler   func(Event)
	connected bool
	closing   bool
}

func newKiteStream(cfg KiteConfig, symbols []string, tokens map[uint32]string, logger zerolog.Logger) *kiteStream {
	return &kiteStream{
		cfg:     cfg,
		symbols: append([]string(nil), symbols...),
		tokens:  tokens,
		logger:  logger,
	}
}

func (s *kiteStream) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *kiteStream) Subscribe(handler func(Event)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

func (s *kiteStream) emit(e Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(e)
	}
}

func (s *kiteStream) tokenList() []uint32 {
	out := make([]uint32, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Connect starts the ticker and subscribes in quote mode. Reconnects are left
// to the caller.
func (s *kiteStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}

	ticker := kiteticker.New(s.cfg.APIKey, s.cfg.AccessToken)
	ticker.SetAutoReconnect(false)
	s.ticker = ticker
	s.closing = false

	connectedCh := make(chan struct{}, 1)
	tokens := s.tokenList()

	ticker.OnConnect(func() {
		if err := ticker.Subscribe(tokens); err != nil {
			s.emit(Event{Kind: EventError, Message: fmt.Sprintf("subscribe: %v", err)})
			return
		}
		if err := ticker.SetMode(kiteticker.ModeQuote, tokens); err != nil {
			s.emit(Event{Kind: EventError, Message: fmt.Sprintf("set mode: %v", err)})
			return
		}

		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()

		s.emit(Event{Kind: EventSubscribeStatus, Name: "connect", Status: "ok"})
		select {
		case connectedCh <- struct{}{}:
		default:
		}
	})

	ticker.OnClose(func(code int, reason string) {
		s.mu.Lock()
		wasConnected := s.connected
		intentional := s.closing
		s.connected = false
		s.mu.Unlock()

		if wasConnected && !intentional {
			s.emit(Event{Kind: EventClosed, Message: fmt.Sprintf("closed %d: %s", code, reason)})
		}
	})

	ticker.OnError(func(err error) {
		s.emit(Event{Kind: EventError, Message: err.Error()})
	})

	ticker.OnTick(func(tick kitemodels.Tick) {
		s.emit(s.convertTick(tick))
	})
	s.mu.Unlock()

	go ticker.Serve()

	timer := time.NewTimer(kiteConnectTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.Disconnect()
		return ctx.Err()
	case <-connectedCh:
		return nil
	case <-timer.C:
		s.Disconnect()
		return fmt.Errorf("kite ticker connection timeout")
	}
}

func (s *kiteStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return nil
	}
	s.closing = true
	s.connected = false
	s.ticker.Close()
	s.ticker = nil
	return nil
}

func (s *kiteStream) convertTick(tick kitemodels.Tick) Event {
	full, ok := s.tokens[tick.InstrumentToken]
	if !ok {
		return Event{Kind: EventUnknown, Name: "tick", Message: fmt.Sprintf("unknown token %d", tick.InstrumentToken)}
	}
	sym, exchange := models.SplitSymbol(full)

	ts := tick.Timestamp.Time
	if ts.IsZero() {
		ts = tick.LastTradeTime.Time
	}

	change := tick.LastPrice - tick.OHLC.Close
	var pct float64
	if tick.OHLC.Close != 0 {
		pct = change / tick.OHLC.Close * 100
	}

	return Event{
		Kind:      EventPrice,
		Name:      "tick",
		Symbol:    sym,
		Exchange:  string(exchange),
		Price:     tick.LastPrice,
		DayVolume: int64(tick.VolumeTraded),
		Timestamp: ts,
		Quote: &QuoteResponse{
			Symbol:        sym,
			Exchange:      string(exchange),
			Open:          tick.OHLC.Open,
			High:          tick.OHLC.High,
			Low:           tick.OHLC.Low,
			Close:         tick.LastPrice,
			PreviousClose: tick.OHLC.Close,
			Volume:        int64(tick.VolumeTraded),
			Change:        change,
			PercentChange: pct,
			Timestamp:     ts,
		},
	}
}
