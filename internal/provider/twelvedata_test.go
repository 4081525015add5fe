package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotefeed/internal/calendar"
	apperrors "quotefeed/internal/errors"
)

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*TwelveData, *countingLimiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	lim := &countingLimiter{}
	c := NewTwelveData(TwelveDataConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Limiter: lim,
	}, zerolog.Nop())
	return c, lim
}

func TestTwelveDataQuote(t *testing.T) {
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "TCS", r.URL.Query().Get("symbol"))
		assert.Equal(t, "NSE", r.URL.Query().Get("exchange"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))

		w.Write([]byte(`{
			"symbol": "TCS", "name": "Tata Consultancy Services", "exchange": "NSE",
			"timestamp": 1760427000,
			"open": "3050.5", "high": "3075", "low": "3040.25", "close": "3061.8",
			"volume": "1234567", "previous_close": "3045.1",
			"change": "16.7", "percent_change": "0.54841"
		}`))
	})

	q, err := c.Quote(context.Background(), "TCS:NSE")
	require.NoError(t, err)

	assert.Equal(t, "TCS", q.Symbol)
	assert.Equal(t, "NSE", q.Exchange)
	assert.Equal(t, "Tata Consultancy Services", q.Name)
	assert.InDelta(t, 3050.5, q.Open, 1e-9)
	assert.InDelta(t, 3061.8, q.Close, 1e-9)
	assert.InDelta(t, 3045.1, q.PreviousClose, 1e-9)
	assert.Equal(t, int64(1234567), q.Volume)
	assert.InDelta(t, 0.54841, q.PercentChange, 1e-9)
	assert.Equal(t, time.Unix(1760427000, 0), q.Timestamp)

	// Quote admission belongs to the caller.
	assert.Equal(t, int32(0), lim.calls.Load())
}

func TestTwelveDataQuoteNumericFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"AAPL","exchange":"NASDAQ","close":187.2,"volume":42,"timestamp":1}`))
	})

	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 187.2, q.Close, 1e-9)
	assert.Equal(t, int64(42), q.Volume)
}

func TestTwelveDataErrorEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Errors can arrive with HTTP 200.
		w.Write([]byte(`{"code":429,"message":"You have run out of API credits","status":"error"}`))
	})

	_, err := c.Quote(context.Background(), "TCS:NSE")
	require.Error(t, err)

	var fetchErr *apperrors.FetchError
	require.True(t, apperrors.As(err, &fetchErr))
	assert.Equal(t, "TCS:NSE", fetchErr.Symbol)

	var provErr *apperrors.ProviderError
	require.True(t, apperrors.As(err, &provErr))
	assert.Equal(t, 429, provErr.Code)
	assert.Contains(t, provErr.Message, "API credits")
}

func TestTwelveDataHTTPError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Quote(context.Background(), "INFY:NSE")
	var provErr *apperrors.ProviderError
	require.True(t, apperrors.As(err, &provErr))
	assert.Equal(t, http.StatusBadGateway, provErr.Code)
}

func TestTwelveDataEmptyQuote(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := c.Quote(context.Background(), "INFY:NSE")
	assert.ErrorIs(t, err, apperrors.ErrEmptyResponse)
}

func TestTwelveDataPriceIsAdmitted(t *testing.T) {
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		w.Write([]byte(`{"price":"187.25000"}`))
	})

	p, err := c.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 187.25, p, 1e-9)
	assert.Equal(t, int32(1), lim.calls.Load())
}

func TestTwelveDataMarketStatus(t *testing.T) {
	c, lim := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market_state", r.URL.Path)
		code := r.URL.Query().Get("code")
		open := code == "XNSE"
		json.NewEncoder(w).Encode([]tdMarketState{{Name: code, Code: code, Country: "India", IsMarketOpen: open}})
	})

	india, ok := calendar.DefaultMarkets()["India"]
	require.True(t, ok)
	require.Len(t, india.Exchanges, 2)
	status, err := c.MarketStatus(context.Background(), india)
	require.NoError(t, err)

	assert.True(t, status.Success)
	require.Len(t, status.Exchanges, len(india.Exchanges))
	assert.Equal(t, "XNSE", status.Exchanges[0].Name)
	assert.True(t, status.Exchanges[0].IsMarketOpen)
	assert.Equal(t, "XBOM", status.Exchanges[1].Name)
	assert.False(t, status.Exchanges[1].IsMarketOpen)
	assert.Equal(t, int32(len(india.Exchanges)), lim.calls.Load())
}

func TestTwelveDataAuth(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		auth := NewTwelveDataAuth(TwelveDataConfig{}, zerolog.Nop())
		_, err := auth.Client(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrMissingAPIKey)
	})

	t.Run("shared client", func(t *testing.T) {
		auth := NewTwelveDataAuth(TwelveDataConfig{APIKey: "k"}, zerolog.Nop())
		a, err := auth.Client(context.Background())
		require.NoError(t, err)
		b, err := auth.Client(context.Background())
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("rejected key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":401,"message":"**apikey** parameter is incorrect","status":"error"}`))
		}))
		defer srv.Close()

		auth := NewTwelveDataAuth(TwelveDataConfig{APIKey: "bad", BaseURL: srv.URL}, zerolog.Nop())
		err := auth.Validate(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrInvalidAPIKey)
	})
}

func TestDecodeTwelveDataEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    EventKind
		wantErr bool
	}{
		{"price", `{"event":"price","symbol":"TCS","exchange":"NSE","price":3061.8,"timestamp":1760427000,"day_volume":900}`, EventPrice, false},
		{"price string", `{"event":"price","symbol":"TCS","price":"3061.8"}`, EventPrice, false},
		{"price without symbol", `{"event":"price","price":1}`, "", true},
		{"heartbeat", `{"event":"heartbeat","status":"ok"}`, EventHeartbeat, false},
		{"subscribe status", `{"event":"subscribe-status","status":"ok"}`, EventSubscribeStatus, false},
		{"error", `{"event":"error","message":"bad symbol"}`, EventError, false},
		{"unknown", `{"event":"reset"}`, EventUnknown, false},
		{"garbage", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := decodeTwelveDataEvent([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}

	e, err := decodeTwelveDataEvent([]byte(`{"event":"price","symbol":"TCS","exchange":"NSE","price":3061.8,"timestamp":1760427000,"day_volume":900}`))
	require.NoError(t, err)
	assert.InDelta(t, 3061.8, e.Price, 1e-9)
	assert.Equal(t, int64(900), e.DayVolume)
	assert.Equal(t, time.Unix(1760427000, 0), e.Timestamp)
}

// wsServer is a minimal price socket that records client actions.
type wsServer struct {
	mu      sync.Mutex
	actions []tdAction
	conns   []*websocket.Conn
	srv     *httptest.Server
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{}
	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.mu.Unlock()

		for {
			var a tdAction
			if err := conn.ReadJSON(&a); err != nil {
				return
			}
			ws.mu.Lock()
			ws.actions = append(ws.actions, a)
			ws.mu.Unlock()

			if a.Action == "subscribe" {
				ws.mu.Lock()
				conn.WriteJSON(map[string]any{"event": "subscribe-status", "status": "ok"})
				conn.WriteJSON(map[string]any{"event": "price", "symbol": "TCS", "exchange": "NSE", "price": 3061.8, "timestamp": 1760427000})
				ws.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) actionCount(name string) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	n := 0
	for _, a := range ws.actions {
		if a.Action == name {
			n++
		}
	}
	return n
}

func (ws *wsServer) dropAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, c := range ws.conns {
		c.Close()
	}
}

func TestTwelveDataStream(t *testing.T) {
	ws := newWSServer(t)
	c := NewTwelveData(TwelveDataConfig{
		APIKey:            "test-key",
		StreamURL:         ws.url(),
		KeepAliveInterval: 20 * time.Millisecond,
	}, zerolog.Nop())

	s, err := c.Stream([]string{"TCS:NSE", "INFY:NSE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"TCS:NSE", "INFY:NSE"}, s.Symbols())

	events := make(chan Event, 16)
	s.Subscribe(func(e Event) { events <- e })

	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	seen := map[EventKind]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[EventPrice] || !seen[EventSubscribeStatus] {
		select {
		case e := <-events:
			seen[e.Kind] = true
			if e.Kind == EventPrice {
				assert.Equal(t, "TCS", e.Symbol)
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}

	assert.Eventually(t, func() bool { return ws.actionCount("heartbeat") > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ws.actionCount("subscribe"))

	// A dropped socket surfaces as EventClosed.
	ws.dropAll()
	assert.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if e.Kind == EventClosed {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTwelveDataStreamDisconnectIsQuiet(t *testing.T) {
	ws := newWSServer(t)
	c := NewTwelveData(TwelveDataConfig{APIKey: "test-key", StreamURL: ws.url()}, zerolog.Nop())

	s, err := c.Stream([]string{"TCS:NSE"})
	require.NoError(t, err)

	var closed atomic.Bool
	s.Subscribe(func(e Event) {
		if e.Kind == EventClosed {
			closed.Store(true)
		}
	})

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, closed.Load())
}

func TestTwelveDataStreamRequiresSymbols(t *testing.T) {
	c := NewTwelveData(TwelveDataConfig{APIKey: "k"}, zerolog.Nop())
	_, err := c.Stream(nil)
	assert.ErrorIs(t, err, apperrors.ErrNoInstruments)
}
