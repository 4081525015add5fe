package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "quotefeed/internal/errors"
)

const writeWait = 10 * time.Second

type tdAction struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type tdEvent struct {
	Event     string    `json:"event"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Price     flexFloat `json:"price"`
	DayVolume flexFloat `json:"day_volume"`
	Timestamp int64     `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// twelveDataStream is one Twelve Data price WebSocket.
type twelveDataStream struct {
	endpoint  string
	symbols   []string
	keepAlive time.Duration
	logger    zerolog.Logger

	mu      sync.Mutex // guards conn, handler and writes
	conn    *websocket.Conn
	handler func(Event)
	done    chan struct{}
	closing bool
}

func newTwelveDataStream(cfg TwelveDataConfig, symbols []string, logger zerolog.Logger) *twelveDataStream {
	u, err := url.Parse(cfg.StreamURL)
	endpoint := cfg.StreamURL
	if err == nil {
		q := u.Query()
		q.Set("apikey", cfg.APIKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}
	return &twelveDataStream{
		endpoint:  endpoint,
		symbols:   append([]string(nil), symbols...),
		keepAlive: cfg.KeepAliveInterval,
		logger:    logger,
	}
}

func (s *twelveDataStream) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *twelveDataStream) Subscribe(handler func(Event)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Connect dials the socket, subscribes to the symbols and starts the read
// and heartbeat loops.
func (s *twelveDataStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing stream: %w", err)
	}

	sub := tdAction{
		Action: "subscribe",
		Params: map[string]any{"symbols": strings.Join(s.symbols, ",")},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing: %w", err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.closing = false

	go s.readLoop(conn, s.done)
	go s.heartbeatLoop(conn, s.done)
	return nil
}

// Disconnect closes the socket. It is safe to call more than once.
func (s *twelveDataStream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	s.closing = true
	close(s.done)

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *twelveDataStream) emit(e Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(e)
	}
}

func (s *twelveDataStream) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			intentional := s.closing || s.done != done
			s.mu.Unlock()
			if !intentional {
				s.emit(Event{Kind: EventClosed, Message: err.Error()})
			}
			return
		}

		e, err := decodeTwelveDataEvent(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Dropping undecodable stream message")
			continue
		}
		s.emit(e)
	}
}

func (s *twelveDataStream) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(tdAction{Action: "heartbeat"})
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn().Err(err).Msg("Heartbeat write failed")
				return
			}
		}
	}
}

func decodeTwelveDataEvent(data []byte) (Event, error) {
	var raw tdEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, err
	}

	e := Event{
		Name:     raw.Event,
		Symbol:   raw.Symbol,
		Exchange: raw.Exchange,
		Status:   raw.Status,
		Message:  raw.Message,
	}
	if raw.Timestamp > 0 {
		e.Timestamp = time.Unix(raw.Timestamp, 0)
	}

	switch raw.Event {
	case "price":
		e.Kind = EventPrice
		e.Price = float64(raw.Price)
		e.DayVolume = int64(raw.DayVolume)
		if raw.Symbol == "" {
			return Event{}, apperrors.ErrEmptyResponse
		}
	case "heartbeat":
		e.Kind = EventHeartbeat
	case "subscribe-status":
		e.Kind = EventSubscribeStatus
	case "error":
		e.Kind = EventError
	default:
		e.Kind = EventUnknown
	}
	return e, nil
}
