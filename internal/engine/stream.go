package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
	"quotefeed/internal/models"
	"quotefeed/internal/provider"
)

var errConnectionDropped = errors.New("streaming connection dropped")

// session is one streaming connection for a shard of symbols.
type session struct {
	id      int
	symbols []string
	stream  provider.Stream
	logger  zerolog.Logger

	connected   atomic.Bool
	lastMessage atomic.Int64 // unix nanoseconds
}

func (s *session) touch(t time.Time) {
	s.lastMessage.Store(t.UnixNano())
}

func (s *session) lastMessageAt() time.Time {
	n := s.lastMessage.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *session) disconnect() {
	s.connected.Store(false)
	if err := s.stream.Disconnect(); err != nil {
		s.logger.Debug().Err(err).Msg("Disconnect failed")
	}
}

func (s *session) snapshot(attempts int) SessionSnapshot {
	return SessionSnapshot{
		ID:                s.id,
		Symbols:           append([]string(nil), s.symbols...),
		Connected:         s.connected.Load(),
		LastMessageAt:     s.lastMessageAt(),
		ReconnectAttempts: attempts,
	}
}

// Shard partitions symbols into at most maxShards groups of at most perShard
// symbols. Symbols beyond capacity are returned separately.
func Shard(symbols []string, perShard, maxShards int) (shards [][]string, dropped []string) {
	if perShard <= 0 {
		perShard = len(symbols)
	}
	for i := 0; i < len(symbols); i += perShard {
		if len(shards) == maxShards {
			return shards, symbols[i:]
		}
		end := i + perShard
		if end > len(symbols) {
			end = len(symbols)
		}
		shards = append(shards, symbols[i:end])
	}
	return shards, nil
}

// connectShards opens one connection per shard. Shards that are already
// connected are kept. Any shard failure fails the whole connect.
func (e *Engine) connectShards(ctx context.Context, client provider.Client, symbols []string) error {
	e.mu.RLock()
	sessions := e.sessions
	e.mu.RUnlock()

	if sessions == nil {
		shards, dropped := Shard(symbols, e.cfg.SymbolsPerConnection, e.cfg.MaxConnections)
		if len(dropped) > 0 {
			e.logger.Warn().
				Int("dropped", len(dropped)).
				Int("capacity", e.cfg.SymbolsPerConnection*e.cfg.MaxConnections).
				Msg("Symbol count exceeds streaming capacity, extra symbols not tracked")
		}

		for i, shard := range shards {
			stream, err := client.Stream(shard)
			if err != nil {
				return apperrors.NewConnectionError("stream", err)
			}
			s := &session{
				id:      i,
				symbols: shard,
				stream:  stream,
				logger:  logging.WithSession(e.logger, i),
			}
			stream.Subscribe(func(ev provider.Event) { e.handleEvent(s, ev) })
			sessions = append(sessions, s)
		}

		e.mu.Lock()
		e.sessions = sessions
		e.mu.Unlock()
	}

	var lastErr error
	failed, attempted := 0, 0
	for _, s := range sessions {
		if s.connected.Load() {
			continue
		}
		if attempted > 0 && !e.wait(ctx, e.cfg.ConnectSpacing, nil) {
			return ctx.Err()
		}
		attempted++

		if err := s.stream.Connect(ctx); err != nil {
			failed++
			lastErr = err
			s.logger.Warn().Err(err).Int("symbols", len(s.symbols)).Msg("Shard connect failed")
			continue
		}
		s.connected.Store(true)
		s.touch(e.now())
		s.logger.Info().Int("symbols", len(s.symbols)).Msg("Shard connected")
	}

	if failed > 0 {
		return &apperrors.ConnectionError{Op: "stream", Failed: failed, Total: len(sessions), Err: lastErr}
	}
	return nil
}

// streamLoop supervises open connections until the market closes, the
// session is stopped or ctx is done. A dropped connection returns an error.
func (e *Engine) streamLoop(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	defer wg.Wait()
	defer cancel()

	e.mu.RLock()
	sessions := e.sessions
	e.mu.RUnlock()
	for _, s := range sessions {
		wg.Go(func() { e.keepAlive(loopCtx, s) })
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-e.dropped:
			if !e.isRunning() {
				return nil
			}
			return apperrors.NewConnectionError("stream", fmt.Errorf("session %d: %w", id, errConnectionDropped))
		case <-ticker.C:
			if !e.isRunning() {
				return nil
			}
			if !e.cal.IsMarketOpen(ctx, e.cfg.Market) {
				e.logger.Info().Msg("Market closed, streaming stopped")
				return nil
			}
		}
	}
}

// keepAlive warns while a connection has been silent too long.
func (e *Engine) keepAlive(ctx context.Context, s *session) {
	interval := e.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.connected.Load() || e.cfg.KeepAliveStaleAfter <= 0 {
				continue
			}
			if silent := e.now().Sub(s.lastMessageAt()); silent > e.cfg.KeepAliveStaleAfter {
				s.logger.Warn().Dur("silent", silent).Msg("No messages received on connection")
			}
		}
	}
}

// handleEvent processes one inbound streaming message.
func (e *Engine) handleEvent(s *session, ev provider.Event) {
	switch ev.Kind {
	case provider.EventPrice:
		s.touch(e.now())
		e.handlePrice(s, ev)
	case provider.EventHeartbeat:
		s.touch(e.now())
	case provider.EventSubscribeStatus:
		s.touch(e.now())
		s.logger.Info().Str("status", ev.Status).Str("message", ev.Message).Msg("Subscription status")
	case provider.EventError:
		s.touch(e.now())
		s.logger.Warn().Str("message", ev.Message).Msg("Provider error on stream")
	case provider.EventClosed:
		s.connected.Store(false)
		s.logger.Warn().Str("reason", ev.Message).Msg("Connection closed")
		select {
		case e.dropped <- s.id:
		default:
		}
	default:
		s.logger.Debug().Str("event", ev.Name).Msg("Dropping unknown stream message")
	}
}

// handlePrice persists a single price update immediately.
func (e *Engine) handlePrice(s *session, ev provider.Event) {
	symbol := ev.Symbol
	if ev.Exchange != "" {
		symbol = models.FormatSymbol(ev.Symbol, models.ParseExchange(ev.Exchange))
	}
	inst, ok := e.registry.Lookup(symbol)
	if !ok {
		s.logger.Debug().Str("symbol", symbol).Msg("Price for untracked symbol")
		return
	}

	now := e.now()
	batch := NewBatch(e.market.Location)
	if !batch.Add(inst, Normalize(priceQuote(ev), inst, now), now) {
		return
	}
	e.markSeen(inst.ProviderSymbol(), now)

	if _, err := e.sink.UpsertBatch(e.handlerCtx, batch.Documents()); err != nil {
		s.logger.Error().Err(err).Str("symbol", inst.ProviderSymbol()).Msg("Price update not persisted")
	}
}

// dropDeadSessions disconnects sessions that are not connected, keeping the
// rest for reuse.
func (e *Engine) dropDeadSessions() {
	e.mu.RLock()
	sessions := e.sessions
	e.mu.RUnlock()

	for _, s := range sessions {
		if !s.connected.Load() {
			_ = s.stream.Disconnect()
		}
	}
}

// teardown closes every connection and discards the session records.
func (e *Engine) teardown() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = nil
	e.mu.Unlock()

	for _, s := range sessions {
		s.disconnect()
	}
	// A drop reported before teardown belongs to the old sessions.
	select {
	case <-e.dropped:
	default:
	}
}
