package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
)

// CycleResult summarizes one polling cycle.
type CycleResult struct {
	ID          string
	Fetched     int
	Failed      int
	Documents   int
	Flushed     bool
	Interrupted bool
}

var errCycleFailed = errors.New("every quote request in the cycle failed")

// pollLoop runs polling cycles until the market closes, the session is
// stopped or ctx is done. It returns an error only when a whole cycle
// failed, which triggers a reconnect.
func (e *Engine) pollLoop(ctx context.Context) error {
	for ctx.Err() == nil && e.isRunning() {
		if !e.cal.IsMarketOpen(ctx, e.cfg.Market) {
			e.logger.Info().Msg("Market closed, polling stopped")
			return nil
		}

		res := e.pollCycle(ctx)
		if res.Fetched == 0 && res.Failed > 0 && !res.Interrupted {
			return apperrors.NewConnectionError("poll", errCycleFailed)
		}

		stillOpen := func() bool {
			return e.isRunning() && e.cal.IsMarketOpen(ctx, e.cfg.Market)
		}
		if !e.wait(ctx, e.cfg.PollInterval, stillOpen) {
			return nil
		}
	}
	return nil
}

// pollCycle fetches every tracked symbol once and flushes the batch.
// Per-symbol failures are logged and skipped. The batch is flushed exactly
// once, even when shutdown interrupts the cycle.
func (e *Engine) pollCycle(ctx context.Context) CycleResult {
	res := CycleResult{ID: uuid.NewString()}
	log := e.logger.With().Str("cycle", res.ID).Logger()

	batch := NewBatch(e.market.Location)
	symbols := e.registry.Symbols()

	for i, symbol := range symbols {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if i > 0 {
			if err := e.pacer.Wait(ctx); err != nil {
				res.Interrupted = true
				break
			}
		}
		if err := e.limiter.Acquire(ctx); err != nil {
			res.Interrupted = true
			break
		}

		resp, err := e.client.Quote(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			res.Failed++
			l := logging.WithSymbol(log, symbol)
			l.Warn().Err(err).Msg("Quote fetch failed")
			continue
		}

		inst, ok := e.registry.Lookup(symbol)
		if !ok {
			log.Warn().Str("symbol", symbol).Msg("Quote for untracked symbol")
			continue
		}

		now := e.now()
		if !batch.Add(inst, Normalize(resp, inst, now), now) {
			log.Debug().Str("symbol", symbol).Msg("No payload slot for exchange")
			continue
		}
		res.Fetched++
		e.markSeen(symbol, now)
	}

	res.Documents = batch.Len()
	if batch.Len() > 0 {
		// The flush outlives shutdown; the sink bounds it with its own timeout.
		_, err := e.sink.UpsertBatch(context.WithoutCancel(ctx), batch.Documents())
		res.Flushed = err == nil
		if err != nil {
			log.Error().Err(err).Msg("Cycle batch not persisted")
		}
	}

	e.mu.Lock()
	e.cycles++
	if res.Flushed && !res.Interrupted {
		e.lastUpdate = e.now()
	}
	e.mu.Unlock()

	log.Info().
		Int("fetched", res.Fetched).
		Int("failed", res.Failed).
		Int("documents", res.Documents).
		Bool("interrupted", res.Interrupted).
		Msg("Polling cycle complete")
	return res
}
