package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
	"quotefeed/internal/models"
	"quotefeed/internal/resilience"
)

// SinkConfig configures a Sink.
type SinkConfig struct {
	Policy       MergePolicy
	WriteTimeout time.Duration
	Breaker      resilience.CircuitBreakerConfig
}

// Sink filters and writes day documents through a driver guarded by a
// circuit breaker.
type Sink struct {
	driver  Driver
	policy  MergePolicy
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewSink creates a sink over driver.
func NewSink(driver Driver, cfg SinkConfig, logger zerolog.Logger) *Sink {
	if cfg.Policy == "" {
		cfg.Policy = MergeOverwrite
	}
	logger = logging.WithComponent(logger, "sink")
	return &Sink{
		driver:  driver,
		policy:  cfg.Policy,
		timeout: cfg.WriteTimeout,
		breaker: resilience.NewCircuitBreaker("store."+driver.Name(), cfg.Breaker, logger),
		logger:  logger,
	}
}

// UpsertBatch writes docs, skipping any without an ID or exchange payload.
// A driver failure drops the whole batch and returns a PersistenceError.
func (s *Sink) UpsertBatch(ctx context.Context, docs []models.DayDocument) (Result, error) {
	batch := make([]Upsert, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" || !d.HasPayload() {
			s.logger.Debug().Str("company", d.CompanyID).Msg("Skipping document without id or payload")
			continue
		}
		batch = append(batch, Upsert{Doc: d, Policy: s.policy})
	}
	if len(batch) == 0 {
		return Result{}, nil
	}

	start := time.Now()
	var res Result
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		var err error
		res, err = s.driver.BulkUpsert(ctx, batch)
		return err
	})
	if err != nil {
		perr := apperrors.NewPersistenceError(s.driver.Name(), len(batch), err)
		s.logger.Error().Err(perr).Msg("Batch dropped")
		return Result{}, perr
	}

	logging.LogBatch(s.logger, len(batch), res.Inserted, res.Modified, time.Since(start))
	return res, nil
}

// Upsert writes a single document.
func (s *Sink) Upsert(ctx context.Context, doc models.DayDocument) (Result, error) {
	return s.UpsertBatch(ctx, []models.DayDocument{doc})
}

// BreakerState reports the state of the write circuit.
func (s *Sink) BreakerState() resilience.CircuitState {
	return s.breaker.State()
}

// Close closes the underlying driver.
func (s *Sink) Close() error {
	return s.driver.Close()
}
