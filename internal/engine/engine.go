// Package engine drives quote acquisition: it connects to the provider,
// polls or streams quotes while the market is open, reconnects with backoff
// and hands normalized day documents to the persistence sink.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotefeed/internal/calendar"
	"quotefeed/internal/config"
	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/logging"
	"quotefeed/internal/models"
	"quotefeed/internal/provider"
	"quotefeed/internal/resilience"
	"quotefeed/internal/store"
)

// State is the connection state of the engine.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateStreaming    State = "STREAMING"
	StateError        State = "ERROR"
	StateBackoff      State = "BACKOFF"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateStopped      State = "STOPPED"
)

// Calendar is the market-hours view the engine needs.
type Calendar interface {
	Market(name string) (calendar.Market, error)
	IsMarketOpen(ctx context.Context, market string) bool
	TimeUntilNextOpen(ctx context.Context, market string) time.Duration
}

// Registry resolves tracked symbols to instruments.
type Registry interface {
	Symbols() []string
	Lookup(symbol string) (models.Instrument, bool)
}

// Sink persists day documents.
type Sink interface {
	UpsertBatch(ctx context.Context, docs []models.DayDocument) (store.Result, error)
}

// Pacer spaces consecutive provider calls.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Config holds engine configuration.
type Config struct {
	Market               string
	Mode                 string // config.ModeREST or config.ModeWebSocket
	PollInterval         time.Duration
	MaxConnections       int
	SymbolsPerConnection int
	ConnectSpacing       time.Duration
	KeepAliveInterval    time.Duration
	KeepAliveStaleAfter  time.Duration
	Reconnect            ReconnectPolicy
	ExitOnClose          bool
}

// ConfigFrom extracts the engine settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Market:               cfg.Market.Name,
		Mode:                 cfg.Provider.Mode,
		PollInterval:         cfg.Polling.Interval,
		MaxConnections:       cfg.Streaming.MaxConnections,
		SymbolsPerConnection: cfg.Streaming.SymbolsPerConnection,
		ConnectSpacing:       cfg.Streaming.ConnectSpacing,
		KeepAliveInterval:    cfg.Streaming.KeepAliveInterval,
		KeepAliveStaleAfter:  cfg.Streaming.KeepAliveStaleAfter,
		Reconnect: ReconnectPolicy{
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Cooldown:     cfg.Reconnect.Cooldown,
		},
		ExitOnClose: cfg.Market.ExitOnClose,
	}
}

// Deps are the collaborators injected into the engine.
type Deps struct {
	Auth     provider.Auth
	Registry Registry
	Limiter  provider.Acquirer
	Pacer    Pacer
	Calendar Calendar
	Sink     Sink
	Logger   zerolog.Logger
}

// SessionSnapshot is a read-only view of one connection. In polling mode
// the single REST session is reported with ID 0 and its last flush time.
type SessionSnapshot struct {
	ID                int
	Symbols           []string
	Connected         bool
	LastMessageAt     time.Time
	ReconnectAttempts int
}

// Snapshot is a read-only view of the engine for monitoring.
type Snapshot struct {
	State             State
	Mode              string
	Running           bool
	LastUpdate        time.Time
	ReconnectAttempts int
	Cycles            int64
	Sessions          []SessionSnapshot
	LastSeen          map[string]time.Time
}

// Engine owns the connect/acquire/reconnect loop.
type Engine struct {
	cfg      Config
	market   calendar.Market
	auth     provider.Auth
	registry Registry
	limiter  provider.Acquirer
	pacer    Pacer
	cal      Calendar
	sink     Sink
	logger   zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Owned by the run worker.
	backoff *Backoff
	client  provider.Client

	mu         sync.RWMutex
	state      State
	running    bool
	lastUpdate time.Time
	attempts   int
	cycles     int64
	sessions   []*session
	lastSeen   map[string]time.Time

	dropped    chan int
	handlerCtx context.Context
}

// New creates an engine. An unknown market is a ConfigurationError.
func New(cfg Config, deps Deps) (*Engine, error) {
	m, err := deps.Calendar.Market(cfg.Market)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeREST
	}
	if cfg.Mode != config.ModeREST && cfg.Mode != config.ModeWebSocket {
		return nil, apperrors.NewConfigurationError("provider.mode",
			fmt.Sprintf("unknown mode %q", cfg.Mode), nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.SymbolsPerConnection <= 0 {
		cfg.SymbolsPerConnection = 10
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}
	if deps.Pacer == nil {
		deps.Pacer = resilience.NewPacer(0)
	}

	return &Engine{
		cfg:        cfg,
		market:     m,
		auth:       deps.Auth,
		registry:   deps.Registry,
		limiter:    deps.Limiter,
		pacer:      deps.Pacer,
		cal:        deps.Calendar,
		sink:       deps.Sink,
		logger:     logging.WithComponent(deps.Logger, "engine"),
		now:        time.Now,
		sleep:      resilience.SleepContext,
		backoff:    NewBackoff(cfg.Reconnect),
		state:      StateDisconnected,
		lastSeen:   make(map[string]time.Time),
		dropped:    make(chan int, 1),
		handlerCtx: context.Background(),
	}, nil
}

// Run drives sessions until ctx is cancelled, or until the market closes
// after a session when ExitOnClose is set.
func (e *Engine) Run(ctx context.Context) error {
	e.handlerCtx = context.WithoutCancel(ctx)
	e.logger.Info().
		Str("market", e.market.Name).
		Str("mode", e.cfg.Mode).
		Int("symbols", len(e.registry.Symbols())).
		Msg("Acquisition engine started")

	hadSession := false
	for ctx.Err() == nil {
		if !e.cal.IsMarketOpen(ctx, e.cfg.Market) {
			if hadSession && e.cfg.ExitOnClose {
				e.logger.Info().Msg("Market closed, exiting")
				break
			}
			e.waitForOpen(ctx)
			continue
		}

		hadSession = true
		e.runSession(ctx)
	}

	e.setState(StateShuttingDown)
	e.teardown()
	e.setState(StateStopped)
	e.logger.Info().Msg("Acquisition engine stopped")
	return nil
}

// Stop ends the current session. It is idempotent and safe to call from any
// goroutine. Streaming connections are closed; a polling cycle in progress
// finishes first.
func (e *Engine) Stop() {
	e.mu.Lock()
	was := e.running
	e.running = false
	sessions := e.sessions
	e.mu.Unlock()

	if !was {
		return
	}
	e.logger.Info().Msg("Stop requested")
	for _, s := range sessions {
		s.disconnect()
	}
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		State:             e.state,
		Mode:              e.cfg.Mode,
		Running:           e.running,
		LastUpdate:        e.lastUpdate,
		ReconnectAttempts: e.attempts,
		Cycles:            e.cycles,
		LastSeen:          make(map[string]time.Time, len(e.lastSeen)),
	}
	for k, v := range e.lastSeen {
		snap.LastSeen[k] = v
	}
	if !e.Streaming() {
		if e.running {
			snap.Sessions = append(snap.Sessions, SessionSnapshot{
				ID:                0,
				Symbols:           e.registry.Symbols(),
				Connected:         e.state == StateConnected,
				LastMessageAt:     e.lastUpdate,
				ReconnectAttempts: e.attempts,
			})
		}
		return snap
	}
	for _, s := range e.sessions {
		snap.Sessions = append(snap.Sessions, s.snapshot(e.attempts))
	}
	return snap
}

// Streaming reports whether the engine uses streaming connections.
func (e *Engine) Streaming() bool {
	return e.cfg.Mode == config.ModeWebSocket
}

func (e *Engine) runSession(ctx context.Context) {
	e.setRunning(true)
	defer e.setRunning(false)
	defer e.teardown()

	for ctx.Err() == nil && e.isRunning() {
		if !e.cal.IsMarketOpen(ctx, e.cfg.Market) {
			e.logger.Info().Msg("Market closed, ending session")
			return
		}

		if err := e.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.setState(StateError)
			e.logger.Error().Err(err).Msg("Connect failed")
			if !e.reconnectWait(ctx, false) {
				return
			}
			continue
		}
		e.backoff.Reset()
		e.publishAttempts()

		var err error
		if e.Streaming() {
			err = e.streamLoop(ctx)
		} else {
			err = e.pollLoop(ctx)
		}
		if err == nil {
			return
		}

		e.setState(StateError)
		e.logger.Error().Err(err).Msg("Acquisition loop failed")
		if !e.reconnectWait(ctx, true) {
			return
		}
	}
}

// connect obtains a client and, in streaming mode, opens every shard.
func (e *Engine) connect(ctx context.Context) error {
	e.setState(StateConnecting)

	symbols := e.registry.Symbols()
	if len(symbols) == 0 {
		return apperrors.NewConnectionError("connect", apperrors.ErrNoInstruments)
	}

	client, err := e.auth.Client(ctx)
	if err != nil {
		return apperrors.NewConnectionError("client", err)
	}
	if client == nil {
		return apperrors.NewConnectionError("client", apperrors.ErrNoClient)
	}
	e.client = client

	if !e.Streaming() {
		e.setState(StateConnected)
		e.logger.Info().Str("provider", e.auth.Name()).Int("symbols", len(symbols)).Msg("Connected")
		return nil
	}

	if err := e.connectShards(ctx, client, symbols); err != nil {
		return err
	}
	e.setState(StateStreaming)
	return nil
}

// reconnectWait tears down connections and waits out the next backoff
// delay. Unless teardownAll is set, connected shards stay open for reuse. It
// returns false when shutdown or Stop interrupted the wait.
func (e *Engine) reconnectWait(ctx context.Context, teardownAll bool) bool {
	if teardownAll {
		e.teardown()
	} else {
		e.dropDeadSessions()
	}

	e.setState(StateBackoff)
	delay, cooldown := e.backoff.Next()
	e.publishAttempts()

	event := e.logger.Warn().Int("attempt", e.backoff.Attempts()).Dur("delay", delay)
	if cooldown {
		event.Msg("Reconnect attempts exhausted, cooling down")
	} else {
		event.Msg("Reconnecting after backoff")
	}

	ok := e.wait(ctx, delay, e.isRunning)
	if ok && cooldown {
		e.backoff.Reset()
		e.publishAttempts()
	}
	return ok
}

// waitForOpen sleeps until the next market open, re-evaluating at least
// every minute.
func (e *Engine) waitForOpen(ctx context.Context) {
	e.setState(StateDisconnected)
	until := e.cal.TimeUntilNextOpen(ctx, e.cfg.Market)
	e.logger.Info().Dur("until_open", until).Msg("Market closed, waiting for next open")

	if until > time.Minute {
		until = time.Minute
	}
	if until <= 0 {
		until = time.Second
	}
	e.wait(ctx, until, nil)
}

// wait sleeps for d in steps of at most one second. It returns false as soon
// as ctx is done or keep reports false.
func (e *Engine) wait(ctx context.Context, d time.Duration, keep func() bool) bool {
	deadline := e.now().Add(d)
	for {
		if ctx.Err() != nil {
			return false
		}
		if keep != nil && !keep() {
			return false
		}
		remaining := deadline.Sub(e.now())
		if remaining <= 0 {
			return true
		}
		if remaining > time.Second {
			remaining = time.Second
		}
		if err := e.sleep(ctx, remaining); err != nil {
			return false
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev != s {
		e.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("State change")
	}
}

func (e *Engine) setRunning(v bool) {
	e.mu.Lock()
	e.running = v
	e.mu.Unlock()
}

func (e *Engine) isRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) publishAttempts() {
	e.mu.Lock()
	e.attempts = e.backoff.Attempts()
	e.mu.Unlock()
}

func (e *Engine) markSeen(symbol string, t time.Time) {
	e.mu.Lock()
	e.lastSeen[symbol] = t
	e.mu.Unlock()
}
