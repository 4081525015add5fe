// Package health watches the acquisition engine for stale data and dead
// connections, and stops the engine when the market closes.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quotefeed/internal/config"
	"quotefeed/internal/engine"
	"quotefeed/internal/logging"
	"quotefeed/internal/notify"
	"quotefeed/pkg/utils"
)

// Status is the health of a watched component.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusDegraded Status = "DEGRADED"
	StatusUnknown  Status = "UNKNOWN"
)

// ComponentHealth is the result of one staleness check.
type ComponentHealth struct {
	Name     string
	Status   Status
	Message  string
	LastSeen time.Time
	Silent   time.Duration
}

// Report is the outcome of one monitor tick.
type Report struct {
	CheckedAt     time.Time
	Status        Status
	Components    []ComponentHealth
	StoppedEngine bool
}

// Engine is the engine control surface the monitor observes.
type Engine interface {
	Snapshot() engine.Snapshot
	Stop()
}

// Calendar reports whether the market is open.
type Calendar interface {
	IsMarketOpen(ctx context.Context, market string) bool
}

// Config holds monitor settings.
type Config struct {
	Market           string
	Interval         time.Duration
	RESTStaleAfter   time.Duration
	StreamStaleAfter time.Duration
}

// ConfigFrom extracts monitor settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Market:           cfg.Market.Name,
		Interval:         cfg.Health.Interval,
		RESTStaleAfter:   cfg.Health.RESTStaleAfter,
		StreamStaleAfter: cfg.Health.StreamStaleAfter,
	}
}

// Monitor periodically checks engine freshness. It only warns; reconnects
// are left to the engine.
type Monitor struct {
	cfg      Config
	engine   Engine
	cal      Calendar
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.Mutex
	watchStart time.Time
	alerted    map[string]bool
	last       Report
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, eng Engine, cal Calendar, notifier notify.Notifier, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RESTStaleAfter <= 0 {
		cfg.RESTStaleAfter = 5 * time.Minute
	}
	if cfg.StreamStaleAfter <= 0 {
		cfg.StreamStaleAfter = 3 * time.Minute
	}
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	return &Monitor{
		cfg:      cfg,
		engine:   eng,
		cal:      cal,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "health"),
		now:      time.Now,
		alerted:  make(map[string]bool),
		last:     Report{Status: StatusUnknown},
	}
}

// Run watches each engine session until ctx is done. Between sessions it
// waits for the engine to start running again.
func (m *Monitor) Run(ctx context.Context) error {
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		if m.engine.Snapshot().Running {
			m.watchSession(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
		}
	}
}

// watchSession checks the engine every interval. It returns after stopping
// the engine on market close, when the session ends, or when ctx is done.
func (m *Monitor) watchSession(ctx context.Context) {
	m.mu.Lock()
	m.watchStart = m.now()
	m.alerted = make(map[string]bool)
	m.mu.Unlock()

	m.logger.Debug().Dur("interval", m.cfg.Interval).Msg("Watching session")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := m.Check(ctx)
			if report.StoppedEngine {
				return
			}
			if !m.engine.Snapshot().Running {
				return
			}
		}
	}
}

// Check runs one monitor tick.
func (m *Monitor) Check(ctx context.Context) Report {
	now := m.now()
	snap := m.engine.Snapshot()
	report := Report{CheckedAt: now, Status: StatusHealthy}

	if snap.Running && !m.cal.IsMarketOpen(ctx, m.cfg.Market) {
		m.logger.Info().Msg("Market closed, stopping acquisition")
		m.engine.Stop()
		report.StoppedEngine = true
		m.store(report)
		return report
	}

	m.mu.Lock()
	baseline := m.watchStart
	m.mu.Unlock()
	if baseline.IsZero() {
		baseline = now
	}

	if snap.Mode == config.ModeWebSocket {
		for _, s := range snap.Sessions {
			name := fmt.Sprintf("session-%d", s.ID)
			report.Components = append(report.Components,
				freshness(name, s.LastMessageAt, baseline, now, m.cfg.StreamStaleAfter))
		}
	} else {
		report.Components = append(report.Components,
			freshness("rest", snap.LastUpdate, baseline, now, m.cfg.RESTStaleAfter))
	}

	for _, c := range report.Components {
		if c.Status == StatusDegraded {
			report.Status = StatusDegraded
		}
		m.react(ctx, c)
	}

	m.store(report)
	return report
}

// Last returns the most recent report.
func (m *Monitor) Last() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) store(r Report) {
	m.mu.Lock()
	m.last = r
	m.mu.Unlock()
}

func freshness(name string, last, baseline, now time.Time, staleAfter time.Duration) ComponentHealth {
	seen := last
	if seen.IsZero() {
		seen = baseline
	}
	silent := now.Sub(seen)

	c := ComponentHealth{Name: name, LastSeen: last, Silent: silent, Status: StatusHealthy}
	if silent > staleAfter {
		c.Status = StatusDegraded
		if last.IsZero() {
			c.Message = fmt.Sprintf("no data received in %s", utils.FormatDuration(silent))
		} else {
			c.Message = fmt.Sprintf("last update %s ago", utils.FormatDuration(silent))
		}
	}
	return c
}

// react logs every stale component and alerts once per stale episode.
func (m *Monitor) react(ctx context.Context, c ComponentHealth) {
	m.mu.Lock()
	wasStale := m.alerted[c.Name]
	m.alerted[c.Name] = c.Status == StatusDegraded
	m.mu.Unlock()

	if c.Status != StatusDegraded {
		if wasStale {
			m.logger.Info().Str("check", c.Name).Msg("Data flowing again")
		}
		return
	}

	m.logger.Warn().Str("check", c.Name).Dur("silent", c.Silent).Msg("Stale data")
	if wasStale {
		return
	}

	alertCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := m.notifier.Notify(alertCtx, notify.Alert{
		Level:   notify.LevelWarning,
		Title:   "Stale market data",
		Message: fmt.Sprintf("%s: %s", c.Name, c.Message),
		Fields:  map[string]interface{}{"check": c.Name, "silent_seconds": int(c.Silent.Seconds())},
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("Alert not delivered")
	}
}
