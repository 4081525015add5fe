// Package calendar classifies market sessions from local wall-clock time.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/models"
)

// ExchangeStatus is one exchange entry reported by a StatusOracle.
type ExchangeStatus struct {
	Name         string
	IsMarketOpen bool
}

// OracleStatus is the result of a market-status lookup.
type OracleStatus struct {
	Success   bool
	Exchanges []ExchangeStatus
}

// StatusOracle reports whether a market's exchanges are trading right now.
// It only ever refines an OPEN classification.
type StatusOracle interface {
	MarketStatus(ctx context.Context, market Market) (OracleStatus, error)
}

// MarketInfo is a snapshot of a market's session state.
type MarketInfo struct {
	Market         string
	State          models.MarketState
	IsOpen         bool
	CurrentTime    time.Time
	NextOpen       time.Time
	NextClose      time.Time
	TimeUntilOpen  time.Duration
	TimeUntilClose time.Duration
	Reason         string
}

// String returns a human-readable representation.
func (i MarketInfo) String() string {
	if i.IsOpen {
		return fmt.Sprintf("%s OPEN | Closes in: %v", i.Market, i.TimeUntilClose.Round(time.Minute))
	}
	return fmt.Sprintf("%s %s | Next open: %s (in %v)", i.Market, i.State,
		i.NextOpen.Format("Mon 02 Jan 15:04"), i.TimeUntilOpen.Round(time.Minute))
}

type cachedStatus struct {
	status    OracleStatus
	fetchedAt time.Time
}

// Calendar answers market-hours questions for a set of markets.
type Calendar struct {
	markets  map[string]Market
	holidays map[string]map[string]bool // market -> date -> closed
	now      func() time.Time
	logger   zerolog.Logger

	oracle    StatusOracle
	oracleTTL time.Duration
	mu        sync.Mutex
	cache     map[string]cachedStatus
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) { c.now = now }
}

// WithOracle enables the market-status cross-check. Results are reused for ttl.
func WithOracle(o StatusOracle, ttl time.Duration) Option {
	return func(c *Calendar) {
		c.oracle = o
		c.oracleTTL = ttl
	}
}

// WithLogger sets the calendar logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Calendar) { c.logger = logger }
}

// WithMarket registers or replaces a market definition.
func WithMarket(m Market) Option {
	return func(c *Calendar) { c.markets[strings.ToLower(m.Name)] = m }
}

// New creates a calendar with the built-in markets.
func New(opts ...Option) *Calendar {
	c := &Calendar{
		markets:  make(map[string]Market),
		holidays: make(map[string]map[string]bool),
		now:      time.Now,
		logger:   zerolog.Nop(),
		cache:    make(map[string]cachedStatus),
	}
	for _, m := range DefaultMarkets() {
		c.markets[strings.ToLower(m.Name)] = m
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Market returns the definition for name.
func (c *Calendar) Market(name string) (Market, error) {
	m, ok := c.markets[strings.ToLower(name)]
	if !ok {
		return Market{}, apperrors.NewConfigurationError("market.name",
			fmt.Sprintf("unknown market %q (known: India, US, UK)", name), apperrors.ErrUnknownMarket)
	}
	return m, nil
}

// AddHoliday marks date as a closed day for market.
func (c *Calendar) AddHoliday(market string, date time.Time) error {
	m, err := c.Market(market)
	if err != nil {
		return err
	}
	key := strings.ToLower(m.Name)
	if c.holidays[key] == nil {
		c.holidays[key] = make(map[string]bool)
	}
	c.holidays[key][date.Format("2006-01-02")] = true
	return nil
}

// AddHolidays parses YYYY-MM-DD dates and marks them closed for market.
func (c *Calendar) AddHolidays(market string, dates []string) error {
	for _, d := range dates {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		if err != nil {
			return apperrors.NewConfigurationError("market.holidays", fmt.Sprintf("invalid date %q", d), err)
		}
		if err := c.AddHoliday(market, parsed); err != nil {
			return err
		}
	}
	return nil
}

// IsHoliday reports whether the local date of t is a configured holiday.
func (c *Calendar) IsHoliday(m Market, t time.Time) bool {
	return c.holidays[strings.ToLower(m.Name)][t.In(m.Location).Format("2006-01-02")]
}

// MarketState classifies the market at the current time.
func (c *Calendar) MarketState(ctx context.Context, market string) (MarketInfo, error) {
	m, err := c.Market(market)
	if err != nil {
		return MarketInfo{}, err
	}
	info := c.stateAt(m, c.now())

	if info.State == models.MarketOpen && c.oracle != nil {
		if closed, ok := c.oracleReportsClosed(ctx, m); ok && closed {
			info.State = models.MarketHoliday
			info.IsOpen = false
			info.Reason = "exchange reports market closed during trading hours"
			info.NextOpen = c.nextOpenAfter(m, info.CurrentTime, true)
			info.NextClose = m.Close.At(info.NextOpen)
			info.TimeUntilOpen = info.NextOpen.Sub(info.CurrentTime)
			info.TimeUntilClose = 0
		}
	}
	return info, nil
}

// IsMarketOpen reports whether the market is OPEN. Unknown markets are closed.
func (c *Calendar) IsMarketOpen(ctx context.Context, market string) bool {
	info, err := c.MarketState(ctx, market)
	return err == nil && info.IsOpen
}

// TimeUntilNextOpen returns zero while open, otherwise the wait until the
// next trading day's open.
func (c *Calendar) TimeUntilNextOpen(ctx context.Context, market string) time.Duration {
	info, err := c.MarketState(ctx, market)
	if err != nil {
		return 0
	}
	return info.TimeUntilOpen
}

// TimeUntilClose returns the time left in the session, zero when closed.
func (c *Calendar) TimeUntilClose(ctx context.Context, market string) time.Duration {
	info, err := c.MarketState(ctx, market)
	if err != nil {
		return 0
	}
	return info.TimeUntilClose
}

// stateAt classifies t from local time and the holiday list only.
func (c *Calendar) stateAt(m Market, t time.Time) MarketInfo {
	local := t.In(m.Location)
	info := MarketInfo{Market: m.Name, CurrentTime: local}

	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	inWindow := m.Open.seconds() <= secs && secs <= m.Close.seconds()

	switch {
	case m.ClosedDays[local.Weekday()]:
		info.State = models.MarketWeekend
		info.Reason = fmt.Sprintf("market closed on %s", local.Weekday())
	case c.IsHoliday(m, local):
		info.State = models.MarketHoliday
		info.Reason = "exchange holiday"
	case inWindow:
		info.State = models.MarketOpen
		info.IsOpen = true
		info.Reason = fmt.Sprintf("regular session %s-%s", m.Open, m.Close)
	case m.PreMarketStart != nil && m.PreMarketStart.seconds() <= secs && secs < m.Open.seconds():
		info.State = models.MarketPreMarket
		info.Reason = fmt.Sprintf("pre-market, opens at %s", m.Open)
	case m.PostMarketEnd != nil && m.Close.seconds() < secs && secs <= m.PostMarketEnd.seconds():
		info.State = models.MarketPostMarket
		info.Reason = fmt.Sprintf("post-market, closed at %s", m.Close)
	default:
		info.State = models.MarketClosed
		info.Reason = "outside trading hours"
	}

	if info.IsOpen {
		info.NextClose = m.Close.At(local)
		info.TimeUntilClose = info.NextClose.Sub(local)
		info.NextOpen = c.nextOpenAfter(m, local, true)
		return info
	}

	info.NextOpen = c.nextOpenAfter(m, local, false)
	info.NextClose = m.Close.At(info.NextOpen)
	info.TimeUntilOpen = info.NextOpen.Sub(local)
	return info
}

// nextOpenAfter finds the next open instant after t on a trading day. With
// skipToday, today's session is never returned.
func (c *Calendar) nextOpenAfter(m Market, t time.Time, skipToday bool) time.Time {
	local := t.In(m.Location)
	next := m.Open.At(local)
	if skipToday || !local.Before(next) {
		next = m.Open.At(time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, m.Location))
	}

	// A year of closed days means the market definition is broken.
	for i := 0; i < 366 && (m.ClosedDays[next.Weekday()] || c.IsHoliday(m, next)); i++ {
		next = m.Open.At(time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, m.Location))
	}
	return next
}

// oracleReportsClosed returns (closed, ok). ok is false when the oracle could
// not be consulted.
func (c *Calendar) oracleReportsClosed(ctx context.Context, m Market) (bool, bool) {
	status, ok := c.cachedOracleStatus(ctx, m)
	if !ok || !status.Success || len(status.Exchanges) == 0 {
		return false, false
	}
	for _, ex := range status.Exchanges {
		if ex.IsMarketOpen {
			return false, true
		}
	}
	return true, true
}

func (c *Calendar) cachedOracleStatus(ctx context.Context, m Market) (OracleStatus, bool) {
	key := strings.ToLower(m.Name)
	now := c.now()

	c.mu.Lock()
	cached, hit := c.cache[key]
	c.mu.Unlock()
	if hit && now.Sub(cached.fetchedAt) < c.oracleTTL {
		return cached.status, true
	}

	status, err := c.oracle.MarketStatus(ctx, m)
	if err != nil {
		c.logger.Warn().Err(err).Str("market", m.Name).Msg("Market status lookup failed, using local hours")
		return OracleStatus{}, false
	}

	c.mu.Lock()
	c.cache[key] = cachedStatus{status: status, fetchedAt: now}
	c.mu.Unlock()
	return status, true
}
