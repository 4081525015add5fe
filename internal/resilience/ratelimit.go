package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SlidingWindow admits at most quota calls in any trailing window.
// It is safe for concurrent use.
type SlidingWindow struct {
	quota  int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger zerolog.Logger

	mu      sync.Mutex
	calls   []time.Time // admission times, oldest first
	onAdmit func(time.Time)
}

// LimiterOption configures a SlidingWindow.
type LimiterOption func(*SlidingWindow)

// WithWindow overrides the 60 second window.
func WithWindow(d time.Duration) LimiterOption {
	return func(l *SlidingWindow) { l.window = d }
}

// WithLimiterClock replaces the time source and the sleep function.
func WithLimiterClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) LimiterOption {
	return func(l *SlidingWindow) {
		l.now = now
		l.sleep = sleep
	}
}

// WithLimiterLogger sets the limiter logger.
func WithLimiterLogger(logger zerolog.Logger) LimiterOption {
	return func(l *SlidingWindow) { l.logger = logger }
}

// NewSlidingWindow creates a limiter admitting quota calls per minute.
func NewSlidingWindow(quota int, opts ...LimiterOption) *SlidingWindow {
	if quota < 1 {
		quota = 1
	}
	l := &SlidingWindow{
		quota:  quota,
		window: time.Minute,
		now:    time.Now,
		sleep:  SleepContext,
		logger: zerolog.Nop(),
		calls:  make([]time.Time, 0, quota),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a call can be made without exceeding the quota, then
// records it. It returns ctx.Err() if ctx ends while waiting.
func (l *SlidingWindow) Acquire(ctx context.Context) error {
	l.mu.Lock()
	for {
		now := l.now()
		l.trim(now)

		if len(l.calls) < l.quota {
			l.calls = append(l.calls, now)
			if l.onAdmit != nil {
				l.onAdmit(now)
			}
			l.mu.Unlock()
			return nil
		}

		wait := l.window - now.Sub(l.calls[0])
		l.mu.Unlock()

		l.logger.Debug().
			Dur("wait", wait).
			Int("quota", l.quota).
			Msg("Rate limit reached, waiting")

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
	}
}

// trim drops admissions that have left the window. Caller holds mu.
func (l *SlidingWindow) trim(now time.Time) {
	i := 0
	for i < len(l.calls) && now.Sub(l.calls[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// InWindow returns the number of admissions in the current window.
func (l *SlidingWindow) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.now())
	return len(l.calls)
}

// Quota returns the configured quota.
func (l *SlidingWindow) Quota() int {
	return l.quota
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
