package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

// fakeClock is a virtual clock whose sleeps advance time instantly.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.October, 13, 9, 15, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func TestSlidingWindowFourthCallWaitsForWindow(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	l := NewSlidingWindow(3, WithLimiterClock(clock.Now, clock.Sleep))

	var admitted []time.Duration
	for i := 0; i < 4; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		admitted = append(admitted, clock.Now().Sub(start))
	}

	want := []time.Duration{0, 0, 0, 60 * time.Second}
	for i := range want {
		if admitted[i] != want[i] {
			t.Errorf("call %d admitted at %v, want %v", i+1, admitted[i], want[i])
		}
	}
}

func TestSlidingWindowTrimsOldCalls(t *testing.T) {
	clock := newFakeClock()
	l := NewSlidingWindow(2, WithLimiterClock(clock.Now, clock.Sleep))

	_ = l.Acquire(context.Background())
	clock.Advance(30 * time.Second)
	_ = l.Acquire(context.Background())
	if got := l.InWindow(); got != 2 {
		t.Fatalf("InWindow = %d, want 2", got)
	}

	clock.Advance(30 * time.Second)
	if got := l.InWindow(); got != 1 {
		t.Errorf("InWindow = %d after first call aged out, want 1", got)
	}

	before := clock.Now()
	_ = l.Acquire(context.Background())
	if clock.Now() != before {
		t.Error("Acquire should not wait with a free slot")
	}
}

func TestSlidingWindowContextCancel(t *testing.T) {
	l := NewSlidingWindow(1, WithWindow(time.Hour))
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancel observed after %v", elapsed)
	}
	if got := l.InWindow(); got != 1 {
		t.Errorf("cancelled call must not be recorded, InWindow = %d", got)
	}
}

func TestSlidingWindowRealTime(t *testing.T) {
	l := NewSlidingWindow(2, WithWindow(100*time.Millisecond), WithLimiterLogger(zerolog.Nop()))

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("third call admitted after %v, want about one window", elapsed)
	}
}

// maxInWindow returns the largest number of admissions inside any trailing
// window ending at an admission.
func maxInWindow(times []time.Time, window time.Duration) int {
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	best, lo := 0, 0
	for hi := range times {
		for times[hi].Sub(times[lo]) >= window {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
		}
	}
	return best
}

// Feature: quotefeed, Property 1: Rate limiter bound
//
// Property: For any quota and any number of concurrent callers, the number of
// calls admitted within any trailing 60 second window never exceeds the quota.
func TestProperty_RateLimiterBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("admissions per trailing window never exceed quota", prop.ForAll(
		func(quota, workers, callsPerWorker int, jitterMs int) bool {
			clock := newFakeClock()
			l := NewSlidingWindow(quota, WithLimiterClock(clock.Now, clock.Sleep))

			// onAdmit runs under the limiter lock.
			var admitted []time.Time
			l.onAdmit = func(at time.Time) { admitted = append(admitted, at) }

			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < callsPerWorker; i++ {
						if err := l.Acquire(context.Background()); err != nil {
							return
						}
						clock.Advance(time.Duration((w*7+i)%(jitterMs+1)) * time.Millisecond)
					}
				}(w)
			}
			wg.Wait()

			if len(admitted) != workers*callsPerWorker {
				t.Logf("admitted %d calls, want %d", len(admitted), workers*callsPerWorker)
				return false
			}
			if got := maxInWindow(admitted, time.Minute); got > quota {
				t.Logf("quota %d exceeded: %d calls in one window", quota, got)
				return false
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 6),
		gen.IntRange(1, 15),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}

func TestPacerSpacesCalls(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("three paced calls took %v, want at least two intervals", elapsed)
	}
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		_ = p.Wait(context.Background())
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("disabled pacer waited %v", elapsed)
	}
}
