package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "quotefeed/internal/errors"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}, zerolog.Nop())
	cb.now = clock.Now

	boom := errors.New("boom")
	fail := func(ctx context.Context) error { return boom }
	ok := func(ctx context.Context) error { return nil }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	if !errors.Is(err, apperrors.ErrCircuitOpen) || called {
		t.Fatalf("open circuit must reject without calling, err = %v called = %v", err, called)
	}

	clock.Advance(31 * time.Second)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED after successful probe", cb.State())
	}

	stats := cb.Stats()
	if stats.Rejected != 1 || stats.Failures != 2 || stats.Calls != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second}, zerolog.Nop())
	cb.now = clock.Now

	fail := func(ctx context.Context) error { return errors.New("boom") }
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(context.Background(), fail)

	if cb.State() != CircuitOpen {
		t.Errorf("state = %s, want OPEN after failed probe", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("store", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Second}, zerolog.Nop())
	fail := func(ctx context.Context) error { return errors.New("boom") }
	ok := func(ctx context.Context) error { return nil }

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), ok)
	_ = cb.Execute(context.Background(), fail)

	if cb.State() != CircuitClosed {
		t.Errorf("non-consecutive failures opened the circuit")
	}
}
