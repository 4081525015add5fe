package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"quotefeed/internal/models"
	"quotefeed/internal/provider"
)

func TestNormalizeRoundsPrices(t *testing.T) {
	inst := models.Instrument{Symbol: "RELIANCE", Exchange: models.NSE, Name: "Reliance Industries", CompanyID: "RIL"}
	now := time.Date(2026, 10, 14, 5, 0, 0, 0, time.UTC)

	q := Normalize(provider.QuoteResponse{
		Open:          1.005,
		High:          2950.456,
		Low:           -2.345,
		Close:         2940.1,
		PreviousClose: 2931.999,
		Volume:        125000,
		Change:        8.101,
		PercentChange: 0.27629,
	}, inst, now)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"open", q.Open, 1.01},
		{"high", q.High, 2950.46},
		{"low", q.Low, -2.35},
		{"close", q.Close, 2940.1},
		{"previous close", q.PreviousClose, 2932},
		{"change", q.Change, 8.1},
		{"percent change", q.PercentChange, 0.28},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if q.Volume != 125000 {
		t.Errorf("volume = %d", q.Volume)
	}
	if !q.EventTimestamp.Equal(now) {
		t.Errorf("timestamp = %v, want fallback %v", q.EventTimestamp, now)
	}
	if q.Symbol != "RELIANCE" || q.Exchange != models.NSE {
		t.Errorf("identity = %s:%s", q.Symbol, q.Exchange)
	}
}

func TestNormalizeKeepsProviderTimestamp(t *testing.T) {
	inst := models.Instrument{Symbol: "TCS", Exchange: models.BSE, CompanyID: "TCS"}
	ts := time.Date(2026, 10, 14, 4, 15, 0, 0, time.UTC)

	q := Normalize(provider.QuoteResponse{Close: 10, Timestamp: ts}, inst, ts.Add(time.Hour))
	if !q.EventTimestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", q.EventTimestamp, ts)
	}
}

func TestPriceQuotePrefersFullQuote(t *testing.T) {
	full := &provider.QuoteResponse{Close: 42, Open: 40}
	if got := priceQuote(provider.Event{Price: 1, Quote: full}); got.Open != 40 {
		t.Errorf("priceQuote ignored streamed quote: %+v", got)
	}
	got := priceQuote(provider.Event{Price: 12.5, DayVolume: 300})
	if got.Close != 12.5 || got.Volume != 300 {
		t.Errorf("priceQuote = %+v", got)
	}
}

func TestBatchGroupsByCompanyInMarketTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 20:00 UTC is 01:30 the next day in India.
	now := time.Date(2026, 10, 13, 20, 0, 0, 0, time.UTC)

	tcsNSE := models.Instrument{Symbol: "TCS", Exchange: models.NSE, Name: "TCS", CompanyID: "TCS"}
	tcsBSE := models.Instrument{Symbol: "TCS", Exchange: models.BSE, Name: "TCS", CompanyID: "TCS"}
	infy := models.Instrument{Symbol: "INFY", Exchange: models.NSE, Name: "Infosys", CompanyID: "INFY"}

	b := NewBatch(loc)
	for _, inst := range []models.Instrument{tcsNSE, infy, tcsBSE} {
		if !b.Add(inst, models.Quote{Symbol: inst.Symbol, Exchange: inst.Exchange, Close: 1}, now) {
			t.Fatalf("Add(%s) rejected", inst.ProviderSymbol())
		}
	}
	if b.Add(models.Instrument{Symbol: "AAPL", Exchange: "NASDAQ", CompanyID: "AAPL"},
		models.Quote{Symbol: "AAPL", Exchange: "NASDAQ"}, now) {
		t.Error("quote without payload slot accepted")
	}

	docs := b.Documents()
	if len(docs) != 3 {
		t.Fatalf("documents = %d, want 3 (one empty for AAPL)", len(docs))
	}
	if docs[0].ID != "TCS_20261014" || docs[1].ID != "INFY_20261014" {
		t.Errorf("ids = %s, %s", docs[0].ID, docs[1].ID)
	}
	if docs[0].NSE == nil || docs[0].BSE == nil {
		t.Error("exchange quotes not merged into one document")
	}
	if docs[2].HasPayload() {
		t.Error("unslotted exchange produced a payload")
	}
	if got := docs[0].CreatedAt; got.Hour() != 0 || got.Location() != loc {
		t.Errorf("createdAt = %v, want market midnight", got)
	}
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(ReconnectPolicy{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
		Cooldown:     5 * time.Minute,
	})

	want := []time.Duration{5, 10, 20, 30, 30}
	for i, w := range want {
		d, cooldown := b.Next()
		if cooldown || d != w*time.Second {
			t.Errorf("attempt %d = %v (cooldown %v), want %v", i+1, d, cooldown, w*time.Second)
		}
	}

	d, cooldown := b.Next()
	if !cooldown || d != 5*time.Minute {
		t.Errorf("attempt 6 = %v (cooldown %v), want 5m cooldown", d, cooldown)
	}

	b.Reset()
	if d, _ := b.Next(); d != 5*time.Second || b.Attempts() != 1 {
		t.Errorf("after reset = %v with %d attempts", d, b.Attempts())
	}
}

// Feature: quotefeed, Property 3: Backoff bounds
//
// Property: delays never decrease within a run of attempts, never exceed the
// maximum delay, and the counter restarts after the cooldown.
func TestProperty_BackoffBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delays are monotone and capped", prop.ForAll(
		func(maxAttempts, initialSec, maxSec int) bool {
			if maxSec < initialSec {
				maxSec = initialSec
			}
			policy := ReconnectPolicy{
				MaxAttempts:  maxAttempts,
				InitialDelay: time.Duration(initialSec) * time.Second,
				MaxDelay:     time.Duration(maxSec) * time.Second,
				Cooldown:     time.Hour,
			}
			b := NewBackoff(policy)

			var prev time.Duration
			for i := 0; i < maxAttempts; i++ {
				d, cooldown := b.Next()
				if cooldown || d < prev || d > policy.MaxDelay || d < policy.InitialDelay {
					return false
				}
				prev = d
			}
			d, cooldown := b.Next()
			return cooldown && d == policy.Cooldown
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 30),
		gen.IntRange(1, 600),
	))

	properties.TestingRun(t)
}
