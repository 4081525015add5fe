// Package instruments holds the set of tracked exchange listings.
package instruments

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/models"
)

type listingKey struct {
	companyID string
	exchange  models.Exchange
}

// Registry holds one instrument per (companyId, exchange) pair.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []listingKey
	entries  map[listingKey]models.Instrument
	bySymbol map[string]listingKey // SYMBOL:EXCHANGE -> key
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries:  make(map[listingKey]models.Instrument),
		bySymbol: make(map[string]listingKey),
		logger:   logger,
	}
}

// Add inserts a listing. Adding the same (companyID, exchange) pair again
// replaces the earlier entry. A SYMBOL:EXCHANGE held by another company is
// rejected.
func (r *Registry) Add(symbol string, exchange models.Exchange, name, companyID string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("empty symbol for company %q", companyID)
	}
	if companyID == "" {
		return fmt.Errorf("empty company id for %s", symbol)
	}
	if exchange == "" {
		exchange = models.NSE
	}
	if name == "" {
		name = symbol
	}

	inst := models.Instrument{Symbol: symbol, Exchange: exchange, Name: name, CompanyID: companyID}
	key := listingKey{companyID: companyID, exchange: exchange}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.bySymbol[inst.ProviderSymbol()]; ok && owner != key {
		return fmt.Errorf("%s already listed for company %q", inst.ProviderSymbol(), owner.companyID)
	}

	if old, ok := r.entries[key]; ok {
		if r.bySymbol[old.ProviderSymbol()] == key {
			delete(r.bySymbol, old.ProviderSymbol())
		}
	} else {
		r.order = append(r.order, key)
	}
	r.entries[key] = inst
	r.bySymbol[inst.ProviderSymbol()] = key

	r.logger.Debug().Str("instrument", inst.String()).Msg("Added instrument")
	return nil
}

// Symbols returns provider-ready SYMBOL:EXCHANGE identifiers in insertion order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.order))
	for _, key := range r.order {
		symbols = append(symbols, r.entries[key].ProviderSymbol())
	}
	return symbols
}

// Instruments returns all listings in insertion order.
func (r *Registry) Instruments() []models.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Instrument, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.entries[key])
	}
	return out
}

// Companies returns one instrument per company, the first listing added.
func (r *Registry) Companies() []models.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []models.Instrument
	for _, key := range r.order {
		if seen[key.companyID] {
			continue
		}
		seen[key.companyID] = true
		out = append(out, r.entries[key])
	}
	return out
}

// Lookup finds an instrument by SYMBOL:EXCHANGE. A bare symbol matches the
// earliest added listing with that symbol.
func (r *Registry) Lookup(symbol string) (models.Instrument, bool) {
	sym, exchange := models.SplitSymbol(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if exchange != "" {
		key, ok := r.bySymbol[models.FormatSymbol(sym, exchange)]
		if !ok {
			return models.Instrument{}, false
		}
		return r.entries[key], true
	}

	for _, key := range r.order {
		if inst := r.entries[key]; inst.Symbol == sym {
			return inst, true
		}
	}
	return models.Instrument{}, false
}

// Len returns the number of listings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Reset removes every listing.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.entries = make(map[listingKey]models.Instrument)
	r.bySymbol = make(map[string]listingKey)
}

// Load adds every listing yielded by src and returns how many were added.
// Companies without listings and invalid listings are logged and skipped.
func (r *Registry) Load(ctx context.Context, src Source) (int, error) {
	companies, err := src.Companies(ctx)
	if err != nil {
		return 0, apperrors.Wrapf(err, "loading instruments from %s", src.Name())
	}

	added := 0
	for _, c := range companies {
		if len(c.Listings) == 0 {
			r.logger.Warn().Str("company_id", c.CompanyID).Msg("Company has no exchange listings, skipping")
			continue
		}
		for _, l := range c.Listings {
			name := l.Name
			if name == "" {
				name = c.Name
			}
			if err := r.Add(l.Symbol, models.ParseExchange(l.Exchange), name, c.CompanyID); err != nil {
				r.logger.Warn().Err(err).Msg("Skipping invalid listing")
				continue
			}
			added++
		}
	}

	if r.Len() == 0 {
		return added, apperrors.ErrNoInstruments
	}

	r.logger.Info().
		Str("source", src.Name()).
		Int("listings", added).
		Int("companies", len(r.Companies())).
		Msg("Instruments loaded")
	return added, nil
}
