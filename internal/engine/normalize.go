package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"quotefeed/internal/models"
	"quotefeed/internal/provider"
)

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Normalize converts a provider quote for inst into a Quote with prices
// rounded to two decimals. A missing provider timestamp is replaced by now.
func Normalize(r provider.QuoteResponse, inst models.Instrument, now time.Time) models.Quote {
	ts := r.Timestamp
	if ts.IsZero() || ts.Unix() <= 0 {
		ts = now
	}
	return models.Quote{
		Symbol:         inst.Symbol,
		Exchange:       inst.Exchange,
		Open:           round2(r.Open),
		High:           round2(r.High),
		Low:            round2(r.Low),
		Close:          round2(r.Close),
		PreviousClose:  round2(r.PreviousClose),
		Volume:         r.Volume,
		Change:         round2(r.Change),
		PercentChange:  round2(r.PercentChange),
		EventTimestamp: ts,
	}
}

// priceQuote builds a provider quote from a bare price tick.
func priceQuote(e provider.Event) provider.QuoteResponse {
	if e.Quote != nil {
		return *e.Quote
	}
	return provider.QuoteResponse{
		Symbol:    e.Symbol,
		Exchange:  e.Exchange,
		Close:     e.Price,
		Volume:    e.DayVolume,
		Timestamp: e.Timestamp,
	}
}

// Batch accumulates quotes into one day document per company.
type Batch struct {
	loc   *time.Location
	docs  map[string]*models.DayDocument
	order []string
}

// NewBatch creates an empty batch whose trading day is computed in loc.
func NewBatch(loc *time.Location) *Batch {
	if loc == nil {
		loc = time.UTC
	}
	return &Batch{loc: loc, docs: make(map[string]*models.DayDocument)}
}

// Add merges q into the document for inst's company. Quotes for exchanges
// without a payload slot are ignored.
func (b *Batch) Add(inst models.Instrument, q models.Quote, now time.Time) bool {
	local := now.In(b.loc)
	id := models.DayDocumentID(inst.CompanyID, local)

	doc, ok := b.docs[id]
	if !ok {
		d := models.NewDayDocument(inst, local)
		doc = &d
		b.docs[id] = doc
		b.order = append(b.order, id)
	}
	return doc.SetQuote(q)
}

// Len returns the number of documents in the batch.
func (b *Batch) Len() int {
	return len(b.order)
}

// Documents returns the documents in first-added order.
func (b *Batch) Documents() []models.DayDocument {
	out := make([]models.DayDocument, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.docs[id])
	}
	return out
}
