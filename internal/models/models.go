// Package models provides domain models for the quote ingestion service.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// ParseExchange normalizes an exchange code. Codes other than NSE and BSE are
// kept verbatim (upper-cased) so they can still be tracked and logged.
func ParseExchange(s string) Exchange {
	return Exchange(strings.ToUpper(strings.TrimSpace(s)))
}

// Known reports whether the exchange has a payload slot in a DayDocument.
func (e Exchange) Known() bool {
	return e == NSE || e == BSE
}

// MarketState represents the session classification of a market.
type MarketState string

const (
	MarketOpen       MarketState = "OPEN"
	MarketClosed     MarketState = "CLOSED"
	MarketPreMarket  MarketState = "PRE_MARKET"
	MarketPostMarket MarketState = "POST_MARKET"
	MarketWeekend    MarketState = "WEEKEND"
	MarketHoliday    MarketState = "HOLIDAY"
)

// Instrument represents one exchange listing of a company.
type Instrument struct {
	Symbol    string
	Exchange  Exchange
	Name      string
	CompanyID string
}

// ProviderSymbol returns the SYMBOL:EXCHANGE identifier used in data requests.
func (i Instrument) ProviderSymbol() string {
	return FormatSymbol(i.Symbol, i.Exchange)
}

func (i Instrument) String() string {
	return fmt.Sprintf("Instrument(%s, %s, %s)", i.Symbol, i.Exchange, i.CompanyID)
}

// FormatSymbol joins a trading symbol and exchange as SYMBOL:EXCHANGE.
func FormatSymbol(symbol string, exchange Exchange) string {
	return strings.ToUpper(symbol) + ":" + string(exchange)
}

// SplitSymbol splits SYMBOL:EXCHANGE. A bare symbol yields an empty exchange.
func SplitSymbol(s string) (string, Exchange) {
	symbol, exchange, ok := strings.Cut(s, ":")
	if !ok {
		return strings.ToUpper(strings.TrimSpace(s)), ""
	}
	return strings.ToUpper(strings.TrimSpace(symbol)), ParseExchange(exchange)
}

// Quote is a normalized quote record for one symbol.
type Quote struct {
	Symbol         string    `bson:"symbol" json:"symbol"`
	Exchange       Exchange  `bson:"exchange" json:"exchange"`
	Open           float64   `bson:"open" json:"open"`
	High           float64   `bson:"high" json:"high"`
	Low            float64   `bson:"low" json:"low"`
	Close          float64   `bson:"close" json:"close"`
	PreviousClose  float64   `bson:"previousClose" json:"previousClose"`
	Volume         int64     `bson:"volume" json:"volume"`
	Change         float64   `bson:"change" json:"change"`
	PercentChange  float64   `bson:"percentChange" json:"percentChange"`
	EventTimestamp time.Time `bson:"eventTimestamp" json:"eventTimestamp"`
}

// DayDocument aggregates a company's exchange quotes for one trading day.
type DayDocument struct {
	ID        string    `bson:"_id" json:"_id"`
	CompanyID string    `bson:"companyId" json:"companyId"`
	StockName string    `bson:"stockName" json:"stockName"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	NSE       *Quote    `bson:"nseData,omitempty" json:"nseData,omitempty"`
	BSE       *Quote    `bson:"bseData,omitempty" json:"bseData,omitempty"`
}

// DayDocumentID returns the "{companyId}_{YYYYMMDD}" key for the given day.
func DayDocumentID(companyID string, day time.Time) string {
	return companyID + "_" + day.Format("20060102")
}

// NewDayDocument creates an empty document for the instrument's company on
// the trading day containing now. now must already be in market time.
func NewDayDocument(inst Instrument, now time.Time) DayDocument {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return DayDocument{
		ID:        DayDocumentID(inst.CompanyID, now),
		CompanyID: inst.CompanyID,
		StockName: inst.Name,
		CreatedAt: midnight,
	}
}

// SetQuote stores q in the exchange slot matching q.Exchange.
// It returns false when the exchange has no slot.
func (d *DayDocument) SetQuote(q Quote) bool {
	switch q.Exchange {
	case NSE:
		d.NSE = &q
	case BSE:
		d.BSE = &q
	default:
		return false
	}
	return true
}

// HasPayload reports whether at least one exchange payload is present.
func (d DayDocument) HasPayload() bool {
	return d.NSE != nil || d.BSE != nil
}
