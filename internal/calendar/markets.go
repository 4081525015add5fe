package calendar

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time in a market's timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// At returns the instant on day's date at this wall-clock time.
func (t TimeOfDay) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ExchangeInfo identifies an exchange for market-status lookups.
type ExchangeInfo struct {
	Name        string
	Code        string // MIC code
	ProbeSymbol string
}

// Market describes the trading hours of one market.
type Market struct {
	Name           string
	DisplayName    string
	Location       *time.Location
	Open           TimeOfDay
	Close          TimeOfDay
	PreMarketStart *TimeOfDay
	PostMarketEnd  *TimeOfDay
	ClosedDays     map[time.Weekday]bool
	Exchanges      []ExchangeInfo
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

func tod(h, m int) *TimeOfDay {
	return &TimeOfDay{Hour: h, Minute: m}
}

func weekend() map[time.Weekday]bool {
	return map[time.Weekday]bool{time.Saturday: true, time.Sunday: true}
}

// DefaultMarkets returns the built-in market definitions keyed by name.
func DefaultMarkets() map[string]Market {
	return map[string]Market{
		"India": {
			Name:           "India",
			DisplayName:    "India (NSE/BSE)",
			Location:       loadLocation("Asia/Kolkata", time.FixedZone("IST", 5*60*60+30*60)),
			Open:           TimeOfDay{Hour: 9, Minute: 15},
			Close:          TimeOfDay{Hour: 15, Minute: 30},
			PreMarketStart: tod(9, 0),
			PostMarketEnd:  tod(16, 0),
			ClosedDays:     weekend(),
			Exchanges: []ExchangeInfo{
				{Name: "NSE", Code: "XNSE", ProbeSymbol: "NIFTY50"},
				{Name: "BSE", Code: "XBOM", ProbeSymbol: "SENSEX"},
			},
		},
		"US": {
			Name:           "US",
			DisplayName:    "US (NYSE/NASDAQ)",
			Location:       loadLocation("America/New_York", time.FixedZone("EST", -5*60*60)),
			Open:           TimeOfDay{Hour: 9, Minute: 30},
			Close:          TimeOfDay{Hour: 16, Minute: 0},
			PreMarketStart: tod(4, 0),
			PostMarketEnd:  tod(20, 0),
			ClosedDays:     weekend(),
			Exchanges: []ExchangeInfo{
				{Name: "NYSE", Code: "XNYS", ProbeSymbol: "AAPL"},
				{Name: "NASDAQ", Code: "XNAS", ProbeSymbol: "AAPL"},
			},
		},
		"UK": {
			Name:           "UK",
			DisplayName:    "UK (LSE)",
			Location:       loadLocation("Europe/London", time.UTC),
			Open:           TimeOfDay{Hour: 8, Minute: 0},
			Close:          TimeOfDay{Hour: 16, Minute: 30},
			PreMarketStart: tod(7, 0),
			PostMarketEnd:  tod(17, 0),
			ClosedDays:     weekend(),
			Exchanges: []ExchangeInfo{
				{Name: "LSE", Code: "XLON", ProbeSymbol: "TSCO"},
			},
		},
	}
}
