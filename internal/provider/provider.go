// Package provider adapts market-data vendors to the quote-fetching and
// streaming capabilities used by the acquisition engine.
package provider

import (
	"context"
	"time"
)

// QuoteResponse is a raw quote as reported by a provider, before rounding.
type QuoteResponse struct {
	Symbol        string
	Exchange      string
	Name          string
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PreviousClose float64
	Volume        int64
	Change        float64
	PercentChange float64
	Timestamp     time.Time
}

// EventKind classifies a streaming message.
type EventKind string

const (
	EventPrice           EventKind = "price"
	EventHeartbeat       EventKind = "heartbeat"
	EventSubscribeStatus EventKind = "subscribe-status"
	EventError           EventKind = "error"
	EventClosed          EventKind = "closed" // connection dropped
	EventUnknown         EventKind = "unknown"
)

// Event is one inbound streaming message.
type Event struct {
	Kind      EventKind
	Name      string // raw event name as sent by the provider
	Symbol    string
	Exchange  string
	Price     float64
	Quote     *QuoteResponse // full quote when the provider streams one
	DayVolume int64
	Timestamp time.Time
	Status    string
	Message   string
}

// Stream is one streaming connection for a fixed set of symbols.
type Stream interface {
	// Subscribe registers the handler for inbound events. It must be called
	// before Connect.
	Subscribe(handler func(Event))
	Connect(ctx context.Context) error
	Disconnect() error
	Symbols() []string
}

// Client issues quote requests and opens streams.
type Client interface {
	Quote(ctx context.Context, symbol string) (QuoteResponse, error)
	Stream(symbols []string) (Stream, error)
}

// Auth hands out an authenticated client.
type Auth interface {
	Name() string
	Client(ctx context.Context) (Client, error)
	// Validate makes a cheap authenticated request to confirm the credentials.
	Validate(ctx context.Context) error
}

// Acquirer admits an outbound request.
type Acquirer interface {
	Acquire(ctx context.Context) error
}
