// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoClient         = errors.New("provider client unavailable")
	ErrNoInstruments    = errors.New("no instruments to track")
	ErrUnknownMarket    = errors.New("unknown market")
	ErrMissingAPIKey    = errors.New("missing provider API key")
	ErrInvalidAPIKey    = errors.New("provider API key rejected")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrEmptyResponse    = errors.New("empty provider response")
	ErrUnsupportedStore = errors.New("unsupported store driver")
)

// ConfigurationError is a fatal startup error: unknown market, missing
// credentials, malformed settings.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error [%s]: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// ConnectionError is a recoverable failure to obtain a client or to
// establish streaming connections. It triggers backoff and retry.
type ConnectionError struct {
	Op     string
	Failed int
	Total  int
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Total > 0 {
		return fmt.Sprintf("connection error [%s]: %d/%d connections failed: %v", e.Op, e.Failed, e.Total, e.Err)
	}
	return fmt.Sprintf("connection error [%s]: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(op string, err error) *ConnectionError {
	return &ConnectionError{
		Op:  op,
		Err: err,
	}
}

// FetchError is a failed quote request for a single symbol. It is recovered
// locally and never aborts a polling cycle.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s]: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(symbol string, err error) *FetchError {
	return &FetchError{
		Symbol: symbol,
		Err:    err,
	}
}

// PersistenceError is a failed batch upsert. The batch is dropped.
type PersistenceError struct {
	Driver    string
	BatchSize int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s]: batch of %d dropped: %v", e.Driver, e.BatchSize, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(driver string, batchSize int, err error) *PersistenceError {
	return &PersistenceError{
		Driver:    driver,
		BatchSize: batchSize,
		Err:       err,
	}
}

// ProviderError is an error payload returned by the market-data provider.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%d]: %s", e.Code, e.Message)
}

// NewProviderError creates a new ProviderError.
func NewProviderError(code int, message string) *ProviderError {
	return &ProviderError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsFatal reports whether err must terminate the process at startup.
func IsFatal(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
