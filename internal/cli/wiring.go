package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quotefeed/internal/calendar"
	"quotefeed/internal/config"
	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/instruments"
	"quotefeed/internal/provider"
	"quotefeed/internal/resilience"
	"quotefeed/internal/store"
	"quotefeed/pkg/utils"
)

// newLimiter builds the shared sliding-window admission limiter.
func newLimiter(cfg *config.Config, logger zerolog.Logger) *resilience.SlidingWindow {
	return resilience.NewSlidingWindow(cfg.RateLimit.PerMinute, resilience.WithLimiterLogger(logger))
}

// newAuth selects the provider from configuration.
func newAuth(cfg *config.Config, limiter provider.Acquirer, logger zerolog.Logger) (provider.Auth, error) {
	switch cfg.Provider.Name {
	case config.ProviderTwelveData:
		return provider.NewTwelveDataAuth(provider.TwelveDataConfig{
			APIKey:            cfg.Credentials.TwelveData.APIKey,
			BaseURL:           cfg.Provider.BaseURL,
			StreamURL:         cfg.Provider.StreamURL,
			Timeout:           cfg.Provider.Timeout,
			KeepAliveInterval: cfg.Streaming.KeepAliveInterval,
			Limiter:           limiter,
		}, logger), nil
	case config.ProviderKite:
		return provider.NewKiteAuth(provider.KiteConfig{
			APIKey:      cfg.Credentials.Kite.APIKey,
			AccessToken: cfg.Credentials.Kite.AccessToken,
		}, logger), nil
	default:
		return nil, apperrors.NewConfigurationError("provider.name",
			fmt.Sprintf("unknown provider %q", cfg.Provider.Name), nil)
	}
}

// newCalendar builds the trading calendar with configured holidays. When the
// status oracle is enabled and the provider offers one, it is attached.
func newCalendar(cfg *config.Config, auth provider.Auth, logger zerolog.Logger) (*calendar.Calendar, error) {
	opts := []calendar.Option{calendar.WithLogger(logger)}

	if cfg.Market.UseOracle {
		if td, ok := auth.(*provider.TwelveDataAuth); ok {
			if client, err := td.TwelveData(); err == nil {
				opts = append(opts, calendar.WithOracle(client, 5*time.Minute))
			}
		} else {
			logger.Warn().Str("provider", auth.Name()).Msg("Market status oracle not available for provider")
		}
	}

	cal := calendar.New(opts...)
	if _, err := cal.Market(cfg.Market.Name); err != nil {
		return nil, err
	}
	if err := cal.AddHolidays(cfg.Market.Name, cfg.Market.Holidays); err != nil {
		return nil, apperrors.NewConfigurationError("market.holidays", err.Error(), err)
	}
	return cal, nil
}

// loadRegistry builds the instrument registry from the configured source,
// retrying transient source failures.
func loadRegistry(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*instruments.Registry, error) {
	reg := instruments.NewRegistry(logger)

	src, closeSrc, err := openSource(ctx, cfg.Instruments, logger)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	retry := utils.DefaultRetryConfig()
	n, err := utils.RetryWithResult(ctx, retry, func(ctx context.Context) (int, error) {
		reg.Reset()
		return reg.Load(ctx, src)
	})
	if err != nil {
		return nil, fmt.Errorf("loading instruments from %s: %w", src.Name(), err)
	}
	if n == 0 {
		return nil, apperrors.NewConfigurationError("instruments", "source yielded no usable listings", apperrors.ErrNoInstruments)
	}
	return reg, nil
}

func openSource(ctx context.Context, cfg config.InstrumentsConfig, logger zerolog.Logger) (instruments.Source, func(), error) {
	noop := func() {}
	switch cfg.Source {
	case config.SourceStatic:
		return &instruments.StaticSource{Symbols: cfg.Symbols, Logger: logger}, noop, nil
	case config.SourceCSV:
		return &instruments.CSVSource{Path: cfg.CSVPath}, noop, nil
	case config.SourceMongo:
		src, err := instruments.OpenMongoSource(ctx, cfg.URI, cfg.Database, cfg.Collection)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = src.Close(closeCtx)
		}, nil
	default:
		return nil, nil, apperrors.NewConfigurationError("instruments.source",
			fmt.Sprintf("unknown source %q", cfg.Source), nil)
	}
}

// openSink opens the configured store driver behind a circuit breaker.
func openSink(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store.Sink, error) {
	driver, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	breaker := resilience.DefaultCircuitBreakerConfig()
	if cfg.Store.BreakerThreshold > 0 {
		breaker.FailureThreshold = cfg.Store.BreakerThreshold
	}
	if cfg.Store.BreakerTimeout > 0 {
		breaker.Timeout = cfg.Store.BreakerTimeout
	}
	return store.NewSink(driver, store.SinkConfig{
		Policy:       store.MergePolicy(cfg.Store.MergePolicy),
		WriteTimeout: cfg.Store.WriteTimeout,
		Breaker:      breaker,
	}, logger), nil
}

// errorMessage renders err for the terminal with a hint where one helps.
func errorMessage(err error) string {
	var cfgErr *apperrors.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		var b strings.Builder
		fmt.Fprintf(&b, "Error: %s\n", cfgErr.Message)
		fmt.Fprintf(&b, "  setting: %s\n", cfgErr.Field)
		fmt.Fprintf(&b, "  edit %s/config.toml or credentials.toml, or run 'quotefeed config path'", config.DefaultConfigDir())
		return b.String()
	case errors.Is(err, apperrors.ErrInvalidAPIKey):
		return fmt.Sprintf("Error: %v\n  check the key in credentials.toml or the environment", err)
	default:
		return "Error: " + err.Error()
	}
}
