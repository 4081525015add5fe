package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quotefeed/internal/logging"
	"quotefeed/internal/notify"
	"quotefeed/internal/provider"
)

// KeyValidator re-checks provider credentials on a fixed interval so that an
// expired key is reported before the next market open.
type KeyValidator struct {
	auth     provider.Auth
	interval time.Duration
	timeout  time.Duration
	notifier notify.Notifier
	logger   zerolog.Logger

	failing bool
}

// NewKeyValidator creates a KeyValidator. A zero interval means hourly.
func NewKeyValidator(auth provider.Auth, interval time.Duration, notifier notify.Notifier, logger zerolog.Logger) *KeyValidator {
	if interval <= 0 {
		interval = time.Hour
	}
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}
	return &KeyValidator{
		auth:     auth,
		interval: interval,
		timeout:  30 * time.Second,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "key-validator"),
	}
}

// Run validates once per interval until ctx is done.
func (v *KeyValidator) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.Validate(ctx)
		}
	}
}

// Validate checks the credentials once and alerts when they start failing.
func (v *KeyValidator) Validate(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	err := v.auth.Validate(checkCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		if v.failing {
			v.logger.Info().Str("provider", v.auth.Name()).Msg("API key valid again")
		}
		v.failing = false
		return nil
	}

	v.logger.Error().Err(err).Str("provider", v.auth.Name()).Msg("API key validation failed")
	if !v.failing {
		alertCtx, cancelAlert := context.WithTimeout(ctx, 10*time.Second)
		defer cancelAlert()
		if nerr := v.notifier.Notify(alertCtx, notify.Alert{
			Level:   notify.LevelCritical,
			Title:   "API key validation failed",
			Message: err.Error(),
			Fields:  map[string]interface{}{"provider": v.auth.Name()},
		}); nerr != nil {
			v.logger.Debug().Err(nerr).Msg("Alert not delivered")
		}
	}
	v.failing = true
	return err
}
