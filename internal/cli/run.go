package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"quotefeed/internal/engine"
	"quotefeed/internal/health"
	"quotefeed/internal/notify"
	"quotefeed/internal/resilience"
)

const shutdownGrace = 3 * time.Second

func newRunCmd(app *App) *cobra.Command {
	var mode string
	var exitOnClose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start quote acquisition",
		Long: `Start the acquisition engine. It waits for the market to open, then polls
or streams quotes and writes them to the configured store until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if mode != "" {
				cfg.Provider.Mode = mode
			}
			if exitOnClose {
				cfg.Market.ExitOnClose = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFeed(ctx, app)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "acquisition mode override (rest or websocket)")
	cmd.Flags().BoolVar(&exitOnClose, "exit-on-close", false, "exit when the market closes instead of waiting for the next open")
	return cmd
}

// runFeed wires every component and runs until ctx is cancelled or the
// engine exits on market close.
func runFeed(ctx context.Context, app *App) error {
	cfg := app.Config
	logger := app.Logger

	limiter := newLimiter(cfg, logger)
	auth, err := newAuth(cfg, limiter, logger)
	if err != nil {
		return err
	}
	cal, err := newCalendar(cfg, auth, logger)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("Closing store failed")
		}
	}()

	eng, err := engine.New(engine.ConfigFrom(cfg), engine.Deps{
		Auth:     auth,
		Registry: registry,
		Limiter:  limiter,
		Pacer:    resilience.NewPacer(cfg.RateLimit.PaceInterval),
		Calendar: cal,
		Sink:     sink,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	notifier := notify.New(cfg.Notifications)
	monitor := health.NewMonitor(health.ConfigFrom(cfg), eng, cal, notifier, logger)
	validator := health.NewKeyValidator(auth, cfg.Health.KeyValidationInterval, notifier, logger)

	if info, err := cal.MarketState(ctx, cfg.Market.Name); err == nil {
		logger.Info().Str("market", info.String()).Msg("Market status")
	}

	// The engine may return on its own (exit on close); the watchers follow it.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancelWork()
		if err := eng.Run(workCtx); err != nil {
			logger.Error().Err(err).Msg("Engine stopped with error")
		}
	})
	wg.Go(func() { monitor.Run(workCtx) })
	wg.Go(func() { validator.Run(workCtx) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := wg.WaitAndRecover(); r != nil {
			logger.Error().Str("panic", r.String()).Msg("Worker panicked")
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Info().Msg("Shutdown requested, stopping workers")
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			logger.Warn().Dur("grace", shutdownGrace).Msg("Workers did not stop in time, forcing exit")
		}
	}

	logger.Info().Int64("cycles", eng.Snapshot().Cycles).Msg("quotefeed stopped")
	return nil
}
