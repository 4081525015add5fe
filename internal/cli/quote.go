package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quotefeed/internal/engine"
	"quotefeed/internal/models"
	"quotefeed/pkg/utils"
)

func newQuoteCmd(app *App) *cobra.Command {
	var exchange string

	cmd := &cobra.Command{
		Use:   "quote <symbol>...",
		Short: "Fetch current quotes without persisting them",
		Example: `  quotefeed quote RELIANCE TCS
  quotefeed quote INFY:BSE`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			limiter := newLimiter(cfg, app.Logger)
			auth, err := newAuth(cfg, limiter, app.Logger)
			if err != nil {
				return err
			}
			client, err := auth.Client(ctx)
			if err != nil {
				return err
			}

			cal, err := newCalendar(cfg, auth, app.Logger)
			if err != nil {
				return err
			}
			market, _ := cal.Market(cfg.Market.Name)
			grouping := utils.GroupWestern
			if strings.EqualFold(market.Name, "India") {
				grouping = utils.GroupIndian
			}

			defaultExchange := models.ParseExchange(exchange)
			var quotes []models.Quote
			var failed []string
			for _, arg := range args {
				symbol, exch := models.SplitSymbol(strings.ToUpper(arg))
				if exch == "" {
					exch = defaultExchange
				}
				inst := models.Instrument{Symbol: symbol, Exchange: exch, CompanyID: symbol}

				if err := limiter.Acquire(ctx); err != nil {
					return err
				}
				resp, err := client.Quote(ctx, inst.ProviderSymbol())
				if err != nil {
					app.Logger.Warn().Err(err).Str("symbol", inst.ProviderSymbol()).Msg("Quote fetch failed")
					failed = append(failed, inst.ProviderSymbol())
					continue
				}
				quotes = append(quotes, engine.Normalize(resp, inst, time.Now()))
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				if err := output.JSON(quotes); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "SYMBOL", "LAST", "CHANGE", "OPEN", "HIGH", "LOW", "VOLUME")
				for _, q := range quotes {
					table.AddRow(
						models.FormatSymbol(q.Symbol, q.Exchange),
						utils.FormatPrice(q.Close, grouping),
						output.Change(q.Change, fmt.Sprintf("%+.2f (%s)", q.Change, utils.FormatPercent(q.PercentChange))),
						utils.FormatPrice(q.Open, grouping),
						utils.FormatPrice(q.High, grouping),
						utils.FormatPrice(q.Low, grouping),
						utils.FormatVolume(q.Volume, grouping),
					)
				}
				table.Render()
			}

			if len(failed) > 0 {
				return fmt.Errorf("no quote for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&exchange, "exchange", "e", "NSE", "exchange for symbols given without one")
	return cmd
}

func newValidateKeyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-key",
		Short: "Check that the provider credentials are accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if err := cfg.Validate(); err != nil {
				return err
			}
			limiter := newLimiter(cfg, app.Logger)
			auth, err := newAuth(cfg, limiter, app.Logger)
			if err != nil {
				return err
			}

			start := time.Now()
			err = auth.Validate(cmd.Context())
			output := NewOutput(cmd)
			if output.IsJSON() {
				res := map[string]interface{}{"provider": auth.Name(), "valid": err == nil}
				if err != nil {
					res["error"] = err.Error()
				}
				if jerr := output.JSON(res); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				return err
			}
			output.Success("✓ %s credentials valid (%s)", auth.Name(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
