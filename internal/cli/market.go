package cli

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"quotefeed/internal/calendar"
	"quotefeed/internal/models"
	"quotefeed/pkg/utils"
)

func newMarketCmd(app *App) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "market [name]",
		Short: "Show trading session status",
		Long:  "Show whether a market is open, using local session hours and configured holidays.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal := calendar.New(calendar.WithLogger(app.Logger))
			if err := cal.AddHolidays(app.Config.Market.Name, app.Config.Market.Holidays); err != nil {
				return err
			}

			names := []string{app.Config.Market.Name}
			if len(args) == 1 {
				names = []string{args[0]}
			}
			if all {
				names = names[:0]
				for _, m := range calendar.DefaultMarkets() {
					names = append(names, m.Name)
				}
				sort.Strings(names)
			}

			var infos []calendar.MarketInfo
			for _, name := range names {
				info, err := cal.MarketState(cmd.Context(), name)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(infos)
			}
			for _, info := range infos {
				printMarket(output, cal, info)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "show every known market")
	return cmd
}

func printMarket(output *Output, cal *calendar.Calendar, info calendar.MarketInfo) {
	m, _ := cal.Market(info.Market)

	output.Println()
	output.Bold("%s (%s)", m.DisplayName, m.Location)
	output.Printf("  Status:    %s\n", stateText(output, info.State))
	output.Printf("  Local:     %s\n", info.CurrentTime.Format("Mon 02 Jan 15:04:05"))
	output.Printf("  Session:   %s - %s\n", m.Open, m.Close)
	if info.IsOpen {
		output.Printf("  Closes in: %s\n", utils.FormatDuration(info.TimeUntilClose))
	} else {
		output.Printf("  Next open: %s (in %s)\n",
			info.NextOpen.Format("Mon 02 Jan 15:04"), utils.FormatDuration(info.TimeUntilOpen))
	}
	if info.Reason != "" {
		output.Dim("  %s", info.Reason)
	}
}

func stateText(output *Output, s models.MarketState) string {
	text := strings.ReplaceAll(string(s), "_", " ")
	switch s {
	case models.MarketOpen:
		return output.Green("● " + text)
	case models.MarketPreMarket, models.MarketPostMarket:
		return output.Yellow("◐ " + text)
	default:
		return output.Red("○ " + text)
	}
}
