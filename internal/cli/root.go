// Package cli provides the command-line interface for the quote feed.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quotefeed/internal/config"
	"quotefeed/internal/logging"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds state shared by all commands.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command. Configuration is read before any
// subcommand runs; commands that talk to a provider validate it themselves.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "quotefeed",
		Short: "Rate-limited market quote ingestion",
		Long: `quotefeed polls or streams stock quotes while the market is open and
upserts one document per company per trading day into MongoDB or SQLite.

Configuration lives in ~/.config/quotefeed (config.toml and credentials.toml).
Templates are created on first run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(app.ConfigDir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigDir, "config", "", "config directory (default: ~/.config/quotefeed)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(app),
		newMarketCmd(app),
		newSymbolsCmd(app),
		newQuoteCmd(app),
		newValidateKeyCmd(app),
		newVersionCmd(),
		newConfigCmd(app),
	)
	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", r)
			code = 1
		}
	}()

	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		return 1
	}
	return 0
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version, "build_date": BuildDate})
				return
			}
			output.Printf("quotefeed v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redacted(app.Config))
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			dir := app.ConfigDir
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
				return
			}
			output.Println(dir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	c.Credentials.TwelveData.APIKey = mask(c.Credentials.TwelveData.APIKey)
	c.Credentials.Kite.APIKey = mask(c.Credentials.Kite.APIKey)
	c.Credentials.Kite.AccessToken = mask(c.Credentials.Kite.AccessToken)
	c.Notifications.Telegram.BotToken = mask(c.Notifications.Telegram.BotToken)
	return c
}

func mask(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Market")
	output.Printf("  Name:            %s\n", cfg.Market.Name)
	output.Printf("  Holidays:        %d configured\n", len(cfg.Market.Holidays))
	output.Printf("  Status oracle:   %v\n", cfg.Market.UseOracle)
	output.Printf("  Exit on close:   %v\n", cfg.Market.ExitOnClose)
	output.Println()

	output.Bold("Provider")
	output.Printf("  Name:            %s\n", cfg.Provider.Name)
	output.Printf("  Mode:            %s\n", cfg.Provider.Mode)
	output.Printf("  Rate limit:      %d/min\n", cfg.RateLimit.PerMinute)
	if cfg.IsStreaming() {
		output.Printf("  Connections:     %d × %d symbols\n", cfg.Streaming.MaxConnections, cfg.Streaming.SymbolsPerConnection)
	} else {
		output.Printf("  Poll interval:   %s\n", cfg.Polling.Interval)
	}
	output.Printf("  Reconnect:       %d attempts, %s → %s\n", cfg.Reconnect.MaxAttempts, cfg.Reconnect.InitialDelay, cfg.Reconnect.MaxDelay)
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver:          %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == config.DriverSQLite {
		output.Printf("  Path:            %s\n", cfg.Store.SQLitePath)
	} else {
		output.Printf("  Collection:      %s.%s\n", cfg.Store.Database, cfg.Store.Collection)
	}
	output.Printf("  Merge policy:    %s\n", cfg.Store.MergePolicy)
	output.Println()

	output.Bold("Instruments")
	output.Printf("  Source:          %s\n", cfg.Instruments.Source)
	if cfg.Instruments.Source == config.SourceStatic {
		output.Printf("  Symbols:         %d\n", len(cfg.Instruments.Symbols))
	}
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
}
