// Command riskengine runs the screening, allocation and exit loops behind an admin API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trogers1052/stock-risk-engine/internal/config"
)

var (
	cfg      *config.Config
	logLevel string
)

// rootCmd loads configuration and logging for every subcommand
var rootCmd = &cobra.Command{
	Use:   "riskengine",
	Short: "Portfolio screening, allocation and exit risk engine",
	Long: `riskengine screens a stock universe, allocates capital under sector and position caps,
evaluates exits for open positions and watches protective stop-loss orders.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		setupLogging(loaded.LogLevel)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides LOG_LEVEL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging writes human-readable logs to a terminal and JSON otherwise
func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
