package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/database"
	"github.com/trogers1052/stock-risk-engine/internal/engine"
	"github.com/trogers1052/stock-risk-engine/internal/marketdata"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
)

var (
	analyzeSynthetic bool
	analyzeTimeout   time.Duration
	migrationsDir    string
	pruneDays        int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis cycle and print the decisions as JSON",
	Long: `Run a single screening and allocation cycle over the configured universe and print
the cycle report to stdout. No positions are held, so only entry decisions are produced.

Example usage:
  riskengine analyze                 # live providers only
  riskengine analyze --synthetic     # fall back to labeled synthetic data`,
	RunE: runAnalyze,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored daily bars older than --days",
	RunE:  runPrune,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeSynthetic, "synthetic", false, "Allow synthetic data when providers fail")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 2*time.Minute, "Timeout for the cycle")
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "db/migrations", "Path to the migrations directory")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 365, "Keep this many days of daily bars")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, analyzeTimeout)
	defer cancel()

	settings, err := config.NewSettingsStore(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	providers := cfg.Providers
	if analyzeSynthetic {
		providers.SyntheticFallback = true
	}
	gateway := marketdata.NewFromConfig(providers)

	eng := engine.New(settings, gateway, cfg.Engine.Universe, portfolio.NewRegistry(),
		engine.WithHistoryLookback(providers.HistoryLookback))
	report, err := eng.RunCycle(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(migrationsDir); err != nil {
		return err
	}
	log.Info().Str("dir", migrationsDir).Msg("migrations applied")
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	if pruneDays < 1 {
		return fmt.Errorf("--days must be positive, got %d", pruneDays)
	}
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -pruneDays).Truncate(24 * time.Hour)
	deleted, err := db.DeletePriceDataOlderThan(cutoff)
	if err != nil {
		return err
	}
	log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned daily bars")
	return nil
}
