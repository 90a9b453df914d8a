package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trogers1052/stock-risk-engine/internal/api"
	"github.com/trogers1052/stock-risk-engine/internal/config"
	"github.com/trogers1052/stock-risk-engine/internal/database"
	"github.com/trogers1052/stock-risk-engine/internal/engine"
	"github.com/trogers1052/stock-risk-engine/internal/kafka"
	"github.com/trogers1052/stock-risk-engine/internal/marketdata"
	"github.com/trogers1052/stock-risk-engine/internal/metrics"
	"github.com/trogers1052/stock-risk-engine/internal/monitor"
	"github.com/trogers1052/stock-risk-engine/internal/portfolio"
	"github.com/trogers1052/stock-risk-engine/internal/symlock"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis loop, the position monitor and the admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.NewSettingsStore(cfg.SettingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := settings.Watch(ctx); err != nil {
		log.Warn().Err(err).Str("path", settings.Path()).Msg("settings hot reload disabled")
	}
	settings.OnChange(func(config.Settings) {
		log.Info().Msg("strategy settings changed")
	})

	reg := metrics.NewRegistry()
	positions := portfolio.NewRegistry()
	locks := symlock.New()

	gatewayOpts := []marketdata.GatewayOption{marketdata.WithMetrics(reg)}
	engineOpts := []engine.Option{
		engine.WithLocker(locks),
		engine.WithMetrics(reg),
		engine.WithHistoryLookback(cfg.Providers.HistoryLookback),
	}
	monitorOpts := []monitor.Option{
		monitor.WithPositions(positions),
		monitor.WithLocker(locks),
		monitor.WithMetrics(reg),
	}
	var handlerOpts []api.Option

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(cfg.Database.ConnectionString())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		gatewayOpts = append(gatewayOpts, marketdata.WithHistoryStore(db))
		engineOpts = append(engineOpts, engine.WithStore(db))
		monitorOpts = append(monitorOpts, monitor.WithStore(db))
		handlerOpts = append(handlerOpts, api.WithHistory(db), api.WithHealthCheck(db))
	}

	var gateway marketdata.Gateway = marketdata.NewFromConfig(cfg.Providers, gatewayOpts...)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, quotes fall through to providers")
		}
		gateway = marketdata.NewCachedGateway(gateway, client, cfg.Redis.QuoteTTL, reg)
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, kafka.Topics{
			Decisions: cfg.Kafka.DecisionsTopic,
			Triggers:  cfg.Kafka.TriggersTopic,
			Rebalance: cfg.Kafka.RebalanceTopic,
		})
		defer producer.Close()

		engineOpts = append(engineOpts, engine.WithPublisher(producer))
		monitorOpts = append(monitorOpts, monitor.WithPublisher(producer))
	}

	orders := monitor.NewOrderRegistry()
	if db != nil {
		active, err := db.GetActiveStopLossOrders()
		if err != nil {
			return fmt.Errorf("failed to restore orders: %w", err)
		}
		orders.Restore(active)
		log.Info().Int("orders", len(active)).Msg("restored active orders")
	}

	mon := monitor.New(settings, gateway, orders, monitorOpts...)
	eng := engine.New(settings, gateway, cfg.Engine.Universe, positions, engineOpts...)

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		consumer := kafka.NewPositionsConsumer(cfg.Kafka.Brokers, cfg.Kafka.PositionsTopic, cfg.Kafka.ConsumerGroupID, positions, mon)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("positions consumer stopped")
			}
		}()
	}

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start position monitor: %w", err)
	}
	defer mon.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx, cfg.Engine.CycleInterval)
	}()

	handler := api.NewHandler(eng, mon, settings, positions, handlerOpts...)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           api.SetupRoutes(handler, reg.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	stop()
	wg.Wait()
	return nil
}
