package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrisklg/stock-data-tracker/internal/alpaca"
	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/database"
	"github.com/chrisklg/stock-data-tracker/internal/logger"
	"github.com/chrisklg/stock-data-tracker/internal/models"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"github.com/chrisklg/stock-data-tracker/internal/syncer"
	"go.uber.org/zap"
)

func main() {
	manual := flag.Bool("manual", false, "run a single manual update and exit, bypassing the schedule gate")
	once := flag.Bool("once", false, "run a single gated update and exit")
	flag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Alpaca REST client
	client := alpaca.NewClient(&cfg.Alpaca, log)
	clock, err := client.GetClock(context.Background())
	if err != nil {
		log.Fatal("Failed to connect to Alpaca API", zap.Error(err))
	}
	log.Info("Successfully connected to Alpaca API.", zap.Bool("market_open", clock.IsOpen))

	st := store.New(db, log)
	planner := syncer.NewPlanner(st, log, &cfg.Sync)
	coordinator := syncer.NewCoordinator(log, client, st, planner, &cfg.Sync)
	scheduler := syncer.NewScheduler(log, st, coordinator, &cfg.Sync)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	switch {
	case *manual:
		summary, err := scheduler.RunOnce(ctx, models.JobKindManual)
		if err != nil {
			log.Fatal("Manual update failed", zap.Error(err))
		}
		log.Info("Manual update completed",
			zap.Int("processed", summary.Processed),
			zap.Int("failed", summary.Failed),
			zap.Int("new_records", summary.TotalNewRecords))
	case *once:
		summary, err := scheduler.RunOnce(ctx, models.JobKindCron)
		if err != nil {
			log.Fatal("Scheduled update failed", zap.Error(err))
		}
		if summary == nil {
			log.Info("Update not needed today")
		} else {
			log.Info("Scheduled update completed",
				zap.Int("processed", summary.Processed),
				zap.Int("failed", summary.Failed),
				zap.Int("new_records", summary.TotalNewRecords))
		}
	default:
		scheduler.Run(ctx)
	}

	log.Info("Scheduler has been shut down.")
}
