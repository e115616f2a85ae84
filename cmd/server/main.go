package main

import (
	"fmt"
	"os"

	"github.com/chrisklg/stock-data-tracker/internal/alpaca"
	"github.com/chrisklg/stock-data-tracker/internal/config"
	"github.com/chrisklg/stock-data-tracker/internal/database"
	"github.com/chrisklg/stock-data-tracker/internal/logger"
	"github.com/chrisklg/stock-data-tracker/internal/store"
	"github.com/chrisklg/stock-data-tracker/internal/syncer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	client := alpaca.NewClient(&cfg.Alpaca, log)
	st := store.New(db, log)

	// Manual sync runs through the same gate and audit trail as the daemon.
	planner := syncer.NewPlanner(st, log, &cfg.Sync)
	coordinator := syncer.NewCoordinator(log, client, st, planner, &cfg.Sync)
	scheduler := syncer.NewScheduler(log, st, coordinator, &cfg.Sync)

	h := NewAPIHandler(log, st, client, scheduler)

	router := gin.Default()
	router.GET("/", h.Root)

	api := router.Group("/api")
	{
		api.GET("/stocks", h.GetStocks)
		api.GET("/search", h.Search)
		api.GET("/favorites", h.ListFavorites)
		api.POST("/favorites", h.AddFavorite)
		api.GET("/favorites/:symbol", h.IsFavorite)
		api.DELETE("/favorites/:symbol", h.RemoveFavorite)
		api.GET("/stats", h.Stats)
		api.POST("/sync", h.ManualSync)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting API server", zap.String("address", addr))

	if err := router.Run(addr); err != nil {
		log.Fatal("API server failed", zap.Error(err))
	}
}
