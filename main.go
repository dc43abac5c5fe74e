package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/wx-shi/utxo-balance/internal/balance"
	"github.com/wx-shi/utxo-balance/internal/config"
	"github.com/wx-shi/utxo-balance/internal/coordinator"
	"github.com/wx-shi/utxo-balance/internal/db"
	"github.com/wx-shi/utxo-balance/internal/metrics"
	"github.com/wx-shi/utxo-balance/internal/server"
	"github.com/wx-shi/utxo-balance/internal/validator"
	"github.com/wx-shi/utxo-balance/pkg"
	"go.uber.org/zap"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "./config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(flagconf)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := pkg.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Open one ledger store per chain
	stores, err := db.OpenStores(cfg.Chains, logger)
	if err != nil {
		logger.Fatal("Error opening ledger stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("Stores::Close", zap.Error(err))
		}
	}()

	// Address oracles, one per chain
	v, err := validator.FromConfig(cfg.Chains, logger)
	if err != nil {
		logger.Fatal("Error initializing address oracles", zap.Error(err))
	}
	defer v.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	coord := coordinator.New(v, balance.NewEngine(stores, logger), *cfg.Timeouts, metrics.New(reg), logger)

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server
	httpServer := server.NewServer(cfg.Server, logger, coord, stores, v, reg)
	httpServer.Run()

	// Wait for signal
	<-sigCh
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", zap.Error(err))
	}
}
