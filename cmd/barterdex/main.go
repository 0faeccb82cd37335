package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/treverson/BarterDEX/api"
	"github.com/treverson/BarterDEX/internal/config"
	"github.com/treverson/BarterDEX/pkg/channel"
	"github.com/treverson/BarterDEX/pkg/depth"
	"github.com/treverson/BarterDEX/pkg/portfolio"
	"github.com/treverson/BarterDEX/pkg/session"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "barterdex",
		Short: "BarterDEX desktop client core",
		Long:  `Client-side state engine for the BarterDEX desktop application: depth feed subscriptions, portfolio aggregation and trade/withdraw sessions against a local marketmaker process`,
		Run:   runClient,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, args []string) {
	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the local marketmaker process
	engine := channel.NewClient(cfg.Engine.URL, cfg.Engine.Userpass, logger)
	if err := engine.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to connect to trading engine")
	}

	// Build the client core
	subscriber := depth.NewSubscriber(engine, logger)

	fiatRates := make(map[string]decimal.Decimal, len(cfg.Currency.FiatRates))
	for code, r := range cfg.Currency.FiatRates {
		fiatRates[code] = decimal.NewFromFloat(r)
	}

	store := portfolio.NewStore(engine, subscriber, portfolio.Config{
		DefaultFiat:     cfg.Currency.DefaultFiat,
		ReferenceCrypto: cfg.Currency.ReferenceCrypto,
		FiatRates:       fiatRates,
	}, logger)

	controller := session.NewController(engine, logger)

	// Route inbound messages
	engine.RegisterHandler(channel.AssetList, store.HandleAssetList)
	engine.RegisterHandler(channel.TradeIntentUpdate, store.HandleTradeIntent)
	engine.RegisterHandler(channel.DepthSnapshot, subscriber.HandleSnapshot)
	engine.RegisterHandler(channel.TradeResult, controller.HandleTradeResult)
	engine.RegisterHandler(channel.WithdrawConfirmReq, controller.HandleWithdrawConfirmation)
	engine.RegisterHandler(channel.BroadcastResult, controller.HandleBroadcastResult)

	// Ask for an initial snapshot
	if err := store.Refresh(); err != nil {
		logger.WithError(err).Error("Failed to request initial portfolio snapshot")
	}

	// Start the observation API server
	apiServer := api.NewServer(store, subscriber, controller, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("BarterDEX client is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	if err := subscriber.Unsubscribe(); err != nil {
		logger.WithError(err).Warn("Failed to stop depth stream")
	}
	engine.Close()
	cancel()

	logger.Info("BarterDEX client stopped")
}
