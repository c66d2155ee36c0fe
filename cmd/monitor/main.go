// File: cmd/monitor/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/presale-monitor/internal/cache"
	"github.com/smartdevs17/presale-monitor/internal/classifier"
	"github.com/smartdevs17/presale-monitor/internal/config"
	"github.com/smartdevs17/presale-monitor/internal/connection"
	"github.com/smartdevs17/presale-monitor/internal/ingestion"
	"github.com/smartdevs17/presale-monitor/internal/metrics"
	"github.com/smartdevs17/presale-monitor/internal/monitor"
	"github.com/smartdevs17/presale-monitor/internal/notification"
	"github.com/smartdevs17/presale-monitor/internal/oracle"
	"github.com/smartdevs17/presale-monitor/internal/query"
	"github.com/smartdevs17/presale-monitor/internal/ratelimit"
	"github.com/smartdevs17/presale-monitor/internal/server"
	"github.com/smartdevs17/presale-monitor/internal/solana"
	"github.com/smartdevs17/presale-monitor/internal/storage"
	"github.com/smartdevs17/presale-monitor/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config       *config.Config
	logger       *logrus.Logger
	metrics      *metrics.Manager
	connection   *connection.ConnectionManager
	storage      storage.Storage
	cache        *cache.TieredCache
	janitor      *cache.Janitor
	registry     *query.Registry
	notification *notification.Manager
	hub          *notification.Hub
	monitor      *monitor.WalletMonitor
	server       *server.HTTPServer
	startedAt    time.Time
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		app.closeBackends()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if app.config.App.Debug {
		logCfg.Level = "debug"
	}

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeConnection(); err != nil {
		return fmt.Errorf("failed to initialize connection: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initializeQuery(); err != nil {
		return fmt.Errorf("failed to initialize query engine: %w", err)
	}

	if err := app.initializeNotification(); err != nil {
		return fmt.Errorf("failed to initialize notification: %w", err)
	}

	app.initializeMonitor()
	app.initializeServer()

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeConnection initializes the rate limited RPC connection manager
func (app *Application) initializeConnection() error {
	app.logger.Info("Initializing connection manager")

	limiter := ratelimit.NewTokenBucket(app.config.Solana.MaxRequestsPerSecond)

	var err error
	app.connection, err = connection.NewConnectionManager(connection.ConfigFromSolana(&app.config.Solana, limiter), app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	if err := app.connection.Connect(app.ctx); err != nil {
		return fmt.Errorf("failed to connect to Solana RPC: %w", err)
	}

	app.logger.Info("Connection manager initialized successfully")
	return nil
}

// initializeStorage initializes the persistent tier and the cache in front of it
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	app.storage = store

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	hot, err := cache.NewHotTier(app.config.Cache.HotCapacity)
	if err != nil {
		return fmt.Errorf("failed to create hot cache: %w", err)
	}

	instrumented := storage.NewStorageWithMetrics(store, app.metrics)
	app.cache = cache.NewTieredCache(hot, instrumented, app.config.Cache.TransactionTTL, app.metrics)
	app.janitor = cache.NewJanitor(app.cache, app.config.Cache.JanitorInterval)

	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeQuery wires the oracle, classifier and ingestion pipeline into
// the per-address query registry
func (app *Application) initializeQuery() error {
	app.logger.Info("Initializing query engine")

	prices := oracle.NewClient(&app.config.Oracle, app.metrics)
	rpc := solana.NewClient(app.connection, app.config.Solana.Commitment)
	cls := classifier.New(app.config.Watch.NativeSymbol, app.config.Watch.Tokens, prices)
	pipeline := ingestion.NewPipeline(rpc, cls, app.cache, &app.config.Ingestion, app.metrics)

	deps := query.Dependencies{
		Balances:  rpc,
		Prices:    prices,
		Refresher: pipeline,
		Cache:     app.cache,
		Metrics:   app.metrics,
	}
	opts := query.Options{
		NativeSymbol:        app.config.Watch.NativeSymbol,
		Tokens:              app.config.Watch.Tokens,
		MetricsTTL:          app.config.Cache.MetricsTTL,
		SnapshotTTL:         app.config.Cache.SnapshotTTL,
		SoftBudget:          app.config.Ingestion.SoftBudget,
		SummaryTransactions: app.config.Ingestion.SummaryTransactions,
		AdHocMonitors:       app.config.Watch.AdHocMonitors,
	}

	var err error
	app.registry, err = query.NewRegistry(deps, opts, app.config.Watch.Addresses...)
	if err != nil {
		return fmt.Errorf("failed to create query registry: %w", err)
	}

	app.logger.WithField("addresses", len(app.config.Watch.Addresses)).Info("Query engine initialized successfully")
	return nil
}

// initializeNotification initializes the refresh event fan-out
func (app *Application) initializeNotification() error {
	app.logger.Info("Initializing notification manager")

	app.notification = notification.NewManager(app.metrics)

	if app.config.Server.EnableWebSocket {
		app.hub = notification.NewHub(app.metrics)
		app.notification.Add(app.hub)
	}

	if app.config.Notifications.Enabled && app.config.Notifications.WebhookURL != "" {
		webhook, err := notification.NewWebhookNotifier(&app.config.Notifications)
		if err != nil {
			return fmt.Errorf("failed to create webhook notifier: %w", err)
		}
		app.notification.Add(webhook)
	}

	app.logger.Info("Notification manager initialized successfully")
	return nil
}

// initializeMonitor initializes the scheduled refresh loop
func (app *Application) initializeMonitor() {
	app.logger.Info("Initializing wallet monitor")

	monitorCfg := &monitor.MonitorConfig{
		RefreshInterval: app.config.Watch.RefreshInterval,
		Concurrency:     app.config.Watch.Concurrency,
		RunTimeout:      app.config.Ingestion.RunTimeout,
	}
	app.monitor = monitor.NewWalletMonitor(app.registry, app.notification, monitorCfg, app.metrics)

	app.logger.Info("Wallet monitor initialized successfully")
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() {
	app.logger.Info("Initializing HTTP server")

	serverCfg := &server.ServerConfig{
		Port:            app.config.Server.Port,
		Host:            app.config.Server.Host,
		ReadTimeout:     app.config.Server.ReadTimeout,
		WriteTimeout:    app.config.Server.WriteTimeout,
		EnableMetrics:   app.config.Server.EnableMetrics,
		EnableHealth:    app.config.Server.EnableHealth,
		EnableWebSocket: app.config.Server.EnableWebSocket,
		Version:         AppVersion,
	}

	app.server = server.NewHTTPServer(serverCfg, app.registry, server.Options{
		Storage:      app.storage,
		Monitor:      app.monitor,
		Notification: app.notification,
		Hub:          app.hub,
		Metrics:      app.metrics,
	})

	app.logger.Info("HTTP server initialized successfully")
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting presale monitor")

	app.startedAt = time.Now()

	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.janitor.Start(app.ctx)

	if len(app.config.Watch.Addresses) > 0 {
		if err := app.monitor.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start wallet monitor: %w", err)
		}
	} else {
		app.logger.Warn("No watched addresses configured, scheduled refresh disabled")
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"rpc_endpoint":   app.config.Solana.RPCURL,
		"addresses":      len(app.config.Watch.Addresses),
	}).Info("Presale monitor started successfully")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping presale monitor")

	app.cancel()

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.monitor != nil && app.monitor.IsRunning() {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop wallet monitor")
		}
	}

	if app.janitor != nil {
		app.janitor.Stop()
	}

	app.closeBackends()

	app.logger.Info("Presale monitor stopped successfully")
	return nil
}

func (app *Application) closeBackends() {
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}

// GetStats returns application statistics
func (app *Application) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"version":   AppVersion,
		"uptime":    time.Since(app.startedAt).String(),
		"timestamp": time.Now(),
	}

	if app.connection != nil {
		stats["connection"] = app.connection.Stats()
	}

	if app.storage != nil {
		if storageStats, err := app.storage.GetStorageStats(); err == nil {
			stats["storage"] = storageStats
		}
	}

	if app.monitor != nil {
		stats["monitor"] = app.monitor.GetStats()
	}

	if app.notification != nil {
		stats["notification"] = app.notification.GetStats()
	}

	return stats
}

// GetHealth returns application health status
func (app *Application) GetHealth() map[string]interface{} {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   AppVersion,
	}

	components := make(map[string]bool)

	if app.connection != nil {
		components["connection"] = app.connection.IsConnected()
	}

	if app.storage != nil {
		components["storage"] = app.storage.Ping() == nil
	}

	if app.monitor != nil {
		components["monitor"] = app.monitor.GetHealth().Healthy
	}

	if app.notification != nil {
		components["notification"] = app.notification.GetHealth().Healthy
	}

	health["components"] = components

	for _, isHealthy := range components {
		if !isHealthy {
			health["status"] = "unhealthy"
			break
		}
	}

	return health
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "presale-monitor",
	Short:   "Solana presale wallet monitor",
	Long:    `Monitors presale deposit wallets on Solana, classifies their inbound transfers and serves aggregated contribution metrics.`,
	Version: AppVersion,
	RunE:    runMonitor,
}

// loadConfig loads and validates configuration, applying CLI flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runMonitor is the main command to run the monitor service
func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Presale Monitor %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Solana RPC: %s (%d backups)\n", cfg.Solana.RPCURL, len(cfg.Solana.BackupURLs))
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Watched addresses: %d\n", len(cfg.Watch.Addresses))
		fmt.Printf("Tracked tokens: %d\n", len(cfg.Watch.Tokens))

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		fmt.Println("Testing presale monitor connectivity...")

		fmt.Printf("Testing Solana RPC connection to %s...\n", cfg.Solana.RPCURL)
		limiter := ratelimit.NewTokenBucket(cfg.Solana.MaxRequestsPerSecond)
		conn, err := connection.NewConnectionManager(connection.ConfigFromSolana(&cfg.Solana, limiter), metrics.NewManager())
		if err != nil {
			return fmt.Errorf("failed to create connection: %w", err)
		}
		defer conn.Close()
		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to Solana RPC: %w", err)
		}
		if err := conn.HealthCheck(ctx); err != nil {
			return fmt.Errorf("solana RPC health check failed: %w", err)
		}
		fmt.Println("✓ Solana RPC connection successful")

		fmt.Printf("Testing price oracle at %s...\n", cfg.Oracle.BaseURL)
		quote := oracle.NewClient(&cfg.Oracle, nil).Quote(ctx, cfg.Watch.NativeSymbol)
		if !quote.Available() {
			return fmt.Errorf("price oracle unavailable for %s: %v", cfg.Watch.NativeSymbol, quote.Err)
		}
		fmt.Printf("✓ Price oracle successful (%s = $%.4f)\n", quote.Symbol, quote.Price)

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// refreshCmd runs a single ingestion pass for one address and prints its metrics
var refreshCmd = &cobra.Command{
	Use:   "refresh <address>",
	Short: "Ingest new transactions for an address and print its metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Server.EnableWebSocket = false

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.closeBackends()
		defer app.cancel()

		run, snapshot, err := app.registry.Refresh(app.ctx, args[0])
		if err != nil {
			return fmt.Errorf("refresh failed: %w", err)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]interface{}{
			"run":     run,
			"metrics": snapshot,
		})
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(refreshCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
