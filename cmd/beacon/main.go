package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm/logger"

	"github.com/beaconhq/beacon/internal/bridge"
	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/handlers"
	"github.com/beaconhq/beacon/internal/notify"
	"github.com/beaconhq/beacon/internal/providers"
	"github.com/beaconhq/beacon/internal/providers/adapters"
	"github.com/beaconhq/beacon/internal/services"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting Beacon integration core...")

	// Initialize database connection
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Printf("Database connection established")

	// Run database migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize default database records
	if err := database.InitializeDefaults(); err != nil {
		log.Fatalf("Failed to initialize database defaults: %v", err)
	}

	db := database.GetDB()

	// Register provider adapters. Adapters without credentials stay
	// unregistered so the bridge never routes to them.
	registry := providers.NewRegistry()
	uptimeProviders := []string{}
	alertProviders := []string{}
	if cfg.UptimeGridAPIKey != "" {
		registry.Register(adapters.NewUptimeGridAdapter(cfg.UptimeGridBaseURL, cfg.UptimeGridAPIKey, 15*time.Second))
		uptimeProviders = append(uptimeProviders, "uptimegrid")
		log.Printf("Provider adapter registered: uptimegrid")
	}
	if cfg.PagerLineAPIKey != "" {
		registry.Register(adapters.NewPagerLineAdapter(cfg.PagerLineBaseURL, cfg.PagerLineAPIKey, 15*time.Second))
		alertProviders = append(alertProviders, "pagerline")
		log.Printf("Provider adapter registered: pagerline")
	}

	// Notification template catalog
	catalog := notify.DefaultCatalog()
	if cfg.TemplateCatalogPath != "" {
		data, err := os.ReadFile(cfg.TemplateCatalogPath)
		if err != nil {
			log.Fatalf("Failed to read template catalog %s: %v", cfg.TemplateCatalogPath, err)
		}
		catalog, err = notify.LoadCatalog(data)
		if err != nil {
			log.Fatalf("Failed to parse template catalog %s: %v", cfg.TemplateCatalogPath, err)
		}
		log.Printf("Loaded notification templates from %s", cfg.TemplateCatalogPath)
	}

	// Notification channels. Every configured channel participates in
	// fan-out; failures surface in delivery reports, never as errors.
	var channels []notify.Channel
	if cfg.ResendAPIKey != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.ResendAPIKey, cfg.EmailFrom))
		log.Printf("Notification channel enabled: email")
	}
	if cfg.SMSGatewayURL != "" {
		channels = append(channels, notify.NewSMSChannel(cfg.SMSGatewayURL, cfg.SMSAPIKey))
		log.Printf("Notification channel enabled: sms")
	}
	if cfg.PushGatewayURL != "" {
		channels = append(channels, notify.NewPushChannel(cfg.PushGatewayURL, cfg.PushAPIKey))
		log.Printf("Notification channel enabled: push")
	}
	if cfg.SlackToken != "" {
		channels = append(channels, notify.NewChatChannel(cfg.SlackToken))
		log.Printf("Notification channel enabled: chat")
	}
	dispatcher := notify.NewDispatcher(db, catalog, 10*time.Second, cfg.EscalationDelay, channels...)

	// Event bridge and its workers
	eventBridge := bridge.New(db, registry, dispatcher, map[providers.EntityType][]string{
		providers.EntityTypeMonitor: uptimeProviders,
		providers.EntityTypeAlert:   alertProviders,
	})

	queues := bridge.NewTenantQueues(eventBridge, cfg.QueueSize)

	retryStop := make(chan struct{})
	retryWorker := bridge.NewRetryWorker(db, eventBridge, cfg.MaxRetryAttempts, cfg.RetryInterval)
	go retryWorker.Start(cfg.RetryInterval, retryStop)
	log.Printf("Sync retry worker started (interval %s, max attempts %d)", cfg.RetryInterval, cfg.MaxRetryAttempts)

	// Status feed broadcaster
	statusService := services.NewStatusService(db)
	statusFeed := handlers.NewStatusFeedHandler(statusService, 15*time.Second)
	statusFeed.Start()

	// HTTP surface
	webhookHandler := handlers.NewWebhookHandler(db, registry, queues)
	healthHandler := handlers.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/", webhookHandler.HandleWebhook)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	statusFeed.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting HTTP server on port %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Webhook endpoint: %s/webhook/{provider}/{source_uuid}", cfg.BaseURL)
	log.Printf("Status feed endpoint: %s/ws/status", cfg.BaseURL)
	log.Printf("Health check endpoint: %s/health", cfg.BaseURL)

	// Graceful shutdown: stop taking webhooks, drain queues, stop workers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal, cleaning up...")

	if err := httpServer.Close(); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}
	statusFeed.Stop()
	queues.Stop()
	close(retryStop)

	if err := database.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	log.Println("Shutdown complete")
}
