package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/benAliAlizadeh/mahsabot/internal/config"
	"github.com/benAliAlizadeh/mahsabot/internal/models"
	"github.com/benAliAlizadeh/mahsabot/internal/panel"
	"github.com/benAliAlizadeh/mahsabot/internal/repository"
	"github.com/benAliAlizadeh/mahsabot/internal/services"
	"github.com/benAliAlizadeh/mahsabot/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger := setupLogger(cfg.LogLevel)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := repository.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to database: ", err)
	}
	defer pool.Close()
	logger.Info("Connected to PostgreSQL")

	// Repositories
	nodeRepo := repository.NewNodeRepository(pool)
	planRepo := repository.NewPlanRepository(pool)
	subRepo := repository.NewSubscriptionRepository(pool)

	// Panel adapters share one port allocator for dedicated inbounds
	panelOpts := panel.Options{
		Ports:                  panel.NewPortAllocator(cfg.Provision.PortFile),
		PreserveUnlimitedOnAdd: cfg.Provision.PreserveUnlimitedOnAdd,
	}
	newPanel := func(backend *models.NodeBackendConfig) (panel.Adapter, error) {
		return panel.New(backend, panelOpts, logger)
	}

	// Services
	lifecycle := services.NewLifecycleManager(subRepo, nodeRepo, planRepo, newPanel, cfg.Provision, logger)
	qrService := services.NewQRService(logger)

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Telegram.Token != "" {
		tg, err := services.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.AdminID, logger)
		if err != nil {
			logger.Warn("Telegram notifier unavailable: ", err)
		} else {
			notifier = tg
		}
	}

	sweeper := services.NewExpirySweeper(subRepo, lifecycle, notifier, cfg.Sweep, logger)
	go sweeper.Run(ctx)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	// Start HTTP server
	server := web.NewServer(cfg.HTTP, lifecycle, subRepo, nodeRepo, qrService, logger)
	logger.Info("Starting provisioning engine")
	if err := server.Run(); err != nil {
		logger.Fatal("HTTP server failed: ", err)
	}
}

// setupLogger sets up the logger
func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()

	if logLevel == "" {
		logLevel = "info"
	}
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		log.Printf("Invalid log level %s, defaulting to info", logLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return logger
}
