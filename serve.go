package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"progression-engine/config"
	"progression-engine/handlers"
	"progression-engine/middleware"
	"progression-engine/services"
	"progression-engine/store"
	"progression-engine/utils"
	"progression-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if path, _ := cmd.Flags().GetString("balance"); path != "" {
		b, err := config.LoadBalance(path)
		if err != nil {
			return cfg, err
		}
		cfg.BalanceFile, cfg.Balance = path, b
	}
	return cfg, nil
}

func openDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	log := setupLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := store.NewGormStore(db).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Info("✅ schema up to date")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := setupLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	gs := store.NewGormStore(db)
	if err := gs.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetrics(reg)
	clock := clockwork.NewRealClock()

	configStore := services.NewConfigStore(db, 30*time.Second, clock)
	outbox := &services.NotificationOutbox{DB: db, Clock: clock}
	board := &services.LeaderboardStore{DB: db, Clock: clock}

	engine := services.NewEngine(services.Options{
		Store:        gs,
		Balance:      cfg.Balance,
		Clock:        clock,
		Notifier:     outbox,
		Leaderboard:  board,
		GlobalConfig: configStore,
		Promo:        services.ConfigPromoProvider{Config: configStore},
		Metrics:      metrics,
		Logger:       log.With("component", "engine"),
	})

	if cfg.SubscriptionServiceURL != "" {
		subs := services.NewSubscriptionClient(cfg.SubscriptionServiceURL, cfg.ServiceToken)
		workers.NewPremiumSyncWorker(db, subs, cfg.PremiumPollInterval, clock, log).Start(ctx)
	} else {
		log.Warn("⚠️  SUBSCRIPTION_SERVICE_URL not set, premium status will not be mirrored")
	}

	var archiver *services.LedgerArchiver
	if !cfg.ArchiveDisabled {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2AccessSecret, cfg.R2Bucket)
		if err != nil {
			return fmt.Errorf("failed to initialize R2 client: %w", err)
		}
		archiver = &services.LedgerArchiver{Store: gs, Uploader: uploader, Log: log.With("component", "archive")}
	}

	boosts := &services.BoostScheduler{
		DB:       db,
		Config:   configStore,
		Clock:    clock,
		Archiver: archiver,
		Metrics:  metrics,
		Log:      log.With("component", "scheduler"),
	}
	sched, err := boosts.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Error("scheduler shutdown", "error", err)
		}
	}()

	dispatcher := workers.NewActivityDispatcher(engine.Activities, cfg.DispatchShards, cfg.DispatchInbox, metrics, log)
	defer dispatcher.Stop()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(middleware.LoggingMiddleware(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	var streamer *services.NotificationStreamer
	var sseAuth fiber.Handler
	if cfg.AuthServiceURL != "" {
		streamer = &services.NotificationStreamer{Outbox: outbox, Log: log.With("component", "sse")}
		sseAuth = middleware.SSEAuthMiddleware(services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.ServiceToken), log)
	}
	handlers.SetupPublicRoutes(app, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), streamer, sseAuth)

	// everything below must come through the gateway
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, log))
	handlers.SetupProgressionRoutes(app, &handlers.ProgressionHandlers{
		Engine:     engine,
		Dispatcher: dispatcher,
		Boosts:     boosts,
		Config:     configStore,
		Board:      board,
		Log:        log.With("component", "handlers"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()
	log.Info("✅ server running", "port", cfg.Port, "origins", cfg.AllowedOrigins, "archive", archiver != nil)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	slog.Info("shutting down server...")
	return app.ShutdownWithTimeout(10 * time.Second)
}
