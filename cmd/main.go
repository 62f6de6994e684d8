package main

import (
	"context"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/invest_bot/internal/api/routes"
	"github.com/rail-service/invest_bot/internal/infrastructure/config"
	"github.com/rail-service/invest_bot/internal/infrastructure/di"
	"github.com/rail-service/invest_bot/pkg/graceful"
	"github.com/rail-service/invest_bot/pkg/logger"
	"github.com/rail-service/invest_bot/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer func() { _ = log.Sync() }()

	// Initialize OpenTelemetry tracing
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	// Register the daily job from the persisted settings, then start cron
	if err := container.AutobuyService.Reconcile(context.Background()); err != nil {
		log.Error("Failed to schedule autobuy from saved settings", "error", err)
	}
	container.AutobuyWorker.Start()
	log.Info("Autobuy worker started",
		"state", container.AutobuyWorker.State(),
		"settings_path", container.SettingsStore.Path())

	// Poll Telegram until shutdown
	botCtx, stopBot := context.WithCancel(context.Background())
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		log.Info("Telegram bot polling", "username", container.Bot.UserName())
		container.Bot.Run(botCtx, container.BotHandlers.Handle)
	}()

	var server *http.Server
	if cfg.Server.Enabled {
		server = &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        routes.SetupRoutes(container),
			ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}

		go func() {
			log.Info("Starting server",
				"addr", server.Addr,
				"environment", cfg.Environment,
			)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("Failed to start server", "error", err)
			}
		}()
	}

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	shutdown.Register("telegram_bot", graceful.ShutdownFunc(func(ctx context.Context) error {
		stopBot()
		select {
		case <-botDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	shutdown.Register("autobuy_worker", container.AutobuyWorker)
	shutdown.Register("container", graceful.ShutdownFunc(container.Shutdown))
	shutdown.Register("tracing", graceful.ShutdownFunc(tracingShutdown))

	shutdown.WaitForShutdown(context.Background())
}
