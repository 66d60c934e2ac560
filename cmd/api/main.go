package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"userapi/internal/config"
	"userapi/internal/database"
	"userapi/internal/database/migration"
	handlers "userapi/internal/http/handler"
	"userapi/internal/http/middleware"
	"userapi/internal/logger"
	"userapi/internal/otel"
	"userapi/internal/repository/postgres"
	"userapi/internal/service"
	"userapi/internal/storage"
	"userapi/internal/txmanager"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Tracing degrades to noop when no collector is configured
	shutdownTracing, err := otel.Init(context.Background())
	if err != nil {
		logger.Log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logger.Log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migration.EnsureMigrated(ctx, db, cfg.Database.Host); err != nil {
			logger.Log.Fatalw("failed to migrate database", "error", err)
		}
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		logger.Log.Fatalw("failed to initialize object storage", "error", err)
	}

	// Initialize repository, transaction manager and service
	userRepo := postgres.NewUserPostgres(db)
	txMgr := txmanager.NewTransactionManager(db)
	userSvc := service.NewUserService(userRepo, objStore, txMgr)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    int(cfg.AvatarMaxBytes),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		logger.Log.Fatalw("failed to register metrics", "error", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, userSvc)

	addr := ":" + cfg.Port
	logger.Log.Infow("starting server", "addr", addr)

	if err := app.Listen(addr); err != nil {
		logger.Log.Fatalw("failed to start server", "error", err)
	}
}
