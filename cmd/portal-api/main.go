package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"credlock/agreement-portal/agreement-portal-backend/internal/api"
	"credlock/agreement-portal/agreement-portal-backend/internal/audit"
	"credlock/agreement-portal/agreement-portal-backend/internal/config"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
	"credlock/agreement-portal/agreement-portal-backend/internal/reconcile"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
	"credlock/agreement-portal/agreement-portal-backend/internal/stream"
	"credlock/agreement-portal/agreement-portal-backend/internal/submit"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to the record store
	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatal("Failed to connect to record store", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())

	recordStore := records.NewMongoStore(mongoClient.Database(cfg.Mongo.DBName), logger)
	if err := recordStore.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure record store indexes", zap.Error(err))
	}

	// Connect to the audit database
	db, err := gorm.Open(postgres.Open(cfg.Postgres.GetPostgresDSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to audit database", zap.Error(err))
	}
	auditRepo := audit.NewRepository(db)
	if err := auditRepo.AutoMigrate(); err != nil {
		logger.Fatal("Failed to migrate audit tables", zap.Error(err))
	}

	// Wire the reconciliation engine
	ledgerClient := ledger.NewGatewayClient(cfg.Ledger.GatewayURL, cfg.Ledger.Timeout, logger)
	hub := stream.NewHub(logger)
	manager := reconcile.NewManager(ledgerClient, recordStore, auditRepo, hub, cfg.Reconcile.PollInterval, logger)
	defer manager.StopAll()

	coordinator := submit.NewCoordinator(ledgerClient, recordStore, manager, logger)

	handler := api.NewHandler(recordStore, manager, coordinator, auditRepo, hub, logger)

	// Setup Router
	if os.Getenv("APP_ENV") != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	apiGroup := router.Group("/api/v1")
	{
		handler.RegisterRoutes(apiGroup)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting agreement portal API", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
}
