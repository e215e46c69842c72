// Reconciliation worker: keeps one reconciliation loop running per active
// agreement without an API process. Sweeps the record store for active
// references on a fixed cadence and forces a full refresh at midnight so
// due/future schedule states roll over promptly.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"credlock/agreement-portal/agreement-portal-backend/internal/audit"
	"credlock/agreement-portal/agreement-portal-backend/internal/config"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
	"credlock/agreement-portal/agreement-portal-backend/internal/reconcile"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
	"credlock/agreement-portal/agreement-portal-backend/internal/stream"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatal("Failed to connect to record store", zap.Error(err))
	}
	defer mongoClient.Disconnect(context.Background())

	recordStore := records.NewMongoStore(mongoClient.Database(cfg.Mongo.DBName), logger)

	db, err := gorm.Open(postgres.Open(cfg.Postgres.GetPostgresDSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to audit database", zap.Error(err))
	}
	auditRepo := audit.NewRepository(db)
	if err := auditRepo.AutoMigrate(); err != nil {
		logger.Fatal("Failed to migrate audit tables", zap.Error(err))
	}

	ledgerClient := ledger.NewGatewayClient(cfg.Ledger.GatewayURL, cfg.Ledger.Timeout, logger)
	hub := stream.NewHub(logger)
	manager := reconcile.NewManager(ledgerClient, recordStore, auditRepo, hub, cfg.Reconcile.PollInterval, logger)
	defer manager.StopAll()

	sweep := func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer sweepCancel()

		refs, err := recordStore.ListActiveReferences(sweepCtx)
		if err != nil {
			logger.Error("Failed to sweep active agreements", zap.Error(err))
			return
		}
		for _, ref := range refs {
			manager.Ensure(ref)
		}
		logger.Info("Sweep completed",
			zap.Int("active_references", len(refs)),
			zap.Int("running_loops", manager.LoopCount()))
	}

	// Initial sweep, then cron-driven.
	sweep()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.Reconcile.SweepInterval.String(), sweep); err != nil {
		logger.Fatal("Failed to schedule sweep", zap.Error(err))
	}
	if _, err := scheduler.AddFunc("0 0 * * *", func() {
		logger.Info("Due-date rollover: refreshing all loops")
		manager.RefreshAll()
	}); err != nil {
		logger.Fatal("Failed to schedule rollover", zap.Error(err))
	}
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down reconciliation worker")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
}
