package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolledger/internal/config"
	"schoolledger/internal/handler"
	"schoolledger/internal/infrastructure/cache"
	"schoolledger/internal/infrastructure/database"
	"schoolledger/internal/infrastructure/mq"
	"schoolledger/internal/job"
	"schoolledger/internal/repository"
	"schoolledger/internal/service"
	"schoolledger/pkg/idgen"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background jobs: outbox drain and the nightly overdue sweep.
	outboxSender := job.NewOutboxSender(db, cfg, log)
	go outboxSender.Start(ctx)

	sweeper := service.NewSweepService(
		db,
		repository.NewObligationRepository(db),
		repository.NewPlanRepository(db),
		cfg,
		log,
	)
	sweepJob := job.NewOverdueSweepJob(db, sweeper, cfg, log)
	go sweepJob.Start(ctx)

	h := handler.NewHandler(db, redisClient, cfg, log)
	router := handler.SetupRouter(h, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}

	log.Info("server stopped")
}
