package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/api"
	"seat-queue-backend/internal/calendar"
	"seat-queue-backend/internal/db"
	"seat-queue-backend/internal/driver"
	"seat-queue-backend/internal/extension"
	"seat-queue-backend/internal/monitor"
	"seat-queue-backend/internal/notification"
	"seat-queue-backend/internal/portal"
	"seat-queue-backend/internal/predict"
	"seat-queue-backend/internal/scheduler"
	"seat-queue-backend/internal/store"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
)

func main() {
	logger := log.New(os.Stdout, "seatd ", log.LstdFlags)

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf("failed to read .env: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s (timezone %s)", configPath, cfg.Location)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("VAPID keys are not configured; browser notifications are disabled")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, store.WithLocation(cfg.Location))
	classifier := calendar.NewClassifier(appStore, cfg.Location, time.Minute)
	seatPortal := portal.NewClient(&cfg.Portal, cfg.Location)

	notifiers := notification.Multi{}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
		pool.Start(ctx)
		notifiers = append(notifiers, pool)
	}
	publisher, err := notification.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.Channel)
	if err != nil {
		logger.Fatalf("invalid redis url: %v", err)
	}
	if publisher != nil {
		if err := publisher.Ping(ctx); err != nil {
			logger.Printf("redis is unreachable, outcomes will be retried per message: %v", err)
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
	}

	queue := scheduler.New(appStore, seatPortal, cfg.Queue,
		scheduler.WithNotifier(notifiers),
		scheduler.WithClassifier(classifier),
	)
	if n, err := queue.Recover(ctx); err != nil {
		logger.Fatalf("failed to recover in-flight requests: %v", err)
	} else if n > 0 {
		logger.Printf("recovered %d requests left PROCESSING by a previous run", n)
	}

	extensions := extension.New(appStore, seatPortal, cfg.AutoExtension, cfg.Location)
	predictor := predict.New(appStore, classifier, cfg.Prediction, cfg.Location)
	monitorSvc := monitor.NewService(cfg.Monitor, appStore, seatPortal, monitor.WithClassifier(classifier))

	var extender driver.Extender
	if cfg.AutoExtension.Enabled {
		extender = extensions
	}
	drv := driver.New(cfg.Driver, monitorSvc, extender, queue)
	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		drv.Run(ctx)
	}()

	router := api.NewRouter(cfg.Server, api.Deps{
		Store:      appStore,
		Queue:      queue,
		Extensions: extensions,
		Predictor:  predictor,
		Calendar:   classifier,
		Webpush:    &webpushOptions,
		Location:   cfg.Location,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	cancel()
	select {
	case <-driverDone:
	case <-shutdownCtx.Done():
		logger.Println("driver tick did not finish before the shutdown deadline")
	}

	logger.Println("Server gracefully stopped")
}
