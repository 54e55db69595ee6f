package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tankwatch/internal/alerts"
	"tankwatch/internal/api"
	"tankwatch/internal/config"
	"tankwatch/internal/db"
	"tankwatch/internal/jobs/offline"
	"tankwatch/internal/jobs/summary"
	"tankwatch/internal/notify"
	"tankwatch/internal/processors/evaluator"
	"tankwatch/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/kafka-go"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	slog.InfoContext(ctx, "Starting service...")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	store, err := db.Init(ctx, db.Config{
		ConnString:     cfg.DatabaseURL,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		panic(err)
	}
	defer store.Close()

	dispatcher := notify.New(notify.Config{
		Endpoint:  cfg.FCMEndpoint,
		ServerKey: cfg.FCMServerKey,
		Repo:      store,
	})
	creator := alerts.New(alerts.Config{
		Repo:     store,
		Notifier: dispatcher,
	})

	wEvaluator := evaluator.New(evaluator.Config{
		Brokers:         cfg.KafkaBrokers,
		ConsumerGroupID: cfg.EvaluatorGroupID,
		ConsumerTopic:   cfg.MeasurementsTopic,
		Repo:            store,
		Alerts:          creator,
	})

	sweeper := worker.NewInterval("offline-sweeper", cfg.OfflineSweepInterval, offline.New(offline.Config{
		ThresholdMinutes: cfg.OfflineThresholdMinutes,
		Repo:             store,
		Alerts:           creator,
	}))
	aggregator := worker.NewDaily("daily-aggregator", cfg.AggregationHour, summary.New(summary.Config{
		LeakThresholdLPerHour: cfg.LeakThresholdLPerHour,
		Repo:                  store,
		Alerts:                creator,
	}))

	bus := kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{cfg.KafkaBrokers},
		Topic:   cfg.MeasurementsTopic,
	})
	defer bus.Close()

	a := api.New(api.Config{
		Repo: store,
		Bus:  bus,
	})

	r := chi.NewRouter()
	r.Get("/health", a.Health)
	r.Post("/api/v1/measurements", a.CreateMeasurement)
	r.Get("/api/v1/devices/{device_id}/config", a.GetDeviceConfig)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	wg := sync.WaitGroup{}
	wg.Go(func() {
		wEvaluator.Run(ctx)
	})
	wg.Go(func() {
		sweeper.Run(ctx)
	})
	wg.Go(func() {
		aggregator.Run(ctx)
	})
	wg.Go(func() {
		slog.InfoContext(ctx, "HTTP server listening...", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
			cancel()
		}
	})

	go func() {
		<-sigs
		cancel()
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()

	wEvaluator.Close(ctx)
}
