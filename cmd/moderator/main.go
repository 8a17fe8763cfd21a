package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studybuddy/tooty/internal/config"
	"github.com/studybuddy/tooty/internal/logging"
	"github.com/studybuddy/tooty/internal/messaging"
	"github.com/studybuddy/tooty/internal/metrics"
	"github.com/studybuddy/tooty/internal/moderation"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting tooty moderation service")

	filter, err := moderation.LoadFilter(cfg.BlocklistFile)
	if err != nil {
		log.Fatal("load blocklist", zap.String("file", cfg.BlocklistFile), zap.Error(err))
	}

	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "tooty-moderator"

	natsClient, err := messaging.NewClient(natsConfig, log)
	if err != nil {
		log.Fatal("connect to NATS", zap.Error(err))
	}

	svc := moderation.NewService(filter, natsClient, log)
	if err := svc.Start(); err != nil {
		log.Fatal("subscribe to moderation checks", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	log.Info("moderation service running",
		zap.String("nats_url", cfg.NATSURL),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Int("terms", len(filter.Terms())),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)
	natsClient.Close()
}
