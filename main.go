package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cloudhut/ksentinel/governance"
	"github.com/cloudhut/ksentinel/kafka"
	"github.com/cloudhut/ksentinel/logging"
	"github.com/cloudhut/ksentinel/prometheus"
	"github.com/cloudhut/ksentinel/storage"
)

func main() {
	startupLogger := zap.NewExample()

	cfg, err := newConfig(startupLogger)
	if err != nil {
		startupLogger.Fatal("failed to parse config", zap.Error(err))
	}

	logger := logging.NewLogger(cfg.Logger, cfg.Exporter.Namespace)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kafkaSvc, err := kafka.NewService(cfg.Kafka, logger.Named("kafka_service"))
	if err != nil {
		logger.Fatal("failed to create kafka service", zap.Error(err))
	}
	defer kafkaSvc.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := kafkaSvc.TestConnection(connectCtx); err != nil {
		connectCancel()
		logger.Fatal("failed to test kafka connection", zap.Error(err))
	}
	connectCancel()

	admin := kafka.NewAdmin(kafkaSvc, logger)
	repo := storage.NewMemoryStore(logger)

	governanceSvc, err := governance.NewService(cfg.Governance, logger.Named("governance"), admin, repo)
	if err != nil {
		logger.Fatal("failed to create governance service", zap.Error(err))
	}

	exporter, err := prometheus.NewExporter(cfg.Exporter, logger.Named("exporter"), governanceSvc, repo)
	if err != nil {
		logger.Fatal("failed to create prometheus exporter", zap.Error(err))
	}
	exporter.InitializeMetrics()
	promclient.MustRegister(exporter)

	go func() {
		if err := governanceSvc.Start(ctx); err != nil {
			logger.Fatal("governance service stopped with an error", zap.Error(err))
		}
	}()

	// Log the event stream so operators can follow it without a subscriber attached.
	go func() {
		for event := range governanceSvc.Subscribe(ctx) {
			meta := event.Meta()
			logger.Info("governance event",
				zap.String("event_type", string(meta.Type)),
				zap.String("group_id", meta.GroupID),
				zap.String("trace_id", meta.TraceID))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !governanceSvc.IsHealthy() {
			http.Error(w, "last poll cycle failed", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	listenAddress := fmt.Sprintf("%v:%d", cfg.Exporter.Host, cfg.Exporter.Port)
	srv := &http.Server{Addr: listenAddress, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening on address", zap.String("listen_address", listenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped with an error", zap.Error(err))
		os.Exit(1)
	}
}
