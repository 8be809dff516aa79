package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facelinker/internal/app"
	"github.com/your-org/facelinker/internal/config"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/observability"
	"github.com/your-org/facelinker/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics-addr", ":8082", "address for /metrics and /healthz")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facelinker ingest worker",
		"workers", cfg.Ingest.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	if cfg.NATS.URL == "" {
		slog.Error("nats.url is required for the worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.Build(ctx, cfg, false)
	if err != nil {
		slog.Error("init services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if !svc.Stores.Shared() {
		slog.Error("worker cannot start", "error", app.ErrNotShared)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}
	svc.Pipeline.SetNotifier(producer)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeIngestTasks(ctx, "ingest-workers", func(ctx context.Context, task models.IngestTask) error {
		report, err := svc.Pipeline.ProcessTask(ctx, task)
		if err != nil {
			return fmt.Errorf("process %s/%s: %w", task.EventID, task.ImageID, err)
		}
		if len(report.Failures) > 0 {
			slog.Warn("image ingested with failed faces",
				"image_id", task.ImageID,
				"failed", len(report.Failures),
				"queued_for", time.Since(task.QueuedAt).String(),
			)
		}
		return nil
	}, cfg.Ingest.WorkerCount)
	if err != nil {
		slog.Error("start ingest consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	if !consumer.Drain(90 * time.Second) {
		slog.Warn("in-flight ingest tasks cancelled; they will be redelivered")
	}
	slog.Info("worker stopped")
}
