package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facelinker/internal/api"
	"github.com/your-org/facelinker/internal/api/handlers"
	"github.com/your-org/facelinker/internal/api/ws"
	"github.com/your-org/facelinker/internal/app"
	"github.com/your-org/facelinker/internal/config"
	"github.com/your-org/facelinker/internal/ingest"
	"github.com/your-org/facelinker/internal/observability"
	"github.com/your-org/facelinker/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facelinker API", "port", cfg.Server.Port, "db_driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.Build(ctx, cfg, true)
	if err != nil {
		slog.Error("init services", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	hub := ws.NewHub()
	go hub.Run(ctx)

	checks := map[string]handlers.Check{
		"metadata": svc.Stores.Meta.Ping,
		"blobs":    svc.Stores.Blobs.Ping,
	}

	// Without NATS, uploads are synchronous and notices go straight to the hub.
	var dispatcher handlers.Enqueuer
	svc.Pipeline.SetNotifier(hub)

	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return producer.Ping() }
		svc.Pipeline.SetNotifier(producer)

		if svc.Stores.Shared() {
			dispatcher = ingest.NewDispatcher(svc.Ledger, producer)
		} else {
			slog.Warn("async uploads disabled", "reason", app.ErrNotShared)
		}

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create resolution consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeResolutions(ctx, hub.PublishResolution); err != nil {
			slog.Warn("start resolution consumer", "error", err)
		}
	}

	routerCfg := api.RouterConfig{
		APIKey:            cfg.Server.APIKey,
		Ledger:            svc.Ledger,
		Pipeline:          svc.Pipeline,
		Dispatcher:        dispatcher,
		Hub:               hub,
		Checks:            checks,
		UploadParallelism: cfg.Ingest.Parallelism,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
	}
	if svc.Stores.MemoryBlobs != nil {
		routerCfg.Blobs = svc.Stores.MemoryBlobs
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(routerCfg)

	// Uploads run detection inline, so writes get a generous timeout.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
