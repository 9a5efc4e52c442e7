package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/skypro1111/asr-stream-service/internal/config"
	"github.com/skypro1111/asr-stream-service/internal/logging"
	"github.com/skypro1111/asr-stream-service/internal/metrics"
	"github.com/skypro1111/asr-stream-service/internal/publish"
	"github.com/skypro1111/asr-stream-service/internal/server"
	"github.com/skypro1111/asr-stream-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "asr-stream-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty for defaults and environment only)")
	envFile := flag.String("env-file", ".env", "Optional .env file with ASR credentials")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("asr_endpoint", cfg.ASR.Endpoint),
		slog.String("resource_id", cfg.ASR.ResourceID),
		slog.String("language", cfg.ASR.Language),
		slog.Int("chunk_duration_ms", cfg.Audio.ChunkDuration),
		slog.Int("max_concurrent", cfg.Service.MaxConcurrent),
		slog.Int("max_retries", cfg.Service.MaxRetries),
		slog.Bool("publish_enabled", cfg.Publish.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	service, err := transcription.NewService(transcription.ServiceConfig{
		Session:       cfg.SessionConfig(),
		MaxConcurrent: cfg.Service.MaxConcurrent,
		MaxRetries:    cfg.Service.MaxRetries,
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create transcription service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Connect the transcript publisher (if enabled)
	var (
		nc   *nats.Conn
		sink server.Sink
	)
	if cfg.Publish.Enabled {
		nc, err = publish.ConnectNATS(cfg.Publish.NATSURL, serviceName, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sink = publish.NewNATSPublisher(nc, cfg.Publish.Subject, logger, appMetrics)
		logger.Info("Transcript publisher initialized",
			slog.String("nats_url", cfg.Publish.NATSURL),
			slog.String("subject", cfg.Publish.Subject),
		)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Address:        cfg.HTTP.ListenAddress(),
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			RequestTimeout: cfg.HTTP.GetRequestTimeoutDuration(),
		}, logger, service, sink, appMetrics)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Wait for sessions still streaming
	if err := service.Close(shutdownCtx); err != nil {
		logger.Error("Error waiting for sessions", slog.String("error", err.Error()))
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Error("Error draining NATS connection", slog.String("error", err.Error()))
		}
	}

	// Get final statistics
	stats := service.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("no_speech", stats.NoSpeech),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}
