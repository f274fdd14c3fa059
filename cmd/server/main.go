package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skypro1111/meeting-translate-service/internal/audio"
	"github.com/skypro1111/meeting-translate-service/internal/capture"
	"github.com/skypro1111/meeting-translate-service/internal/config"
	"github.com/skypro1111/meeting-translate-service/internal/metrics"
	"github.com/skypro1111/meeting-translate-service/internal/recording"
	"github.com/skypro1111/meeting-translate-service/internal/report"
	"github.com/skypro1111/meeting-translate-service/internal/server"
	"github.com/skypro1111/meeting-translate-service/internal/session"
	"github.com/skypro1111/meeting-translate-service/internal/translation"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meeting-translate-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; API keys stay out of the config file
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_ms", cfg.Audio.FrameMs),
		slog.String("microphone_language", cfg.Audio.Microphone.Language),
		slog.String("system_language", cfg.Audio.System.Language),
		slog.String("target_language", cfg.Translation.TargetLanguage),
		slog.String("output_dir", cfg.Recording.OutputDir),
		slog.String("log_level", cfg.Logging.Level),
	)

	apiKeys := loadAPIKeys()
	if len(apiKeys) == 0 {
		logger.Error("No API keys found, set OPENAI_API_KEY or OPENAI_API_KEY_1..N")
		os.Exit(1)
	}
	logger.Info("API keys loaded", slog.Int("count", len(apiKeys)))

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize the language service client
	translator, err := translation.NewClient(translation.Config{
		APIKeys:            apiKeys,
		BaseURL:            cfg.Translation.BaseURL,
		TranscriptionModel: cfg.Translation.TranscriptionModel,
		ChatModel:          cfg.Translation.ChatModel,
		Timeout:            cfg.Translation.GetTimeoutDuration(),
		MaxRetries:         cfg.Translation.MaxRetries,
		MaxBackoff:         cfg.Translation.GetMaxBackoffDuration(),
		MaxConcurrent:      cfg.Translation.MaxConcurrentCalls,
		Metrics:            appMetrics,
	})
	if err != nil {
		logger.Error("Failed to create translation client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Translation client initialized",
		slog.String("transcription_model", cfg.Translation.TranscriptionModel),
		slog.String("chat_model", cfg.Translation.ChatModel),
		slog.Int("max_concurrent_calls", cfg.Translation.MaxConcurrentCalls),
	)

	// Initialize recording storage
	store, err := recording.NewStore(cfg.Recording.OutputDir)
	if err != nil {
		logger.Error("Failed to create recording store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reporter := report.NewGenerator(translator, cfg.Recording.ReportTemplate)
	hub := server.NewHub()

	// Each session gets a fresh coordinator with freshly spawned capture
	// processes for both sources.
	factory := func() (*session.Coordinator, error) {
		mic, err := capture.NewCommandSource(capture.CommandConfig{
			Label:         audio.SourceMicrophone,
			Command:       cfg.Audio.Microphone.Command,
			Args:          cfg.Audio.Microphone.Args,
			SampleRate:    cfg.Audio.SampleRate,
			FrameDuration: cfg.Audio.GetFrameDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create microphone source: %w", err)
		}

		system, err := capture.NewCommandSource(capture.CommandConfig{
			Label:         audio.SourceSystem,
			Command:       cfg.Audio.System.Command,
			Args:          cfg.Audio.System.Args,
			SampleRate:    cfg.Audio.SampleRate,
			FrameDuration: cfg.Audio.GetFrameDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create system source: %w", err)
		}

		segmenter := audio.SegmenterConfig{
			SilenceThreshold: cfg.Audio.SilenceThreshold,
			SilenceGap:       cfg.Segmenter.GetSilenceGapDuration(),
			MaxSegment:       cfg.Segmenter.GetMaxSegmentDuration(),
			MinSegment:       cfg.Segmenter.GetMinSegmentDuration(),
			SampleRate:       cfg.Audio.SampleRate,
		}

		return session.NewCoordinator(session.Config{
			Sources: []session.SourceConfig{
				{Source: mic, Language: cfg.Audio.Microphone.Language, Segmenter: segmenter},
				{Source: system, Language: cfg.Audio.System.Language, Segmenter: segmenter},
			},
			TargetLanguage: cfg.Translation.TargetLanguage,
			DrainTimeout:   cfg.Session.GetDrainTimeoutDuration(),
			ReopenAttempts: cfg.Session.SourceReopenAttempts,
			ReopenBackoff:  cfg.Session.GetReopenBackoffDuration(),
		}, translator, appMetrics, hub, &session.LogSink{})
	}

	manager := session.NewManager(factory, store)
	logger.Info("Session manager initialized",
		slog.Duration("drain_timeout", cfg.Session.GetDrainTimeoutDuration()),
		slog.Int("reopen_attempts", cfg.Session.SourceReopenAttempts),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, cfg, manager, store, reporter, hub, translator, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server started",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop the active session first so in-flight segments drain and the
	// recording is persisted.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Session.GetDrainTimeoutDuration()+10*time.Second)
	defer shutdownCancel()

	if rec, err := manager.StopSession(shutdownCtx); err == nil {
		logger.Info("Active session stopped",
			slog.String("recording_id", rec.ID.String()),
			slog.Int("entries", len(rec.Entries)),
			slog.Int("gaps", rec.GapCount()),
		)
	}

	// Stop HTTP server (stop accepting new requests)
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()

		if err := httpServer.Stop(httpCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Get final statistics
	stats := translator.GetStats()
	logger.Info("Final translation statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// loadAPIKeys collects API keys from the environment. A single key lives in
// OPENAI_API_KEY; a pool uses OPENAI_API_KEY_1, OPENAI_API_KEY_2 and so on
// with no gaps.
func loadAPIKeys() []string {
	var keys []string

	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		keys = append(keys, key)
	}

	for i := 1; ; i++ {
		key := strings.TrimSpace(os.Getenv(fmt.Sprintf("OPENAI_API_KEY_%d", i)))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}

	return keys
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
