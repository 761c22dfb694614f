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

	"github.com/joho/godotenv"

	"github.com/skypro1111/voice-dialogue-service/internal/audio"
	"github.com/skypro1111/voice-dialogue-service/internal/config"
	"github.com/skypro1111/voice-dialogue-service/internal/conversation"
	"github.com/skypro1111/voice-dialogue-service/internal/llm"
	"github.com/skypro1111/voice-dialogue-service/internal/metrics"
	"github.com/skypro1111/voice-dialogue-service/internal/pipeline"
	"github.com/skypro1111/voice-dialogue-service/internal/server"
	"github.com/skypro1111/voice-dialogue-service/internal/stt"
	"github.com/skypro1111/voice-dialogue-service/internal/tts"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-dialogue-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env if present; real environment variables win
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("address", cfg.HTTP.Address),
		slog.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
		slog.Float64("max_processing_time", cfg.Pipeline.MaxProcessingTime),
		slog.String("stt_endpoint", cfg.STT.Endpoint),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("tts_endpoint", cfg.TTS.Endpoint),
		slog.String("conversation_backend", cfg.Conversation.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize conversation storage
	store, err := buildStore(ctx, cfg.Conversation)
	if err != nil {
		logger.Error("Failed to initialize conversation store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Conversation store initialized", slog.String("backend", cfg.Conversation.Backend))

	// Initialize pipeline engines
	recognizer, err := stt.NewClient(stt.Config{
		Endpoint:      cfg.STT.Endpoint,
		APIKey:        cfg.STT.APIKey,
		Timeout:       cfg.STT.GetTimeoutDuration(),
		MaxRetries:    cfg.STT.MaxRetries,
		MaxConcurrent: cfg.STT.MaxConcurrent,
		Language:      cfg.STT.Language,
	})
	if err != nil {
		logger.Error("Failed to create recognition client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	responder, err := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		RetryAfter:  cfg.LLM.DefaultRetryAfter,
	})
	if err != nil {
		logger.Error("Failed to create response client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	synthesizer, err := tts.NewClient(tts.Config{
		Endpoint: cfg.TTS.Endpoint,
		APIKey:   cfg.TTS.APIKey,
		Timeout:  cfg.TTS.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	coordinator := pipeline.NewCoordinator(pipeline.Config{
		MaxProcessingTime:  cfg.Pipeline.GetMaxProcessingTime(),
		RecognitionTimeout: cfg.Pipeline.GetRecognitionTimeout(),
		ResponseTimeout:    cfg.Pipeline.GetResponseTimeout(),
		SynthesisTimeout:   cfg.Pipeline.GetSynthesisTimeout(),
		MaxConcurrent:      cfg.Pipeline.MaxConcurrent,
		RetryAfter:         cfg.Pipeline.DefaultRetryAfter,
	}, recognizer, responder, synthesizer, store, logger)
	logger.Info("Pipeline coordinator initialized",
		slog.Int("max_concurrent", cfg.Pipeline.MaxConcurrent),
	)

	ingress := audio.NewIngress(audio.IngressConfig{
		MinDuration:   cfg.Audio.MinDuration,
		MaxDuration:   cfg.Audio.MaxDuration,
		MaxBytes:      cfg.Audio.MaxBytes,
		PCMSampleRate: cfg.Audio.SampleRate,
	})

	// Initialize HTTP API server
	httpServer := server.NewHTTPServer(server.Deps{
		Config:      cfg,
		Coordinator: coordinator,
		Ingress:     ingress,
		Synthesizer: synthesizer,
		Store:       store,
		STTStats:    recognizer.GetStats,
		Metrics:     appMetrics,
		Logger:      logger,
	})
	logger.Info("HTTP API server initialized",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Drain the recognition client's request slots
	recognizer.Close()

	// Log final recognition statistics
	sttStats := recognizer.GetStats()
	logger.Info("Final recognition statistics",
		slog.Uint64("total_requests", sttStats.TotalRequests),
		slog.Uint64("success_requests", sttStats.SuccessRequests),
		slog.Uint64("failed_requests", sttStats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// buildStore creates the configured conversation history backend.
func buildStore(ctx context.Context, cfg config.ConversationConfig) (conversation.Store, error) {
	switch cfg.Backend {
	case "redis":
		return conversation.NewRedisStore(ctx, conversation.RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			MaxMessages: cfg.MaxMessages,
			TTL:         cfg.GetTTL(),
		})
	default:
		return conversation.NewMemoryStore(conversation.MemoryConfig{
			MaxMessages:      cfg.MaxMessages,
			MaxConversations: cfg.MaxConversations,
			TTL:              cfg.GetTTL(),
		}), nil
	}
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
