package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/novaflow/voice-agent/internal/config"
	"github.com/novaflow/voice-agent/internal/dispatch"
	"github.com/novaflow/voice-agent/internal/history"
	"github.com/novaflow/voice-agent/internal/httpapi"
	"github.com/novaflow/voice-agent/internal/knowledge"
	"github.com/novaflow/voice-agent/internal/llm"
	"github.com/novaflow/voice-agent/internal/observability"
	"github.com/novaflow/voice-agent/internal/search"
	"github.com/novaflow/voice-agent/internal/session"
	"github.com/novaflow/voice-agent/internal/settings"
	"github.com/novaflow/voice-agent/internal/stt"
	"github.com/novaflow/voice-agent/internal/tts"
	"github.com/novaflow/voice-agent/internal/webhook"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("upload_dir", cfg.UploadDir).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Agent Service starting")

	// Shared stores
	historyStore, err := history.NewStore(filepath.Join(cfg.UploadDir, "chats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize chat history store")
	}
	kb, err := knowledge.NewStore(filepath.Join(cfg.UploadDir, "knowledge_base"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize knowledge base")
	}
	settingsStore := settings.NewStore(cfg.SettingsFile)

	// Service clients
	llmClient := llm.NewClient(cfg.GeminiModel)
	searchClient := search.NewClient(cfg.TavilyURL)
	webhookClient := webhook.NewClient(cfg.WebhookRetryAttempts)
	ttsClient := tts.NewMurfClient(cfg, logger)

	dispatcher := dispatch.New(
		settingsStore,
		kb,
		historyStore,
		llmClient,
		searchClient,
		webhookClient,
		logger,
	)

	// Create HTTP server
	mux := http.NewServeMux()

	// Conversation WebSocket endpoint
	mux.HandleFunc("/ws", session.Handler(session.Deps{
		Config:     cfg,
		Settings:   settingsStore,
		History:    historyStore,
		Dispatcher: dispatcher,
		TTS:        ttsClient,
		NewBridge: func(apiKey string, sessionLogger zerolog.Logger) stt.Bridge {
			return stt.NewDeepgramBridge(cfg, apiKey, sessionLogger)
		},
	}))

	// Administrative REST surface
	httpapi.NewServer(historyStore, kb, settingsStore, logger).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: each external service is ready when its credential resolves.
	// No API calls are made here to avoid costs.
	keyCheck := func(name string) observability.HealthCheckFunc {
		return func(ctx context.Context) (bool, error) {
			if _, err := settingsStore.ResolveKey(name); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"deepgram": keyCheck(settings.KeyDeepgram),
		"gemini":   keyCheck(settings.KeyGemini),
		"murf":     keyCheck(settings.KeyMurf),
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. No ReadTimeout: websocket sessions
	// are long-lived and read-idle between recordings.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
