package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/callback-agent/internal/audio"
	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/calendar"
	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/filler"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/observability"
	"github.com/lexiqai/callback-agent/internal/orchestrator"
	"github.com/lexiqai/callback-agent/internal/phonebook"
	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/lexiqai/callback-agent/internal/stt"
	"github.com/lexiqai/callback-agent/internal/telephony"
	"github.com/lexiqai/callback-agent/internal/termination"
	"github.com/lexiqai/callback-agent/internal/tts"
	"github.com/lexiqai/callback-agent/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("callback agent starting")

	store := session.NewStore()

	pb, err := phonebook.Load(cfg.PhonebookPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load phonebook")
	}
	stopPhonebookWatch := pb.WatchReload()
	defer stopPhonebookWatch()

	fillers, err := filler.Load(cfg.FillerClipsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load filler clip library")
	}

	auditStore, err := audit.NewSQLStore("sqlite3", cfg.AuditDBURI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit store")
	}
	defer auditStore.Close()

	llmClient, err := llm.NewOpenAIClient(
		cfg.LLMAPIKey,
		cfg.LLMModel,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct llm client")
	}

	ctx := context.Background()
	calendarClient, err := calendar.NewClient(
		ctx,
		[]byte(cfg.CalendarCredentialsJSON),
		cfg.CalendarID,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct calendar client")
	}

	dispatcher := telephony.NewDispatcher(cfg, store, logger)
	smsClient := telephony.NewSMSClient(cfg, logger)

	classifier := intent.New(llmClient).WithAudit(auditStore)
	engine := workflow.NewEngine(llmClient, calendarClient, dispatcher, auditStore)

	orch := orchestrator.New(orchestrator.Options{
		Store:       store,
		Phonebook:   pb,
		Fillers:     fillers,
		Classifier:  classifier,
		Engine:      engine,
		Calendar:    calendarClient,
		LLM:         llmClient,
		NewSTT:      func() stt.STTClient { return stt.NewDeepgramClient(cfg) },
		NewTTS:      func() tts.TTSClient { return tts.NewCartesiaClient(cfg) },
		GraceMillis: cfg.TerminationGraceMillis,
		VADEnabled:  cfg.VADEnabled,
		VADConfig: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       160,
		},
		Logger: logger,
	})
	terminator := termination.NewController(store, orch, auditStore, smsClient, logger)
	orch.SetTerminator(terminator)

	mux := http.NewServeMux()
	mux.HandleFunc("/voice/inbound", telephony.VoiceWebhookHandler(cfg))
	mux.HandleFunc("/voice/outbound", telephony.VoiceWebhookHandler(cfg))
	mux.HandleFunc("/voice/outbound/status", outboundStatusHandler())
	mux.HandleFunc("/voice/stream", orch.MediaStreamHandler())

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"calendar":  calendarClient.HealthCheck,
		"telephony": dispatcher.HealthCheck,
		"sms":       smsClient.HealthCheck,
		"filler": func(ctx context.Context) (bool, error) {
			if !fillers.HealthCheck() {
				return false, fmt.Errorf("observability: filler library has no loaded clips")
			}
			return true, nil
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/voice/stream", cfg.Port)).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited gracefully")
}

// outboundStatusHandler acknowledges Twilio's status callback for a
// placed outbound call. Call lifecycle in this service is driven
// entirely by the media stream opening or timing out, so the
// callback's payload itself is currently unused.
func outboundStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
