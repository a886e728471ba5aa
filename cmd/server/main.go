package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echoglove/voice-bridge/internal/api"
	"github.com/echoglove/voice-bridge/internal/audio"
	"github.com/echoglove/voice-bridge/internal/config"
	"github.com/echoglove/voice-bridge/internal/delivery"
	"github.com/echoglove/voice-bridge/internal/device"
	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/resilience"
	"github.com/echoglove/voice-bridge/internal/tts"
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

	devices, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DevicesFile).Msg("Failed to load device registry")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("tts_provider", cfg.TTSProvider).
		Str("default_device", cfg.DeviceAddress).
		Int("registered_devices", len(devices.Devices())).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Bridge Service starting")

	synth, err := tts.NewFromConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create synthesizer")
	}

	deviceClient := device.NewClient(cfg.UploadTimeoutDuration())

	session, err := delivery.NewSession(delivery.Options{
		Synthesizer: synth,
		Uploader:    deviceClient,
		EncoderParams: audio.EncoderParams{
			Channels:    audio.SpeechChannels,
			SampleRate:  audio.SpeechSampleRate,
			BitrateKbps: cfg.EncoderBitrateKbps,
		},
		DisplayDelay: cfg.DisplayDelay(),
		Timeout:      cfg.DeliveryTimeoutDuration(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create delivery session")
	}

	apiServer := api.NewServer(api.Options{
		Session:       session,
		Synthesizer:   synth,
		Prober:        deviceClient,
		Devices:       devices,
		DefaultDevice: cfg.DeviceAddress,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.DeliveryRetryAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		RequestsPerMin: cfg.RateLimitPerMinute,
		MetricsEnabled: cfg.MetricsEnabled,
	})
	if cfg.MetricsEnabled {
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Status websockets outlive
	// WriteTimeout, so it is left to the handlers.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     apiServer.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("http://localhost:%s/speak", cfg.Port)).
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
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Delivery still in flight at shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
