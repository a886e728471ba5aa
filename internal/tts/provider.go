package tts

import (
	"fmt"
	"time"

	"github.com/echoglove/voice-bridge/internal/config"
)

// NewFromConfig builds the Synthesizer selected by TTS_PROVIDER
func NewFromConfig(cfg *config.Config) (Synthesizer, error) {
	breakerTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	switch cfg.TTSProvider {
	case config.ProviderGemini:
		return NewGeminiClient(GeminiOptions{
			APIKey:         cfg.GeminiAPIKey,
			BaseURL:        cfg.GeminiBaseURL,
			Model:          cfg.GeminiModel,
			Voice:          cfg.GeminiVoice,
			Timeout:        cfg.TTSTimeoutDuration(),
			MaxFailures:    cfg.CircuitBreakerMaxFailures,
			BreakerTimeout: breakerTimeout,
		}), nil
	case config.ProviderRelay:
		return NewRelayClient(
			cfg.TTSRelayURL,
			cfg.TTSRelayToken,
			cfg.TTSTimeoutDuration(),
			cfg.CircuitBreakerMaxFailures,
			breakerTimeout,
		), nil
	}
	return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
}
