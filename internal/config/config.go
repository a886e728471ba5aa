package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Synthesis provider identifiers accepted in TTS_PROVIDER
const (
	ProviderGemini = "gemini"
	ProviderRelay  = "relay"
)

// Config holds all configuration for the voice bridge service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Synthesis provider configuration
	TTSProvider   string `envconfig:"TTS_PROVIDER" default:"gemini"` // gemini or relay
	TTSRelayURL   string `envconfig:"TTS_RELAY_URL" default:""`      // Endpoint returning {audio, encoding, sampleRate, channels}
	TTSRelayToken string `envconfig:"TTS_RELAY_TOKEN" default:""`    // Optional bearer token for the relay
	TTSTimeout    int    `envconfig:"TTS_TIMEOUT" default:"30"`      // seconds
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-preview-tts"`
	GeminiVoice   string `envconfig:"GEMINI_VOICE" default:"Kore"` // Prebuilt voice name
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`

	// Speaker device configuration
	DeviceAddress string `envconfig:"DEVICE_ADDRESS" default:""` // host or host:port of the default speaker
	DevicesFile   string `envconfig:"DEVICES_FILE" default:""`   // Optional YAML registry of named speakers
	UploadTimeout int    `envconfig:"UPLOAD_TIMEOUT" default:"15"` // seconds

	// Delivery pipeline configuration
	DeliveryTimeout    int `envconfig:"DELIVERY_TIMEOUT" default:"60"`      // seconds, synthesis + upload
	DisplayDelayMs     int `envconfig:"DISPLAY_DELAY_MS" default:"3000"`    // How long Playing/Error stay visible
	EncoderBitrateKbps int `envconfig:"ENCODER_BITRATE_KBPS" default:"128"` // MP3 bitrate

	// Resilience configuration
	DeliveryRetryAttempts      int `envconfig:"DELIVERY_RETRY_ATTEMPTS" default:"1"`        // Re-invocations for retryable upload failures (1 = no retry)
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"500"`        // milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Synthesis failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RateLimitPerMinute         int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`         // /speak requests per minute across all callers

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express
func (c *Config) Validate() error {
	c.TTSProvider = strings.ToLower(strings.TrimSpace(c.TTSProvider))

	switch c.TTSProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when TTS_PROVIDER=gemini")
		}
	case ProviderRelay:
		if c.TTSRelayURL == "" {
			return fmt.Errorf("TTS_RELAY_URL is required when TTS_PROVIDER=relay")
		}
	default:
		return fmt.Errorf("TTS_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderRelay, c.TTSProvider)
	}

	if c.DisplayDelayMs < 0 {
		return fmt.Errorf("DISPLAY_DELAY_MS must not be negative")
	}
	if c.DeliveryRetryAttempts < 1 {
		return fmt.Errorf("DELIVERY_RETRY_ATTEMPTS must be at least 1")
	}
	if c.EncoderBitrateKbps <= 0 {
		return fmt.Errorf("ENCODER_BITRATE_KBPS must be positive")
	}

	return nil
}

// DisplayDelay returns the terminal-state display delay
func (c *Config) DisplayDelay() time.Duration {
	return time.Duration(c.DisplayDelayMs) * time.Millisecond
}

// UploadTimeoutDuration returns the per-request timeout of the device upload client
func (c *Config) UploadTimeoutDuration() time.Duration {
	return time.Duration(c.UploadTimeout) * time.Second
}

// DeliveryTimeoutDuration bounds one whole delivery (synthesis through upload)
func (c *Config) DeliveryTimeoutDuration() time.Duration {
	return time.Duration(c.DeliveryTimeout) * time.Second
}

// TTSTimeoutDuration returns the synthesis HTTP client timeout
func (c *Config) TTSTimeoutDuration() time.Duration {
	return time.Duration(c.TTSTimeout) * time.Second
}
