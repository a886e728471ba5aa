package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu     sync.RWMutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger. Only the first call
// has an effect.
func InitLogger(level string, pretty bool) {
	initLogger(os.Stdout, level, pretty)
}

func initLogger(out io.Writer, level string, pretty bool) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if initialized {
		return
	}

	// Unknown levels fall back to info
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		// Pretty console output for development
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Str("service", "voice-bridge").Logger()

	// Set as global logger
	log.Logger = globalLogger

	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	ready := initialized
	logger := globalLogger
	loggerMu.RUnlock()

	if !ready {
		// Initialize with defaults if not already initialized
		InitLogger("info", false)
		return GetLogger()
	}
	return logger
}

// WithDeliveryID creates a logger tagged with a delivery ID
func WithDeliveryID(deliveryID string) zerolog.Logger {
	if deliveryID == "" {
		deliveryID = NewDeliveryID()
	}
	return GetLogger().With().Str("delivery_id", deliveryID).Logger()
}

// NewDeliveryID generates a new delivery ID
func NewDeliveryID() string {
	return uuid.New().String()
}
