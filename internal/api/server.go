// Package api exposes the delivery session over HTTP and a status websocket.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/echoglove/voice-bridge/internal/config"
	"github.com/echoglove/voice-bridge/internal/delivery"
	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/resilience"
	"github.com/echoglove/voice-bridge/internal/tts"
)

// Prober checks that a device answers at an address
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// Options configures a Server
type Options struct {
	Session        *delivery.Session
	Synthesizer    tts.Synthesizer
	Prober         Prober
	Devices        *config.DeviceRegistry
	DefaultDevice  string
	Retry          *resilience.RetryConfig // nil means a single attempt
	RequestsPerMin int                     // /speak rate limit; 0 disables it
	MetricsEnabled bool
}

// Server holds the HTTP handlers of the service
type Server struct {
	session       *delivery.Session
	synth         tts.Synthesizer
	prober        Prober
	devices       *config.DeviceRegistry
	defaultDevice string
	retry         *resilience.RetryConfig
	limiter       *rate.Limiter
	metrics       bool
	hub           *StatusHub
	logger        zerolog.Logger

	// background follows deliveries after /speak has answered
	ctx      context.Context
	cancel   context.CancelFunc
	followWG sync.WaitGroup
}

// NewServer creates a Server and starts its status hub
func NewServer(opts Options) *Server {
	devices := opts.Devices
	if devices == nil {
		devices, _ = config.NewDeviceRegistry(nil)
	}
	retry := opts.Retry
	if retry == nil {
		retry = &resilience.RetryConfig{MaxAttempts: 1}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		session:       opts.Session,
		synth:         opts.Synthesizer,
		prober:        opts.Prober,
		devices:       devices,
		defaultDevice: opts.DefaultDevice,
		retry:         retry,
		metrics:       opts.MetricsEnabled,
		hub:           NewStatusHub(opts.Session),
		logger:        observability.GetLogger().With().Str("component", "api").Logger(),
		ctx:           ctx,
		cancel:        cancel,
	}
	if opts.RequestsPerMin > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMin)), 1)
	}

	go s.hub.Run(ctx)
	return s
}

// Routes returns the HTTP handler of the service
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/speak", s.rateLimited(http.HandlerFunc(s.handleSpeak)))
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/ws/status", s.hub.ServeWS)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(s.readinessChecks()...))

	if s.metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}

// Shutdown stops retrying deliveries, closes status websockets and waits for
// background work until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.followWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.session.Wait(ctx)
}

func (s *Server) readinessChecks() []observability.DependencyCheck {
	var checks []observability.DependencyCheck
	if s.synth != nil {
		checks = append(checks, observability.DependencyCheck{Name: "synthesizer", Check: s.synth.Ready})
	}
	if s.prober != nil && s.defaultDevice != "" {
		checks = append(checks, observability.DependencyCheck{
			Name: "device",
			Check: func(ctx context.Context) (bool, error) {
				if err := s.prober.Probe(ctx, s.devices.Resolve(s.defaultDevice)); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	}
	return checks
}

// rateLimited answers 429 once the /speak budget is spent. Only POSTs,
// which can start a delivery, spend it.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
