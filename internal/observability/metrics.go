package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	deliveriesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_deliveries_in_flight",
		Help: "Number of deliveries between Converting and a terminal state",
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_deliveries_total",
		Help: "Total number of deliveries by outcome",
	}, []string{"outcome"}) // outcome: "playing", "destination", "synthesis", "generic"

	deliveryRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_delivery_rejections_total",
		Help: "Delivery requests rejected because another delivery was in flight",
	})

	deliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_delivery_duration_seconds",
		Help:    "Time from accepting a delivery to its terminal state",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	// Stage metrics
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_bridge_stage_duration_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage", "status"}) // stage: "synthesis", "transcode", "upload"

	// Device metrics
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_device_uploads_total",
		Help: "Device upload attempts by HTTP status or \"transport\"",
	}, []string{"status"})

	uploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_device_upload_latency_seconds",
		Help:    "Device upload round trip in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"format"}) // format: "pcm" or "mp3"

	encoderChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_encoder_chunks_total",
		Help: "PCM chunks handed to the MP3 encoder",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_circuit_breaker_rejections_total",
		Help: "Synthesis calls refused without reaching the provider because the circuit was open",
	}, []string{"service"})
)

// Metrics tracks metrics for a single delivery
type Metrics struct {
	deliveryID string
	startTime  time.Time
	stages     map[string]time.Time
	mu         sync.Mutex
}

// NewDeliveryMetrics creates a new metrics tracker for a delivery
func NewDeliveryMetrics(deliveryID string) *Metrics {
	return &Metrics{
		deliveryID: deliveryID,
		startTime:  time.Now(),
		stages:     make(map[string]time.Time),
	}
}

// RecordDeliveryStart records that a delivery was accepted
func (m *Metrics) RecordDeliveryStart() {
	deliveriesInFlight.Inc()
}

// RecordDeliveryEnd records the terminal outcome of a delivery
func (m *Metrics) RecordDeliveryEnd(outcome string) {
	deliveriesInFlight.Dec()
	deliveriesTotal.WithLabelValues(outcome).Inc()
	deliveryDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStageStart records the start of a pipeline stage
func (m *Metrics) RecordStageStart(stage string) {
	m.mu.Lock()
	m.stages[stage] = time.Now()
	m.mu.Unlock()
}

// RecordStageEnd records the end of a pipeline stage
func (m *Metrics) RecordStageEnd(stage string, success bool) {
	m.mu.Lock()
	start, ok := m.stages[stage]
	delete(m.stages, stage)
	m.mu.Unlock()

	if !ok {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	stageDuration.WithLabelValues(stage, status).Observe(time.Since(start).Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(format string, bytes int) {
	audioBytesProcessed.WithLabelValues(format).Add(float64(bytes))
}

// RecordEncoderChunks records PCM chunks fed to the encoder
func (m *Metrics) RecordEncoderChunks(n int) {
	encoderChunks.Add(float64(n))
}

// RecordDeliveryRejected counts a request turned away while busy
func RecordDeliveryRejected() {
	deliveryRejections.Inc()
}

// RecordUpload records one device upload attempt
func RecordUpload(status string, latency time.Duration) {
	uploadsTotal.WithLabelValues(status).Inc()
	uploadLatency.Observe(latency.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerRejection counts a call the open circuit refused
func RecordCircuitBreakerRejection(service string) {
	circuitBreakerRejections.WithLabelValues(service).Inc()
}
