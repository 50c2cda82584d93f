package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_sessions",
		Help: "Number of active client connections",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_total",
		Help: "Total number of client connections handled",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_session_duration_seconds",
		Help:    "Duration of client connections in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_turns_total",
		Help: "Total number of reply turns by branch",
	}, []string{"branch", "status"})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_audio_flushes_total",
		Help: "Total number of audio batches flushed to transcription",
	})

	sttEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_stt_events_total",
		Help: "Total number of transcription events by kind",
	}, []string{"kind"})

	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_tts_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_tts_latency_seconds",
		Help:    "Time from synthesis request to last forwarded chunk",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_llm_latency_seconds",
		Help:    "Reply generation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session.
type Metrics struct {
	chatID       string
	startTime    time.Time
	ttsStartTime time.Time
	llmStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one connection and records
// the session start.
func NewSessionMetrics(chatID string) *Metrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &Metrics{
		chatID:    chatID,
		startTime: time.Now(),
	}
}

// RecordSessionEnd records the end of a session.
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records one completed (or failed) reply turn.
func (m *Metrics) RecordTurn(branch string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	turnsTotal.WithLabelValues(branch, status).Inc()
}

// RecordFlush records one audio batch handed to transcription.
func (m *Metrics) RecordFlush(bytes int) {
	flushesTotal.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordSTTEvent records a transcription event by kind (partial, final, error).
func (m *Metrics) RecordSTTEvent(kind string) {
	sttEvents.WithLabelValues(kind).Inc()
}

// RecordTTSStart records the start of a synthesis request.
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of a synthesis request.
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordTTSBytes records synthesized audio forwarded to the client.
func (m *Metrics) RecordTTSBytes(bytes int) {
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordLLMStart records the start of a reply-generation call.
func (m *Metrics) RecordLLMStart() {
	m.mu.Lock()
	m.llmStartTime = time.Now()
	m.mu.Unlock()
}

// RecordLLMEnd records the end of a reply-generation call.
func (m *Metrics) RecordLLMEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.llmStartTime.IsZero() {
		llmLatency.Observe(time.Since(m.llmStartTime).Seconds())
	}
}

// RecordError records an error by type and component.
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments the circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
