package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	TurnsTotal        *prometheus.CounterVec
	RateLimited       prometheus.Counter
	CacheLookups      *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram
	FirstAudioSLOMiss prometheus.Counter
	ChunksPerTurn     prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live conversation sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed generation turns by outcome.",
		}, []string{"outcome"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Turns rejected by the sliding-window rate limiter.",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_cache_lookups_total",
			Help:      "Synthesis cache lookups by result.",
		}, []string{"result"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by provider and code.",
		}, []string{"provider", "code"}),
		FirstAudioLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from turn start to the first audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		FirstAudioSLOMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "first_audio_slo_misses_total",
			Help:      "Turns whose first audio chunk arrived later than the configured SLO.",
		}),
		ChunksPerTurn: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunks_per_turn",
			Help:      "Number of chunks emitted per completed turn.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 20},
		}),
	}
}

// ObserveFirstAudioLatency records time-to-first-audio for one turn. A zero
// slo disables the miss counter.
func (m *Metrics) ObserveFirstAudioLatency(d, slo time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	if slo > 0 && d > slo {
		m.FirstAudioSLOMiss.Inc()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
