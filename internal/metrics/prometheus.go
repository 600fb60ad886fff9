package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GradingCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "essay_grader_call_duration_seconds",
			Help:    "Duration of text-generation calls per grading role",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"role"},
	)

	GradingCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_calls_total",
			Help: "Text-generation calls by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_parse_failures_total",
			Help: "Responses with no usable structured object",
		},
		[]string{"role"},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_fallbacks_total",
			Help: "Degraded paths taken by the orchestrator",
		},
		[]string{"kind"},
	)

	CompetencyScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "essay_grader_competency_score",
			Help:    "Competency scores by stage",
			Buckets: []float64{0, 40, 80, 120, 160, 200},
		},
		[]string{"competency", "stage"},
	)

	FinalScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "essay_grader_final_score",
			Help:    "Final essay scores",
			Buckets: []float64{0, 200, 400, 600, 800, 1000},
		},
		[]string{"mode"},
	)

	EssaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_essays_total",
			Help: "Essays processed by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	EssaysInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "essay_grader_essays_in_flight",
			Help: "Essays currently being graded",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_cache_hits_total",
			Help: "Total response cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_cache_misses_total",
			Help: "Total response cache misses",
		},
		[]string{"cache_type"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "essay_grader_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "essay_grader_sink_writes_total",
			Help: "Result rows appended per sink",
		},
		[]string{"sink", "status"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		Register(prometheus.DefaultRegisterer)
	})
}

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		GradingCallDuration,
		GradingCallsTotal,
		ParseFailuresTotal,
		FallbacksTotal,
		CompetencyScore,
		FinalScore,
		EssaysTotal,
		EssaysInFlight,
		CacheHits,
		CacheMisses,
		BreakerState,
		SinkWritesTotal,
	)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
