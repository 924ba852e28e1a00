package prompt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for model calls.
//
// Metrics:
//   - zoning_prompt_in_flight - model calls currently holding a slot
//   - zoning_prompt_calls_total{model,outcome} - transport calls by outcome
//   - zoning_prompt_retries_total{model} - retried transient failures
//   - zoning_prompt_cache_hits_total / zoning_prompt_cache_misses_total
//   - zoning_prompt_cost_usd_total{model} - estimated spend
type Metrics struct {
	InFlight    prometheus.Gauge
	Calls       *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CostUSD     *prometheus.CounterVec
}

// NewMetrics creates the prompt metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "zoning_prompt_in_flight",
			Help: "Model calls currently in flight",
		}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoning_prompt_calls_total",
			Help: "Model transport calls by outcome",
		}, []string{"model", "outcome"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoning_prompt_retries_total",
			Help: "Retried transient model call failures",
		}, []string{"model"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "zoning_prompt_cache_hits_total",
			Help: "Prompt cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "zoning_prompt_cache_misses_total",
			Help: "Prompt cache misses",
		}),
		CostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zoning_prompt_cost_usd_total",
			Help: "Estimated model spend in USD",
		}, []string{"model"}),
	}
}
