// Package metrics exposes the pipeline's Prometheus collectors. One
// Metrics value is shared by every agent in the process; a nil Metrics
// records nothing, which keeps wiring optional in unit tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kubeminder"

// Metrics bundles the collectors for everything the pipeline counts.
type Metrics struct {
	registry *prometheus.Registry

	eventsConsumed *prometheus.CounterVec
	plansPublished *prometheus.CounterVec
	stepsExecuted  *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	quotaDenials   prometheus.Counter
	webSearches    *prometheus.CounterVec

	gatheringSeconds     prometheus.Histogram
	llmSeconds           prometheus.Histogram
	planExecutionSeconds prometheus.Histogram
}

// New builds the collector set on a fresh registry. The registry also
// carries the standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		eventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Messages consumed from the bus, by queue.",
		}, []string{"queue"}),

		plansPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_published_total",
			Help:      "Plans published to the bus, by status.",
		}, []string{"status"}),

		stepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_executed_total",
			Help:      "Sandbox steps executed, by tool and outcome.",
		}, []string{"tool", "ok"}),

		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM chat requests, by outcome.",
		}, []string{"outcome"}),

		quotaDenials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Enhanced-analysis requests denied by the LLM quota.",
		}),

		webSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_searches_total",
			Help:      "Web search gate decisions during context gathering.",
		}, []string{"triggered"}),

		gatheringSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gathering_seconds",
			Help:      "Wall time spent gathering enrichment context.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		llmSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_seconds",
			Help:      "Wall time spent in LLM chat calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		planExecutionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_execution_seconds",
			Help:      "Wall time spent executing approved plans.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventConsumed counts one delivery taken off the named queue.
func (m *Metrics) EventConsumed(queue string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(queue).Inc()
}

// PlanPublished counts one plan published with the given status.
func (m *Metrics) PlanPublished(status string) {
	if m == nil {
		return
	}
	m.plansPublished.WithLabelValues(status).Inc()
}

// StepExecuted counts one sandbox step result.
func (m *Metrics) StepExecuted(tool string, ok bool) {
	if m == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
}

// LLMRequest counts one chat call with its outcome label
// (ok, error, breaker_open).
func (m *Metrics) LLMRequest(outcome string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(outcome).Inc()
}

// QuotaDenial counts one enhanced-analysis request refused by the quota.
func (m *Metrics) QuotaDenial() {
	if m == nil {
		return
	}
	m.quotaDenials.Inc()
}

// WebSearch counts one gate decision during gathering.
func (m *Metrics) WebSearch(triggered bool) {
	if m == nil {
		return
	}
	m.webSearches.WithLabelValues(strconv.FormatBool(triggered)).Inc()
}

// ObserveGathering records how long context gathering took.
func (m *Metrics) ObserveGathering(d time.Duration) {
	if m == nil {
		return
	}
	m.gatheringSeconds.Observe(d.Seconds())
}

// ObserveLLM records how long one chat call took.
func (m *Metrics) ObserveLLM(d time.Duration) {
	if m == nil {
		return
	}
	m.llmSeconds.Observe(d.Seconds())
}

// ObservePlanExecution records how long one plan execution took.
func (m *Metrics) ObservePlanExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.planExecutionSeconds.Observe(d.Seconds())
}
