// Package telemetry exposes executor metrics to Prometheus.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/agentwave/internal/engine"
)

const namespace = "agentwave"

// MetricsSource is the read side of the executor. Satisfied by
// *engine.DAGExecutor.
type MetricsSource interface {
	Metrics() engine.ExecutionMetrics
	AvailablePermits() int
	PermitCapacity() int
	PermitsAcquired() int64
	CircuitBreakers() []engine.CircuitBreakerStats
}

// Collector reads a fresh metrics snapshot on every scrape, so counters
// drop back to zero after the executor is reset.
type Collector struct {
	src MetricsSource

	plans         *prometheus.Desc
	executions    *prometheus.Desc
	executionTime *prometheus.Desc
	errors        *prometheus.Desc
	violations    *prometheus.Desc
	improvements  *prometheus.Desc
	avgConfidence *prometheus.Desc
	confidence    *prometheus.Desc
	permits       *prometheus.Desc
	capacity      *prometheus.Desc
	acquired      *prometheus.Desc
	breakerState  *prometheus.Desc
	lastPlanWaves *prometheus.Desc
}

// NewCollector builds a collector over src.
func NewCollector(src MetricsSource) *Collector {
	return &Collector{
		src: src,
		plans: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "plans_total"),
			"Plans executed.", nil, nil),
		executions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "agent_executions_total"),
			"Agent executions, by outcome.", []string{"outcome"}, nil),
		executionTime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "plan_execution_seconds_total"),
			"Total wall time spent executing plans.", nil, nil),
		errors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "agent_errors_total"),
			"Classified agent failures, by error type.", []string{"type"}, nil),
		violations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "confidence", "violations_total"),
			"Assessments below the resolved threshold.", nil, nil),
		improvements: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "confidence", "improvements_total"),
			"Re-assessments that cleared the threshold.", nil, nil),
		avgConfidence: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "confidence", "average"),
			"Mean of every assessed confidence score.", nil, nil),
		confidence: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "confidence", "samples_total"),
			"Assessed confidence scores, by 0.1-wide bucket.", []string{"bucket"}, nil),
		permits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "permits_available"),
			"Execution permits currently free.", nil, nil),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "permits_capacity"),
			"Size of the execution permit pool.", nil, nil),
		acquired: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "permits_acquired_total"),
			"Execution permits handed out since start.", nil, nil),
		breakerState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "circuit_breaker", "open"),
			"1 when the agent's circuit is not closed.", []string{"agent", "state"}, nil),
		lastPlanWaves: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "last_plan", "waves"),
			"Waves in the most recent plan.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.plans
	ch <- c.executions
	ch <- c.executionTime
	ch <- c.errors
	ch <- c.violations
	ch <- c.improvements
	ch <- c.avgConfidence
	ch <- c.confidence
	ch <- c.permits
	ch <- c.capacity
	ch <- c.acquired
	ch <- c.breakerState
	ch <- c.lastPlanWaves
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	ch <- prometheus.MustNewConstMetric(c.plans, prometheus.CounterValue, float64(m.TotalExecutions))
	ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue, float64(m.SuccessfulExecutions), "success")
	ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue, float64(m.FailedExecutions), "failed")
	ch <- prometheus.MustNewConstMetric(c.executions, prometheus.CounterValue, float64(m.SkippedExecutions), "skipped")
	ch <- prometheus.MustNewConstMetric(c.executionTime, prometheus.CounterValue, float64(m.TotalExecutionTimeMs)/1000)

	for t, n := range m.ErrorCounts {
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(n), string(t))
	}

	cs := m.ConfidenceStats
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(cs.ThresholdViolations))
	ch <- prometheus.MustNewConstMetric(c.improvements, prometheus.CounterValue, float64(cs.ConfidenceImprovements))
	ch <- prometheus.MustNewConstMetric(c.avgConfidence, prometheus.GaugeValue, cs.AverageConfidence)
	for bucket, n := range cs.ConfidenceDistribution {
		ch <- prometheus.MustNewConstMetric(c.confidence, prometheus.CounterValue, float64(n), bucket)
	}

	ch <- prometheus.MustNewConstMetric(c.permits, prometheus.GaugeValue, float64(c.src.AvailablePermits()))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.src.PermitCapacity()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.CounterValue, float64(c.src.PermitsAcquired()))
	ch <- prometheus.MustNewConstMetric(c.lastPlanWaves, prometheus.GaugeValue, float64(len(m.WaveTimings)))

	for _, b := range c.src.CircuitBreakers() {
		open := 0.0
		if b.State != "closed" {
			open = 1
		}
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, open, b.AgentID, b.State)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
