package engine

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rendis/agentwave/pkg/schema"
)

// WaveTiming records one wave of the most recent plan.
type WaveTiming struct {
	WaveNumber        int     `json:"wave_number"`
	StartOffsetMs     int64   `json:"start_offset_ms"`
	DurationMs        int64   `json:"duration_ms"`
	AgentCount        int     `json:"agent_count"`
	SuccessfulAgents  int     `json:"successful_agents"`
	FailedAgents      int     `json:"failed_agents"`
	SkippedAgents     int     `json:"skipped_agents"`
	AverageConfidence float64 `json:"average_confidence"`
}

// ConfidenceStatistics aggregates every assessed confidence score.
type ConfidenceStatistics struct {
	AverageConfidence      float64          `json:"average_confidence"`
	ConfidenceDistribution map[string]int64 `json:"confidence_distribution"`
	ThresholdViolations    int64            `json:"threshold_violations"`
	ConfidenceImprovements int64            `json:"confidence_improvements"`
	Samples                int64            `json:"samples"`
}

// ExecutionMetrics is the executor's cumulative state. Counters add up
// across plans; WaveTimings only covers the latest plan.
type ExecutionMetrics struct {
	TotalExecutions      int64                               `json:"total_executions"`
	SuccessfulExecutions int64                               `json:"successful_executions"`
	FailedExecutions     int64                               `json:"failed_executions"`
	SkippedExecutions    int64                               `json:"skipped_executions"`
	TotalExecutionTimeMs int64                               `json:"total_execution_time_ms"`
	WaveTimings          []WaveTiming                        `json:"wave_timings"`
	ErrorCounts          map[schema.ExecutionErrorType]int64 `json:"error_counts"`
	ConfidenceStats      ConfidenceStatistics                `json:"confidence_stats"`
}

// AverageExecutionTime is total plan time divided by plans run.
func (m ExecutionMetrics) AverageExecutionTime() time.Duration {
	if m.TotalExecutions == 0 {
		return 0
	}
	return time.Duration(m.TotalExecutionTimeMs/m.TotalExecutions) * time.Millisecond
}

// ConfidenceBucket labels the 0.1-wide bucket holding c, e.g. "0.7-0.8".
// Scores outside [0,1] are clamped; 1.0 lands in "0.9-1.0".
func ConfidenceBucket(c float64) string {
	idx := int(c * 10)
	idx = min(max(idx, 0), 9)
	return fmt.Sprintf("%.1f-%.1f", float64(idx)/10, float64(idx+1)/10)
}

// metricsStore guards ExecutionMetrics. Writers take the write lock,
// accessors the read lock and return copies.
type metricsStore struct {
	mu sync.RWMutex
	m  ExecutionMetrics
}

func newMetricsStore() *metricsStore {
	s := &metricsStore{}
	s.resetLocked()
	return s
}

func (s *metricsStore) resetLocked() {
	s.m = ExecutionMetrics{
		WaveTimings: []WaveTiming{},
		ErrorCounts: make(map[schema.ExecutionErrorType]int64),
		ConfidenceStats: ConfidenceStatistics{
			ConfidenceDistribution: make(map[string]int64),
		},
	}
}

func (s *metricsStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *metricsStore) beginPlan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.TotalExecutions++
	s.m.WaveTimings = []WaveTiming{}
}

func (s *metricsStore) endPlan(elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.TotalExecutionTimeMs += elapsed.Milliseconds()
}

func (s *metricsStore) recordViolation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.ConfidenceStats.ThresholdViolations++
}

func (s *metricsStore) recordImprovement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.ConfidenceStats.ConfidenceImprovements++
}

func (s *metricsStore) recordError(t schema.ExecutionErrorType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.ErrorCounts[t]++
}

// recordWave folds one wave's outcomes and confidence samples.
func (s *metricsStore) recordWave(wt WaveTiming, samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m.SuccessfulExecutions += int64(wt.SuccessfulAgents)
	s.m.FailedExecutions += int64(wt.FailedAgents)
	s.m.SkippedExecutions += int64(wt.SkippedAgents)
	s.m.WaveTimings = append(s.m.WaveTimings, wt)

	cs := &s.m.ConfidenceStats
	for _, c := range samples {
		cs.Samples++
		cs.AverageConfidence += (c - cs.AverageConfidence) / float64(cs.Samples)
		cs.ConfidenceDistribution[ConfidenceBucket(c)]++
	}
}

func (s *metricsStore) snapshot() ExecutionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.m
	out.WaveTimings = slices.Clone(s.m.WaveTimings)
	out.ErrorCounts = maps.Clone(s.m.ErrorCounts)
	out.ConfidenceStats.ConfidenceDistribution = maps.Clone(s.m.ConfidenceStats.ConfidenceDistribution)
	return out
}
