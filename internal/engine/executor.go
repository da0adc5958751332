package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

var tracer = otel.Tracer("github.com/rendis/agentwave/internal/engine")

// Executor defaults.
const (
	DefaultConcurrencyLimit    = 10
	DefaultExecutionTimeout    = 300 * time.Second
	DefaultConfidenceThreshold = 0.7
)

// CautionPolicy decides what happens to an agent whose confidence misses
// the threshold but is still recommended ProceedWithCaution.
type CautionPolicy string

const (
	// CautionSkip skips every agent that fails the check.
	CautionSkip CautionPolicy = "skip"
	// CautionProceed runs ProceedWithCaution agents and flags their output.
	CautionProceed CautionPolicy = "proceed"
)

// ExecutorConfig configures a DAGExecutor. Zero values take defaults.
type ExecutorConfig struct {
	ConcurrencyLimit    int
	ExecutionTimeout    time.Duration
	ConfidenceThreshold float64
	RetryPolicy         RetryPolicy
	Mode                schema.ExecutionMode
	Caution             CautionPolicy

	AgentThresholds     map[string]float64 // keyed by node ID or agent ID
	ThresholdRules      []ThresholdRule
	RecoveryRules       []RecoveryRule
	ClassificationRules []ClassificationRule

	CircuitBreaker *CircuitBreakerConfig // nil = disabled
	Logger         *slog.Logger
	Events         streaming.Publisher
}

// DefaultExecutorConfig returns 10 permits, 300s timeout, 0.7 threshold and
// the default retry policy in partial mode.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ConcurrencyLimit:    DefaultConcurrencyLimit,
		ExecutionTimeout:    DefaultExecutionTimeout,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RetryPolicy:         DefaultRetryPolicy(),
		Mode:                schema.ModePartial,
		Caution:             CautionSkip,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	def := DefaultExecutorConfig()
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = def.ConcurrencyLimit
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = def.ExecutionTimeout
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if c.RetryPolicy.MaxAttempts <= 0 {
		c.RetryPolicy = def.RetryPolicy
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Caution == "" {
		c.Caution = def.Caution
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return c
}

// RunResult is the outcome of one plan run.
type RunResult struct {
	RunID             string            `json:"run_id"`
	Status            schema.RunStatus  `json:"status"`
	Outputs           []agent.Output    `json:"outputs"`
	Duration          time.Duration     `json:"duration"`
	WaveCount         int               `json:"wave_count"`
	AgentCount        int               `json:"agent_count"`
	CompletedAgents   []string          `json:"completed_agents"`
	SkippedAgents     []string          `json:"skipped_agents"`
	FailedAgents      []string          `json:"failed_agents"`
	Errors            map[string]string `json:"errors,omitempty"` // node ID -> last error
	AverageConfidence float64           `json:"average_confidence"`
}

// DAGExecutor drives execution plans. Construct once and reuse; metrics
// accumulate across runs until ResetMetrics.
type DAGExecutor struct {
	cfg        ExecutorConfig
	permits    *PermitPool
	checker    *ConfidenceChecker
	classifier *ErrorClassifier
	recovery   *RecoveryManager
	breakers   *CircuitBreakerRegistry
	metrics    *metricsStore
	logger     *slog.Logger
	events     streaming.Publisher
}

// NewDAGExecutor builds an executor. It fails only on invalid rules.
func NewDAGExecutor(cfg ExecutorConfig) (*DAGExecutor, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "executor")

	recovery, err := NewRecoveryManager(cfg.RetryPolicy.RetryDelay, cfg.RecoveryRules, logger)
	if err != nil {
		return nil, err
	}

	e := &DAGExecutor{
		cfg:        cfg,
		permits:    NewPermitPool(cfg.ConcurrencyLimit),
		checker:    NewConfidenceChecker(cfg.ConfidenceThreshold, cfg.AgentThresholds, cfg.ThresholdRules, logger),
		classifier: NewErrorClassifier(cfg.ClassificationRules...),
		recovery:   recovery,
		metrics:    newMetricsStore(),
		logger:     logger,
		events:     cfg.Events,
	}
	if cfg.CircuitBreaker != nil {
		e.breakers = NewCircuitBreakerRegistry(*cfg.CircuitBreaker)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *DAGExecutor) Config() ExecutorConfig { return e.cfg }

// Checker exposes the confidence checker for threshold management.
func (e *DAGExecutor) Checker() *ConfidenceChecker { return e.checker }

// ExecutePlan runs plan and returns the outputs of successful agents in
// wave order.
func (e *DAGExecutor) ExecutePlan(ctx context.Context, plan *ExecutionPlan, dag *AgentDAG, cctx *agent.CognitiveContext) ([]agent.Output, error) {
	res, err := e.Run(ctx, plan, dag, cctx)
	if res == nil {
		return nil, err
	}
	return res.Outputs, err
}

// Run executes waves strictly in order. Agents inside a wave run
// concurrently, bounded by the executor-wide permit pool, and the wave
// completes only when every agent has finished. Agent failures are
// absorbed unless Mode is fail_fast; cancelling ctx aborts the run after
// the current wave drains. A run ID already on ctx (logging.WithRunID) is
// reused so callers can subscribe to the run's events up front.
func (e *DAGExecutor) Run(ctx context.Context, plan *ExecutionPlan, dag *AgentDAG, cctx *agent.CognitiveContext) (*RunResult, error) {
	if plan == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution plan is nil")
	}

	mode := e.cfg.Mode
	if plan.Mode != "" {
		mode = plan.Mode
	}

	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}
	ctx, span := tracer.Start(ctx, "agentwave.run", trace.WithAttributes(
		attribute.String("agentwave.run_id", runID),
		attribute.Int("agentwave.waves", len(plan.Waves)),
		attribute.String("agentwave.mode", string(mode)),
	))
	defer span.End()

	started := time.Now()
	e.metrics.beginPlan()
	defer func() { e.metrics.endPlan(time.Since(started)) }()

	res := &RunResult{
		RunID:      runID,
		Status:     schema.RunStatusIdle,
		Outputs:    []agent.Output{},
		WaveCount:  len(plan.Waves),
		AgentCount: plan.NodeCount(),
		Errors:     map[string]string{},
	}
	fsm := NewRunFSM(runID, e.events)
	nodes := NewNodeFSM(runID, e.events)
	produced := make(map[string]agent.Output)
	var samples []float64

	publish(ctx, e.events, streaming.StreamEvent{
		RunID:     runID,
		EventType: schema.EventRunStarted,
		Payload:   map[string]any{"waves": res.WaveCount, "agents": res.AgentCount},
	})
	e.logger.InfoContext(ctx, "run started", "waves", res.WaveCount, "agents", res.AgentCount)

	finish := func(status schema.RunStatus, wave int, runErr error) (*RunResult, error) {
		_ = e.transitionRun(ctx, fsm, status, wave, runErr)
		res.Status = fsm.Status()
		res.Duration = time.Since(started)
		res.AverageConfidence = mean(samples)
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
			e.logger.WarnContext(ctx, "run aborted", "error", runErr, "duration", res.Duration)
		} else {
			e.logger.InfoContext(ctx, "run finished",
				"completed", len(res.CompletedAgents),
				"skipped", len(res.SkippedAgents),
				"failed", len(res.FailedAgents),
				"duration", res.Duration,
			)
		}
		return res, runErr
	}

	for i, wave := range plan.Waves {
		number := wave.Number
		if number <= 0 {
			number = i + 1
		}
		if err := ctx.Err(); err != nil {
			return finish(schema.RunStatusAborted, number,
				schema.NewErrorf(schema.ErrCodeRunAborted, "run aborted before wave %d: %s", number, err.Error()).WithCause(err))
		}
		if err := fsm.Transition(ctx, schema.RunStatusRunningWave, number, map[string]any{"node_ids": wave.NodeIDs}); err != nil {
			return finish(schema.RunStatusAborted, number, err)
		}

		outcomes, timing, waveErr := e.executeWave(ctx, nodes, number, wave.NodeIDs, dag, cctx, produced, started)
		for _, o := range outcomes {
			if o.assessed {
				samples = append(samples, o.confidence)
			}
			switch o.status {
			case schema.NodeStatusCompleted:
				res.Outputs = append(res.Outputs, *o.output)
				res.CompletedAgents = append(res.CompletedAgents, o.nodeID)
				produced[o.nodeID] = *o.output
			case schema.NodeStatusSkipped:
				res.SkippedAgents = append(res.SkippedAgents, o.nodeID)
			case schema.NodeStatusFailed:
				res.FailedAgents = append(res.FailedAgents, o.nodeID)
				if o.err != nil {
					res.Errors[o.nodeID] = o.err.Error()
				}
			}
		}

		if waveErr != nil {
			_ = e.transitionRun(ctx, fsm, schema.RunStatusWaveFailed, number, timing)
			return finish(schema.RunStatusAborted, number, waveErr)
		}

		if timing.FailedAgents > 0 {
			_ = e.transitionRun(ctx, fsm, schema.RunStatusWaveFailed, number, timing)
			if mode == schema.ModeFailFast {
				failed := failedIn(outcomes)
				return finish(schema.RunStatusAborted, number,
					schema.NewErrorf(schema.ErrCodeWaveFailed, "wave %d: %d agent(s) failed: %s",
						number, len(failed), strings.Join(failed, ", ")).
						WithDetails(map[string]any{"wave": number, "failed": failed}))
			}
			continue
		}
		_ = e.transitionRun(ctx, fsm, schema.RunStatusWaveSucceeded, number, timing)
	}

	return finish(schema.RunStatusDone, len(plan.Waves), nil)
}

// transitionRun moves fsm to status to and logs a rejected transition.
func (e *DAGExecutor) transitionRun(ctx context.Context, fsm *RunFSM, to schema.RunStatus, wave int, payload any) error {
	err := fsm.Transition(ctx, to, wave, payload)
	if err != nil {
		e.logger.WarnContext(ctx, "run transition rejected", "error", err, "wave", wave)
	}
	return err
}

// nodeOutcome is the terminal result of one node in a wave.
type nodeOutcome struct {
	nodeID     string
	status     schema.NodeStatus
	output     *agent.Output
	err        error
	confidence float64
	assessed   bool
}

// executeWave scatters one goroutine per node and gathers every outcome.
// Outcomes keep the wave's node order. The error is non-nil only when ctx
// ended while the wave was running.
func (e *DAGExecutor) executeWave(
	ctx context.Context,
	nodes *NodeFSM,
	number int,
	nodeIDs []string,
	dag *AgentDAG,
	cctx *agent.CognitiveContext,
	produced map[string]agent.Output,
	runStarted time.Time,
) ([]nodeOutcome, WaveTiming, error) {
	ctx = logging.WithWave(ctx, number)
	ctx, span := tracer.Start(ctx, "agentwave.wave", trace.WithAttributes(
		attribute.Int("agentwave.wave", number),
		attribute.Int("agentwave.agents", len(nodeIDs)),
	))
	defer span.End()

	started := time.Now()
	outcomes := make([]nodeOutcome, len(nodeIDs))

	var g errgroup.Group
	for i, id := range nodeIDs {
		g.Go(func() error {
			outcomes[i] = e.executeNode(ctx, nodes, number, id, dag, cctx, produced)
			return ctx.Err()
		})
	}
	waveErr := g.Wait()

	timing := WaveTiming{
		WaveNumber:    number,
		StartOffsetMs: started.Sub(runStarted).Milliseconds(),
		DurationMs:    time.Since(started).Milliseconds(),
		AgentCount:    len(nodeIDs),
	}
	var samples []float64
	for _, o := range outcomes {
		switch o.status {
		case schema.NodeStatusCompleted:
			timing.SuccessfulAgents++
		case schema.NodeStatusSkipped:
			timing.SkippedAgents++
		default:
			timing.FailedAgents++
		}
		if o.assessed {
			samples = append(samples, o.confidence)
		}
	}
	timing.AverageConfidence = mean(samples)
	e.metrics.recordWave(timing, samples)

	span.SetAttributes(
		attribute.Int("agentwave.succeeded", timing.SuccessfulAgents),
		attribute.Int("agentwave.skipped", timing.SkippedAgents),
		attribute.Int("agentwave.failed", timing.FailedAgents),
	)
	e.logger.InfoContext(ctx, "wave finished",
		"succeeded", timing.SuccessfulAgents,
		"skipped", timing.SkippedAgents,
		"failed", timing.FailedAgents,
		"duration_ms", timing.DurationMs,
	)

	if waveErr != nil {
		span.SetStatus(codes.Error, waveErr.Error())
		return outcomes, timing, schema.NewErrorf(schema.ErrCodeRunAborted,
			"run aborted during wave %d: %s", number, waveErr.Error()).WithCause(waveErr)
	}
	return outcomes, timing, nil
}

// executeNode gates, runs and retries one node. It never returns an error;
// failures are carried in the outcome.
func (e *DAGExecutor) executeNode(
	ctx context.Context,
	nodes *NodeFSM,
	wave int,
	nodeID string,
	dag *AgentDAG,
	cctx *agent.CognitiveContext,
	produced map[string]agent.Output,
) nodeOutcome {
	out := nodeOutcome{nodeID: nodeID, status: schema.NodeStatusPending}

	node, ok := dag.Get(nodeID)
	if !ok || node.Agent == nil {
		out.err = schema.NewErrorf(schema.ErrCodeNotFound, "node %q has no agent in the dag", nodeID).WithNode(nodeID)
		e.metrics.recordError(e.classifier.Classify(out.err))
		e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusFailed, map[string]any{"error": out.err.Error()})
		return out
	}

	meta := node.Agent.Metadata()
	ctx = logging.WithNode(ctx, nodeID, meta.ID)
	input := e.nodeInput(node, produced, cctx)
	e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusRunning, map[string]any{"agent": meta.ID})

	check, err := e.checkConfidence(ctx, node, input, cctx)
	if err != nil {
		out.err = schema.NewErrorf(schema.ErrCodeExecution, "confidence assessment failed: %s", err.Error()).
			WithNode(nodeID).WithCause(err)
		e.metrics.recordError(e.classifier.Classify(err))
		e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusFailed, map[string]any{"error": out.err.Error()})
		return out
	}
	out.confidence = check.Confidence
	out.assessed = true

	caution := false
	if !check.Passes {
		e.metrics.recordViolation()
		if e.cfg.Caution == CautionProceed && check.Recommendation == RecommendProceedWithCaution {
			caution = true
			e.logger.DebugContext(ctx, "proceeding with caution", "confidence", check.Confidence, "threshold", check.Threshold)
		} else {
			e.logger.DebugContext(ctx, "agent skipped", "confidence", check.Confidence, "threshold", check.Threshold)
			e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusSkipped, check)
			return out
		}
	}

	result, skipped, err := e.executeWithRetry(ctx, nodes, wave, node, meta, input, cctx, &out)
	switch {
	case skipped:
		e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusSkipped, map[string]any{"reason": "recovery"})
	case err != nil:
		out.err = err
		e.logger.WarnContext(ctx, "agent failed", "error", err)
		e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusFailed, map[string]any{"error": err.Error()})
	default:
		result.Caution = result.Caution || caution
		out.output = result
		e.transition(ctx, nodes, nodeID, wave, &out, schema.NodeStatusCompleted, map[string]any{
			"confidence":        result.Confidence,
			"execution_time_ms": result.ExecutionTimeMs,
		})
	}
	return out
}

// checkConfidence runs the confidence check and, when the retry policy asks
// for it, re-assesses a failing score after RetryDelay.
func (e *DAGExecutor) checkConfidence(ctx context.Context, node *AgentNode, input agent.Input, cctx *agent.CognitiveContext) (ConfidenceCheckResult, error) {
	check, err := e.assess(ctx, node, input, cctx)
	if err != nil || check.Passes || !e.cfg.RetryPolicy.RetryOnLowConfidence {
		return check, err
	}

	initial := check.Confidence
	for i := 1; i < e.cfg.RetryPolicy.MaxAttempts; i++ {
		if err := WaitForBackoff(ctx, e.cfg.RetryPolicy.RetryDelay); err != nil {
			return check, err
		}
		check, err = e.assess(ctx, node, input, cctx)
		if err != nil {
			return check, err
		}
		if check.Passes {
			if check.Confidence-initial >= e.cfg.RetryPolicy.ConfidenceImprovementThreshold {
				e.metrics.recordImprovement()
			}
			break
		}
	}
	return check, nil
}

// assess gates one node. A threshold carried by the node itself beats every
// checker override.
func (e *DAGExecutor) assess(ctx context.Context, node *AgentNode, input agent.Input, cctx *agent.CognitiveContext) (ConfidenceCheckResult, error) {
	if node.Threshold == nil {
		return e.checker.Check(ctx, node.ID, node.Agent, input, cctx.Clone())
	}
	confidence, err := node.Agent.AssessConfidence(ctx, input, cctx.Clone())
	if err != nil {
		return ConfidenceCheckResult{Threshold: *node.Threshold}, err
	}
	return Evaluate(confidence, *node.Threshold), nil
}

// executeWithRetry loops attempts until success, a Skip or Fail decision,
// or the attempt budget min(decision, policy) runs out.
func (e *DAGExecutor) executeWithRetry(
	ctx context.Context,
	nodes *NodeFSM,
	wave int,
	node *AgentNode,
	meta agent.Metadata,
	input agent.Input,
	cctx *agent.CognitiveContext,
	out *nodeOutcome,
) (*agent.Output, bool, error) {
	policy := e.cfg.RetryPolicy

	for attempt := 1; ; attempt++ {
		result, err := e.attempt(ctx, node, meta, input, cctx, attempt)
		if err == nil {
			return result, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, err
		}

		_, decision := e.handleAttemptError(ctx, node.ID, meta, wave, attempt, err)
		switch decision.Kind {
		case DecisionSkip:
			return nil, true, nil
		case DecisionFail:
			return nil, false, err
		}

		if attempt >= min(decision.MaxAttempts, policy.MaxAttempts) {
			return nil, false, err
		}

		delay := policy.Delay(decision.Delay, attempt)
		e.transition(ctx, nodes, node.ID, wave, out, schema.NodeStatusRetrying, map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, false, err
		}
		e.transition(ctx, nodes, node.ID, wave, out, schema.NodeStatusRunning, map[string]any{"attempt": attempt + 1})
	}
}

// attempt makes one bounded call to the agent while holding a permit.
func (e *DAGExecutor) attempt(ctx context.Context, node *AgentNode, meta agent.Metadata, input agent.Input, cctx *agent.CognitiveContext, n int) (*agent.Output, error) {
	ctx, span := tracer.Start(ctx, "agentwave.attempt", trace.WithAttributes(
		attribute.String("agentwave.node_id", node.ID),
		attribute.String("agentwave.agent", meta.ID),
		attribute.Int("agentwave.attempt", n),
	))
	defer span.End()

	if e.breakers != nil {
		if err := e.breakers.Allow(meta.ID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	if err := e.permits.Acquire(ctx); err != nil {
		e.releaseTrial(meta.ID)
		return nil, err
	}
	started := time.Now()
	result, err := e.invoke(ctx, node, input, cctx)
	e.permits.Release()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			e.recordBreakerFailure(ctx, meta.ID)
		} else {
			e.releaseTrial(meta.ID)
		}
		return nil, err
	}
	if e.breakers != nil {
		e.breakers.RecordSuccess(meta.ID)
	}

	if result.AgentID == "" {
		result.AgentID = meta.ID
	}
	result.NodeID = node.ID
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(started).Milliseconds()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result, nil
}

// invoke calls Execute under the execution timeout. The call runs in its
// own goroutine so an agent that ignores ctx cannot hold the attempt past
// the deadline; a panic becomes an execution error. Such an agent keeps
// running after invoke returns and its permit is released, so calls still
// in flight may exceed ConcurrencyLimit until it exits.
func (e *DAGExecutor) invoke(ctx context.Context, node *AgentNode, input agent.Input, cctx *agent.CognitiveContext) (*agent.Output, error) {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	type result struct {
		out *agent.Output
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: schema.NewErrorf(schema.ErrCodeExecution, "agent panicked: %v", r).WithNode(node.ID)}
			}
		}()
		out, err := node.Agent.Execute(tctx, input, cctx.Clone())
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded {
				return nil, timeoutError(node.ID, e.cfg.ExecutionTimeout).WithCause(r.err)
			}
			return nil, r.err
		}
		if r.out == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "agent returned no output").WithNode(node.ID)
		}
		return r.out, nil
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timeoutError(node.ID, e.cfg.ExecutionTimeout)
	}
}

// timeoutError carries timeoutMarker so text classification agrees with
// the typed code.
func timeoutError(nodeID string, d time.Duration) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeTimeout, "agent execution %s after %s", timeoutMarker, d).WithNode(nodeID)
}

// releaseTrial hands back a half-open trial for an attempt the run
// abandoned before the agent answered.
func (e *DAGExecutor) releaseTrial(agentID string) {
	if e.breakers != nil {
		e.breakers.ReleaseTrial(agentID)
	}
}

func (e *DAGExecutor) recordBreakerFailure(ctx context.Context, agentID string) {
	if e.breakers == nil {
		return
	}
	if e.breakers.RecordFailure(agentID) == CircuitOpen {
		publish(ctx, e.events, streaming.StreamEvent{
			RunID:     logging.RunID(ctx),
			NodeID:    logging.NodeID(ctx),
			Wave:      logging.Wave(ctx),
			EventType: schema.EventCircuitBreakerOpen,
			Payload:   map[string]any{"agent_id": agentID},
		})
	}
}

// nodeInput copies the node's input and fills in dependency outputs and
// session details. The node itself is never modified.
func (e *DAGExecutor) nodeInput(node *AgentNode, produced map[string]agent.Output, cctx *agent.CognitiveContext) agent.Input {
	input := node.Input
	if len(input.PreviousOutputs) == 0 && len(node.DependsOn) > 0 {
		prev := make([]agent.Output, 0, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			if o, ok := produced[dep]; ok {
				prev = append(prev, o)
			}
		}
		input.PreviousOutputs = prev
	}
	if input.SessionID == "" && cctx != nil {
		input.SessionID = cctx.SessionID
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	return input
}

func (e *DAGExecutor) transition(ctx context.Context, nodes *NodeFSM, nodeID string, wave int, out *nodeOutcome, to schema.NodeStatus, payload any) {
	if err := nodes.Transition(ctx, nodeID, wave, out.status, to, payload); err != nil {
		e.logger.WarnContext(ctx, "node transition rejected", "error", err)
		return
	}
	out.status = to
}

func failedIn(outcomes []nodeOutcome) []string {
	var ids []string
	for _, o := range outcomes {
		if o.status == schema.NodeStatusFailed {
			ids = append(ids, o.nodeID)
		}
	}
	return ids
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// --- Accessors ---

// Metrics returns a copy of the accumulated metrics.
func (e *DAGExecutor) Metrics() ExecutionMetrics { return e.metrics.snapshot() }

// ResetMetrics clears every counter and timing.
func (e *DAGExecutor) ResetMetrics() { e.metrics.reset() }

func (e *DAGExecutor) TotalExecutions() int64      { return e.Metrics().TotalExecutions }
func (e *DAGExecutor) SuccessfulExecutions() int64 { return e.Metrics().SuccessfulExecutions }
func (e *DAGExecutor) FailedExecutions() int64     { return e.Metrics().FailedExecutions }
func (e *DAGExecutor) SkippedExecutions() int64    { return e.Metrics().SkippedExecutions }

// AverageExecutionTime is total plan time divided by plans run.
func (e *DAGExecutor) AverageExecutionTime() time.Duration {
	return e.Metrics().AverageExecutionTime()
}

// AvailablePermits returns permits not held by running attempts.
func (e *DAGExecutor) AvailablePermits() int { return e.permits.Available() }

// PermitCapacity returns the size of the permit pool.
func (e *DAGExecutor) PermitCapacity() int { return e.permits.Capacity() }

// PermitsAcquired counts permits handed out since the executor was built.
func (e *DAGExecutor) PermitsAcquired() int64 { return e.permits.Acquired() }

// PeakPermits returns the highest number of permits held at once.
func (e *DAGExecutor) PeakPermits() int64 { return e.permits.Peak() }

// WaveTimings covers only the most recent run.
func (e *DAGExecutor) WaveTimings() []WaveTiming { return e.Metrics().WaveTimings }

// ErrorStatistics returns failed-attempt counts by error type.
func (e *DAGExecutor) ErrorStatistics() map[schema.ExecutionErrorType]int64 {
	return e.Metrics().ErrorCounts
}

// ConfidenceStatistics returns the confidence aggregate.
func (e *DAGExecutor) ConfidenceStatistics() ConfidenceStatistics {
	return e.Metrics().ConfidenceStats
}

// CircuitBreakers returns breaker diagnostics, or nil when disabled.
func (e *DAGExecutor) CircuitBreakers() []CircuitBreakerStats {
	if e.breakers == nil {
		return nil
	}
	return e.breakers.Stats()
}

func (e *DAGExecutor) String() string {
	return fmt.Sprintf("DAGExecutor(permits=%d, timeout=%s, threshold=%.2f, mode=%s)",
		e.cfg.ConcurrencyLimit, e.cfg.ExecutionTimeout, e.cfg.ConfidenceThreshold, e.cfg.Mode)
}
