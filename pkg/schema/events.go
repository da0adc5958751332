package schema

// Event types published while a plan runs.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunAborted   = "run_aborted"

	EventWaveStarted   = "wave_started"
	EventWaveCompleted = "wave_completed"

	EventNodeStarted   = "node_started"
	EventNodeSkipped   = "node_skipped"
	EventNodeRetrying  = "node_retrying"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"

	EventErrorClassified    = "error_classified"
	EventCircuitBreakerOpen = "circuit_breaker_open"
)

// RunStatus is the state of the executor's wave loop.
type RunStatus string

const (
	RunStatusIdle          RunStatus = "idle"
	RunStatusRunningWave   RunStatus = "running_wave"
	RunStatusWaveSucceeded RunStatus = "wave_succeeded"
	RunStatusWaveFailed    RunStatus = "wave_failed"
	RunStatusDone          RunStatus = "done"
	RunStatusAborted       RunStatus = "aborted"
)

// NodeStatus is the terminal or transient state of one node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusRetrying  NodeStatus = "retrying"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusFailed    NodeStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusSkipped || s == NodeStatusFailed
}
