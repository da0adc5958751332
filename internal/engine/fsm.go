package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

// ValidRunTransitions is the wave-loop state machine.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:          {schema.RunStatusRunningWave, schema.RunStatusDone, schema.RunStatusAborted},
	schema.RunStatusRunningWave:   {schema.RunStatusWaveSucceeded, schema.RunStatusWaveFailed, schema.RunStatusAborted},
	schema.RunStatusWaveSucceeded: {schema.RunStatusRunningWave, schema.RunStatusDone, schema.RunStatusAborted},
	schema.RunStatusWaveFailed:    {schema.RunStatusRunningWave, schema.RunStatusDone, schema.RunStatusAborted},
	schema.RunStatusDone:          {},
	schema.RunStatusAborted:       {},
}

// ValidNodeTransitions is the per-node state machine.
var ValidNodeTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusPending:   {schema.NodeStatusRunning, schema.NodeStatusSkipped, schema.NodeStatusFailed},
	schema.NodeStatusRunning:   {schema.NodeStatusCompleted, schema.NodeStatusFailed, schema.NodeStatusSkipped, schema.NodeStatusRetrying},
	schema.NodeStatusRetrying:  {schema.NodeStatusRunning, schema.NodeStatusFailed},
	schema.NodeStatusCompleted: {},
	schema.NodeStatusFailed:    {},
	schema.NodeStatusSkipped:   {},
}

// RunFSM tracks the status of one plan run and publishes an event for
// every transition that has one.
type RunFSM struct {
	mu     sync.Mutex
	runID  string
	status schema.RunStatus
	events streaming.Publisher
}

// NewRunFSM starts in idle. events may be nil.
func NewRunFSM(runID string, events streaming.Publisher) *RunFSM {
	return &RunFSM{
		runID:  runID,
		status: schema.RunStatusIdle,
		events: events,
	}
}

// Status returns the current status.
func (f *RunFSM) Status() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Transition moves the run to status to. wave and payload decorate the
// published event.
func (f *RunFSM) Transition(ctx context.Context, to schema.RunStatus, wave int, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.status
	if !slices.Contains(ValidRunTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": f.runID, "from": string(from), "to": string(to)})
	}
	f.status = to

	if eventType := runEventType(to); eventType != "" {
		publish(ctx, f.events, streaming.StreamEvent{
			RunID:     f.runID,
			Wave:      wave,
			EventType: eventType,
			Payload:   payload,
		})
	}
	return nil
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunningWave:
		return schema.EventWaveStarted
	case schema.RunStatusWaveSucceeded, schema.RunStatusWaveFailed:
		return schema.EventWaveCompleted
	case schema.RunStatusDone:
		return schema.EventRunCompleted
	case schema.RunStatusAborted:
		return schema.EventRunAborted
	default:
		return ""
	}
}

// NodeFSM validates node transitions and publishes their events. It keeps
// no state; callers pass the current status.
type NodeFSM struct {
	runID  string
	events streaming.Publisher
}

// NewNodeFSM creates a NodeFSM for one run. events may be nil.
func NewNodeFSM(runID string, events streaming.Publisher) *NodeFSM {
	return &NodeFSM{runID: runID, events: events}
}

// Transition validates from -> to for nodeID and publishes the event.
func (f *NodeFSM) Transition(ctx context.Context, nodeID string, wave int, from, to schema.NodeStatus, payload any) error {
	if !slices.Contains(ValidNodeTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid node transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"run_id": f.runID, "from": string(from), "to": string(to)})
	}

	if eventType := nodeEventType(to); eventType != "" {
		publish(ctx, f.events, streaming.StreamEvent{
			RunID:     f.runID,
			NodeID:    nodeID,
			Wave:      wave,
			EventType: eventType,
			Payload:   payload,
		})
	}
	return nil
}

func nodeEventType(to schema.NodeStatus) string {
	switch to {
	case schema.NodeStatusRunning:
		return schema.EventNodeStarted
	case schema.NodeStatusRetrying:
		return schema.EventNodeRetrying
	case schema.NodeStatusCompleted:
		return schema.EventNodeCompleted
	case schema.NodeStatusSkipped:
		return schema.EventNodeSkipped
	case schema.NodeStatusFailed:
		return schema.EventNodeFailed
	default:
		return ""
	}
}

// publish delivers best effort; run events outlive a cancelled run context.
func publish(ctx context.Context, p streaming.Publisher, ev streaming.StreamEvent) {
	if p == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_ = p.Publish(context.WithoutCancel(ctx), ev)
}
