package engine

import (
	"context"
	"errors"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/streaming"
	"github.com/rendis/agentwave/pkg/schema"
)

// asError unwraps the first *schema.Error in err's chain.
func asError(err error) (*schema.Error, bool) {
	var wErr *schema.Error
	if errors.As(err, &wErr) {
		return wErr, true
	}
	return nil, false
}

// handleAttemptError runs one failed attempt through classify then decide.
// Every call records one error under its type.
func (e *DAGExecutor) handleAttemptError(ctx context.Context, nodeID string, meta agent.Metadata, wave, attempt int, err error) (schema.ExecutionErrorType, ErrorHandlingDecision) {
	errType := e.classifier.Classify(err)
	e.metrics.recordError(errType)

	decision := e.recovery.Decide(ctx, errType, ExecutionContext{
		RunID:   logging.RunID(ctx),
		NodeID:  nodeID,
		Wave:    wave,
		Attempt: attempt,
		Err:     err,
	}, meta)

	e.logger.DebugContext(ctx, "attempt failed",
		"attempt", attempt,
		"error_type", string(errType),
		"decision", decision.String(),
		"error", err,
	)
	publish(ctx, e.events, streaming.StreamEvent{
		RunID:     logging.RunID(ctx),
		NodeID:    nodeID,
		Wave:      wave,
		EventType: schema.EventErrorClassified,
		Payload: map[string]any{
			"attempt":    attempt,
			"error_type": string(errType),
			"decision":   string(decision.Kind),
			"error":      err.Error(),
		},
	})
	return errType, decision
}
