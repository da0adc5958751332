package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/expressions"
	"github.com/rendis/agentwave/pkg/schema"
)

// DecisionKind tags an ErrorHandlingDecision.
type DecisionKind string

const (
	DecisionRetry DecisionKind = "retry"
	DecisionSkip  DecisionKind = "skip"
	DecisionFail  DecisionKind = "fail"
)

// ErrorHandlingDecision is Retry{MaxAttempts, Delay}, Skip or Fail.
type ErrorHandlingDecision struct {
	Kind        DecisionKind  `json:"kind"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
}

func Retry(maxAttempts int, delay time.Duration) ErrorHandlingDecision {
	return ErrorHandlingDecision{Kind: DecisionRetry, MaxAttempts: maxAttempts, Delay: delay}
}

func Skip() ErrorHandlingDecision { return ErrorHandlingDecision{Kind: DecisionSkip} }

func Fail() ErrorHandlingDecision { return ErrorHandlingDecision{Kind: DecisionFail} }

func (d ErrorHandlingDecision) String() string {
	if d.Kind == DecisionRetry {
		return fmt.Sprintf("retry(max=%d, delay=%s)", d.MaxAttempts, d.Delay)
	}
	return string(d.Kind)
}

// ExecutionContext describes the failed attempt being decided on.
type ExecutionContext struct {
	RunID   string
	NodeID  string
	Wave    int
	Attempt int
	Err     error
}

// RecoveryRule overrides the static table when its CEL predicate holds.
// The predicate sees three maps: error {type, message, code}, agent
// (metadata) and node {id, wave, attempt}.
type RecoveryRule struct {
	Name        string        `json:"name" yaml:"name"`
	When        string        `json:"when" yaml:"when"`
	Decision    DecisionKind  `json:"decision" yaml:"decision"`
	MaxAttempts int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// RecoveryManager maps classified errors to handling decisions.
// Rules are tried in order; the static table answers when none match.
// It never consults execution history.
type RecoveryManager struct {
	retryDelay time.Duration
	rules      []RecoveryRule
	cel        *expressions.CELEngine
	logger     *slog.Logger
}

// NewRecoveryManager compiles rules up front so a bad predicate fails at
// construction rather than mid-run.
func NewRecoveryManager(retryDelay time.Duration, rules []RecoveryRule, logger *slog.Logger) (*RecoveryManager, error) {
	m := &RecoveryManager{retryDelay: retryDelay, logger: logger}
	if len(rules) == 0 {
		return m, nil
	}

	cel, err := expressions.NewCELEngine("error", "agent", "node")
	if err != nil {
		return nil, err
	}
	for i, r := range rules {
		switch r.Decision {
		case DecisionRetry, DecisionSkip, DecisionFail:
		default:
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"recovery rule %d (%s): unknown decision %q", i, r.Name, r.Decision)
		}
		if err := cel.Compile(r.When); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"recovery rule %d (%s): %s", i, r.Name, err.Error()).WithCause(err)
		}
	}
	m.rules = rules
	m.cel = cel
	return m, nil
}

// StaticDecision is the built-in table: Timeout retries twice, LowConfidence
// skips, InputValidation fails, anything else retries once.
func (m *RecoveryManager) StaticDecision(errType schema.ExecutionErrorType) ErrorHandlingDecision {
	switch errType {
	case schema.ErrorTypeTimeout:
		return Retry(2, m.retryDelay)
	case schema.ErrorTypeLowConfidence:
		return Skip()
	case schema.ErrorTypeInputValidation:
		return Fail()
	default:
		return Retry(1, m.retryDelay)
	}
}

// Decide returns the handling decision for one failed attempt.
func (m *RecoveryManager) Decide(ctx context.Context, errType schema.ExecutionErrorType, ec ExecutionContext, meta agent.Metadata) ErrorHandlingDecision {
	if len(m.rules) == 0 {
		return m.StaticDecision(errType)
	}

	data := ruleData(errType, ec, meta)
	for _, r := range m.rules {
		ok, err := m.cel.EvaluateBool(ctx, r.When, data)
		if err != nil {
			m.logger.WarnContext(ctx, "recovery rule evaluation failed", "rule", r.Name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		switch r.Decision {
		case DecisionSkip:
			return Skip()
		case DecisionFail:
			return Fail()
		default:
			attempts := r.MaxAttempts
			if attempts <= 0 {
				attempts = 1
			}
			delay := r.Delay
			if delay <= 0 {
				delay = m.retryDelay
			}
			return Retry(attempts, delay)
		}
	}
	return m.StaticDecision(errType)
}

func ruleData(errType schema.ExecutionErrorType, ec ExecutionContext, meta agent.Metadata) map[string]any {
	errMap := map[string]any{"type": string(errType), "message": "", "code": ""}
	if ec.Err != nil {
		errMap["message"] = ec.Err.Error()
		if wErr, ok := asError(ec.Err); ok {
			errMap["code"] = wErr.Code
		}
	}
	return map[string]any{
		"error": errMap,
		"agent": meta.Map(),
		"node": map[string]any{
			"id":      ec.NodeID,
			"wave":    int64(ec.Wave),
			"attempt": int64(ec.Attempt),
		},
	}
}
