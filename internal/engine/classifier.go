package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rendis/agentwave/pkg/schema"
)

// timeoutMarker appears in every deadline error the executor produces and
// is the substring the fallback rules map to Timeout.
const timeoutMarker = "timeout"

// ClassificationRule maps a lower-case substring of an error's text to an
// error type.
type ClassificationRule struct {
	Pattern string                    `json:"pattern"`
	Type    schema.ExecutionErrorType `json:"type"`
}

// DefaultClassificationRules are evaluated in order; first match wins.
func DefaultClassificationRules() []ClassificationRule {
	return []ClassificationRule{
		{Pattern: timeoutMarker, Type: schema.ErrorTypeTimeout},
		{Pattern: "confidence", Type: schema.ErrorTypeLowConfidence},
		{Pattern: "validation", Type: schema.ErrorTypeInputValidation},
	}
}

// ErrorClassifier maps errors onto the execution error taxonomy.
// A *schema.Error whose code carries a type wins; a context deadline is a
// timeout; otherwise the text rules apply, and no match yields Unknown.
type ErrorClassifier struct {
	rules []ClassificationRule
}

// NewErrorClassifier appends extra rules after the default ones.
// Rules with an empty pattern or unknown type are dropped.
func NewErrorClassifier(extra ...ClassificationRule) *ErrorClassifier {
	rules := DefaultClassificationRules()
	for _, r := range extra {
		if r.Pattern == "" || !r.Type.Valid() {
			continue
		}
		rules = append(rules, ClassificationRule{Pattern: strings.ToLower(r.Pattern), Type: r.Type})
	}
	return &ErrorClassifier{rules: rules}
}

// Classify returns the error type for err. A nil error is Unknown.
func (c *ErrorClassifier) Classify(err error) schema.ExecutionErrorType {
	if err == nil {
		return schema.ErrorTypeUnknown
	}

	// The first typed code in the chain wins; untyped wrappers are skipped.
	for next := err; next != nil; {
		var wErr *schema.Error
		if !errors.As(next, &wErr) {
			break
		}
		if t, ok := wErr.Type(); ok {
			return t
		}
		next = wErr.Unwrap()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.ErrorTypeTimeout
	}

	return c.ClassifyText(err.Error())
}

// ClassifyText applies only the substring rules.
func (c *ErrorClassifier) ClassifyText(msg string) schema.ExecutionErrorType {
	msg = strings.ToLower(msg)
	for _, r := range c.rules {
		if strings.Contains(msg, r.Pattern) {
			return r.Type
		}
	}
	return schema.ErrorTypeUnknown
}
