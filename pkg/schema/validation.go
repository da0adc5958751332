package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks a plan or only warns.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a plan document.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult collects the issues reported by every validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid is true when no error-severity issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning records a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends other's issues to r.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR whose
// message lists every error issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		msgs = append(msgs, issue.String())
	}

	return NewError(ErrCodeValidation, strings.Join(msgs, "; ")).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
