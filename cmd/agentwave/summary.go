package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/rendis/agentwave/internal/engine"
	"github.com/rendis/agentwave/pkg/schema"
)

// printRunSummary writes a colored, human-readable report of a run.
func printRunSummary(w io.Writer, res *engine.RunResult, runErr error) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "Run %s\n", res.RunID)
	status := green
	if res.Status != schema.RunStatusDone {
		status = red
	}
	fmt.Fprint(w, "  status:     ")
	status.Fprintln(w, res.Status)
	fmt.Fprintf(w, "  waves:      %d\n", res.WaveCount)
	fmt.Fprintf(w, "  agents:     %d\n", res.AgentCount)
	fmt.Fprintf(w, "  duration:   %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  confidence: %.2f\n\n", res.AverageConfidence)

	for _, id := range res.CompletedAgents {
		green.Fprintf(w, "  ✓ %s\n", id)
	}
	for _, id := range res.SkippedAgents {
		yellow.Fprintf(w, "  ○ %s ", id)
		gray.Fprintln(w, "(skipped: low confidence)")
	}
	failed := slices.Clone(res.FailedAgents)
	slices.Sort(failed)
	for _, id := range failed {
		red.Fprintf(w, "  ✗ %s ", id)
		gray.Fprintf(w, "%s\n", res.Errors[id])
	}

	if runErr != nil {
		fmt.Fprintln(w)
		red.Fprintf(w, "run aborted: %v\n", runErr)
	}
}

// printOutputs writes each output's content, one block per node.
func printOutputs(w io.Writer, res *engine.RunResult) {
	for _, out := range res.Outputs {
		fmt.Fprintf(w, "\n--- %s (%s, %.2f) ---\n", out.NodeID, out.AgentID, out.Confidence)
		switch {
		case out.Content != "":
			fmt.Fprintln(w, strings.TrimRight(out.Content, "\n"))
		case out.Data != nil:
			data, _ := json.MarshalIndent(out.Data, "", "  ")
			fmt.Fprintln(w, string(data))
		}
	}
}

// printValidation writes a validation report.
func printValidation(w io.Writer, path string, result *schema.ValidationResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	if result.Valid() {
		green.Fprintf(w, "✓ %s is valid\n", path)
	} else {
		red.Fprintf(w, "✗ %s has %d error(s)\n", path, len(result.Errors))
	}
	for _, issue := range result.Errors {
		red.Fprintf(w, "  error   %s\n", issue)
	}
	for _, issue := range result.Warnings {
		yellow.Fprintf(w, "  warning %s\n", issue)
	}
}
