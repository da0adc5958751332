package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short indicator for a node status.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders the model for a terminal: one row of boxes per wave,
// followed by the dependency list.
func RenderASCII(m *Model) string {
	var b strings.Builder

	if m.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", m.Title)
	}

	for i, w := range m.Waves {
		fmt.Fprintf(&b, "Wave %d\n", w.Number)
		boxes := make([]asciiBox, 0, len(w.Nodes))
		for _, n := range w.Nodes {
			boxes = append(boxes, makeBox(n))
		}
		renderBoxRow(&b, boxes)
		if i < len(m.Waves)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	if len(m.Edges) > 0 {
		b.WriteString("\nDependencies\n")
		for _, e := range m.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s\n", e.From, e.To)
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(n *Node) asciiBox {
	content := []string{n.Label()}
	if tag := statusTag(n.Status); tag != "" {
		content = append(content, tag)
	}
	if n.Threshold != nil {
		content = append(content, fmt.Sprintf(">= %.2f", *n.Threshold))
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, len(line))
	}
	width := maxLen + 4

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, line := range content {
		lines = append(lines, "│ "+line+strings.Repeat(" ", maxLen-len(line))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")
	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := range height {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
