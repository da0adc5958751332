package diagram

import (
	"fmt"
	"strings"
)

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders the model as a left-to-right flowchart with one
// subgraph per wave.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("flowchart LR\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	for _, w := range m.Waves {
		fmt.Fprintf(&b, "    subgraph wave%d[\"Wave %d\"]\n", w.Number, w.Number)
		for _, n := range w.Nodes {
			fmt.Fprintf(&b, "        %s[%q]\n", mermaidSafeID(n.ID), mermaidLabel(n))
		}
		b.WriteString("    end\n")
	}

	for _, e := range m.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(e.From), mermaidSafeID(e.To))
	}

	var classes []string
	for _, w := range m.Waves {
		for _, n := range w.Nodes {
			if cls := mermaidStatusClass(n.Status); cls != "" {
				classes = append(classes, fmt.Sprintf("    class %s %s\n", mermaidSafeID(n.ID), cls))
			}
		}
	}
	if len(classes) > 0 {
		b.WriteString("\n")
		b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
		b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
		b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
		b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
		for _, c := range classes {
			b.WriteString(c)
		}
	}

	return b.String()
}

func mermaidLabel(n *Node) string {
	label := n.Label()
	if n.Threshold != nil {
		label += fmt.Sprintf(" >= %.2f", *n.Threshold)
	}
	return label
}

// mermaidSafeID replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "pending", "skipped":
		return status
	default:
		return ""
	}
}
