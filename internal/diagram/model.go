// Package diagram renders compiled plans as Mermaid flowcharts or terminal
// text, optionally overlaid with the outcome of a run.
package diagram

// Model is the intermediate representation shared by every renderer.
type Model struct {
	Title string
	Waves []Wave
	Edges []Edge
}

// Wave is one column of nodes that run concurrently.
type Wave struct {
	Number int
	Nodes  []*Node
}

// Node is one plan node.
type Node struct {
	ID        string
	Agent     string
	Threshold *float64
	Status    string // empty when no run is overlaid
	Error     string
}

// Label is the text shown inside the node box.
func (n *Node) Label() string {
	if n.Agent == "" || n.Agent == n.ID {
		return n.ID
	}
	return n.ID + " (" + n.Agent + ")"
}

// Edge is a data dependency: To receives From's output.
type Edge struct {
	From string
	To   string
}
