package graph

import (
	"fmt"
	"strings"
)

// ToDOT renders the graph in Graphviz DOT format, grouping resources by
// topological level.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ResourceGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, refs := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, ref := range refs {
			sb.WriteString(fmt.Sprintf("    %q [label=%q];\n", ref.String(), ref.String()))
		}

		sb.WriteString("  }\n\n")
	}

	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n",
			e.From.String(), e.To.String(), edgeStyle(e.Kind)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// edgeStyle returns the DOT style for an edge kind.
func edgeStyle(kind EdgeKind) string {
	switch kind {
	case EdgeNotify:
		return "style=dashed, color=blue"
	default:
		return "style=solid, color=black"
	}
}
