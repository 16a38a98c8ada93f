// Package graph builds the directed acyclic resource graph the
// convergence engine walks: explicit and implicit ordering edges, cycle
// detection, and topological levels with a deterministic tie-break.
package graph

import (
	"github.com/hostforge/hostforge/pkg/resource"
)

// EdgeKind distinguishes plain ordering edges from those that also carry
// refresh notifications.
type EdgeKind string

const (
	// EdgeRequire orders the endpoints: From applies before To. A
	// failed From blocks To.
	EdgeRequire EdgeKind = "require"

	// EdgeNotify orders the endpoints like EdgeRequire and additionally
	// refreshes To when From changed.
	EdgeNotify EdgeKind = "notify"
)

// Edge is a directed ordering dependency between two resources.
type Edge struct {
	// From is the resource applied first.
	From resource.Ref `json:"from"`

	// To is the resource applied after From.
	To resource.Ref `json:"to"`

	// Kind is the edge kind.
	Kind EdgeKind `json:"kind"`
}

// Node is one resource in the graph together with its topological
// placement.
type Node struct {
	// Decl is the resource declaration.
	Decl *resource.Decl

	// Index is the declaration order, used as the deterministic
	// tie-break among unordered resources.
	Index int

	// Level is the topological level (0 for roots).
	Level int
}

// Ref returns the node's resource identity.
func (n *Node) Ref() resource.Ref {
	return n.Decl.Ref
}

// Graph is the immutable resource graph produced by the Builder and read
// by the convergence engine.
type Graph struct {
	nodes  map[string]*Node
	edges  []Edge
	out    map[string][]Edge
	in     map[string][]Edge
	levels [][]resource.Ref
	order  []resource.Ref
	roots  []resource.Ref
}

// Len returns the number of resources in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node for a reference, or nil when absent.
func (g *Graph) Node(ref resource.Ref) *Node {
	return g.nodes[ref.String()]
}

// Edges returns every edge in the graph.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Out returns the outgoing edges of a resource.
func (g *Graph) Out(ref resource.Ref) []Edge {
	return g.out[ref.String()]
}

// In returns the incoming edges of a resource.
func (g *Graph) In(ref resource.Ref) []Edge {
	return g.in[ref.String()]
}

// Levels returns the topological levels. Resources within a level have no
// ordering relationship and are listed in declaration order.
func (g *Graph) Levels() [][]resource.Ref {
	return g.levels
}

// Depth returns the number of topological levels.
func (g *Graph) Depth() int {
	return len(g.levels)
}

// Order returns the full topological order: levels flattened, with the
// declaration-order tie-break inside each level.
func (g *Graph) Order() []resource.Ref {
	return g.order
}

// Roots returns the resources with no incoming edges.
func (g *Graph) Roots() []resource.Ref {
	return g.roots
}
