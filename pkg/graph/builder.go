package graph

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
)

// refPattern matches implicit references embedded in attribute values,
// e.g. "${file[/etc/foreman/settings.yaml]}".
var refPattern = regexp.MustCompile(`\$\{([a-zA-Z][a-zA-Z0-9_.]*)\[([^\]]+)\]\}`)

// Builder assembles a Graph from an ordered list of declarations. It
// deduplicates identities, resolves explicit and implicit references into
// typed edges, rejects cycles, and computes topological levels.
type Builder struct {
	nodes map[string]*Node
	decls []*resource.Decl
	out   map[string][]Edge
	in    map[string][]Edge
}

// NewBuilder creates a new graph builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]*Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// Build constructs the graph. All errors here are fatal: no partial run
// is attempted against a graph that failed to build.
func (b *Builder) Build(decls []*resource.Decl) (*Graph, error) {
	if err := b.index(decls); err != nil {
		return nil, err
	}

	edges, err := b.collectEdges()
	if err != nil {
		return nil, err
	}

	for _, e := range edges {
		b.out[e.From.String()] = append(b.out[e.From.String()], e)
		b.in[e.To.String()] = append(b.in[e.To.String()], e)
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	levels, err := b.computeLevels()
	if err != nil {
		return nil, err
	}

	g := &Graph{
		nodes:  b.nodes,
		edges:  edges,
		out:    b.out,
		in:     b.in,
		levels: levels,
	}

	for _, level := range levels {
		g.order = append(g.order, level...)
	}
	if len(levels) > 0 {
		g.roots = levels[0]
	}

	for level, refs := range levels {
		for _, ref := range refs {
			b.nodes[ref.String()].Level = level
		}
	}

	return g, nil
}

// index registers every declaration, rejecting duplicate identities.
func (b *Builder) index(decls []*resource.Decl) error {
	for i, decl := range decls {
		if decl.Ref.Kind == "" || decl.Ref.Title == "" {
			return resource.NewError(resource.ErrCodeValidation,
				"declaration has empty kind or title", nil).WithRef(decl.Ref)
		}

		key := decl.Ref.String()
		if _, exists := b.nodes[key]; exists {
			return resource.NewError(resource.ErrCodeDuplicateIdentity,
				fmt.Sprintf("resource %s declared twice", key), nil).
				WithRef(decl.Ref)
		}

		b.nodes[key] = &Node{Decl: decl, Index: i}
		b.decls = append(b.decls, decl)
	}
	return nil
}

// collectEdges resolves explicit ordering references and implicit
// attribute references into a deduplicated edge set.
func (b *Builder) collectEdges() ([]Edge, error) {
	// Keyed by from|to; a notify edge supersedes a require edge between
	// the same endpoints.
	seen := make(map[string]int)
	var edges []Edge

	add := func(e Edge) {
		key := e.From.String() + "|" + e.To.String()
		if i, ok := seen[key]; ok {
			if e.Kind == EdgeNotify {
				edges[i].Kind = EdgeNotify
			}
			return
		}
		seen[key] = len(edges)
		edges = append(edges, e)
	}

	for _, decl := range b.decls {
		ref := decl.Ref

		for _, target := range decl.Require {
			if err := b.resolve(ref, target); err != nil {
				return nil, err
			}
			add(Edge{From: target, To: ref, Kind: EdgeRequire})
		}
		for _, target := range decl.Before {
			if err := b.resolve(ref, target); err != nil {
				return nil, err
			}
			add(Edge{From: ref, To: target, Kind: EdgeRequire})
		}
		for _, target := range decl.Notify {
			if err := b.resolve(ref, target); err != nil {
				return nil, err
			}
			add(Edge{From: ref, To: target, Kind: EdgeNotify})
		}
		for _, target := range decl.Subscribe {
			if err := b.resolve(ref, target); err != nil {
				return nil, err
			}
			add(Edge{From: target, To: ref, Kind: EdgeNotify})
		}

		implicit, err := b.implicitRefs(decl)
		if err != nil {
			return nil, err
		}
		for _, target := range implicit {
			add(Edge{From: target, To: ref, Kind: EdgeRequire})
		}
	}

	return edges, nil
}

// resolve checks that a referenced identity was declared.
func (b *Builder) resolve(from, target resource.Ref) error {
	if _, ok := b.nodes[target.String()]; !ok {
		return resource.NewError(resource.ErrCodeUnresolvedReference,
			fmt.Sprintf("resource %s references undeclared resource %s", from, target), nil).
			WithRef(from)
	}
	return nil
}

// implicitRefs extracts dependencies embedded in attribute values:
// ${kind[title]} interpolations anywhere in a string attribute, and the
// managed parent directory of a file resource's path.
func (b *Builder) implicitRefs(decl *resource.Decl) ([]resource.Ref, error) {
	var refs []resource.Ref

	for _, name := range decl.AttrNames() {
		value := decl.Attrs[name]
		if err := walkStrings(value, func(s string) error {
			for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
				target := resource.Ref{Kind: m[1], Title: m[2]}
				if target == decl.Ref {
					continue
				}
				if err := b.resolve(decl.Ref, target); err != nil {
					return err
				}
				refs = append(refs, target)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if decl.Ref.Kind == "file" {
		if parent := b.managedParent(decl); !parent.IsZero() {
			refs = append(refs, parent)
		}
	}

	return refs, nil
}

// managedParent returns the nearest ancestor directory of a file
// resource's path that is itself managed by another file resource.
func (b *Builder) managedParent(decl *resource.Decl) resource.Ref {
	byPath := make(map[string]resource.Ref)
	for _, other := range b.decls {
		if other == decl || other.Ref.Kind != "file" {
			continue
		}
		byPath[other.StringAttr("path", other.Ref.Title)] = other.Ref
	}

	path := decl.StringAttr("path", decl.Ref.Title)
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if ref, ok := byPath[dir]; ok {
			return ref
		}
		if dir == filepath.Dir(dir) {
			return resource.Ref{}
		}
	}
}

// walkStrings applies fn to every string nested in an attribute value.
func walkStrings(value interface{}, fn func(string) error) error {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []interface{}:
		for _, item := range v {
			if err := walkStrings(item, fn); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := walkStrings(v[k], fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectCycles runs a depth-first search over the edge set and reports
// the members of the first cycle found.
func (b *Builder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	keys := make([]string, 0, len(b.nodes))
	for key := range b.nodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return b.nodes[keys[i]].Index < b.nodes[keys[j]].Index
	})

	for _, key := range keys {
		if visited[key] {
			continue
		}
		if cycle := b.findCycle(key, visited, onStack, nil); cycle != nil {
			return resource.NewError(resource.ErrCodeCycleDetected,
				fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil)
		}
	}
	return nil
}

// findCycle performs the DFS step; it returns the cycle path when one is
// reached from key.
func (b *Builder) findCycle(key string, visited, onStack map[string]bool, path []string) []string {
	visited[key] = true
	onStack[key] = true
	path = append(path, key)

	for _, e := range b.out[key] {
		next := e.To.String()
		if !visited[next] {
			if cycle := b.findCycle(next, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[next] {
			start := 0
			for i, member := range path {
				if member == next {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), next)
		}
	}

	onStack[key] = false
	return nil
}

// computeLevels assigns topological levels with Kahn's algorithm.
// Resources within a level are ordered by declaration index, keeping
// runs deterministic regardless of map iteration.
func (b *Builder) computeLevels() ([][]resource.Ref, error) {
	inDegree := make(map[string]int, len(b.nodes))
	for key := range b.nodes {
		inDegree[key] = len(b.in[key])
	}

	current := b.zeroDegree(inDegree)
	var levels [][]resource.Ref
	processed := 0

	for len(current) > 0 {
		level := make([]resource.Ref, 0, len(current))
		for _, key := range current {
			level = append(level, b.nodes[key].Decl.Ref)
		}
		levels = append(levels, level)
		processed += len(current)

		drained := make(map[string]bool, len(current))
		for _, key := range current {
			for _, e := range b.out[key] {
				next := e.To.String()
				inDegree[next]--
				if inDegree[next] == 0 {
					drained[next] = true
				}
			}
		}

		next := make([]string, 0, len(drained))
		for key := range drained {
			next = append(next, key)
		}
		sort.Slice(next, func(i, j int) bool {
			return b.nodes[next[i]].Index < b.nodes[next[j]].Index
		})
		current = next
	}

	// Unreachable after cycle detection, kept as an invariant check.
	if processed != len(b.nodes) {
		return nil, resource.NewError(resource.ErrCodeInternal,
			"topological sort did not visit every resource", nil)
	}

	return levels, nil
}

// zeroDegree returns the keys with no remaining incoming edges, in
// declaration order.
func (b *Builder) zeroDegree(inDegree map[string]int) []string {
	var zero []string
	for key, degree := range inDegree {
		if degree == 0 {
			zero = append(zero, key)
		}
	}
	sort.Slice(zero, func(i, j int) bool {
		return b.nodes[zero[i]].Index < b.nodes[zero[j]].Index
	})
	return zero
}
