package graph

import (
	"fmt"

	"causalscope/domain/core"
	"causalscope/internal/errors"
)

// Edge is a directed causal edge. Weight is a descriptive strength
// annotation, not an estimated coefficient.
type Edge struct {
	From   core.VariableKey `json:"from"`
	To     core.VariableKey `json:"to"`
	Weight float64          `json:"weight"`
}

// DAG is an immutable directed acyclic graph over named variables.
// All derived queries (ancestors, descendants, path enumeration) are
// recomputed fresh; the graph holds no cached analysis state.
type DAG struct {
	vertices []core.VariableKey
	index    map[core.VariableKey]int
	parents  map[core.VariableKey][]core.VariableKey
	children map[core.VariableKey][]core.VariableKey
	edges    []Edge
}

// New builds a DAG from an edge list. Vertices are registered in
// first-seen order. Cyclic input is rejected with a structural error.
func New(edges []Edge) (*DAG, error) {
	d := &DAG{
		index:    make(map[core.VariableKey]int),
		parents:  make(map[core.VariableKey][]core.VariableKey),
		children: make(map[core.VariableKey][]core.VariableKey),
	}

	for _, e := range edges {
		if e.From == "" || e.To == "" {
			return nil, errors.Structural("edge endpoints must be named")
		}
		if e.From == e.To {
			return nil, errors.Structural(fmt.Sprintf("self-loop on %q", e.From))
		}
		d.addVertex(e.From)
		d.addVertex(e.To)
		d.children[e.From] = append(d.children[e.From], e.To)
		d.parents[e.To] = append(d.parents[e.To], e.From)
		d.edges = append(d.edges, e)
	}

	if cycle := d.findCycle(); cycle != nil {
		return nil, errors.Structural(fmt.Sprintf("graph contains a cycle through %q", cycle))
	}

	return d, nil
}

func (d *DAG) addVertex(v core.VariableKey) {
	if _, ok := d.index[v]; ok {
		return
	}
	d.index[v] = len(d.vertices)
	d.vertices = append(d.vertices, v)
}

// findCycle runs a three-color DFS and returns a vertex on a cycle,
// or nil if the graph is acyclic.
func (d *DAG) findCycle() *core.VariableKey {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[core.VariableKey]int, len(d.vertices))

	var visit func(v core.VariableKey) *core.VariableKey
	visit = func(v core.VariableKey) *core.VariableKey {
		color[v] = gray
		for _, c := range d.children[v] {
			switch color[c] {
			case gray:
				hit := c
				return &hit
			case white:
				if hit := visit(c); hit != nil {
					return hit
				}
			}
		}
		color[v] = black
		return nil
	}

	for _, v := range d.vertices {
		if color[v] == white {
			if hit := visit(v); hit != nil {
				return hit
			}
		}
	}
	return nil
}

// Vertices returns the vertex names in insertion order.
func (d *DAG) Vertices() []core.VariableKey {
	out := make([]core.VariableKey, len(d.vertices))
	copy(out, d.vertices)
	return out
}

// Edges returns a copy of the edge list.
func (d *DAG) Edges() []Edge {
	out := make([]Edge, len(d.edges))
	copy(out, d.edges)
	return out
}

// HasVertex reports whether v is in the graph.
func (d *DAG) HasVertex(v core.VariableKey) bool {
	_, ok := d.index[v]
	return ok
}

// HasEdge reports whether the directed edge from→to exists.
func (d *DAG) HasEdge(from, to core.VariableKey) bool {
	for _, c := range d.children[from] {
		if c == to {
			return true
		}
	}
	return false
}

// Parents returns the direct causes of v.
func (d *DAG) Parents(v core.VariableKey) ([]core.VariableKey, error) {
	if !d.HasVertex(v) {
		return nil, errors.VertexNotFound(string(v))
	}
	out := make([]core.VariableKey, len(d.parents[v]))
	copy(out, d.parents[v])
	return core.SortKeys(out), nil
}

// Children returns the direct effects of v.
func (d *DAG) Children(v core.VariableKey) ([]core.VariableKey, error) {
	if !d.HasVertex(v) {
		return nil, errors.VertexNotFound(string(v))
	}
	out := make([]core.VariableKey, len(d.children[v]))
	copy(out, d.children[v])
	return core.SortKeys(out), nil
}

// InDegree returns the number of incoming edges at v.
func (d *DAG) InDegree(v core.VariableKey) (int, error) {
	if !d.HasVertex(v) {
		return 0, errors.VertexNotFound(string(v))
	}
	return len(d.parents[v]), nil
}

// Ancestors returns every vertex with a directed path into v,
// excluding v itself, sorted by name.
func (d *DAG) Ancestors(v core.VariableKey) ([]core.VariableKey, error) {
	return d.reach(v, d.parents)
}

// Descendants returns every vertex reachable from v by directed
// edges, excluding v itself, sorted by name.
func (d *DAG) Descendants(v core.VariableKey) ([]core.VariableKey, error) {
	return d.reach(v, d.children)
}

func (d *DAG) reach(v core.VariableKey, next map[core.VariableKey][]core.VariableKey) ([]core.VariableKey, error) {
	if !d.HasVertex(v) {
		return nil, errors.VertexNotFound(string(v))
	}
	seen := map[core.VariableKey]bool{v: true}
	stack := []core.VariableKey{v}
	var out []core.VariableKey
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next[cur] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				stack = append(stack, n)
			}
		}
	}
	return core.SortKeys(out), nil
}

// AllPaths enumerates every simple path between start and end over the
// undirected closure of the graph. Backdoor paths traverse edges
// against their drawn orientation, so the search ignores direction.
func (d *DAG) AllPaths(start, end core.VariableKey) ([][]core.VariableKey, error) {
	if !d.HasVertex(start) {
		return nil, errors.VertexNotFound(string(start))
	}
	if !d.HasVertex(end) {
		return nil, errors.VertexNotFound(string(end))
	}

	neighbors := func(v core.VariableKey) []core.VariableKey {
		ns := make([]core.VariableKey, 0, len(d.children[v])+len(d.parents[v]))
		ns = append(ns, d.children[v]...)
		ns = append(ns, d.parents[v]...)
		return core.SortKeys(ns)
	}
	return d.enumerate(start, end, neighbors), nil
}

// DirectedPaths enumerates every simple path from start to end that
// follows edge orientation.
func (d *DAG) DirectedPaths(start, end core.VariableKey) ([][]core.VariableKey, error) {
	if !d.HasVertex(start) {
		return nil, errors.VertexNotFound(string(start))
	}
	if !d.HasVertex(end) {
		return nil, errors.VertexNotFound(string(end))
	}

	neighbors := func(v core.VariableKey) []core.VariableKey {
		ns := make([]core.VariableKey, len(d.children[v]))
		copy(ns, d.children[v])
		return core.SortKeys(ns)
	}
	return d.enumerate(start, end, neighbors), nil
}

func (d *DAG) enumerate(start, end core.VariableKey, neighbors func(core.VariableKey) []core.VariableKey) [][]core.VariableKey {
	var paths [][]core.VariableKey
	onPath := map[core.VariableKey]bool{start: true}
	path := []core.VariableKey{start}

	var walk func(v core.VariableKey)
	walk = func(v core.VariableKey) {
		if v == end {
			found := make([]core.VariableKey, len(path))
			copy(found, path)
			paths = append(paths, found)
			return
		}
		for _, n := range neighbors(v) {
			if onPath[n] {
				continue
			}
			onPath[n] = true
			path = append(path, n)
			walk(n)
			path = path[:len(path)-1]
			onPath[n] = false
		}
	}
	walk(start)
	return paths
}

// IsCollider reports whether v is a collider on the path segment
// prev-v-next, i.e. both adjacent edges point into v.
func (d *DAG) IsCollider(prev, v, next core.VariableKey) bool {
	return d.HasEdge(prev, v) && d.HasEdge(next, v)
}
