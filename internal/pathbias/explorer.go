package pathbias

import (
	"fmt"
	"strings"

	"causalscope/domain/core"
	"causalscope/domain/graph"
	"causalscope/internal/errors"
)

// PathType classifies a treatment–outcome path.
type PathType string

const (
	PathDirect   PathType = "direct"
	PathBackdoor PathType = "backdoor"
	PathCollider PathType = "collider"
	PathOther    PathType = "other"
)

// BiasType labels an advisory warning about a vertex.
type BiasType string

const (
	BiasMBias       BiasType = "m_bias"
	BiasOvercontrol BiasType = "overcontrol"
)

// PathClassification describes one simple path between treatment and
// outcome.
type PathClassification struct {
	Path   []core.VariableKey `json:"path"`
	Length int                `json:"length"`
	Type   PathType           `json:"type"`
}

// BiasWarning flags a vertex whose inclusion in an adjustment set may
// induce bias. Warnings are advisory and never block execution.
type BiasWarning struct {
	Vertex  core.VariableKey `json:"vertex"`
	Type    BiasType         `json:"type"`
	Message string           `json:"message"`
}

// Report bundles path classifications with bias warnings.
type Report struct {
	Paths    []PathClassification `json:"path_classifications"`
	Warnings []BiasWarning        `json:"bias_warnings"`
}

// Explorer classifies treatment–outcome paths and detects collider
// and overcontrol bias patterns. It reads only the graph.
type Explorer struct {
	dag *graph.DAG
}

// New creates an explorer over an immutable DAG.
func New(dag *graph.DAG) *Explorer {
	return &Explorer{dag: dag}
}

// Explore enumerates all simple treatment–outcome paths, classifies
// each, and emits M-bias and overcontrol warnings.
func (e *Explorer) Explore(treatment, outcome core.VariableKey) (*Report, error) {
	if !e.dag.HasVertex(treatment) {
		return nil, errors.VertexNotFound(string(treatment))
	}
	if !e.dag.HasVertex(outcome) {
		return nil, errors.VertexNotFound(string(outcome))
	}

	paths, err := e.dag.AllPaths(treatment, outcome)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	mediators := map[core.VariableKey]bool{}

	for _, p := range paths {
		pt := e.classify(p)
		report.Paths = append(report.Paths, PathClassification{
			Path:   p,
			Length: len(p) - 1,
			Type:   pt,
		})
		if pt == PathDirect {
			for i := 1; i < len(p)-1; i++ {
				mediators[p[i]] = true
			}
		}
	}

	report.Warnings = append(report.Warnings, e.colliderWarnings()...)
	for _, v := range core.SortKeys(keysOf(mediators)) {
		report.Warnings = append(report.Warnings, BiasWarning{
			Vertex: v,
			Type:   BiasOvercontrol,
			Message: fmt.Sprintf(
				"%s mediates a directed %s→%s path; adjusting for it removes part of the effect under study (overcontrol bias)",
				v, treatment, outcome),
		})
	}
	return report, nil
}

// classify orders the checks: a fully directed path is direct, a path
// entering the treatment is backdoor, a path with an interior
// collider is collider, everything else is other.
func (e *Explorer) classify(path []core.VariableKey) PathType {
	directed := true
	for i := 0; i < len(path)-1; i++ {
		if !e.dag.HasEdge(path[i], path[i+1]) {
			directed = false
			break
		}
	}
	if directed {
		return PathDirect
	}
	if len(path) >= 2 && e.dag.HasEdge(path[1], path[0]) {
		return PathBackdoor
	}
	for i := 1; i < len(path)-1; i++ {
		if e.dag.IsCollider(path[i-1], path[i], path[i+1]) {
			return PathCollider
		}
	}
	return PathOther
}

// colliderWarnings flags every vertex with in-degree >= 2 as a
// potential M-bias collider along with its parent set.
func (e *Explorer) colliderWarnings() []BiasWarning {
	var warnings []BiasWarning
	for _, v := range e.dag.Vertices() {
		deg, err := e.dag.InDegree(v)
		if err != nil || deg < 2 {
			continue
		}
		parents, err := e.dag.Parents(v)
		if err != nil {
			continue
		}
		names := make([]string, len(parents))
		for i, p := range parents {
			names[i] = string(p)
		}
		warnings = append(warnings, BiasWarning{
			Vertex: v,
			Type:   BiasMBias,
			Message: fmt.Sprintf(
				"%s is a collider (parents: %s); conditioning on it can open a spurious path (M-bias)",
				v, strings.Join(names, ", ")),
		})
	}
	return warnings
}

func keysOf(set map[core.VariableKey]bool) []core.VariableKey {
	out := make([]core.VariableKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
