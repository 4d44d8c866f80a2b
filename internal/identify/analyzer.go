package identify

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"causalscope/domain/core"
	"causalscope/domain/graph"
	"causalscope/internal/config"
	"causalscope/internal/errors"
)

// Strategy names the identification route behind a recommendation.
type Strategy string

const (
	StrategyBackdoor  Strategy = "backdoor"
	StrategyFrontdoor Strategy = "frontdoor"
)

// Recommendation is the preferred adjustment or mediator set: the
// smallest minimal backdoor set when one exists, otherwise the
// smallest valid frontdoor set.
type Recommendation struct {
	Strategy Strategy           `json:"strategy"`
	Set      []core.VariableKey `json:"set"`
}

// Result reports whether E[Y|do(X)] is identifiable from the graph
// alone. Non-identifiable is a normal outcome, not an error.
type Result struct {
	Treatment        core.VariableKey     `json:"treatment"`
	Outcome          core.VariableKey     `json:"outcome"`
	AllValidBackdoor [][]core.VariableKey `json:"all_valid_sets"`
	MinimalBackdoor  [][]core.VariableKey `json:"minimal_sets"`
	ValidFrontdoor   [][]core.VariableKey `json:"frontdoor_sets"`
	Identifiable     bool                 `json:"identifiable"`
	Recommended      *Recommendation      `json:"recommended,omitempty"`
}

// Analyzer searches the DAG for valid backdoor and frontdoor
// adjustment sets. It reads only the graph, never the dataset.
type Analyzer struct {
	dag *graph.DAG
	cfg config.IdentifyConfig

	descMu sync.Mutex
	desc   map[core.VariableKey]map[core.VariableKey]bool
}

// New creates an analyzer over an immutable DAG.
func New(dag *graph.DAG, cfg config.IdentifyConfig) *Analyzer {
	return &Analyzer{
		dag:  dag,
		cfg:  cfg,
		desc: make(map[core.VariableKey]map[core.VariableKey]bool),
	}
}

// Analyze runs the full backdoor and frontdoor search for a
// treatment/outcome pair. The exhaustive subset enumeration is
// bounded by the configured candidate ceiling and honors context
// cancellation between candidate checks.
func (a *Analyzer) Analyze(ctx context.Context, treatment, outcome core.VariableKey) (*Result, error) {
	if !a.dag.HasVertex(treatment) {
		return nil, errors.VertexNotFound(string(treatment))
	}
	if !a.dag.HasVertex(outcome) {
		return nil, errors.VertexNotFound(string(outcome))
	}

	backdoorPaths, err := a.backdoorPaths(treatment, outcome)
	if err != nil {
		return nil, err
	}

	candidates, err := a.backdoorCandidates(treatment, outcome)
	if err != nil {
		return nil, err
	}
	if len(candidates) > a.cfg.MaxCandidateVertices {
		return nil, errors.ComplexityLimit(fmt.Sprintf(
			"%d candidate adjustment vertices exceed the ceiling of %d; supply an adjustment set manually instead of exhaustive search",
			len(candidates), a.cfg.MaxCandidateVertices))
	}

	validMasks, err := a.enumerateBackdoorSets(ctx, candidates, backdoorPaths)
	if err != nil {
		return nil, err
	}
	allValid, minimal := collectSets(candidates, validMasks)

	frontdoor, err := a.frontdoorSets(ctx, treatment, outcome)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Treatment:        treatment,
		Outcome:          outcome,
		AllValidBackdoor: allValid,
		MinimalBackdoor:  minimal,
		ValidFrontdoor:   frontdoor,
		Identifiable:     len(allValid) > 0 || len(frontdoor) > 0,
	}
	res.Recommended = recommend(minimal, frontdoor)
	return res, nil
}

// backdoorPaths returns every simple treatment–outcome path whose
// first edge points into the treatment.
func (a *Analyzer) backdoorPaths(treatment, outcome core.VariableKey) ([][]core.VariableKey, error) {
	paths, err := a.dag.AllPaths(treatment, outcome)
	if err != nil {
		return nil, err
	}
	var backdoor [][]core.VariableKey
	for _, p := range paths {
		if len(p) >= 2 && a.dag.HasEdge(p[1], treatment) {
			backdoor = append(backdoor, p)
		}
	}
	return backdoor, nil
}

// backdoorCandidates returns the sorted non-descendants of the
// treatment, excluding treatment and outcome themselves.
func (a *Analyzer) backdoorCandidates(treatment, outcome core.VariableKey) ([]core.VariableKey, error) {
	descSet, err := a.descendantSet(treatment)
	if err != nil {
		return nil, err
	}
	var candidates []core.VariableKey
	for _, v := range a.dag.Vertices() {
		if v == treatment || v == outcome || descSet[v] {
			continue
		}
		candidates = append(candidates, v)
	}
	return core.SortKeys(candidates), nil
}

// enumerateBackdoorSets checks every subset of the candidates in
// parallel and returns the bitmasks of valid backdoor sets.
func (a *Analyzer) enumerateBackdoorSets(ctx context.Context, candidates []core.VariableKey, backdoorPaths [][]core.VariableKey) ([]uint32, error) {
	total := 1 << len(candidates)
	valid := make([]bool, total)

	workers := runtime.GOMAXPROCS(0)
	if workers > total {
		workers = total
	}
	chunk := (total + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > total {
			hi = total
		}
		g.Go(func() error {
			for mask := lo; mask < hi; mask++ {
				if mask%256 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				z := maskSet(candidates, uint32(mask))
				if a.blocksAll(backdoorPaths, z) {
					valid[mask] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "backdoor search canceled")
	}

	var masks []uint32
	for mask := 0; mask < total; mask++ {
		if valid[mask] {
			masks = append(masks, uint32(mask))
		}
	}
	return masks, nil
}

// blocksAll reports whether every backdoor path is blocked given z.
// Candidates already exclude descendants of the treatment, so a
// subset built from them never violates the descendant condition.
func (a *Analyzer) blocksAll(paths [][]core.VariableKey, z map[core.VariableKey]bool) bool {
	for _, p := range paths {
		if !a.pathBlocked(p, z) {
			return false
		}
	}
	return true
}

// pathBlocked applies d-separation-style blocking: the path is
// blocked given z iff some interior non-collider is in z, or some
// interior collider has neither itself nor any descendant in z.
// A path without interior vertices cannot be blocked.
func (a *Analyzer) pathBlocked(path []core.VariableKey, z map[core.VariableKey]bool) bool {
	for i := 1; i < len(path)-1; i++ {
		v := path[i]
		if a.dag.IsCollider(path[i-1], v, path[i+1]) {
			if !z[v] && !a.descendantIn(v, z) {
				return true
			}
		} else if z[v] {
			return true
		}
	}
	return false
}

func (a *Analyzer) descendantIn(v core.VariableKey, z map[core.VariableKey]bool) bool {
	descSet, err := a.descendantSet(v)
	if err != nil {
		return false
	}
	for k := range z {
		if descSet[k] {
			return true
		}
	}
	return false
}

func (a *Analyzer) descendantSet(v core.VariableKey) (map[core.VariableKey]bool, error) {
	a.descMu.Lock()
	defer a.descMu.Unlock()
	if set, ok := a.desc[v]; ok {
		return set, nil
	}
	desc, err := a.dag.Descendants(v)
	if err != nil {
		return nil, err
	}
	set := core.KeySet(desc)
	a.desc[v] = set
	return set, nil
}

// frontdoorSets enumerates mediator subsets drawn from the interior
// vertices of directed treatment→outcome paths. A set M is valid iff
// it intercepts every directed path, no backdoor path runs from the
// treatment into any mediator, and the treatment blocks every
// backdoor path from each mediator to the outcome.
func (a *Analyzer) frontdoorSets(ctx context.Context, treatment, outcome core.VariableKey) ([][]core.VariableKey, error) {
	directed, err := a.dag.DirectedPaths(treatment, outcome)
	if err != nil {
		return nil, err
	}
	if len(directed) == 0 {
		return nil, nil
	}

	interior := map[core.VariableKey]bool{}
	for _, p := range directed {
		for i := 1; i < len(p)-1; i++ {
			interior[p[i]] = true
		}
	}
	var candidates []core.VariableKey
	for v := range interior {
		candidates = append(candidates, v)
	}
	core.SortKeys(candidates)
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > a.cfg.MaxCandidateVertices {
		return nil, errors.ComplexityLimit(fmt.Sprintf(
			"%d mediator candidates exceed the ceiling of %d", len(candidates), a.cfg.MaxCandidateVertices))
	}

	var sets [][]core.VariableKey
	empty := map[core.VariableKey]bool{}
	for mask := uint32(1); mask < uint32(1)<<len(candidates); mask++ {
		if mask%256 == 0 && ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "frontdoor search canceled")
		}
		m := maskSet(candidates, mask)

		if !interceptsAll(directed, m) {
			continue
		}
		ok := true
		for med := range m {
			// No unblocked backdoor path from treatment into the mediator.
			xPaths, err := a.dag.AllPaths(treatment, med)
			if err != nil {
				return nil, err
			}
			for _, p := range xPaths {
				if len(p) >= 2 && a.dag.HasEdge(p[1], treatment) && !a.pathBlocked(p, empty) {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
			// Treatment blocks every backdoor path mediator→outcome.
			mPaths, err := a.dag.AllPaths(med, outcome)
			if err != nil {
				return nil, err
			}
			xOnly := map[core.VariableKey]bool{treatment: true}
			for _, p := range mPaths {
				if len(p) >= 2 && a.dag.HasEdge(p[1], med) && !a.pathBlocked(p, xOnly) {
					ok = false
					break
				}
			}
			if !ok {
				break
			}
		}
		if ok {
			sets = append(sets, maskKeys(candidates, mask))
		}
	}
	sortSets(sets)
	return sets, nil
}

func interceptsAll(directed [][]core.VariableKey, m map[core.VariableKey]bool) bool {
	for _, p := range directed {
		hit := false
		for i := 1; i < len(p)-1; i++ {
			if m[p[i]] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// collectSets converts valid bitmasks into sorted vertex sets and
// extracts the inclusion-minimal ones. Masks are processed in
// ascending popcount order: a set is minimal iff no previously found
// minimal set is a proper subset, which is exact because any valid
// proper subset contains an inclusion-minimal valid set.
func collectSets(candidates []core.VariableKey, masks []uint32) (all, minimal [][]core.VariableKey) {
	ordered := make([]uint32, len(masks))
	copy(ordered, masks)
	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := bits.OnesCount32(ordered[i]), bits.OnesCount32(ordered[j])
		if pi != pj {
			return pi < pj
		}
		return ordered[i] < ordered[j]
	})

	var minimalMasks []uint32
	for _, m := range ordered {
		all = append(all, maskKeys(candidates, m))
		isMinimal := true
		for _, prev := range minimalMasks {
			if prev != m && prev&m == prev {
				isMinimal = false
				break
			}
		}
		if isMinimal {
			minimalMasks = append(minimalMasks, m)
			minimal = append(minimal, maskKeys(candidates, m))
		}
	}
	sortSets(all)
	sortSets(minimal)
	return all, minimal
}

func maskSet(candidates []core.VariableKey, mask uint32) map[core.VariableKey]bool {
	set := make(map[core.VariableKey]bool, bits.OnesCount32(mask))
	for i, v := range candidates {
		if mask&(1<<uint(i)) != 0 {
			set[v] = true
		}
	}
	return set
}

func maskKeys(candidates []core.VariableKey, mask uint32) []core.VariableKey {
	keys := make([]core.VariableKey, 0, bits.OnesCount32(mask))
	for i, v := range candidates {
		if mask&(1<<uint(i)) != 0 {
			keys = append(keys, v)
		}
	}
	return keys
}

func sortSets(sets [][]core.VariableKey) {
	sort.Slice(sets, func(i, j int) bool {
		if len(sets[i]) != len(sets[j]) {
			return len(sets[i]) < len(sets[j])
		}
		for k := range sets[i] {
			if sets[i][k] != sets[j][k] {
				return sets[i][k] < sets[j][k]
			}
		}
		return false
	})
}

func recommend(minimalBackdoor, frontdoor [][]core.VariableKey) *Recommendation {
	if len(minimalBackdoor) > 0 {
		return &Recommendation{Strategy: StrategyBackdoor, Set: minimalBackdoor[0]}
	}
	if len(frontdoor) > 0 {
		return &Recommendation{Strategy: StrategyFrontdoor, Set: frontdoor[0]}
	}
	return nil
}
