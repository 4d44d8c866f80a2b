package identify

import (
	"context"
	"fmt"
	"testing"

	"causalscope/domain/core"
	"causalscope/domain/graph"
	"causalscope/internal/config"
	"causalscope/internal/errors"
	"causalscope/internal/testkit"
)

func mustDAG(t *testing.T, edges []graph.Edge) *graph.DAG {
	t.Helper()
	d, err := graph.New(edges)
	if err != nil {
		t.Fatalf("building graph: %v", err)
	}
	return d
}

func analyze(t *testing.T, edges []graph.Edge) *Result {
	t.Helper()
	a := New(mustDAG(t, edges), config.Default().Identify)
	res, err := a.Analyze(context.Background(), "X", "Y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func containsSet(sets [][]core.VariableKey, want []core.VariableKey) bool {
	for _, s := range sets {
		if len(s) != len(want) {
			continue
		}
		match := true
		for i := range s {
			if s[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestConfounderTriangle(t *testing.T) {
	res := analyze(t, testkit.ConfounderTriangle())

	if !res.Identifiable {
		t.Fatal("the confounder triangle is identifiable via {Z}")
	}
	if len(res.MinimalBackdoor) != 1 || !containsSet(res.MinimalBackdoor, []core.VariableKey{"Z"}) {
		t.Errorf("expected minimal sets [[Z]], got %v", res.MinimalBackdoor)
	}
	if containsSet(res.AllValidBackdoor, nil) {
		t.Error("the empty set must not block the X←Z→Y path")
	}
	if res.Recommended == nil || res.Recommended.Strategy != StrategyBackdoor {
		t.Errorf("expected a backdoor recommendation, got %v", res.Recommended)
	}
	if len(res.ValidFrontdoor) != 0 {
		t.Errorf("X→Y has no interior mediator, got frontdoor sets %v", res.ValidFrontdoor)
	}
}

func TestMBiasColliderNeverInMinimalSet(t *testing.T) {
	res := analyze(t, testkit.MBiasGraph())

	if !res.Identifiable {
		t.Fatal("the M-bias graph is identifiable (the collider already blocks the path)")
	}
	for _, s := range res.MinimalBackdoor {
		for _, v := range s {
			if v == "Z" {
				t.Fatalf("collider Z must not appear in a minimal set, got %v", res.MinimalBackdoor)
			}
		}
	}
	// The empty set is valid: the only backdoor path runs through the
	// collider Z and is blocked without any adjustment.
	if !containsSet(res.AllValidBackdoor, nil) && !containsSet(res.AllValidBackdoor, []core.VariableKey{}) {
		t.Error("expected the empty set to be a valid backdoor set")
	}
	// {Z} alone opens the path and must be invalid.
	if containsSet(res.AllValidBackdoor, []core.VariableKey{"Z"}) {
		t.Error("conditioning on the collider alone must not be a valid set")
	}
}

func TestFrontdoorMediator(t *testing.T) {
	res := analyze(t, testkit.FrontdoorGraph())

	if !containsSet(res.ValidFrontdoor, []core.VariableKey{"M"}) {
		t.Errorf("expected frontdoor sets to include [M], got %v", res.ValidFrontdoor)
	}
	if !res.Identifiable {
		t.Error("the frontdoor graph is identifiable")
	}
}

func TestFrontdoorRecommendedWhenNoBackdoorSet(t *testing.T) {
	res := analyze(t, testkit.FrontdoorGraph())
	if res.Recommended == nil {
		t.Fatal("expected a recommendation")
	}
	if res.Recommended.Strategy != StrategyBackdoor {
		t.Errorf("minimal backdoor sets take precedence, got %s", res.Recommended.Strategy)
	}

	if recommend(nil, res.ValidFrontdoor) == nil ||
		recommend(nil, res.ValidFrontdoor).Strategy != StrategyFrontdoor {
		t.Error("with no backdoor sets the smallest frontdoor set is recommended")
	}
	if recommend(nil, nil) != nil {
		t.Error("no recommendation without any valid set")
	}
}

func TestTwoConfoundersRequireBoth(t *testing.T) {
	res := analyze(t, []graph.Edge{
		{From: "Z1", To: "X"}, {From: "Z1", To: "Y"},
		{From: "Z2", To: "X"}, {From: "Z2", To: "Y"},
		{From: "X", To: "Y"},
	})

	if len(res.MinimalBackdoor) != 1 ||
		!containsSet(res.MinimalBackdoor, []core.VariableKey{"Z1", "Z2"}) {
		t.Errorf("expected the single minimal set [Z1 Z2], got %v", res.MinimalBackdoor)
	}
	if containsSet(res.AllValidBackdoor, []core.VariableKey{"Z1"}) {
		t.Error("{Z1} leaves the Z2 path open and must be invalid")
	}
}

func TestMinimalSetsHaveNoValidProperSubset(t *testing.T) {
	res := analyze(t, testkit.MBiasGraph())

	subset := func(a, b []core.VariableKey) bool {
		set := core.KeySet(b)
		for _, v := range a {
			if !set[v] {
				return false
			}
		}
		return true
	}
	for _, m := range res.MinimalBackdoor {
		for _, v := range res.AllValidBackdoor {
			if len(v) < len(m) && subset(v, m) {
				t.Errorf("minimal set %v has valid proper subset %v", m, v)
			}
		}
	}
	// Every valid set contains some minimal set.
	for _, v := range res.AllValidBackdoor {
		found := false
		for _, m := range res.MinimalBackdoor {
			if subset(m, v) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("valid set %v contains no minimal set", v)
		}
	}
}

func TestCandidateCeiling(t *testing.T) {
	var edges []graph.Edge
	for i := 0; i < 25; i++ {
		c := core.VariableKey(fmt.Sprintf("C%02d", i))
		edges = append(edges, graph.Edge{From: c, To: "X"}, graph.Edge{From: c, To: "Y"})
	}
	edges = append(edges, graph.Edge{From: "X", To: "Y"})

	a := New(mustDAG(t, edges), config.Default().Identify)
	_, err := a.Analyze(context.Background(), "X", "Y")
	if !errors.IsComplexityLimit(err) {
		t.Fatalf("expected complexity-limit error for 25 candidates, got %v", err)
	}
}

func TestAnalyzeUnknownVertex(t *testing.T) {
	a := New(mustDAG(t, testkit.ConfounderTriangle()), config.Default().Identify)
	_, err := a.Analyze(context.Background(), "X", "missing")
	if !errors.IsVertexNotFound(err) {
		t.Fatalf("expected vertex-not-found, got %v", err)
	}
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	// Enough candidates to make the subset enumeration pass the
	// cancellation checkpoints.
	var edges []graph.Edge
	for i := 0; i < 12; i++ {
		c := core.VariableKey(fmt.Sprintf("C%02d", i))
		edges = append(edges, graph.Edge{From: c, To: "X"}, graph.Edge{From: c, To: "Y"})
	}
	edges = append(edges, graph.Edge{From: "X", To: "Y"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(mustDAG(t, edges), config.Default().Identify)
	if _, err := a.Analyze(ctx, "X", "Y"); err == nil {
		t.Fatal("expected an error from a canceled context")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	first := analyze(t, testkit.MBiasGraph())
	second := analyze(t, testkit.MBiasGraph())

	if len(first.AllValidBackdoor) != len(second.AllValidBackdoor) {
		t.Fatal("repeated analysis must return the same valid sets")
	}
	for i := range first.AllValidBackdoor {
		a, b := first.AllValidBackdoor[i], second.AllValidBackdoor[i]
		if len(a) != len(b) {
			t.Fatalf("set ordering differs at %d: %v vs %v", i, a, b)
		}
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("set ordering differs at %d: %v vs %v", i, a, b)
			}
		}
	}
}
