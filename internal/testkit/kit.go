package testkit

import (
	"math"
	"math/rand"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/domain/graph"
)

// Column keys shared by the synthetic generators.
const (
	KeyTreatment  core.VariableKey = "treatment"
	KeyOutcome    core.VariableKey = "outcome"
	KeyConfounder core.VariableKey = "confounder"
	KeyCovariate  core.VariableKey = "covariate"
	KeyIVStrong   core.VariableKey = "iv_strong"
	KeyIVWeak     core.VariableKey = "iv_weak"
)

// Graph fixtures

// ConfounderTriangle is the classic Z→X, Z→Y, X→Y graph; {Z} is the
// unique minimal backdoor set for X on Y.
func ConfounderTriangle() []graph.Edge {
	return []graph.Edge{
		{From: "Z", To: "X", Weight: 1},
		{From: "Z", To: "Y", Weight: 1},
		{From: "X", To: "Y", Weight: 1},
	}
}

// MBiasGraph has a collider Z between two latent causes; adjusting
// for Z opens a spurious path.
func MBiasGraph() []graph.Edge {
	return []graph.Edge{
		{From: "U1", To: "Z", Weight: 1},
		{From: "U2", To: "Z", Weight: 1},
		{From: "U1", To: "X", Weight: 1},
		{From: "U2", To: "Y", Weight: 1},
		{From: "X", To: "Y", Weight: 1},
	}
}

// FrontdoorGraph has an unobserved confounder U and a mediator M that
// satisfies the frontdoor criterion for X on Y.
func FrontdoorGraph() []graph.Edge {
	return []graph.Edge{
		{From: "U", To: "X", Weight: 1},
		{From: "U", To: "Y", Weight: 1},
		{From: "X", To: "M", Weight: 1},
		{From: "M", To: "Y", Weight: 1},
	}
}

// Dataset fixtures

// ConfoundedDataset generates treatment and outcome sharing an
// observed confounder. The structural effect of treatment on outcome
// is exactly trueEffect per unit.
func ConfoundedDataset(n int, seed int64, trueEffect float64) *dataset.Table {
	rng := rand.New(rand.NewSource(seed))
	z := make([]float64, n)
	t := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = rng.NormFloat64()
		t[i] = 0.8*z[i] + 0.6*rng.NormFloat64()
		y[i] = trueEffect*t[i] + 1.5*z[i] + rng.NormFloat64()
	}
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		KeyTreatment:  t,
		KeyOutcome:    y,
		KeyConfounder: z,
	})
	if err != nil {
		panic(err)
	}
	return tbl
}

// CleanDataset generates a zero-confounding dataset with a strong
// instrument, a balanced independent covariate and a known structural
// slope. Built to clear all ten quality gates.
func CleanDataset(n int, seed int64, trueEffect float64) *dataset.Table {
	rng := rand.New(rand.NewSource(seed))
	zi := make([]float64, n)
	x := make([]float64, n)
	t := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		zi[i] = rng.NormFloat64()
		x[i] = rng.NormFloat64()
		t[i] = zi[i] + 0.5*rng.NormFloat64()
		y[i] = trueEffect*t[i] + x[i] + rng.NormFloat64()
	}
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		KeyTreatment: t,
		KeyOutcome:   y,
		KeyCovariate: x,
		KeyIVStrong:  zi,
	})
	if err != nil {
		panic(err)
	}
	return tbl
}

// IVDataset generates a confounded treatment/outcome pair with one
// strong instrument (first-stage correlation above 0.6, exclusion
// satisfied) and one independent noise column posing as an
// instrument.
func IVDataset(n int, seed int64, trueEffect float64) *dataset.Table {
	rng := rand.New(rand.NewSource(seed))
	u := make([]float64, n)
	zs := make([]float64, n)
	zw := make([]float64, n)
	t := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		u[i] = rng.NormFloat64()
		zs[i] = rng.NormFloat64()
		zw[i] = rng.NormFloat64()
		t[i] = zs[i] + u[i] + 0.3*rng.NormFloat64()
		y[i] = trueEffect*t[i] + 2.0*u[i] + rng.NormFloat64()
	}
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		KeyTreatment: t,
		KeyOutcome:   y,
		KeyIVStrong:  zs,
		KeyIVWeak:    zw,
	})
	if err != nil {
		panic(err)
	}
	return tbl
}

// ViolatingDataset generates a small, dirty dataset engineered to
// fail the majority of the quality gates: undersized arms, a
// covariate entangled with treatment, heavy-tailed heteroscedastic
// noise, missing covariate values and a useless instrument.
func ViolatingDataset(seed int64) *dataset.Table {
	const n = 60
	rng := rand.New(rand.NewSource(seed))
	t := make([]float64, n)
	y := make([]float64, n)
	x := make([]float64, n)
	zw := make([]float64, n)
	for i := 0; i < n; i++ {
		t[i] = rng.NormFloat64()
		x[i] = 2.0*t[i] + 0.1*rng.NormFloat64() // imbalanced covariate
		// Outcome unrelated to treatment, heteroscedastic and
		// heavy-tailed.
		scale := 0.5 + math.Abs(t[i])*2
		y[i] = math.Exp(rng.NormFloat64()) * scale
		zw[i] = rng.NormFloat64() // independent of treatment
		if i%4 == 0 {
			x[i] = math.NaN() // 25% missing
		}
	}
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		KeyTreatment: t,
		KeyOutcome:   y,
		KeyCovariate: x,
		KeyIVWeak:    zw,
	})
	if err != nil {
		panic(err)
	}
	return tbl
}
