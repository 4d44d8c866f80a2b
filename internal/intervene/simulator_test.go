package intervene

import (
	"math"
	"math/rand"
	"testing"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/internal/config"
	"causalscope/internal/errors"
	"causalscope/internal/testkit"
)

func simulate(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := New(config.Default().Intervene).Simulate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func TestSameSeedIsBitIdentical(t *testing.T) {
	tbl := testkit.ConfoundedDataset(800, 42, 2.0)
	req := Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Adjust:    []core.VariableKey{testkit.KeyConfounder},
		Seed:      7,
	}

	first := simulate(t, req)
	second := simulate(t, req)

	if first.ATE == nil || second.ATE == nil {
		t.Fatal("expected an estimable ATE on both runs")
	}
	if first.ATE.Estimate != second.ATE.Estimate {
		t.Errorf("ATE differs across runs: %v vs %v", first.ATE.Estimate, second.ATE.Estimate)
	}
	if first.ATE.CI != second.ATE.CI {
		t.Errorf("bootstrap CI differs across runs: %+v vs %+v", first.ATE.CI, second.ATE.CI)
	}
	if first.ATE.Resamples != second.ATE.Resamples {
		t.Errorf("resample count differs: %d vs %d", first.ATE.Resamples, second.ATE.Resamples)
	}
}

func TestAdjustmentRemovesConfounding(t *testing.T) {
	tbl := testkit.ConfoundedDataset(2000, 11, 2.0)

	naive := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Seed:      1,
	})
	adjusted := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Adjust:    []core.VariableKey{testkit.KeyConfounder},
		Seed:      1,
	})

	if naive.ATE == nil || adjusted.ATE == nil {
		t.Fatal("expected estimable ATEs")
	}
	// The confounder inflates the naive high/low contrast; stratifying
	// on it must pull the estimate down.
	if adjusted.ATE.Estimate >= naive.ATE.Estimate {
		t.Errorf("adjusted ATE %.3f should be below naive ATE %.3f",
			adjusted.ATE.Estimate, naive.ATE.Estimate)
	}
	if adjusted.ATE.Estimate <= 0 {
		t.Errorf("adjusted ATE should stay positive, got %.3f", adjusted.ATE.Estimate)
	}
}

func TestBootstrapCIBracketsEstimate(t *testing.T) {
	tbl := testkit.ConfoundedDataset(600, 3, 1.5)
	res := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Seed:      9,
	})

	if res.ATE == nil {
		t.Fatal("expected an estimable ATE")
	}
	if res.ATE.CI.Lower > res.ATE.Estimate || res.ATE.CI.Upper < res.ATE.Estimate {
		t.Errorf("CI [%.3f, %.3f] does not bracket the estimate %.3f",
			res.ATE.CI.Lower, res.ATE.CI.Upper, res.ATE.Estimate)
	}
	if res.ATE.Resamples != config.Default().Intervene.BootstrapSamples {
		t.Errorf("expected %d usable resamples, got %d",
			config.Default().Intervene.BootstrapSamples, res.ATE.Resamples)
	}
}

func TestBootstrapCICoverageOverRepeatedTrials(t *testing.T) {
	if testing.Short() {
		t.Skip("repeated-trial coverage check")
	}
	cfg := config.Default().Intervene
	cfg.BootstrapSamples = 200

	// With t ~ N(0,1) and y = t + noise, the top-vs-bottom-quartile
	// contrast has the closed form 2*phi(z_0.75)/0.25 = 2.5422, so the
	// interval's long-run coverage is checkable against a known truth.
	const truth = 2.5422
	const trials = 60
	covered := 0
	for trial := 0; trial < trials; trial++ {
		rng := rand.New(rand.NewSource(int64(1000 + trial)))
		n := 300
		tv := make([]float64, n)
		yv := make([]float64, n)
		for i := 0; i < n; i++ {
			tv[i] = rng.NormFloat64()
			yv[i] = tv[i] + rng.NormFloat64()
		}
		tbl, err := dataset.New(map[core.VariableKey][]float64{
			testkit.KeyTreatment: tv,
			testkit.KeyOutcome:   yv,
		})
		if err != nil {
			t.Fatalf("trial %d: building table: %v", trial, err)
		}

		res, err := New(cfg).Simulate(Request{
			Table:     tbl,
			Treatment: testkit.KeyTreatment,
			Outcome:   testkit.KeyOutcome,
			Seed:      int64(trial),
		})
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if res.ATE == nil {
			t.Fatalf("trial %d: ATE must be estimable at n=%d", trial, n)
		}
		if res.ATE.CI.Lower <= truth && truth <= res.ATE.CI.Upper {
			covered++
		}
	}
	// Nominal coverage is 95%; 80% leaves room for the sampling noise
	// of 60 trials and the fixed-cutpoint approximation in the resampler.
	if covered < 48 {
		t.Errorf("95%% CI covered the true contrast in only %d of %d trials", covered, trials)
	}
}

func TestSensitivityBoundsWidenWithGamma(t *testing.T) {
	tbl := testkit.ConfoundedDataset(600, 5, 1.0)
	res := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Seed:      2,
	})

	if res.ATE == nil {
		t.Fatal("expected an estimable ATE")
	}
	if len(res.Sensitivity) != 21 {
		t.Fatalf("expected 21 grid points from 1.0 to 3.0 in steps of 0.1, got %d", len(res.Sensitivity))
	}
	first := res.Sensitivity[0]
	if first.Gamma != 1.0 || first.Lower != res.ATE.Estimate || first.Upper != res.ATE.Estimate {
		t.Errorf("at Γ=1 the bounds must collapse to the estimate, got %+v", first)
	}
	last := res.Sensitivity[len(res.Sensitivity)-1]
	if last.Gamma != 3.0 {
		t.Errorf("expected the grid to end at Γ=3.0, got %.1f", last.Gamma)
	}
	for i := 1; i < len(res.Sensitivity); i++ {
		prev, cur := res.Sensitivity[i-1], res.Sensitivity[i]
		if cur.Upper-cur.Lower < prev.Upper-prev.Lower {
			t.Errorf("bound width must be non-decreasing in Γ, shrank at %.1f", cur.Gamma)
		}
	}
}

func TestUnderpoweredStrataReportedNotZeroed(t *testing.T) {
	tbl := testkit.ConfoundedDataset(16, 8, 1.0)
	res := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Adjust:    []core.VariableKey{testkit.KeyConfounder},
		Seed:      4,
	})

	if res.ATE != nil {
		t.Error("16 rows over 4 strata cannot power both arms, ATE must be absent")
	}
	quantities := map[string]bool{}
	for _, q := range res.Unestimable {
		quantities[q.Quantity] = true
		if q.Reason == "" {
			t.Errorf("unestimable %s carries no reason", q.Quantity)
		}
	}
	if !quantities["ate"] {
		t.Errorf("expected ate among unestimable quantities, got %v", res.Unestimable)
	}
	if !quantities["sensitivity"] {
		t.Errorf("sensitivity requires the ATE and must be reported unestimable, got %v", res.Unestimable)
	}
	if len(res.Observational) == 0 {
		t.Error("the observational curve needs no strata and must still compute")
	}
}

func TestNoCompleteRows(t *testing.T) {
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		testkit.KeyTreatment: {math.NaN(), math.NaN()},
		testkit.KeyOutcome:   {1, 2},
	})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}

	_, err = New(config.Default().Intervene).Simulate(Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
	})
	if !errors.IsInsufficientData(err) {
		t.Fatalf("expected insufficient-data error, got %v", err)
	}
}

func TestUnknownAdjustColumn(t *testing.T) {
	tbl := testkit.ConfoundedDataset(50, 1, 1.0)
	_, err := New(config.Default().Intervene).Simulate(Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Adjust:    []core.VariableKey{"not_a_column"},
	})
	if !errors.IsVertexNotFound(err) {
		t.Fatalf("expected vertex-not-found, got %v", err)
	}
}

func TestObservationalCurveCoversAllRows(t *testing.T) {
	tbl := testkit.ConfoundedDataset(500, 6, 1.0)
	res := simulate(t, Request{
		Table:     tbl,
		Treatment: testkit.KeyTreatment,
		Outcome:   testkit.KeyOutcome,
		Seed:      1,
	})

	total := 0
	for _, p := range res.Observational {
		total += p.N
		if p.TreatLow > p.TreatHigh {
			t.Errorf("bin %d has inverted range [%.3f, %.3f]", p.Bin, p.TreatLow, p.TreatHigh)
		}
	}
	if total != 500 {
		t.Errorf("observational bins must partition the rows, covered %d of 500", total)
	}
}
