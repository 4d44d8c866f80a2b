package ivtest

import (
	"math"
	"testing"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/internal/config"
	"causalscope/internal/errors"
	"causalscope/internal/testkit"
)

func runTest(t *testing.T, tbl *dataset.Table, instruments ...core.VariableKey) *Result {
	t.Helper()
	res, err := New(config.Default().IV).Test(tbl, testkit.KeyTreatment, testkit.KeyOutcome, instruments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func instrument(t *testing.T, res *Result, key core.VariableKey) InstrumentResult {
	t.Helper()
	for _, inst := range res.PerInstrument {
		if inst.Instrument == key {
			return inst
		}
	}
	t.Fatalf("instrument %s not in result", key)
	return InstrumentResult{}
}

func TestStrongAndWeakClassification(t *testing.T) {
	tbl := testkit.IVDataset(1500, 21, 1.0)
	res := runTest(t, tbl, testkit.KeyIVStrong, testkit.KeyIVWeak)

	strong := instrument(t, res, testkit.KeyIVStrong)
	if !strong.IsStrong || strong.Strength != StrengthStrong {
		t.Errorf("expected the structural instrument to classify strong, got %+v", strong)
	}
	if strong.FStatistic < config.Default().IV.StrongFThreshold {
		t.Errorf("expected F above %.0f, got %.2f", config.Default().IV.StrongFThreshold, strong.FStatistic)
	}
	if strong.PValue > 0.01 {
		t.Errorf("strong first stage should be highly significant, p=%.4f", strong.PValue)
	}

	weak := instrument(t, res, testkit.KeyIVWeak)
	if !weak.IsWeak || weak.Strength != StrengthWeak {
		t.Errorf("expected the noise column to classify weak, got %+v", weak)
	}
}

func TestIVReducesConfoundingBias(t *testing.T) {
	const trueEffect = 1.0
	tbl := testkit.IVDataset(3000, 33, trueEffect)
	res := runTest(t, tbl, testkit.KeyIVStrong)

	olsErr := math.Abs(res.OLSEstimate - trueEffect)
	ivErr := math.Abs(res.IVEstimate - trueEffect)
	if ivErr >= olsErr {
		t.Errorf("2SLS error %.3f should beat confounded OLS error %.3f", ivErr, olsErr)
	}
	if res.Bias != res.OLSEstimate-res.IVEstimate {
		t.Errorf("bias must equal OLS minus IV, got %.4f", res.Bias)
	}
	// Positive confounding (u raises both t and y) biases OLS upward.
	if res.OLSEstimate <= trueEffect {
		t.Errorf("expected OLS to overshoot %.1f, got %.3f", trueEffect, res.OLSEstimate)
	}
}

func TestDegenerateInstrumentDoesNotFailSiblings(t *testing.T) {
	base := testkit.IVDataset(400, 5, 1.0)
	cols := map[core.VariableKey][]float64{}
	for _, k := range base.Keys() {
		col, _ := base.Column(k)
		cols[k] = col
	}
	constant := make([]float64, base.Len())
	cols["iv_constant"] = constant
	tbl, err := dataset.New(cols)
	if err != nil {
		t.Fatalf("building table: %v", err)
	}

	res := runTest(t, tbl, "iv_constant", testkit.KeyIVStrong)

	bad := instrument(t, res, "iv_constant")
	if bad.Error == "" {
		t.Error("zero-variance instrument must carry an error")
	}
	good := instrument(t, res, testkit.KeyIVStrong)
	if good.Error != "" {
		t.Errorf("sibling instrument must still run, got error %q", good.Error)
	}
	if res.IVEstimate == 0 {
		t.Error("2SLS must fall through to the first usable instrument")
	}
}

func TestNoInstruments(t *testing.T) {
	tbl := testkit.IVDataset(100, 1, 1.0)
	_, err := New(config.Default().IV).Test(tbl, testkit.KeyTreatment, testkit.KeyOutcome, nil)
	if !errors.IsStructural(err) {
		t.Fatalf("expected structural error for empty instrument list, got %v", err)
	}
}

func TestTooFewRows(t *testing.T) {
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		testkit.KeyTreatment: {1, 2},
		testkit.KeyOutcome:   {1, 2},
		testkit.KeyIVStrong:  {1, 2},
	})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	_, err = New(config.Default().IV).Test(tbl, testkit.KeyTreatment, testkit.KeyOutcome,
		[]core.VariableKey{testkit.KeyIVStrong})
	if !errors.IsInsufficientData(err) {
		t.Fatalf("expected insufficient-data error, got %v", err)
	}
}

func TestZeroVarianceTreatmentAborts(t *testing.T) {
	n := 50
	constant := make([]float64, n)
	varying := make([]float64, n)
	for i := range varying {
		varying[i] = float64(i)
	}
	tbl, err := dataset.New(map[core.VariableKey][]float64{
		testkit.KeyTreatment: constant,
		testkit.KeyOutcome:   varying,
		testkit.KeyIVStrong:  varying,
	})
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	_, err = New(config.Default().IV).Test(tbl, testkit.KeyTreatment, testkit.KeyOutcome,
		[]core.VariableKey{testkit.KeyIVStrong})
	if !errors.IsDegenerateInput(err) {
		t.Fatalf("expected degenerate-input error, got %v", err)
	}
	if errors.GetScope(err) != string(testkit.KeyTreatment) {
		t.Errorf("expected the error scoped to the treatment column, got %q", errors.GetScope(err))
	}
}
