package ivtest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/internal/config"
	"causalscope/internal/errors"
)

// Strength classifies an instrument by its first-stage F-statistic.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// InstrumentResult holds the first-stage diagnostics for one
// instrument. A degenerate instrument carries its error and is
// excluded from the 2SLS stage; sibling instruments still run.
type InstrumentResult struct {
	Instrument  core.VariableKey `json:"instrument"`
	FStatistic  float64          `json:"f_statistic"`
	PValue      float64          `json:"p_value"`
	Correlation float64          `json:"correlation"`
	IsWeak      bool             `json:"is_weak"`
	IsStrong    bool             `json:"is_strong"`
	Strength    Strength         `json:"strength"`
	Error       string           `json:"error,omitempty"`

	slope, intercept float64
	usable           bool
}

// Result compares the 2SLS estimate against the naive OLS benchmark.
type Result struct {
	PerInstrument []InstrumentResult `json:"per_instrument"`
	OLSEstimate   float64            `json:"ols_estimate"`
	IVEstimate    float64            `json:"iv_estimate"`
	Bias          float64            `json:"bias"`
}

// Tester runs first-stage regressions, F-statistics and a 2SLS
// comparison for one or more candidate instruments.
type Tester struct {
	cfg config.IVConfig
}

// New creates a tester with the given classification thresholds.
func New(cfg config.IVConfig) *Tester {
	return &Tester{cfg: cfg}
}

// Test evaluates every instrument against the treatment and compares
// 2SLS (built from the first usable instrument) against unadjusted
// OLS. A zero-variance treatment or outcome aborts the call; a
// zero-variance instrument fails only that instrument.
func (tr *Tester) Test(tbl *dataset.Table, treatment, outcome core.VariableKey, instruments []core.VariableKey) (*Result, error) {
	if len(instruments) == 0 {
		return nil, errors.Structural("at least one instrument is required")
	}

	cols := append([]core.VariableKey{treatment, outcome}, instruments...)
	rows, err := tbl.CompleteRows(cols...)
	if err != nil {
		return nil, err
	}
	if len(rows) < 3 {
		return nil, errors.InsufficientData("iv_test",
			fmt.Sprintf("need at least 3 complete observations, have %d", len(rows)))
	}

	tCol, _ := tbl.Column(treatment)
	yCol, _ := tbl.Column(outcome)
	t := dataset.Gather(tCol, rows)
	y := dataset.Gather(yCol, rows)

	if stat.Variance(t, nil) == 0 {
		return nil, errors.DegenerateInput(string(treatment), "treatment has zero variance")
	}
	if stat.Variance(y, nil) == 0 {
		return nil, errors.DegenerateInput(string(outcome), "outcome has zero variance")
	}

	res := &Result{}
	for _, inst := range instruments {
		res.PerInstrument = append(res.PerInstrument, tr.firstStage(tbl, rows, inst, t))
	}

	// OLS benchmark: outcome ~ 1 + treatment, no adjustment.
	_, olsSlope := stat.LinearRegression(t, y, nil, false)
	res.OLSEstimate = olsSlope

	// 2SLS from the first usable instrument's fitted treatment.
	iv, err := tr.secondStage(tbl, rows, res.PerInstrument, y)
	if err != nil {
		return nil, err
	}
	res.IVEstimate = iv
	res.Bias = res.OLSEstimate - res.IVEstimate
	return res, nil
}

// firstStage fits treatment ~ 1 + instrument and derives the
// F-statistic with df (1, n-2).
func (tr *Tester) firstStage(tbl *dataset.Table, rows []int, inst core.VariableKey, t []float64) InstrumentResult {
	out := InstrumentResult{Instrument: inst}

	col, err := tbl.Column(inst)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	z := dataset.Gather(col, rows)
	if stat.Variance(z, nil) == 0 {
		out.Error = errors.DegenerateInput(string(inst), "instrument has zero variance").Error()
		return out
	}

	n := float64(len(z))
	intercept, slope := stat.LinearRegression(z, t, nil, false)

	tMean := stat.Mean(t, nil)
	var ssr, sse float64
	for i := range z {
		fitted := intercept + slope*z[i]
		ssr += (fitted - tMean) * (fitted - tMean)
		sse += (t[i] - fitted) * (t[i] - fitted)
	}
	if sse == 0 {
		// Perfect fit: F is unbounded, report it as such.
		out.FStatistic = math.Inf(1)
		out.PValue = 0
	} else {
		out.FStatistic = ssr / (sse / (n - 2))
		fDist := distuv.F{D1: 1, D2: n - 2}
		out.PValue = 1 - fDist.CDF(out.FStatistic)
	}
	out.Correlation = stat.Correlation(z, t, nil)
	out.slope, out.intercept = slope, intercept
	out.usable = true

	switch {
	case out.FStatistic < tr.cfg.WeakFThreshold:
		out.Strength = StrengthWeak
		out.IsWeak = true
	case out.FStatistic >= tr.cfg.StrongFThreshold:
		out.Strength = StrengthStrong
		out.IsStrong = true
	default:
		out.Strength = StrengthModerate
	}
	return out
}

// secondStage regresses the outcome on the fitted treatment from the
// first usable instrument's first stage.
func (tr *Tester) secondStage(tbl *dataset.Table, rows []int, firstStages []InstrumentResult, y []float64) (float64, error) {
	for _, fs := range firstStages {
		if !fs.usable {
			continue
		}
		col, err := tbl.Column(fs.Instrument)
		if err != nil {
			continue
		}
		z := dataset.Gather(col, rows)
		fitted := make([]float64, len(z))
		for i := range z {
			fitted[i] = fs.intercept + fs.slope*z[i]
		}
		if stat.Variance(fitted, nil) == 0 {
			continue
		}
		_, slope := stat.LinearRegression(fitted, y, nil, false)
		return slope, nil
	}
	return 0, errors.DegenerateInput("instruments", "no instrument usable for the 2SLS stage")
}
