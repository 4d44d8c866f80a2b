package gates

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"causalscope/internal/config"
)

// fitOutcomeModel fits outcome ~ 1 + treatment on the prepared frame
// and returns fitted values and residuals. Shared by the linearity,
// homoscedasticity and normality gates.
func fitOutcomeModel(f *frame) (fitted, resid []float64, ok bool) {
	if len(f.t) < 3 || stat.Variance(f.t, nil) == 0 {
		return nil, nil, false
	}
	intercept, slope := stat.LinearRegression(f.t, f.y, nil, false)
	fitted = make([]float64, len(f.t))
	resid = make([]float64, len(f.t))
	for i := range f.t {
		fitted[i] = intercept + slope*f.t[i]
		resid[i] = f.y[i] - fitted[i]
	}
	return fitted, resid, true
}

// LinearityGate (8) requires the fitted outcome model to track the
// observed outcome: corr(fitted, actual) above the threshold.
type LinearityGate struct {
	cfg config.GatesConfig
}

func (g *LinearityGate) ID() int      { return 8 }
func (g *LinearityGate) Name() string { return "linearity" }

func (g *LinearityGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MinLinearityR}
	fitted, _, ok := fitOutcomeModel(in.frame)
	if !ok {
		res.Status = StatusFail
		res.Detail = "outcome model could not be fit (degenerate treatment)"
		return res
	}
	r := stat.Correlation(fitted, in.frame.y, nil)
	res.Statistic = r
	if math.IsNaN(r) {
		res.Status = StatusFail
		res.Detail = "correlation undefined"
		return res
	}
	if r > g.cfg.MinLinearityR {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("linear fit explains too little of the outcome (r=%.3f)", r)
	}
	return res
}

// HomoscedasticityGate (9) requires residual spread to stay level
// across fitted values: |corr(fitted, resid²)| below the threshold.
type HomoscedasticityGate struct {
	cfg config.GatesConfig
}

func (g *HomoscedasticityGate) ID() int      { return 9 }
func (g *HomoscedasticityGate) Name() string { return "homoscedasticity" }

func (g *HomoscedasticityGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxHeteroR}
	fitted, resid, ok := fitOutcomeModel(in.frame)
	if !ok {
		res.Status = StatusFail
		res.Detail = "outcome model could not be fit (degenerate treatment)"
		return res
	}
	sq := make([]float64, len(resid))
	for i, r := range resid {
		sq[i] = r * r
	}
	r := math.Abs(stat.Correlation(fitted, sq, nil))
	res.Statistic = r
	if math.IsNaN(r) {
		// Perfectly level residuals have zero variance in resid²;
		// that is the homoscedastic ideal, not a failure.
		res.Statistic = 0
		res.Status = StatusPass
		return res
	}
	if r < g.cfg.MaxHeteroR {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("residual variance drifts with fitted values (|r|=%.3f)", r)
	}
	return res
}

// NormalityGate (10) applies the Jarque–Bera test to the residuals;
// the statistic must stay below the chi-squared(2) critical value.
type NormalityGate struct {
	cfg config.GatesConfig
}

func (g *NormalityGate) ID() int      { return 10 }
func (g *NormalityGate) Name() string { return "normality" }

func (g *NormalityGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxJarqueBera}
	_, resid, ok := fitOutcomeModel(in.frame)
	if !ok {
		res.Status = StatusFail
		res.Detail = "outcome model could not be fit (degenerate treatment)"
		return res
	}
	n := float64(len(resid))
	skew := stat.Skew(resid, nil)
	exKurt := stat.ExKurtosis(resid, nil)
	jb := n / 6 * (skew*skew + exKurt*exKurt/4)
	res.Statistic = jb
	if math.IsNaN(jb) {
		res.Status = StatusFail
		res.Detail = "Jarque–Bera undefined"
		return res
	}
	if jb < g.cfg.MaxJarqueBera {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("residuals depart from normality (JB=%.2f, skew=%.2f, ex.kurt=%.2f)", jb, skew, exKurt)
	}
	return res
}
