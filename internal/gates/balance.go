package gates

import (
	"fmt"
	"math"

	"causalscope/internal/config"
)

// OverlapGate (1) checks propensity overlap: the share of
// observations with an estimated propensity outside the clip range
// must stay below the configured maximum. Propensity is estimated
// with a linear probability model of the high-treatment arm on the
// covariates; without covariates the gate is SKIPPED.
type OverlapGate struct {
	cfg config.GatesConfig
}

func (g *OverlapGate) ID() int      { return 1 }
func (g *OverlapGate) Name() string { return "propensity_overlap" }

func (g *OverlapGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxOverlapShare}
	if len(in.Covariates) == 0 {
		res.Status = StatusSkipped
		res.Detail = "no covariates available for propensity estimation"
		return res
	}

	design, arm := propensityDesign(in)
	if len(design) == 0 {
		res.Status = StatusSkipped
		res.Detail = "no complete covariate rows for propensity estimation"
		return res
	}

	coefs, ok := fitLinearModel(design, arm)
	if !ok {
		res.Status = StatusFail
		res.Detail = "propensity model is singular"
		res.Statistic = math.NaN()
		return res
	}

	outside := 0
	for _, row := range design {
		p := coefs[0]
		for j, v := range row {
			p += coefs[j+1] * v
		}
		p = math.Max(0, math.Min(1, p))
		if p < g.cfg.OverlapLow || p > g.cfg.OverlapHigh {
			outside++
		}
	}
	res.Statistic = float64(outside) / float64(len(design))
	if res.Statistic < g.cfg.MaxOverlapShare {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("%.1f%% of observations fall outside [%.2f, %.2f]",
			res.Statistic*100, g.cfg.OverlapLow, g.cfg.OverlapHigh)
	}
	return res
}

// propensityDesign gathers the covariate rows (complete across all
// covariates) with the arm indicator as the regression target.
func propensityDesign(in *Input) (design [][]float64, arm []float64) {
	cols := make([][]float64, len(in.Covariates))
	for i, key := range in.Covariates {
		col, err := in.Table.Column(key)
		if err != nil {
			return nil, nil
		}
		cols[i] = col
	}

	f := in.frame
	for i, r := range f.rows {
		row := make([]float64, len(cols))
		ok := true
		for j, col := range cols {
			v := col[r]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
			row[j] = v
		}
		if !ok {
			continue
		}
		design = append(design, row)
		if f.high[i] {
			arm = append(arm, 1)
		} else {
			arm = append(arm, 0)
		}
	}
	return design, arm
}

// fitLinearModel solves the normal equations for y ~ 1 + X via
// Gaussian elimination with partial pivoting. Returns the
// coefficient vector [intercept, b1..bk].
func fitLinearModel(design [][]float64, y []float64) ([]float64, bool) {
	n := len(design)
	k := len(design[0]) + 1

	// X'X and X'y with an implicit intercept column.
	xtx := make([][]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	xty := make([]float64, k)
	for r := 0; r < n; r++ {
		row := make([]float64, k)
		row[0] = 1
		copy(row[1:], design[r])
		for i := 0; i < k; i++ {
			xty[i] += row[i] * y[r]
			for j := 0; j < k; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}

	// Gaussian elimination with partial pivoting.
	aug := make([][]float64, k)
	for i := range aug {
		aug[i] = append(append([]float64{}, xtx[i]...), xty[i])
	}
	for i := 0; i < k; i++ {
		pivot := i
		for j := i + 1; j < k; j++ {
			if math.Abs(aug[j][i]) > math.Abs(aug[pivot][i]) {
				pivot = j
			}
		}
		aug[i], aug[pivot] = aug[pivot], aug[i]
		if math.Abs(aug[i][i]) < 1e-12 {
			return nil, false
		}
		for j := i + 1; j < k; j++ {
			factor := aug[j][i] / aug[i][i]
			for c := i; c <= k; c++ {
				aug[j][c] -= factor * aug[i][c]
			}
		}
	}
	coefs := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		coefs[i] = aug[i][k]
		for j := i + 1; j < k; j++ {
			coefs[i] -= aug[i][j] * coefs[j]
		}
		coefs[i] /= aug[i][i]
	}
	return coefs, true
}

// TStatGate (2) requires a detectable raw treatment effect: the
// absolute outcome mean difference between arms over the pooled
// standard error must exceed the threshold.
type TStatGate struct {
	cfg config.GatesConfig
}

func (g *TStatGate) ID() int      { return 2 }
func (g *TStatGate) Name() string { return "t_statistic" }

func (g *TStatGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MinTStatistic}
	f := in.frame

	var high, low []float64
	for i, v := range f.y {
		if f.high[i] {
			high = append(high, v)
		} else {
			low = append(low, v)
		}
	}
	res.Statistic = pooledTStatistic(high, low)
	if math.IsNaN(res.Statistic) {
		res.Status = StatusFail
		res.Detail = "t-statistic undefined (degenerate arms)"
		return res
	}
	if res.Statistic > g.cfg.MinTStatistic {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("outcome difference between arms not detectable (t=%.2f)", res.Statistic)
	}
	return res
}

// BalanceGate (4) checks covariate balance: the standardized mean
// difference must stay below the threshold for every covariate.
// SKIPPED without covariates.
type BalanceGate struct {
	cfg config.GatesConfig
}

func (g *BalanceGate) ID() int      { return 4 }
func (g *BalanceGate) Name() string { return "covariate_smd" }

func (g *BalanceGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxSMD}
	if len(in.Covariates) == 0 {
		res.Status = StatusSkipped
		res.Detail = "no covariates to balance"
		return res
	}

	worst := 0.0
	worstKey := ""
	for _, key := range in.Covariates {
		col, err := in.Table.Column(key)
		if err != nil {
			res.Status = StatusFail
			res.Detail = err.Error()
			res.Statistic = math.NaN()
			return res
		}
		high, low := in.frame.armValues(col)
		smd := standardizedMeanDifference(high, low)
		if math.IsNaN(smd) {
			res.Status = StatusFail
			res.Detail = fmt.Sprintf("SMD undefined for covariate %q", key)
			res.Statistic = math.NaN()
			return res
		}
		if smd > worst {
			worst = smd
			worstKey = string(key)
		}
	}
	res.Statistic = worst
	if worst < g.cfg.MaxSMD {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("covariate %q imbalanced across arms (SMD=%.3f)", worstKey, worst)
	}
	return res
}

// SampleSizeGate (7) requires the smaller treatment arm to reach the
// minimum sample size.
type SampleSizeGate struct {
	cfg config.GatesConfig
}

func (g *SampleSizeGate) ID() int      { return 7 }
func (g *SampleSizeGate) Name() string { return "sample_size" }

func (g *SampleSizeGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: float64(g.cfg.MinArmSize)}
	f := in.frame
	smaller := f.nHigh
	if f.nLow < smaller {
		smaller = f.nLow
	}
	res.Statistic = float64(smaller)
	if smaller >= g.cfg.MinArmSize {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("smaller arm has %d observations, need %d", smaller, g.cfg.MinArmSize)
	}
	return res
}
