package intervene

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/internal/config"
	"causalscope/internal/errors"
)

// Request describes one intervention simulation. Seed is mandatory:
// bootstrap resampling never touches implicit global RNG state, so
// identical requests produce bit-identical results.
type Request struct {
	Table     *dataset.Table
	Treatment core.VariableKey
	Outcome   core.VariableKey
	Adjust    []core.VariableKey
	Seed      int64
}

// CurvePoint is the estimated mean outcome for one treatment bin.
type CurvePoint struct {
	Bin         int     `json:"bin"`
	TreatLow    float64 `json:"treat_low"`
	TreatHigh   float64 `json:"treat_high"`
	MeanOutcome float64 `json:"mean_outcome"`
	N           int     `json:"n"`
}

// ConfidenceInterval is a two-sided 95% interval.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ATEEstimate is the stratified average treatment effect with its
// bootstrap interval.
type ATEEstimate struct {
	Estimate   float64            `json:"estimate"`
	SE         float64            `json:"se"`
	CI         ConfidenceInterval `json:"ci"`
	Resamples  int                `json:"resamples"`
	NHigh      int                `json:"n_high"`
	NLow       int                `json:"n_low"`
}

// CATEEstimate is the treatment effect within one stratum with an
// analytic Wald interval.
type CATEEstimate struct {
	Stratum  int                `json:"stratum"`
	Estimate float64            `json:"estimate"`
	CI       ConfidenceInterval `json:"ci"`
	NHigh    int                `json:"n_high"`
	NLow     int                `json:"n_low"`
}

// SensitivityBound is an approximate Rosenbaum bound on the ATE for
// one value of the hidden-bias parameter Γ.
type SensitivityBound struct {
	Gamma float64 `json:"gamma"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// QuantityError records a sub-result that could not be estimated.
// Missing is reported explicitly, never coerced to zero.
type QuantityError struct {
	Quantity string `json:"quantity"`
	Reason   string `json:"reason"`
}

// Result holds the full simulation output. Quantities that could not
// be estimated are absent and listed under Unestimable; everything
// else still computes (partial success).
type Result struct {
	Observational  []CurvePoint       `json:"observational_curve"`
	Interventional []CurvePoint       `json:"interventional_curve"`
	ATE            *ATEEstimate       `json:"ate,omitempty"`
	CATE           []CATEEstimate     `json:"cate_by_stratum"`
	Sensitivity    []SensitivityBound `json:"sensitivity"`
	Unestimable    []QuantityError    `json:"unestimable,omitempty"`
}

// Simulator estimates E[Y|do(X)] from observational data via the
// stratified adjustment formula. Pure function of (table, config,
// seed); no state survives a call.
type Simulator struct {
	cfg config.InterveneConfig
}

// New creates a simulator with the given estimation settings.
func New(cfg config.InterveneConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// sample is the complete-case working set for one simulation.
type sample struct {
	t, y    []float64
	stratum []int
	nStrata int
	highCut float64
	lowCut  float64
}

// Simulate runs the full estimation. It returns an error only for
// structural problems (unknown columns, no usable observations);
// unestimable sub-results are reported inside the Result.
func (s *Simulator) Simulate(req Request) (*Result, error) {
	cols := append([]core.VariableKey{req.Treatment, req.Outcome}, req.Adjust...)
	rows, err := req.Table.CompleteRows(cols...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.InsufficientData("intervention",
			"no complete observations across treatment, outcome and adjustment columns")
	}

	tCol, _ := req.Table.Column(req.Treatment)
	yCol, _ := req.Table.Column(req.Outcome)
	sm := &sample{
		t: dataset.Gather(tCol, rows),
		y: dataset.Gather(yCol, rows),
	}
	sm.stratum, sm.nStrata, err = s.assignStrata(req, rows)
	if err != nil {
		return nil, err
	}
	sm.highCut, _ = stats.Percentile(sm.t, s.cfg.HighPercentile)
	sm.lowCut, _ = stats.Percentile(sm.t, s.cfg.LowPercentile)

	res := &Result{}

	res.Observational = s.observationalCurve(sm)
	s.interventionalCurve(sm, res)
	s.estimateATE(sm, req.Seed, res)
	s.estimateCATE(sm, res)
	s.sensitivity(res)

	return res, nil
}

// assignStrata buckets each complete row into joint quantile strata
// of the adjustment variables. With no adjustment columns every row
// falls into a single stratum and the adjustment formula reduces to
// the naive conditional mean.
func (s *Simulator) assignStrata(req Request, rows []int) ([]int, int, error) {
	n := len(rows)
	stratum := make([]int, n)
	if len(req.Adjust) == 0 {
		return stratum, 1, nil
	}

	q := s.cfg.StratumQuantiles
	nStrata := 1
	for _, key := range req.Adjust {
		col, err := req.Table.Column(key)
		if err != nil {
			return nil, 0, err
		}
		vals := dataset.Gather(col, rows)
		cuts := quantileCuts(vals, q)
		for i, v := range vals {
			stratum[i] = stratum[i]*q + binIndex(v, cuts)
		}
		nStrata *= q
	}
	return stratum, nStrata, nil
}

// observationalCurve bins the treatment into deciles and reports the
// naive (possibly confounded) mean outcome per bin.
func (s *Simulator) observationalCurve(sm *sample) []CurvePoint {
	cuts := quantileCuts(sm.t, s.cfg.TreatmentBins)
	bins := make([][]float64, s.cfg.TreatmentBins)
	for i, v := range sm.t {
		b := binIndex(v, cuts)
		bins[b] = append(bins[b], sm.y[i])
	}

	var curve []CurvePoint
	for b, ys := range bins {
		if len(ys) == 0 {
			continue
		}
		lo, hi := binRange(sm.t, cuts, b)
		curve = append(curve, CurvePoint{
			Bin:         b,
			TreatLow:    lo,
			TreatHigh:   hi,
			MeanOutcome: stat.Mean(ys, nil),
			N:           len(ys),
		})
	}
	return curve
}

// interventionalCurve applies the adjustment formula: within each
// treatment bin, outcome means per stratum are averaged with weights
// proportional to stratum size. Cells below the minimum stratum size
// are excluded from the weighted sum, never imputed.
func (s *Simulator) interventionalCurve(sm *sample, res *Result) {
	cuts := quantileCuts(sm.t, s.cfg.TreatmentBins)

	stratumTotal := make([]int, sm.nStrata)
	for _, st := range sm.stratum {
		stratumTotal[st]++
	}

	type cell struct {
		sum float64
		n   int
	}
	cells := make(map[[2]int]*cell)
	for i, v := range sm.t {
		b := binIndex(v, cuts)
		key := [2]int{b, sm.stratum[i]}
		c, ok := cells[key]
		if !ok {
			c = &cell{}
			cells[key] = c
		}
		c.sum += sm.y[i]
		c.n++
	}

	for b := 0; b < s.cfg.TreatmentBins; b++ {
		var weighted, weight float64
		var n int
		for st := 0; st < sm.nStrata; st++ {
			c, ok := cells[[2]int{b, st}]
			if !ok || c.n < s.cfg.MinStratumSize {
				continue
			}
			w := float64(stratumTotal[st])
			weighted += w * (c.sum / float64(c.n))
			weight += w
			n += c.n
		}
		if weight == 0 {
			res.Unestimable = append(res.Unestimable, QuantityError{
				Quantity: fmt.Sprintf("interventional_curve[%d]", b),
				Reason: fmt.Sprintf("no (bin, stratum) cell reaches %d observations",
					s.cfg.MinStratumSize),
			})
			continue
		}
		lo, hi := binRange(sm.t, cuts, b)
		res.Interventional = append(res.Interventional, CurvePoint{
			Bin:         b,
			TreatLow:    lo,
			TreatHigh:   hi,
			MeanOutcome: weighted / weight,
			N:           n,
		})
	}
}

// stratifiedATE compares high-treatment (T > p75) against
// low-treatment (T < p25) rows stratum by stratum. A stratum
// contributes only when both arms reach the minimum arm size.
func (s *Simulator) stratifiedATE(t, y []float64, stratum []int, nStrata int, highCut, lowCut float64) (estimate, se float64, nHigh, nLow int, ok bool) {
	var weighted, weight, varSum float64
	for st := 0; st < nStrata; st++ {
		var high, low []float64
		total := 0
		for i := range t {
			if stratum[i] != st {
				continue
			}
			total++
			switch {
			case t[i] > highCut:
				high = append(high, y[i])
			case t[i] < lowCut:
				low = append(low, y[i])
			}
		}
		if len(high) < s.cfg.MinArmSize || len(low) < s.cfg.MinArmSize {
			continue
		}
		diff := stat.Mean(high, nil) - stat.Mean(low, nil)
		w := float64(total)
		weighted += w * diff
		weight += w
		armVar := stat.Variance(high, nil)/float64(len(high)) +
			stat.Variance(low, nil)/float64(len(low))
		varSum += w * w * armVar
		nHigh += len(high)
		nLow += len(low)
	}
	if weight == 0 {
		return 0, 0, 0, 0, false
	}
	return weighted / weight, math.Sqrt(varSum) / weight, nHigh, nLow, true
}

func (s *Simulator) estimateATE(sm *sample, seed int64, res *Result) {
	est, se, nHigh, nLow, ok := s.stratifiedATE(sm.t, sm.y, sm.stratum, sm.nStrata, sm.highCut, sm.lowCut)
	if !ok {
		res.Unestimable = append(res.Unestimable, QuantityError{
			Quantity: "ate",
			Reason: fmt.Sprintf("no stratum has at least %d observations in both treatment arms",
				s.cfg.MinArmSize),
		})
		return
	}

	ci, resamples := s.bootstrapCI(sm, seed)
	res.ATE = &ATEEstimate{
		Estimate:  est,
		SE:        se,
		CI:        ci,
		Resamples: resamples,
		NHigh:     nHigh,
		NLow:      nLow,
	}
}

// estimateCATE reports the per-stratum effect with an analytic Wald
// interval. Underpowered strata are reported as missing, not zero.
func (s *Simulator) estimateCATE(sm *sample, res *Result) {
	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.975)

	for st := 0; st < sm.nStrata; st++ {
		var high, low []float64
		for i := range sm.t {
			if sm.stratum[i] != st {
				continue
			}
			switch {
			case sm.t[i] > sm.highCut:
				high = append(high, sm.y[i])
			case sm.t[i] < sm.lowCut:
				low = append(low, sm.y[i])
			}
		}
		if len(high) == 0 && len(low) == 0 {
			continue // empty stratum, nothing to report
		}
		if len(high) < s.cfg.MinArmSize || len(low) < s.cfg.MinArmSize {
			res.Unestimable = append(res.Unestimable, QuantityError{
				Quantity: fmt.Sprintf("cate[%d]", st),
				Reason: fmt.Sprintf("fewer than %d observations per arm (high=%d, low=%d)",
					s.cfg.MinArmSize, len(high), len(low)),
			})
			continue
		}
		diff := stat.Mean(high, nil) - stat.Mean(low, nil)
		se := math.Sqrt(stat.Variance(high, nil)/float64(len(high)) +
			stat.Variance(low, nil)/float64(len(low)))
		res.CATE = append(res.CATE, CATEEstimate{
			Stratum:  st,
			Estimate: diff,
			CI:       ConfidenceInterval{Lower: diff - z*se, Upper: diff + z*se},
			NHigh:    len(high),
			NLow:     len(low),
		})
	}
}

// sensitivity computes bound = ATE ± (Γ−1)·2·SE over the Γ grid.
// This is a linearized approximation of Rosenbaum bounds, not the
// exact sign-score computation.
func (s *Simulator) sensitivity(res *Result) {
	if res.ATE == nil {
		res.Unestimable = append(res.Unestimable, QuantityError{
			Quantity: "sensitivity",
			Reason:   "requires an estimable ATE",
		})
		return
	}
	// Guard against float drift on the last grid point.
	for g := 1.0; g <= s.cfg.GammaMax+1e-9; g += s.cfg.GammaStep {
		gamma := math.Round(g*10) / 10
		spread := (gamma - 1) * 2 * res.ATE.SE
		res.Sensitivity = append(res.Sensitivity, SensitivityBound{
			Gamma: gamma,
			Lower: res.ATE.Estimate - spread,
			Upper: res.ATE.Estimate + spread,
		})
	}
}

// quantileCuts returns the q-1 interior quantile cutpoints of vals.
func quantileCuts(vals []float64, q int) []float64 {
	cuts := make([]float64, q-1)
	for i := 1; i < q; i++ {
		p := float64(i) * 100 / float64(q)
		cuts[i-1], _ = stats.Percentile(vals, p)
	}
	return cuts
}

// binIndex places v into the bin defined by ascending cutpoints.
func binIndex(v float64, cuts []float64) int {
	for i, c := range cuts {
		if v <= c {
			return i
		}
	}
	return len(cuts)
}

func binRange(vals, cuts []float64, b int) (lo, hi float64) {
	min, _ := stats.Min(vals)
	max, _ := stats.Max(vals)
	lo, hi = min, max
	if b > 0 {
		lo = cuts[b-1]
	}
	if b < len(cuts) {
		hi = cuts[b]
	}
	return lo, hi
}
