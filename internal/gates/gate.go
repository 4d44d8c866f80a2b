package gates

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/internal/config"
	"causalscope/internal/errors"
	"causalscope/internal/ivtest"
)

// Status is the three-valued outcome of one gate. SKIPPED marks a
// gate that does not apply to this dataset; it is never coerced to
// PASS and is excluded from the pass-rate denominator.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusSkipped Status = "SKIPPED"
)

// Decision is the aggregate trust verdict over all gates.
type Decision string

const (
	DecisionGo     Decision = "GO"
	DecisionCanary Decision = "CANARY"
	DecisionHold   Decision = "HOLD"
)

// GateResult reports one gate's statistic against its threshold.
type GateResult struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Statistic float64 `json:"statistic"`
	Threshold float64 `json:"threshold"`
	Detail    string  `json:"detail,omitempty"`
}

// Gate is the contract every quality check satisfies. Gates are
// independent: one failing gate never prevents the others from
// running.
type Gate interface {
	ID() int
	Name() string
	Evaluate(in *Input) GateResult
}

// Input carries the dataset and the column roles shared by all
// gates, plus an optional upstream IV result so gate 3 can reuse an
// already computed first-stage F-statistic.
type Input struct {
	Table       *dataset.Table
	Treatment   core.VariableKey
	Outcome     core.VariableKey
	Covariates  []core.VariableKey
	Instruments []core.VariableKey
	IV          *ivtest.Result

	frame *frame
}

// frame is the prepared complete-case working set: treatment and
// outcome values with the high/low arm split at the treatment median.
type frame struct {
	rows   []int
	t, y   []float64
	high   []bool
	nHigh  int
	nLow   int
	median float64
}

func buildFrame(in *Input) (*frame, error) {
	rows, err := in.Table.CompleteRows(in.Treatment, in.Outcome)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.InsufficientData("quality_gates",
			"no complete treatment/outcome observations")
	}
	tCol, _ := in.Table.Column(in.Treatment)
	yCol, _ := in.Table.Column(in.Outcome)
	f := &frame{
		rows: rows,
		t:    dataset.Gather(tCol, rows),
		y:    dataset.Gather(yCol, rows),
	}

	sorted := make([]float64, len(f.t))
	copy(sorted, f.t)
	f.median = median(sorted)

	f.high = make([]bool, len(f.t))
	for i, v := range f.t {
		if v > f.median {
			f.high[i] = true
			f.nHigh++
		} else {
			f.nLow++
		}
	}
	return f, nil
}

// armValues splits a covariate column into high/low arm samples,
// dropping rows where the covariate is missing.
func (f *frame) armValues(col []float64) (high, low []float64) {
	for i, r := range f.rows {
		v := col[r]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if f.high[i] {
			high = append(high, v)
		} else {
			low = append(low, v)
		}
	}
	return high, low
}

// AllGates returns the ten checks in canonical order.
func AllGates(cfg config.GatesConfig) []Gate {
	return []Gate{
		&OverlapGate{cfg: cfg},
		&TStatGate{cfg: cfg},
		&InstrumentStrengthGate{cfg: cfg},
		&BalanceGate{cfg: cfg},
		&MissingDataGate{cfg: cfg},
		&OutlierGate{cfg: cfg},
		&SampleSizeGate{cfg: cfg},
		&LinearityGate{cfg: cfg},
		&HomoscedasticityGate{cfg: cfg},
		&NormalityGate{cfg: cfg},
	}
}

// Shared statistical helpers

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

func pooledTStatistic(high, low []float64) float64 {
	n1, n2 := float64(len(high)), float64(len(low))
	if n1 < 2 || n2 < 2 {
		return math.NaN()
	}
	v1 := stat.Variance(high, nil)
	v2 := stat.Variance(low, nil)
	pooled := ((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2)
	se := math.Sqrt(pooled * (1/n1 + 1/n2))
	if se == 0 {
		return math.NaN()
	}
	return math.Abs(stat.Mean(high, nil)-stat.Mean(low, nil)) / se
}

// standardizedMeanDifference is the covariate-balance diagnostic:
// |mean difference| over the unpooled average standard deviation.
func standardizedMeanDifference(high, low []float64) float64 {
	if len(high) < 2 || len(low) < 2 {
		return math.NaN()
	}
	sd := math.Sqrt((stat.Variance(high, nil) + stat.Variance(low, nil)) / 2)
	if sd == 0 {
		return 0
	}
	return math.Abs(stat.Mean(high, nil)-stat.Mean(low, nil)) / sd
}
