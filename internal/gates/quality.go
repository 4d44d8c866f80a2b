package gates

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"causalscope/domain/core"
	"causalscope/internal/config"
)

// MissingDataGate (5) requires every analysis column to stay below
// the maximum missing share.
type MissingDataGate struct {
	cfg config.GatesConfig
}

func (g *MissingDataGate) ID() int      { return 5 }
func (g *MissingDataGate) Name() string { return "missing_data" }

func (g *MissingDataGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxMissingShare}

	cols := append([]core.VariableKey{in.Treatment, in.Outcome}, in.Covariates...)
	worst := 0.0
	worstKey := ""
	for _, key := range cols {
		ratio, err := in.Table.MissingRatio(key)
		if err != nil {
			res.Status = StatusFail
			res.Detail = err.Error()
			return res
		}
		if ratio > worst {
			worst = ratio
			worstKey = string(key)
		}
	}
	res.Statistic = worst
	if worst < g.cfg.MaxMissingShare {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("column %q is %.1f%% missing", worstKey, worst*100)
	}
	return res
}

// OutlierGate (6) applies the 1.5×IQR rule to the outcome and
// requires the outlier share to stay below the threshold.
type OutlierGate struct {
	cfg config.GatesConfig
}

func (g *OutlierGate) ID() int      { return 6 }
func (g *OutlierGate) Name() string { return "outliers" }

func (g *OutlierGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MaxOutlierShare}
	y := in.frame.y

	q1, err1 := stats.Percentile(y, 25)
	q3, err3 := stats.Percentile(y, 75)
	if err1 != nil || err3 != nil {
		res.Status = StatusFail
		res.Detail = "quartiles undefined for outcome"
		return res
	}
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	outliers := 0
	for _, v := range y {
		if v < lo || v > hi {
			outliers++
		}
	}
	res.Statistic = float64(outliers) / float64(len(y))
	if res.Statistic < g.cfg.MaxOutlierShare {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("%.1f%% of outcome values fall outside 1.5×IQR fences", res.Statistic*100)
	}
	return res
}
