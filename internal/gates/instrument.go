package gates

import (
	"fmt"

	"causalscope/internal/config"
	"causalscope/internal/ivtest"
)

// InstrumentStrengthGate (3) requires the best available instrument
// to clear the first-stage F threshold. SKIPPED when no instrument
// was supplied; an upstream IV test result is reused when present so
// the first stage is not refit.
type InstrumentStrengthGate struct {
	cfg config.GatesConfig
}

func (g *InstrumentStrengthGate) ID() int      { return 3 }
func (g *InstrumentStrengthGate) Name() string { return "iv_strength" }

func (g *InstrumentStrengthGate) Evaluate(in *Input) GateResult {
	res := GateResult{ID: g.ID(), Name: g.Name(), Threshold: g.cfg.MinInstrumentF}
	if len(in.Instruments) == 0 {
		res.Status = StatusSkipped
		res.Detail = "no instrument supplied"
		return res
	}

	result := in.IV
	if result == nil {
		tester := ivtest.New(config.IVConfig{
			WeakFThreshold:   g.cfg.MinInstrumentF,
			StrongFThreshold: g.cfg.MinInstrumentF * 2,
		})
		computed, err := tester.Test(in.Table, in.Treatment, in.Outcome, in.Instruments)
		if err != nil {
			res.Status = StatusFail
			res.Detail = fmt.Sprintf("first stage failed: %v", err)
			return res
		}
		result = computed
	}

	best := -1.0
	bestName := ""
	for _, inst := range result.PerInstrument {
		if inst.Error != "" {
			continue
		}
		if inst.FStatistic > best {
			best = inst.FStatistic
			bestName = string(inst.Instrument)
		}
	}
	if best < 0 {
		res.Status = StatusFail
		res.Detail = "every instrument was degenerate"
		return res
	}
	res.Statistic = best
	if best >= g.cfg.MinInstrumentF {
		res.Status = StatusPass
	} else {
		res.Status = StatusFail
		res.Detail = fmt.Sprintf("best instrument %q is weak (F=%.2f)", bestName, best)
	}
	return res
}
