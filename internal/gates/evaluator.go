package gates

import (
	"causalscope/internal"
	"causalscope/internal/config"
)

// Report aggregates the ten gate results into a trust decision.
// SKIPPED gates are excluded from the pass-rate denominator.
type Report struct {
	Gates        []GateResult `json:"gates"`
	PassCount    int          `json:"pass_count"`
	FailCount    int          `json:"fail_count"`
	SkippedCount int          `json:"skipped_count"`
	TotalCount   int          `json:"total_count"`
	PassRate     float64      `json:"pass_rate"`
	Decision     Decision     `json:"decision"`
}

// Evaluator runs the full gate battery. Every gate runs on every
// call; a failing gate never short-circuits the rest, and CANARY or
// HOLD is a valid terminal outcome, not an engine failure.
type Evaluator struct {
	cfg config.GatesConfig
	log *internal.Logger
}

// NewEvaluator creates an evaluator with the given thresholds.
func NewEvaluator(cfg config.GatesConfig, logger *internal.Logger) *Evaluator {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Evaluator{cfg: cfg, log: logger}
}

// Evaluate runs all ten gates and derives the decision. The report
// is recomputed fully on every call; nothing is cached.
func (e *Evaluator) Evaluate(in *Input) (*Report, error) {
	frame, err := buildFrame(in)
	if err != nil {
		return nil, err
	}
	in.frame = frame

	report := &Report{}
	for _, gate := range AllGates(e.cfg) {
		result := gate.Evaluate(in)
		report.Gates = append(report.Gates, result)
		switch result.Status {
		case StatusPass:
			report.PassCount++
			e.log.Debug("gate %d (%s) passed: statistic=%.4f threshold=%.4f",
				result.ID, result.Name, result.Statistic, result.Threshold)
		case StatusFail:
			report.FailCount++
			e.log.Info("gate %d (%s) failed: %s", result.ID, result.Name, result.Detail)
		case StatusSkipped:
			report.SkippedCount++
			e.log.Debug("gate %d (%s) skipped: %s", result.ID, result.Name, result.Detail)
		}
	}
	report.TotalCount = len(report.Gates)

	applicable := report.TotalCount - report.SkippedCount
	if applicable > 0 {
		report.PassRate = float64(report.PassCount) / float64(applicable)
	}
	report.Decision = e.decide(report.PassRate, applicable)
	e.log.Info("quality gates: %d/%d passed (%d skipped), decision=%s",
		report.PassCount, applicable, report.SkippedCount, report.Decision)
	return report, nil
}

func (e *Evaluator) decide(passRate float64, applicable int) Decision {
	if applicable == 0 {
		// Nothing applied; there is no evidence to act on.
		return DecisionHold
	}
	switch {
	case passRate >= e.cfg.GoPassRate:
		return DecisionGo
	case passRate >= e.cfg.CanaryPassRate:
		return DecisionCanary
	default:
		return DecisionHold
	}
}
