package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"causalscope/domain/core"
	"causalscope/domain/dataset"
	"causalscope/domain/graph"
	"causalscope/internal"
	"causalscope/internal/config"
	"causalscope/internal/errors"
	"causalscope/internal/gates"
	"causalscope/internal/identify"
	"causalscope/internal/intervene"
	"causalscope/internal/ivtest"
	"causalscope/internal/pathbias"
)

// AnalysisRequest defines one full causal analysis: a hypothesized
// graph, an observational table and the roles each variable plays.
// Adjust defaults to the recommended backdoor set when identification
// succeeds and Adjust is empty. Instruments may be empty; the IV test
// and the instrument gate are skipped in that case.
type AnalysisRequest struct {
	Edges       []graph.Edge
	Table       *dataset.Table
	Treatment   core.VariableKey
	Outcome     core.VariableKey
	Adjust      []core.VariableKey
	Covariates  []core.VariableKey
	Instruments []core.VariableKey
	Seed        int64
}

// AnalysisReport bundles the component results. A nil section means
// that component could not run; Errors carries the scoped reason so
// partial reports stay auditable.
type AnalysisReport struct {
	RunID     core.RunID `json:"run_id"`
	CreatedAt time.Time  `json:"created_at"`

	Identifiability *identify.Result  `json:"identifiability,omitempty"`
	PathBias        *pathbias.Report  `json:"path_bias,omitempty"`
	Intervention    *intervene.Result `json:"intervention,omitempty"`
	IV              *ivtest.Result    `json:"iv,omitempty"`
	Gates           *gates.Report     `json:"gates,omitempty"`

	Errors map[string]string `json:"errors,omitempty"`
}

// AnalysisService orchestrates the analysis pipeline: graph-side
// work (identifiability, path classification) runs concurrently with
// data-side work (intervention simulation, IV testing, quality
// gates).
type AnalysisService struct {
	cfg *config.Config
	log *internal.Logger
}

// NewAnalysisService creates an analysis service. A nil logger falls
// back to the package default.
func NewAnalysisService(cfg *config.Config, logger *internal.Logger) *AnalysisService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &AnalysisService{cfg: cfg, log: logger.Named("analysis")}
}

// Analyze runs the full pipeline. Structural problems with the graph
// or the request abort the run; per-component statistical failures
// (combinatorial ceiling, thin data, constant columns) are recorded
// in the report's Errors map and the remaining components still run.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error) {
	start := time.Now()

	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	dag, err := graph.New(req.Edges)
	if err != nil {
		return nil, err
	}
	if req.Table != nil {
		if _, err := req.Table.Column(req.Treatment); err != nil {
			return nil, err
		}
		if _, err := req.Table.Column(req.Outcome); err != nil {
			return nil, err
		}
	}

	report := &AnalysisReport{
		RunID:     core.NewRunID(),
		CreatedAt: start.UTC(),
		Errors:    map[string]string{},
	}
	var mu sync.Mutex
	record := func(scope string, err error) {
		mu.Lock()
		report.Errors[scope] = err.Error()
		mu.Unlock()
		s.log.Warn("%s: %v", scope, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Graph-side: identification feeds the default adjustment set, so
	// path classification piggybacks on the same goroutine.
	adjustCh := make(chan []core.VariableKey, 1)
	g.Go(func() error {
		defer close(adjustCh)

		analyzer := identify.New(dag, s.cfg.Identify)
		ident, err := analyzer.Analyze(gctx, req.Treatment, req.Outcome)
		switch {
		case err == nil:
			mu.Lock()
			report.Identifiability = ident
			mu.Unlock()
			// Only a backdoor set is usable as an adjustment set;
			// adjusting on frontdoor mediators would remove the effect
			// under study.
			if len(req.Adjust) == 0 && ident.Recommended != nil &&
				ident.Recommended.Strategy == identify.StrategyBackdoor {
				adjustCh <- ident.Recommended.Set
			}
		case errors.IsComplexityLimit(err):
			record("identify", err)
		default:
			return err
		}

		explorer := pathbias.New(dag)
		paths, err := explorer.Explore(req.Treatment, req.Outcome)
		if err != nil {
			return err
		}
		mu.Lock()
		report.PathBias = paths
		mu.Unlock()
		return nil
	})

	// Data-side: nothing to do without a table.
	if req.Table != nil {
		g.Go(func() error {
			adjust := req.Adjust
			if len(adjust) == 0 {
				if rec, ok := <-adjustCh; ok {
					adjust = rec
					s.log.Debug("adjusting on recommended set %v", rec)
				}
			}
			adjust = observedOnly(req.Table, adjust)

			sim := intervene.New(s.cfg.Intervene)
			iv, err := sim.Simulate(intervene.Request{
				Table:     req.Table,
				Treatment: req.Treatment,
				Outcome:   req.Outcome,
				Adjust:    adjust,
				Seed:      req.Seed,
			})
			switch {
			case err == nil:
				mu.Lock()
				report.Intervention = iv
				mu.Unlock()
			case errors.IsInsufficientData(err) || errors.IsDegenerateInput(err):
				record("intervene", err)
			default:
				return err
			}

			var ivResult *ivtest.Result
			if len(req.Instruments) > 0 {
				tester := ivtest.New(s.cfg.IV)
				ivResult, err = tester.Test(req.Table, req.Treatment, req.Outcome, req.Instruments)
				switch {
				case err == nil:
					mu.Lock()
					report.IV = ivResult
					mu.Unlock()
				case errors.IsInsufficientData(err) || errors.IsDegenerateInput(err):
					record("ivtest", err)
					ivResult = nil
				default:
					return err
				}
			}

			evaluator := gates.NewEvaluator(s.cfg.Gates, s.log.Named("gates"))
			gateReport, err := evaluator.Evaluate(&gates.Input{
				Table:       req.Table,
				Treatment:   req.Treatment,
				Outcome:     req.Outcome,
				Covariates:  req.Covariates,
				Instruments: req.Instruments,
				IV:          ivResult,
			})
			switch {
			case err == nil:
				mu.Lock()
				report.Gates = gateReport
				mu.Unlock()
			case errors.IsInsufficientData(err) || errors.IsDegenerateInput(err):
				record("gates", err)
			default:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	s.log.Info("analysis %s completed in %s", report.RunID, time.Since(start))
	return report, nil
}

// observedOnly drops adjustment variables the table has no column
// for; the graph may name latent variables the data never measures.
func observedOnly(tbl *dataset.Table, keys []core.VariableKey) []core.VariableKey {
	out := make([]core.VariableKey, 0, len(keys))
	for _, k := range keys {
		if tbl.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
