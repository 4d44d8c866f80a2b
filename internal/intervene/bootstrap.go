package intervene

import (
	"math/rand"
	"runtime"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// bootstrapCI computes the nonparametric percentile interval for the
// stratified ATE. Each resample derives its own RNG from the caller
// seed and the resample index, so the result is bit-identical across
// runs regardless of how the resamples are scheduled over workers.
func (s *Simulator) bootstrapCI(sm *sample, seed int64) (ConfidenceInterval, int) {
	b := s.cfg.BootstrapSamples
	estimates := make([]float64, b)
	usable := make([]bool, b)

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < b; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(i)))
			est, ok := s.resampleATE(sm, rng)
			estimates[i] = est
			usable[i] = ok
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	valid := make([]float64, 0, b)
	for i := range estimates {
		if usable[i] {
			valid = append(valid, estimates[i])
		}
	}
	if len(valid) == 0 {
		return ConfidenceInterval{}, 0
	}

	lower, _ := stats.Percentile(valid, 2.5)
	upper, _ := stats.Percentile(valid, 97.5)
	return ConfidenceInterval{Lower: lower, Upper: upper}, len(valid)
}

// resampleATE draws n rows with replacement and recomputes the
// stratified ATE. Stratum labels and arm cutpoints stay fixed at
// their full-sample values; only row membership is resampled.
func (s *Simulator) resampleATE(sm *sample, rng *rand.Rand) (float64, bool) {
	n := len(sm.t)
	t := make([]float64, n)
	y := make([]float64, n)
	stratum := make([]int, n)
	for j := 0; j < n; j++ {
		idx := rng.Intn(n)
		t[j] = sm.t[idx]
		y[j] = sm.y[idx]
		stratum[j] = sm.stratum[idx]
	}
	est, _, _, _, ok := s.stratifiedATE(t, y, stratum, sm.nStrata, sm.highCut, sm.lowCut)
	return est, ok
}
