package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"causalscope/internal/errors"
)

// Config represents the complete engine configuration
type Config struct {
	Identify  IdentifyConfig
	Intervene InterveneConfig
	IV        IVConfig
	Gates     GatesConfig
}

// IdentifyConfig bounds the combinatorial adjustment-set search
type IdentifyConfig struct {
	// MaxCandidateVertices caps the number of candidate adjustment
	// vertices. Subset enumeration is exponential; above the cap the
	// search aborts rather than silently truncating.
	MaxCandidateVertices int
}

// InterveneConfig holds stratified estimation settings
type InterveneConfig struct {
	TreatmentBins    int     // bins for the do-curve over treatment
	StratumQuantiles int     // quantile bins per adjustment variable
	MinStratumSize   int     // (bin, stratum) cells below this are excluded
	MinArmSize       int     // per-arm minimum for a stratum to contribute to ATE/CATE
	BootstrapSamples int     // bootstrap resamples for the ATE CI
	HighPercentile   float64 // treated arm: T above this percentile
	LowPercentile    float64 // control arm: T below this percentile
	GammaMax         float64 // sensitivity grid upper bound
	GammaStep        float64 // sensitivity grid step
}

// IVConfig holds instrument classification thresholds
type IVConfig struct {
	WeakFThreshold   float64 // F below this flags a weak instrument
	StrongFThreshold float64 // F at or above this flags a strong instrument
}

// GatesConfig holds the ten quality-gate thresholds
type GatesConfig struct {
	OverlapLow      float64 // propensity lower clip
	OverlapHigh     float64 // propensity upper clip
	MaxOverlapShare float64 // max share of observations outside the clip range
	MinTStatistic   float64
	MinInstrumentF  float64
	MaxSMD          float64
	MaxMissingShare float64
	MaxOutlierShare float64
	MinArmSize      int
	MinLinearityR   float64
	MaxHeteroR      float64
	MaxJarqueBera   float64
	GoPassRate      float64 // decision GO at or above this pass rate
	CanaryPassRate  float64 // decision CANARY at or above this pass rate
}

// Default returns the engine defaults used when no environment
// overrides are present.
func Default() Config {
	return Config{
		Identify: IdentifyConfig{
			MaxCandidateVertices: 20,
		},
		Intervene: InterveneConfig{
			TreatmentBins:    10,
			StratumQuantiles: 4,
			MinStratumSize:   10,
			MinArmSize:       5,
			BootstrapSamples: 1000,
			HighPercentile:   75,
			LowPercentile:    25,
			GammaMax:         3.0,
			GammaStep:        0.1,
		},
		IV: IVConfig{
			WeakFThreshold:   10,
			StrongFThreshold: 20,
		},
		Gates: GatesConfig{
			OverlapLow:      0.05,
			OverlapHigh:     0.95,
			MaxOverlapShare: 0.05,
			MinTStatistic:   2.0,
			MinInstrumentF:  10,
			MaxSMD:          0.1,
			MaxMissingShare: 0.10,
			MaxOutlierShare: 0.05,
			MinArmSize:      100,
			MinLinearityR:   0.5,
			MaxHeteroR:      0.3,
			MaxJarqueBera:   5.99,
			GoPassRate:      0.70,
			CanaryPassRate:  0.50,
		},
	}
}

// Load reads configuration from the environment (a .env file is
// honored when present) and validates it.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := Default()

	cfg.Identify.MaxCandidateVertices = getEnvIntOrDefault("CAUSAL_MAX_CANDIDATES", cfg.Identify.MaxCandidateVertices)
	cfg.Intervene.BootstrapSamples = getEnvIntOrDefault("CAUSAL_BOOTSTRAP_SAMPLES", cfg.Intervene.BootstrapSamples)
	cfg.Intervene.TreatmentBins = getEnvIntOrDefault("CAUSAL_TREATMENT_BINS", cfg.Intervene.TreatmentBins)
	cfg.Intervene.StratumQuantiles = getEnvIntOrDefault("CAUSAL_STRATUM_QUANTILES", cfg.Intervene.StratumQuantiles)
	cfg.Intervene.MinStratumSize = getEnvIntOrDefault("CAUSAL_MIN_STRATUM_SIZE", cfg.Intervene.MinStratumSize)
	cfg.Intervene.MinArmSize = getEnvIntOrDefault("CAUSAL_MIN_ARM_SIZE", cfg.Intervene.MinArmSize)
	cfg.IV.WeakFThreshold = getEnvFloatOrDefault("CAUSAL_WEAK_F", cfg.IV.WeakFThreshold)
	cfg.IV.StrongFThreshold = getEnvFloatOrDefault("CAUSAL_STRONG_F", cfg.IV.StrongFThreshold)
	cfg.Gates.MinInstrumentF = getEnvFloatOrDefault("CAUSAL_GATE_MIN_F", cfg.Gates.MinInstrumentF)
	cfg.Gates.MaxSMD = getEnvFloatOrDefault("CAUSAL_GATE_MAX_SMD", cfg.Gates.MaxSMD)
	cfg.Gates.MinArmSize = getEnvIntOrDefault("CAUSAL_GATE_MIN_ARM", cfg.Gates.MinArmSize)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return &cfg, nil
}

// Validate rejects thresholds that would make downstream estimates
// meaningless. A failed validation aborts the whole analysis call.
func (c *Config) Validate() error {
	if c.Identify.MaxCandidateVertices < 1 {
		return errors.ConfigInvalid("identify: max candidate vertices must be positive")
	}
	if c.Intervene.TreatmentBins < 2 {
		return errors.ConfigInvalid("intervene: treatment bins must be at least 2")
	}
	if c.Intervene.StratumQuantiles < 1 {
		return errors.ConfigInvalid("intervene: stratum quantiles must be positive")
	}
	if c.Intervene.MinStratumSize < 1 || c.Intervene.MinArmSize < 1 {
		return errors.ConfigInvalid("intervene: minimum stratum and arm sizes must be positive")
	}
	if c.Intervene.BootstrapSamples < 1 {
		return errors.ConfigInvalid("intervene: bootstrap samples must be positive")
	}
	if c.Intervene.LowPercentile <= 0 || c.Intervene.HighPercentile >= 100 ||
		c.Intervene.LowPercentile >= c.Intervene.HighPercentile {
		return errors.ConfigInvalid("intervene: arm percentiles must satisfy 0 < low < high < 100")
	}
	if c.Intervene.GammaMax < 1.0 || c.Intervene.GammaStep <= 0 {
		return errors.ConfigInvalid("intervene: sensitivity grid must start at 1.0 with a positive step")
	}
	if c.IV.WeakFThreshold <= 0 || c.IV.StrongFThreshold < c.IV.WeakFThreshold {
		return errors.ConfigInvalid("iv: F thresholds must satisfy 0 < weak <= strong")
	}
	if c.Gates.OverlapLow <= 0 || c.Gates.OverlapHigh >= 1 || c.Gates.OverlapLow >= c.Gates.OverlapHigh {
		return errors.ConfigInvalid("gates: overlap bounds must satisfy 0 < low < high < 1")
	}
	if c.Gates.MaxOverlapShare <= 0 || c.Gates.MaxMissingShare <= 0 || c.Gates.MaxOutlierShare <= 0 {
		return errors.ConfigInvalid("gates: share thresholds must be positive")
	}
	if c.Gates.MinArmSize < 1 {
		return errors.ConfigInvalid("gates: minimum arm size must be positive")
	}
	if c.Gates.CanaryPassRate <= 0 || c.Gates.GoPassRate <= c.Gates.CanaryPassRate || c.Gates.GoPassRate > 1 {
		return errors.ConfigInvalid("gates: pass rates must satisfy 0 < canary < go <= 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
