package config

import (
	"testing"

	"causalscope/internal/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero candidates", func(c *Config) { c.Identify.MaxCandidateVertices = 0 }},
		{"one treatment bin", func(c *Config) { c.Intervene.TreatmentBins = 1 }},
		{"zero stratum size", func(c *Config) { c.Intervene.MinStratumSize = 0 }},
		{"zero bootstrap", func(c *Config) { c.Intervene.BootstrapSamples = 0 }},
		{"inverted percentiles", func(c *Config) {
			c.Intervene.LowPercentile = 80
			c.Intervene.HighPercentile = 20
		}},
		{"gamma below one", func(c *Config) { c.Intervene.GammaMax = 0.5 }},
		{"inverted F thresholds", func(c *Config) {
			c.IV.WeakFThreshold = 20
			c.IV.StrongFThreshold = 10
		}},
		{"inverted overlap bounds", func(c *Config) {
			c.Gates.OverlapLow = 0.9
			c.Gates.OverlapHigh = 0.1
		}},
		{"go below canary", func(c *Config) {
			c.Gates.GoPassRate = 0.4
			c.Gates.CanaryPassRate = 0.5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.IsConfigInvalid(err) {
				t.Errorf("expected config-invalid error, got %v", err)
			}
		})
	}
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	t.Setenv("CAUSAL_MAX_CANDIDATES", "12")
	t.Setenv("CAUSAL_BOOTSTRAP_SAMPLES", "250")
	t.Setenv("CAUSAL_WEAK_F", "8.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Identify.MaxCandidateVertices != 12 {
		t.Errorf("expected candidate ceiling 12, got %d", cfg.Identify.MaxCandidateVertices)
	}
	if cfg.Intervene.BootstrapSamples != 250 {
		t.Errorf("expected 250 bootstrap samples, got %d", cfg.Intervene.BootstrapSamples)
	}
	if cfg.IV.WeakFThreshold != 8.5 {
		t.Errorf("expected weak F threshold 8.5, got %f", cfg.IV.WeakFThreshold)
	}
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	t.Setenv("CAUSAL_MAX_CANDIDATES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for zero candidate ceiling")
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("CAUSAL_BOOTSTRAP_SAMPLES", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Intervene.BootstrapSamples != Default().Intervene.BootstrapSamples {
		t.Errorf("unparseable override must fall back to the default, got %d", cfg.Intervene.BootstrapSamples)
	}
}
