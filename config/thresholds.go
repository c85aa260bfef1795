package config

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrConfigInvalid marks a rejected configuration update. The store keeps
// serving the previous snapshot when an update fails validation.
var ErrConfigInvalid = errors.New("invalid configuration")

// ThresholdConfig is the runtime-tunable detection surface. It travels as a
// value: detectors take one snapshot per event so a mid-pass update can never
// mix old and new limits.
type ThresholdConfig struct {
	EntropyThreshold   float64       `json:"entropy_threshold"`
	VarianceThreshold  float64       `json:"variance_threshold"`
	ChiSquareThreshold float64       `json:"chi_square_threshold"`
	ConfidenceCutoff   float64       `json:"confidence_cutoff"`
	HighConfidenceBand float64       `json:"high_confidence_band"`
	BurstMultiplier    float64       `json:"burst_multiplier"`
	BaselineDays       int           `json:"baseline_days"`
	BucketSeconds      int           `json:"bucket_seconds"`
	MinBaselineBuckets int           `json:"min_baseline_buckets"`
	MinBurstEvents     int           `json:"min_burst_events"`
	SuppressionWindow  time.Duration `json:"suppression_window"`
}

// Thresholds assembles the tunable snapshot from the loaded configuration.
func (cfg *Config) Thresholds() ThresholdConfig {
	return ThresholdConfig{
		EntropyThreshold:   cfg.EntropyThreshold,
		VarianceThreshold:  cfg.VarianceThreshold,
		ChiSquareThreshold: cfg.ChiSquareThreshold,
		ConfidenceCutoff:   cfg.ConfidenceCutoff,
		HighConfidenceBand: cfg.HighConfidenceBand,
		BurstMultiplier:    cfg.BurstMultiplier,
		BaselineDays:       cfg.BaselineDays,
		BucketSeconds:      cfg.BucketSeconds,
		MinBaselineBuckets: cfg.MinBaselineBuckets,
		MinBurstEvents:     cfg.MinBurstEvents,
		SuppressionWindow:  cfg.SuppressionWindow,
	}
}

func (t ThresholdConfig) Validate() error {
	if t.EntropyThreshold <= 0 || t.EntropyThreshold > 8 {
		return fmt.Errorf("%w: entropy threshold %.2f outside (0, 8]", ErrConfigInvalid, t.EntropyThreshold)
	}
	if t.VarianceThreshold <= 0 {
		return fmt.Errorf("%w: variance threshold must be positive", ErrConfigInvalid)
	}
	if t.ChiSquareThreshold <= 0 {
		return fmt.Errorf("%w: chi-square threshold must be positive", ErrConfigInvalid)
	}
	if t.ConfidenceCutoff < 0 || t.ConfidenceCutoff > 1 {
		return fmt.Errorf("%w: confidence cutoff %.2f outside [0, 1]", ErrConfigInvalid, t.ConfidenceCutoff)
	}
	if t.HighConfidenceBand < t.ConfidenceCutoff || t.HighConfidenceBand > 1 {
		return fmt.Errorf("%w: high confidence band %.2f outside [cutoff, 1]", ErrConfigInvalid, t.HighConfidenceBand)
	}
	if t.BurstMultiplier <= 0 {
		return fmt.Errorf("%w: burst multiplier must be positive", ErrConfigInvalid)
	}
	if t.BaselineDays <= 0 {
		return fmt.Errorf("%w: baseline days must be positive", ErrConfigInvalid)
	}
	if t.BucketSeconds <= 0 {
		return fmt.Errorf("%w: bucket seconds must be positive", ErrConfigInvalid)
	}
	if t.MinBaselineBuckets <= 0 {
		return fmt.Errorf("%w: min baseline buckets must be positive", ErrConfigInvalid)
	}
	if t.MinBurstEvents < 1 {
		return fmt.Errorf("%w: min burst events must be at least 1", ErrConfigInvalid)
	}
	if t.SuppressionWindow < 0 {
		return fmt.Errorf("%w: suppression window must be zero or positive", ErrConfigInvalid)
	}
	return nil
}

// ThresholdStore hands out immutable threshold snapshots and swaps them
// atomically on update. Readers never block writers and vice versa.
type ThresholdStore struct {
	current atomic.Pointer[ThresholdConfig]
}

func NewThresholdStore(initial ThresholdConfig) (*ThresholdStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &ThresholdStore{}
	s.current.Store(&initial)
	return s, nil
}

// Load returns the current snapshot by value.
func (s *ThresholdStore) Load() ThresholdConfig {
	return *s.current.Load()
}

// Update validates and installs a new snapshot. On validation failure the
// previous snapshot stays in effect and the error is returned to the caller.
func (s *ThresholdStore) Update(next ThresholdConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}
