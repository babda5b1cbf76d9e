package engine

import (
	"time"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/forecasting"
)

// ScorerKind selects how expected returns are produced from features
type ScorerKind string

const (
	// ScorerFeature reads one feature column
	ScorerFeature ScorerKind = "feature"
	// ScorerLinear fits a ridge regression on history before each date
	ScorerLinear ScorerKind = "linear"
	// ScorerStumps fits a boosted stump ensemble on history before each date
	ScorerStumps ScorerKind = "stumps"
	// ScorerBlend averages its components with Weights
	ScorerBlend ScorerKind = "blend"
)

// ScorerSpec describes the scorer used for a build or backtest
type ScorerSpec struct {
	Kind    ScorerKind `json:"kind"`
	Feature string     `json:"feature,omitempty"`
	Scale   float64    `json:"scale,omitempty"`
	Lambda  float64    `json:"lambda,omitempty"`
	Rounds  int        `json:"rounds,omitempty"`

	Components []ScorerSpec `json:"components,omitempty"`
	// Weights default to equal when empty
	Weights []float64 `json:"weights,omitempty"`
}

// DefaultScorerSpec reads the "signal" feature unscaled
func DefaultScorerSpec() ScorerSpec {
	return ScorerSpec{Kind: ScorerFeature, Feature: "signal", Scale: 1}
}

// Validate checks the scorer settings independently of any data
func (s ScorerSpec) Validate() error {
	switch s.Kind {
	case ScorerFeature:
		if s.Feature == "" {
			return domain.InvalidConfig("scorer.feature", "a feature name is required")
		}
	case ScorerLinear:
		if s.Lambda < 0 {
			return domain.InvalidConfig("scorer.lambda", "must be non-negative, got %g", s.Lambda)
		}
	case ScorerStumps:
		if s.Rounds < 0 {
			return domain.InvalidConfig("scorer.rounds", "must be non-negative, got %d", s.Rounds)
		}
	case ScorerBlend:
		if len(s.Components) == 0 {
			return domain.InvalidConfig("scorer.components", "a blend needs at least one component")
		}
		if len(s.Weights) > 0 && len(s.Weights) != len(s.Components) {
			return domain.InvalidConfig("scorer.weights", "%d weights for %d components", len(s.Weights), len(s.Components))
		}
		total := 0.0
		for _, w := range s.Weights {
			if w < 0 {
				return domain.InvalidConfig("scorer.weights", "must be non-negative, got %g", w)
			}
			total += w
		}
		if len(s.Weights) > 0 && total == 0 {
			return domain.InvalidConfig("scorer.weights", "at least one weight must be positive")
		}
		for _, c := range s.Components {
			if c.Kind == ScorerBlend {
				return domain.InvalidConfig("scorer.components", "blends cannot be nested")
			}
			if err := c.Validate(); err != nil {
				return err
			}
		}
	default:
		return domain.InvalidConfig("scorer.kind", "unknown scorer %q", s.Kind)
	}
	return nil
}

// build resolves the settings into a Scorer for asOf. Fitted scorers only see
// samples realized at or before asOf.
func (s ScorerSpec) build(features domain.FeatureMatrix, returns domain.ReturnPath, asOf time.Time, lookback int) (forecasting.Scorer, error) {
	switch s.Kind {
	case ScorerBlend:
		scorers := make([]forecasting.Scorer, len(s.Components))
		for i, c := range s.Components {
			scorer, err := c.build(features, returns, asOf, lookback)
			if err != nil {
				return nil, err
			}
			scorers[i] = scorer
		}
		return forecasting.BlendScorers(scorers, s.Weights), nil
	case ScorerLinear:
		set, err := forecasting.BuildTrainingSet(features, returns, asOf, lookback)
		if err != nil {
			return nil, err
		}
		model, err := forecasting.FitLinearModel(set, s.Lambda)
		if err != nil {
			return nil, err
		}
		return model.Score, nil
	case ScorerStumps:
		set, err := forecasting.BuildTrainingSet(features, returns, asOf, lookback)
		if err != nil {
			return nil, err
		}
		opts := forecasting.DefaultBoostingOptions()
		if s.Rounds > 0 {
			opts.Rounds = s.Rounds
		}
		model, err := forecasting.FitStumpEnsemble(set, opts)
		if err != nil {
			return nil, err
		}
		return model.Score, nil
	default:
		idx := features.FeatureIndex(s.Feature)
		if idx < 0 {
			return nil, domain.InvalidConfig("scorer.feature", "unknown feature %q", s.Feature)
		}
		scale := s.Scale
		if scale == 0 {
			scale = 1
		}
		return forecasting.FeatureScorer(idx, scale), nil
	}
}
