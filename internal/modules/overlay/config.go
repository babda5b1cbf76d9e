// Package overlay applies stop-loss, trailing-stop, volatility targeting and
// position limits to optimizer targets as prices arrive.
package overlay

import "github.com/aristath/allocator/internal/domain"

// Config holds overlay parameters. Thresholds are fractions of price.
type Config struct {
	StopLossThreshold float64 `json:"stop_loss_threshold"`
	TrailingStop      float64 `json:"trailing_stop"`
	// VolTarget is the annualised portfolio volatility to scale toward
	VolTarget   float64 `json:"vol_target"`
	MaxPosition float64 `json:"max_position"`

	VolWindow      int     `json:"vol_window"`
	PeriodsPerYear int     `json:"periods_per_year"`
	EWMALambda     float64 `json:"ewma_lambda"`
}

// DefaultConfig returns the default overlay configuration
func DefaultConfig() Config {
	return Config{
		StopLossThreshold: 0.10,
		TrailingStop:      0.15,
		VolTarget:         0.15,
		MaxPosition:       0.30,
		VolWindow:         20,
		PeriodsPerYear:    252,
		EWMALambda:        0.94,
	}
}

// Validate checks every parameter range
func (c Config) Validate() error {
	if !(c.StopLossThreshold > 0 && c.StopLossThreshold <= 1) {
		return domain.InvalidConfig("stop_loss_threshold", "must be in (0, 1], got %g", c.StopLossThreshold)
	}
	if !(c.TrailingStop > 0 && c.TrailingStop <= 1) {
		return domain.InvalidConfig("trailing_stop", "must be in (0, 1], got %g", c.TrailingStop)
	}
	if !(c.VolTarget > 0) {
		return domain.InvalidConfig("vol_target", "must be positive, got %g", c.VolTarget)
	}
	if !(c.MaxPosition > 0 && c.MaxPosition <= 1) {
		return domain.InvalidConfig("max_position", "must be in (0, 1], got %g", c.MaxPosition)
	}
	if c.VolWindow < 2 {
		return domain.InvalidConfig("vol_window", "must be at least 2, got %d", c.VolWindow)
	}
	if c.PeriodsPerYear <= 0 {
		return domain.InvalidConfig("periods_per_year", "must be positive, got %d", c.PeriodsPerYear)
	}
	if !(c.EWMALambda > 0 && c.EWMALambda < 1) {
		return domain.InvalidConfig("ewma_lambda", "must be in (0, 1), got %g", c.EWMALambda)
	}
	return nil
}
