package formulas

// DrawdownMetrics represents drawdown analysis results
type DrawdownMetrics struct {
	MaxDrawdown     float64 `json:"max_drawdown"`     // Positive fraction, 0.25 = 25% below peak
	CurrentDrawdown float64 `json:"current_drawdown"` // Drawdown at the last period
	PeakIndex       int     `json:"peak_index"`       // Wealth index position of the peak preceding the trough
	TroughIndex     int     `json:"trough_index"`     // Wealth index position of the deepest point
	// RecoveryPeriods counts periods from the trough until wealth is back at
	// the prior peak. nil means the series never recovers.
	RecoveryPeriods *int `json:"recovery_periods"`
}

// CalculateDrawdownMetrics measures drawdowns on the compounded wealth path of
// periodic returns. Wealth starts at 1.0 before the first period, so a loss in
// the very first period counts against that initial peak.
//
// Drawdown Formula:
//
//	Drawdown(t) = (Peak(t) - Wealth(t)) / Peak(t)
//	Max Drawdown = max over t of Drawdown(t)
func CalculateDrawdownMetrics(returns []float64) DrawdownMetrics {
	wealth := WealthIndex(returns)

	metrics := DrawdownMetrics{}
	peak := wealth[0]
	peakIndex := 0
	troughPeak := peak

	for i, w := range wealth {
		if w > peak {
			peak = w
			peakIndex = i
		}

		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - w) / peak
		}
		if drawdown > metrics.MaxDrawdown {
			metrics.MaxDrawdown = drawdown
			metrics.PeakIndex = peakIndex
			metrics.TroughIndex = i
			troughPeak = peak
		}
		metrics.CurrentDrawdown = drawdown
	}

	if metrics.MaxDrawdown == 0 {
		zero := 0
		metrics.RecoveryPeriods = &zero
		return metrics
	}

	for i := metrics.TroughIndex + 1; i < len(wealth); i++ {
		if wealth[i] >= troughPeak {
			periods := i - metrics.TroughIndex
			metrics.RecoveryPeriods = &periods
			break
		}
	}

	return metrics
}
