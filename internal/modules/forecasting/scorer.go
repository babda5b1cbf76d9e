package forecasting

// FeatureScorer reads a single feature column and scales it. A momentum or
// analyst-signal column becomes an expected return this way.
func FeatureScorer(index int, scale float64) Scorer {
	return func(features []float64) float64 {
		if index < 0 || index >= len(features) {
			return 0
		}
		return scale * features[index]
	}
}

// BlendScorers averages several scorers with the given weights
func BlendScorers(scorers []Scorer, weights []float64) Scorer {
	return func(features []float64) float64 {
		total, norm := 0.0, 0.0
		for i, s := range scorers {
			w := 1.0
			if i < len(weights) {
				w = weights[i]
			}
			total += w * s(features)
			norm += w
		}
		if norm == 0 {
			return 0
		}
		return total / norm
	}
}
