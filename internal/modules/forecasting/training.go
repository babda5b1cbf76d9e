package forecasting

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// TrainingSet pairs feature vectors with the next-period return they preceded
type TrainingSet struct {
	X [][]float64
	Y []float64
}

// Len returns the number of samples
func (s TrainingSet) Len() int {
	return len(s.Y)
}

// BuildTrainingSet collects (features at s, return over the following period)
// pairs whose return is realized at or before asOf, across the last lookback
// return periods. No sample looks past asOf.
func BuildTrainingSet(features domain.FeatureMatrix, returns domain.ReturnPath, asOf time.Time, lookback int) (TrainingSet, error) {
	columns := make([]int, len(features.Symbols))
	for i, s := range features.Symbols {
		columns[i] = returns.SymbolIndex(s)
		if columns[i] < 0 {
			return TrainingSet{}, fmt.Errorf("asset %s has features but no returns", s)
		}
	}

	ri := returns.IndexAtOrBefore(asOf)
	start := ri - lookback + 1
	if start < 1 {
		start = 1
	}

	var set TrainingSet
	for r := start; r <= ri; r++ {
		fi := features.IndexAtOrBefore(returns.Timestamps[r-1])
		if fi < 0 {
			continue
		}
		for a, c := range columns {
			y := returns.Returns[r][c]
			x := features.Vector(fi, a)
			if math.IsNaN(y) || hasNaN(x) {
				continue
			}
			set.X = append(set.X, append([]float64(nil), x...))
			set.Y = append(set.Y, y)
		}
	}

	if set.Len() == 0 {
		return set, &domain.InsufficientHistoryError{What: "training samples", Need: 1, Have: 0}
	}
	return set, nil
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}
