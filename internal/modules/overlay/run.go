package overlay

import (
	"fmt"

	"github.com/aristath/allocator/internal/domain"
)

// RunResult is the realized weight path of one overlay run
type RunResult struct {
	Weights   domain.WeightPath `json:"weights"`
	Decisions []Decision        `json:"decisions"`
	Final     Book              `json:"final"`
}

// Run replays prices tick by tick over universe, taking the most recent
// target at or before each tick. The Book lives only inside this call.
func (o *Overlay) Run(universe []string, targets domain.WeightPath, prices domain.PricePath) (*RunResult, error) {
	if err := targets.Validate(); err != nil {
		return nil, err
	}
	if err := prices.Validate(); err != nil {
		return nil, err
	}

	columns := make([]int, len(universe))
	for i, symbol := range universe {
		columns[i] = prices.SymbolIndex(symbol)
		if columns[i] < 0 {
			return nil, domain.InvalidConfig("universe", "no prices for %s", symbol)
		}
	}

	book := NewBook()
	res := &RunResult{Weights: make(domain.WeightPath, 0, prices.Len())}
	for t, ts := range prices.Timestamps {
		tick := Tick{Timestamp: ts, Prices: make(map[string]float64, len(universe)), Targets: domain.Weights{}}
		for i, symbol := range universe {
			tick.Prices[symbol] = prices.Prices[t][columns[i]]
		}
		if w, ok := targets.AtOrBefore(ts); ok {
			for _, symbol := range universe {
				if v, ok := w[symbol]; ok {
					tick.Targets[symbol] = v
				}
			}
		}

		next, decisions, err := o.Step(book, tick)
		if err != nil {
			return nil, fmt.Errorf("overlay tick %d: %w", t, err)
		}
		book = next
		res.Decisions = append(res.Decisions, decisions...)
		res.Weights = append(res.Weights, domain.WeightSnapshot{Timestamp: ts, Weights: book.Weights()})
	}

	stops := 0
	for _, d := range res.Decisions {
		if d.Action == ActionStopLoss || d.Action == ActionTrailingStop {
			stops++
		}
	}
	o.log.Debug().Int("ticks", prices.Len()).Int("assets", len(universe)).Int("stops", stops).Msg("Overlay run complete")

	res.Final = book
	return res, nil
}
