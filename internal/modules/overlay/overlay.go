package overlay

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

// Overlay holds validated configuration. It keeps no per-run state, so one
// Overlay can drive many concurrent runs with separate Books.
type Overlay struct {
	cfg Config
	log zerolog.Logger
}

// New validates cfg and returns an Overlay
func New(cfg Config, log zerolog.Logger) (*Overlay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Overlay{cfg: cfg, log: log.With().Str("component", "overlay").Logger()}, nil
}

// Config returns the overlay configuration
func (o *Overlay) Config() Config {
	return o.cfg
}

// Step advances prior by one tick. The order is fixed: optimizer target,
// then stop forcing, then volatility scaling, then the position-limit clamp,
// so a stopped asset can never come back through scaling.
func (o *Overlay) Step(prior Book, tick Tick) (Book, []Decision, error) {
	next := prior.clone()

	row, err := o.recordReturns(&next, tick)
	if err != nil {
		return prior, nil, err
	}

	symbols := tickSymbols(prior, tick)
	decisions := make([]Decision, 0, len(symbols))
	for _, symbol := range symbols {
		target := math.Max(0, tick.Targets[symbol])
		price := tick.Prices[symbol]

		st, ok := next.States[symbol]
		if !ok || (st.flat() && target > 0) {
			if target <= 0 {
				continue
			}
			next.States[symbol] = State{EntryPrice: price, HighWaterMark: price, Weight: target}
			decisions = append(decisions, Decision{Timestamp: tick.Timestamp, Symbol: symbol, Action: ActionEnter, Target: target, Weight: target, Price: price})
			continue
		}

		st.HighWaterMark = math.Max(st.HighWaterMark, price)
		st.Drawdown = (st.HighWaterMark - price) / st.HighWaterMark
		if r, ok := row[symbol]; ok {
			lambda := o.cfg.EWMALambda
			st.Volatility = math.Sqrt(lambda*st.Volatility*st.Volatility + (1-lambda)*r*r)
		}

		action := ActionHold
		weight := target
		switch {
		case st.flat() && target <= 0:
			delete(next.States, symbol)
			decisions = append(decisions, Decision{Timestamp: tick.Timestamp, Symbol: symbol, Action: ActionClosed, Target: target, Price: price, Drawdown: st.Drawdown})
			continue
		case (price-st.EntryPrice)/st.EntryPrice <= -o.cfg.StopLossThreshold:
			action, weight = ActionStopLoss, 0
		case st.Drawdown >= o.cfg.TrailingStop:
			action, weight = ActionTrailingStop, 0
		case target <= 0:
			action, weight = ActionExit, 0
		}

		st.Weight = weight
		if weight == 0 {
			st.ZeroTicks++
		} else {
			st.ZeroTicks = 0
		}
		next.States[symbol] = st
		decisions = append(decisions, Decision{Timestamp: tick.Timestamp, Symbol: symbol, Action: action, Target: target, Weight: weight, Price: price, Drawdown: st.Drawdown})
	}

	held := next.symbols()
	weights := make([]float64, len(held))
	for i, symbol := range held {
		weights[i] = next.States[symbol].Weight
	}
	o.scaleToVolTarget(held, weights, next.Returns)
	capPositions(weights, o.cfg.MaxPosition)

	final := make(map[string]float64, len(held))
	for i, symbol := range held {
		st := next.States[symbol]
		st.Weight = weights[i]
		next.States[symbol] = st
		final[symbol] = weights[i]
	}
	for i := range decisions {
		if w, ok := final[decisions[i].Symbol]; ok {
			decisions[i].Weight = w
		}
	}

	return next, decisions, nil
}

// recordReturns appends this tick's asset returns to the trailing window.
// Held and targeted assets need a valid price; any other asset without one
// is a gap and simply contributes no return.
func (o *Overlay) recordReturns(b *Book, tick Tick) (map[string]float64, error) {
	for _, symbol := range tickSymbols(*b, tick) {
		if p, ok := tick.Prices[symbol]; !ok || !(p > 0) {
			return nil, missingPrice(symbol, tick)
		}
	}

	row := make(map[string]float64, len(tick.Prices))
	for symbol, p := range tick.Prices {
		if !(p > 0) {
			continue
		}
		if last, ok := b.LastPrices[symbol]; ok {
			row[symbol] = p/last - 1
		}
		b.LastPrices[symbol] = p
	}

	if len(row) > 0 {
		b.Returns = append(b.Returns, row)
		if len(b.Returns) > o.cfg.VolWindow {
			b.Returns = b.Returns[len(b.Returns)-o.cfg.VolWindow:]
		}
	}
	return row, nil
}

func missingPrice(symbol string, tick Tick) error {
	return fmt.Errorf("%w at %s", &domain.InsufficientHistoryError{What: "price of " + symbol, Need: 1, Have: 0},
		tick.Timestamp.Format("2006-01-02"))
}

// scaleToVolTarget scales weights so the trailing portfolio volatility under
// them matches the target, never above full investment.
func (o *Overlay) scaleToVolTarget(symbols []string, weights []float64, window []map[string]float64) {
	if len(window) < 2 || sum(weights) <= 0 {
		return
	}

	series := make([]float64, len(window))
	for t, row := range window {
		for i, symbol := range symbols {
			series[t] += weights[i] * row[symbol]
		}
	}
	realized := formulas.AnnualizedVolatility(series, o.cfg.PeriodsPerYear)
	if !(realized > 0) {
		return
	}

	scale := o.cfg.VolTarget / realized
	gross := 0.0
	for i := range weights {
		weights[i] *= scale
		gross += weights[i]
	}
	if gross > 1 {
		for i := range weights {
			weights[i] /= gross
		}
	}
	o.log.Debug().Float64("realized_vol", realized).Float64("scale", scale).Msg("Volatility target applied")
}

// capPositions clamps weights to max and hands the excess to positive
// uncapped positions in proportion to their size. Excess nobody can absorb
// stays in cash.
func capPositions(weights []float64, max float64) {
	for range weights {
		excess, room := 0.0, 0.0
		for i, w := range weights {
			if w > max {
				excess += w - max
				weights[i] = max
			} else if w > 0 && w < max {
				room += w
			}
		}
		if excess <= 1e-15 || room <= 0 {
			return
		}
		for i, w := range weights {
			if w > 0 && w < max {
				weights[i] += excess * w / room
			}
		}
	}
	for i, w := range weights {
		weights[i] = math.Min(w, max)
	}
}

// tickSymbols is every asset with state or a positive target, sorted
func tickSymbols(b Book, tick Tick) []string {
	out := make([]string, 0, len(b.States)+len(tick.Targets))
	for symbol := range b.States {
		out = append(out, symbol)
	}
	for symbol, w := range tick.Targets {
		if _, held := b.States[symbol]; w > 0 && !held {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

func sum(v []float64) float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	return total
}
