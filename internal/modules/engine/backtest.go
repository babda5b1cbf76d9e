package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/analytics"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/overlay"
)

// BacktestRequest describes one walk-forward simulation. Nil sections fall
// back to the engine settings.
type BacktestRequest struct {
	Name        string                      `json:"name,omitempty" msgpack:"name"`
	Universe    []string                    `json:"universe" msgpack:"universe"`
	Start       time.Time                   `json:"start" msgpack:"start"`
	End         time.Time                   `json:"end" msgpack:"end"`
	Benchmark   string                      `json:"benchmark,omitempty" msgpack:"benchmark"`
	Lookback    int                         `json:"lookback,omitempty" msgpack:"lookback"`
	Rebalance   domain.RebalanceFrequency   `json:"rebalance_frequency,omitempty" msgpack:"rebalance_frequency"`
	Scorer      *ScorerSpec                 `json:"scorer,omitempty" msgpack:"scorer"`
	Constraints *optimization.ConstraintSet `json:"constraints,omitempty" msgpack:"constraints"`
	Overlay     *overlay.Config             `json:"overlay,omitempty" msgpack:"overlay"`
	Analytics   *analytics.Options          `json:"analytics,omitempty" msgpack:"analytics"`
}

// BacktestResult is a completed simulation
type BacktestResult struct {
	ID        string            `json:"id" msgpack:"id"`
	CreatedAt time.Time         `json:"created_at" msgpack:"created_at"`
	Request   BacktestRequest   `json:"request" msgpack:"request"`
	Targets   domain.WeightPath `json:"targets" msgpack:"targets"`
	Realized  domain.WeightPath `json:"realized" msgpack:"realized"`
	Decisions []overlay.Decision `json:"decisions" msgpack:"decisions"`
	Report    *analytics.Report `json:"report" msgpack:"report"`
	// Rebalances counts dates with a fresh target; Skipped counts dates
	// without enough history to forecast
	Rebalances int `json:"rebalances" msgpack:"rebalances"`
	Skipped    int `json:"skipped" msgpack:"skipped"`
}

// Backtest walks the return path from Start to End. On each rebalance date
// the optimizer sees the overlay's current holdings; between dates the
// overlay steps through every price tick with the latest target.
func (e *Engine) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	if !req.End.After(req.Start) {
		return nil, domain.InvalidConfig("end", "must be after start")
	}
	cs, lookback, spec, err := e.resolve(req.Constraints, req.Lookback, req.Scorer)
	if err != nil {
		return nil, err
	}
	freq := req.Rebalance
	if freq == "" {
		freq = e.settings.Rebalance
	}
	schedule, err := NewRebalanceSchedule(freq)
	if err != nil {
		return nil, err
	}
	ocfg := e.settings.Overlay
	if req.Overlay != nil {
		ocfg = *req.Overlay
	}
	ov, err := overlay.New(ocfg, e.log)
	if err != nil {
		return nil, err
	}
	aopts := e.settings.Analytics
	if req.Analytics != nil {
		aopts = *req.Analytics
	}
	if err := aopts.Validate(); err != nil {
		return nil, err
	}

	symbols := req.Universe
	if req.Benchmark != "" && !contains(symbols, req.Benchmark) {
		symbols = append(append([]string(nil), symbols...), req.Benchmark)
	}
	h, err := e.load(ctx, symbols, req.End)
	if err != nil {
		return nil, err
	}
	universe := &history{assets: h.assets, features: h.features, returns: h.returns}
	if len(symbols) != len(req.Universe) {
		universe = restrict(h, req.Universe)
	}
	cs = cs.WithAssets(universe.assets)

	prices := h.returns.Prices(100)
	rebalances := make(map[time.Time]bool)
	for _, ts := range schedule.Dates(h.returns.Timestamps, req.Start, req.End) {
		rebalances[ts] = true
	}

	res := &BacktestResult{ID: uuid.New().String(), CreatedAt: time.Now().UTC(), Request: req}
	book := overlay.NewBook()
	var target domain.Weights
	for t, ts := range h.returns.Timestamps {
		if ts.Before(req.Start) || ts.After(req.End) {
			continue
		}

		if rebalances[ts] {
			p, err := e.build(universe, ts, cs, lookback, spec, book.Weights())
			switch {
			case err == nil:
				target = p.Weights
				res.Targets = append(res.Targets, domain.WeightSnapshot{Timestamp: ts, Weights: target})
				res.Rebalances++
			case errors.Is(err, domain.ErrInsufficientHistory):
				e.log.Warn().Err(err).Time("date", ts).Msg("Skipping rebalance")
				res.Skipped++
			default:
				return nil, err
			}
		}

		tick := overlay.Tick{Timestamp: ts, Prices: make(map[string]float64, len(req.Universe)), Targets: target}
		for _, symbol := range req.Universe {
			a := prices.SymbolIndex(symbol)
			if a < 0 {
				return nil, domain.InvalidConfig("universe", "no returns for %s", symbol)
			}
			tick.Prices[symbol] = prices.Prices[t][a]
		}
		next, decisions, err := ov.Step(book, tick)
		if err != nil {
			return nil, err
		}
		book = next
		res.Decisions = append(res.Decisions, decisions...)
		res.Realized = append(res.Realized, domain.WeightSnapshot{Timestamp: ts, Weights: book.Weights()})
	}

	if res.Rebalances == 0 {
		return nil, &domain.InsufficientHistoryError{What: "backtest rebalances", Need: 1, Have: 0}
	}

	// the overlay priced gaps flat, so the report books them as zero returns
	realized, gaps := h.returns.FillGaps(0)
	var benchmark []float64
	if req.Benchmark != "" {
		benchmark = realized.Column(realized.SymbolIndex(req.Benchmark))
	}
	res.Report, err = analytics.ComputeReport(res.Realized, realized, benchmark, aopts)
	if err != nil {
		return nil, err
	}
	if gaps > 0 {
		e.log.Warn().Str("backtest_id", res.ID).Int("gaps", gaps).Msg("Missing returns treated as flat")
		res.Report.Warnings = append(res.Report.Warnings, fmt.Sprintf("%d missing returns treated as zero", gaps))
	}

	e.log.Info().
		Str("backtest_id", res.ID).
		Int("rebalances", res.Rebalances).
		Int("skipped", res.Skipped).
		Msg("Backtest complete")
	return res, nil
}

// restrict narrows loaded history to symbols
func restrict(h *history, symbols []string) *history {
	out := &history{}
	for _, a := range h.assets {
		if contains(symbols, a.Symbol) {
			out.assets = append(out.assets, a)
		}
	}

	fcols := make([]int, len(symbols))
	rcols := make([]int, len(symbols))
	for i, s := range symbols {
		fcols[i] = indexOf(h.features.Symbols, s)
		rcols[i] = h.returns.SymbolIndex(s)
	}

	out.features = domain.FeatureMatrix{
		Symbols:    append([]string(nil), symbols...),
		Features:   h.features.Features,
		Timestamps: h.features.Timestamps,
		Values:     make([][][]float64, len(h.features.Values)),
	}
	for t, row := range h.features.Values {
		out.features.Values[t] = make([][]float64, len(symbols))
		for i, c := range fcols {
			if c >= 0 {
				out.features.Values[t][i] = row[c]
			}
		}
	}

	out.returns = domain.ReturnPath{
		Symbols:    append([]string(nil), symbols...),
		Timestamps: h.returns.Timestamps,
		Returns:    make([][]float64, len(h.returns.Returns)),
	}
	for t, row := range h.returns.Returns {
		out.returns.Returns[t] = make([]float64, len(symbols))
		for i, c := range rcols {
			if c >= 0 {
				out.returns.Returns[t][i] = row[c]
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	return indexOf(list, s) >= 0
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
