package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// MarketProvider serves a Market through the DataProvider interface.
// It records every call so tests can assert what the engine asked for.
type MarketProvider struct {
	market Market

	mu    sync.Mutex
	calls []ProviderCall
	err   error
}

// ProviderCall records one DataProvider request
type ProviderCall struct {
	Method  string
	Symbols []string
	End     time.Time
}

// NewMarketProvider wraps a market
func NewMarketProvider(m Market) *MarketProvider {
	return &MarketProvider{market: m}
}

// SetError makes every subsequent call fail with err
func (p *MarketProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns a copy of the recorded calls
func (p *MarketProvider) Calls() []ProviderCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProviderCall(nil), p.calls...)
}

func (p *MarketProvider) record(method string, symbols []string, end time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ProviderCall{Method: method, Symbols: append([]string(nil), symbols...), End: end})
	return p.err
}

// GetAssets returns the requested assets in request order
func (p *MarketProvider) GetAssets(ctx context.Context, symbols []string) ([]domain.Asset, error) {
	if err := p.record("GetAssets", symbols, time.Time{}); err != nil {
		return nil, err
	}
	out := make([]domain.Asset, 0, len(symbols))
	for _, s := range symbols {
		found := false
		for _, a := range p.market.Assets {
			if a.Symbol == s {
				out = append(out, a)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown symbol %s", s)
		}
	}
	return out, nil
}

// GetFeatureMatrix slices the market's features to symbols and [start, end]
func (p *MarketProvider) GetFeatureMatrix(ctx context.Context, symbols []string, start, end time.Time) (domain.FeatureMatrix, error) {
	if err := p.record("GetFeatureMatrix", symbols, end); err != nil {
		return domain.FeatureMatrix{}, err
	}
	cols, err := columns(p.market.Features.Symbols, symbols)
	if err != nil {
		return domain.FeatureMatrix{}, err
	}
	from, to := window(p.market.Features.Timestamps, start, end)

	values := make([][][]float64, 0, to-from)
	for t := from; t < to; t++ {
		row := make([][]float64, len(cols))
		for i, c := range cols {
			row[i] = append([]float64(nil), p.market.Features.Values[t][c]...)
		}
		values = append(values, row)
	}
	return domain.FeatureMatrix{
		Symbols:    append([]string(nil), symbols...),
		Features:   append([]string(nil), p.market.Features.Features...),
		Timestamps: append([]time.Time(nil), p.market.Features.Timestamps[from:to]...),
		Values:     values,
	}, nil
}

// GetReturns slices the market's returns to symbols and [start, end]
func (p *MarketProvider) GetReturns(ctx context.Context, symbols []string, start, end time.Time) (domain.ReturnPath, error) {
	if err := p.record("GetReturns", symbols, end); err != nil {
		return domain.ReturnPath{}, err
	}
	cols, err := columns(p.market.Returns.Symbols, symbols)
	if err != nil {
		return domain.ReturnPath{}, err
	}
	from, to := window(p.market.Returns.Timestamps, start, end)

	returns := make([][]float64, 0, to-from)
	for t := from; t < to; t++ {
		row := make([]float64, len(cols))
		for i, c := range cols {
			row[i] = p.market.Returns.Returns[t][c]
		}
		returns = append(returns, row)
	}
	return domain.ReturnPath{
		Symbols:    append([]string(nil), symbols...),
		Timestamps: append([]time.Time(nil), p.market.Returns.Timestamps[from:to]...),
		Returns:    returns,
	}, nil
}

func columns(have, want []string) ([]int, error) {
	cols := make([]int, len(want))
	for i, s := range want {
		cols[i] = -1
		for j, h := range have {
			if h == s {
				cols[i] = j
				break
			}
		}
		if cols[i] < 0 {
			return nil, fmt.Errorf("unknown symbol %s", s)
		}
	}
	return cols, nil
}

// window returns the half-open index range of timestamps within [start, end].
// A zero start or end is unbounded.
func window(ts []time.Time, start, end time.Time) (int, int) {
	from, to := 0, len(ts)
	for from < to && !start.IsZero() && ts[from].Before(start) {
		from++
	}
	for to > from && !end.IsZero() && ts[to-1].After(end) {
		to--
	}
	return from, to
}
