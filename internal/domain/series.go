package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// FeatureMatrix holds per-asset feature vectors over time.
// Values is indexed [timestamp][asset][feature]. A NaN cell marks a gap.
type FeatureMatrix struct {
	Symbols    []string      `json:"symbols"`
	Features   []string      `json:"features"`
	Timestamps []time.Time   `json:"timestamps"`
	Values     [][][]float64 `json:"values"`
}

// Len returns the number of timestamps
func (m FeatureMatrix) Len() int {
	return len(m.Timestamps)
}

// IndexAtOrBefore returns the last timestamp index not after t, or -1
func (m FeatureMatrix) IndexAtOrBefore(t time.Time) int {
	return indexAtOrBefore(m.Timestamps, t)
}

// Vector returns the feature vector of asset a at timestamp index ti
func (m FeatureMatrix) Vector(ti, a int) []float64 {
	return m.Values[ti][a]
}

// FeatureIndex returns the column of a named feature, or -1
func (m FeatureMatrix) FeatureIndex(name string) int {
	for i, f := range m.Features {
		if f == name {
			return i
		}
	}
	return -1
}

// Validate checks shape, ordering and symbol uniqueness
func (m FeatureMatrix) Validate() error {
	if err := validateAxes(m.Symbols, m.Timestamps); err != nil {
		return fmt.Errorf("feature matrix: %w", err)
	}
	if len(m.Values) != len(m.Timestamps) {
		return fmt.Errorf("feature matrix: %d rows for %d timestamps", len(m.Values), len(m.Timestamps))
	}
	for t, row := range m.Values {
		if len(row) != len(m.Symbols) {
			return fmt.Errorf("feature matrix: row %d has %d assets, want %d", t, len(row), len(m.Symbols))
		}
		for a, vec := range row {
			if len(vec) != len(m.Features) {
				return fmt.Errorf("feature matrix: cell (%d, %s) has %d features, want %d", t, m.Symbols[a], len(vec), len(m.Features))
			}
		}
	}
	return nil
}

// ReturnPath holds realized simple returns indexed [timestamp][asset]
type ReturnPath struct {
	Symbols    []string    `json:"symbols"`
	Timestamps []time.Time `json:"timestamps"`
	Returns    [][]float64 `json:"returns"`
}

// Len returns the number of timestamps
func (p ReturnPath) Len() int {
	return len(p.Timestamps)
}

// IndexAtOrBefore returns the last timestamp index not after t, or -1
func (p ReturnPath) IndexAtOrBefore(t time.Time) int {
	return indexAtOrBefore(p.Timestamps, t)
}

// SymbolIndex returns the column of a symbol, or -1
func (p ReturnPath) SymbolIndex(symbol string) int {
	return indexOf(p.Symbols, symbol)
}

// Column returns the return series of one asset
func (p ReturnPath) Column(a int) []float64 {
	out := make([]float64, len(p.Returns))
	for t, row := range p.Returns {
		out[t] = row[a]
	}
	return out
}

// Validate checks shape and ordering
func (p ReturnPath) Validate() error {
	if err := validateAxes(p.Symbols, p.Timestamps); err != nil {
		return fmt.Errorf("return path: %w", err)
	}
	return validateGrid("return path", p.Returns, len(p.Timestamps), len(p.Symbols))
}

// Prices compounds the returns into a price path starting every asset at
// base. The first timestamp's return is applied to base. A missing return
// carries the last price forward.
func (p ReturnPath) Prices(base float64) PricePath {
	prices := make([][]float64, len(p.Returns))
	last := make([]float64, len(p.Symbols))
	for a := range last {
		last[a] = base
	}
	for t, row := range p.Returns {
		prices[t] = make([]float64, len(row))
		for a, r := range row {
			if !math.IsNaN(r) && !math.IsInf(r, 0) {
				last[a] *= 1 + r
			}
			prices[t][a] = last[a]
		}
	}
	return PricePath{
		Symbols:    append([]string(nil), p.Symbols...),
		Timestamps: append([]time.Time(nil), p.Timestamps...),
		Prices:     prices,
	}
}

// FillGaps returns a copy with every missing return replaced by v, and the
// number of cells replaced
func (p ReturnPath) FillGaps(v float64) (ReturnPath, int) {
	out := ReturnPath{
		Symbols:    p.Symbols,
		Timestamps: p.Timestamps,
		Returns:    make([][]float64, len(p.Returns)),
	}
	filled := 0
	for t, row := range p.Returns {
		out.Returns[t] = make([]float64, len(row))
		for a, r := range row {
			if math.IsNaN(r) {
				r = v
				filled++
			}
			out.Returns[t][a] = r
		}
	}
	return out, filled
}

// PricePath holds prices indexed [timestamp][asset]. NaN marks a gap.
type PricePath struct {
	Symbols    []string    `json:"symbols"`
	Timestamps []time.Time `json:"timestamps"`
	Prices     [][]float64 `json:"prices"`
}

// Len returns the number of timestamps
func (p PricePath) Len() int {
	return len(p.Timestamps)
}

// SymbolIndex returns the column of a symbol, or -1
func (p PricePath) SymbolIndex(symbol string) int {
	return indexOf(p.Symbols, symbol)
}

// Validate checks shape, ordering and that every present price is positive
func (p PricePath) Validate() error {
	if err := validateAxes(p.Symbols, p.Timestamps); err != nil {
		return fmt.Errorf("price path: %w", err)
	}
	if err := validateGrid("price path", p.Prices, len(p.Timestamps), len(p.Symbols)); err != nil {
		return err
	}
	for t, row := range p.Prices {
		for a, v := range row {
			if v <= 0 {
				return fmt.Errorf("price path: non-positive price for %s at index %d", p.Symbols[a], t)
			}
		}
	}
	return nil
}

func indexAtOrBefore(ts []time.Time, t time.Time) int {
	return sort.Search(len(ts), func(i int) bool { return ts[i].After(t) }) - 1
}

func indexOf(symbols []string, symbol string) int {
	for i, s := range symbols {
		if s == symbol {
			return i
		}
	}
	return -1
}

func validateAxes(symbols []string, timestamps []time.Time) error {
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			return fmt.Errorf("duplicate symbol %s", s)
		}
		seen[s] = struct{}{}
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			return fmt.Errorf("timestamps not strictly increasing at index %d", i)
		}
	}
	return nil
}

func validateGrid(name string, grid [][]float64, rows, cols int) error {
	if len(grid) != rows {
		return fmt.Errorf("%s: %d rows for %d timestamps", name, len(grid), rows)
	}
	for t, row := range grid {
		if len(row) != cols {
			return fmt.Errorf("%s: row %d has %d assets, want %d", name, t, len(row), cols)
		}
		for _, v := range row {
			if math.IsInf(v, 0) {
				return fmt.Errorf("%s: infinite value at row %d", name, t)
			}
		}
	}
	return nil
}
