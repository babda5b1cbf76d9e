// Package optimization provides portfolio optimization functionality.
package optimization

import (
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
)

// Defaults for a ConstraintSet
const (
	DefaultMaxPosition   = 0.30
	DefaultMinPosition   = 0.05
	DefaultRiskTolerance = 0.5

	// BoundTolerance is the distance at which a weight counts as sitting on a bound
	BoundTolerance = 1e-6
)

// Constraint identifiers reported by InfeasibleError
const (
	ConstraintMinPosition    = "min_position"
	ConstraintMaxPosition    = "max_position"
	ConstraintSectorLimits   = "sector_limits"
	ConstraintSectorMinimums = "sector_minimums"
	ConstraintRiskBudget     = "risk_budget"
	ConstraintCashReserve    = "cash_reserve"
)

// ConstraintSet is the per-optimization configuration. RiskTolerance and
// TurnoverPenalty shape the objective; everything else bounds the feasible set.
type ConstraintSet struct {
	RiskTolerance float64 `json:"risk_tolerance"`
	MaxPosition   float64 `json:"max_position"`
	// MinPosition applies only to assets selected into the portfolio
	MinPosition     float64            `json:"min_position"`
	SectorLimits    map[string]float64 `json:"sector_limits,omitempty"`
	SectorMinimums  map[string]float64 `json:"sector_minimums,omitempty"`
	TurnoverPenalty float64            `json:"turnover_penalty"`
	// RiskBudget caps portfolio variance; 0 disables the cap
	RiskBudget  float64 `json:"risk_budget"`
	CashReserve float64 `json:"cash_reserve"`
	// TransactionCosts overrides the liquidity-tier cost estimate per asset
	TransactionCosts map[string]float64 `json:"transaction_costs,omitempty"`

	assets map[string]domain.Asset
}

// DefaultConstraintSet returns the documented defaults
func DefaultConstraintSet() ConstraintSet {
	return ConstraintSet{
		RiskTolerance: DefaultRiskTolerance,
		MaxPosition:   DefaultMaxPosition,
		MinPosition:   DefaultMinPosition,
	}
}

// NewConstraintSet validates c and attaches asset reference data
func NewConstraintSet(c ConstraintSet, assets []domain.Asset) (ConstraintSet, error) {
	if err := c.Validate(); err != nil {
		return ConstraintSet{}, err
	}
	return c.WithAssets(assets), nil
}

// Clone returns a deep copy of the option maps
func (c ConstraintSet) Clone() ConstraintSet {
	out := c
	out.SectorLimits = cloneMap(c.SectorLimits)
	out.SectorMinimums = cloneMap(c.SectorMinimums)
	out.TransactionCosts = cloneMap(c.TransactionCosts)
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithAssets returns a copy carrying sector and liquidity data for assets
func (c ConstraintSet) WithAssets(assets []domain.Asset) ConstraintSet {
	out := c
	out.assets = make(map[string]domain.Asset, len(assets))
	for k, v := range c.assets {
		out.assets[k] = v
	}
	for _, a := range assets {
		out.assets[a.Symbol] = a
	}
	return out
}

// Validate checks every parameter range
func (c ConstraintSet) Validate() error {
	if !(c.RiskTolerance >= 0 && c.RiskTolerance <= 1) {
		return domain.InvalidConfig("risk_tolerance", "must be in [0, 1], got %g", c.RiskTolerance)
	}
	if !(c.MaxPosition > 0 && c.MaxPosition <= 1) {
		return domain.InvalidConfig("max_position", "must be in (0, 1], got %g", c.MaxPosition)
	}
	if !(c.MinPosition >= 0 && c.MinPosition < c.MaxPosition) {
		return domain.InvalidConfig("min_position", "must be in [0, max_position), got %g", c.MinPosition)
	}
	for _, sector := range sortedKeys(c.SectorLimits) {
		if v := c.SectorLimits[sector]; !(v > 0 && v <= 1) {
			return domain.InvalidConfig("sector_limits", "limit for %s must be in (0, 1], got %g", sector, v)
		}
	}
	for _, sector := range sortedKeys(c.SectorMinimums) {
		v := c.SectorMinimums[sector]
		if !(v >= 0 && v <= 1) {
			return domain.InvalidConfig("sector_minimums", "minimum for %s must be in [0, 1], got %g", sector, v)
		}
		if limit, ok := c.SectorLimits[sector]; ok && v > limit {
			return domain.InvalidConfig("sector_minimums", "minimum %g for %s exceeds its limit %g", v, sector, limit)
		}
	}
	if !(c.TurnoverPenalty >= 0) {
		return domain.InvalidConfig("turnover_penalty", "must be non-negative, got %g", c.TurnoverPenalty)
	}
	if !(c.RiskBudget >= 0) {
		return domain.InvalidConfig("risk_budget", "must be positive when set, got %g", c.RiskBudget)
	}
	if !(c.CashReserve >= 0 && c.CashReserve < 1) {
		return domain.InvalidConfig("cash_reserve", "must be in [0, 1), got %g", c.CashReserve)
	}
	for _, symbol := range sortedKeys(c.TransactionCosts) {
		if v := c.TransactionCosts[symbol]; !(v >= 0) {
			return domain.InvalidConfig("transaction_costs", "cost for %s must be non-negative, got %g", symbol, v)
		}
	}
	return nil
}

// Target is the total weight the optimizer must invest
func (c ConstraintSet) Target() float64 {
	return 1 - c.CashReserve
}

func (c ConstraintSet) sectorOf(symbol string) string {
	return c.assets[symbol].Sector
}

// capFor is the max position scaled by the asset's liquidity tier
func (c ConstraintSet) capFor(symbol string) float64 {
	a, ok := c.assets[symbol]
	if !ok {
		return c.MaxPosition
	}
	return c.MaxPosition * a.PositionScale()
}

func (c ConstraintSet) costFor(symbol string) float64 {
	if v, ok := c.TransactionCosts[symbol]; ok {
		return v
	}
	a, ok := c.assets[symbol]
	if !ok {
		return domain.Asset{}.TransactionCost()
	}
	return a.TransactionCost()
}

// sectorLimit returns the cap for a sector, +Inf when unconstrained
func (c ConstraintSet) sectorLimit(sector string) float64 {
	if v, ok := c.SectorLimits[sector]; ok && sector != "" {
		return v
	}
	return math.Inf(1)
}

// eligible reports whether an asset can hold at least the minimum position
func (c ConstraintSet) eligible(symbol string) bool {
	return c.capFor(symbol) >= c.MinPosition-BoundTolerance &&
		c.sectorLimit(c.sectorOf(symbol)) >= c.MinPosition-BoundTolerance
}

// checkFeasibility rejects constraint sets that no selection over the
// ranked universe can satisfy. It names the first irreconcilable constraint.
func (c ConstraintSet) checkFeasibility(ranked []candidate) error {
	target := c.Target()
	if c.MinPosition > target+BoundTolerance {
		return domain.Infeasible(ConstraintCashReserve, "investable weight %.4f is below one minimum position %.4f", target, c.MinPosition)
	}

	var caps []float64
	for _, cand := range ranked {
		if cand.eligible {
			caps = append(caps, cand.cap)
		}
	}
	if len(caps) == 0 {
		return domain.Infeasible(ConstraintMaxPosition, "no asset can hold the minimum position %.4f", c.MinPosition)
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(caps)))
	needed, covered := 0, 0.0
	for _, v := range caps {
		covered += v
		needed++
		if covered >= target-BoundTolerance {
			break
		}
	}
	if covered < target-BoundTolerance {
		return domain.Infeasible(ConstraintMaxPosition, "position caps sum to %.4f, below target %.4f", covered, target)
	}
	if float64(needed)*c.MinPosition > target+BoundTolerance {
		return domain.Infeasible(ConstraintMinPosition, "%d positions of at least %.4f exceed target %.4f", needed, c.MinPosition, target)
	}

	if capacity := sectorCapacity(c, ranked, func(candidate) bool { return true }); capacity < target-BoundTolerance {
		return domain.Infeasible(ConstraintSectorLimits, "sector limits admit at most %.4f of target %.4f", capacity, target)
	}

	totalMin := 0.0
	for _, sector := range sortedKeys(c.SectorMinimums) {
		minimum := c.SectorMinimums[sector]
		totalMin += minimum
		reach := 0.0
		for _, cand := range ranked {
			if cand.eligible && cand.sector == sector {
				reach += cand.cap
			}
		}
		reach = math.Min(reach, c.sectorLimit(sector))
		if reach < minimum-BoundTolerance {
			return domain.Infeasible(ConstraintSectorMinimums, "sector %s can hold at most %.4f, minimum is %.4f", sector, reach, minimum)
		}
	}
	if totalMin > target+BoundTolerance {
		return domain.Infeasible(ConstraintSectorMinimums, "sector minimums sum to %.4f, above target %.4f", totalMin, target)
	}

	return nil
}

// sectorCapacity is the most weight the included candidates can absorb when
// every sector is capped at its limit.
func sectorCapacity(c ConstraintSet, cands []candidate, include func(candidate) bool) float64 {
	bySector := make(map[string]float64)
	free := 0.0
	for _, cand := range cands {
		if !cand.eligible || !include(cand) {
			continue
		}
		if math.IsInf(c.sectorLimit(cand.sector), 1) {
			free += cand.cap
			continue
		}
		bySector[cand.sector] += cand.cap
	}

	total := free
	for _, sector := range sortedKeys(bySector) {
		total += math.Min(bySector[sector], c.sectorLimit(sector))
	}
	return total
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
