package optimization

import (
	"math"
	"sort"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/forecasting"
)

// candidate is one forecast asset annotated for selection
type candidate struct {
	index    int
	symbol   string
	sector   string
	score    float64
	cost     float64
	cap      float64
	eligible bool
}

// rankAssets orders the forecast universe by expected return per unit of
// volatility. Ties go to the cheaper asset, then to the lower symbol.
func rankAssets(fc *forecasting.ReturnForecast, cs ConstraintSet) []candidate {
	ranked := make([]candidate, len(fc.Symbols))
	for i, symbol := range fc.Symbols {
		score := 0.0
		if sd := math.Sqrt(fc.Risk.AssetVariance(i)); sd > 0 {
			score = fc.Expected[i] / sd
		}
		ranked[i] = candidate{
			index:    i,
			symbol:   symbol,
			sector:   cs.sectorOf(symbol),
			score:    score,
			cost:     cs.costFor(symbol),
			cap:      cs.capFor(symbol),
			eligible: cs.eligible(symbol),
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		if ranked[a].cost != ranked[b].cost {
			return ranked[a].cost < ranked[b].cost
		}
		return ranked[a].symbol < ranked[b].symbol
	})
	return ranked
}

// maxPositions is how many assets can be selected without their minimum
// positions overshooting the target.
func maxPositions(cs ConstraintSet, universe int) int {
	if cs.MinPosition <= 0 {
		return universe
	}
	n := int(math.Floor((cs.Target() + BoundTolerance) / cs.MinPosition))
	if n > universe {
		return universe
	}
	return n
}

// sectorSlots is how many minimum-sized positions a sector can host
func sectorSlots(cs ConstraintSet, sector string) int {
	limit := cs.sectorLimit(sector)
	if math.IsInf(limit, 1) || cs.MinPosition <= 0 {
		return math.MaxInt
	}
	return int(math.Floor((limit + BoundTolerance) / cs.MinPosition))
}

// selectCandidates walks the ranking and returns the assets that enter the
// portfolio. Sector minimums are seeded first. Non-positive scores only join
// while the selection cannot yet absorb the target, or until at least
// minCount assets are held. The result keeps ranking order.
func selectCandidates(ranked []candidate, cs ConstraintSet, minCount int) ([]candidate, error) {
	target := cs.Target()
	limit := maxPositions(cs, len(ranked))

	chosen := make(map[string]bool)
	perSector := make(map[string]int)
	var selected []candidate

	admit := func(c candidate) bool {
		if chosen[c.symbol] || !c.eligible || len(selected) >= limit {
			return false
		}
		if perSector[c.sector] >= sectorSlots(cs, c.sector) {
			return false
		}
		chosen[c.symbol] = true
		perSector[c.sector]++
		selected = append(selected, c)
		return true
	}

	for _, sector := range sortedKeys(cs.SectorMinimums) {
		minimum := cs.SectorMinimums[sector]
		if minimum <= 0 {
			continue
		}
		held := 0.0
		for _, c := range selected {
			if c.sector == sector {
				held += c.cap
			}
		}
		for _, c := range ranked {
			if held >= minimum-BoundTolerance {
				break
			}
			if c.sector == sector && admit(c) {
				held += c.cap
			}
		}
		if math.Min(held, cs.sectorLimit(sector)) < minimum-BoundTolerance {
			return nil, domain.Infeasible(ConstraintSectorMinimums, "sector %s cannot reach its minimum %.4f with %d positions", sector, minimum, perSector[sector])
		}
	}

	all := func(candidate) bool { return true }
	for _, c := range ranked {
		if len(selected) >= limit {
			break
		}
		covered := sectorCapacity(cs, selected, all) >= target-BoundTolerance
		if c.score <= 0 && covered && len(selected) >= minCount {
			break
		}
		admit(c)
	}

	if capacity := sectorCapacity(cs, selected, all); capacity < target-BoundTolerance {
		constraint := ConstraintMaxPosition
		if len(cs.SectorLimits) > 0 {
			constraint = ConstraintSectorLimits
		}
		return nil, domain.Infeasible(constraint, "%d selectable positions absorb %.4f of target %.4f", len(selected), capacity, target)
	}

	// Restore ranking order after sector seeding
	sort.SliceStable(selected, func(a, b int) bool {
		return rankOf(ranked, selected[a].symbol) < rankOf(ranked, selected[b].symbol)
	})
	return selected, nil
}

func rankOf(ranked []candidate, symbol string) int {
	for i, c := range ranked {
		if c.symbol == symbol {
			return i
		}
	}
	return len(ranked)
}
