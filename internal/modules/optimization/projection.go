package optimization

import (
	"math"

	"github.com/aristath/allocator/internal/domain"
)

const bisectionIterations = 200

// sectorGroup is a set of asset indices whose summed weight is bounded
type sectorGroup struct {
	name         string
	members      []int
	lower, upper float64
}

// polytope is the feasible region for one candidate set:
// lo ≤ w ≤ hi, Σw = target, and lower ≤ Σ_{g} w ≤ upper for every group.
// Groups are disjoint.
type polytope struct {
	lo, hi []float64
	target float64
	groups []sectorGroup
	// grouped[i] is the group index of asset i, or -1
	grouped []int
}

func newPolytope(cs ConstraintSet, selected []candidate) *polytope {
	n := len(selected)
	p := &polytope{
		lo:      make([]float64, n),
		hi:      make([]float64, n),
		target:  cs.Target(),
		grouped: make([]int, n),
	}

	bySector := make(map[string][]int)
	for i, c := range selected {
		p.lo[i] = cs.MinPosition
		p.hi[i] = c.cap
		p.grouped[i] = -1
		if c.sector != "" {
			bySector[c.sector] = append(bySector[c.sector], i)
		}
	}

	for _, sector := range sortedKeys(bySector) {
		upper := cs.sectorLimit(sector)
		lower := cs.SectorMinimums[sector]
		if math.IsInf(upper, 1) && lower <= 0 {
			continue
		}
		g := len(p.groups)
		p.groups = append(p.groups, sectorGroup{name: sector, members: bySector[sector], lower: lower, upper: upper})
		for _, i := range bySector[sector] {
			p.grouped[i] = g
		}
	}
	return p
}

// bounds returns the smallest and largest total weight the region admits
// when the sum constraint is dropped.
func (p *polytope) bounds() (float64, float64) {
	minSum, maxSum := 0.0, 0.0
	for i := range p.lo {
		if p.grouped[i] < 0 {
			minSum += p.lo[i]
			maxSum += p.hi[i]
		}
	}
	for _, g := range p.groups {
		lo, hi := 0.0, 0.0
		for _, i := range g.members {
			lo += p.lo[i]
			hi += p.hi[i]
		}
		minSum += math.Max(lo, g.lower)
		maxSum += math.Min(hi, g.upper)
	}
	return minSum, maxSum
}

// check reports why the region is empty, if it is
func (p *polytope) check() error {
	for _, g := range p.groups {
		lo, hi := 0.0, 0.0
		for _, i := range g.members {
			lo += p.lo[i]
			hi += p.hi[i]
		}
		if lo > g.upper+BoundTolerance {
			return domain.Infeasible(ConstraintSectorLimits, "%d minimum positions in %s exceed its limit %.4f", len(g.members), g.name, g.upper)
		}
		if hi < g.lower-BoundTolerance {
			return domain.Infeasible(ConstraintSectorMinimums, "positions in %s can hold at most %.4f, minimum is %.4f", g.name, hi, g.lower)
		}
	}

	minSum, maxSum := p.bounds()
	if minSum > p.target+BoundTolerance {
		return domain.Infeasible(ConstraintMinPosition, "minimum positions need %.4f, target is %.4f", minSum, p.target)
	}
	if maxSum < p.target-BoundTolerance {
		constraint := ConstraintMaxPosition
		if len(p.groups) > 0 {
			constraint = ConstraintSectorLimits
		}
		return domain.Infeasible(constraint, "position limits admit %.4f, target is %.4f", maxSum, p.target)
	}
	return nil
}

// project returns the Euclidean projection of y onto the region. The
// multiplier of the sum constraint is found by bisection; for each trial
// value the sector multipliers are found the same way.
func (p *polytope) project(y []float64) []float64 {
	n := len(y)
	w := make([]float64, n)

	nuLo, nuHi := math.Inf(1), math.Inf(-1)
	for i := range y {
		nuLo = math.Min(nuLo, y[i]-p.hi[i])
		nuHi = math.Max(nuHi, y[i]-p.lo[i])
	}
	nuLo--
	nuHi++

	for iter := 0; iter < bisectionIterations; iter++ {
		nu := 0.5 * (nuLo + nuHi)
		if nu <= nuLo || nu >= nuHi {
			break
		}
		if p.fill(y, nu, w) > p.target {
			nuLo = nu
		} else {
			nuHi = nu
		}
	}
	p.fill(y, 0.5*(nuLo+nuHi), w)
	return w
}

// fill writes the group-feasible minimiser for shift nu into w and returns its sum
func (p *polytope) fill(y []float64, nu float64, w []float64) float64 {
	total := 0.0
	for i := range y {
		if p.grouped[i] < 0 {
			w[i] = clamp(y[i]-nu, p.lo[i], p.hi[i])
			total += w[i]
		}
	}
	for _, g := range p.groups {
		total += p.fillGroup(g, y, nu, w)
	}
	return total
}

func (p *polytope) fillGroup(g sectorGroup, y []float64, nu float64, w []float64) float64 {
	sum := func(eta float64) float64 {
		s := 0.0
		for _, i := range g.members {
			w[i] = clamp(y[i]-nu-eta, p.lo[i], p.hi[i])
			s += w[i]
		}
		return s
	}

	s := sum(0)
	var goal, etaLo, etaHi float64
	switch {
	case s > g.upper:
		goal, etaLo, etaHi = g.upper, 0, math.Inf(-1)
		for _, i := range g.members {
			etaHi = math.Max(etaHi, y[i]-nu-p.lo[i])
		}
		etaHi++
	case s < g.lower:
		goal, etaLo, etaHi = g.lower, math.Inf(1), 0
		for _, i := range g.members {
			etaLo = math.Min(etaLo, y[i]-nu-p.hi[i])
		}
		etaLo--
	default:
		return s
	}

	for iter := 0; iter < bisectionIterations; iter++ {
		eta := 0.5 * (etaLo + etaHi)
		if eta <= etaLo || eta >= etaHi {
			break
		}
		if sum(eta) > goal {
			etaLo = eta
		} else {
			etaHi = eta
		}
	}
	return sum(0.5 * (etaLo + etaHi))
}

// penalty returns weight times the squared violation of every side of the
// region at w. When grad is non-nil the penalty's gradient is added to it.
func (p *polytope) penalty(w, grad []float64, weight float64) float64 {
	total := 0.0
	add := func(i int, v float64) {
		if grad != nil {
			grad[i] += weight * v
		}
	}

	excess := sumOf(w) - p.target
	total += excess * excess
	for i, v := range w {
		add(i, 2*excess)
		switch {
		case v < p.lo[i]:
			total += (p.lo[i] - v) * (p.lo[i] - v)
			add(i, -2*(p.lo[i]-v))
		case v > p.hi[i]:
			total += (v - p.hi[i]) * (v - p.hi[i])
			add(i, 2*(v-p.hi[i]))
		}
	}

	for _, g := range p.groups {
		s := 0.0
		for _, i := range g.members {
			s += w[i]
		}
		var dv float64
		switch {
		case s > g.upper:
			dv = s - g.upper
		case s < g.lower:
			dv = s - g.lower
		default:
			continue
		}
		total += dv * dv
		for _, i := range g.members {
			add(i, 2*dv)
		}
	}
	return weight * total
}

// snap moves weights within BoundTolerance of a bound onto it and spreads the
// resulting residual over assets with slack, in index order.
func (p *polytope) snap(w []float64) {
	for i := range w {
		switch {
		case math.Abs(w[i]-p.lo[i]) <= BoundTolerance:
			w[i] = p.lo[i]
		case math.Abs(w[i]-p.hi[i]) <= BoundTolerance:
			w[i] = p.hi[i]
		}
	}

	residual := p.target - sumOf(w)
	if residual == 0 {
		return
	}
	groupSum := make([]float64, len(p.groups))
	for gi, g := range p.groups {
		for _, i := range g.members {
			groupSum[gi] += w[i]
		}
	}

	// Interior assets first, then anything with room
	for pass := 0; pass < 2 && residual != 0; pass++ {
		for i := range w {
			if residual == 0 {
				break
			}
			atBound := w[i] == p.lo[i] || w[i] == p.hi[i]
			if pass == 0 && atBound {
				continue
			}
			var room float64
			if residual > 0 {
				room = p.hi[i] - w[i]
				if g := p.grouped[i]; g >= 0 {
					room = math.Min(room, p.groups[g].upper-groupSum[g])
				}
				room = math.Max(0, math.Min(room, residual))
			} else {
				room = p.lo[i] - w[i]
				if g := p.grouped[i]; g >= 0 {
					room = math.Max(room, p.groups[g].lower-groupSum[g])
				}
				room = math.Min(0, math.Max(room, residual))
			}
			w[i] += room
			residual -= room
			if g := p.grouped[i]; g >= 0 {
				groupSum[g] += room
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sumOf(w []float64) float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}
