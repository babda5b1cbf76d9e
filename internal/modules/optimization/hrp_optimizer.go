package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// hrpNode is one cluster in the single-linkage dendrogram
type hrpNode struct {
	left, right *hrpNode
	leaves      []int
	minLeaf     int
}

// hierarchicalRiskParity allocates a unit budget across the assets of cov by
// recursive bisection of a correlation-distance dendrogram. The result is
// used as the starting point of the mean-variance solve, so that assets
// enter the descent already balanced by risk rather than by count.
func hierarchicalRiskParity(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	weights := make([]float64, n)
	if n == 0 {
		return weights
	}
	for i := range weights {
		weights[i] = 1
	}
	if n == 1 {
		return weights
	}

	dist := correlationDistance(cov)
	order := quasiDiagonalOrder(buildDendrogram(dist))
	bisectAllocate(weights, cov, order)

	total := sumOf(weights)
	if !(total > 0) || math.IsInf(total, 0) {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// correlationDistance maps correlation to d_ij = sqrt(2(1 - ρ_ij))
func correlationDistance(cov *mat.SymDense) [][]float64 {
	n := cov.SymmetricDim()
	dist := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			denom := math.Sqrt(cov.At(i, i) * cov.At(j, j))
			rho := 0.0
			if denom > 0 {
				rho = clamp(cov.At(i, j)/denom, -1, 1)
			}
			if i == j {
				rho = 1
			}
			dist[i][j] = math.Sqrt(2 * (1 - rho))
		}
	}
	return dist
}

// buildDendrogram merges the closest pair of clusters until one remains.
// Ties resolve to the pair with the lowest leaf indices.
func buildDendrogram(dist [][]float64) *hrpNode {
	clusters := make([]*hrpNode, len(dist))
	for i := range dist {
		clusters[i] = &hrpNode{leaves: []int{i}, minLeaf: i}
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := linkDistance(dist, clusters[0], clusters[1])
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := linkDistance(dist, clusters[i], clusters[j])
				if d < bestD || (d == bestD && pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		leaves := make([]int, 0, len(left.leaves)+len(right.leaves))
		leaves = append(leaves, left.leaves...)
		leaves = append(leaves, right.leaves...)
		merged := &hrpNode{left: left, right: right, leaves: leaves, minLeaf: left.minLeaf}

		next := make([]*hrpNode, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters[0]
}

func linkDistance(dist [][]float64, a, b *hrpNode) float64 {
	best := math.Inf(1)
	for _, i := range a.leaves {
		for _, j := range b.leaves {
			best = math.Min(best, dist[i][j])
		}
	}
	return best
}

func pairLess(a1, b1, a2, b2 *hrpNode) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func quasiDiagonalOrder(node *hrpNode) []int {
	if node.left == nil {
		return []int{node.leaves[0]}
	}
	return append(quasiDiagonalOrder(node.left), quasiDiagonalOrder(node.right)...)
}

func bisectAllocate(weights []float64, cov *mat.SymDense, order []int) {
	if len(order) <= 1 {
		return
	}
	left, right := order[:len(order)/2], order[len(order)/2:]
	vLeft, vRight := clusterVariance(cov, left), clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1 - vLeft/(vLeft+vRight)
	}
	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1 - alpha
	}
	bisectAllocate(weights, cov, left)
	bisectAllocate(weights, cov, right)
}

// clusterVariance is the variance of the inverse-variance portfolio over idx
func clusterVariance(cov *mat.SymDense, idx []int) float64 {
	const floor = 1e-12
	inv := make([]float64, len(idx))
	total := 0.0
	for k, i := range idx {
		inv[k] = 1 / math.Max(cov.At(i, i), floor)
		total += inv[k]
	}

	variance := 0.0
	for a, i := range idx {
		for b, j := range idx {
			variance += inv[a] / total * cov.At(i, j) * inv[b] / total
		}
	}
	return math.Max(variance, 0)
}
