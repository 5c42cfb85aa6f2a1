package anomaly

import (
	"math"
	"sort"
)

// localOutlierFactors computes the classic k-neighbor Local Outlier Factor
// for every row of X and returns the negative outlier factors (more
// negative = more anomalous). k is clamped to n−1; with fewer than two
// points there is no neighborhood to speak of and all factors are −1
// (perfectly average density).
func localOutlierFactors(X [][]float64, k int) []float64 {
	n := len(X)
	nof := make([]float64, n)
	if n < 2 {
		for i := range nof {
			nof[i] = -1
		}
		return nof
	}
	if k > n-1 {
		k = n - 1
	}

	neighbors := make([][]int, n)
	kDist := make([]float64, n)
	dists := make([][]float64, n)

	for i := 0; i < n; i++ {
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			row[j] = euclidean(X[i], X[j])
		}
		dists[i] = row

		order := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				order = append(order, j)
			}
		}
		sort.Slice(order, func(a, b int) bool {
			da, db := row[order[a]], row[order[b]]
			if da != db {
				return da < db
			}
			return order[a] < order[b]
		})
		neighbors[i] = order[:k]
		kDist[i] = row[order[k-1]]
	}

	// Local reachability density.
	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for _, j := range neighbors[i] {
			reach := dists[i][j]
			if kDist[j] > reach {
				reach = kDist[j]
			}
			sum += reach
		}
		// Duplicate-heavy neighborhoods can have zero reachability.
		lrd[i] = float64(k) / (sum + 1e-10)
	}

	for i := 0; i < n; i++ {
		sum := 0.0
		for _, j := range neighbors[i] {
			sum += lrd[j]
		}
		lof := sum / (float64(k) * lrd[i])
		if math.IsNaN(lof) || math.IsInf(lof, 0) {
			lof = 1
		}
		nof[i] = -lof
	}
	return nof
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
