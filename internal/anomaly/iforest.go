package anomaly

import (
	"math"
	"math/rand"
)

// isolationForest is an ensemble of randomized isolation trees. Points that
// isolate in few splits get scores near 1, deeply buried points near 0. The
// forest is built single-threaded from a seeded source so that identical
// input yields identical scores.
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf only: number of samples that ended here
}

// fitIsolationForest builds trees isolation trees over X, each on a random
// subsample of at most maxSamples rows.
func fitIsolationForest(X [][]float64, trees, maxSamples int, rng *rand.Rand) *isolationForest {
	n := len(X)
	sampleSize := maxSamples
	if sampleSize > n {
		sampleSize = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	f := &isolationForest{sampleSize: sampleSize}
	sample := make([][]float64, sampleSize)
	for i := 0; i < trees; i++ {
		perm := rng.Perm(n)
		for j := 0; j < sampleSize; j++ {
			sample[j] = X[perm[j]]
		}
		f.trees = append(f.trees, growIsoTree(sample, 0, heightLimit, rng))
	}
	return f
}

func growIsoTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *isoNode {
	if depth >= heightLimit || len(data) <= 1 {
		return &isoNode{feature: -1, size: len(data)}
	}

	// Candidate features are those not constant in this partition.
	dims := len(data[0])
	var candidates []int
	for d := 0; d < dims; d++ {
		lo, hi := featureRange(data, d)
		if hi > lo {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{feature: -1, size: len(data)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	lo, hi := featureRange(data, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, x := range data {
		if x[feature] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    growIsoTree(left, depth+1, heightLimit, rng),
		right:   growIsoTree(right, depth+1, heightLimit, rng),
	}
}

func featureRange(data [][]float64, d int) (lo, hi float64) {
	lo, hi = data[0][d], data[0][d]
	for _, x := range data[1:] {
		if x[d] < lo {
			lo = x[d]
		}
		if x[d] > hi {
			hi = x[d]
		}
	}
	return lo, hi
}

// score returns the anomaly score of x in [0, 1]; higher means the point
// isolates faster and is therefore more anomalous.
func (f *isolationForest) score(x []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.sampleSize))
}

func pathLength(node *isoNode, x []float64, depth float64) float64 {
	if node.feature < 0 {
		return depth + avgPathLength(node.size)
	}
	if x[node.feature] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is the expected path length of an unsuccessful BST search
// among n points, the standard isolation-tree normalizer.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		h := math.Log(float64(n-1)) + 0.5772156649015329
		return 2*h - 2*float64(n-1)/float64(n)
	case n == 2:
		return 1
	default:
		return 0
	}
}
