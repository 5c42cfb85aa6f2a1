package anomaly

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ensembleFeatureDims is the fixed feature set fed to both models.
const ensembleFeatureDims = 9

// scoreEnsemble standardizes the feature matrix, blends Isolation Forest
// and LOF scores half-and-half, and flags the top contamination share of
// the table by per-run quantile. The RNG is seeded per run, so an identical
// table always produces identical flags.
func scoreEnsemble(t Table, cfg EnsembleConfig) {
	n := len(t)
	if n == 0 {
		return
	}

	X := make([][]float64, n)
	for i, row := range t {
		X[i] = ensembleFeatures(row)
	}
	standardize(X)

	if n == 1 {
		t[0].IsoScore = 0
		t[0].LofScore = 0
		t[0].AnomalyScore = 0
		t[0].AnomalyFlag = false
		return
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	forest := fitIsolationForest(X, cfg.Trees, cfg.MaxSamples, rng)

	nof := localOutlierFactors(X, cfg.Neighbors)
	minNof := floats.Min(nof)
	maxNof := floats.Max(nof)

	scores := make([]float64, n)
	for i, row := range t {
		row.IsoScore = forest.score(X[i])
		row.LofScore = -((nof[i] - minNof) / (maxNof - minNof + eps))
		row.AnomalyScore = 0.5*row.IsoScore + 0.5*row.LofScore
		scores[i] = row.AnomalyScore
	}

	threshold := quantile(scores, 1-cfg.Contamination)
	for _, row := range t {
		row.AnomalyFlag = row.AnomalyScore >= threshold
	}
}

// ensembleFeatures assembles the model feature vector for one row, nulls
// filled with zero.
func ensembleFeatures(row *Row) []float64 {
	zeroIfNil := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return []float64{
		row.SignedLog1p,
		zeroIfNil(row.Zscore12),
		zeroIfNil(row.Dev3M),
		zeroIfNil(row.CV12),
		float64(row.CostNatureCode),
		float64(row.IsFixed),
		float64(row.IsVariable),
		float64(row.IsSeasonal),
		zeroIfNil(row.CorrWeight),
	}
}

// standardize scales each column to zero mean and unit variance in place.
// Constant columns are left centered only.
func standardize(X [][]float64) {
	if len(X) == 0 {
		return
	}
	col := make([]float64, len(X))
	for d := 0; d < ensembleFeatureDims; d++ {
		for i := range X {
			col[i] = X[i][d]
		}
		mean := stat.Mean(col, nil)
		std := stat.PopStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		for i := range X {
			X[i][d] = (X[i][d] - mean) / std
		}
	}
}

// quantile returns the linearly interpolated p-quantile of values.
func quantile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := p * float64(len(sorted)-1)
	lo := int(h)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
