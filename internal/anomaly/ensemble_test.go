package anomaly

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusterWithOutlier builds a tight cluster plus one far-away point at the
// last index.
func clusterWithOutlier(n int) Table {
	rng := rand.New(rand.NewSource(7))
	t := make(Table, 0, n+1)
	for i := 0; i <= n; i++ {
		v := 100 + rng.Float64()
		if i == n {
			v = 100000
		}
		row := &Row{
			CostCenter:  "CC01",
			AccountCode: "6100",
			Amount:      amt(v),
			SignedLog1p: signedLog1p(amt(v)),
			Zscore12:    amt((v - 100) / 10),
		}
		t = append(t, row)
	}
	return t
}

func TestScoreEnsemble_FlagsOutlier(t *testing.T) {
	table := clusterWithOutlier(60)
	scoreEnsemble(table, DefaultEnsembleConfig())

	outlier := table[len(table)-1]
	assert.True(t, outlier.AnomalyFlag, "far point should be flagged")

	flagged := 0
	for _, row := range table {
		assert.GreaterOrEqual(t, row.IsoScore, 0.0)
		assert.LessOrEqual(t, row.IsoScore, 1.0)
		assert.GreaterOrEqual(t, row.LofScore, -1.0-1e-9)
		assert.LessOrEqual(t, row.LofScore, 1e-9)
		if row.AnomalyFlag {
			flagged++
		}
	}
	// The per-run quantile keeps the flag share near the contamination rate.
	assert.LessOrEqual(t, flagged, len(table)/2)

	// The outlier carries the top blended score.
	for _, row := range table[:len(table)-1] {
		assert.LessOrEqual(t, row.AnomalyScore, outlier.AnomalyScore)
	}
}

func TestScoreEnsemble_Deterministic(t *testing.T) {
	a := clusterWithOutlier(40)
	b := clusterWithOutlier(40)
	cfg := DefaultEnsembleConfig()
	scoreEnsemble(a, cfg)
	scoreEnsemble(b, cfg)

	for i := range a {
		require.Equal(t, a[i].IsoScore, b[i].IsoScore, "row %d", i)
		require.Equal(t, a[i].LofScore, b[i].LofScore, "row %d", i)
		require.Equal(t, a[i].AnomalyFlag, b[i].AnomalyFlag, "row %d", i)
	}
}

func TestScoreEnsemble_SingleRow(t *testing.T) {
	table := Table{{CostCenter: "CC01", AccountCode: "6100", Amount: amt(100)}}
	scoreEnsemble(table, DefaultEnsembleConfig())

	assert.Zero(t, table[0].AnomalyScore)
	assert.False(t, table[0].AnomalyFlag)
}

func TestScoreEnsemble_EmptyTable(t *testing.T) {
	assert.NotPanics(t, func() { scoreEnsemble(nil, DefaultEnsembleConfig()) })
}

func TestQuantile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 3.0, quantile(vals, 0.5), 1e-9)
	assert.InDelta(t, 5.0, quantile(vals, 1.0), 1e-9)
	assert.InDelta(t, 1.0, quantile(vals, 0.0), 1e-9)
	assert.InDelta(t, 4.8, quantile(vals, 0.95), 1e-9)
}

func TestAvgPathLength(t *testing.T) {
	assert.Equal(t, 0.0, avgPathLength(1))
	assert.Equal(t, 1.0, avgPathLength(2))
	assert.InDelta(t, 3.7488, avgPathLength(10), 1e-3)
}

func TestLocalOutlierFactors_TinyInputs(t *testing.T) {
	assert.Equal(t, []float64{-1}, localOutlierFactors([][]float64{{1, 2}}, 20))

	// Two points clamp k to one and still produce finite factors.
	nof := localOutlierFactors([][]float64{{0, 0}, {1, 1}}, 20)
	require.Len(t, nof, 2)
	for _, v := range nof {
		assert.Less(t, v, 0.0)
	}
}
