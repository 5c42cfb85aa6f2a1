package anomaly

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(DefaultOptions(), DefaultRuleConfig(), testLogger())
	require.NoError(t, err)
	return p
}

// wavyAmounts produces a mildly varying series so group statistics never
// degenerate to zero variance.
func wavyAmounts(base float64, n int) []*float64 {
	out := make([]*float64, n)
	for i := range out {
		delta := float64(i%3) * 5
		out[i] = amt(base + delta)
	}
	return out
}

func TestNewPipeline_Validation(t *testing.T) {
	opts := DefaultOptions()
	opts.LookbackShort = 0
	_, err := NewPipeline(opts, DefaultRuleConfig(), testLogger())
	assert.Error(t, err)

	rules := DefaultRuleConfig()
	rules.DefaultParity = 3
	_, err = NewPipeline(DefaultOptions(), rules, testLogger())
	assert.Error(t, err)
}

func TestPipeline_EmptyInput(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Run(context.Background(), nil)
	assert.ErrorContains(t, err, "empty input")
}

func TestPipeline_EndToEnd_SpikeAndMissing(t *testing.T) {
	// Two years of data for one center. Account 6100 spikes in the final
	// month; account 6200 goes silent after a fully populated year.
	spiky := wavyAmounts(1000, 24)
	spiky[23] = amt(15000)
	silent := wavyAmounts(500, 24)
	silent[23] = nil

	table := append(
		buildSeries("CC01", "6100", "소모품비", "변동비", 2023, 1, spiky),
		buildSeries("CC01", "6200", "수선비", "고정비", 2023, 1, silent)...,
	)
	p := newTestPipeline(t)
	got, err := p.Run(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, got, 48)

	var spike, missing *Row
	for _, row := range got {
		if row.AccountCode == "6100" && row.YearMonth == "2024-12" {
			spike = row
		}
		if row.AccountCode == "6200" && row.YearMonth == "2024-12" {
			missing = row
		}
	}
	require.NotNil(t, spike)
	require.NotNil(t, missing)

	assert.Equal(t, IssueAnomaly, spike.IssueType)
	assert.GreaterOrEqual(t, spike.SeverityRank, 3)
	assert.NotEmpty(t, spike.ReasonKor)
	assert.Contains(t, spike.ReasonTags, "전월 대비 급변동")

	assert.Equal(t, IssueMissing, missing.IssueType)
	assert.True(t, missing.SuspectedMissing3M)
	assert.True(t, missing.SuspectedMissing12M)
	assert.Equal(t, 4, missing.SeverityRank)
	assert.Contains(t, missing.ReasonKor, "누락")

	// The quiet months stay quiet.
	normals := 0
	for _, row := range got {
		if row.IssueType == IssueNormal {
			normals++
		}
	}
	assert.Greater(t, normals, 40)
}

func TestPipeline_EndToEnd_BonusRuleOverlay(t *testing.T) {
	// An even-month bonus account alongside an ordinary one. December is
	// present; the overlay should keep quiet odd months normal and add the
	// rule tags everywhere.
	bonus := make([]*float64, 24)
	for i := range bonus {
		if (i+1)%2 == 0 {
			bonus[i] = amt(2000 + float64(i))
		}
	}
	table := append(
		buildSeries("CC01", "5100", "노무비 - 상여금", "", 2023, 1, bonus),
		buildSeries("CC01", "6100", "소모품비", "변동비", 2023, 1, wavyAmounts(1000, 24))...,
	)
	p := newTestPipeline(t)
	got, err := p.Run(context.Background(), table)
	require.NoError(t, err)

	for _, row := range got {
		if row.AccountCode != "5100" {
			assert.NotContains(t, row.ReasonTags, "반복", row.YearMonth)
			continue
		}
		assert.Contains(t, row.ReasonTags, "반복", row.YearMonth)
		if row.Month%2 == 1 {
			// Quiet off-schedule months are explicitly normal.
			assert.Equal(t, IssueNormal, row.IssueType, row.YearMonth)
			assert.False(t, row.AnomalyFlag, row.YearMonth)
			assert.Equal(t, 0, row.SeverityRank, row.YearMonth)
		} else {
			assert.Contains(t, row.ReasonKor, "[규칙반영]", row.YearMonth)
		}
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	build := func() Table {
		spiky := wavyAmounts(1000, 24)
		spiky[23] = amt(9000)
		return append(
			buildSeries("CC01", "6100", "소모품비", "변동비", 2023, 1, spiky),
			buildSeries("CC01", "6200", "수선비", "고정비", 2023, 1, wavyAmounts(700, 24))...,
		)
	}
	p := newTestPipeline(t)

	a, err := p.Run(context.Background(), build())
	require.NoError(t, err)
	b, err := p.Run(context.Background(), build())
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].IssueType, b[i].IssueType, "row %d", i)
		assert.Equal(t, a[i].SeverityRank, b[i].SeverityRank, "row %d", i)
		assert.Equal(t, a[i].AnomalyScore, b[i].AnomalyScore, "row %d", i)
		assert.Equal(t, a[i].ReasonKor, b[i].ReasonKor, "row %d", i)
	}
}

func TestPipeline_SortsInput(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1, wavyAmounts(100, 6))
	// Shuffle deterministically by reversing.
	for i, j := 0, len(table)-1; i < j; i, j = i+1, j-1 {
		table[i], table[j] = table[j], table[i]
	}
	p := newTestPipeline(t)
	got, err := p.Run(context.Background(), table)
	require.NoError(t, err)

	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Period().Before(got[i-1].Period()))
	}
}
