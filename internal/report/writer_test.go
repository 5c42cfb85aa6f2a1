package report

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"costwatch/internal/anomaly"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func amt(v float64) *float64 { return &v }

func sampleTable() anomaly.Table {
	return anomaly.Table{
		{
			CostCenter: "CC100", CCName: "생산1팀", AccountCode: "51100", AccountName: "급여",
			YearMonth: "2025-01", Year: 2025, Month: 1, Amount: amt(1000),
			IssueType: anomaly.IssueNormal, ReasonKor: "특이사항이 없습니다.",
		},
		{
			CostCenter: "CC100", CCName: "생산1팀", AccountCode: "52100", AccountName: "소모품비",
			YearMonth: "2025-01", Year: 2025, Month: 1, Amount: amt(9000),
			IssueType: anomaly.IssueAnomaly, SeverityRank: 3, ReasonKor: "급증했습니다.",
		},
		{
			CostCenter: "CC200", CCName: "생산2팀", AccountCode: "51100", AccountName: "급여",
			YearMonth: "2025-01", Year: 2025, Month: 1, Amount: nil,
			IssueType: anomaly.IssueMissing, SeverityRank: 4, SuspectedMissing: true,
			ReasonKor: "결측이 의심됩니다.",
		},
		{
			CostCenter: "CC200", CCName: "생산2팀", AccountCode: "51100", AccountName: "급여",
			YearMonth: "2024-12", Year: 2024, Month: 12, Amount: amt(800),
			IssueType: anomaly.IssueNormal,
		},
	}
}

func TestSave_SheetLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, NewWriter(testLogger()).Save(sampleTable(), "", path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t,
		[]string{SheetSummary, SheetIssues, SheetByCenter, SheetByAccount},
		f.GetSheetList())

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "cost_center", rows[0][0])
	// Sorted by period first, so the 2024-12 row leads.
	assert.Equal(t, "2024-12", rows[1][2])
}

func TestSave_IssueSheetSortedBySeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, NewWriter(testLogger()).Save(sampleTable(), "", path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetIssues)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// Missing row (severity 4) before the anomaly row (severity 3).
	assert.Equal(t, "CC200", rows[1][0])
	assert.Equal(t, anomaly.IssueMissing, rows[1][9])
	assert.Equal(t, "CC100", rows[2][0])
}

func TestSave_TargetPeriodFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, NewWriter(testLogger()).Save(sampleTable(), "2025-01", path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, row := range rows[1:] {
		assert.Equal(t, "2025-01", row[2])
	}
}

func TestCenterAggregates(t *testing.T) {
	aggs := centerAggregates(sampleTable())
	require.Len(t, aggs, 2)

	// CC100: 1 issue of 2 rows. CC200: 1 issue of 2 rows. Ratio tie breaks
	// on cost center.
	assert.Equal(t, "CC100", aggs[0].CostCenter)
	assert.Equal(t, 2, aggs[0].TotalRows)
	assert.Equal(t, 1, aggs[0].IssueRows)
	assert.InDelta(t, 0.5, aggs[0].ratio(), 1e-12)
	assert.Equal(t, "CC200", aggs[1].CostCenter)
}

func TestAccountAggregates(t *testing.T) {
	aggs := accountAggregates(sampleTable())
	require.Len(t, aggs, 3)

	// CC100/52100 is fully anomalous, so it ranks first.
	assert.Equal(t, "52100", aggs[0].AccountCode)
	assert.InDelta(t, 1.0, aggs[0].ratio(), 1e-12)
}

func TestWriteTo_Stream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(testLogger()).WriteTo(sampleTable(), "", &buf))
	assert.Greater(t, buf.Len(), 0)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), SheetIssues)
}
