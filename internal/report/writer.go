// Package report renders analysis results into the four-sheet Excel report
// consumed by the accounting reviewers.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/xuri/excelize/v2"

	"costwatch/internal/anomaly"
)

// Sheet names are part of the report contract.
const (
	SheetSummary   = "요약"
	SheetIssues    = "이상_결측_행만"
	SheetByCenter  = "센터별_이슈집계"
	SheetByAccount = "계정별_이슈집계"
)

var summaryHeader = []interface{}{
	"cost_center", "cc_name",
	"year_month", "year", "month",
	"account_code", "account_name", "cost_nature",
	"amount",
	"issue_type", "severity_rank",
	"anomaly_score", "iso_score", "lof_score",
	"zscore_12", "dev_3m", "cv_12",
	"prev_amount", "prev_diff_rate",
	"corr_partner_acc", "corr_partner_coef",
	"sign_diff_with_partner",
	"suspected_missing",
	"reason_kor",
}

// Writer builds anomaly reports as xlsx workbooks.
type Writer struct {
	logger *slog.Logger
}

// NewWriter returns a Writer logging through the given logger.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

// Save builds the report for the given table and writes it to path. An empty
// targetYM includes every period.
func (w *Writer) Save(t anomaly.Table, targetYM, path string) error {
	f, err := w.Build(t, targetYM)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	w.logger.Info("report saved",
		slog.String("path", path),
		slog.String("target_ym", targetYM),
		slog.Int("rows", len(t)))
	return nil
}

// WriteTo streams the built report, for HTTP download responses.
func (w *Writer) WriteTo(t anomaly.Table, targetYM string, dst io.Writer) error {
	f, err := w.Build(t, targetYM)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(dst); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Build assembles the workbook in memory.
func (w *Writer) Build(t anomaly.Table, targetYM string) (*excelize.File, error) {
	rows := filterPeriod(t, targetYM)

	f := excelize.NewFile()
	f.SetSheetName(f.GetSheetName(0), SheetSummary)
	for _, name := range []string{SheetIssues, SheetByCenter, SheetByAccount} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %q: %w", name, err)
		}
	}

	if err := writeSummarySheet(f, SheetSummary, sortedSummary(rows)); err != nil {
		return nil, err
	}
	if err := writeSummarySheet(f, SheetIssues, sortedIssues(rows)); err != nil {
		return nil, err
	}
	if err := writeCenterSheet(f, centerAggregates(rows)); err != nil {
		return nil, err
	}
	if err := writeAccountSheet(f, accountAggregates(rows)); err != nil {
		return nil, err
	}
	return f, nil
}

func filterPeriod(t anomaly.Table, targetYM string) anomaly.Table {
	if targetYM == "" {
		return append(anomaly.Table(nil), t...)
	}
	out := make(anomaly.Table, 0, len(t))
	for _, r := range t {
		if r.YearMonth == targetYM {
			out = append(out, r)
		}
	}
	return out
}

func sortedSummary(rows anomaly.Table) anomaly.Table {
	out := append(anomaly.Table(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.CostCenter != b.CostCenter {
			return a.CostCenter < b.CostCenter
		}
		return a.AccountCode < b.AccountCode
	})
	return out
}

func sortedIssues(rows anomaly.Table) anomaly.Table {
	out := make(anomaly.Table, 0, len(rows))
	for _, r := range rows {
		if r.IssueType != anomaly.IssueNormal {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SeverityRank != b.SeverityRank {
			return a.SeverityRank > b.SeverityRank
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.CostCenter != b.CostCenter {
			return a.CostCenter < b.CostCenter
		}
		return a.AccountCode < b.AccountCode
	})
	return out
}

func writeSummarySheet(f *excelize.File, sheet string, rows anomaly.Table) error {
	if err := writeRow(f, sheet, 1, summaryHeader); err != nil {
		return err
	}
	for i, r := range rows {
		values := []interface{}{
			r.CostCenter, r.CCName,
			r.YearMonth, r.Year, r.Month,
			r.AccountCode, r.AccountName, r.CostNature,
			optFloat(r.Amount),
			r.IssueType, r.SeverityRank,
			r.AnomalyScore, r.IsoScore, r.LofScore,
			optFloat(r.Zscore12), optFloat(r.Dev3M), optFloat(r.CV12),
			optFloat(r.PrevAmount), optFloat(r.PrevDiffRate),
			r.CorrPartnerAcc, optFloat(r.CorrPartnerCoef),
			r.SignDiffWithPartner,
			r.SuspectedMissing,
			r.ReasonKor,
		}
		if err := writeRow(f, sheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

// centerAggregate is one row of the per-center issue rollup.
type centerAggregate struct {
	CostCenter string
	CCName     string
	TotalRows  int
	IssueRows  int
}

func (a centerAggregate) ratio() float64 {
	if a.TotalRows == 0 {
		return 0
	}
	return float64(a.IssueRows) / float64(a.TotalRows)
}

func centerAggregates(rows anomaly.Table) []centerAggregate {
	byKey := make(map[string]*centerAggregate)
	var order []string
	for _, r := range rows {
		key := r.CostCenter + "|" + r.CCName
		agg, ok := byKey[key]
		if !ok {
			agg = &centerAggregate{CostCenter: r.CostCenter, CCName: r.CCName}
			byKey[key] = agg
			order = append(order, key)
		}
		agg.TotalRows++
		if r.IssueType != anomaly.IssueNormal {
			agg.IssueRows++
		}
	}

	out := make([]centerAggregate, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ratio() != out[j].ratio() {
			return out[i].ratio() > out[j].ratio()
		}
		return out[i].CostCenter < out[j].CostCenter
	})
	return out
}

func writeCenterSheet(f *excelize.File, aggs []centerAggregate) error {
	header := []interface{}{"cost_center", "cc_name", "total_rows", "issue_rows", "issue_ratio"}
	if err := writeRow(f, SheetByCenter, 1, header); err != nil {
		return err
	}
	for i, a := range aggs {
		values := []interface{}{a.CostCenter, a.CCName, a.TotalRows, a.IssueRows, a.ratio()}
		if err := writeRow(f, SheetByCenter, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

// accountAggregate is one row of the per-account issue rollup.
type accountAggregate struct {
	CostCenter  string
	CCName      string
	AccountCode string
	AccountName string
	TotalRows   int
	IssueRows   int
}

func (a accountAggregate) ratio() float64 {
	if a.TotalRows == 0 {
		return 0
	}
	return float64(a.IssueRows) / float64(a.TotalRows)
}

func accountAggregates(rows anomaly.Table) []accountAggregate {
	byKey := make(map[string]*accountAggregate)
	var order []string
	for _, r := range rows {
		key := r.CostCenter + "|" + r.CCName + "|" + r.AccountCode + "|" + r.AccountName
		agg, ok := byKey[key]
		if !ok {
			agg = &accountAggregate{
				CostCenter:  r.CostCenter,
				CCName:      r.CCName,
				AccountCode: r.AccountCode,
				AccountName: r.AccountName,
			}
			byKey[key] = agg
			order = append(order, key)
		}
		agg.TotalRows++
		if r.IssueType != anomaly.IssueNormal {
			agg.IssueRows++
		}
	}

	out := make([]accountAggregate, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ratio() != out[j].ratio() {
			return out[i].ratio() > out[j].ratio()
		}
		if out[i].CostCenter != out[j].CostCenter {
			return out[i].CostCenter < out[j].CostCenter
		}
		return out[i].AccountCode < out[j].AccountCode
	})
	return out
}

func writeAccountSheet(f *excelize.File, aggs []accountAggregate) error {
	header := []interface{}{
		"cost_center", "cc_name", "account_code", "account_name",
		"total_rows", "issue_rows", "issue_ratio",
	}
	if err := writeRow(f, SheetByAccount, 1, header); err != nil {
		return err
	}
	for i, a := range aggs {
		values := []interface{}{
			a.CostCenter, a.CCName, a.AccountCode, a.AccountName,
			a.TotalRows, a.IssueRows, a.ratio(),
		}
		if err := writeRow(f, SheetByAccount, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, rowNum, err)
	}
	return nil
}

// optFloat unwraps a nullable value, leaving the cell empty when null.
func optFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
