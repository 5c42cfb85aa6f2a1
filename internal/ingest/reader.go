// Package ingest reads long-format cost ledger workbooks into the working
// table the analysis pipeline consumes.
package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"

	"costwatch/internal/anomaly"
	apperrors "costwatch/internal/errors"
)

// Column keys of the long-format contract. Korean and English headers are
// both accepted; cost_nature is optional and defaults to 기타 when the
// column is absent entirely. Empty cells in a present column stay empty.
const (
	colCostCenter  = "cost_center"
	colCCName      = "cc_name"
	colAccountCode = "account_code"
	colAccountName = "account_name"
	colYearMonth   = "year_month"
	colAmount      = "amount"
	colCostNature  = "cost_nature"
)

// headerAliases maps every accepted header spelling to its canonical key.
var headerAliases = map[string]string{
	"코스트센터":       colCostCenter,
	"코스트센터코드":     colCostCenter,
	"cost_center":  colCostCenter,
	"부서명":          colCCName,
	"코스트센터명":      colCCName,
	"cc_name":      colCCName,
	"계정코드":         colAccountCode,
	"account_code": colAccountCode,
	"계정명":          colAccountName,
	"account_name": colAccountName,
	"연월":           colYearMonth,
	"year_month":   colYearMonth,
	"금액":           colAmount,
	"amount":       colAmount,
	"비용성질":         colCostNature,
	"cost_nature":  colCostNature,
}

// requiredColumns must all appear in the header row.
var requiredColumns = []string{
	colCostCenter, colCCName, colAccountCode, colAccountName, colYearMonth, colAmount,
}

var (
	ymKoreanRe   = regexp.MustCompile(`(20\d{2})\s*년\s*([0-9]{1,2})\s*월`)
	ymFallbackRe = regexp.MustCompile(`(20\d{2})\D+([0-9]{1,2})\b`)
)

// Reader parses workbooks into anomaly tables.
type Reader struct {
	logger   *slog.Logger
	validate *validator.Validate
}

// NewReader returns a Reader logging through the given logger.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		logger:   logger,
		validate: validator.New(),
	}
}

// ReadWorkbook parses the workbook at path.
func (r *Reader) ReadWorkbook(path string) (anomaly.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewIngestError("failed to open workbook", err)
	}
	defer f.Close()
	return r.readFile(f)
}

// ReadStream parses a workbook from an in-memory stream, such as an HTTP
// upload body.
func (r *Reader) ReadStream(src io.Reader) (anomaly.Table, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, apperrors.NewIngestError("failed to open workbook", err)
	}
	defer f.Close()
	return r.readFile(f)
}

func (r *Reader) readFile(f *excelize.File) (anomaly.Table, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("missing sheet: workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheet)
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}

	table := make(anomaly.Table, 0, len(rows)-1)
	var dropped, badAmounts int
	for i, raw := range rows[1:] {
		row, skip, err := r.buildRow(columns, raw)
		if skip {
			dropped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		if row.Amount == nil {
			badAmounts++
		}
		table = append(table, row)
	}

	r.logger.Info("workbook parsed",
		slog.String("sheet", sheet),
		slog.Int("rows", len(table)),
		slog.Int("dropped_rows", dropped),
		slog.Int("null_amounts", badAmounts))

	return table, nil
}

// mapHeader resolves each header cell to its canonical column key and
// verifies the required columns are all present.
func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(headerAliases))
	for idx, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		key, ok := headerAliases[name]
		if !ok {
			continue
		}
		if _, seen := columns[key]; !seen {
			columns[key] = idx
		}
	}
	for _, key := range requiredColumns {
		if _, ok := columns[key]; !ok {
			return nil, apperrors.NewParsingError("missing column "+key, nil)
		}
	}
	return columns, nil
}

// buildRow converts one data row. skip is true for rows without a cost
// center, which the contract drops silently.
func (r *Reader) buildRow(columns map[string]int, raw []string) (*anomaly.Row, bool, error) {
	cell := func(key string) string {
		idx, ok := columns[key]
		if !ok || idx >= len(raw) {
			return ""
		}
		return strings.TrimSpace(raw[idx])
	}

	costCenter := cell(colCostCenter)
	if costCenter == "" {
		return nil, true, nil
	}

	ym, year, month, err := NormalizeYearMonth(cell(colYearMonth))
	if err != nil {
		return nil, false, err
	}

	nature := cell(colCostNature)
	if _, hasNature := columns[colCostNature]; !hasNature {
		nature = "기타"
	}

	row := &anomaly.Row{
		CostCenter:  costCenter,
		CCName:      cell(colCCName),
		AccountCode: cell(colAccountCode),
		AccountName: cell(colAccountName),
		YearMonth:   ym,
		Year:        year,
		Month:       month,
		Amount:      parseAmount(cell(colAmount)),
		CostNature:  nature,
	}
	if err := r.validate.Struct(row); err != nil {
		return nil, false, fmt.Errorf("invalid row: %w", err)
	}
	return row, false, nil
}

// NormalizeYearMonth turns a period label such as "2024년 12월", "2024-12"
// or "2024.3" into the canonical YYYY-MM form.
func NormalizeYearMonth(label string) (ym string, year, month int, err error) {
	s := strings.TrimSpace(label)
	if s == "" {
		return "", 0, 0, fmt.Errorf("empty year_month")
	}

	m := ymKoreanRe.FindStringSubmatch(s)
	if m == nil {
		m = ymFallbackRe.FindStringSubmatch(s)
	}
	if m == nil {
		return "", 0, 0, fmt.Errorf("unrecognized year_month %q", label)
	}

	year, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return "", 0, 0, fmt.Errorf("month out of range in %q", label)
	}
	return fmt.Sprintf("%04d-%02d", year, month), year, month, nil
}

// parseAmount coerces a cell to a number. Unparseable values become null
// rather than failing the whole ingest.
func parseAmount(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
