package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"costwatch/internal/anomaly"
	apperrors "costwatch/internal/errors"
	"costwatch/internal/ingest"
	"costwatch/internal/metrics"
)

// Row status values of the consumer contract. A missing suspicion demands
// action, an anomaly suspicion demands review.
const (
	StatusIssue = "issue"
	StatusCheck = "check"
	StatusOK    = "ok"
)

// Summary aggregates one analysis run over the target period.
type Summary struct {
	YearMonth   string  `json:"year_month"`
	TotalRows   int     `json:"total_rows"`
	IssueRows   int     `json:"issue_rows"`
	MissingRows int     `json:"missing_rows"`
	AnomalyRows int     `json:"anomaly_rows"`
	TotalAmount float64 `json:"total_amount"`
	IssueRatio  float64 `json:"issue_ratio"`
}

// CenterAggregate is the per-cost-center rollup of the target period.
type CenterAggregate struct {
	CostCenter  string  `json:"cost_center"`
	CCName      string  `json:"cc_name"`
	TotalRows   int     `json:"total_rows"`
	IssueRows   int     `json:"issue_rows"`
	MissingRows int     `json:"missing_rows"`
	AnomalyRows int     `json:"anomaly_rows"`
	TotalAmount float64 `json:"total_amount"`
	IssueRatio  float64 `json:"issue_ratio"`
}

// Issue is one flagged row in consumer form.
type Issue struct {
	RowKey      string `json:"row_key"`
	YearMonth   string `json:"year_month"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	CostCenter  string `json:"cost_center"`
	CCName      string `json:"cc_name"`
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name"`
	CostNature  string `json:"cost_nature"`

	Amount       *float64 `json:"amount"`
	PrevAmount   *float64 `json:"prev_amount"`
	MoMChangePct *float64 `json:"mom_change_pct"`

	Lookback3HasValue  *bool `json:"lookback3_has_value"`
	Lookback12HasValue *bool `json:"lookback12_has_value"`

	IssueType     string   `json:"issue_type"`
	SeverityRank  int      `json:"severity_rank"`
	Status        string   `json:"status"`
	ReasonKor     string   `json:"reason_kor"`
	ReasonSummary string   `json:"reason_summary"`
	ReasonTags    []string `json:"reason_tags"`

	Zscore12    *float64 `json:"zscore_12"`
	Dev3M       *float64 `json:"dev_3m"`
	IsoScore    float64  `json:"iso_score"`
	LofScore    float64  `json:"lof_score"`
	AnomalyFlag bool     `json:"anomaly_flag"`

	PatternMean  *float64 `json:"patternMean"`
	PatternUpper *float64 `json:"patternUpper"`
	PatternLower *float64 `json:"patternLower"`

	DisplayIssueType string `json:"display_issue_type"`
}

// AnalysisResult is one completed run.
type AnalysisResult struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Cached    bool      `json:"cached"`

	Summary Summary           `json:"summary"`
	Centers []CenterAggregate `json:"centers"`
	Issues  []Issue           `json:"issues"`

	// Table is the full annotated working set, kept for report export.
	Table anomaly.Table `json:"-"`
}

// AnalysisService runs the detection pipeline over uploaded workbooks and
// caches results by content fingerprint.
type AnalysisService struct {
	reader   *ingest.Reader
	pipeline *anomaly.Pipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*AnalysisResult
	runs  map[string]*AnalysisResult
}

// NewAnalysisService creates the service with its collaborators.
func NewAnalysisService(reader *ingest.Reader, pipeline *anomaly.Pipeline, m *metrics.Metrics, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		reader:   reader,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		cache:    make(map[string]*AnalysisResult),
		runs:     make(map[string]*AnalysisResult),
	}
}

// Fingerprint derives the cache key for a workbook payload and target period.
func Fingerprint(content []byte, targetYM string) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]) + "|" + targetYM
}

// AnalyzeWorkbook parses and analyzes an uploaded workbook. Identical content
// for the same target period is answered from the cache.
func (s *AnalysisService) AnalyzeWorkbook(ctx context.Context, content []byte, targetYM string) (*AnalysisResult, error) {
	key := Fingerprint(content, targetYM)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		s.metrics.CacheHits.Inc()
		s.logger.InfoContext(ctx, "analysis served from cache",
			slog.String("run_id", cached.RunID),
			slog.String("target_ym", cached.Summary.YearMonth))
		hit := *cached
		hit.Cached = true
		return &hit, nil
	}
	s.metrics.CacheMisses.Inc()

	table, err := s.reader.ReadStream(bytes.NewReader(content))
	if err != nil {
		s.metrics.ObserveRun("error", 0, 0, nil)
		return nil, err
	}

	result, err := s.AnalyzeTable(ctx, table, targetYM)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = result
	s.mu.Unlock()
	return result, nil
}

// AnalyzeTable runs the pipeline over an already-parsed table, bypassing the
// cache. When targetYM is empty the latest period in the data is used.
func (s *AnalysisService) AnalyzeTable(ctx context.Context, table anomaly.Table, targetYM string) (*AnalysisResult, error) {
	start := time.Now()

	annotated, err := s.pipeline.Run(ctx, table)
	if err != nil {
		s.metrics.ObserveRun("error", time.Since(start).Seconds(), len(table), nil)
		return nil, apperrors.NewAnalysisError("pipeline run failed", err)
	}

	if targetYM == "" {
		targetYM = latestPeriod(annotated)
	}
	month := periodRows(annotated, targetYM)
	if len(month) == 0 {
		s.metrics.ObserveRun("error", time.Since(start).Seconds(), len(table), nil)
		return nil, fmt.Errorf("no rows for period %s", targetYM)
	}

	result := &AnalysisResult{
		RunID:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Summary:   buildSummary(month, targetYM),
		Centers:   buildCenters(month),
		Issues:    buildIssues(month),
		Table:     annotated,
	}

	s.mu.Lock()
	s.runs[result.RunID] = result
	s.mu.Unlock()

	s.metrics.ObserveRun("ok", time.Since(start).Seconds(), len(annotated), map[string]int{
		anomaly.IssueMissing: result.Summary.MissingRows,
		anomaly.IssueAnomaly: result.Summary.AnomalyRows,
	})
	s.logger.InfoContext(ctx, "analysis run complete",
		slog.String("run_id", result.RunID),
		slog.String("target_ym", targetYM),
		slog.Int("rows", len(annotated)),
		slog.Int("issue_rows", result.Summary.IssueRows),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Run returns a previously completed run by ID.
func (s *AnalysisService) Run(runID string) (*AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok
}

// StatusFor maps a classified row to its consumer status.
func StatusFor(r *anomaly.Row) string {
	switch r.IssueType {
	case anomaly.IssueMissing:
		return StatusIssue
	case anomaly.IssueNormal:
		return StatusOK
	default:
		return StatusCheck
	}
}

func latestPeriod(t anomaly.Table) string {
	var latest string
	for _, r := range t {
		if r.YearMonth > latest {
			latest = r.YearMonth
		}
	}
	return latest
}

func periodRows(t anomaly.Table, ym string) anomaly.Table {
	out := make(anomaly.Table, 0, len(t))
	for _, r := range t {
		if r.YearMonth == ym {
			out = append(out, r)
		}
	}
	return out
}

func buildSummary(month anomaly.Table, targetYM string) Summary {
	s := Summary{YearMonth: targetYM, TotalRows: len(month)}
	for _, r := range month {
		switch r.IssueType {
		case anomaly.IssueMissing:
			s.MissingRows++
		case anomaly.IssueAnomaly:
			s.AnomalyRows++
		}
		if StatusFor(r) != StatusOK {
			s.IssueRows++
		}
		if r.Amount != nil {
			s.TotalAmount += *r.Amount
		}
	}
	if s.TotalRows > 0 {
		s.IssueRatio = float64(s.IssueRows) / float64(s.TotalRows)
	}
	return s
}

func buildCenters(month anomaly.Table) []CenterAggregate {
	byKey := make(map[string]*CenterAggregate)
	var order []string
	for _, r := range month {
		key := r.CostCenter + "|" + r.CCName
		agg, ok := byKey[key]
		if !ok {
			agg = &CenterAggregate{CostCenter: r.CostCenter, CCName: r.CCName}
			byKey[key] = agg
			order = append(order, key)
		}
		agg.TotalRows++
		switch r.IssueType {
		case anomaly.IssueMissing:
			agg.MissingRows++
		case anomaly.IssueAnomaly:
			agg.AnomalyRows++
		}
		if StatusFor(r) != StatusOK {
			agg.IssueRows++
		}
		if r.Amount != nil {
			agg.TotalAmount += *r.Amount
		}
	}

	out := make([]CenterAggregate, 0, len(order))
	for _, key := range order {
		agg := byKey[key]
		if agg.TotalRows > 0 {
			agg.IssueRatio = float64(agg.IssueRows) / float64(agg.TotalRows)
		}
		out = append(out, *agg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IssueRows != out[j].IssueRows {
			return out[i].IssueRows > out[j].IssueRows
		}
		return out[i].TotalAmount > out[j].TotalAmount
	})
	return out
}

func buildIssues(month anomaly.Table) []Issue {
	flagged := make(anomaly.Table, 0, len(month))
	for _, r := range month {
		if StatusFor(r) != StatusOK {
			flagged = append(flagged, r)
		}
	}

	statusOrder := map[string]int{StatusIssue: 0, StatusCheck: 1, StatusOK: 2}
	sort.SliceStable(flagged, func(i, j int) bool {
		a, b := flagged[i], flagged[j]
		if oa, ob := statusOrder[StatusFor(a)], statusOrder[StatusFor(b)]; oa != ob {
			return oa < ob
		}
		if a.SeverityRank != b.SeverityRank {
			return a.SeverityRank > b.SeverityRank
		}
		return amountLess(b.Amount, a.Amount)
	})

	issues := make([]Issue, 0, len(flagged))
	for _, r := range flagged {
		issues = append(issues, toIssue(r))
	}
	return issues
}

// amountLess orders nullable amounts ascending with nulls first.
func amountLess(a, b *float64) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return *a < *b
	}
}

func toIssue(r *anomaly.Row) Issue {
	var mean *float64
	if r.NormalUpper != nil && r.NormalLower != nil {
		m := (*r.NormalUpper + *r.NormalLower) / 2
		mean = &m
	}

	return Issue{
		RowKey:      r.Key(),
		YearMonth:   r.YearMonth,
		Year:        r.Year,
		Month:       r.Month,
		CostCenter:  r.CostCenter,
		CCName:      r.CCName,
		AccountCode: r.AccountCode,
		AccountName: r.AccountName,
		CostNature:  r.CostNature,

		Amount:       r.Amount,
		PrevAmount:   r.PrevAmount,
		MoMChangePct: r.MoMChangePct,

		Lookback3HasValue:  r.Lookback3HasValue,
		Lookback12HasValue: r.Lookback12HasValue,

		IssueType:     r.IssueType,
		SeverityRank:  r.SeverityRank,
		Status:        StatusFor(r),
		ReasonKor:     r.ReasonKor,
		ReasonSummary: anomaly.SummarizeReason(r),
		ReasonTags:    r.ReasonTags,

		Zscore12:    r.Zscore12,
		Dev3M:       r.Dev3M,
		IsoScore:    r.IsoScore,
		LofScore:    r.LofScore,
		AnomalyFlag: r.AnomalyFlag,

		PatternMean:  mean,
		PatternUpper: r.NormalUpper,
		PatternLower: r.NormalLower,

		DisplayIssueType: anomaly.DisplayIssueType(r),
	}
}
