package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DisplayMissing and friends are the UI-facing issue labels. Missing-like
// rows collapse to 누락, anomalies to 이상; everything else shows its raw
// issue type.
const (
	DisplayMissing = "누락"
	DisplayAnomaly = "이상"
)

// DisplayIssueType maps a classified row to its display label. A null or
// zero current amount reads as 누락 even when the internal classification
// is an anomaly.
func DisplayIssueType(r *Row) string {
	if r.MissingLike() {
		return DisplayMissing
	}
	if r.IssueType == IssueAnomaly {
		return DisplayAnomaly
	}
	return r.IssueType
}

// summaryTagOrder is the canonical display order of summary tags; it also
// breaks magnitude ties when ranking causes.
var summaryTagOrder = []string{
	"결측", "0값", "급증", "급감", "패턴이탈",
	"zscore", "IF", "LOF", "상관이상", "반복", "시즌", "이벤트",
}

// tagSynonyms folds free-form tags into the canonical vocabulary. Lookup
// tries the raw string first, then its lowercase form.
var tagSynonyms = map[string]string{
	"급증": "급증", "상승": "급증", "increase": "급증",
	"급감": "급감", "하락": "급감", "decrease": "급감",
	"결측": "결측", "누락": "결측", "missing": "결측",
	"0값": "0값", "0 값": "0값", "제로": "0값",
	"패턴이탈": "패턴이탈", "패턴 이탈": "패턴이탈",
	"밴드이탈": "패턴이탈", "band": "패턴이탈", "normal band": "패턴이탈",
	"zscore": "zscore", "z-score": "zscore", "z 점수": "zscore",
	"isolationforest": "IF", "isolation forest": "IF", "iforest": "IF",
	"lof": "LOF", "localoutlierfactor": "LOF", "local outlier factor": "LOF",
	"상관": "상관이상", "corr": "상관이상", "correlation": "상관이상",
	"반복": "반복",
	"계절": "시즌", "시즌": "시즌", "이벤트": "이벤트",
}

// clauseTags maps structured clause kinds to the canonical tags they imply,
// replacing keyword scans over the rendered prose.
var clauseTags = map[ClauseKind][]string{
	ClauseMissing3M:         {"결측"},
	ClauseMissing12M:        {"결측"},
	ClauseMissingGeneric:    {"결측"},
	ClauseZeroPattern:       {"0값"},
	ClauseZeroAnomaly:       {"0값"},
	ClauseFixedDeviation:    {"패턴이탈", "zscore"},
	ClauseVariableDeviation: {"패턴이탈"},
	ClauseSeasonalDeviation: {"패턴이탈", "zscore", "시즌"},
	ClauseSignDivergence:    {"상관이상", "zscore"},
	ClauseModelOutlier:      {"패턴이탈", "IF", "LOF"},
	ClauseRuleMissing:       {"결측", "0값"},
	ClauseRuleUnexpected:    {"패턴이탈"},
}

// SummaryTags returns the row's canonical summary tags in display order,
// combining the explicit reason tags with the tags implied by its clauses.
func SummaryTags(r *Row) []string {
	bag := make(map[string]bool)
	for _, t := range r.ReasonTags {
		t = strings.TrimSpace(t)
		canon, ok := tagSynonyms[t]
		if !ok {
			canon, ok = tagSynonyms[strings.ToLower(t)]
		}
		if ok {
			bag[canon] = true
		}
	}
	for _, c := range r.Clauses {
		for _, canon := range clauseTags[c.Kind] {
			bag[canon] = true
		}
	}
	var out []string
	for _, t := range summaryTagOrder {
		if bag[t] {
			out = append(out, t)
		}
	}
	return out
}

// SummarizeReason condenses a row's classification into one short display
// line: missing rows state lookback validity, everything else leads with
// the month-over-month change and a cause list ranked by magnitude.
func SummarizeReason(r *Row) string {
	tags := SummaryTags(r)

	if DisplayIssueType(r) == DisplayMissing {
		return summarizeMissing(r, tags)
	}

	var parts []string
	if r.MoMChangePct != nil {
		v := *r.MoMChangePct
		sign := ""
		if v > 0 {
			sign = "+"
		}
		parts = append(parts, fmt.Sprintf("전월대비 %s%.1f%%", sign, v))
	}

	var show []string
	for _, t := range tags {
		if t != "결측" && t != "0값" {
			show = append(show, t)
		}
	}
	if len(show) > 0 {
		rankCauseTags(show, r)
		parts = append(parts, "원인 "+strings.Join(show, "/"))
	}

	if len(parts) == 0 {
		if short := firstSentence(r.ReasonKor, 40); short != "" {
			parts = append(parts, short)
		}
	}
	return strings.Join(parts, " · ")
}

func summarizeMissing(r *Row, tags []string) string {
	yn := func(v *bool) string {
		switch {
		case v == nil:
			return "확인필요"
		case *v:
			return "있음"
		default:
			return "없음"
		}
	}

	var core string
	switch {
	case r.Lookback3HasValue == nil:
		core = "누락 · 유효값 존재(이전 3개월 중): 확인필요"
	case *r.Lookback3HasValue:
		core = "누락 · 유효값 존재(이전 3개월 중)"
	default:
		core = fmt.Sprintf("누락 · 유효값 존재(이전 3개월 중): 없음 · 유효값 존재(이전 12개월 중): %s",
			yn(r.Lookback12HasValue))
	}

	var causes []string
	for _, t := range tags {
		if t == "결측" || t == "0값" {
			causes = append(causes, t)
		}
	}
	if len(causes) > 0 {
		core += " · 원인:" + strings.Join(causes, "/")
	}
	return core
}

// rankCauseTags orders cause tags by descending signal magnitude, then by
// canonical order. Periodicity tags carry a small floor so they stay
// visible but rank last among equals.
func rankCauseTags(tags []string, r *Row) {
	absOrZero := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return math.Abs(*p)
	}
	score := func(t string) float64 {
		switch t {
		case "급증", "급감":
			return absOrZero(r.MoMChangePct)
		case "zscore":
			return absOrZero(r.Zscore12)
		case "패턴이탈":
			return absOrZero(r.Dev3M)
		case "IF":
			return math.Abs(r.IsoScore)
		case "LOF":
			return math.Abs(r.LofScore)
		case "상관이상":
			if v := absOrZero(r.CorrWeight); v > 0 {
				return v
			}
			return 0.5
		case "반복", "시즌", "이벤트":
			return 0.1
		}
		return 0
	}
	orderIndex := make(map[string]int, len(summaryTagOrder))
	for i, t := range summaryTagOrder {
		orderIndex[t] = i
	}
	sort.SliceStable(tags, func(a, b int) bool {
		sa, sb := score(tags[a]), score(tags[b])
		if sa != sb {
			return sa > sb
		}
		return orderIndex[tags[a]] < orderIndex[tags[b]]
	})
}

// firstSentence trims text to its first sentence, capped at max runes.
func firstSentence(text string, max int) string {
	s := strings.TrimSpace(text)
	if i := strings.IndexAny(s, ".\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > max {
		s = strings.TrimRight(string(runes[:max]), " ") + "…"
	}
	return s
}
