package anomaly

import (
	"math"
	"strings"
)

// Raw reason tags attached by the explanation builder. The summarizer later
// canonicalizes these into the fixed display vocabulary.
const (
	tagMissing      = "결측 의심"
	tagZeroPattern  = "지속적 0원 패턴"
	tagZeroAnomaly  = "0원 이상치"
	tagFixedDev     = "고정비 패턴 이탈"
	tagVariableDev  = "변동비 단기 패턴 이탈"
	tagSeasonalDev  = "계절비 패턴 이탈"
	tagMoMJump      = "전월 대비 급변동"
	tagMeanDev      = "연간 평균 대비 이탈"
	tagTrendDev     = "3개월 추세 대비 이탈"
	tagSignDiff     = "상관 계정과 반대 움직임"
	tagLowVariance  = "저변동 계정의 이례적 변동"
	tagModelOutlier = "모델 이상치 탐지"
	tagStatGeneric  = "통계적 기준 이상"
	tagNormal       = "정상"
)

// buildExplanations runs the per-row classification state machine:
// suspected-missing first, then zero handling, then the anomaly branch with
// its severity ladder, normal otherwise. Reasons accumulate as structured
// clauses and are rendered once at the end.
func buildExplanations(t Table, opts Options) {
	for _, g := range t.groups() {
		rows := t[g.start:g.end]
		for i, row := range rows {
			explainRow(row, rows[:i], opts)
		}
	}
	for _, row := range t {
		row.ReasonKor = renderReason(row.Clauses)
	}
}

func explainRow(row *Row, history []*Row, opts Options) {
	row.IssueType = IssueNormal
	row.SeverityRank = 1
	row.Clauses = nil
	row.ReasonTags = nil

	// 0) Suspected missing with a truly absent amount wins outright.
	if row.SuspectedMissing && row.Amount == nil {
		row.IssueType = IssueMissing
		row.SeverityRank = 4
		row.appendTags(tagMissing)
		if row.SuspectedMissing3M {
			row.appendClause(Clause{Kind: ClauseMissing3M})
		}
		if row.SuspectedMissing12M {
			row.appendClause(Clause{Kind: ClauseMissing12M})
		}
		if len(row.Clauses) == 0 {
			row.appendClause(Clause{Kind: ClauseMissingGeneric})
		}
		return
	}

	// 1) Zero handling: a present zero is either part of a long-standing
	// all-zero pattern or an anomaly against non-zero history.
	forceZeroAnomaly := false
	if row.Amount != nil && *row.Amount == 0 {
		h := scanZeroHistory(history)
		counts := Clause{
			PastMonths: h.pastMonths,
			ConsecZero: h.consecZero,
			Zero3:      h.zero3, N3: h.n3,
			Zero12: h.zero12, N12: h.n12,
		}
		if h.pastMonths > 0 && h.allZero {
			row.appendTags(tagZeroPattern)
			counts.Kind = ClauseZeroPattern
			row.appendClause(counts)
		} else {
			forceZeroAnomaly = true
			row.appendTags(tagZeroAnomaly)
			counts.Kind = ClauseZeroAnomaly
			row.appendClause(counts)
		}
	}

	// 2) Anomaly branch.
	flagBase := row.AnomalyFlag
	z, hasZ := deref(row.Zscore12)
	dev3, hasDev := deref(row.Dev3M)
	corrW, hasCorrW := deref(row.CorrWeight)

	highZ := hasZ && math.Abs(z) >= 3.0
	highDev := hasDev && math.Abs(dev3) >= 2.0
	signDiffStrong := row.SignDiffWithPartner && hasCorrW && corrW >= 0.7

	if flagBase || forceZeroAnomaly || highZ || highDev || signDiffStrong {
		row.IssueType = IssueAnomaly
		severity := 3
		if forceZeroAnomaly && severity < 4 {
			severity = 4
		}
		if flagBase {
			severity++
		}
		if hasZ && math.Abs(z) >= 3.5 {
			severity++
		}
		if signDiffStrong && corrW >= 0.9 {
			severity++
		}
		if severity < 2 {
			severity = 2
		}
		if severity > 5 {
			severity = 5
		}
		row.SeverityRank = severity

		appendAnomalyClauses(row, z, hasZ, dev3, hasDev, corrW, signDiffStrong, flagBase, opts)

		if len(row.Clauses) == 0 {
			row.appendTags(tagStatGeneric)
			row.appendClause(Clause{Kind: ClauseStatGeneric})
		}
		return
	}

	// 3) Nothing fired: normal.
	row.appendTags(tagNormal)
	if len(row.Clauses) == 0 {
		row.appendClause(Clause{Kind: ClauseNoIssue})
	}
	row.SeverityRank = 1
}

// appendAnomalyClauses adds every explanatory clause whose condition holds;
// the clauses are not mutually exclusive.
func appendAnomalyClauses(row *Row, z float64, hasZ bool, dev3 float64, hasDev bool, corrW float64, signDiffStrong, flagBase bool, opts Options) {
	// Cost-nature-specific deviation, first matching nature only.
	nature := strings.TrimSpace(row.CostNature)
	if nature != "" {
		switch {
		case strings.Contains(nature, "고정") && hasZ && math.Abs(z) >= 2.0:
			row.appendTags(tagFixedDev)
			row.appendClause(Clause{Kind: ClauseFixedDeviation, Score: z})
		case strings.Contains(nature, "변동") && hasDev && math.Abs(dev3) >= 2.0:
			row.appendTags(tagVariableDev)
			row.appendClause(Clause{Kind: ClauseVariableDeviation, Score: dev3})
		case (strings.Contains(nature, "계절") || strings.Contains(nature, "시즌")) && hasZ && math.Abs(z) >= 2.0:
			row.appendTags(tagSeasonalDev)
			row.appendClause(Clause{Kind: ClauseSeasonalDeviation, Score: z})
		}
	}

	// Month-over-month jump.
	if row.PrevAmount != nil && row.Amount != nil && row.PrevDiffRate != nil &&
		math.Abs(*row.PrevDiffRate) >= opts.MoMJumpPct {
		row.appendTags(tagMoMJump)
		row.appendClause(Clause{Kind: ClauseMoMJump, Pct: *row.PrevDiffRate})
	}

	// Deviation from the 12-month mean.
	if hasZ && math.Abs(z) >= 2.0 && row.Mean12 != nil && row.Amount != nil {
		pct := (*row.Amount - *row.Mean12) / (*row.Mean12 + eps) * 100
		row.appendTags(tagMeanDev)
		row.appendClause(Clause{Kind: ClauseMeanDeviation, BaseAmt: *row.Mean12, Pct: pct})
	}

	// Deviation from the 3-month rolling mean.
	if hasDev && math.Abs(dev3) >= 2.0 && row.RollMean3 != nil && row.Amount != nil {
		pct := (*row.Amount - *row.RollMean3) / (*row.RollMean3 + eps) * 100
		row.appendTags(tagTrendDev)
		row.appendClause(Clause{Kind: ClauseTrendDeviation, BaseAmt: *row.RollMean3, Pct: pct})
	}

	// Sign divergence with the correlated partner account.
	if signDiffStrong && row.CorrPartnerAcc != "" && row.PartnerZscore12 != nil {
		row.appendTags(tagSignDiff)
		row.appendClause(Clause{
			Kind:     ClauseSignDivergence,
			Corr:     corrW,
			Partner:  row.CorrPartnerAcc,
			Score:    z,
			PartnerZ: *row.PartnerZscore12,
		})
	}

	// Historically flat series moving for the first time.
	if cv, ok := deref(row.CV12); ok && cv < 0.1 && hasZ && math.Abs(z) >= 2.0 {
		row.appendTags(tagLowVariance)
		row.appendClause(Clause{Kind: ClauseLowVariance, Score: cv})
	}

	// Model verdict.
	if flagBase {
		row.appendTags(tagModelOutlier)
		row.appendClause(Clause{Kind: ClauseModelOutlier, IsoScore: row.IsoScore, LofScore: row.LofScore})
	}
}

// zeroHistory summarizes a group's prior amounts for the zero-handling
// clauses.
type zeroHistory struct {
	pastMonths int // prior non-null months
	allZero    bool
	consecZero int // trailing consecutive zero months among non-null values
	zero3, n3  int // zero count / non-null count over the last 3 periods
	zero12, n12 int
}

func scanZeroHistory(history []*Row) zeroHistory {
	var h zeroHistory
	h.allZero = true

	var nonNull []float64
	for _, row := range history {
		if row.Amount != nil {
			nonNull = append(nonNull, *row.Amount)
		}
	}
	h.pastMonths = len(nonNull)
	for _, v := range nonNull {
		if v != 0 {
			h.allZero = false
			break
		}
	}
	for i := len(nonNull) - 1; i >= 0; i-- {
		if nonNull[i] != 0 {
			break
		}
		h.consecZero++
	}

	h.zero3, h.n3 = zeroCounts(history, 3)
	h.zero12, h.n12 = zeroCounts(history, 12)
	return h
}

// zeroCounts counts zeros among the non-null amounts of the last n periods.
func zeroCounts(history []*Row, n int) (zeros, nonNull int) {
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	for _, row := range history[start:] {
		if row.Amount == nil {
			continue
		}
		nonNull++
		if *row.Amount == 0 {
			zeros++
		}
	}
	return zeros, nonNull
}
