package anomaly

import (
	"fmt"
	"strconv"
	"strings"
)

// ClauseKind discriminates the structured reason records. Reasons are
// accumulated as clauses and rendered to Korean prose only at the boundary,
// so the summarizer can work on structured data instead of scanning text.
type ClauseKind string

const (
	ClauseMissing3M         ClauseKind = "missing_3m"
	ClauseMissing12M        ClauseKind = "missing_12m"
	ClauseMissingGeneric    ClauseKind = "missing_generic"
	ClauseZeroPattern       ClauseKind = "zero_pattern"
	ClauseZeroAnomaly       ClauseKind = "zero_anomaly"
	ClauseFixedDeviation    ClauseKind = "fixed_deviation"
	ClauseVariableDeviation ClauseKind = "variable_deviation"
	ClauseSeasonalDeviation ClauseKind = "seasonal_deviation"
	ClauseMoMJump           ClauseKind = "mom_jump"
	ClauseMeanDeviation     ClauseKind = "mean_deviation"
	ClauseTrendDeviation    ClauseKind = "trend_deviation"
	ClauseSignDivergence    ClauseKind = "sign_divergence"
	ClauseLowVariance       ClauseKind = "low_variance"
	ClauseModelOutlier      ClauseKind = "model_outlier"
	ClauseStatGeneric       ClauseKind = "stat_generic"
	ClauseNoIssue           ClauseKind = "no_issue"
	ClauseRuleNormal        ClauseKind = "rule_normal"
	ClauseRuleMissing       ClauseKind = "rule_missing"
	ClauseRuleUnexpected    ClauseKind = "rule_unexpected"
	ClauseRuleHint          ClauseKind = "rule_hint"
)

// Clause is one structured reason record. Which fields are meaningful
// depends on Kind; all fields are comparable so identical clauses can be
// deduplicated with ==.
type Clause struct {
	Kind ClauseKind `json:"kind"`

	Score    float64 `json:"score,omitempty"`     // z-score, dev_3m, or cv magnitude
	Pct      float64 `json:"pct,omitempty"`       // percent deviation / change
	BaseAmt  float64 `json:"base_amt,omitempty"`  // comparison base amount (won)
	Corr     float64 `json:"corr,omitempty"`      // correlation coefficient magnitude
	PartnerZ float64 `json:"partner_z,omitempty"` // partner account z-score
	IsoScore float64 `json:"iso_score,omitempty"`
	LofScore float64 `json:"lof_score,omitempty"`
	Partner  string  `json:"partner,omitempty"` // partner account code
	RuleName string  `json:"rule_name,omitempty"`
	RuleDesc string  `json:"rule_desc,omitempty"`

	// Zero-pattern history counts.
	PastMonths int `json:"past_months,omitempty"` // prior non-null months examined
	ConsecZero int `json:"consec_zero,omitempty"` // trailing consecutive zero months
	Zero3      int `json:"zero3,omitempty"`
	N3         int `json:"n3,omitempty"`
	Zero12     int `json:"zero12,omitempty"`
	N12        int `json:"n12,omitempty"`
}

// isRuleClause reports whether the clause came from the season/event rule
// overlay. Rule clauses are appended after the statistical reasons.
func (c Clause) isRuleClause() bool {
	switch c.Kind {
	case ClauseRuleNormal, ClauseRuleMissing, ClauseRuleUnexpected, ClauseRuleHint:
		return true
	}
	return false
}

// Render produces the Korean prose for one clause.
func (c Clause) Render() string {
	switch c.Kind {
	case ClauseMissing3M:
		return "이번 달 금액이 공백이며, 직전 3개월은 모두 값이 존재했습니다. (3개월 기준 누락 의심)"
	case ClauseMissing12M:
		return "이번 달 금액이 공백이며, 직전 12개월은 모두 값이 존재했습니다. (12개월 기준 누락 의심)"
	case ClauseMissingGeneric:
		return "이번 달 금액이 공백인데, 직전 기간에는 값이 계속 존재했습니다. 의도치 않은 누락 입력 가능성이 높습니다."
	case ClauseZeroPattern:
		var b strings.Builder
		b.WriteString("과거에도 지속적으로 0원으로 발생한 계정입니다.")
		fmt.Fprintf(&b, " 과거 %d개월 동안 기록된 월은 모두 0원이었습니다.", c.PastMonths)
		if c.ConsecZero > 0 {
			fmt.Fprintf(&b, " 직전에는 %d개월 연속 0원이 유지되었습니다.", c.ConsecZero)
		}
		if c.N3 > 0 {
			fmt.Fprintf(&b, " 직전 3개월 기준으로는 %d개월 중 %d개월이 0원이었습니다.", c.N3, c.Zero3)
		}
		if c.N12 > 0 {
			fmt.Fprintf(&b, " 직전 12개월 기준으로는 %d개월 중 %d개월이 0원이었습니다.", c.N12, c.Zero12)
		}
		return b.String()
	case ClauseZeroAnomaly:
		var b strings.Builder
		b.WriteString("과거에 금액이 존재했으나 이번 달은 0으로 처리되었습니다.")
		if c.N3 > 0 {
			fmt.Fprintf(&b, " 직전 3개월 동안 %d개월 중 %d개월만 0원이었고, 나머지는 금액이 발생했습니다.", c.N3, c.Zero3)
		}
		if c.N12 > 0 {
			fmt.Fprintf(&b, " 직전 12개월 기준으로는 %d개월 중 %d개월이 0원이었습니다.", c.N12, c.Zero12)
		}
		if c.ConsecZero > 0 {
			fmt.Fprintf(&b, " 이번 달 기준 직전 %d개월은 연속 0원이었습니다.", c.ConsecZero)
		}
		return b.String()
	case ClauseFixedDeviation:
		return fmt.Sprintf("[고정비]로 분류된 계정인데, 연간 평균 대비 금액이 크게 달라졌습니다 (z-score=%.2f).", c.Score)
	case ClauseVariableDeviation:
		return fmt.Sprintf("[변동비] 계정이며, 최근 3개월 평균 대비 금액이 크게 튀었습니다 (dev_3m=%.2f).", c.Score)
	case ClauseSeasonalDeviation:
		return fmt.Sprintf("[계절비] 성격의 계정인데, 계절 패턴 대비 크게 벗어난 수준입니다 (z-score=%.2f).", c.Score)
	case ClauseMoMJump:
		return fmt.Sprintf("전월대비 %+.1f%% 변동했습니다.", c.Pct)
	case ClauseMeanDeviation:
		return fmt.Sprintf("최근 12개월 평균 %s 대비 %+.1f%% 수준으로 %s 나타났습니다.",
			FormatWon(c.BaseAmt), c.Pct, higherLower(c.Pct))
	case ClauseTrendDeviation:
		return fmt.Sprintf("직전 3개월 평균 %s와 비교해 %+.1f%% 수준으로 %s 나타났습니다.",
			FormatWon(c.BaseAmt), c.Pct, higherLower(c.Pct))
	case ClauseSignDivergence:
		return fmt.Sprintf("같은 코스트센터 내에서 상관계수 %.2f로 함께 움직이던 계정(%s)과 이번 달에는 반대 방향으로 움직였습니다 (당월 z-score=%.2f, 상대 계정 z-score=%.2f).",
			c.Corr, c.Partner, c.Score, c.PartnerZ)
	case ClauseLowVariance:
		return fmt.Sprintf("과거에는 월별 변동성이 거의 없는 계정(변동계수 %.3f)인데, 이번 달에 예외적으로 큰 변동이 발생했습니다.", c.Score)
	case ClauseModelOutlier:
		return fmt.Sprintf("비지도 학습 기반 이상치 탐지 모델(IF/LOF 앙상블)이 패턴이 비정상적으로 멀리 떨어져 있다고 판단했습니다 (IF score=%.3f, LOF score=%.3f).", c.IsoScore, c.LofScore)
	case ClauseStatGeneric:
		return "평균, 표준편차, 전월·단기 변동, 상관관계 등 여러 통계 지표 기준으로 이례적인 값으로 판단됩니다."
	case ClauseNoIssue:
		return "통계적 패턴 기준으로 특별한 이상이 감지되지 않았습니다."
	case ClauseRuleNormal:
		return fmt.Sprintf("[규칙반영] %s은(는) %s → 해당 월은 비발생이 정상입니다.", c.RuleName, c.RuleDesc)
	case ClauseRuleMissing:
		return fmt.Sprintf("[규칙반영] %s은(는) %s인데 금액이 0/결측입니다 → 누락 가능성이 큽니다.", c.RuleName, c.RuleDesc)
	case ClauseRuleUnexpected:
		return fmt.Sprintf("[규칙반영] %s은(는) %s인데 비발생 월에 금액이 발생했습니다 → 패턴 이탈 가능성.", c.RuleName, c.RuleDesc)
	case ClauseRuleHint:
		return fmt.Sprintf("[규칙반영] %s 발생 월(%s)입니다.", c.RuleName, c.RuleDesc)
	}
	return ""
}

// renderReason joins a row's clauses into display prose: statistical
// clauses separated by " / ", rule clauses appended after a space.
func renderReason(clauses []Clause) string {
	var stats, rules []string
	for _, c := range clauses {
		text := c.Render()
		if text == "" {
			continue
		}
		if c.isRuleClause() {
			rules = append(rules, text)
		} else {
			stats = append(stats, text)
		}
	}
	out := strings.Join(stats, " / ")
	if len(rules) > 0 {
		tail := strings.Join(rules, " ")
		if out == "" {
			return tail
		}
		return out + " " + tail
	}
	return out
}

// appendClause adds a clause to the row unless an identical clause is
// already present.
func (r *Row) appendClause(c Clause) {
	for _, existing := range r.Clauses {
		if existing == c {
			return
		}
	}
	r.Clauses = append(r.Clauses, c)
}

// appendTags adds tags the row does not carry yet, preserving order.
func (r *Row) appendTags(tags ...string) {
	for _, t := range tags {
		seen := false
		for _, existing := range r.ReasonTags {
			if existing == t {
				seen = true
				break
			}
		}
		if !seen {
			r.ReasonTags = append(r.ReasonTags, t)
		}
	}
}

// higherLower picks the direction word for deviation clauses.
func higherLower(pct float64) string {
	if pct > 0 {
		return "높게"
	}
	return "낮게"
}

// FormatWon renders an amount as integer-rounded won with thousands
// separators, e.g. 1234567.8 → "1,234,568원".
func FormatWon(v float64) string {
	n := int64(v + 0.5)
	if v < 0 {
		n = -int64(-v + 0.5)
	}
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, digit := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(digit)
	}
	b.WriteString("원")
	return b.String()
}
