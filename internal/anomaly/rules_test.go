package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpecialRule_Validation(t *testing.T) {
	_, err := NewSpecialRule("bad", "(", ScheduleBimonthly, nil, nil)
	assert.Error(t, err)

	_, err = NewSpecialRule("bad", "x", ScheduleFixedMonths, nil, nil)
	assert.Error(t, err, "fixed schedule requires months")

	_, err = NewSpecialRule("bad", "x", ScheduleFixedMonths, []int{13}, nil)
	assert.Error(t, err, "month out of range")

	_, err = NewSpecialRule("bad", "x", ScheduleBimonthly, []int{2}, nil)
	assert.Error(t, err, "bimonthly takes no month set")
}

func TestDefaultRuleConfig_Matching(t *testing.T) {
	cfg := DefaultRuleConfig()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		account  string
		wantRule string
		wantHit  bool
	}{
		{"노무비 - 상여금", "상여금", true},
		{"노무비-상여", "상여금", true},
		{"복리후생비 - 포상비", "포상비", true},
		{"법인세 비용", "법인세", true},
		{"소모품비", "", false},
	}
	for _, tt := range tests {
		rule, ok := matchRule(cfg.Rules, tt.account)
		assert.Equal(t, tt.wantHit, ok, tt.account)
		if ok {
			assert.Equal(t, tt.wantRule, rule.Name, tt.account)
		}
	}
}

func TestSpecialRule_Describe(t *testing.T) {
	cfg := DefaultRuleConfig()
	assert.Equal(t, "2개월 주기(격월) 발생", cfg.Rules[0].Describe(0))
	assert.Equal(t, "[2, 9, 11]월 발생", cfg.Rules[1].Describe(0))
	assert.Equal(t, "[3, 6, 9, 12]월 발생", cfg.Rules[2].Describe(0))
}

func TestInferParity(t *testing.T) {
	cfg := DefaultRuleConfig()

	t.Run("majority wins", func(t *testing.T) {
		// Occurrences in Feb, Apr, Jun: even months.
		rows := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1,
			[]*float64{nil, amt(100), nil, amt(100), nil, amt(100)})
		assert.Equal(t, 0, inferParity(rows, cfg))
	})

	t.Run("odd schedule", func(t *testing.T) {
		rows := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1,
			[]*float64{amt(100), nil, amt(100), nil, amt(100), nil})
		assert.Equal(t, 1, inferParity(rows, cfg))
	})

	t.Run("no occurrences falls back to default", func(t *testing.T) {
		rows := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1,
			[]*float64{nil, amt(0), nil, amt(0)})
		assert.Equal(t, cfg.DefaultParity, inferParity(rows, cfg))
	})

	t.Run("tie goes to the most recent occurrence", func(t *testing.T) {
		// One odd-month and one even-month occurrence; the later one is odd.
		rows := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1,
			[]*float64{nil, amt(100), amt(100), nil})
		assert.Equal(t, 1, inferParity(rows, cfg))
	})
}

func TestApplySeasonRules_Bimonthly(t *testing.T) {
	// Even-month bonus series over 2024; December present, a quiet January
	// tail, then the three interesting rows.
	amounts := []*float64{
		nil, amt(100), nil, amt(100), nil, amt(100),
		nil, amt(100), nil, amt(100), nil, // Jan..Nov 2024
		nil,      // Dec 2024: expected month, missing-like
		amt(90),  // Jan 2025: off-schedule occurrence
		amt(100), // Feb 2025: expected occurrence
	}
	table := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1, amounts)
	buildExplanations(table, DefaultOptions())
	applySeasonRules(table, DefaultRuleConfig())

	dec, jan, feb := table[11], table[12], table[13]

	// Expected month with no amount escalates to suspected missing.
	assert.Equal(t, IssueMissing, dec.IssueType)
	assert.True(t, dec.AnomalyFlag)
	assert.GreaterOrEqual(t, dec.SeverityRank, 4)
	assert.Contains(t, dec.ReasonTags, "결측")
	assert.Contains(t, dec.ReasonTags, "0값")
	assert.Contains(t, dec.ReasonKor, "[규칙반영] 상여금은(는) 2개월 주기(격월) 발생인데 금액이 0/결측입니다")

	// Occurrence outside the schedule is a pattern break.
	assert.Equal(t, IssueAnomaly, jan.IssueType)
	assert.True(t, jan.AnomalyFlag)
	assert.Contains(t, jan.ReasonTags, "패턴이탈")

	// On-schedule occurrence keeps its verdict and gains the hint clause.
	assert.Equal(t, IssueNormal, feb.IssueType)
	assert.Contains(t, feb.ReasonKor, "[규칙반영] 상여금 발생 월(2개월 주기(격월) 발생)입니다.")

	// Every matched row carries the rule tags.
	for _, row := range table {
		assert.Contains(t, row.ReasonTags, "반복")
		assert.Contains(t, row.ReasonTags, "이벤트")
	}
}

func TestApplySeasonRules_SuppressesOffMonthQuiet(t *testing.T) {
	// A quiet off-schedule month is normal even if the statistical stages
	// thought otherwise.
	table := buildSeries("CC01", "5100", "노무비 - 상여금", "", 2024, 1,
		[]*float64{nil, amt(100), nil, amt(100), nil})
	buildExplanations(table, DefaultOptions())

	may := table[4]
	may.IssueType = IssueAnomaly
	may.AnomalyFlag = true
	may.SeverityRank = 4

	applySeasonRules(table, DefaultRuleConfig())

	assert.Equal(t, IssueNormal, may.IssueType)
	assert.False(t, may.AnomalyFlag)
	assert.Equal(t, 0, may.SeverityRank)
	assert.Contains(t, may.ReasonKor, "해당 월은 비발생이 정상입니다")
}

func TestApplySeasonRules_FixedMonths(t *testing.T) {
	// 포상비 occurs in Feb, Sep, Nov. A March occurrence breaks the pattern
	// and a missing September escalates.
	amounts := make([]*float64, 12)
	amounts[1] = amt(500)  // Feb: expected
	amounts[2] = amt(300)  // Mar: unexpected occurrence
	amounts[10] = amt(500) // Nov: expected
	table := buildSeries("CC01", "5200", "복리후생비 - 포상비", "", 2024, 1, amounts)
	buildExplanations(table, DefaultOptions())
	applySeasonRules(table, DefaultRuleConfig())

	feb, mar, sep := table[1], table[2], table[8]

	assert.Equal(t, IssueNormal, feb.IssueType)
	assert.Contains(t, feb.ReasonKor, "[규칙반영] 포상비 발생 월([2, 9, 11]월 발생)입니다.")

	assert.Equal(t, IssueAnomaly, mar.IssueType)
	assert.Contains(t, mar.ReasonTags, "패턴이탈")

	assert.Equal(t, IssueMissing, sep.IssueType)
	assert.GreaterOrEqual(t, sep.SeverityRank, 4)

	for _, row := range table {
		assert.Contains(t, row.ReasonTags, "시즌")
		assert.Contains(t, row.ReasonTags, "이벤트")
	}
}

func TestApplySeasonRules_UnmatchedAccountsUntouched(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(100), amt(110)})
	buildExplanations(table, DefaultOptions())
	before := table[0].ReasonKor

	applySeasonRules(table, DefaultRuleConfig())

	assert.Equal(t, before, table[0].ReasonKor)
	assert.NotContains(t, table[0].ReasonTags, "반복")
}
