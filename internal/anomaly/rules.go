package anomaly

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ScheduleKind tells how a special rule decides whether a month is an
// expected occurrence month.
type ScheduleKind string

const (
	// ScheduleBimonthly expects occurrences every other month; the live
	// parity is inferred from each series' recent history.
	ScheduleBimonthly ScheduleKind = "bimonthly"
	// ScheduleFixedMonths expects occurrences only in a fixed month set.
	ScheduleFixedMonths ScheduleKind = "fixed_months"
)

// Canonical tags contributed by rules and the rule overlay.
const (
	tagRecurring    = "반복"
	tagSeason       = "시즌"
	tagEvent        = "이벤트"
	tagRuleMissing  = "결측"
	tagRuleZero     = "0값"
	tagRuleBreak    = "패턴이탈"
)

// SpecialRule is one domain rule keyed on the account name. Rules are
// matched in declaration order and the first match wins for a series.
type SpecialRule struct {
	Name     string
	Schedule ScheduleKind
	Months   map[int]bool // ScheduleFixedMonths only
	Tags     []string

	pattern *regexp.Regexp
}

// NewSpecialRule compiles pattern and validates the schedule.
func NewSpecialRule(name, pattern string, schedule ScheduleKind, months []int, tags []string) (SpecialRule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return SpecialRule{}, fmt.Errorf("rule %s: compiling pattern: %w", name, err)
	}
	r := SpecialRule{Name: name, Schedule: schedule, Tags: tags, pattern: re}
	switch schedule {
	case ScheduleBimonthly:
		if len(months) > 0 {
			return SpecialRule{}, fmt.Errorf("rule %s: bimonthly schedule takes no month set", name)
		}
	case ScheduleFixedMonths:
		if len(months) == 0 {
			return SpecialRule{}, fmt.Errorf("rule %s: fixed-month schedule requires months", name)
		}
		r.Months = make(map[int]bool, len(months))
		for _, m := range months {
			if m < 1 || m > 12 {
				return SpecialRule{}, fmt.Errorf("rule %s: month %d out of range", name, m)
			}
			r.Months[m] = true
		}
	default:
		return SpecialRule{}, fmt.Errorf("rule %s: unknown schedule %q", name, schedule)
	}
	return r, nil
}

// Matches reports whether the rule applies to the account name.
func (r SpecialRule) Matches(accountName string) bool {
	return r.pattern.MatchString(accountName)
}

// Describe renders the schedule for the rule clauses.
func (r SpecialRule) Describe(parity int) string {
	if r.Schedule == ScheduleBimonthly {
		return "2개월 주기(격월) 발생"
	}
	months := make([]int, 0, len(r.Months))
	for m := range r.Months {
		months = append(months, m)
	}
	sort.Ints(months)
	parts := make([]string, len(months))
	for i, m := range months {
		parts[i] = fmt.Sprintf("%d", m)
	}
	return "[" + strings.Join(parts, ", ") + "]월 발생"
}

// expected reports whether month is an occurrence month under the rule,
// using parity for bimonthly schedules.
func (r SpecialRule) expected(month, parity int) bool {
	if r.Schedule == ScheduleBimonthly {
		return month%2 == parity
	}
	return r.Months[month]
}

// RuleConfig carries the rule set and the fallback parity used for
// bimonthly series with no occurrence history. The zero parity expects
// even months.
type RuleConfig struct {
	Rules         []SpecialRule
	DefaultParity int
	ParityWindow  int // months of history consulted when inferring parity
}

// DefaultRuleConfig returns the built-in rule set: bimonthly bonus pay,
// fixed-month reward events, and quarterly corporate tax.
func DefaultRuleConfig() RuleConfig {
	mustRule := func(name, pattern string, schedule ScheduleKind, months []int, tags []string) SpecialRule {
		r, err := NewSpecialRule(name, pattern, schedule, months, tags)
		if err != nil {
			panic(err)
		}
		return r
	}
	return RuleConfig{
		Rules: []SpecialRule{
			mustRule("상여금", `노무비\s*[-–—]\s*상여`, ScheduleBimonthly, nil,
				[]string{tagRecurring, tagEvent}),
			mustRule("포상비", `복리후생비\s*[-–—]\s*포상비`, ScheduleFixedMonths, []int{2, 9, 11},
				[]string{tagSeason, tagEvent}),
			mustRule("법인세", `법인세\s*비용`, ScheduleFixedMonths, []int{3, 6, 9, 12},
				[]string{tagRecurring, tagEvent}),
		},
		DefaultParity: 0,
		ParityWindow:  24,
	}
}

// Validate checks the rule set is usable.
func (c RuleConfig) Validate() error {
	if c.DefaultParity != 0 && c.DefaultParity != 1 {
		return fmt.Errorf("default parity must be 0 or 1, got %d", c.DefaultParity)
	}
	if c.ParityWindow < 1 {
		return fmt.Errorf("parity window must be positive, got %d", c.ParityWindow)
	}
	for _, r := range c.Rules {
		if r.pattern == nil {
			return fmt.Errorf("rule %s: not built with NewSpecialRule", r.Name)
		}
	}
	return nil
}

// applySeasonRules overlays the rule verdicts on top of the statistical
// classification. Rules can both suppress a statistical anomaly (expected
// non-occurrence month) and escalate a quiet row (missing in an occurrence
// month, or an occurrence outside the schedule).
func applySeasonRules(t Table, cfg RuleConfig) {
	for _, g := range t.groups() {
		rows := t[g.start:g.end]
		rule, ok := matchRule(cfg.Rules, rows[0].AccountName)
		if !ok {
			continue
		}

		parity := cfg.DefaultParity
		if rule.Schedule == ScheduleBimonthly {
			parity = inferParity(rows, cfg)
		}
		desc := rule.Describe(parity)

		for _, row := range rows {
			row.appendTags(rule.Tags...)
			expected := rule.expected(row.Month, parity)
			switch {
			case !expected && row.MissingLike():
				row.IssueType = IssueNormal
				row.SeverityRank = 0
				row.AnomalyFlag = false
				row.appendClause(Clause{Kind: ClauseRuleNormal, RuleName: rule.Name, RuleDesc: desc})
			case expected && row.MissingLike():
				row.IssueType = IssueMissing
				row.AnomalyFlag = true
				if row.SeverityRank < 4 {
					row.SeverityRank = 4
				}
				row.appendTags(tagRuleMissing, tagRuleZero)
				row.appendClause(Clause{Kind: ClauseRuleMissing, RuleName: rule.Name, RuleDesc: desc})
			case !expected:
				row.IssueType = IssueAnomaly
				row.AnomalyFlag = true
				if row.SeverityRank < 4 {
					row.SeverityRank = 4
				}
				row.appendTags(tagRuleBreak)
				row.appendClause(Clause{Kind: ClauseRuleUnexpected, RuleName: rule.Name, RuleDesc: desc})
			default:
				row.appendClause(Clause{Kind: ClauseRuleHint, RuleName: rule.Name, RuleDesc: desc})
			}
			row.ReasonKor = renderReason(row.Clauses)
		}
	}
}

func matchRule(rules []SpecialRule, accountName string) (SpecialRule, bool) {
	for _, r := range rules {
		if r.Matches(accountName) {
			return r, true
		}
	}
	return SpecialRule{}, false
}

// inferParity decides which month parity a bimonthly series actually lives
// on, from the occurrence months in the recent window. Majority wins; a tie
// falls to the most recent occurrence; no occurrences fall back to the
// configured default.
func inferParity(rows []*Row, cfg RuleConfig) int {
	start := len(rows) - cfg.ParityWindow
	if start < 0 {
		start = 0
	}

	var counts [2]int
	lastParity := -1
	for _, row := range rows[start:] {
		if row.MissingLike() {
			continue
		}
		p := row.Month % 2
		counts[p]++
		lastParity = p
	}
	switch {
	case counts[0] == 0 && counts[1] == 0:
		return cfg.DefaultParity
	case counts[0] > counts[1]:
		return 0
	case counts[1] > counts[0]:
		return 1
	default:
		return lastParity
	}
}
