package anomaly

import (
	"fmt"
	"sort"
	"time"
)

// Issue classifications attached to every row by the explanation builder.
// The Korean labels are part of the wire contract consumed by the frontend
// and the report writer, so they are kept verbatim.
const (
	IssueNormal  = "정상"
	IssueMissing = "결측 의심"
	IssueAnomaly = "이상치 의심"
)

// eps guards ratio computations against zero denominators.
const eps = 1e-6

// Row is one (cost_center, account_code, year_month) observation together
// with every derived attribute the pipeline attaches. Nullable numerics are
// pointers; nil means "no value", which is distinct from 0.0 everywhere the
// rules care about the difference.
type Row struct {
	CostCenter  string   `json:"cost_center" validate:"required"`
	CCName      string   `json:"cc_name"`
	AccountCode string   `json:"account_code" validate:"required"`
	AccountName string   `json:"account_name"`
	YearMonth   string   `json:"year_month" validate:"required"`
	Year        int      `json:"year" validate:"required"`
	Month       int      `json:"month" validate:"min=1,max=12"`
	Amount      *float64 `json:"amount"`
	CostNature  string   `json:"cost_nature"`

	// Missing-value detector output.
	SuspectedMissing3M  bool `json:"suspected_missing_3m"`
	SuspectedMissing12M bool `json:"suspected_missing_12m"`
	SuspectedMissing    bool `json:"suspected_missing"`

	// Feature builder output.
	SignedLog1p    float64  `json:"amount_signed_log1p"`
	Mean12         *float64 `json:"mean_12"`
	Std12          *float64 `json:"std_12"`
	CV12           *float64 `json:"cv_12"`
	NormalUpper    *float64 `json:"normal_upper"`
	NormalLower    *float64 `json:"normal_lower"`
	RollMean3      *float64 `json:"roll_mean_3"`
	RollStd3       *float64 `json:"roll_std_3"`
	Zscore12       *float64 `json:"zscore_12"`
	Dev3M          *float64 `json:"dev_3m"`
	PrevAmount     *float64 `json:"prev_amount"`
	PrevDiffRate   *float64 `json:"prev_diff_rate"`
	IsFixed        int      `json:"is_fixed"`
	IsVariable     int      `json:"is_variable"`
	IsSeasonal     int      `json:"is_seasonal"`
	CostNatureCode int      `json:"cost_nature_code"`

	// Correlation pairer output.
	CorrPartnerAcc      string   `json:"corr_partner_acc,omitempty"`
	CorrPartnerCoef     *float64 `json:"corr_partner_coef"`
	CorrWeight          *float64 `json:"corr_weight"`
	PartnerZscore12     *float64 `json:"partner_zscore_12"`
	SignDiffWithPartner bool     `json:"sign_diff_with_partner"`

	// Ensemble scorer output.
	IsoScore     float64 `json:"iso_score"`
	LofScore     float64 `json:"lof_score"`
	AnomalyScore float64 `json:"anomaly_score"`
	AnomalyFlag  bool    `json:"anomaly_flag"`

	// Explanation builder / rule overlay output. Clauses hold the
	// structured reason records; ReasonKor is their rendered form.
	IssueType    string   `json:"issue_type"`
	SeverityRank int      `json:"severity_rank"`
	Clauses      []Clause `json:"-"`
	ReasonKor    string   `json:"reason_kor"`
	ReasonTags   []string `json:"reason_tags"`

	// Month-over-month & lookback annotator output.
	MoMChangePct       *float64 `json:"mom_change_pct"`
	Lookback3HasValue  *bool    `json:"lookback3_has_value"`
	Lookback12HasValue *bool    `json:"lookback12_has_value"`
}

// Key identifies the series group a row belongs to.
func (r *Row) Key() string {
	return r.CostCenter + "|" + r.AccountCode
}

// MissingLike reports whether the amount is absent or exactly zero.
func (r *Row) MissingLike() bool {
	return r.Amount == nil || *r.Amount == 0
}

// HasAmount reports whether the amount is present (zero counts as present).
func (r *Row) HasAmount() bool {
	return r.Amount != nil
}

// Period returns the row's period as a comparable time value.
func (r *Row) Period() time.Time {
	return time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Table is the full long-format working set. All rolling and lookback
// computations assume the table has been sorted with Sort first.
type Table []*Row

// Sort orders the table by (cost_center, account_code, year, month), the
// canonical order every stage relies on.
func (t Table) Sort() {
	sort.SliceStable(t, func(i, j int) bool {
		a, b := t[i], t[j]
		if a.CostCenter != b.CostCenter {
			return a.CostCenter < b.CostCenter
		}
		if a.AccountCode != b.AccountCode {
			return a.AccountCode < b.AccountCode
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
}

// span is a half-open [start, end) index range of one series group within a
// sorted table.
type span struct {
	start, end int
}

// groups returns the series-group spans of a sorted table, in table order.
func (t Table) groups() []span {
	var spans []span
	for i := 0; i < len(t); {
		j := i + 1
		for j < len(t) && t[j].CostCenter == t[i].CostCenter && t[j].AccountCode == t[i].AccountCode {
			j++
		}
		spans = append(spans, span{start: i, end: j})
		i = j
	}
	return spans
}

// EnsembleConfig configures the Isolation Forest + LOF ensemble scorer.
type EnsembleConfig struct {
	Trees         int     `yaml:"trees"`
	MaxSamples    int     `yaml:"max_samples"`
	Contamination float64 `yaml:"contamination"`
	Neighbors     int     `yaml:"neighbors"`
	Seed          int64   `yaml:"seed"`
}

// DefaultEnsembleConfig returns the production ensemble parameters.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Trees:         300,
		MaxSamples:    256,
		Contamination: 0.05,
		Neighbors:     20,
		Seed:          42,
	}
}

// Validate checks the ensemble configuration.
func (c EnsembleConfig) Validate() error {
	if c.Trees <= 0 {
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	}
	if c.MaxSamples <= 1 {
		return fmt.Errorf("max_samples must be greater than 1, got %d", c.MaxSamples)
	}
	if c.Contamination <= 0 || c.Contamination >= 0.5 {
		return fmt.Errorf("contamination must be in (0, 0.5), got %g", c.Contamination)
	}
	if c.Neighbors <= 0 {
		return fmt.Errorf("neighbors must be positive, got %d", c.Neighbors)
	}
	return nil
}

// Options holds the pipeline tunables. Zero value is not usable; start from
// DefaultOptions.
type Options struct {
	// LookbackShort and LookbackLong are the missing-detector horizons in
	// periods (months).
	LookbackShort int `yaml:"lookback_short"`
	LookbackLong  int `yaml:"lookback_long"`

	// CorrThreshold is the minimum |Pearson| for a correlated pair to be
	// eligible for sign-divergence flagging.
	CorrThreshold float64 `yaml:"corr_threshold"`

	// MoMJumpPct is the month-over-month percent-change magnitude that
	// counts as a jump in the explanation builder.
	MoMJumpPct float64 `yaml:"mom_jump_pct"`

	Ensemble EnsembleConfig `yaml:"ensemble"`
}

// DefaultOptions returns the production pipeline parameters.
func DefaultOptions() Options {
	return Options{
		LookbackShort: 3,
		LookbackLong:  12,
		CorrThreshold: 0.9,
		MoMJumpPct:    30.0,
		Ensemble:      DefaultEnsembleConfig(),
	}
}

// Validate checks the pipeline options.
func (o Options) Validate() error {
	if o.LookbackShort <= 0 || o.LookbackLong <= 0 {
		return fmt.Errorf("lookback windows must be positive, got short=%d long=%d", o.LookbackShort, o.LookbackLong)
	}
	if o.LookbackShort > o.LookbackLong {
		return fmt.Errorf("lookback_short (%d) must not exceed lookback_long (%d)", o.LookbackShort, o.LookbackLong)
	}
	if o.CorrThreshold <= 0 || o.CorrThreshold > 1 {
		return fmt.Errorf("corr_threshold must be in (0, 1], got %g", o.CorrThreshold)
	}
	if o.MoMJumpPct <= 0 {
		return fmt.Errorf("mom_jump_pct must be positive, got %g", o.MoMJumpPct)
	}
	return o.Ensemble.Validate()
}

// fptr returns a pointer to v. Small helper for the nullable fields.
func fptr(v float64) *float64 { return &v }

// bptr returns a pointer to v.
func bptr(v bool) *bool { return &v }

// deref returns (value, true) when p is non-nil.
func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}
