package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Pipeline orchestrates the monthly cost-center analysis: missing
// detection, feature engineering, pair correlation, the model ensemble,
// explanation building, display annotation, and the rule overlay.
type Pipeline struct {
	opts   Options
	rules  RuleConfig
	logger *slog.Logger
}

// NewPipeline creates a pipeline with the given options and rule set.
func NewPipeline(opts Options, rules RuleConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}
	return &Pipeline{opts: opts, rules: rules, logger: logger}, nil
}

// Run classifies every row of the table in place and returns it sorted by
// (cost center, account, period). The table must not be mutated by the
// caller while Run is in flight.
func (p *Pipeline) Run(ctx context.Context, t Table) (Table, error) {
	start := time.Now()
	if len(t) == 0 {
		return nil, fmt.Errorf("empty input table")
	}

	p.logger.InfoContext(ctx, "starting cost-center analysis",
		"rows", len(t),
		"lookback_short", p.opts.LookbackShort,
		"lookback_long", p.opts.LookbackLong,
	)

	t.Sort()

	detectMissing(t, p.opts.LookbackShort, p.opts.LookbackLong)
	if err := buildFeatures(ctx, t); err != nil {
		p.logger.ErrorContext(ctx, "feature engineering failed", "error", err)
		return nil, fmt.Errorf("build features: %w", err)
	}
	pairCorrelation(t, p.opts.CorrThreshold)
	scoreEnsemble(t, p.opts.Ensemble)
	buildExplanations(t, p.opts)
	annotateMoM(t, p.opts.LookbackShort, p.opts.LookbackLong)
	applySeasonRules(t, p.rules)

	missing, anomalies := 0, 0
	for _, row := range t {
		switch row.IssueType {
		case IssueMissing:
			missing++
		case IssueAnomaly:
			anomalies++
		}
	}
	p.logger.InfoContext(ctx, "cost-center analysis complete",
		"rows", len(t),
		"missing", missing,
		"anomalies", anomalies,
		"duration", time.Since(start),
	)
	return t, nil
}
