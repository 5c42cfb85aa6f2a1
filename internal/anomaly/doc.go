// Package anomaly implements the monthly cost-center screening pipeline:
// missing-value detection against fully-present lookback windows, per-series
// statistical features, within-center pair correlation, an Isolation Forest
// plus LOF ensemble, Korean-language explanations built from structured
// reason clauses, and a season/event rule overlay that can both suppress and
// escalate the statistical verdicts.
//
// The pipeline operates on a long-format Table of rows keyed by
// (cost_center, account_code, year_month). Entry point is Pipeline.Run.
package anomaly
