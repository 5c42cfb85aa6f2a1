package anomaly

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// buildFeatures computes the per-series rolling statistics and categorical
// indicators every later stage depends on. Groups are independent, so the
// per-group work runs on a bounded errgroup; the nature code map is global
// and is built up front.
func buildFeatures(ctx context.Context, t Table) error {
	codes := natureCodes(t)

	for _, row := range t {
		row.SignedLog1p = signedLog1p(row.Amount)
		row.IsFixed = boolToInt(strings.Contains(row.CostNature, "고정"))
		row.IsVariable = boolToInt(strings.Contains(row.CostNature, "변동"))
		row.IsSeasonal = boolToInt(strings.Contains(row.CostNature, "계절") || strings.Contains(row.CostNature, "시즌"))
		row.CostNatureCode = codes[row.CostNature]
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, sp := range t.groups() {
		rows := t[sp.start:sp.end]
		g.Go(func() error {
			groupFeatures(rows)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// natureCodes assigns a stable positive integer to each distinct non-empty
// cost nature string (sorted, 1-indexed). Empty nature maps to 0.
func natureCodes(t Table) map[string]int {
	distinct := make(map[string]struct{})
	for _, row := range t {
		if row.CostNature != "" {
			distinct[row.CostNature] = struct{}{}
		}
	}
	natures := make([]string, 0, len(distinct))
	for n := range distinct {
		natures = append(natures, n)
	}
	sort.Strings(natures)

	codes := make(map[string]int, len(natures))
	for i, n := range natures {
		codes[n] = i + 1
	}
	return codes
}

// groupFeatures fills the statistical features for one series group. The
// group must already be in chronological order.
func groupFeatures(rows []*Row) {
	present := make([]float64, 0, len(rows))
	for _, row := range rows {
		if row.Amount != nil {
			present = append(present, *row.Amount)
		}
	}

	var mean12, std12 *float64
	if len(present) > 0 {
		mean12 = fptr(stat.Mean(present, nil))
	}
	if len(present) > 1 {
		std12 = fptr(stat.StdDev(present, nil))
	}

	for i, row := range rows {
		row.Mean12 = mean12
		row.Std12 = std12

		// Coefficient of variation is undefined for zero-mean groups.
		if mean12 != nil && std12 != nil && *mean12 != 0 {
			row.CV12 = fptr(*std12 / math.Abs(*mean12))
		}
		if mean12 != nil && std12 != nil {
			row.NormalUpper = fptr(*mean12 + 2**std12)
			row.NormalLower = fptr(*mean12 - 2**std12)
		}

		row.RollMean3, row.RollStd3 = rollingStats(rows, i, 3, 2)

		row.Zscore12 = ratioScore(row.Amount, mean12, std12)
		row.Dev3M = ratioScore(row.Amount, row.RollMean3, row.RollStd3)

		if i > 0 {
			row.PrevAmount = rows[i-1].Amount
		}
		if row.Amount != nil && row.PrevAmount != nil {
			row.PrevDiffRate = fptr((*row.Amount - *row.PrevAmount) / (*row.PrevAmount + eps) * 100)
		}
	}
}

// rollingStats computes the trailing mean/std over the last window periods
// ending at index i (inclusive), counting only non-null amounts. Fewer than
// minPeriods non-null observations yields nulls.
func rollingStats(rows []*Row, i, window, minPeriods int) (*float64, *float64) {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	vals := make([]float64, 0, window)
	for j := start; j <= i; j++ {
		if rows[j].Amount != nil {
			vals = append(vals, *rows[j].Amount)
		}
	}
	if len(vals) < minPeriods {
		return nil, nil
	}
	mean := fptr(stat.Mean(vals, nil))
	var std *float64
	if len(vals) > 1 {
		std = fptr(stat.StdDev(vals, nil))
	}
	return mean, std
}

// ratioScore computes (amount − center) / (scale + eps), null when any
// operand is null or the scale is zero (undefined rather than infinite).
func ratioScore(amount, center, scale *float64) *float64 {
	if amount == nil || center == nil || scale == nil || *scale == 0 {
		return nil
	}
	return fptr((*amount - *center) / (*scale + eps))
}

// signedLog1p computes sign(x)·ln(1+|x|) with a null amount treated as 0.
func signedLog1p(amount *float64) float64 {
	if amount == nil || *amount == 0 {
		return 0
	}
	v := *amount
	if v < 0 {
		return -math.Log1p(-v)
	}
	return math.Log1p(v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
