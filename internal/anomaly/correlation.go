package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// pairCorrelation finds, for every account, its most correlated sibling
// account within the same cost center and flags sign-divergent movement
// between strongly correlated pairs. Cost centers with fewer than two
// distinct accounts get no partner.
func pairCorrelation(t Table, corrThreshold float64) {
	type partner struct {
		acc  string
		coef float64
	}
	partners := make(map[string]partner)

	for _, block := range t.centerBlocks() {
		accounts, series := pivotByAccount(t[block.start:block.end])
		if len(accounts) < 2 {
			continue
		}

		// Pairwise-complete Pearson over the (period × account) pivot.
		corr := make([][]float64, len(accounts))
		for i := range corr {
			corr[i] = make([]float64, len(accounts))
			corr[i][i] = math.NaN()
		}
		for i := 0; i < len(accounts); i++ {
			for j := i + 1; j < len(accounts); j++ {
				c := pairwiseCorrelation(series[accounts[i]], series[accounts[j]])
				corr[i][j] = c
				corr[j][i] = c
			}
		}

		cc := t[block.start].CostCenter
		for i, acc := range accounts {
			bestIdx := -1
			bestAbs := math.Inf(-1)
			for j := range accounts {
				if j == i || math.IsNaN(corr[i][j]) {
					continue
				}
				if abs := math.Abs(corr[i][j]); abs > bestAbs {
					bestAbs = abs
					bestIdx = j
				}
			}
			if bestIdx >= 0 {
				partners[cc+"|"+acc] = partner{acc: accounts[bestIdx], coef: corr[i][bestIdx]}
			}
		}
	}

	// Attach partners and join the partner's same-period z-score.
	byPeriod := make(map[string]*Row, len(t))
	for _, row := range t {
		byPeriod[row.Key()+"|"+row.YearMonth] = row
	}
	for _, row := range t {
		p, ok := partners[row.Key()]
		if !ok {
			continue
		}
		row.CorrPartnerAcc = p.acc
		row.CorrPartnerCoef = fptr(p.coef)
		row.CorrWeight = fptr(math.Abs(p.coef))
		if pr, ok := byPeriod[row.CostCenter+"|"+p.acc+"|"+row.YearMonth]; ok {
			row.PartnerZscore12 = pr.Zscore12
		}
		row.SignDiffWithPartner = signDiverges(row, corrThreshold)
	}
}

// signDiverges applies the divergence rule: both z-scores material, the
// pair strongly correlated, and the movements pointing in opposite
// directions. Any null operand makes the flag false.
func signDiverges(row *Row, corrThreshold float64) bool {
	w, okW := deref(row.CorrWeight)
	z, okZ := deref(row.Zscore12)
	pz, okP := deref(row.PartnerZscore12)
	if !okW || !okZ || !okP {
		return false
	}
	return w >= corrThreshold &&
		math.Abs(z) >= 1.5 &&
		math.Abs(pz) >= 1.5 &&
		sign(z) != sign(pz)
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// centerBlocks returns the contiguous cost-center index ranges of a sorted
// table.
func (t Table) centerBlocks() []span {
	var spans []span
	for i := 0; i < len(t); {
		j := i + 1
		for j < len(t) && t[j].CostCenter == t[i].CostCenter {
			j++
		}
		spans = append(spans, span{start: i, end: j})
		i = j
	}
	return spans
}

// pivotByAccount builds per-account period→amount series for one cost
// center block. Accounts come back sorted, which fixes the tie-break order
// for best-partner selection.
func pivotByAccount(rows []*Row) ([]string, map[string]map[string]float64) {
	series := make(map[string]map[string]float64)
	var accounts []string
	for _, row := range rows {
		m, ok := series[row.AccountCode]
		if !ok {
			m = make(map[string]float64)
			series[row.AccountCode] = m
			accounts = append(accounts, row.AccountCode)
		}
		if row.Amount != nil {
			m[row.YearMonth] = *row.Amount
		}
	}
	// Rows are sorted by account within a center block, so accounts is
	// already in ascending order.
	return accounts, series
}

// pairwiseCorrelation computes Pearson correlation over the periods where
// both series have a value. Returns NaN when fewer than two complete pairs
// exist or either side is constant.
func pairwiseCorrelation(a, b map[string]float64) float64 {
	var xs, ys []float64
	for ym, av := range a {
		if bv, ok := b[ym]; ok {
			xs = append(xs, av)
			ys = append(ys, bv)
		}
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.Correlation(xs, ys, nil)
}
