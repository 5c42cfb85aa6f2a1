package anomaly

// annotateMoM fills the display-oriented month-over-month change and the
// lookback flags the summarizer consults for missing rows. The change
// percent is null whenever either endpoint is null or zero; the lookback
// flags are always concrete booleans.
func annotateMoM(t Table, lookbackShort, lookbackLong int) {
	for _, g := range t.groups() {
		rows := t[g.start:g.end]
		for i, row := range rows {
			row.MoMChangePct = nil
			if i > 0 {
				prev, cur := rows[i-1].Amount, row.Amount
				if prev != nil && cur != nil && *prev != 0 && *cur != 0 {
					pct := (*cur - *prev) / abs(*prev) * 100
					row.MoMChangePct = &pct
				}
			}
			row.Lookback3HasValue = bptr(anyValidBefore(rows, i, lookbackShort))
			row.Lookback12HasValue = bptr(anyValidBefore(rows, i, lookbackLong))
		}
	}
}

// anyValidBefore reports whether any of the n periods before index i holds
// a non-null, non-zero amount.
func anyValidBefore(rows []*Row, i, n int) bool {
	start := i - n
	if start < 0 {
		start = 0
	}
	for _, row := range rows[start:i] {
		if row.Amount != nil && *row.Amount != 0 {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
