package anomaly

// detectMissing flags rows whose amount is absent even though recent history
// suggests it should exist. Two horizons are checked independently: a row is
// suspect at a horizon only when every one of the preceding horizon periods
// within the same series group carries a non-null amount. Fewer prior
// periods than the window is insufficient evidence and leaves the flag
// false. Zero amounts count as present here; zero handling happens later in
// the explanation builder and the season rule overlay.
func detectMissing(t Table, lookbackShort, lookbackLong int) {
	for _, g := range t.groups() {
		rows := t[g.start:g.end]
		for i, row := range rows {
			if row.Amount != nil {
				continue
			}
			row.SuspectedMissing3M = windowFullyPresent(rows, i, lookbackShort)
			row.SuspectedMissing12M = windowFullyPresent(rows, i, lookbackLong)
			row.SuspectedMissing = row.SuspectedMissing3M || row.SuspectedMissing12M
		}
	}
}

// windowFullyPresent reports whether the n periods immediately before index
// i all carry a non-null amount. Requires the full window to exist.
func windowFullyPresent(rows []*Row, i, n int) bool {
	if i < n {
		return false
	}
	for j := i - n; j < i; j++ {
		if rows[j].Amount == nil {
			return false
		}
	}
	return true
}
