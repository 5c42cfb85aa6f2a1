package anomaly

import "fmt"

// amt is shorthand for a present amount in test fixtures; nil stands for a
// null amount.
func amt(v float64) *float64 { return &v }

// buildSeries creates one chronological series group starting at the given
// year/month, one row per amount.
func buildSeries(cc, acc, accName, nature string, year, month int, amounts []*float64) Table {
	rows := make(Table, 0, len(amounts))
	y, m := year, month
	for _, a := range amounts {
		rows = append(rows, &Row{
			CostCenter:  cc,
			CCName:      "센터 " + cc,
			AccountCode: acc,
			AccountName: accName,
			YearMonth:   fmt.Sprintf("%04d-%02d", y, m),
			Year:        y,
			Month:       m,
			Amount:      a,
			CostNature:  nature,
		})
		m++
		if m > 12 {
			m = 1
			y++
		}
	}
	return rows
}

// repeat builds n copies of the same amount pointer value.
func repeat(v float64, n int) []*float64 {
	out := make([]*float64, n)
	for i := range out {
		out[i] = amt(v)
	}
	return out
}
