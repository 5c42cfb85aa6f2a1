package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMissing(t *testing.T) {
	tests := []struct {
		name       string
		amounts    []*float64
		wantIdx    int
		want3M     bool
		want12M    bool
		wantOverall bool
	}{
		{
			name:    "three full prior months flag the short horizon",
			amounts: []*float64{amt(100), amt(110), amt(105), nil},
			wantIdx: 3, want3M: true, want12M: false, wantOverall: true,
		},
		{
			name:    "null inside the short window blocks the flag",
			amounts: []*float64{amt(100), nil, amt(105), nil},
			wantIdx: 3, want3M: false, want12M: false, wantOverall: false,
		},
		{
			name:    "too little history is not evidence",
			amounts: []*float64{amt(100), amt(110), nil},
			wantIdx: 2, want3M: false, want12M: false, wantOverall: false,
		},
		{
			name:    "zero amounts count as present",
			amounts: []*float64{amt(0), amt(0), amt(0), nil},
			wantIdx: 3, want3M: true, want12M: false, wantOverall: true,
		},
		{
			name:    "twelve full prior months flag both horizons",
			amounts: append(repeat(50, 12), nil),
			wantIdx: 12, want3M: true, want12M: true, wantOverall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1, tt.amounts)
			detectMissing(table, 3, 12)

			row := table[tt.wantIdx]
			assert.Equal(t, tt.want3M, row.SuspectedMissing3M)
			assert.Equal(t, tt.want12M, row.SuspectedMissing12M)
			assert.Equal(t, tt.wantOverall, row.SuspectedMissing)
		})
	}
}

func TestDetectMissing_PresentRowsUntouched(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(100), amt(110), amt(105), amt(120)})
	detectMissing(table, 3, 12)

	for _, row := range table {
		assert.False(t, row.SuspectedMissing, "row %s", row.YearMonth)
	}
}

func TestDetectMissing_GroupsAreIndependent(t *testing.T) {
	a := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(100), amt(110), amt(105)})
	b := buildSeries("CC01", "6200", "수선비", "변동비", 2024, 1,
		[]*float64{nil, amt(50), amt(55)})
	table := append(a, b...)
	table.Sort()
	detectMissing(table, 3, 12)

	// The second group's leading null must not see the first group's
	// history.
	assert.False(t, table[3].SuspectedMissing)
}
