package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateMoM_ChangePercent(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(100), amt(150), amt(0), amt(200), nil, amt(300)})
	annotateMoM(table, 3, 12)

	// First row has no previous period.
	assert.Nil(t, table[0].MoMChangePct)

	require.NotNil(t, table[1].MoMChangePct)
	assert.InDelta(t, 50.0, *table[1].MoMChangePct, 1e-9)

	// Zero on either endpoint keeps the percent null.
	assert.Nil(t, table[2].MoMChangePct)
	assert.Nil(t, table[3].MoMChangePct)

	// Null on either endpoint keeps it null too.
	assert.Nil(t, table[4].MoMChangePct)
	assert.Nil(t, table[5].MoMChangePct)
}

func TestAnnotateMoM_NegativeBase(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(-100), amt(-150)})
	annotateMoM(table, 3, 12)

	// The denominator is the absolute previous amount.
	require.NotNil(t, table[1].MoMChangePct)
	assert.InDelta(t, -50.0, *table[1].MoMChangePct, 1e-9)
}

func TestAnnotateMoM_LookbackFlags(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(100), amt(0), nil, nil, nil})
	annotateMoM(table, 3, 12)

	// First row sees no history at all.
	require.NotNil(t, table[0].Lookback3HasValue)
	assert.False(t, *table[0].Lookback3HasValue)

	// The real value in January stays visible for three months.
	assert.True(t, *table[1].Lookback3HasValue)
	assert.True(t, *table[3].Lookback3HasValue)

	// By May it has rolled out of the short window but not the long one.
	assert.False(t, *table[4].Lookback3HasValue)
	assert.True(t, *table[4].Lookback12HasValue)
}

func TestAnnotateMoM_ZeroIsNotAValidValue(t *testing.T) {
	table := buildSeries("CC01", "6100", "소모품비", "변동비", 2024, 1,
		[]*float64{amt(0), amt(0), nil})
	annotateMoM(table, 3, 12)

	assert.False(t, *table[2].Lookback3HasValue)
	assert.False(t, *table[2].Lookback12HasValue)
}
