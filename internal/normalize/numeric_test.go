package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1200", 1200},
		{"€1.250,50", 1250.5},
		{"$1,200.50", 1200.5},
		{"350 000", 350000},
		{"1.250.000", 1250000},
		{"12,5", 12.5},
		{"-3.5", -3.5},
		{"EUR 900", 900},
		{"£ 1,000", 1000},
		{".5", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseNumberRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "NaN", "Inf", "12abc", "1,2,3.4.5", "price on request", "€"} {
		_, err := ParseNumber(in)
		assert.Error(t, err, in)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01 10:30:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00+02:00", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)},
		{"01/03/2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01.03.2024", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, nil)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseDate("last tuesday", nil)
	assert.Error(t, err)
	assert.False(t, LooksLikeDate("12 Main Street"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "cafe elan", Fold("  Café   Ëlan  "))
	assert.Equal(t, "strasse", Fold("Straße"))
	assert.Equal(t, Fold("Ünique Flat"), Fold(Fold("Ünique Flat")))
	assert.Equal(t, "", Fold("   "))
}
