package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound_HalfUp(t *testing.T) {
	cases := map[string]string{
		"315.470804": "315.47",
		"0.005":      "0.01",
		"2.675":      "2.68",
		"10":         "10",
		"0.004":      "0",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "Round(%s) = %s, want %s", in, got, want)
	}
}

func TestPercentConversions(t *testing.T) {
	assert.True(t, FromPercent(decimal.NewFromInt(5)).Equal(decimal.RequireFromString("0.05")))
	assert.True(t, ToPercent(decimal.RequireFromString("0.25")).Equal(decimal.NewFromInt(25)))
}

func TestNonNegativeAndSum(t *testing.T) {
	assert.True(t, NonNegative(decimal.NewFromInt(-3)).IsZero())
	assert.True(t, NonNegative(decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
	assert.True(t, Sum().IsZero())
	assert.True(t, Sum(decimal.NewFromInt(1), Cent, Cent).Equal(decimal.RequireFromString("1.02")))
}
