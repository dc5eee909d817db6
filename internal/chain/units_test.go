package chain_test

import (
	"math/big"
	"testing"

	"github.com/mautops/moneylens/internal/chain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestToFixedPoint 测试十进制金额转定点整数
func TestToFixedPoint(t *testing.T) {
	v, err := chain.ToFixedPoint(decimal.RequireFromString("250000"))
	require.NoError(t, err)
	expected, _ := new(big.Int).SetString("250000000000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(v))

	v, err = chain.ToFixedPoint(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = chain.ToFixedPoint(decimal.RequireFromString("0.000000000000000001"))
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())
}

// TestToFixedPointRejectsInvalid 测试负数与超精度金额被拒绝
func TestToFixedPointRejectsInvalid(t *testing.T) {
	_, err := chain.ToFixedPoint(decimal.RequireFromString("-1"))
	assert.ErrorIs(t, err, chain.ErrNegativeAmount)

	_, err = chain.ToFixedPoint(decimal.RequireFromString("0.0000000000000000001"))
	assert.ErrorIs(t, err, chain.ErrTooPrecise)
}

// TestFormatUnits 测试定点整数格式化
func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"整数金额", "250000000000000000000000", "250000.0"},
		{"一位小数", "1500000000000000000", "1.5"},
		{"最小单位", "1", "0.000000000000000001"},
		{"零", "0", "0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := new(big.Int).SetString(tt.input, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, chain.FormatUnits(v))
		})
	}
}

// TestFixedPointRoundTrip 测试写入与读回数值一致
func TestFixedPointRoundTrip(t *testing.T) {
	for _, s := range []string{"250000", "1.5", "0.1", "123456789.123456789123456789"} {
		in := decimal.RequireFromString(s)
		v, err := chain.ToFixedPoint(in)
		require.NoError(t, err)
		assert.True(t, in.Equal(chain.FromFixedPoint(v)), s)
	}
}
