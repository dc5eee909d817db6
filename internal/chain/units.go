package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals 合约金额的定点精度，必须与已部署合约一致
const Decimals = 18

var (
	// ErrNegativeAmount 金额为负
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrTooPrecise 小数位超过定点精度
	ErrTooPrecise = fmt.Errorf("amount has more than %d decimal places", Decimals)
)

// ToFixedPoint 将十进制金额放大 10^18 转为合约整数表示
// 超出精度的输入直接拒绝，保证读回时数值完全一致
func ToFixedPoint(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	scaled := amount.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrTooPrecise
	}
	return scaled.BigInt(), nil
}

// FromFixedPoint 将合约整数还原为十进制金额
func FromFixedPoint(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}

// FormatUnits 格式化为十进制字符串，去掉多余的尾零但至少保留一位小数
// 例如 250000*10^18 -> "250000.0"，15*10^17 -> "1.5"
func FormatUnits(v *big.Int) string {
	s := FromFixedPoint(v).StringFixed(Decimals)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}
