// 文件: pkg/fixedpoint/decimal.go
// 定点数 <-> 人类可读小数 (配置文件、日志、监控用)

package fixedpoint

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// FromDecimalString "0.03" -> 3e16
//
// 超过 18 位的小数部分直接截断
func FromDecimalString(s string) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// MustFromDecimalString 解析失败直接 panic (仅用于常量/测试)
func MustFromDecimalString(s string) sdkmath.Int {
	v, err := FromDecimalString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromDecimal decimal -> 1e18 定点数
func FromDecimal(d decimal.Decimal) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(d.Shift(Decimals).BigInt())
}

// ToDecimal 1e18 定点数 -> decimal
func ToDecimal(x sdkmath.Int) decimal.Decimal {
	if x.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.BigInt(), -Decimals)
}

// ToFloat64 近似值，只用于监控指标
func ToFloat64(x sdkmath.Int) float64 {
	return ToDecimal(x).InexactFloat64()
}

// Format 日志格式化，例如 "1.5"
func Format(x sdkmath.Int) string {
	return ToDecimal(x).String()
}
