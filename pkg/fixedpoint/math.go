// 文件: pkg/fixedpoint/math.go
// 定点数运算 (1e18 精度)
//
// 【核心约定】
// 所有比率、价格、费率都是放大 1e18 的整数
// 乘法: a * b / UNIT
// 除法: a * UNIT / b
// 除法一律向零截断 (不是四舍五入)，必须和链上结果逐位一致

package fixedpoint

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// =============================================================================
// 常量
// =============================================================================

const (
	// Decimals 精度位数
	Decimals = 18

	// SecondsPerDay 资金费率按天计
	SecondsPerDay = 86400
)

// Unit 1.0 (1e18)
var Unit = sdkmath.NewIntWithDecimal(1, Decimals)

var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

// =============================================================================
// 基础运算
// =============================================================================

// Zero 返回 0
func Zero() sdkmath.Int {
	return sdkmath.ZeroInt()
}

// Units n * 1e18
func Units(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(Unit)
}

// MulDecimal a * b / UNIT
func MulDecimal(a, b sdkmath.Int) sdkmath.Int {
	return a.Mul(b).Quo(Unit)
}

// DivDecimal a * UNIT / b
//
// b 为 0 时 panic，调用方需自行保证；不确定时用 SafeDivDecimal
func DivDecimal(a, b sdkmath.Int) sdkmath.Int {
	return a.Mul(Unit).Quo(b)
}

// SafeDivDecimal 带错误返回的 DivDecimal
func SafeDivDecimal(a, b sdkmath.Int) (sdkmath.Int, error) {
	if b.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	return DivDecimal(a, b), nil
}

// Rem 截断除法的余数，符号跟随被除数
//
// 注意: sdkmath.Int.Mod 是欧几里得取模 (结果非负)，这里不能用
func Rem(a, b sdkmath.Int) sdkmath.Int {
	return a.Sub(a.Quo(b).Mul(b))
}

// Clamp 限制值在 [lo, hi] 范围内
func Clamp(x, lo, hi sdkmath.Int) sdkmath.Int {
	if x.LT(lo) {
		return lo
	}
	if x.GT(hi) {
		return hi
	}
	return x
}

func Min(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

func Max(a, b sdkmath.Int) sdkmath.Int {
	if a.GT(b) {
		return a
	}
	return b
}

// OrZero nil 值视为 0 (sdkmath.Int 的零值不可直接运算)
func OrZero(x sdkmath.Int) sdkmath.Int {
	if x.IsNil() {
		return sdkmath.ZeroInt()
	}
	return x
}
